// cmd/metamodel/main.go
package main

import (
	"log"
	"os"

	"github.com/javajoker/catalog-metamodel/internal/cli"
	"github.com/javajoker/catalog-metamodel/internal/config"
	"github.com/javajoker/catalog-metamodel/internal/logging"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}
	logging.Setup(cfg.Log)

	app := cli.NewApp(cfg)
	err = cli.Execute(app, os.Args[1:])
	app.Close()
	if err != nil {
		os.Exit(1)
	}
}
