// Package logging configures logrus for the binaries and bridges GORM's SQL
// logging onto it.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/javajoker/catalog-metamodel/internal/config"
)

// Setup applies level and format from configuration to the standard logrus
// logger and returns it.
func Setup(cfg config.LogConfig) *logrus.Logger {
	logger := logrus.StandardLogger()
	logger.SetOutput(os.Stderr)

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return logger
}
