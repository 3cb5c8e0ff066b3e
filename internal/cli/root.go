// internal/cli/root.go
package cli

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	titleColor   = color.New(color.FgCyan, color.Bold)
	successColor = color.New(color.FgGreen, color.Bold)
	mutedColor   = color.New(color.FgHiBlack)
	errorColor   = color.New(color.FgRed, color.Bold)
)

// NewRootCommand builds the metamodel command tree around app.
func NewRootCommand(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "metamodel",
		Short: "Administer the catalog metamodel",
		Long: `metamodel manages the runtime schema of the catalog: the models, their
fields, the instances stored against them and the search documents derived
from those instances.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newMigrateCommand(app))
	rootCmd.AddCommand(newBootstrapCommand(app))
	rootCmd.AddCommand(newSchemaCommand(app))
	rootCmd.AddCommand(newModelCommand(app))
	rootCmd.AddCommand(newFieldCommand(app))
	rootCmd.AddCommand(newListCommand(app))
	rootCmd.AddCommand(newDocumentCommand(app))
	rootCmd.AddCommand(newReindexCommand(app))

	return rootCmd
}

// Execute runs the command tree and prints a failure on stderr.
func Execute(app *App, args []string) error {
	rootCmd := NewRootCommand(app)
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		errorColor.Fprintf(rootCmd.ErrOrStderr(), "Error: %v\n", err)
		return err
	}
	return nil
}
