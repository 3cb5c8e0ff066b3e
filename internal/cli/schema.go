// internal/cli/schema.go
package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/javajoker/catalog-metamodel/internal/database"
	"github.com/javajoker/catalog-metamodel/internal/errors"
	"github.com/javajoker/catalog-metamodel/internal/models"
)

func newMigrateCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the metamodel tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := app.database()
			if err != nil {
				return err
			}
			if err := database.RunMigrations(db); err != nil {
				return err
			}
			successColor.Fprintln(cmd.OutOrStdout(), "✓ Migrations applied")
			return nil
		},
	}
}

func newBootstrapCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap",
		Short: "Ensure the primitive models exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := app.engine(cmd.Context())
			if err != nil {
				return err
			}
			primitives, err := engine.Registry.PrimitiveModels(app.DB.WithContext(cmd.Context()))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			successColor.Fprintln(out, "✓ Primitive models ready")
			for _, kind := range models.Kinds {
				m := primitives[kind]
				fmt.Fprintf(out, "  %s  %s\n", m.Name, mutedColor.Sprint(m.ID))
			}
			return nil
		},
	}
}

func newSchemaCommand(app *App) *cobra.Command {
	var showPrimitives bool

	cmd := &cobra.Command{
		Use:   "schema [model]",
		Short: "Show models and their fields",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := app.engine(cmd.Context())
			if err != nil {
				return err
			}

			all, err := engine.MetaModels.List(cmd.Context())
			if err != nil {
				return err
			}
			targets := make(map[string]string, len(all))
			for _, m := range all {
				targets[m.ID.String()] = m.Name
			}

			shown := 0
			for i := range all {
				switch {
				case len(args) == 1 && all[i].Name != args[0]:
					continue
				case len(args) == 0 && all[i].IsPrimitive() && !showPrimitives:
					continue
				}
				printModel(cmd.OutOrStdout(), &all[i], targets)
				shown++
			}
			if len(args) == 1 && shown == 0 {
				return errors.NotFoundf("model %s", args[0])
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showPrimitives, "primitives", false, "Include the primitive models")
	return cmd
}

func printModel(out io.Writer, m *models.MetaModel, targets map[string]string) {
	titleColor.Fprintf(out, "%s", m.Name)
	fmt.Fprintf(out, " %s\n", mutedColor.Sprint(m.ID))
	if m.UnicodeTemplate != "" {
		fmt.Fprintf(out, "  template: %s\n", m.UnicodeTemplate)
	}
	if m.OrderingField != "" {
		fmt.Fprintf(out, "  ordering: %s\n", m.OrderingField)
	}
	for _, f := range m.Fields {
		target, ok := targets[f.ModelID.String()]
		if !ok {
			target = f.ModelID.String()
		}
		var flags []string
		if f.IsRequired() {
			flags = append(flags, "required")
		}
		if f.Multiple {
			flags = append(flags, "multiple")
		}
		if f.Hidden {
			flags = append(flags, "hidden")
		}
		line := fmt.Sprintf("  - %s: %s", f.Name, target)
		if len(flags) > 0 {
			line += " " + mutedColor.Sprintf("[%s]", strings.Join(flags, ", "))
		}
		fmt.Fprintln(out, line)
	}
}
