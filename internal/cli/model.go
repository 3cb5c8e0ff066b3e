// internal/cli/model.go
package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/javajoker/catalog-metamodel/internal/errors"
	"github.com/javajoker/catalog-metamodel/internal/services"
)

func newModelCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Create, change or remove composite models",
	}
	cmd.AddCommand(newModelAddCommand(app))
	cmd.AddCommand(newModelSetCommand(app))
	cmd.AddCommand(newModelRemoveCommand(app))
	return cmd
}

func newModelAddCommand(app *App) *cobra.Command {
	var req services.CreateMetaModelRequest

	cmd := &cobra.Command{
		Use:     "add <name>",
		Short:   "Declare a composite model",
		Args:    cobra.ExactArgs(1),
		Example: `  metamodel model add Phone --template "{{.brand}} {{.name}}" --ordering brand,name`,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := app.engine(cmd.Context())
			if err != nil {
				return err
			}
			req.Name = args[0]
			m, err := engine.MetaModels.Create(cmd.Context(), &req)
			if err != nil {
				return err
			}
			successColor.Fprintf(cmd.OutOrStdout(), "✓ Created model %s", m.Name)
			fmt.Fprintf(cmd.OutOrStdout(), " %s\n", mutedColor.Sprint(m.ID))
			return nil
		},
	}

	cmd.Flags().StringVar(&req.UnicodeTemplate, "template", "", "Display string template")
	cmd.Flags().StringVar(&req.OrderingField, "ordering", "", "Comma separated ordering fields")
	return cmd
}

func newModelSetCommand(app *App) *cobra.Command {
	var rename, template, ordering string

	cmd := &cobra.Command{
		Use:   "set <name>",
		Short: "Rename a model or change its template or ordering",
		Long: `Changing the template or the ordering recomputes the display string and
ordering key of every instance of the model.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := app.engine(cmd.Context())
			if err != nil {
				return err
			}
			m, err := engine.MetaModels.GetByName(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			var req services.UpdateMetaModelRequest
			flags := cmd.Flags()
			if flags.Changed("rename") {
				req.Name = &rename
			}
			if flags.Changed("template") {
				req.UnicodeTemplate = &template
			}
			if flags.Changed("ordering") {
				req.OrderingField = &ordering
			}
			if req.Name == nil && req.UnicodeTemplate == nil && req.OrderingField == nil {
				return errors.New("nothing to change: pass --rename, --template or --ordering")
			}

			updated, err := engine.MetaModels.Update(cmd.Context(), m.ID, &req)
			if err != nil {
				return err
			}
			successColor.Fprintf(cmd.OutOrStdout(), "✓ Updated model %s\n", updated.Name)
			return nil
		},
	}

	cmd.Flags().StringVar(&rename, "rename", "", "New model name")
	cmd.Flags().StringVar(&template, "template", "", "Display string template")
	cmd.Flags().StringVar(&ordering, "ordering", "", "Comma separated ordering fields")
	return cmd
}

func newModelRemoveCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Delete a model with its fields and instances",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := app.engine(cmd.Context())
			if err != nil {
				return err
			}
			m, err := engine.MetaModels.GetByName(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := engine.MetaModels.Delete(cmd.Context(), m.ID); err != nil {
				return err
			}
			successColor.Fprintf(cmd.OutOrStdout(), "✓ Removed model %s\n", m.Name)
			return nil
		},
	}
}

func newFieldCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "field",
		Short: "Add or remove model fields",
	}
	cmd.AddCommand(newFieldAddCommand(app))
	cmd.AddCommand(newFieldRemoveCommand(app))
	return cmd
}

type fieldAddOptions struct {
	nullable bool
	multiple bool
	hidden   bool
	ordering int
	helpText string
	def      string
}

func newFieldAddCommand(app *App) *cobra.Command {
	var opts fieldAddOptions

	cmd := &cobra.Command{
		Use:   "add <model> <name> <target>",
		Short: "Add a field pointing at a target model",
		Long: `Add a field to a model. The target is a primitive model such as CharField or
another composite model. A required field added to a model that already
has instances needs --default, which is copied into every instance.`,
		Example: `  metamodel field add Phone ram IntegerField --nullable
  metamodel field add Phone colors Color --nullable --multiple
  metamodel field add Phone sku CharField --default UNKNOWN`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := app.engine(cmd.Context())
			if err != nil {
				return err
			}
			parent, err := engine.MetaModels.GetByName(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			target, err := engine.MetaModels.GetByName(cmd.Context(), args[2])
			if err != nil {
				return err
			}

			req := &services.MetaFieldRequest{
				ParentID: parent.ID,
				ModelID:  target.ID,
				Name:     args[1],
				Nullable: opts.nullable,
				Multiple: opts.multiple,
				Hidden:   opts.hidden,
				Ordering: opts.ordering,
				HelpText: opts.helpText,
			}
			if cmd.Flags().Changed("default") {
				if kind, ok := target.Kind(); ok {
					req.Default, err = kind.Parse(opts.def)
				} else {
					req.Default, err = uuid.Parse(opts.def)
				}
				if err != nil {
					return errors.Wrap(err, "default")
				}
			}

			result, err := engine.MetaFields.Create(cmd.Context(), req)
			if err != nil {
				return err
			}
			successColor.Fprintf(cmd.OutOrStdout(), "✓ Added %s.%s", parent.Name, result.Field.Name)
			if result.Backfilled > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), " (default set on %d instances)", result.Backfilled)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&opts.nullable, "nullable", false, "Allow instances without a value")
	flags.BoolVar(&opts.multiple, "multiple", false, "Hold a list of values")
	flags.BoolVar(&opts.hidden, "hidden", false, "Leave the field out of forms")
	flags.IntVar(&opts.ordering, "position", 0, "Display position among the fields")
	flags.StringVar(&opts.helpText, "help", "", "Help text shown in forms")
	flags.StringVar(&opts.def, "default", "", "Value for existing instances")
	return cmd
}

func newFieldRemoveCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <model> <name>",
		Short: "Remove a field and every value stored in it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := app.engine(cmd.Context())
			if err != nil {
				return err
			}
			parent, err := engine.MetaModels.GetByName(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			field, ok, err := engine.Registry.Field(app.DB.WithContext(cmd.Context()), parent.ID, args[1])
			if err != nil {
				return err
			}
			if !ok {
				return errors.NotFoundf("field %s.%s", parent.Name, args[1])
			}
			if err := engine.MetaFields.Delete(cmd.Context(), field.ID); err != nil {
				return err
			}
			successColor.Fprintf(cmd.OutOrStdout(), "✓ Removed %s.%s\n", parent.Name, field.Name)
			return nil
		},
	}
}
