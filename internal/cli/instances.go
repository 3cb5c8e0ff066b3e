// internal/cli/instances.go
package cli

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/javajoker/catalog-metamodel/internal/errors"
	"github.com/javajoker/catalog-metamodel/internal/indexer"
	"github.com/javajoker/catalog-metamodel/internal/services"
	"github.com/javajoker/catalog-metamodel/internal/utils"
)

func newListCommand(app *App) *cobra.Command {
	var params utils.PaginationParams

	cmd := &cobra.Command{
		Use:   "list <model>",
		Short: "List the instances of a model in ordering key order",
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

			instances, total, err := engine.Instances.List(cmd.Context(), services.InstanceListParams{
				PaginationParams: params,
				ModelID:          m.ID,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			page := utils.CreatePaginationResult(instances, total, params.Normalize())
			for i := range instances {
				fmt.Fprintf(out, "%s  %s\n", mutedColor.Sprint(instances[i].ID), instances[i].String())
			}
			titleColor.Fprintf(out, "%s: page %d of %d, %d total\n", m.Name, page.Page, page.TotalPages, page.Total)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&params.Page, "page", 1, "Page number")
	flags.IntVar(&params.Limit, "limit", 20, "Instances per page (at most 100)")
	flags.StringVar(&params.Sort, "sort", "ordering", "ordering, unicode, created_at or updated_at")
	flags.StringVar(&params.Order, "order", "asc", "asc or desc")
	return cmd
}

func newDocumentCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "document <instance-id>",
		Short: "Print the search document of an instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return errors.Wrapf(err, "instance id %q", args[0])
			}
			engine, err := app.engine(cmd.Context())
			if err != nil {
				return err
			}
			inst, err := engine.Instances.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			doc, err := engine.Documents.Flatten(cmd.Context(), inst)
			if err != nil {
				return err
			}

			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(doc)
		},
	}
}

func newReindexCommand(app *App) *cobra.Command {
	var modelName string

	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the search documents of one or every model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := app.engine(cmd.Context())
			if err != nil {
				return err
			}
			store, err := app.documentStore(cmd.Context())
			if err != nil {
				return err
			}

			reindexer := indexer.NewReindexer(engine, indexer.New(engine, store), store, app.Config.Indexer)

			var results []*indexer.ReindexResult
			if modelName != "" {
				m, err := engine.MetaModels.GetByName(cmd.Context(), modelName)
				if err != nil {
					return err
				}
				result, err := reindexer.Reindex(cmd.Context(), m.ID)
				if err != nil {
					return err
				}
				results = append(results, result)
			} else if results, err = reindexer.ReindexAll(cmd.Context()); err != nil {
				return err
			}

			for _, r := range results {
				successColor.Fprintf(cmd.OutOrStdout(), "✓ %s", r.Model)
				fmt.Fprintf(cmd.OutOrStdout(), ": %d indexed, %d pruned\n", r.Indexed, r.Pruned)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&modelName, "model", "", "Only rebuild this model")
	return cmd
}
