// internal/indexer/reindexer.go
package indexer

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/javajoker/catalog-metamodel/internal/config"
	"github.com/javajoker/catalog-metamodel/internal/errors"
	"github.com/javajoker/catalog-metamodel/internal/services"
	"github.com/javajoker/catalog-metamodel/internal/utils"
)

// ReindexResult summarizes one model rebuild.
type ReindexResult struct {
	Model   string `json:"model"`
	Indexed int    `json:"indexed"`
	Pruned  int    `json:"pruned"`
}

// Reindexer rebuilds the documents of a model page by page. Each instance
// waits for a token from the limiter so a rebuild does not starve the
// database.
type Reindexer struct {
	engine    *services.Engine
	indexer   *Indexer
	store     Store
	limiter   *rate.Limiter
	batchSize int
}

// listings cap a page at this many rows
const maxBatchSize = 100

func NewReindexer(engine *services.Engine, indexer *Indexer, store Store, cfg config.IndexerConfig) *Reindexer {
	if cfg.BatchSize > maxBatchSize {
		cfg.BatchSize = maxBatchSize
	}
	return &Reindexer{
		engine:    engine,
		indexer:   indexer,
		store:     store,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		batchSize: cfg.BatchSize,
	}
}

// Reindex stores a fresh document for every instance of the model and
// removes documents whose instance no longer exists.
func (r *Reindexer) Reindex(ctx context.Context, modelID uuid.UUID) (*ReindexResult, error) {
	model, err := r.engine.MetaModels.Get(ctx, modelID)
	if err != nil {
		return nil, err
	}
	if model.IsPrimitive() {
		return nil, errors.SchemaViolationf("%s is primitive and has no documents", model.Name)
	}

	result := &ReindexResult{Model: model.Name}
	seen := make(map[string]bool)

	params := services.InstanceListParams{
		PaginationParams: utils.PaginationParams{Page: 1, Limit: r.batchSize, Sort: "created_at"},
		ModelID:          modelID,
	}
	for {
		instances, total, err := r.engine.Instances.List(ctx, params)
		if err != nil {
			return result, err
		}
		for i := range instances {
			if err := r.limiter.Wait(ctx); err != nil {
				return result, errors.Wrap(err, "reindex interrupted")
			}
			if err := r.indexer.Index(ctx, model, &instances[i]); err != nil {
				return result, err
			}
			seen[instances[i].ID.String()] = true
			result.Indexed++
		}
		if len(instances) == 0 || int64(result.Indexed) >= total {
			break
		}
		params.Page++
	}

	stored, err := r.store.IDs(ctx, model.Name)
	if err != nil {
		return result, err
	}
	for _, raw := range stored {
		if seen[raw] {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			logrus.WithField("id", raw).Warn("Skipping malformed document id")
			continue
		}
		if err := r.store.Delete(ctx, model.Name, id); err != nil {
			return result, err
		}
		result.Pruned++
	}

	logrus.WithFields(logrus.Fields{
		"model":   model.Name,
		"indexed": result.Indexed,
		"pruned":  result.Pruned,
	}).Info("Reindex finished")
	return result, nil
}

// ReindexAll rebuilds every composite model.
func (r *Reindexer) ReindexAll(ctx context.Context) ([]*ReindexResult, error) {
	all, err := r.engine.MetaModels.List(ctx)
	if err != nil {
		return nil, err
	}
	var results []*ReindexResult
	for i := range all {
		if all[i].IsPrimitive() {
			continue
		}
		result, err := r.Reindex(ctx, all[i].ID)
		if err != nil {
			return results, err
		}
		results = append(results, result)
	}
	return results, nil
}
