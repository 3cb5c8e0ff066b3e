// Package indexer keeps the search document store in step with the
// instance graph. It consumes instance-saved events and can rebuild the
// documents of a whole model.
package indexer

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/javajoker/catalog-metamodel/internal/errors"
	"github.com/javajoker/catalog-metamodel/internal/events"
	"github.com/javajoker/catalog-metamodel/internal/models"
	"github.com/javajoker/catalog-metamodel/internal/services"
)

type Indexer struct {
	engine *services.Engine
	store  Store
}

func New(engine *services.Engine, store Store) *Indexer {
	return &Indexer{
		engine: engine,
		store:  store,
	}
}

// HandleInstanceSaved is an events.Handler. Primitive instances are not
// indexed on their own; an instance deleted before the event arrives has
// its document removed.
func (ix *Indexer) HandleInstanceSaved(ctx context.Context, event events.InstanceSaved) error {
	model, err := ix.engine.MetaModels.Get(ctx, event.ModelID)
	if err != nil {
		return err
	}
	if model.IsPrimitive() {
		return nil
	}

	inst := event.Instance
	if inst == nil {
		inst, err = ix.engine.Instances.Get(ctx, event.InstanceID)
		if errors.IsNotFound(err) {
			logrus.WithField("instance_id", event.InstanceID).Debug("Instance gone, dropping document")
			return ix.store.Delete(ctx, model.Name, event.InstanceID)
		}
		if err != nil {
			return err
		}
	}

	return ix.Index(ctx, model, inst)
}

// Index flattens inst and stores the document.
func (ix *Indexer) Index(ctx context.Context, model *models.MetaModel, inst *models.InstanceModel) error {
	doc, err := ix.engine.Documents.Flatten(ctx, inst)
	if err != nil {
		return errors.Wrapf(err, "flatten %s %s", model.Name, inst.ID)
	}
	if err := ix.store.Put(ctx, model.Name, inst.ID, doc); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"instance_id": inst.ID,
		"model":       model.Name,
		"fields":      len(doc.Fields),
	}).Debug("Indexed instance")
	return nil
}
