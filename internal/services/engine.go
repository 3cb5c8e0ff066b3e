// internal/services/engine.go
package services

import (
	"gorm.io/gorm"

	"github.com/javajoker/catalog-metamodel/internal/config"
	"github.com/javajoker/catalog-metamodel/internal/events"
)

// Engine bundles the metamodel services over one database.
type Engine struct {
	Registry   *SchemaRegistry
	Hooks      *Hooks
	Fields     *InstanceFieldService
	Instances  *InstanceService
	MetaModels *MetaModelService
	MetaFields *MetaFieldService
	Documents  *DocumentService
	Forms      *FormService
}

// NewEngine wires the services. Bootstrap must run before instances are
// written; hooks may be registered until then.
func NewEngine(db *gorm.DB, cfg config.EngineConfig, publisher events.Publisher) *Engine {
	registry := NewSchemaRegistry()
	hooks := NewHooks()

	fieldService := NewInstanceFieldService(db, registry, cfg)
	instanceService := NewInstanceService(db, registry, fieldService, hooks, publisher, cfg)

	return &Engine{
		Registry:   registry,
		Hooks:      hooks,
		Fields:     fieldService,
		Instances:  instanceService,
		MetaModels: NewMetaModelService(db, registry, instanceService, cfg),
		MetaFields: NewMetaFieldService(db, registry, fieldService, cfg),
		Documents:  NewDocumentService(db, registry, instanceService, hooks),
		Forms:      NewFormService(db, registry),
	}
}
