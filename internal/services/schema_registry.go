// internal/services/schema_registry.go
package services

import (
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/javajoker/catalog-metamodel/internal/errors"
	"github.com/javajoker/catalog-metamodel/internal/models"
)

// SchemaRegistry caches MetaModels and MetaFields for attribute access.
// It is built once per process and refreshed when a model id misses or after
// Invalidate. Lookups take the *gorm.DB to refresh through, so a caller
// inside a transaction never needs a second connection.
//
// Returned models and fields are copies and may be modified freely.
type SchemaRegistry struct {
	mu            sync.RWMutex
	loaded        bool
	modelsByID    map[uuid.UUID]models.MetaModel
	modelsByName  map[string]uuid.UUID
	fieldsByModel map[uuid.UUID][]models.MetaField
	fieldsByID    map[uuid.UUID]models.MetaField
	primitives    map[models.Kind]uuid.UUID
}

func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{}
}

// Bootstrap creates any missing primitive MetaModel and loads the cache. A
// stored model whose name looks like a primitive kind but is not one of the
// closed set is a configuration error.
func (r *SchemaRegistry) Bootstrap(db *gorm.DB) error {
	var existing []models.MetaModel
	if err := db.Find(&existing).Error; err != nil {
		return errors.Wrap(err, "load meta models")
	}

	present := make(map[string]bool, len(existing))
	for _, m := range existing {
		present[m.Name] = true
		if strings.HasSuffix(m.Name, "Field") {
			if _, err := models.MustKind(m.Name); err != nil {
				return errors.WithHint(err, "rename the model or remove it before starting the engine")
			}
		}
	}

	for _, kind := range models.Kinds {
		if present[string(kind)] {
			continue
		}
		m := models.MetaModel{Name: string(kind)}
		if err := db.Create(&m).Error; err != nil {
			return errors.Wrapf(err, "create primitive model %s", kind)
		}
		logrus.WithField("kind", kind).Info("Primitive meta model created")
	}

	return r.Refresh(db)
}

// Refresh reloads every model and field.
func (r *SchemaRegistry) Refresh(db *gorm.DB) error {
	var metaModels []models.MetaModel
	if err := db.Find(&metaModels).Error; err != nil {
		return errors.Wrap(err, "load meta models")
	}
	var metaFields []models.MetaField
	if err := db.Order("ordering ASC, name ASC").Find(&metaFields).Error; err != nil {
		return errors.Wrap(err, "load meta fields")
	}

	modelsByID := make(map[uuid.UUID]models.MetaModel, len(metaModels))
	modelsByName := make(map[string]uuid.UUID, len(metaModels))
	primitives := make(map[models.Kind]uuid.UUID, len(models.Kinds))
	for _, m := range metaModels {
		modelsByID[m.ID] = m
		modelsByName[m.Name] = m.ID
		if kind, ok := m.Kind(); ok {
			primitives[kind] = m.ID
		}
	}

	fieldsByModel := make(map[uuid.UUID][]models.MetaField)
	fieldsByID := make(map[uuid.UUID]models.MetaField, len(metaFields))
	for _, f := range metaFields {
		fieldsByModel[f.ParentID] = append(fieldsByModel[f.ParentID], f)
		fieldsByID[f.ID] = f
	}
	for _, fields := range fieldsByModel {
		sort.SliceStable(fields, func(i, j int) bool {
			if fields[i].Ordering != fields[j].Ordering {
				return fields[i].Ordering < fields[j].Ordering
			}
			return fields[i].Name < fields[j].Name
		})
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.modelsByID = modelsByID
	r.modelsByName = modelsByName
	r.fieldsByModel = fieldsByModel
	r.fieldsByID = fieldsByID
	r.primitives = primitives
	r.loaded = true
	return nil
}

// Invalidate drops the cache; the next lookup reloads it.
func (r *SchemaRegistry) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaded = false
}

func (r *SchemaRegistry) ensureLoaded(db *gorm.DB) error {
	r.mu.RLock()
	loaded := r.loaded
	r.mu.RUnlock()
	if loaded {
		return nil
	}
	return r.Refresh(db)
}

// Model returns the MetaModel with the given id, refreshing once on a miss.
func (r *SchemaRegistry) Model(db *gorm.DB, id uuid.UUID) (*models.MetaModel, error) {
	if err := r.ensureLoaded(db); err != nil {
		return nil, err
	}
	if m, ok := r.cachedModel(id); ok {
		return m, nil
	}
	if err := r.Refresh(db); err != nil {
		return nil, err
	}
	if m, ok := r.cachedModel(id); ok {
		return m, nil
	}
	return nil, errors.NotFoundf("meta model %s not found", id)
}

func (r *SchemaRegistry) cachedModel(id uuid.UUID) (*models.MetaModel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modelsByID[id]
	if !ok {
		return nil, false
	}
	return &m, true
}

// ModelByName resolves a MetaModel by its unique name.
func (r *SchemaRegistry) ModelByName(db *gorm.DB, name string) (*models.MetaModel, error) {
	if err := r.ensureLoaded(db); err != nil {
		return nil, err
	}
	for attempt := 0; attempt < 2; attempt++ {
		r.mu.RLock()
		id, ok := r.modelsByName[name]
		r.mu.RUnlock()
		if ok {
			return r.Model(db, id)
		}
		if attempt == 0 {
			if err := r.Refresh(db); err != nil {
				return nil, err
			}
		}
	}
	return nil, errors.NotFoundf("meta model %q not found", name)
}

// PrimitiveModels maps every primitive kind to its MetaModel.
func (r *SchemaRegistry) PrimitiveModels(db *gorm.DB) (map[models.Kind]*models.MetaModel, error) {
	if err := r.ensureLoaded(db); err != nil {
		return nil, err
	}
	result := make(map[models.Kind]*models.MetaModel, len(models.Kinds))
	for _, kind := range models.Kinds {
		m, err := r.PrimitiveModel(db, kind)
		if err != nil {
			return nil, err
		}
		result[kind] = m
	}
	return result, nil
}

func (r *SchemaRegistry) PrimitiveModel(db *gorm.DB, kind models.Kind) (*models.MetaModel, error) {
	if err := r.ensureLoaded(db); err != nil {
		return nil, err
	}
	r.mu.RLock()
	id, ok := r.primitives[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.ConfigurationErrorf("primitive model %s is not bootstrapped", kind)
	}
	return r.Model(db, id)
}

// Fields returns the MetaFields declared on a model in schema order.
func (r *SchemaRegistry) Fields(db *gorm.DB, modelID uuid.UUID) ([]models.MetaField, error) {
	if _, err := r.Model(db, modelID); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	fields := r.fieldsByModel[modelID]
	result := make([]models.MetaField, len(fields))
	copy(result, fields)
	return result, nil
}

// Field resolves (model, name) to a MetaField. ok is false when the model
// declares no such field; callers fall back to native attributes then.
func (r *SchemaRegistry) Field(db *gorm.DB, modelID uuid.UUID, name string) (*models.MetaField, bool, error) {
	if _, err := r.Model(db, modelID); err != nil {
		return nil, false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, f := range r.fieldsByModel[modelID] {
		if f.Name == name {
			field := f
			return &field, true, nil
		}
	}
	return nil, false, nil
}

// FieldByID returns a MetaField by id, refreshing once on a miss.
func (r *SchemaRegistry) FieldByID(db *gorm.DB, id uuid.UUID) (*models.MetaField, error) {
	if err := r.ensureLoaded(db); err != nil {
		return nil, err
	}
	for attempt := 0; attempt < 2; attempt++ {
		r.mu.RLock()
		f, ok := r.fieldsByID[id]
		r.mu.RUnlock()
		if ok {
			return &f, nil
		}
		if attempt == 0 {
			if err := r.Refresh(db); err != nil {
				return nil, err
			}
		}
	}
	return nil, errors.NotFoundf("meta field %s not found", id)
}

// IsPrimitive reports whether the model with the given id is primitive.
func (r *SchemaRegistry) IsPrimitive(db *gorm.DB, modelID uuid.UUID) (models.Kind, bool, error) {
	m, err := r.Model(db, modelID)
	if err != nil {
		return "", false, err
	}
	kind, ok := m.Kind()
	return kind, ok, nil
}
