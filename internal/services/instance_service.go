// internal/services/instance_service.go
package services

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/javajoker/catalog-metamodel/internal/config"
	"github.com/javajoker/catalog-metamodel/internal/database"
	"github.com/javajoker/catalog-metamodel/internal/errors"
	"github.com/javajoker/catalog-metamodel/internal/events"
	"github.com/javajoker/catalog-metamodel/internal/models"
	"github.com/javajoker/catalog-metamodel/internal/utils"
)

type InstanceService struct {
	db        *gorm.DB
	registry  *SchemaRegistry
	fields    *InstanceFieldService
	hooks     *Hooks
	publisher events.Publisher
	strict    bool

	// parsed unicode templates keyed by template text
	templates sync.Map
}

// SaveOptions controls one Save call. Initial saves only persist the row
// so that attribute cells can reference it; every other save recomputes
// the display string and ordering key and emits InstanceSaved.
type SaveOptions struct {
	Initial   bool
	CreatorID *uuid.UUID
}

type InstanceListParams struct {
	utils.PaginationParams
	ModelID uuid.UUID `json:"model_id" validate:"required"`
}

var instanceSortFields = map[string][]string{
	"ordering":   {models.ColumnDecimalValue, models.ColumnUnicodeValue},
	"unicode":    {"unicode_representation"},
	"created_at": {"created_at"},
	"updated_at": {"updated_at"},
}

func NewInstanceService(db *gorm.DB, registry *SchemaRegistry, fields *InstanceFieldService, hooks *Hooks, publisher events.Publisher, cfg config.EngineConfig) *InstanceService {
	if publisher == nil {
		publisher = events.Discard
	}
	return &InstanceService{
		db:        db,
		registry:  registry,
		fields:    fields,
		hooks:     hooks,
		publisher: publisher,
		strict:    cfg.Strict,
	}
}

// Get loads an instance by id.
func (s *InstanceService) Get(ctx context.Context, id uuid.UUID) (*models.InstanceModel, error) {
	return getInstance(s.db.WithContext(ctx), id)
}

func getInstance(tx *gorm.DB, id uuid.UUID) (*models.InstanceModel, error) {
	var inst models.InstanceModel
	if err := tx.First(&inst, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.NotFoundf("instance %s not found", id)
		}
		return nil, errors.Wrapf(err, "load instance %s", id)
	}
	return &inst, nil
}

// Create builds a composite instance of modelID from attrs in one
// transaction: initial save, attribute writes, then the final save.
func (s *InstanceService) Create(ctx context.Context, modelID uuid.UUID, attrs map[string]interface{}, opts SaveOptions) (*models.InstanceModel, error) {
	inst := &models.InstanceModel{ModelID: modelID}
	var model *models.MetaModel

	err := database.WithTransaction(ctx, s.db, func(tx *gorm.DB) error {
		var err error
		model, err = s.registry.Model(tx, modelID)
		if err != nil {
			return err
		}
		if model.IsPrimitive() {
			return errors.SchemaViolationf("%s is primitive; use CreatePrimitive", model.Name)
		}

		if _, err := s.save(ctx, tx, inst, SaveOptions{Initial: true}); err != nil {
			return err
		}

		names := make([]string, 0, len(attrs))
		for name := range attrs {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if err := s.setAttribute(tx, inst, name, attrs[name]); err != nil {
				return err
			}
		}

		_, err = s.save(ctx, tx, inst, SaveOptions{CreatorID: opts.CreatorID})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, inst, model, true, opts.CreatorID)
	return inst, nil
}

// CreatePrimitive stores a standalone primitive value of kind.
func (s *InstanceService) CreatePrimitive(ctx context.Context, kind models.Kind, value interface{}, opts SaveOptions) (*models.InstanceModel, error) {
	storage, err := kind.Encode(value)
	if err != nil {
		return nil, err
	}
	model, err := s.registry.PrimitiveModel(s.db.WithContext(ctx), kind)
	if err != nil {
		return nil, err
	}

	inst := &models.InstanceModel{ModelID: model.ID}
	inst.SetStorage(storage)
	if err := s.Save(ctx, inst, opts); err != nil {
		return nil, err
	}
	return inst, nil
}

// SetScalar assigns a host value to an unsaved or loaded primitive
// instance. The value is coerced immediately; persist with Save.
func (s *InstanceService) SetScalar(ctx context.Context, inst *models.InstanceModel, value interface{}) error {
	kind, primitive, err := s.registry.IsPrimitive(s.db.WithContext(ctx), inst.ModelID)
	if err != nil {
		return err
	}
	if !primitive {
		return errors.SchemaViolationf("instance %s is not primitive", inst.ID)
	}
	storage, err := kind.Encode(value)
	if err != nil {
		return err
	}
	inst.SetStorage(storage)
	return nil
}

// Scalar returns the host value of a primitive instance.
func (s *InstanceService) Scalar(ctx context.Context, inst *models.InstanceModel) (interface{}, error) {
	kind, primitive, err := s.registry.IsPrimitive(s.db.WithContext(ctx), inst.ModelID)
	if err != nil {
		return nil, err
	}
	if !primitive {
		return nil, errors.SchemaViolationf("instance %s is not primitive", inst.ID)
	}
	return kind.Decode(inst.Storage())
}

// Save persists inst. Non-initial saves of composites recompute the cached
// display string and ordering key first; in strict mode the instance must
// satisfy its model before anything is written.
func (s *InstanceService) Save(ctx context.Context, inst *models.InstanceModel, opts SaveOptions) error {
	var model *models.MetaModel
	var created bool

	err := database.WithTransaction(ctx, s.db, func(tx *gorm.DB) error {
		var err error
		created = inst.ID == uuid.Nil
		model, err = s.save(ctx, tx, inst, opts)
		return err
	})
	if err != nil {
		if created {
			inst.ID = uuid.Nil
		}
		return err
	}

	if !opts.Initial {
		s.notify(ctx, inst, model, created, opts.CreatorID)
	}
	return nil
}

func (s *InstanceService) save(ctx context.Context, tx *gorm.DB, inst *models.InstanceModel, opts SaveOptions) (*models.MetaModel, error) {
	model, err := s.registry.Model(tx, inst.ModelID)
	if err != nil {
		return nil, err
	}

	created := inst.ID == uuid.Nil
	if created {
		inst.ID = uuid.New()
	}

	if kind, ok := model.Kind(); ok {
		if s.strict {
			if inst.UnicodeRepresentation != nil {
				return nil, errors.IntegrityViolationf("primitive %s instance cannot carry a display string", kind)
			}
			if _, err := kind.Decode(inst.Storage()); err != nil {
				return nil, err
			}
		}
		return model, s.persist(tx, inst, created)
	}

	if !opts.Initial {
		if s.strict {
			if err := s.checkRequired(tx, inst, model); err != nil {
				return nil, err
			}
		}

		display, err := s.displayString(ctx, tx, inst, model)
		if err != nil {
			return nil, err
		}
		inst.UnicodeRepresentation = &display

		key, err := s.orderingKey(tx, inst, model)
		if err != nil {
			return nil, err
		}
		inst.SetStorage(key.Storage())
	}

	return model, s.persist(tx, inst, created)
}

func (s *InstanceService) persist(tx *gorm.DB, inst *models.InstanceModel, created bool) error {
	if created {
		if err := tx.Omit(clause.Associations).Create(inst).Error; err != nil {
			return errors.Wrap(err, "create instance")
		}
		return nil
	}

	result := tx.Model(inst).
		Select("model_id", models.ColumnDecimalValue, models.ColumnUnicodeValue, "unicode_representation", "updated_at").
		Updates(inst)
	if result.Error != nil {
		return errors.Wrapf(result.Error, "update instance %s", inst.ID)
	}
	if result.RowsAffected == 0 {
		return errors.NotFoundf("instance %s not found", inst.ID)
	}
	return nil
}

// checkRequired verifies every required field holds exactly one value.
func (s *InstanceService) checkRequired(tx *gorm.DB, inst *models.InstanceModel, model *models.MetaModel) error {
	fields, err := s.registry.Fields(tx, model.ID)
	if err != nil {
		return err
	}
	for i := range fields {
		field := &fields[i]
		if !field.IsRequired() {
			continue
		}
		var count int64
		if err := tx.Model(&models.InstanceField{}).
			Where("parent_id = ? AND field_id = ?", inst.ID, field.ID).
			Count(&count).Error; err != nil {
			return errors.Wrap(err, "count instance fields")
		}
		if count != 1 {
			return errors.IntegrityViolationf("%s.%s is required and holds %d values", model.Name, field.Name, count)
		}
	}
	return nil
}

// Delete removes an instance with its owned primitive values and every
// cell that references it. In strict mode an instance referenced through a
// required field cannot be deleted.
func (s *InstanceService) Delete(ctx context.Context, inst *models.InstanceModel) error {
	return database.WithTransaction(ctx, s.db, func(tx *gorm.DB) error {
		return s.delete(tx, inst)
	})
}

func (s *InstanceService) delete(tx *gorm.DB, inst *models.InstanceModel) error {
	var incoming []models.InstanceField
	if err := tx.Where("value_id = ?", inst.ID).Find(&incoming).Error; err != nil {
		return errors.Wrap(err, "load referencing instance fields")
	}
	if s.strict {
		for _, cell := range incoming {
			field, err := s.registry.FieldByID(tx, cell.FieldID)
			if err != nil {
				return err
			}
			if field.IsRequired() {
				return errors.IntegrityViolationf("instance %s is the required %s of instance %s", inst.ID, field.Name, cell.ParentID)
			}
		}
	}
	if len(incoming) > 0 {
		if err := tx.Where("value_id = ?", inst.ID).Delete(&models.InstanceField{}).Error; err != nil {
			return errors.Wrap(err, "delete referencing instance fields")
		}
	}

	var outgoing []models.InstanceField
	if err := tx.Where("parent_id = ?", inst.ID).Find(&outgoing).Error; err != nil {
		return errors.Wrap(err, "load instance fields")
	}
	byField := make(map[uuid.UUID][]models.InstanceField)
	for _, cell := range outgoing {
		byField[cell.FieldID] = append(byField[cell.FieldID], cell)
	}
	for fieldID, cells := range byField {
		field, err := s.registry.FieldByID(tx, fieldID)
		if err != nil {
			return err
		}
		if err := s.fields.remove(tx, cells, field); err != nil {
			return err
		}
	}

	result := tx.Delete(&models.InstanceModel{}, "id = ?", inst.ID)
	if result.Error != nil {
		return errors.Wrapf(result.Error, "delete instance %s", inst.ID)
	}
	if result.RowsAffected == 0 {
		return errors.NotFoundf("instance %s not found", inst.ID)
	}
	return nil
}

// Clone copies an instance. Owned primitive values are duplicated;
// composite values stay shared with the original.
func (s *InstanceService) Clone(ctx context.Context, inst *models.InstanceModel, opts SaveOptions) (*models.InstanceModel, error) {
	clone := &models.InstanceModel{ModelID: inst.ModelID}
	var model *models.MetaModel

	err := database.WithTransaction(ctx, s.db, func(tx *gorm.DB) error {
		source, err := getInstance(tx, inst.ID)
		if err != nil {
			return err
		}
		model, err = s.registry.Model(tx, source.ModelID)
		if err != nil {
			return err
		}

		if model.IsPrimitive() {
			clone.SetStorage(source.Storage())
			_, err := s.save(ctx, tx, clone, SaveOptions{CreatorID: opts.CreatorID})
			return err
		}

		if _, err := s.save(ctx, tx, clone, SaveOptions{Initial: true}); err != nil {
			return err
		}

		cells, err := s.fields.allCells(tx, source.ID)
		if err != nil {
			return err
		}
		for _, cell := range cells {
			field, err := s.registry.FieldByID(tx, cell.FieldID)
			if err != nil {
				return err
			}
			if cell.Value == nil {
				return errors.IntegrityViolationf("instance field %s points at missing instance %s", cell.ID, cell.ValueID)
			}
			cv := cellValue{instance: cell.Value}
			if _, primitive, err := s.registry.IsPrimitive(tx, field.ModelID); err != nil {
				return err
			} else if primitive {
				cv = cellValue{primitive: true, storage: cell.Value.Storage()}
			}
			if _, err := s.fields.create(tx, clone, field, cv, cell.Position); err != nil {
				return err
			}
		}

		_, err = s.save(ctx, tx, clone, SaveOptions{CreatorID: opts.CreatorID})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, clone, model, true, opts.CreatorID)
	return clone, nil
}

// Validate runs the integrity checks on a stored instance without writing.
// They run whether or not the engine is strict.
func (s *InstanceService) Validate(ctx context.Context, inst *models.InstanceModel) error {
	tx := s.db.WithContext(ctx)
	model, err := s.registry.Model(tx, inst.ModelID)
	if err != nil {
		return err
	}

	if kind, ok := model.Kind(); ok {
		if inst.UnicodeRepresentation != nil {
			return errors.IntegrityViolationf("primitive %s instance cannot carry a display string", kind)
		}
		_, err := kind.Decode(inst.Storage())
		return err
	}

	if err := s.checkRequired(tx, inst, model); err != nil {
		return err
	}

	cells, err := s.fields.allCells(tx, inst.ID)
	if err != nil {
		return err
	}
	counts := make(map[uuid.UUID]int)
	for _, cell := range cells {
		field, err := s.registry.FieldByID(tx, cell.FieldID)
		if err != nil {
			return err
		}
		if field.ParentID != inst.ModelID {
			return errors.IntegrityViolationf("field %s does not belong to model %s", field.Name, model.Name)
		}
		if cell.Value == nil {
			return errors.IntegrityViolationf("%s points at missing instance %s", field.Name, cell.ValueID)
		}
		if cell.Value.ModelID != field.ModelID {
			return errors.IntegrityViolationf("%s holds an instance of the wrong model", field.Name)
		}
		kind, primitive, err := s.registry.IsPrimitive(tx, field.ModelID)
		if err != nil {
			return err
		}
		if primitive {
			if _, err := kind.Decode(cell.Value.Storage()); err != nil {
				return errors.Wrapf(err, "field %s", field.Name)
			}
		}
		counts[field.ID]++
		if !field.Multiple && counts[field.ID] > 1 {
			return errors.IntegrityViolationf("%s holds more than one value", field.Name)
		}
	}
	return nil
}

// List pages through the instances of one model, by ordering key unless
// another sort is requested.
func (s *InstanceService) List(ctx context.Context, params InstanceListParams) ([]models.InstanceModel, int64, error) {
	if err := utils.ValidateStruct(&params); err != nil {
		return nil, 0, errors.Wrap(err, utils.ValidationMessage(err))
	}
	params.PaginationParams = params.PaginationParams.Normalize()

	query := s.db.WithContext(ctx).Model(&models.InstanceModel{}).Where("model_id = ?", params.ModelID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, errors.Wrap(err, "count instances")
	}

	query = utils.ApplySort(query, params.PaginationParams, instanceSortFields, "ordering")
	query = utils.ApplyPagination(query.Order("id ASC"), params.PaginationParams)

	var instances []models.InstanceModel
	if err := query.Find(&instances).Error; err != nil {
		return nil, 0, errors.Wrap(err, "list instances")
	}
	return instances, total, nil
}

// notify runs after commit; the mutation stands even if delivery fails.
func (s *InstanceService) notify(ctx context.Context, inst *models.InstanceModel, model *models.MetaModel, created bool, creatorID *uuid.UUID) {
	event := events.InstanceSaved{
		InstanceID: inst.ID,
		ModelID:    inst.ModelID,
		ModelName:  model.Name,
		Created:    created,
		CreatorID:  creatorID,
		Instance:   inst,
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"instance_id": inst.ID,
			"model":       model.Name,
		}).Error("Failed to publish instance saved event")
	}
}
