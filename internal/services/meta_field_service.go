// internal/services/meta_field_service.go
package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/javajoker/catalog-metamodel/internal/config"
	"github.com/javajoker/catalog-metamodel/internal/database"
	"github.com/javajoker/catalog-metamodel/internal/errors"
	"github.com/javajoker/catalog-metamodel/internal/models"
	"github.com/javajoker/catalog-metamodel/internal/utils"
)

// MetaFieldService adds, changes and removes MetaFields. Saving a field
// that is or becomes required fills the existing instances of the parent
// with a default value.
type MetaFieldService struct {
	db        *gorm.DB
	registry  *SchemaRegistry
	fields    *InstanceFieldService
	batchSize int
}

type MetaFieldRequest struct {
	ParentID uuid.UUID `json:"parent_id" validate:"required"`
	ModelID  uuid.UUID `json:"model_id" validate:"required"`
	Name     string    `json:"name" validate:"required,max=100,identifier,not_reserved"`
	Nullable bool      `json:"nullable"`
	Multiple bool      `json:"multiple"`
	Hidden   bool      `json:"hidden"`
	Ordering int       `json:"ordering"`
	HelpText string    `json:"help_text"`

	// Default is written into every existing instance that lacks a value
	// when the field is required. It is an instance or instance id for
	// composite targets.
	Default interface{} `json:"default,omitempty"`
}

// BackfillResult reports what a field save changed.
type BackfillResult struct {
	Field      *models.MetaField `json:"field"`
	Backfilled int               `json:"backfilled"`
}

func NewMetaFieldService(db *gorm.DB, registry *SchemaRegistry, fields *InstanceFieldService, cfg config.EngineConfig) *MetaFieldService {
	batchSize := cfg.BackfillBatchSize
	if batchSize <= 0 {
		batchSize = 500
	}
	return &MetaFieldService{
		db:        db,
		registry:  registry,
		fields:    fields,
		batchSize: batchSize,
	}
}

// Create declares a new field on req.ParentID.
func (s *MetaFieldService) Create(ctx context.Context, req *MetaFieldRequest) (*BackfillResult, error) {
	return s.save(ctx, nil, req)
}

// Update changes an existing field. Parent and target model are fixed, and
// a multiple field stays multiple.
func (s *MetaFieldService) Update(ctx context.Context, id uuid.UUID, req *MetaFieldRequest) (*BackfillResult, error) {
	field, err := s.registry.FieldByID(s.db.WithContext(ctx), id)
	if err != nil {
		return nil, err
	}
	return s.save(ctx, field, req)
}

func (s *MetaFieldService) save(ctx context.Context, existing *models.MetaField, req *MetaFieldRequest) (*BackfillResult, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, errors.Mark(errors.Newf("validation failed: %s", utils.ValidationMessage(err)), errors.ErrSchemaViolation)
	}

	result := &BackfillResult{}
	err := database.WithTransaction(ctx, s.db, func(tx *gorm.DB) error {
		parent, err := s.registry.Model(tx, req.ParentID)
		if err != nil {
			return err
		}
		if parent.IsPrimitive() {
			return errors.SchemaViolationf("primitive model %s cannot declare fields", parent.Name)
		}
		if _, err := s.registry.Model(tx, req.ModelID); err != nil {
			return err
		}

		if req.Hidden && !req.Nullable && !req.Multiple {
			return errors.SchemaViolationf("hidden field %s must be nullable or multiple", req.Name)
		}

		field := &models.MetaField{}
		wasRequired := false
		if existing != nil {
			*field = *existing
			wasRequired = existing.IsRequired()
			if err := s.checkChange(tx, parent, existing, req); err != nil {
				return err
			}
		}

		var count int64
		if err := tx.Model(&models.MetaField{}).
			Where("parent_id = ? AND name = ? AND id <> ?", req.ParentID, req.Name, field.ID).
			Count(&count).Error; err != nil {
			return errors.Wrap(err, "check meta field name")
		}
		if count > 0 {
			return errors.SchemaViolationf("%s already declares a field named %s", parent.Name, req.Name)
		}

		field.ParentID = req.ParentID
		field.ModelID = req.ModelID
		field.Name = req.Name
		field.Nullable = req.Nullable
		field.Multiple = req.Multiple
		field.Hidden = req.Hidden
		field.Ordering = req.Ordering
		field.HelpText = req.HelpText

		if field.Multiple && existing != nil && !existing.Multiple {
			if err := s.checkNotOrdering(parent, existing.Name); err != nil {
				return err
			}
		}

		// resolve the default before anything is written
		var fill *cellValue
		if field.IsRequired() && !wasRequired {
			missing, err := s.countMissing(tx, parent.ID, field.ID)
			if err != nil {
				return err
			}
			if missing > 0 {
				if isNilValue(req.Default) {
					return errors.WithHint(
						errors.SchemaViolationf("%d %s instances have no value for required field %s", missing, parent.Name, field.Name),
						"provide a default value or make the field nullable",
					)
				}
				cv, err := s.fields.resolveValue(tx, field, req.Default)
				if err != nil {
					return err
				}
				fill = &cv
			}
		}
		if fill == nil && !isNilValue(req.Default) {
			return errors.SchemaViolationf("field %s does not need a default", req.Name)
		}

		if existing == nil {
			if err := tx.Omit(clause.Associations).Create(field).Error; err != nil {
				return errors.Wrapf(err, "create meta field %s", field.Name)
			}
		} else {
			err := tx.Model(field).
				Select("model_id", "name", "nullable", "multiple", "hidden", "ordering", "help_text", "updated_at").
				Updates(field).Error
			if err != nil {
				return errors.Wrapf(err, "update meta field %s", field.Name)
			}
		}
		s.registry.Invalidate()
		result.Field = field

		if fill != nil {
			n, err := s.backfill(tx, parent, field, *fill)
			if err != nil {
				return err
			}
			result.Backfilled = n
		}
		return nil
	})
	s.registry.Invalidate()
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"model":      result.Field.ParentID,
		"field":      result.Field.Name,
		"backfilled": result.Backfilled,
	}).Info("Meta field saved")
	return result, nil
}

// checkChange rejects updates that would orphan stored values or schema
// references.
func (s *MetaFieldService) checkChange(tx *gorm.DB, parent *models.MetaModel, existing *models.MetaField, req *MetaFieldRequest) error {
	if req.ParentID != existing.ParentID {
		return errors.SchemaViolationf("field %s cannot move to another model", existing.Name)
	}

	if req.ModelID != existing.ModelID {
		return errors.SchemaViolationf("field %s cannot change its target model", existing.Name)
	}
	if existing.Multiple && !req.Multiple {
		return errors.SchemaViolationf("field %s cannot narrow from multiple to single", existing.Name)
	}

	if req.Name != existing.Name {
		if err := s.checkUnreferenced(tx, parent, existing); err != nil {
			return errors.WithHint(err, "update the model's ordering and template before renaming")
		}
	}
	return nil
}

func (s *MetaFieldService) checkNotOrdering(parent *models.MetaModel, name string) error {
	for _, ordering := range parent.OrderingFields() {
		if ordering == name {
			return errors.SchemaViolationf("field %s orders %s and cannot be multiple", name, parent.Name)
		}
	}
	return nil
}

// checkUnreferenced fails when the parent's ordering or template still
// needs field.
func (s *MetaFieldService) checkUnreferenced(tx *gorm.DB, parent *models.MetaModel, field *models.MetaField) error {
	for _, name := range parent.OrderingFields() {
		if name == field.Name {
			return errors.SchemaViolationf("field %s is part of the ordering of %s", field.Name, parent.Name)
		}
	}

	siblings, err := s.registry.Fields(tx, parent.ID)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(siblings))
	for _, f := range siblings {
		if f.ID != field.ID {
			names = append(names, f.Name)
		}
	}
	if err := checkUnicodeTemplate(parent, parent.UnicodeTemplate, names); err != nil {
		return errors.Wrapf(err, "field %s is used by the template of %s", field.Name, parent.Name)
	}
	return nil
}

func (s *MetaFieldService) countMissing(tx *gorm.DB, parentModelID, fieldID uuid.UUID) (int64, error) {
	var count int64
	err := s.missingQuery(tx, parentModelID, fieldID).Count(&count).Error
	if err != nil {
		return 0, errors.Wrap(err, "count instances without value")
	}
	return count, nil
}

func (s *MetaFieldService) missingQuery(tx *gorm.DB, parentModelID, fieldID uuid.UUID) *gorm.DB {
	held := tx.Model(&models.InstanceField{}).Select("parent_id").Where("field_id = ?", fieldID)
	return tx.Model(&models.InstanceModel{}).
		Where("model_id = ?", parentModelID).
		Where("id NOT IN (?)", held)
}

// backfill gives every instance of parent lacking a value for field its
// own cell holding fill. Only instances without a cell are touched, so an
// interrupted run can be repeated.
func (s *MetaFieldService) backfill(tx *gorm.DB, parent *models.MetaModel, field *models.MetaField, fill cellValue) (int, error) {
	var batch []models.InstanceModel
	total := 0
	result := s.missingQuery(tx, parent.ID, field.ID).FindInBatches(&batch, s.batchSize, func(_ *gorm.DB, n int) error {
		for i := range batch {
			if _, err := s.fields.create(tx, &batch[i], field, fill, 0); err != nil {
				return err
			}
		}
		total += len(batch)
		logrus.WithFields(logrus.Fields{
			"model": parent.Name,
			"field": field.Name,
			"batch": n,
			"done":  total,
		}).Debug("Backfill batch written")
		return nil
	})
	if result.Error != nil {
		return total, errors.Wrapf(result.Error, "backfill %s.%s", parent.Name, field.Name)
	}
	return total, nil
}

// Delete removes a field with every cell it backs and the primitive values
// those cells own. Fields used by the parent's ordering or template cannot
// be deleted.
func (s *MetaFieldService) Delete(ctx context.Context, id uuid.UUID) error {
	err := database.WithTransaction(ctx, s.db, func(tx *gorm.DB) error {
		field, err := s.registry.FieldByID(tx, id)
		if err != nil {
			return err
		}
		parent, err := s.registry.Model(tx, field.ParentID)
		if err != nil {
			return err
		}
		if err := s.checkUnreferenced(tx, parent, field); err != nil {
			return err
		}

		var cells []models.InstanceField
		if err := tx.Where("field_id = ?", field.ID).Find(&cells).Error; err != nil {
			return errors.Wrap(err, "load instance fields")
		}
		if err := s.fields.remove(tx, cells, field); err != nil {
			return err
		}
		if err := tx.Delete(&models.MetaField{}, "id = ?", field.ID).Error; err != nil {
			return errors.Wrapf(err, "delete meta field %s", field.Name)
		}

		logrus.WithFields(logrus.Fields{
			"model":  parent.Name,
			"field":  field.Name,
			"values": len(cells),
		}).Info("Meta field deleted")
		return nil
	})
	s.registry.Invalidate()
	return err
}
