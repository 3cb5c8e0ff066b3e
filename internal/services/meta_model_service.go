// internal/services/meta_model_service.go
package services

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/javajoker/catalog-metamodel/internal/config"
	"github.com/javajoker/catalog-metamodel/internal/database"
	"github.com/javajoker/catalog-metamodel/internal/errors"
	"github.com/javajoker/catalog-metamodel/internal/models"
	"github.com/javajoker/catalog-metamodel/internal/utils"
)

// MetaModelService administers composite MetaModels. Primitive models are
// created by Bootstrap and cannot be changed here.
type MetaModelService struct {
	db        *gorm.DB
	registry  *SchemaRegistry
	instances *InstanceService
	batchSize int
}

type CreateMetaModelRequest struct {
	Name            string `json:"name" validate:"required,max=100,identifier"`
	UnicodeTemplate string `json:"unicode_template" validate:"max=255"`
	OrderingField   string `json:"ordering_field" validate:"max=255"`
}

type UpdateMetaModelRequest struct {
	Name            *string `json:"name,omitempty" validate:"omitempty,max=100,identifier"`
	UnicodeTemplate *string `json:"unicode_template,omitempty" validate:"omitempty,max=255"`
	OrderingField   *string `json:"ordering_field,omitempty" validate:"omitempty,max=255"`
}

func NewMetaModelService(db *gorm.DB, registry *SchemaRegistry, instances *InstanceService, cfg config.EngineConfig) *MetaModelService {
	batchSize := cfg.BackfillBatchSize
	if batchSize <= 0 {
		batchSize = 500
	}
	return &MetaModelService{
		db:        db,
		registry:  registry,
		instances: instances,
		batchSize: batchSize,
	}
}

func (s *MetaModelService) Get(ctx context.Context, id uuid.UUID) (*models.MetaModel, error) {
	return s.registry.Model(s.db.WithContext(ctx), id)
}

func (s *MetaModelService) GetByName(ctx context.Context, name string) (*models.MetaModel, error) {
	return s.registry.ModelByName(s.db.WithContext(ctx), name)
}

// List returns every MetaModel by name with its fields in schema order.
func (s *MetaModelService) List(ctx context.Context) ([]models.MetaModel, error) {
	var metaModels []models.MetaModel
	err := s.db.WithContext(ctx).
		Preload("Fields", func(db *gorm.DB) *gorm.DB {
			return db.Order("ordering ASC, name ASC")
		}).
		Order("name ASC").
		Find(&metaModels).Error
	if err != nil {
		return nil, errors.Wrap(err, "list meta models")
	}
	return metaModels, nil
}

// Create declares a composite model. Field references in the template and
// ordering are checked once the fields exist, on Update.
func (s *MetaModelService) Create(ctx context.Context, req *CreateMetaModelRequest) (*models.MetaModel, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, errors.Mark(errors.Newf("validation failed: %s", utils.ValidationMessage(err)), errors.ErrSchemaViolation)
	}
	if err := checkModelName(req.Name); err != nil {
		return nil, err
	}
	if err := checkOrderingSyntax(req.OrderingField); err != nil {
		return nil, err
	}
	if req.UnicodeTemplate != "" {
		if _, err := ParseUnicodeTemplate(req.UnicodeTemplate); err != nil {
			return nil, err
		}
	}

	model := &models.MetaModel{
		Name:            req.Name,
		UnicodeTemplate: req.UnicodeTemplate,
		OrderingField:   req.OrderingField,
	}

	err := database.WithTransaction(ctx, s.db, func(tx *gorm.DB) error {
		if err := s.checkNameFree(tx, req.Name, uuid.Nil); err != nil {
			return err
		}
		if err := tx.Create(model).Error; err != nil {
			return errors.Wrapf(err, "create meta model %s", req.Name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.registry.Invalidate()
	logrus.WithField("model", model.Name).Info("Meta model created")
	return model, nil
}

// Update renames a model or changes its template or ordering. When the
// template or ordering changes, stored instances are saved again so their
// cached display strings and ordering keys follow.
func (s *MetaModelService) Update(ctx context.Context, id uuid.UUID, req *UpdateMetaModelRequest) (*models.MetaModel, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, errors.Mark(errors.Newf("validation failed: %s", utils.ValidationMessage(err)), errors.ErrSchemaViolation)
	}

	var model *models.MetaModel
	var resaved []uuid.UUID

	err := database.WithTransaction(ctx, s.db, func(tx *gorm.DB) error {
		var err error
		model, err = s.registry.Model(tx, id)
		if err != nil {
			return err
		}
		if model.IsPrimitive() {
			return errors.SchemaViolationf("primitive model %s cannot be changed", model.Name)
		}

		updates := make(map[string]interface{})
		if req.Name != nil && *req.Name != model.Name {
			if err := checkModelName(*req.Name); err != nil {
				return err
			}
			if err := s.checkNameFree(tx, *req.Name, model.ID); err != nil {
				return err
			}
			updates["name"] = *req.Name
			model.Name = *req.Name
		}

		recompute := false
		if req.UnicodeTemplate != nil && *req.UnicodeTemplate != model.UnicodeTemplate {
			updates["unicode_template"] = *req.UnicodeTemplate
			model.UnicodeTemplate = *req.UnicodeTemplate
			recompute = true
		}
		if req.OrderingField != nil && *req.OrderingField != model.OrderingField {
			updates["ordering_field"] = *req.OrderingField
			model.OrderingField = *req.OrderingField
			recompute = true
		}
		if len(updates) == 0 {
			return nil
		}

		fields, err := s.registry.Fields(tx, model.ID)
		if err != nil {
			return err
		}
		if err := checkModelReferences(model, fields); err != nil {
			return err
		}

		if err := tx.Model(&models.MetaModel{}).Where("id = ?", model.ID).Updates(updates).Error; err != nil {
			return errors.Wrapf(err, "update meta model %s", model.Name)
		}
		s.registry.Invalidate()

		if recompute {
			resaved, err = s.resaveInstances(ctx, tx, model.ID)
			if err != nil {
				return err
			}
		}
		return nil
	})
	s.registry.Invalidate()
	if err != nil {
		return nil, err
	}

	for _, instanceID := range resaved {
		inst, err := s.instances.Get(ctx, instanceID)
		if err != nil {
			logrus.WithError(err).WithField("instance_id", instanceID).Warn("Instance vanished before notification")
			continue
		}
		s.instances.notify(ctx, inst, model, false, nil)
	}
	return model, nil
}

// resaveInstances recomputes the cached columns of every instance of a
// model, a batch at a time.
func (s *MetaModelService) resaveInstances(ctx context.Context, tx *gorm.DB, modelID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	var batch []models.InstanceModel
	result := tx.Where("model_id = ?", modelID).FindInBatches(&batch, s.batchSize, func(batchTx *gorm.DB, _ int) error {
		for i := range batch {
			if _, err := s.instances.save(ctx, tx, &batch[i], SaveOptions{}); err != nil {
				return err
			}
			ids = append(ids, batch[i].ID)
		}
		return nil
	})
	if result.Error != nil {
		return nil, errors.Wrap(result.Error, "recompute instances")
	}
	return ids, nil
}

// Delete drops a composite model with its fields, instances and their owned
// primitive values. Models still targeted by another model's fields cannot
// be deleted.
func (s *MetaModelService) Delete(ctx context.Context, id uuid.UUID) error {
	err := database.WithTransaction(ctx, s.db, func(tx *gorm.DB) error {
		model, err := s.registry.Model(tx, id)
		if err != nil {
			return err
		}
		if model.IsPrimitive() {
			return errors.SchemaViolationf("primitive model %s cannot be deleted", model.Name)
		}

		var referencing []models.MetaField
		if err := tx.Where("model_id = ? AND parent_id <> ?", id, id).Find(&referencing).Error; err != nil {
			return errors.Wrap(err, "load referencing fields")
		}
		if len(referencing) > 0 {
			names := make([]string, len(referencing))
			for i, f := range referencing {
				parent, err := s.registry.Model(tx, f.ParentID)
				if err != nil {
					return err
				}
				names[i] = parent.Name + "." + f.Name
			}
			return errors.WithHint(
				errors.SchemaViolationf("model %s is the target of %s", model.Name, strings.Join(names, ", ")),
				"delete or retarget those fields first",
			)
		}

		instanceIDs := tx.Model(&models.InstanceModel{}).Select("id").Where("model_id = ?", id)

		// owned primitives hang off cells whose field targets a primitive model
		var owned []uuid.UUID
		err = tx.Model(&models.InstanceField{}).
			Joins("JOIN meta_fields ON meta_fields.id = instance_fields.field_id").
			Joins("JOIN meta_models ON meta_models.id = meta_fields.model_id").
			Where("instance_fields.parent_id IN (?)", instanceIDs).
			Where("meta_models.name IN ?", primitiveNames()).
			Pluck("instance_fields.value_id", &owned).Error
		if err != nil {
			return errors.Wrap(err, "collect owned values")
		}

		if err := tx.Where("parent_id IN (?) OR value_id IN (?)", instanceIDs, instanceIDs).Delete(&models.InstanceField{}).Error; err != nil {
			return errors.Wrap(err, "delete instance fields")
		}
		if len(owned) > 0 {
			if err := tx.Where("id IN ?", owned).Delete(&models.InstanceModel{}).Error; err != nil {
				return errors.Wrap(err, "delete owned values")
			}
		}
		if err := tx.Where("model_id = ?", id).Delete(&models.InstanceModel{}).Error; err != nil {
			return errors.Wrap(err, "delete instances")
		}
		if err := tx.Where("parent_id = ?", id).Delete(&models.MetaField{}).Error; err != nil {
			return errors.Wrap(err, "delete meta fields")
		}
		if err := tx.Delete(&models.MetaModel{}, "id = ?", id).Error; err != nil {
			return errors.Wrapf(err, "delete meta model %s", model.Name)
		}

		logrus.WithFields(logrus.Fields{
			"model":        model.Name,
			"owned_values": len(owned),
		}).Info("Meta model deleted")
		return nil
	})
	s.registry.Invalidate()
	return err
}

func (s *MetaModelService) checkNameFree(tx *gorm.DB, name string, except uuid.UUID) error {
	var count int64
	if err := tx.Model(&models.MetaModel{}).Where("name = ? AND id <> ?", name, except).Count(&count).Error; err != nil {
		return errors.Wrap(err, "check meta model name")
	}
	if count > 0 {
		return errors.SchemaViolationf("meta model %s already exists", name)
	}
	return nil
}

// checkModelName keeps the primitive naming convention to the closed kind
// set.
func checkModelName(name string) error {
	if _, ok := models.ParseKind(name); ok {
		return errors.SchemaViolationf("%s is a primitive model name", name)
	}
	if strings.HasSuffix(name, "Field") {
		return errors.WithHint(
			errors.SchemaViolationf("model name %s is reserved for primitive kinds", name),
			"names ending in Field are reserved",
		)
	}
	return nil
}

func checkOrderingSyntax(ordering string) error {
	if strings.TrimSpace(ordering) == "" {
		return nil
	}
	for _, part := range strings.Split(ordering, ",") {
		name := strings.TrimSpace(part)
		if name == models.OrderingUnicode {
			continue
		}
		if err := utils.ValidateVar(name, "required,identifier"); err != nil {
			return errors.SchemaViolationf("ordering field %q is not a field name", name)
		}
	}
	return nil
}

// checkModelReferences verifies that the ordering and template of model
// only use its declared fields.
func checkModelReferences(model *models.MetaModel, fields []models.MetaField) error {
	if err := checkOrderingSyntax(model.OrderingField); err != nil {
		return err
	}

	byName := make(map[string]models.MetaField, len(fields))
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		byName[f.Name] = f
		names = append(names, f.Name)
	}

	for _, name := range model.OrderingFields() {
		if name == models.OrderingUnicode {
			continue
		}
		f, ok := byName[name]
		if !ok {
			return errors.SchemaViolationf("ordering field %s is not declared on %s", name, model.Name)
		}
		if f.Multiple {
			return errors.SchemaViolationf("ordering field %s of %s is multiple", name, model.Name)
		}
	}

	return checkUnicodeTemplate(model, model.UnicodeTemplate, names)
}

func primitiveNames() []string {
	names := make([]string, len(models.Kinds))
	for i, kind := range models.Kinds {
		names[i] = string(kind)
	}
	return names
}
