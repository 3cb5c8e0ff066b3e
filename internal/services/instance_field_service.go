// internal/services/instance_field_service.go
package services

import (
	"context"
	"reflect"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/javajoker/catalog-metamodel/internal/config"
	"github.com/javajoker/catalog-metamodel/internal/database"
	"github.com/javajoker/catalog-metamodel/internal/errors"
	"github.com/javajoker/catalog-metamodel/internal/models"
)

// InstanceFieldService manages the (parent, field, value) cells that back
// composite instance attributes.
type InstanceFieldService struct {
	db       *gorm.DB
	registry *SchemaRegistry
	strict   bool
}

// cellValue is a value resolved against a field's target type: either an
// encoded scalar for a fresh owned primitive, or a shared composite.
type cellValue struct {
	primitive bool
	storage   models.Storage
	instance  *models.InstanceModel
}

func NewInstanceFieldService(db *gorm.DB, registry *SchemaRegistry, cfg config.EngineConfig) *InstanceFieldService {
	return &InstanceFieldService{
		db:       db,
		registry: registry,
		strict:   cfg.Strict,
	}
}

// GetOrCreateWithValue makes the single cell of (parent, field) hold value:
// absent and nil is a no-op, absent creates, nil deletes, anything else
// updates in place. The returned cell is nil when none remains.
func (s *InstanceFieldService) GetOrCreateWithValue(ctx context.Context, parent *models.InstanceModel, field *models.MetaField, value interface{}) (*models.InstanceField, error) {
	var cell *models.InstanceField
	err := database.WithTransaction(ctx, s.db, func(tx *gorm.DB) error {
		var err error
		cell, err = s.getOrCreateWithValue(tx, parent, field, value)
		return err
	})
	return cell, err
}

// Delete removes one cell, and its owned scalar when the field is primitive.
// In strict mode cells of required fields cannot be deleted.
func (s *InstanceFieldService) Delete(ctx context.Context, cell *models.InstanceField) error {
	return database.WithTransaction(ctx, s.db, func(tx *gorm.DB) error {
		field, err := s.registry.FieldByID(tx, cell.FieldID)
		if err != nil {
			return err
		}
		return s.delete(tx, *cell, field)
	})
}

// List returns the cells of (parent, field) in write order with their
// values loaded.
func (s *InstanceFieldService) List(ctx context.Context, parentID, fieldID uuid.UUID) ([]models.InstanceField, error) {
	return s.cells(s.db.WithContext(ctx), parentID, fieldID)
}

func (s *InstanceFieldService) cells(tx *gorm.DB, parentID, fieldID uuid.UUID) ([]models.InstanceField, error) {
	var cells []models.InstanceField
	err := tx.Preload("Value").
		Where("parent_id = ? AND field_id = ?", parentID, fieldID).
		Order("position ASC, created_at ASC").
		Find(&cells).Error
	if err != nil {
		return nil, errors.Wrap(err, "load instance fields")
	}
	return cells, nil
}

// allCells returns every cell owned by parent, grouped in write order.
func (s *InstanceFieldService) allCells(tx *gorm.DB, parentID uuid.UUID) ([]models.InstanceField, error) {
	var cells []models.InstanceField
	err := tx.Preload("Value").
		Where("parent_id = ?", parentID).
		Order("field_id ASC, position ASC, created_at ASC").
		Find(&cells).Error
	if err != nil {
		return nil, errors.Wrap(err, "load instance fields")
	}
	return cells, nil
}

func (s *InstanceFieldService) getOrCreateWithValue(tx *gorm.DB, parent *models.InstanceModel, field *models.MetaField, value interface{}) (*models.InstanceField, error) {
	if err := s.checkFieldParent(parent, field); err != nil {
		return nil, err
	}

	cells, err := s.cells(tx, parent.ID, field.ID)
	if err != nil {
		return nil, err
	}
	if len(cells) > 1 && !field.Multiple && s.strict {
		return nil, errors.IntegrityViolationf("%s of instance %s has %d values but is not multiple", field.Name, parent.ID, len(cells))
	}

	var existing *models.InstanceField
	if len(cells) > 0 {
		existing = &cells[0]
	}

	if isNilValue(value) {
		if existing == nil {
			return nil, nil
		}
		return nil, s.delete(tx, *existing, field)
	}

	cv, err := s.resolveValue(tx, field, value)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		return s.create(tx, parent, field, cv, 0)
	}
	return s.update(tx, existing, field, cv)
}

func (s *InstanceFieldService) create(tx *gorm.DB, parent *models.InstanceModel, field *models.MetaField, cv cellValue, position int) (*models.InstanceField, error) {
	if err := s.checkFieldParent(parent, field); err != nil {
		return nil, err
	}

	valueID := uuid.Nil
	if cv.primitive {
		owned := &models.InstanceModel{ModelID: field.ModelID}
		owned.SetStorage(cv.storage)
		if err := tx.Omit(clause.Associations).Create(owned).Error; err != nil {
			return nil, errors.Wrapf(err, "create value of %s", field.Name)
		}
		valueID = owned.ID
	} else {
		valueID = cv.instance.ID
	}

	cell := &models.InstanceField{
		ParentID: parent.ID,
		FieldID:  field.ID,
		ValueID:  valueID,
		Position: position,
	}
	if err := tx.Omit(clause.Associations).Create(cell).Error; err != nil {
		return nil, errors.Wrapf(err, "create instance field %s", field.Name)
	}
	return cell, nil
}

func (s *InstanceFieldService) update(tx *gorm.DB, cell *models.InstanceField, field *models.MetaField, cv cellValue) (*models.InstanceField, error) {
	if !cv.primitive {
		if cell.ValueID != cv.instance.ID {
			if err := tx.Model(cell).Update("value_id", cv.instance.ID).Error; err != nil {
				return nil, errors.Wrapf(err, "update instance field %s", field.Name)
			}
			cell.ValueID = cv.instance.ID
		}
		cell.Value = cv.instance
		return cell, nil
	}

	if cell.Value == nil {
		// the owned scalar vanished; give the cell a fresh one
		owned := &models.InstanceModel{ModelID: field.ModelID}
		owned.SetStorage(cv.storage)
		if err := tx.Omit(clause.Associations).Create(owned).Error; err != nil {
			return nil, errors.Wrapf(err, "create value of %s", field.Name)
		}
		if err := tx.Model(cell).Update("value_id", owned.ID).Error; err != nil {
			return nil, errors.Wrapf(err, "update instance field %s", field.Name)
		}
		cell.ValueID = owned.ID
		cell.Value = owned
		return cell, nil
	}

	owned := cell.Value
	owned.SetStorage(cv.storage)
	err := tx.Model(owned).Select(models.ColumnDecimalValue, models.ColumnUnicodeValue).Updates(map[string]interface{}{
		models.ColumnDecimalValue: owned.DecimalValue,
		models.ColumnUnicodeValue: owned.UnicodeValue,
	}).Error
	if err != nil {
		return nil, errors.Wrapf(err, "update value of %s", field.Name)
	}
	return cell, nil
}

func (s *InstanceFieldService) delete(tx *gorm.DB, cell models.InstanceField, field *models.MetaField) error {
	if s.strict && field.IsRequired() {
		return errors.IntegrityViolationf("cannot delete the value of required field %s", field.Name)
	}
	return s.remove(tx, []models.InstanceField{cell}, field)
}

// removeAll drops every cell of (parent, field) without the required check;
// multiple fields are rewritten through it.
func (s *InstanceFieldService) removeAll(tx *gorm.DB, parentID uuid.UUID, field *models.MetaField) error {
	var cells []models.InstanceField
	if err := tx.Where("parent_id = ? AND field_id = ?", parentID, field.ID).Find(&cells).Error; err != nil {
		return errors.Wrap(err, "load instance fields")
	}
	return s.remove(tx, cells, field)
}

func (s *InstanceFieldService) remove(tx *gorm.DB, cells []models.InstanceField, field *models.MetaField) error {
	if len(cells) == 0 {
		return nil
	}

	cellIDs := make([]uuid.UUID, len(cells))
	valueIDs := make([]uuid.UUID, len(cells))
	for i, c := range cells {
		cellIDs[i] = c.ID
		valueIDs[i] = c.ValueID
	}

	if err := tx.Where("id IN ?", cellIDs).Delete(&models.InstanceField{}).Error; err != nil {
		return errors.Wrapf(err, "delete instance fields of %s", field.Name)
	}

	_, primitive, err := s.registry.IsPrimitive(tx, field.ModelID)
	if err != nil {
		return err
	}
	if primitive {
		if err := tx.Where("id IN ?", valueIDs).Delete(&models.InstanceModel{}).Error; err != nil {
			return errors.Wrapf(err, "delete values of %s", field.Name)
		}
	}
	return nil
}

// resolveValue coerces a host value for a primitive target, or loads the
// referenced instance for a composite one.
func (s *InstanceFieldService) resolveValue(tx *gorm.DB, field *models.MetaField, value interface{}) (cellValue, error) {
	kind, primitive, err := s.registry.IsPrimitive(tx, field.ModelID)
	if err != nil {
		return cellValue{}, err
	}

	if primitive {
		storage, err := kind.Encode(value)
		if err != nil {
			return cellValue{}, errors.Wrapf(err, "field %s", field.Name)
		}
		return cellValue{primitive: true, storage: storage}, nil
	}

	instance, err := loadInstanceRef(tx, value)
	if err != nil {
		return cellValue{}, errors.Wrapf(err, "field %s", field.Name)
	}
	if s.strict && instance.ModelID != field.ModelID {
		target, _ := s.registry.Model(tx, field.ModelID)
		return cellValue{}, errors.IntegrityViolationf("field %s expects an instance of %s, got model %s", field.Name, modelName(target, field.ModelID), instance.ModelID)
	}
	return cellValue{instance: instance}, nil
}

func (s *InstanceFieldService) checkFieldParent(parent *models.InstanceModel, field *models.MetaField) error {
	if parent.ID == uuid.Nil {
		return errors.IntegrityViolationf("instance must be saved before setting %s", field.Name)
	}
	if s.strict && field.ParentID != parent.ModelID {
		return errors.IntegrityViolationf("field %s does not belong to model %s", field.Name, parent.ModelID)
	}
	return nil
}

// loadInstanceRef accepts an instance, a pointer to one, its id, or the id
// as a string, and loads the stored instance.
func loadInstanceRef(tx *gorm.DB, value interface{}) (*models.InstanceModel, error) {
	var id uuid.UUID
	switch v := value.(type) {
	case *models.InstanceModel:
		id = v.ID
	case models.InstanceModel:
		id = v.ID
	case uuid.UUID:
		id = v
	case string:
		parsed, err := uuid.Parse(v)
		if err != nil {
			return nil, errors.TypeCoercionf("%q is not an instance id", v)
		}
		id = parsed
	default:
		return nil, errors.TypeCoercionf("expected an instance or instance id, got %T", value)
	}

	if id == uuid.Nil {
		return nil, errors.IntegrityViolationf("referenced instance is not saved")
	}

	var instance models.InstanceModel
	if err := tx.First(&instance, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.NotFoundf("instance %s not found", id)
		}
		return nil, errors.Wrapf(err, "load instance %s", id)
	}
	return &instance, nil
}

func isNilValue(v interface{}) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice:
		return rv.IsNil()
	}
	return false
}

func modelName(m *models.MetaModel, id uuid.UUID) string {
	if m == nil {
		return id.String()
	}
	return m.Name
}
