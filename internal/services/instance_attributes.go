// internal/services/instance_attributes.go
package services

import (
	"context"
	"reflect"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/javajoker/catalog-metamodel/internal/database"
	"github.com/javajoker/catalog-metamodel/internal/errors"
	"github.com/javajoker/catalog-metamodel/internal/models"
)

// GetAttribute reads attribute name of a composite instance. Declared
// fields win; other names fall back to the native attributes of the row.
//
// A non-multiple field returns its host value or nil. A multiple field
// returns a []interface{} in write order, possibly empty. Primitive values
// come back as host values; composite values as *models.InstanceModel.
func (s *InstanceService) GetAttribute(ctx context.Context, inst *models.InstanceModel, name string) (interface{}, error) {
	return s.getAttribute(s.db.WithContext(ctx), inst, name)
}

// GetInstances returns the stored instances behind attribute name, for
// callers that need the wrapped primitives rather than host values.
func (s *InstanceService) GetInstances(ctx context.Context, inst *models.InstanceModel, name string) ([]*models.InstanceModel, error) {
	tx := s.db.WithContext(ctx)
	field, ok, err := s.registry.Field(tx, inst.ModelID, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.AttributeNotFoundf("%s is not a field of model %s", name, inst.ModelID)
	}

	cells, err := s.fields.cells(tx, inst.ID, field.ID)
	if err != nil {
		return nil, err
	}
	values := make([]*models.InstanceModel, 0, len(cells))
	for _, cell := range cells {
		if cell.Value == nil {
			return nil, errors.IntegrityViolationf("%s points at missing instance %s", field.Name, cell.ValueID)
		}
		values = append(values, cell.Value)
	}
	return values, nil
}

// SetAttribute writes attribute name and persists the cells at once. The
// cached display string and ordering key are refreshed by the next Save.
//
// Non-multiple fields take one value or nil; nil clears the cell and is
// rejected for required fields. Multiple fields take a slice that replaces
// every current value. Composite values are instances or instance ids.
// Undeclared names address the native attributes of the row.
func (s *InstanceService) SetAttribute(ctx context.Context, inst *models.InstanceModel, name string, value interface{}) error {
	return database.WithTransaction(ctx, s.db, func(tx *gorm.DB) error {
		return s.setAttribute(tx, inst, name, value)
	})
}

func (s *InstanceService) getAttribute(tx *gorm.DB, inst *models.InstanceModel, name string) (interface{}, error) {
	field, ok, err := s.registry.Field(tx, inst.ModelID, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nativeAttribute(inst, name)
	}
	return s.fieldValue(tx, inst, field)
}

func (s *InstanceService) fieldValue(tx *gorm.DB, inst *models.InstanceModel, field *models.MetaField) (interface{}, error) {
	kind, primitive, err := s.registry.IsPrimitive(tx, field.ModelID)
	if err != nil {
		return nil, err
	}

	var cells []models.InstanceField
	if inst.ID != uuid.Nil {
		cells, err = s.fields.cells(tx, inst.ID, field.ID)
		if err != nil {
			return nil, err
		}
	}

	if field.Multiple {
		values := make([]interface{}, 0, len(cells))
		for _, cell := range cells {
			v, err := cellHostValue(cell, kind, primitive)
			if err != nil {
				return nil, err
			}
			values = append(values, v)
		}
		return values, nil
	}

	switch {
	case len(cells) == 0:
		return nil, nil
	case len(cells) > 1 && s.strict:
		return nil, errors.IntegrityViolationf("%s holds %d values but is not multiple", field.Name, len(cells))
	}
	return cellHostValue(cells[0], kind, primitive)
}

func cellHostValue(cell models.InstanceField, kind models.Kind, primitive bool) (interface{}, error) {
	if cell.Value == nil {
		return nil, errors.IntegrityViolationf("instance field %s points at missing instance %s", cell.ID, cell.ValueID)
	}
	if primitive {
		return kind.Decode(cell.Value.Storage())
	}
	return cell.Value, nil
}

func (s *InstanceService) setAttribute(tx *gorm.DB, inst *models.InstanceModel, name string, value interface{}) error {
	field, ok, err := s.registry.Field(tx, inst.ModelID, name)
	if err != nil {
		return err
	}
	if !ok {
		return setNativeAttribute(inst, name, value)
	}

	if !field.Multiple {
		if isNilValue(value) && field.IsRequired() {
			return errors.IntegrityViolationf("%s is required", field.Name)
		}
		_, err := s.fields.getOrCreateWithValue(tx, inst, field, value)
		return err
	}

	items, err := toSlice(value)
	if err != nil {
		return errors.Wrapf(err, "field %s", field.Name)
	}

	// resolve everything before touching the current cells
	resolved := make([]cellValue, 0, len(items))
	for _, item := range items {
		if isNilValue(item) {
			return errors.TypeCoercionf("%s cannot hold nil entries", field.Name)
		}
		cv, err := s.fields.resolveValue(tx, field, item)
		if err != nil {
			return err
		}
		resolved = append(resolved, cv)
	}

	if err := s.fields.checkFieldParent(inst, field); err != nil {
		return err
	}
	if err := s.fields.removeAll(tx, inst.ID, field); err != nil {
		return err
	}
	for i, cv := range resolved {
		if _, err := s.fields.create(tx, inst, field, cv, i); err != nil {
			return err
		}
	}
	return nil
}

// nativeAttribute serves names the model does not declare from the row
// itself.
func nativeAttribute(inst *models.InstanceModel, name string) (interface{}, error) {
	switch name {
	case "id", "pk":
		return inst.ID, nil
	case "model_id":
		return inst.ModelID, nil
	case "model":
		if inst.Model == nil {
			return nil, nil
		}
		return inst.Model, nil
	case models.OrderingUnicode, "unicode_representation":
		return inst.DisplayString(), nil
	case models.ColumnDecimalValue:
		if !inst.DecimalValue.Valid {
			return nil, nil
		}
		return inst.DecimalValue.Decimal, nil
	case models.ColumnUnicodeValue:
		if inst.UnicodeValue == nil {
			return nil, nil
		}
		return *inst.UnicodeValue, nil
	case "created_at":
		return inst.CreatedAt, nil
	case "updated_at":
		return inst.UpdatedAt, nil
	}
	return nil, errors.AttributeNotFoundf("instance of model %s has no attribute %q", inst.ModelID, name)
}

// setNativeAttribute assigns the cached columns of the row in memory. They
// reach the database with the next Save, which recomputes them for
// composite instances. Identity and timestamps are read-only.
func setNativeAttribute(inst *models.InstanceModel, name string, value interface{}) error {
	switch name {
	case "unicode_representation":
		text, err := optionalText(name, value)
		if err != nil {
			return err
		}
		inst.UnicodeRepresentation = text
		return nil
	case models.ColumnUnicodeValue:
		text, err := optionalText(name, value)
		if err != nil {
			return err
		}
		inst.UnicodeValue = text
		return nil
	case models.ColumnDecimalValue:
		if isNilValue(value) {
			inst.DecimalValue = models.NullDecimal{}
			return nil
		}
		d, err := models.KindDecimal.Coerce(value)
		if err != nil {
			return errors.Wrapf(err, "assign %s", name)
		}
		inst.DecimalValue = models.NewNullDecimal(d.(decimal.Decimal))
		return nil
	}
	if _, err := nativeAttribute(inst, name); err != nil {
		return err
	}
	return errors.SchemaViolationf("attribute %q of instance %s is read-only", name, inst.ID)
}

func optionalText(name string, value interface{}) (*string, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		return &v, nil
	case *string:
		if v == nil {
			return nil, nil
		}
		text := *v
		return &text, nil
	}
	return nil, errors.TypeCoercionf("%s expects a string, got %T", name, value)
}

func toSlice(value interface{}) ([]interface{}, error) {
	if isNilValue(value) {
		return nil, nil
	}
	if items, ok := value.([]interface{}); ok {
		return items, nil
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, errors.TypeCoercionf("multiple field expects a slice, got %T", value)
	}
	items := make([]interface{}, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items, nil
}
