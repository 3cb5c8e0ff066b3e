// internal/services/instance_display.go
package services

import (
	"context"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/javajoker/catalog-metamodel/internal/errors"
	"github.com/javajoker/catalog-metamodel/internal/models"
)

// instanceReader exposes one instance to hooks through the transaction the
// caller is running in.
type instanceReader struct {
	svc   *InstanceService
	tx    *gorm.DB
	inst  *models.InstanceModel
	model *models.MetaModel
}

func (r *instanceReader) Instance() *models.InstanceModel { return r.inst }
func (r *instanceReader) Model() *models.MetaModel        { return r.model }

func (r *instanceReader) Get(name string) (interface{}, error) {
	return r.svc.getAttribute(r.tx, r.inst, name)
}

// Reader returns an InstanceReader for inst outside of any transaction.
func (s *InstanceService) Reader(ctx context.Context, inst *models.InstanceModel) (InstanceReader, error) {
	tx := s.db.WithContext(ctx)
	model, err := s.registry.Model(tx, inst.ModelID)
	if err != nil {
		return nil, err
	}
	return &instanceReader{svc: s, tx: tx, inst: inst, model: model}, nil
}

// DisplayString computes the display string of a composite instance as the
// next save would store it.
func (s *InstanceService) DisplayString(ctx context.Context, inst *models.InstanceModel) (string, error) {
	tx := s.db.WithContext(ctx)
	model, err := s.registry.Model(tx, inst.ModelID)
	if err != nil {
		return "", err
	}
	if model.IsPrimitive() {
		return "", errors.SchemaViolationf("primitive %s instances have no display string", model.Name)
	}
	return s.displayString(ctx, tx, inst, model)
}

func (s *InstanceService) displayString(ctx context.Context, tx *gorm.DB, inst *models.InstanceModel, model *models.MetaModel) (string, error) {
	reader := &instanceReader{svc: s, tx: tx, inst: inst, model: model}
	for _, h := range s.hooks.unicodeFuncs() {
		display, err := h.fn(ctx, reader)
		if err != nil {
			return "", errors.Wrapf(err, "unicode function %s", h.name)
		}
		if display != "" {
			return display, nil
		}
	}

	if model.UnicodeTemplate != "" {
		display, err := s.renderTemplate(tx, inst, model)
		if err != nil {
			return "", err
		}
		if display != "" {
			return display, nil
		}
	}

	return fmt.Sprintf("%s #%s", model.Name, inst.ID), nil
}

// ParseUnicodeTemplate compiles a unicode template. Referencing a name that
// is not a field of the model fails at render time.
func ParseUnicodeTemplate(text string) (*template.Template, error) {
	tmpl, err := template.New("unicode").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "invalid unicode template"), errors.ErrSchemaViolation)
	}
	return tmpl, nil
}

func (s *InstanceService) unicodeTemplate(text string) (*template.Template, error) {
	if cached, ok := s.templates.Load(text); ok {
		return cached.(*template.Template), nil
	}
	tmpl, err := ParseUnicodeTemplate(text)
	if err != nil {
		return nil, err
	}
	actual, _ := s.templates.LoadOrStore(text, tmpl)
	return actual.(*template.Template), nil
}

// renderTemplate executes the model's template over its declared
// attributes. Whitespace runs in the output collapse to one space.
func (s *InstanceService) renderTemplate(tx *gorm.DB, inst *models.InstanceModel, model *models.MetaModel) (string, error) {
	tmpl, err := s.unicodeTemplate(model.UnicodeTemplate)
	if err != nil {
		return "", err
	}

	fields, err := s.registry.Fields(tx, model.ID)
	if err != nil {
		return "", err
	}
	data := make(map[string]interface{}, len(fields)+1)
	data["id"] = inst.ID.String()
	for i := range fields {
		field := &fields[i]
		value, err := s.fieldValue(tx, inst, field)
		if err != nil {
			return "", err
		}
		kind, _, err := s.registry.IsPrimitive(tx, field.ModelID)
		if err != nil {
			return "", err
		}
		data[field.Name] = templateValue(kind, value)
	}

	return executeUnicodeTemplate(tmpl, model, data)
}

// executeUnicodeTemplate renders data and collapses whitespace runs.
func executeUnicodeTemplate(tmpl *template.Template, model *models.MetaModel, data map[string]interface{}) (string, error) {
	var out strings.Builder
	if err := tmpl.Execute(&out, data); err != nil {
		return "", errors.Mark(errors.Wrapf(err, "render unicode template of %s", model.Name), errors.ErrSchemaViolation)
	}
	return strings.Join(strings.Fields(out.String()), " "), nil
}

// templateValue renders a host value the way it reads in a display string.
func templateValue(kind models.Kind, value interface{}) interface{} {
	switch v := value.(type) {
	case nil:
		return ""
	case []interface{}:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, fmt.Sprint(templateValue(kind, item)))
		}
		return strings.Join(parts, ", ")
	case *models.InstanceModel:
		return v.String()
	case time.Time:
		if kind == models.KindDate {
			return v.Format("2006-01-02")
		}
		return v.Format(time.RFC3339)
	case decimal.Decimal:
		return v.String()
	case models.StoredFile:
		return v.Path
	}
	return value
}

// OrderingKey computes the ordering key of a stored instance as the next
// save would persist it.
func (s *InstanceService) OrderingKey(ctx context.Context, inst *models.InstanceModel) (models.OrderingKey, error) {
	tx := s.db.WithContext(ctx)
	model, err := s.registry.Model(tx, inst.ModelID)
	if err != nil {
		return models.OrderingKey{}, err
	}
	return s.orderingKey(tx, inst, model)
}

// orderingKey folds the keys of the ordering fields left to right. Fields
// without a value contribute nothing; the unicode token contributes the
// cached display string.
func (s *InstanceService) orderingKey(tx *gorm.DB, inst *models.InstanceModel, model *models.MetaModel) (models.OrderingKey, error) {
	if kind, ok := model.Kind(); ok {
		return kind.OrderingKey(inst.Storage())
	}

	var key models.OrderingKey
	for _, name := range model.OrderingFields() {
		if name == models.OrderingUnicode {
			if display := inst.DisplayString(); display != "" {
				key = key.Merge(models.TextKey(display))
			}
			continue
		}

		field, ok, err := s.registry.Field(tx, model.ID, name)
		if err != nil {
			return models.OrderingKey{}, err
		}
		if !ok {
			return models.OrderingKey{}, errors.SchemaViolationf("ordering field %q is not declared on %s", name, model.Name)
		}
		if field.Multiple {
			return models.OrderingKey{}, errors.SchemaViolationf("ordering field %s of %s is multiple", name, model.Name)
		}

		child, err := s.childKey(tx, inst, field)
		if err != nil {
			return models.OrderingKey{}, err
		}
		key = key.Merge(child)
	}
	if !key.IsZero() && !key.IsText() && models.IntegerDigits(key.Numeric()) > models.MaxDecimalDigits {
		return models.OrderingKey{}, errors.SchemaViolationf("ordering key of %s exceeds %d digits", model.Name, models.MaxDecimalDigits)
	}
	return key, nil
}

func (s *InstanceService) childKey(tx *gorm.DB, inst *models.InstanceModel, field *models.MetaField) (models.OrderingKey, error) {
	if inst.ID == uuid.Nil {
		return models.OrderingKey{}, nil
	}
	cells, err := s.fields.cells(tx, inst.ID, field.ID)
	if err != nil {
		return models.OrderingKey{}, err
	}
	if len(cells) == 0 {
		return models.OrderingKey{}, nil
	}
	value := cells[0].Value
	if value == nil {
		return models.OrderingKey{}, errors.IntegrityViolationf("%s points at missing instance %s", field.Name, cells[0].ValueID)
	}

	kind, primitive, err := s.registry.IsPrimitive(tx, field.ModelID)
	if err != nil {
		return models.OrderingKey{}, err
	}
	if primitive {
		return kind.OrderingKey(value.Storage())
	}
	return models.OrderingKeyFromStorage(value.Storage()), nil
}

// checkUnicodeTemplate renders text with every field name bound to an empty
// value, catching syntax errors and references to undeclared fields.
func checkUnicodeTemplate(model *models.MetaModel, text string, fieldNames []string) error {
	if text == "" {
		return nil
	}
	tmpl, err := ParseUnicodeTemplate(text)
	if err != nil {
		return err
	}
	data := make(map[string]interface{}, len(fieldNames)+1)
	data["id"] = ""
	for _, name := range fieldNames {
		data[name] = ""
	}
	_, err = executeUnicodeTemplate(tmpl, model, data)
	return err
}
