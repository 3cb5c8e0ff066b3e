// internal/services/form_service.go
package services

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/javajoker/catalog-metamodel/internal/errors"
	"github.com/javajoker/catalog-metamodel/internal/models"
)

const (
	widgetSelect      = "select"
	widgetMultiSelect = "multiselect"

	// composite choice lists are cut at this size
	maxFormChoices = 200
)

// FieldDescriptor describes one visible field for a form renderer.
type FieldDescriptor struct {
	Name        string   `json:"name"`
	Required    bool     `json:"required"`
	Multiple    bool     `json:"multiple"`
	HelpText    string   `json:"help_text,omitempty"`
	TargetModel string   `json:"target_model"`
	Widget      string   `json:"widget"`
	Choices     []Choice `json:"choices,omitempty"`
}

// Choice is an existing instance offered for a composite field.
type Choice struct {
	ID    uuid.UUID `json:"id"`
	Label string    `json:"label"`
}

type FormService struct {
	db       *gorm.DB
	registry *SchemaRegistry
}

func NewFormService(db *gorm.DB, registry *SchemaRegistry) *FormService {
	return &FormService{db: db, registry: registry}
}

// Describe returns a descriptor per non-hidden field of modelID in schema
// order. Composite targets offer their instances in ordering key order.
func (s *FormService) Describe(ctx context.Context, modelID uuid.UUID) ([]FieldDescriptor, error) {
	tx := s.db.WithContext(ctx)
	fields, err := s.registry.Fields(tx, modelID)
	if err != nil {
		return nil, err
	}

	descriptors := make([]FieldDescriptor, 0, len(fields))
	for _, field := range fields {
		if field.Hidden {
			continue
		}
		target, err := s.registry.Model(tx, field.ModelID)
		if err != nil {
			return nil, err
		}

		d := FieldDescriptor{
			Name:        field.Name,
			Required:    !field.Nullable,
			Multiple:    field.Multiple,
			HelpText:    field.HelpText,
			TargetModel: target.Name,
		}
		if kind, ok := target.Kind(); ok {
			d.Widget = kind.Widget()
		} else {
			d.Widget = widgetSelect
			if field.Multiple {
				d.Widget = widgetMultiSelect
			}
			d.Choices, err = s.choices(tx, target.ID)
			if err != nil {
				return nil, err
			}
		}
		descriptors = append(descriptors, d)
	}
	return descriptors, nil
}

func (s *FormService) choices(tx *gorm.DB, modelID uuid.UUID) ([]Choice, error) {
	var instances []models.InstanceModel
	err := tx.Where("model_id = ?", modelID).
		Order(models.ColumnDecimalValue + " ASC").
		Order(models.ColumnUnicodeValue + " ASC").
		Order("id ASC").
		Limit(maxFormChoices).
		Find(&instances).Error
	if err != nil {
		return nil, errors.Wrap(err, "load choices")
	}
	choices := make([]Choice, len(instances))
	for i := range instances {
		choices[i] = Choice{ID: instances[i].ID, Label: instances[i].String()}
	}
	return choices, nil
}

// BindValues converts submitted text into attribute values for
// InstanceService.Create or SetAttribute. Primitive values are parsed by
// their kind; composite values are instance ids. Blank input leaves a
// nullable field empty. Hidden and unknown names are ignored.
func (s *FormService) BindValues(ctx context.Context, modelID uuid.UUID, input map[string][]string) (map[string]interface{}, error) {
	tx := s.db.WithContext(ctx)
	fields, err := s.registry.Fields(tx, modelID)
	if err != nil {
		return nil, err
	}

	values := make(map[string]interface{}, len(fields))
	var combined error
	for _, field := range fields {
		if field.Hidden {
			continue
		}
		raw := nonBlank(input[field.Name])
		kind, primitive, err := s.registry.IsPrimitive(tx, field.ModelID)
		if err != nil {
			return nil, err
		}

		parse := func(text string) (interface{}, error) {
			if primitive {
				return kind.Parse(text)
			}
			id, err := uuid.Parse(strings.TrimSpace(text))
			if err != nil {
				return nil, errors.TypeCoercionf("%q is not an instance id", text)
			}
			return id, nil
		}

		if field.Multiple {
			items := make([]interface{}, 0, len(raw))
			for _, text := range raw {
				v, err := parse(text)
				if err != nil {
					combined = errors.CombineErrors(combined, errors.Wrapf(err, "field %s", field.Name))
					continue
				}
				items = append(items, v)
			}
			values[field.Name] = items
			continue
		}

		if len(raw) == 0 {
			if field.IsRequired() {
				combined = errors.CombineErrors(combined, errors.SchemaViolationf("%s is required", field.Name))
				continue
			}
			values[field.Name] = nil
			continue
		}
		v, err := parse(raw[0])
		if err != nil {
			combined = errors.CombineErrors(combined, errors.Wrapf(err, "field %s", field.Name))
			continue
		}
		values[field.Name] = v
	}

	if combined != nil {
		return nil, combined
	}
	return values, nil
}

func nonBlank(raw []string) []string {
	result := make([]string, 0, len(raw))
	for _, r := range raw {
		if strings.TrimSpace(r) != "" {
			result = append(result, r)
		}
	}
	return result
}
