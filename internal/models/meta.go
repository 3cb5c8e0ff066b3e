// internal/models/meta.go
package models

import (
	"strings"

	"github.com/google/uuid"
)

// MetaModel declares a runtime type: one of the primitive kinds, or a
// composite entity whose attributes are described by MetaFields.
type MetaModel struct {
	BaseModel
	Name            string `json:"name" gorm:"size:100;not null;uniqueIndex"`
	UnicodeTemplate string `json:"unicode_template" gorm:"size:255"`
	OrderingField   string `json:"ordering_field" gorm:"size:255"`

	// Relationships
	Fields []MetaField `json:"fields,omitempty" gorm:"foreignKey:ParentID"`
}

func (m *MetaModel) IsPrimitive() bool {
	_, ok := ParseKind(m.Name)
	return ok
}

// Kind returns the primitive kind of the model, if it is primitive.
func (m *MetaModel) Kind() (Kind, bool) {
	return ParseKind(m.Name)
}

// OrderingFields splits OrderingField into attribute names. The unicode
// token is returned as a single element.
func (m *MetaModel) OrderingFields() []string {
	if strings.TrimSpace(m.OrderingField) == "" {
		return nil
	}
	var names []string
	for _, part := range strings.Split(m.OrderingField, ",") {
		if name := strings.TrimSpace(part); name != "" {
			names = append(names, name)
		}
	}
	return names
}

func (m *MetaModel) String() string {
	return m.Name
}

// MetaField is a named, typed edge from Parent to the target Model.
type MetaField struct {
	BaseModel
	ParentID uuid.UUID `json:"parent_id" gorm:"type:uuid;not null;uniqueIndex:idx_meta_fields_parent_name"`
	ModelID  uuid.UUID `json:"model_id" gorm:"type:uuid;not null;index"`
	Name     string    `json:"name" gorm:"size:100;not null;uniqueIndex:idx_meta_fields_parent_name"`
	Nullable bool      `json:"nullable" gorm:"default:false"`
	Multiple bool      `json:"multiple" gorm:"default:false"`
	Hidden   bool      `json:"hidden" gorm:"default:false"`
	Ordering int       `json:"ordering" gorm:"default:0"`
	HelpText string    `json:"help_text" gorm:"type:text"`

	// Relationships
	Parent *MetaModel `json:"parent,omitempty" gorm:"foreignKey:ParentID;constraint:OnDelete:CASCADE"`
	Model  *MetaModel `json:"model,omitempty" gorm:"foreignKey:ModelID"`
}

// IsRequired reports whether every instance of the parent must hold exactly
// one value for this field.
func (f *MetaField) IsRequired() bool {
	return !f.Nullable && !f.Multiple
}

// InstanceModel is a concrete value of a MetaModel. Primitive instances hold
// their scalar in DecimalValue or UnicodeValue; composite instances keep their
// ordering key there and reach attributes through InstanceFields.
type InstanceModel struct {
	BaseModel
	ModelID               uuid.UUID           `json:"model_id" gorm:"type:uuid;not null;index"`
	DecimalValue          NullDecimal         `json:"decimal_value" gorm:"type:numeric;index"`
	UnicodeValue          *string             `json:"unicode_value" gorm:"type:text"`
	UnicodeRepresentation *string             `json:"unicode_representation" gorm:"type:text"`

	// Relationships
	Model *MetaModel `json:"model,omitempty" gorm:"foreignKey:ModelID"`
}

// DisplayString returns the cached representation or an empty string.
func (i *InstanceModel) DisplayString() string {
	if i.UnicodeRepresentation == nil {
		return ""
	}
	return *i.UnicodeRepresentation
}

func (i *InstanceModel) String() string {
	if s := i.DisplayString(); s != "" {
		return s
	}
	return i.ID.String()
}

// Storage returns the raw scalar columns of the instance.
func (i *InstanceModel) Storage() Storage {
	return Storage{Decimal: i.DecimalValue, Unicode: i.UnicodeValue}
}

// SetStorage overwrites the raw scalar columns of the instance.
func (i *InstanceModel) SetStorage(s Storage) {
	i.DecimalValue = s.Decimal
	i.UnicodeValue = s.Unicode
}

// InstanceField is the EAV cell: Parent holds Value for Field.
type InstanceField struct {
	BaseModel
	ParentID uuid.UUID `json:"parent_id" gorm:"type:uuid;not null;index:idx_instance_fields_parent_field"`
	FieldID  uuid.UUID `json:"field_id" gorm:"type:uuid;not null;index:idx_instance_fields_parent_field;index"`
	ValueID  uuid.UUID `json:"value_id" gorm:"type:uuid;not null;index"`
	Position int       `json:"position" gorm:"default:0"`

	// Relationships
	Parent *InstanceModel `json:"parent,omitempty" gorm:"foreignKey:ParentID;constraint:OnDelete:CASCADE"`
	Field  *MetaField     `json:"field,omitempty" gorm:"foreignKey:FieldID;constraint:OnDelete:CASCADE"`
	Value  *InstanceModel `json:"value,omitempty" gorm:"foreignKey:ValueID;constraint:OnDelete:CASCADE"`
}
