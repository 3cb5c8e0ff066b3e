// internal/models/common.go
package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base model with common fields. IDs are generated client side so the same
// entities migrate on postgres and sqlite.
type BaseModel struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primary_key"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// Column names shared by the services when building queries.
const (
	ColumnDecimalValue = "decimal_value"
	ColumnUnicodeValue = "unicode_value"
)

// OrderingUnicode is the ordering_field token that sorts by display string.
const OrderingUnicode = "unicode"
