// internal/models/decimal.go
package models

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"

	"github.com/javajoker/catalog-metamodel/internal/errors"
)

// MaxDecimalDigits bounds the integer digits of a stored decimal. Merged
// ordering keys grow by 15 digits per numeric field.
const MaxDecimalDigits = 120

const (
	sortableNegative = 'A'
	sortablePositive = 'B'
	// closes a negative encoding so shorter fractions sort above longer ones
	sortableNegativeEnd = '~'
)

// NullDecimal is the exact decimal column of an InstanceModel. Postgres
// keeps it as numeric. SQLite has no exact decimal type and would round
// large values through REAL, so there the value is written as text in an
// encoding whose byte order is the numeric order.
type NullDecimal struct {
	decimal.NullDecimal
}

func NewNullDecimal(d decimal.Decimal) NullDecimal {
	return NullDecimal{decimal.NullDecimal{Decimal: d, Valid: true}}
}

// IntegerDigits counts the digits left of the decimal point.
func IntegerDigits(d decimal.Decimal) int {
	s := d.Abs().Truncate(0).String()
	if s == "0" {
		return 0
	}
	return len(s)
}

func (NullDecimal) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	if db.Dialector.Name() == "sqlite" {
		return "text"
	}
	return "numeric"
}

func (n NullDecimal) GormValue(ctx context.Context, db *gorm.DB) clause.Expr {
	if !n.Valid {
		return clause.Expr{SQL: "NULL"}
	}
	if db.Dialector.Name() == "sqlite" {
		encoded, err := encodeSortableDecimal(n.Decimal)
		if err != nil {
			db.AddError(err)
			return clause.Expr{SQL: "NULL"}
		}
		return clause.Expr{SQL: "?", Vars: []interface{}{encoded}}
	}
	return clause.Expr{SQL: "?", Vars: []interface{}{n.Decimal.String()}}
}

// Scan reads both the sortable text encoding and plain numeric values.
func (n *NullDecimal) Scan(value interface{}) error {
	var text string
	switch v := value.(type) {
	case string:
		text = v
	case []byte:
		text = string(v)
	default:
		return n.NullDecimal.Scan(value)
	}
	if text == "" || (text[0] != sortableNegative && text[0] != sortablePositive) {
		return n.NullDecimal.Scan(value)
	}
	d, err := decodeSortableDecimal(text)
	if err != nil {
		return err
	}
	n.Decimal, n.Valid = d, true
	return nil
}

// encodeSortableDecimal renders d as 'B' + zero padded integer part +
// optional "." + fraction for d >= 0. Negative values use 'A' and the nines
// complement of every digit, always followed by "." and a closing '~'.
func encodeSortableDecimal(d decimal.Decimal) (string, error) {
	if IntegerDigits(d) > MaxDecimalDigits {
		return "", errors.TypeCoercionf("decimal %s exceeds %d integer digits", d, MaxDecimalDigits)
	}
	intPart, frac := splitDecimal(d.Abs())
	intPart = strings.Repeat("0", MaxDecimalDigits-len(intPart)) + intPart

	var b strings.Builder
	if !d.IsNegative() {
		b.WriteByte(sortablePositive)
		b.WriteString(intPart)
		if frac != "" {
			b.WriteByte('.')
			b.WriteString(frac)
		}
		return b.String(), nil
	}
	b.WriteByte(sortableNegative)
	b.WriteString(complementDigits(intPart))
	b.WriteByte('.')
	b.WriteString(complementDigits(frac))
	b.WriteByte(sortableNegativeEnd)
	return b.String(), nil
}

func decodeSortableDecimal(s string) (decimal.Decimal, error) {
	negative := s[0] == sortableNegative
	body := s[1:]
	if negative {
		body = complementDigits(strings.TrimSuffix(body, string(sortableNegativeEnd)))
	}
	body = strings.TrimSuffix(body, ".")
	intPart, frac, _ := strings.Cut(body, ".")
	intPart = strings.TrimLeft(intPart, "0")
	if intPart == "" {
		intPart = "0"
	}
	text := intPart
	if frac != "" {
		text += "." + frac
	}
	if negative {
		text = "-" + text
	}
	d, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Decimal{}, errors.Wrapf(err, "decode stored decimal %q", s)
	}
	return d, nil
}

func splitDecimal(d decimal.Decimal) (string, string) {
	intPart, frac, _ := strings.Cut(d.String(), ".")
	return intPart, strings.TrimRight(frac, "0")
}

func complementDigits(s string) string {
	out := []byte(s)
	for i, c := range out {
		if c >= '0' && c <= '9' {
			out[i] = '9' - c + '0'
		}
	}
	return string(out)
}
