// internal/models/primitive.go
package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/javajoker/catalog-metamodel/internal/errors"
)

// Kind is the closed set of primitive MetaModel kinds. The string value is
// the MetaModel name that declares the kind.
type Kind string

const (
	KindBoolean  Kind = "BooleanField"
	KindChar     Kind = "CharField"
	KindDate     Kind = "DateField"
	KindDateTime Kind = "DateTimeField"
	KindDecimal  Kind = "DecimalField"
	KindFile     Kind = "FileField"
	KindInteger  Kind = "IntegerField"
)

// Kinds lists every primitive kind in a stable order.
var Kinds = []Kind{
	KindBoolean,
	KindChar,
	KindDate,
	KindDateTime,
	KindDecimal,
	KindFile,
	KindInteger,
}

// StorageColumn identifies which native column holds a primitive payload.
type StorageColumn string

const (
	StorageDecimal StorageColumn = ColumnDecimalValue
	StorageUnicode StorageColumn = ColumnUnicodeValue
)

// Storage is the raw column pair of an InstanceModel.
type Storage struct {
	Decimal NullDecimal
	Unicode *string
}

// StoredFile is the host value of a FileField: a path in external storage.
type StoredFile struct {
	Path string `json:"path"`
}

func (f StoredFile) String() string {
	return f.Path
}

// date ordinal of 1970-01-01, counting 0001-01-01 as day 1
const unixEpochOrdinal = 719163

const (
	minDateOrdinal = 1
	maxDateOrdinal = 3652059
	secondsPerDay  = 86400
)

type kindSpec struct {
	column StorageColumn
	widget string
	coerce func(v interface{}) (interface{}, error)
	parse  func(raw string) (interface{}, error)
	encode func(v interface{}) Storage
	decode func(s Storage) (interface{}, error)
}

var kindTable = map[Kind]kindSpec{
	KindBoolean: {
		column: StorageDecimal,
		widget: "checkbox",
		coerce: func(v interface{}) (interface{}, error) {
			b, ok := v.(bool)
			if !ok {
				return nil, errors.TypeCoercionf("%s expects a bool, got %T", KindBoolean, v)
			}
			return b, nil
		},
		parse: func(raw string) (interface{}, error) {
			return strconv.ParseBool(strings.TrimSpace(raw))
		},
		encode: func(v interface{}) Storage {
			if v.(bool) {
				return decimalStorage(decimal.NewFromInt(1))
			}
			return decimalStorage(decimal.Zero)
		},
		decode: func(s Storage) (interface{}, error) {
			d, err := requireDecimal(KindBoolean, s)
			if err != nil {
				return nil, err
			}
			switch {
			case d.Equal(decimal.Zero):
				return false, nil
			case d.Equal(decimal.NewFromInt(1)):
				return true, nil
			}
			return nil, errors.IntegrityViolationf("%s storage must be 0 or 1, got %s", KindBoolean, d)
		},
	},
	KindChar: {
		column: StorageUnicode,
		widget: "text",
		coerce: func(v interface{}) (interface{}, error) {
			s, ok := v.(string)
			if !ok {
				return nil, errors.TypeCoercionf("%s expects a string, got %T", KindChar, v)
			}
			return s, nil
		},
		parse: func(raw string) (interface{}, error) {
			return raw, nil
		},
		encode: func(v interface{}) Storage {
			return unicodeStorage(v.(string))
		},
		decode: func(s Storage) (interface{}, error) {
			return requireUnicode(KindChar, s)
		},
	},
	KindDate: {
		column: StorageDecimal,
		widget: "date",
		coerce: func(v interface{}) (interface{}, error) {
			t, ok := v.(time.Time)
			if !ok {
				return nil, errors.TypeCoercionf("%s expects a time.Time, got %T", KindDate, v)
			}
			return truncateToDate(t), nil
		},
		parse: func(raw string) (interface{}, error) {
			t, err := time.Parse("2006-01-02", strings.TrimSpace(raw))
			if err != nil {
				return nil, err
			}
			return t, nil
		},
		encode: func(v interface{}) Storage {
			return decimalStorage(decimal.NewFromInt(DateOrdinal(v.(time.Time))))
		},
		decode: func(s Storage) (interface{}, error) {
			d, err := requireDecimal(KindDate, s)
			if err != nil {
				return nil, err
			}
			if !d.IsInteger() || d.LessThan(decimal.NewFromInt(minDateOrdinal)) || d.GreaterThan(decimal.NewFromInt(maxDateOrdinal)) {
				return nil, errors.IntegrityViolationf("%s storage %s is not a valid day ordinal", KindDate, d)
			}
			return DateFromOrdinal(d.IntPart()), nil
		},
	},
	KindDateTime: {
		column: StorageDecimal,
		widget: "datetime",
		coerce: func(v interface{}) (interface{}, error) {
			t, ok := v.(time.Time)
			if !ok {
				return nil, errors.TypeCoercionf("%s expects a time.Time, got %T", KindDateTime, v)
			}
			return t.UTC().Truncate(time.Microsecond), nil
		},
		parse: func(raw string) (interface{}, error) {
			raw = strings.TrimSpace(raw)
			for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
				if t, err := time.Parse(layout, raw); err == nil {
					return t, nil
				}
			}
			return nil, fmt.Errorf("cannot parse %q as a datetime", raw)
		},
		encode: func(v interface{}) Storage {
			return decimalStorage(EpochSeconds(v.(time.Time)))
		},
		decode: func(s Storage) (interface{}, error) {
			d, err := requireDecimal(KindDateTime, s)
			if err != nil {
				return nil, err
			}
			micros := d.Shift(6)
			if !micros.IsInteger() || micros.Abs().GreaterThan(decimal.NewFromInt(math.MaxInt64/2)) {
				return nil, errors.IntegrityViolationf("%s storage %s is not a valid epoch timestamp", KindDateTime, d)
			}
			return time.UnixMicro(micros.IntPart()).UTC(), nil
		},
	},
	KindDecimal: {
		column: StorageDecimal,
		widget: "number",
		coerce: func(v interface{}) (interface{}, error) {
			switch t := v.(type) {
			case decimal.Decimal:
				return boundedDecimal(t)
			case *decimal.Decimal:
				if t != nil {
					return boundedDecimal(*t)
				}
			case float64:
				if math.IsNaN(t) || math.IsInf(t, 0) {
					return nil, errors.TypeCoercionf("%s cannot hold %v", KindDecimal, t)
				}
				return boundedDecimal(decimal.NewFromFloat(t))
			case float32:
				if math.IsNaN(float64(t)) || math.IsInf(float64(t), 0) {
					return nil, errors.TypeCoercionf("%s cannot hold %v", KindDecimal, t)
				}
				return boundedDecimal(decimal.NewFromFloat32(t))
			case int:
				return decimal.NewFromInt(int64(t)), nil
			case int64:
				return decimal.NewFromInt(t), nil
			case int32:
				return decimal.NewFromInt32(t), nil
			}
			return nil, errors.TypeCoercionf("%s expects a decimal, got %T", KindDecimal, v)
		},
		parse: func(raw string) (interface{}, error) {
			return decimal.NewFromString(strings.TrimSpace(raw))
		},
		encode: func(v interface{}) Storage {
			return decimalStorage(v.(decimal.Decimal))
		},
		decode: func(s Storage) (interface{}, error) {
			return requireDecimal(KindDecimal, s)
		},
	},
	KindFile: {
		column: StorageUnicode,
		widget: "file",
		coerce: func(v interface{}) (interface{}, error) {
			switch t := v.(type) {
			case StoredFile:
				return t, nil
			case *StoredFile:
				if t != nil {
					return *t, nil
				}
			case string:
				return StoredFile{Path: t}, nil
			}
			return nil, errors.TypeCoercionf("%s expects a StoredFile, got %T", KindFile, v)
		},
		parse: func(raw string) (interface{}, error) {
			return StoredFile{Path: strings.TrimSpace(raw)}, nil
		},
		encode: func(v interface{}) Storage {
			return unicodeStorage(v.(StoredFile).Path)
		},
		decode: func(s Storage) (interface{}, error) {
			path, err := requireUnicode(KindFile, s)
			if err != nil {
				return nil, err
			}
			return StoredFile{Path: path}, nil
		},
	},
	KindInteger: {
		column: StorageDecimal,
		widget: "integer",
		coerce: func(v interface{}) (interface{}, error) {
			switch t := v.(type) {
			case int:
				return int64(t), nil
			case int8:
				return int64(t), nil
			case int16:
				return int64(t), nil
			case int32:
				return int64(t), nil
			case int64:
				return t, nil
			case uint8:
				return int64(t), nil
			case uint16:
				return int64(t), nil
			case uint32:
				return int64(t), nil
			case uint:
				if uint64(t) <= math.MaxInt64 {
					return int64(t), nil
				}
			case uint64:
				if t <= math.MaxInt64 {
					return int64(t), nil
				}
			}
			return nil, errors.TypeCoercionf("%s expects an integer, got %T", KindInteger, v)
		},
		parse: func(raw string) (interface{}, error) {
			return strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		},
		encode: func(v interface{}) Storage {
			return decimalStorage(decimal.NewFromInt(v.(int64)))
		},
		decode: func(s Storage) (interface{}, error) {
			d, err := requireDecimal(KindInteger, s)
			if err != nil {
				return nil, err
			}
			if !d.IsInteger() {
				return nil, errors.IntegrityViolationf("%s storage %s is not an integer", KindInteger, d)
			}
			return d.IntPart(), nil
		},
	},
}

func init() {
	for _, kind := range Kinds {
		if _, ok := kindTable[kind]; !ok {
			panic(fmt.Sprintf("primitive kind %s has no behaviour table entry", kind))
		}
	}
	if len(kindTable) != len(Kinds) {
		panic("primitive kind table has entries outside the closed kind set")
	}
}

// ParseKind resolves a MetaModel name to a primitive kind.
func ParseKind(name string) (Kind, bool) {
	kind := Kind(name)
	_, ok := kindTable[kind]
	return kind, ok
}

// MustKind resolves name or fails with ErrConfiguration.
func MustKind(name string) (Kind, error) {
	kind, ok := ParseKind(name)
	if !ok {
		return "", errors.ConfigurationErrorf("unknown primitive kind %q", name)
	}
	return kind, nil
}

// Column returns the native column that stores values of the kind.
func (k Kind) Column() StorageColumn {
	return kindTable[k].column
}

// Widget returns the default form widget for the kind.
func (k Kind) Widget() string {
	return kindTable[k].widget
}

func (k Kind) IsNumeric() bool {
	return k.Column() == StorageDecimal
}

// Coerce checks a host value against the kind and normalizes it: bool,
// string, time.Time, decimal.Decimal, StoredFile or int64.
func (k Kind) Coerce(v interface{}) (interface{}, error) {
	entry, ok := kindTable[k]
	if !ok {
		return nil, errors.ConfigurationErrorf("unknown primitive kind %q", k)
	}
	if v == nil {
		return nil, errors.TypeCoercionf("%s cannot hold a nil value", k)
	}
	return entry.coerce(v)
}

// Parse converts external text input into the kind's host value.
func (k Kind) Parse(raw string) (interface{}, error) {
	entry, ok := kindTable[k]
	if !ok {
		return nil, errors.ConfigurationErrorf("unknown primitive kind %q", k)
	}
	v, err := entry.parse(raw)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "parse %s", k), errors.ErrTypeCoercion)
	}
	return entry.coerce(v)
}

// Encode coerces v and serializes it into storage columns.
func (k Kind) Encode(v interface{}) (Storage, error) {
	canonical, err := k.Coerce(v)
	if err != nil {
		return Storage{}, err
	}
	return kindTable[k].encode(canonical), nil
}

// Decode reads the host value back from storage columns. Malformed storage
// is reported as an integrity violation.
func (k Kind) Decode(s Storage) (interface{}, error) {
	entry, ok := kindTable[k]
	if !ok {
		return nil, errors.ConfigurationErrorf("unknown primitive kind %q", k)
	}
	if entry.column == StorageDecimal && s.Unicode != nil {
		return nil, errors.IntegrityViolationf("%s must not use %s", k, ColumnUnicodeValue)
	}
	if entry.column == StorageUnicode && s.Decimal.Valid {
		return nil, errors.IntegrityViolationf("%s must not use %s", k, ColumnDecimalValue)
	}
	return entry.decode(s)
}

// OrderingKey is the type-normalized sort key of a stored primitive value.
func (k Kind) OrderingKey(s Storage) (OrderingKey, error) {
	if _, err := k.Decode(s); err != nil {
		return OrderingKey{}, err
	}
	if k.Column() == StorageDecimal {
		return NumericKey(s.Decimal.Decimal), nil
	}
	return TextKey(*s.Unicode), nil
}

// DateOrdinal returns the proleptic Gregorian day number of t, with
// 0001-01-01 as day 1.
func DateOrdinal(t time.Time) int64 {
	d := truncateToDate(t)
	return floorDiv(d.Unix(), secondsPerDay) + unixEpochOrdinal
}

// DateFromOrdinal is the inverse of DateOrdinal.
func DateFromOrdinal(ordinal int64) time.Time {
	return time.Unix((ordinal-unixEpochOrdinal)*secondsPerDay, 0).UTC()
}

// EpochSeconds returns t as seconds since the unix epoch with microsecond
// precision.
func EpochSeconds(t time.Time) decimal.Decimal {
	return decimal.New(t.UnixMicro(), -6)
}

func truncateToDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func boundedDecimal(d decimal.Decimal) (interface{}, error) {
	if IntegerDigits(d) > MaxDecimalDigits {
		return nil, errors.TypeCoercionf("%s %s exceeds %d integer digits", KindDecimal, d, MaxDecimalDigits)
	}
	return d, nil
}

func decimalStorage(d decimal.Decimal) Storage {
	return Storage{Decimal: NewNullDecimal(d)}
}

func unicodeStorage(s string) Storage {
	return Storage{Unicode: &s}
}

func requireDecimal(kind Kind, s Storage) (decimal.Decimal, error) {
	if !s.Decimal.Valid {
		return decimal.Decimal{}, errors.IntegrityViolationf("%s requires %s", kind, ColumnDecimalValue)
	}
	return s.Decimal.Decimal, nil
}

func requireUnicode(kind Kind, s Storage) (string, error) {
	if s.Unicode == nil {
		return "", errors.IntegrityViolationf("%s requires %s", kind, ColumnUnicodeValue)
	}
	return *s.Unicode, nil
}
