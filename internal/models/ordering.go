// internal/models/ordering.go
package models

import (
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const (
	// consecutive numeric contributions shift the accumulator by 10^15
	orderingNumericShift = 15
	// width of one text segment, and minimum width of a numeric fragment
	// rendered into text
	orderingSegmentWidth = 30
)

// OrderingKey is a sortable key that is either numeric or textual. Keys of
// several attributes are combined with Merge, left to right.
type OrderingKey struct {
	numeric decimal.Decimal
	text    string
	isText  bool
	valid   bool
	merged  bool
}

func NumericKey(d decimal.Decimal) OrderingKey {
	return OrderingKey{numeric: d, valid: true}
}

func TextKey(s string) OrderingKey {
	return OrderingKey{text: s, isText: true, valid: true}
}

// IsZero reports whether the key holds no contribution.
func (k OrderingKey) IsZero() bool {
	return !k.valid
}

func (k OrderingKey) IsText() bool {
	return k.valid && k.isText
}

func (k OrderingKey) Numeric() decimal.Decimal {
	return k.numeric
}

func (k OrderingKey) String() string {
	if !k.valid {
		return ""
	}
	if k.isText {
		return k.text
	}
	return k.numeric.String()
}

// Merge appends next to k:
//   - numeric, numeric: k*10^15 + next
//   - text, text: k padded to a segment boundary, then next as a segment
//   - mixed: the numeric side is zero padded into a text fragment
//
// Text segments longer than the segment width are truncated once merged.
// Merging into a zero key returns next unchanged.
func (k OrderingKey) Merge(next OrderingKey) OrderingKey {
	if !next.valid {
		return k
	}
	if !k.valid {
		return next
	}
	if !k.isText && !next.isText {
		shifted := k.numeric.Shift(orderingNumericShift)
		return OrderingKey{numeric: shifted.Add(next.numeric), valid: true, merged: true}
	}

	var head string
	if k.isText {
		text := k.text
		if !k.merged {
			text = truncateSegment(text)
		}
		head = padSegment(text)
	} else {
		head = zeroPadNumeric(k.numeric)
	}

	var tail string
	if next.isText {
		tail = truncateSegment(next.text)
	} else {
		tail = zeroPadNumeric(next.numeric)
	}
	return OrderingKey{text: head + tail, isText: true, valid: true, merged: true}
}

// Storage selects the column the key is persisted in: decimal_value when the
// key reads as a decimal, unicode_value otherwise.
func (k OrderingKey) Storage() Storage {
	if !k.valid {
		return Storage{}
	}
	if !k.isText {
		return decimalStorage(k.numeric)
	}
	if d, err := decimal.NewFromString(strings.TrimSpace(k.text)); err == nil && strings.TrimSpace(k.text) != "" {
		return decimalStorage(d)
	}
	return unicodeStorage(k.text)
}

// OrderingKeyFromStorage rebuilds the key previously persisted with Storage.
func OrderingKeyFromStorage(s Storage) OrderingKey {
	switch {
	case s.Decimal.Valid:
		return NumericKey(s.Decimal.Decimal)
	case s.Unicode != nil:
		return TextKey(*s.Unicode)
	}
	return OrderingKey{}
}

func truncateSegment(s string) string {
	if utf8.RuneCountInString(s) <= orderingSegmentWidth {
		return s
	}
	return string([]rune(s)[:orderingSegmentWidth])
}

func padSegment(s string) string {
	n := utf8.RuneCountInString(s)
	target := ((n + orderingSegmentWidth - 1) / orderingSegmentWidth) * orderingSegmentWidth
	if target == 0 {
		target = orderingSegmentWidth
	}
	return s + strings.Repeat(" ", target-n)
}

func zeroPadNumeric(d decimal.Decimal) string {
	s := d.Abs().String()
	sign := ""
	width := orderingSegmentWidth
	if d.IsNegative() {
		sign = "-"
		width--
	}
	if len(s) < width {
		s = strings.Repeat("0", width-len(s)) + s
	}
	return sign + s
}
