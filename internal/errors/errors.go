// Package errors provides error handling for the metamodel engine.
//
// It re-exports github.com/cockroachdb/errors and defines the engine's
// error kinds as sentinels. Concrete errors are marked with a kind, so
// callers branch with errors.Is while the message stays descriptive:
//
//	if errors.Is(err, errors.ErrSchemaViolation) {
//	    // reject the admin request
//	}
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

var (
	New      = crdb.New
	Newf     = crdb.Newf
	Wrap     = crdb.Wrap
	Wrapf    = crdb.Wrapf
	WithHint = crdb.WithHint
	Mark     = crdb.Mark
	Is       = crdb.Is
	IsAny    = crdb.IsAny
	As       = crdb.As

	CombineErrors = crdb.CombineErrors
)

var (
	// ErrSchemaViolation is returned when a MetaModel or MetaField change
	// breaks a schema rule. Nothing has been written when it is returned.
	ErrSchemaViolation = New("schema violation")

	// ErrIntegrityViolation is returned by strict-mode checks on instance
	// graphs.
	ErrIntegrityViolation = New("integrity violation")

	// ErrTypeCoercion is returned when a host value does not fit the
	// primitive kind it is assigned to.
	ErrTypeCoercion = New("type coercion failed")

	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = New("not found")

	// ErrAttributeNotFound is returned when a name resolves neither to a
	// MetaField nor to a native instance attribute.
	ErrAttributeNotFound = New("attribute not found")

	// ErrConfiguration marks fatal startup problems.
	ErrConfiguration = New("configuration error")
)

// SchemaViolationf creates an error of kind ErrSchemaViolation.
func SchemaViolationf(format string, args ...interface{}) error {
	return Mark(crdb.NewWithDepthf(1, format, args...), ErrSchemaViolation)
}

// IntegrityViolationf creates an error of kind ErrIntegrityViolation.
func IntegrityViolationf(format string, args ...interface{}) error {
	return Mark(crdb.NewWithDepthf(1, format, args...), ErrIntegrityViolation)
}

// TypeCoercionf creates an error of kind ErrTypeCoercion.
func TypeCoercionf(format string, args ...interface{}) error {
	return Mark(crdb.NewWithDepthf(1, format, args...), ErrTypeCoercion)
}

// NotFoundf creates an error of kind ErrNotFound.
func NotFoundf(format string, args ...interface{}) error {
	return Mark(crdb.NewWithDepthf(1, format, args...), ErrNotFound)
}

// AttributeNotFoundf creates an error of kind ErrAttributeNotFound.
func AttributeNotFoundf(format string, args ...interface{}) error {
	return Mark(crdb.NewWithDepthf(1, format, args...), ErrAttributeNotFound)
}

// ConfigurationErrorf creates an error of kind ErrConfiguration.
func ConfigurationErrorf(format string, args ...interface{}) error {
	return Mark(crdb.NewWithDepthf(1, format, args...), ErrConfiguration)
}

// IsSchemaViolation reports whether err is or wraps a schema violation.
func IsSchemaViolation(err error) bool {
	return err != nil && Is(err, ErrSchemaViolation)
}

// IsIntegrityViolation reports whether err is or wraps an integrity violation.
func IsIntegrityViolation(err error) bool {
	return err != nil && Is(err, ErrIntegrityViolation)
}

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsTypeCoercion reports whether err is or wraps a coercion failure.
func IsTypeCoercion(err error) bool {
	return err != nil && Is(err, ErrTypeCoercion)
}
