// internal/utils/validator.go
package utils

import (
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Names a MetaField may not take: native instance attributes, the ordering
// token and Go keywords.
var reservedWords = map[string]bool{
	"id": true, "pk": true, "model": true, "model_id": true, "unicode": true,
	"decimal_value": true, "unicode_value": true, "unicode_representation": true,
	"created_at": true, "updated_at": true, "fields": true, "save": true, "delete": true,

	"break": true, "case": true, "chan": true, "const": true, "continue": true,
	"default": true, "defer": true, "else": true, "fallthrough": true, "for": true,
	"func": true, "go": true, "goto": true, "if": true, "import": true,
	"interface": true, "map": true, "package": true, "range": true, "return": true,
	"select": true, "struct": true, "switch": true, "type": true, "var": true,
	"nil": true, "true": true, "false": true,
}

func init() {
	validate = validator.New()
	validate.RegisterValidation("identifier", validateIdentifier)
	validate.RegisterValidation("not_reserved", validateNotReserved)
}

func ValidateStruct(s interface{}) error {
	return validate.Struct(s)
}

// ValidateVar checks a single value against a validation tag.
func ValidateVar(v interface{}, tag string) error {
	return validate.Var(v, tag)
}

// IsReservedWord reports whether name is reserved for native attributes.
func IsReservedWord(name string) bool {
	return reservedWords[strings.ToLower(name)]
}

func validateIdentifier(fl validator.FieldLevel) bool {
	return identifierPattern.MatchString(fl.Field().String())
}

func validateNotReserved(fl validator.FieldLevel) bool {
	return !IsReservedWord(fl.Field().String())
}

// Validation tags for common fields
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

func GetValidationErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		for _, e := range validationErrs {
			validationErrors = append(validationErrors, ValidationError{
				Field:   strings.ToLower(e.Field()),
				Tag:     e.Tag(),
				Message: getValidationMessage(e),
			})
		}
	}

	return validationErrors
}

// ValidationMessage joins the messages of a validator error into one line.
func ValidationMessage(err error) string {
	validationErrors := GetValidationErrors(err)
	if len(validationErrors) == 0 {
		return err.Error()
	}
	messages := make([]string, len(validationErrors))
	for i, e := range validationErrors {
		messages[i] = e.Message
	}
	return strings.Join(messages, "; ")
}

func getValidationMessage(e validator.FieldError) string {
	field := e.Field()
	if field == "" {
		field = "value"
	}
	switch e.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return field + " must be at least " + e.Param() + " characters"
	case "max":
		return field + " must be at most " + e.Param() + " characters"
	case "identifier":
		return field + " must be a valid identifier"
	case "not_reserved":
		return field + " is a reserved word"
	default:
		return field + " is invalid"
	}
}
