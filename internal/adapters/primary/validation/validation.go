package validation

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/lorrc/salon-notifications/internal/core/errors"
)

var (
	structValidator     *validator.Validate
	structValidatorOnce sync.Once
)

// structs returns the shared validator. Field errors are reported under the
// json tag name so they match the request body.
func structs() *validator.Validate {
	structValidatorOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return f.Name
			}
			return name
		})
		structValidator = v
	})
	return structValidator
}

// Struct validates a request DTO against its validate tags and converts the
// result into ValidationErrors.
func Struct(s any) error {
	err := structs().Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apperrors.NewBadRequestError(err, "Invalid request")
	}

	errs := apperrors.NewValidationErrors()
	for _, fe := range fieldErrs {
		errs.Add(fe.Field(), messageFor(fe))
	}
	return errs
}

func messageFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required"
	case "max":
		return "Must be at most " + fe.Param() + " characters"
	case "min":
		return "Must be at least " + fe.Param()
	case "oneof":
		return "Must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "uuid":
		return "Must be a valid UUID"
	default:
		return "Failed " + fe.Tag() + " validation"
	}
}

// Validator collects field errors for values that do not come from a struct,
// such as query parameters.
type Validator struct {
	errors *apperrors.ValidationErrors
}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{
		errors: apperrors.NewValidationErrors(),
	}
}

// HasErrors returns true if there are validation errors
func (v *Validator) HasErrors() bool {
	return v.errors.HasErrors()
}

// Errors returns the validation errors
func (v *Validator) Errors() *apperrors.ValidationErrors {
	return v.errors
}

// Range validates integer is within range
func (v *Validator) Range(field string, value, min, max int) *Validator {
	if value < min || value > max {
		v.errors.Add(field, "Must be between "+strconv.Itoa(min)+" and "+strconv.Itoa(max))
	}
	return v
}

// OneOf validates value is one of the allowed values
func (v *Validator) OneOf(field, value string, allowed []string) *Validator {
	if value == "" {
		return v
	}

	for _, a := range allowed {
		if value == a {
			return v
		}
	}

	v.errors.Add(field, "Must be one of: "+strings.Join(allowed, ", "))
	return v
}

// Custom adds a custom validation
func (v *Validator) Custom(field string, valid bool, message string) *Validator {
	if !valid {
		v.errors.Add(field, message)
	}
	return v
}

// DecodeAndValidate decodes the JSON request body and validates its tags.
func DecodeAndValidate[T any](r *http.Request) (*T, error) {
	var req T

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, apperrors.NewBadRequestError(err, "Invalid request body")
	}

	if err := Struct(&req); err != nil {
		return nil, err
	}

	return &req, nil
}

// ParseIntQueryParam parses an integer query parameter. Missing values return
// defaultValue; malformed values are recorded on v.
func ParseIntQueryParam(r *http.Request, v *Validator, key string, defaultValue int) int {
	valueStr := r.URL.Query().Get(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		v.errors.Add(key, "Must be an integer")
		return defaultValue
	}

	return value
}

// ParseStringQueryParam safely parses a string query parameter
func ParseStringQueryParam(r *http.Request, key string) *string {
	value := strings.TrimSpace(r.URL.Query().Get(key))
	if value == "" {
		return nil
	}
	return &value
}

// ParseBoolQueryParam parses an optional boolean query parameter.
func ParseBoolQueryParam(r *http.Request, v *Validator, key string) *bool {
	valueStr := r.URL.Query().Get(key)
	if valueStr == "" {
		return nil
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		v.errors.Add(key, "Must be true or false")
		return nil
	}

	return &value
}
