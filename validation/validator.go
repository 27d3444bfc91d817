package validation

import (
	"fmt"
	"strings"

	"github.com/kbukum/taskflow/errors"
)

// FieldError is a single failed check.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Validator collects field errors. The zero value is ready to use and reports
// through errors.Validation; NewWith swaps the constructor.
type Validator struct {
	errors []FieldError
	build  func(message string) *errors.AppError
}

func New() *Validator {
	return &Validator{build: errors.Validation}
}

// NewWith creates a Validator whose result is built by build,
// e.g. errors.SchemaInvalid.
func NewWith(build func(message string) *errors.AppError) *Validator {
	return &Validator{build: build}
}

func (v *Validator) AddError(field, message string) {
	v.errors = append(v.errors, FieldError{Field: field, Message: message})
}

// AddErrorf adds a formatted field error.
func (v *Validator) AddErrorf(field, format string, args ...any) {
	v.AddError(field, fmt.Sprintf(format, args...))
}

// Merge appends the field errors carried by err, or err's message when it
// carries none. Field paths are prefixed with prefix when set.
func (v *Validator) Merge(prefix string, err error) {
	if err == nil {
		return
	}
	appErr, ok := errors.AsAppError(err)
	if ok {
		if fields, ok := appErr.Details["fields"].([]FieldError); ok {
			for _, f := range fields {
				v.AddError(joinPath(prefix, f.Field), f.Message)
			}
			return
		}
	}
	v.AddError(prefix, err.Error())
}

func (v *Validator) HasErrors() bool { return len(v.errors) > 0 }

func (v *Validator) Errors() []FieldError { return v.errors }

// Validate returns nil when no errors were collected.
func (v *Validator) Validate() *errors.AppError {
	if !v.HasErrors() {
		return nil
	}
	messages := make([]string, len(v.errors))
	for i, e := range v.errors {
		messages[i] = e.Field + ": " + e.Message
	}
	build := v.build
	if build == nil {
		build = errors.Validation
	}
	return build(strings.Join(messages, "; ")).WithDetail("fields", v.errors)
}

// Required checks that value is not blank.
func (v *Validator) Required(field, value string) *Validator {
	if strings.TrimSpace(value) == "" {
		v.AddError(field, "is required")
	}
	return v
}

// Check adds message for field when ok is false.
func (v *Validator) Check(ok bool, field, message string) *Validator {
	if !ok {
		v.AddError(field, message)
	}
	return v
}

func (v *Validator) Min(field string, value, minVal int) *Validator {
	if value < minVal {
		v.AddErrorf(field, "must be at least %d", minVal)
	}
	return v
}

func (v *Validator) Positive(field string, value int64) *Validator {
	if value <= 0 {
		v.AddError(field, "must be positive")
	}
	return v
}

// OneOf checks membership in allowed.
func (v *Validator) OneOf(field, value string, allowed ...string) *Validator {
	for _, a := range allowed {
		if value == a {
			return v
		}
	}
	v.AddErrorf(field, "must be one of: %s", strings.Join(allowed, ", "))
	return v
}

func joinPath(prefix, field string) string {
	switch {
	case prefix == "":
		return field
	case field == "":
		return prefix
	}
	return prefix + "." + field
}
