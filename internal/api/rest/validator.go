package rest

import (
	"github.com/go-playground/validator/v10"
)

// RequestValidator adapts validator/v10 to echo.Validator
type RequestValidator struct {
	validate *validator.Validate
}

// NewRequestValidator creates a validator that checks struct tags
func NewRequestValidator() *RequestValidator {
	return &RequestValidator{validate: validator.New(validator.WithRequiredStructEnabled())}
}

// Validate implements echo.Validator
func (v *RequestValidator) Validate(i interface{}) error {
	return v.validate.Struct(i)
}
