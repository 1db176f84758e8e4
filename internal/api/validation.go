package api

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// RequestValidator validates bound request bodies. It implements echo.Validator.
type RequestValidator struct {
	validator *validator.Validate
}

// NewRequestValidator creates a validator reporting JSON field names.
func NewRequestValidator() *RequestValidator {
	v := validator.New()

	// Use JSON tag names in error messages
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &RequestValidator{validator: v}
}

// Validate returns a VALIDATION_ERROR APIError naming the first bad field.
func (rv *RequestValidator) Validate(i interface{}) error {
	err := rv.validator.Struct(i)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return NewBadRequestError("invalid request", err)
	}

	first := verrs[0]
	apiErr := NewValidationError(first.Field())
	apiErr.Details = formatFieldError(first)
	return apiErr
}

func formatFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "excludesall":
		return fmt.Sprintf("%s must not contain line breaks", fe.Field())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}
