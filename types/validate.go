package types

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
	errValidate  error
)

func initValidator() (*validator.Validate, error) {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Money values must never be negative.
	if err := v.RegisterValidation("nonneg_money", func(fl validator.FieldLevel) bool {
		m, ok := fl.Field().Interface().(Money)
		if !ok {
			return false
		}
		return !m.IsNegative()
	}); err != nil {
		return nil, fmt.Errorf("types: register nonneg_money: %w", err)
	}

	return v, nil
}

// Validator returns the shared struct validator.
func Validator() (*validator.Validate, error) {
	validateOnce.Do(func() {
		validate, errValidate = initValidator()
	})
	return validate, errValidate
}

// Validate runs struct-tag validation and converts the first failure into
// a ValidationError.
func Validate(s any) error {
	v, err := Validator()
	if err != nil {
		return err
	}

	if err := v.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return ValidationError{
				Field:   strings.ToLower(fe.Field()),
				Message: describeTag(fe),
			}
		}
		return ValidationError{Field: "struct", Message: err.Error()}
	}
	return nil
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "gte":
		return "must be greater than or equal to " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	case "nonneg_money":
		return "must not be negative"
	default:
		return "failed " + fe.Tag() + " validation"
	}
}
