package entitle

import (
	"errors"
	"fmt"

	"github.com/xraph/entitle/types"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound      = errors.New("entitle: not found")
	ErrAlreadyExists = errors.New("entitle: already exists")
	ErrInvalidInput  = errors.New("entitle: invalid input")

	// Template errors
	ErrTemplateNotFound    = errors.New("entitle: template not found")
	ErrTemplateUnavailable = errors.New("entitle: template not available")

	// License errors
	ErrLicenseNotFound = errors.New("entitle: license not found")
	ErrLicenseTerminal = errors.New("entitle: license is cancelled or expired")

	// Account errors
	ErrAccountNotFound = errors.New("entitle: account not found")

	// Coupon errors
	ErrCouponNotFound      = errors.New("entitle: coupon not found")
	ErrCouponUnavailable   = errors.New("entitle: coupon not available")
	ErrCouponExhausted     = errors.New("entitle: coupon redemptions exhausted")
	ErrCouponNotForAccount = errors.New("entitle: coupon not valid for account")

	// Metering errors
	ErrMeterBufferFull = errors.New("entitle: meter buffer full")

	// Store errors
	ErrStoreNotReady = errors.New("entitle: store not ready")
	ErrStoreClosed   = errors.New("entitle: store is closed")
)

// Typed errors and their sentinels live in package types so that leaf
// packages can return them; they are re-exported here.
var (
	ErrConfiguration       = types.ErrConfiguration
	ErrValidation          = types.ErrValidation
	ErrConcurrencyConflict = types.ErrConcurrencyConflict
	ErrPaymentMismatch     = types.ErrPaymentMismatch
	ErrInvalidTransition   = types.ErrInvalidTransition
)

type (
	// ConfigurationError is re-exported from types.
	ConfigurationError = types.ConfigurationError
	// ValidationError is re-exported from types.
	ValidationError = types.ValidationError
	// PaymentMismatchError is re-exported from types.
	PaymentMismatchError = types.PaymentMismatchError
	// TransitionError is re-exported from types.
	TransitionError = types.TransitionError
)

// MultiError represents multiple errors that occurred.
type MultiError struct {
	Errors []error
}

func (e MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "entitle: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("entitle: %d errors occurred", len(e.Errors))
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (e MultiError) Unwrap() []error { return e.Errors }

// Add adds an error to the multi-error.
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true if there are any errors.
func (e MultiError) HasErrors() bool {
	return len(e.Errors) > 0
}

// Err returns nil when no errors were collected, otherwise e.
func (e MultiError) Err() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrTemplateNotFound) ||
		errors.Is(err, ErrLicenseNotFound) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrCouponNotFound)
}

// IsValidation returns true if the mutation was rejected as invalid.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidTransition)
}

// IsRetryable returns true if the error is temporary and the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict) ||
		errors.Is(err, ErrMeterBufferFull) ||
		errors.Is(err, ErrStoreNotReady)
}
