package types

import (
	"errors"
	"fmt"
)

// Sentinels matched by the typed errors below through errors.Is.
var (
	ErrConfiguration       = errors.New("entitle: configuration error")
	ErrValidation          = errors.New("entitle: validation failed")
	ErrConcurrencyConflict = errors.New("entitle: concurrency conflict")
	ErrPaymentMismatch     = errors.New("entitle: payment mismatch")
)

// ConfigurationError reports staff-authored configuration that cannot be
// interpreted, such as an unparseable access period or a malformed tag
// pattern. It is logged and the caller degrades to a safe default; it
// never fails an access check.
type ConfigurationError struct {
	Field string
	Value string
	Err   error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("entitle: configuration error in %s %q: %v", e.Field, e.Value, e.Err)
	}
	return fmt.Sprintf("entitle: configuration error in %s %q", e.Field, e.Value)
}

func (e *ConfigurationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrConfiguration}
	}
	return []error{ErrConfiguration, e.Err}
}

// ValidationError represents a rejected mutation. Nothing is persisted
// when it is returned.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("entitle: validation failed for %s: %s", e.Field, e.Message)
}

// Is lets errors.Is(err, ErrValidation) match any ValidationError.
func (e ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// PaymentMismatchError is returned when a confirmation reports a charged
// amount different from the amount due. The license stays in its prior
// state and the mismatch is left for manual reconciliation.
type PaymentMismatchError struct {
	LicenseID string
	Expected  Money
	Got       Money
}

func (e *PaymentMismatchError) Error() string {
	return fmt.Sprintf("entitle: payment mismatch for %s: expected %s, got %s",
		e.LicenseID, e.Expected, e.Got)
}

// Is lets errors.Is(err, ErrPaymentMismatch) match.
func (e *PaymentMismatchError) Is(target error) bool {
	return target == ErrPaymentMismatch
}

// ErrInvalidTransition is matched by every TransitionError.
var ErrInvalidTransition = errors.New("entitle: invalid state transition")

// TransitionError reports a lifecycle change that the current state does
// not allow.
type TransitionError struct {
	From string
	To   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("entitle: invalid state transition from %s to %s", e.From, e.To)
}

// Is lets errors.Is(err, ErrInvalidTransition) match.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
