// Package errs defines the error taxonomy shared by the ledger, the gate engine
// and the admission path. HTTP handlers map these onto status codes.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrCollaboratorUnavailable marks infrastructure failures (queue down, timeout).
	// It is never used for policy decisions.
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")
	ErrNotFound                = errors.New("not found")
)

// Validation reasons. Handlers map them to localized messages.
const (
	ReasonRequired         = "required"
	ReasonNotPositive      = "must be > 0"
	ReasonInvalidSide      = "must be long or short"
	ReasonInvalidTimestamp = "invalid timestamp"
	ReasonInvalidLimit     = "invalid limit"
)

// ValidationError reports a missing or invalid input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// Invalid is shorthand for building a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// PolicyBlocked is returned when a risk gate denies admission.
type PolicyBlocked struct {
	Gate        string  `json:"gate"`
	Reason      string  `json:"reason"`
	Symbol      string  `json:"symbol,omitempty"`
	PnLTodayUSD float64 `json:"pnlTodayUsd"`
	LimitUSD    float64 `json:"limitUsd"`
}

func (e *PolicyBlocked) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("blocked by %s (%s): pnl_today=%.2f limit=%.2f", e.Reason, e.Symbol, e.PnLTodayUSD, e.LimitUSD)
	}
	return fmt.Sprintf("blocked by %s: pnl_today=%.2f limit=%.2f", e.Reason, e.PnLTodayUSD, e.LimitUSD)
}

// IsValidation reports whether err wraps a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// AsPolicyBlocked unwraps a PolicyBlocked, if any.
func AsPolicyBlocked(err error) (*PolicyBlocked, bool) {
	var pb *PolicyBlocked
	if errors.As(err, &pb) {
		return pb, true
	}
	return nil, false
}
