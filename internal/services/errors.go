package services

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is returned to users whose action does not fit
	// the project's current status. Worker callbacks never see it; for them
	// an illegal move is a logged no-op.
	ErrInvalidTransition   = errors.New("project is not in a state that allows this action")
	ErrFeatureNotAvailable = errors.New("feature not available on current plan")
	ErrProjectNotReady     = errors.New("project outputs are not ready")
	ErrNoBillingAccount    = errors.New("no billing account on file")
)

// ValidationError reports bad client input before anything was written.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// InsufficientCreditsError is the business rejection for a paid action the
// balance does not cover. Nothing was debited.
type InsufficientCreditsError struct {
	Needed    int
	Available int
	Shortfall int
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: need %d, have %d", e.Needed, e.Available)
}
