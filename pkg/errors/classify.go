package errors

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"os"
	"runtime"
)

// IsRecoverable classifies an arbitrary error as recoverable or not.
//
// Taxonomy errors carry their own recoverability flag. Everything else is
// considered recoverable except interrupts (context cancellation, signal
// exits), out-of-memory conditions and programmer or configuration errors.
func IsRecoverable(err error) bool {
	if err == nil {
		return true
	}

	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Recoverable
	}

	if errors.Is(err, context.Canceled) {
		return false
	}

	// runtime.Error covers nil dereferences, index errors and the like:
	// programmer errors that retrying will not fix.
	var rte runtime.Error
	return !errors.As(err, &rte)
}

// SuggestedActions returns the recovery actions suggested for an error, most
// preferred first.
//
// Taxonomy errors carry their own suggestions. For unknown errors the default
// table applies: network and timeout failures suggest a retry, missing files
// suggest a fallback then manual intervention, permission failures require
// manual intervention, and anything else suggests retry then manual
// intervention.
func SuggestedActions(err error) []RecoveryAction {
	var tagged *Error
	if errors.As(err, &tagged) && len(tagged.RecoveryActions) > 0 {
		return tagged.RecoveryActions
	}

	var netErr net.Error
	switch {
	case errors.As(err, &netErr), errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return []RecoveryAction{ActionRetry}
	case errors.Is(err, fs.ErrNotExist):
		return []RecoveryAction{ActionFallback, ActionManualIntervention}
	case errors.Is(err, fs.ErrPermission):
		return []RecoveryAction{ActionManualIntervention}
	default:
		return []RecoveryAction{ActionRetry, ActionManualIntervention}
	}
}

// IsCategory reports whether err is a taxonomy error of the given category.
func IsCategory(err error, category Category) bool {
	var tagged *Error
	return errors.As(err, &tagged) && tagged.Category == category
}

// IsCircularDependency reports whether err is a circular dependency error.
func IsCircularDependency(err error) bool {
	var cde *CircularDependencyError
	return errors.As(err, &cde)
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsTimeout reports whether err is a timeout error.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// IsResourceLimit reports whether err is a resource limit error.
func IsResourceLimit(err error) bool {
	var rle *ResourceLimitError
	return errors.As(err, &rle)
}

// IsStepExecution reports whether err is a step execution error.
func IsStepExecution(err error) bool {
	var see *StepExecutionError
	return errors.As(err, &see)
}

// IsConfiguration reports whether err is a configuration error.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
