package apperrors

import (
	"errors"
	"fmt"
)

// ValidationError rejects malformed input before anything is persisted.
// Fields maps field names to human-readable problems.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %v", e.Fields)
}

// NewValidation builds a ValidationError for a single field.
func NewValidation(field, problem string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: problem}}
}

// NotFoundError reports an unknown threshold, alert or station id.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// StaleDataError means no reading inside the staleness bound exists for a
// station. Evaluation treats the station as unknown and skips it; the tick
// itself is unaffected.
type StaleDataError struct {
	StationID string
	Metric    string
}

func (e *StaleDataError) Error() string {
	return fmt.Sprintf("no fresh reading for station %s metric %s", e.StationID, e.Metric)
}

// StoreUnavailableError aborts the current evaluation tick; the scheduler
// retries on the next run. Manual API calls map it to 503.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("store unavailable during %s: %v", e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }

// DispatchPartialFailureError records recipients that were not notified.
// The alert's status is unaffected; delivery is best-effort.
type DispatchPartialFailureError struct {
	AlertID   string
	Attempted int
	Failed    int
	Err       error
}

func (e *DispatchPartialFailureError) Error() string {
	return fmt.Sprintf("dispatch for alert %s: %d of %d batches failed: %v",
		e.AlertID, e.Failed, e.Attempted, e.Err)
}

func (e *DispatchPartialFailureError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nfe *NotFoundError
	return errors.As(err, &nfe)
}

// IsStoreUnavailable reports whether err is a StoreUnavailableError.
func IsStoreUnavailable(err error) bool {
	var sue *StoreUnavailableError
	return errors.As(err, &sue)
}

// IsStaleData reports whether err is a StaleDataError.
func IsStaleData(err error) bool {
	var sde *StaleDataError
	return errors.As(err, &sde)
}
