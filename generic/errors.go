/*
errors.go - Centralized error types for the scheduler core

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers classify with errors.Is against the sentinels; the structured
  errors carry counts and identifiers for user-facing messages.

ERROR KINDS:
  1. Invalid rule         - bad recurrence parameters, never retried
  2. Materialization      - record store kept failing after the retry budget
  3. Regeneration         - editSeries recreated fewer records than expected
  4. Store errors         - not found, id taken, duplicate occurrence, number conflict

USAGE:
  if errors.Is(err, generic.ErrInvalidRule) {
      // 400
  }
  var mErr *generic.MaterializationError
  if errors.As(err, &mErr) {
      log.Printf("created %d of %d", mErr.Created, mErr.Expected)
  }

SEE ALSO:
  - store.go: Which store calls return which sentinel
  - series/materializer.go: Retry and idempotence handling
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidRule is returned for structurally invalid recurrence parameters.
	ErrInvalidRule = errors.New("invalid recurrence rule")

	// ErrMaterializationFailed is returned when record creation still fails
	// after the retry budget is exhausted.
	ErrMaterializationFailed = errors.New("materialization failed")

	// ErrRegenerationIncomplete is returned when a regenerated series has
	// fewer records than its new rule implies. The series stays usable.
	ErrRegenerationIncomplete = errors.New("regeneration incomplete")

	// ErrRuleNotFound is returned when a referenced series doesn't exist.
	ErrRuleNotFound = errors.New("series not found")

	// ErrRecordNotFound is returned when a referenced record doesn't exist.
	ErrRecordNotFound = errors.New("record not found")

	// ErrRuleExists is returned when a series is created with an id that is
	// already taken.
	ErrRuleExists = errors.New("series already exists")

	// ErrDuplicateOccurrence is returned by the record store when the series
	// already has a record on that date.
	ErrDuplicateOccurrence = errors.New("occurrence already materialized")

	// ErrNumberConflict is returned by the record store when the external
	// sequential number it picked was taken concurrently.
	ErrNumberConflict = errors.New("record number conflict")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidRuleError names the offending field.
type InvalidRuleError struct {
	Field  string
	Reason string
}

func (e *InvalidRuleError) Error() string {
	return fmt.Sprintf("invalid recurrence rule: %s: %s", e.Field, e.Reason)
}

func (e *InvalidRuleError) Unwrap() error {
	return ErrInvalidRule
}

// MaterializationError reports how far a per-year materialization got
// before the record store gave up. Records created before the failure are kept.
type MaterializationError struct {
	RuleID   RuleID
	Year     int
	Expected int
	Created  int
	Err      error
}

func (e *MaterializationError) Error() string {
	return fmt.Sprintf("materialization failed for series %s year %d: created %d of %d: %v",
		e.RuleID, e.Year, e.Created, e.Expected, e.Err)
}

func (e *MaterializationError) Unwrap() []error {
	return []error{ErrMaterializationFailed, e.Err}
}

// RegenerationIncompleteError reports expected vs. actually present records
// after an editSeries regeneration.
type RegenerationIncompleteError struct {
	RuleID   RuleID
	Expected int
	Created  int
	Cause    error
}

func (e *RegenerationIncompleteError) Error() string {
	msg := fmt.Sprintf("regeneration incomplete for series %s: expected %d records, created %d",
		e.RuleID, e.Expected, e.Created)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *RegenerationIncompleteError) Unwrap() error {
	return ErrRegenerationIncomplete
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNumberConflict)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidRule)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRuleNotFound) ||
		errors.Is(err, ErrRecordNotFound)
}
