/*
errors.go - Centralized error types for the classification engine

PURPOSE:
  All error kinds in one place for consistency and discoverability. Callers
  classify with errors.Is/errors.As and the helpers at the bottom.

ERROR CATEGORIES:
  1. Configuration errors - Missing/invalid thresholds; fatal before any
     group is processed
  2. Synthesis errors - A constructed Proposal failed self-verification;
     recovered locally by demoting the cluster to PHA
  3. Group processing errors - One group/batch failed; isolated, logged,
     processing continues
  4. Validation errors - Nonzero unmatched/overlapping counts; surfaced as
     a summary failure, reflected in the run's exit status

USAGE:
  if commission.IsConfigError(err) {
      log.Fatalf("configuration: %v", err)
  }

SEE ALSO:
  - classify.go: Produces ConfigError from Thresholds.Validate
  - migration/pipeline.go: Wraps group failures in GroupError
*/
package commission

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrConfiguration marks missing or invalid run configuration. Fatal:
	// the run aborts before any group is processed.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrSynthesisInconsistent marks a Proposal that failed its own
	// coverage self-verification. Recovered by routing the cluster to PHA.
	ErrSynthesisInconsistent = errors.New("synthesized proposal failed self-verification")

	// ErrGroupProcessing marks an unexpected failure while processing one
	// group. The group is excluded from the processed set; siblings
	// continue.
	ErrGroupProcessing = errors.New("group processing failed")

	// ErrValidationFailed marks nonzero unmatched or overlapping counts
	// after a run. Never silently swallowed.
	ErrValidationFailed = errors.New("validation failed")

	// ErrAllocatorNotSeeded is returned when an identifier is requested
	// before the allocator was seeded from the target store.
	ErrAllocatorNotSeeded = errors.New("identifier allocator not seeded")

	// ErrAllocatorReseeded is returned when Seed is called twice in one
	// run. Seeding must happen exactly once, before any mint.
	ErrAllocatorReseeded = errors.New("identifier allocator already seeded")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ConfigError reports one missing or out-of-range configuration field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration field %q: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrConfiguration }

// SynthesisError reports which cluster failed self-verification and the
// first member certificate that escaped the constructed filter.
type SynthesisError struct {
	Group       GroupID
	Fingerprint FingerprintHash
	Certificate CertificateID
	Detail      string
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("group %s cluster %.12s: certificate %s: %s",
		e.Group, e.Fingerprint, e.Certificate, e.Detail)
}

func (e *SynthesisError) Unwrap() error { return ErrSynthesisInconsistent }

// GroupError wraps the underlying failure for one group so the batch can be
// logged with its group list and excluded from the processed set.
type GroupError struct {
	Group GroupID
	Err   error
}

func (e *GroupError) Error() string {
	return fmt.Sprintf("group %s: %v", e.Group, e.Err)
}

func (e *GroupError) Unwrap() error { return ErrGroupProcessing }

// ValidationError summarizes the failing groups after validation.
type ValidationError struct {
	FailedGroups []GroupID
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %d group(s): %v", len(e.FailedGroups), e.FailedGroups)
}

func (e *ValidationError) Unwrap() error { return ErrValidationFailed }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsConfigError returns true if the run must abort before processing.
func IsConfigError(err error) bool { return errors.Is(err, ErrConfiguration) }

// IsSynthesisInconsistency returns true for locally-recoverable synthesis
// failures (cluster demoted to PHA, logged as a warning).
func IsSynthesisInconsistency(err error) bool { return errors.Is(err, ErrSynthesisInconsistent) }

// IsValidationFailure returns true when the run's exit status must be
// nonzero.
func IsValidationFailure(err error) bool { return errors.Is(err, ErrValidationFailed) }
