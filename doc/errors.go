package doc

import (
	"errors"
	"fmt"
)

// Sentinel failures surfaced by the core API. Match with errors.Is.
var (
	// ErrNotFound reports an unknown document ID.
	ErrNotFound = errors.New("document not found")

	// ErrAccessDenied reports a caller lacking the read or edit right the
	// call requires. Never retried.
	ErrAccessDenied = errors.New("access denied")

	// ErrConcurrencyConflict reports an exhausted optimistic-retry budget
	// against a contended document. The caller may safely resubmit the
	// same batch; already-committed operations replay as duplicates.
	ErrConcurrencyConflict = errors.New("concurrent write conflict: retries exhausted")
)

// ValidationError reports a malformed operation in a submitted batch. One
// malformed operation aborts the whole batch before anything is persisted.
type ValidationError struct {
	Index  int    // position of the offending operation in the batch
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid operation at index %d: %s", e.Index, e.Reason)
}
