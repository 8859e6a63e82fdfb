package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for the reconciliation pipeline. Record-level errors are
// collected and reported without failing the pass; batch-level errors abort
// the pass before the watermark advances.
var (
	// ErrInvalidIdentityInput indicates an identity observation without a
	// provider or external id. Record-level.
	ErrInvalidIdentityInput = errors.New("identity input missing provider or external id")

	// ErrUnknownRelationshipKind indicates a relationship kind that is not in
	// the shape table. Batch-level.
	ErrUnknownRelationshipKind = errors.New("unknown relationship kind")

	// ErrDanglingEndpoint indicates a relationship endpoint that neither
	// exists in the graph nor is staged in the current batch. Batch-level.
	ErrDanglingEndpoint = errors.New("relationship endpoint does not exist")

	// ErrStoreUnavailable indicates the graph or state store could not be
	// reached. Batch-level.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// TransientFetchError wraps a provider fetch failure. The pass aborts without
// advancing the watermark so the same window is retried on the next run.
type TransientFetchError struct {
	Collection string
	Err        error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("transient fetch failure for %s: %v", e.Collection, e.Err)
}

func (e *TransientFetchError) Unwrap() error {
	return e.Err
}
