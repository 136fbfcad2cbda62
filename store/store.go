// Package store defines durable persistence for documents behind an
// explicit compare-and-swap contract: Put fails distinctly when the stored
// version differs from the version the caller loaded, which is the only
// coordination mechanism between concurrent writers.
package store

import (
	"context"
	"errors"

	"collabdoc/doc"
)

var (
	// ErrNotFound reports an unknown document ID.
	ErrNotFound = errors.New("store: document not found")

	// ErrExists reports a Create against an already-stored document ID.
	ErrExists = errors.New("store: document already exists")

	// ErrVersionMismatch reports a Put whose expected version no longer
	// matches the stored document: a concurrent writer won the race.
	ErrVersionMismatch = errors.New("store: version mismatch")
)

// Store persists documents. Implementations must return independent copies
// from Get so callers can mutate freely before Put.
type Store interface {
	// Create stores a new document, failing with ErrExists on an ID
	// collision.
	Create(ctx context.Context, d *doc.Document) error

	// Get loads the current persisted document.
	Get(ctx context.Context, id string) (*doc.Document, error)

	// Put persists d if and only if the stored version still equals
	// expectedVersion, failing with ErrVersionMismatch otherwise.
	Put(ctx context.Context, d *doc.Document, expectedVersion int64) error
}
