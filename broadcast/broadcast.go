// Package broadcast carries commit notifications to other replicas and
// processes. The synchronization core treats the broadcaster as an
// injected capability; delivery guarantees (retry, ordering across
// channels) belong to the transport, and clients that missed a broadcast
// recover through the catch-up API.
package broadcast

import (
	"context"
	"time"

	"collabdoc/doc"
)

// Notice is the payload fanned out after a successful commit: the
// operations committed by one batch and the document version they produced.
type Notice struct {
	DocID      string          `json:"docId"`
	ActorID    string          `json:"actorId"`
	Version    int64           `json:"version"`
	Operations []doc.Operation `json:"operations"`
	At         time.Time       `json:"at"`
}

// Broadcaster fans a commit notice out to interested parties.
type Broadcaster interface {
	Broadcast(ctx context.Context, notice Notice) error
}

// Noop discards every notice. Used when no transport is wired.
type Noop struct{}

func (Noop) Broadcast(context.Context, Notice) error { return nil }
