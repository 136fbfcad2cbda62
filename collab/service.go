// Package collab is the synchronization core: it normalizes operation
// batches, applies them to the replicated document state, persists under
// optimistic concurrency control and hands committed history to the
// transport for broadcast. All coordination between concurrent writers is
// the store's compare-and-swap; there are no locks across processes.
package collab

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"collabdoc/broadcast"
	"collabdoc/crdt"
	"collabdoc/doc"
	"collabdoc/store"
)

// Config tunes the service. Zero values fall back to the defaults.
type Config struct {
	// MaxAttempts bounds the optimistic persist loop, counting the first
	// try. Default 3.
	MaxAttempts int
	// RetryDelay is the pause between persist attempts. Default 10ms.
	RetryDelay time.Duration
	// PresenceWindow is how recently a participant must have been seen to
	// count as an active editor. Default 60s.
	PresenceWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 10 * time.Millisecond
	}
	if c.PresenceWindow <= 0 {
		c.PresenceWindow = 60 * time.Second
	}
	return c
}

// Service exposes the core document synchronization API.
type Service struct {
	store  store.Store
	bcast  broadcast.Broadcaster
	logger zerolog.Logger
	cfg    Config

	now func() time.Time
}

// New builds a Service. A nil broadcaster is replaced with a no-op one.
func New(st store.Store, b broadcast.Broadcaster, logger zerolog.Logger, cfg Config) *Service {
	if b == nil {
		b = broadcast.Noop{}
	}
	return &Service{
		store:  st,
		bcast:  b,
		logger: logger,
		cfg:    cfg.withDefaults(),
		now:    time.Now,
	}
}

// OpResult reports the outcome of one operation in a batch.
type OpResult struct {
	OpID   string      `json:"opId"`
	Status crdt.Status `json:"status"`
}

// ApplyResponse is the result of a committed batch: the new snapshot, the
// per-operation outcomes and the slice of history this batch committed
// (what the transport layer broadcasts).
type ApplyResponse struct {
	doc.Snapshot
	AppliedResults      []OpResult      `json:"appliedResults"`
	CommittedOperations []doc.Operation `json:"committedOperations"`
}

// Changes is the catch-up payload for a reconnecting client: everything
// committed after the requested version, plus a full snapshot in case the
// client prefers to discard and re-adopt.
type Changes struct {
	Changes  []doc.Operation `json:"changes"`
	Snapshot doc.Snapshot    `json:"snapshot"`
}

// PresenceInfo summarizes document liveness after a presence update.
type PresenceInfo struct {
	ActiveEditors int       `json:"activeEditors"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// CreateDocument stores a fresh document. The creator holds the owner
// right implicitly and need not appear in participants.
func (s *Service) CreateDocument(ctx context.Context, title, docType, workspace, createdBy string, participants []doc.Participant) (doc.Snapshot, error) {
	now := s.now()
	d := &doc.Document{
		ID:           uuid.NewString(),
		Title:        title,
		DocType:      docType,
		Workspace:    workspace,
		CreatedBy:    createdBy,
		Participants: append([]doc.Participant(nil), participants...),
		State:        crdt.NewState(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Create(ctx, d); err != nil {
		return doc.Snapshot{}, err
	}
	s.logger.Info().Str("doc", d.ID).Str("creator", createdBy).Msg("document created")
	return d.Snapshot(), nil
}

// GetDocument returns the current snapshot for a caller with read access.
func (s *Service) GetDocument(ctx context.Context, docID, callerID string) (doc.Snapshot, error) {
	d, err := s.load(ctx, docID)
	if err != nil {
		return doc.Snapshot{}, err
	}
	if !d.CanRead(callerID) {
		return doc.Snapshot{}, doc.ErrAccessDenied
	}
	return d.Snapshot(), nil
}

// ApplyOperations runs the load → apply → persist loop for one batch.
// The whole batch is applied against a single loaded snapshot and
// persisted in one compare-and-swap write; when a concurrent writer wins
// the race the in-memory mutation is discarded and the same original
// batch replays against a fresh load, where any operations the racing
// writer already absorbed surface as duplicates. A batch is never
// partially committed.
func (s *Service) ApplyOperations(ctx context.Context, docID, callerID, deviceID string, raws []doc.RawOp) (*ApplyResponse, error) {
	ops, err := NormalizeBatch(raws, callerID, deviceID)
	if err != nil {
		return nil, err
	}

	var resp *ApplyResponse
	attempt := func() error {
		d, err := s.load(ctx, docID)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !d.CanEdit(callerID) {
			return backoff.Permanent(doc.ErrAccessDenied)
		}

		loadedVersion := d.State.Version
		now := s.now()
		results := make([]OpResult, 0, len(ops))
		committed := make([]doc.Operation, 0, len(ops))

		for _, op := range ops {
			status := d.State.Apply(op.CRDTOp())
			results = append(results, OpResult{OpID: op.OpID, Status: status})
			if status == crdt.StatusDuplicate {
				continue
			}
			entry := op
			entry.Lamport = d.State.Clock
			entry.Version = d.State.Version
			entry.CommittedAt = now
			d.AppendOp(entry)
			committed = append(committed, entry)
		}

		d.UpdatedAt = now
		d.LastSyncAt = now

		if err := s.store.Put(ctx, d, loadedVersion); err != nil {
			if errors.Is(err, store.ErrVersionMismatch) {
				return err
			}
			return backoff.Permanent(err)
		}

		resp = &ApplyResponse{
			Snapshot:            d.Snapshot(),
			AppliedResults:      results,
			CommittedOperations: committed,
		}
		return nil
	}

	if err := s.retry(ctx, attempt); err != nil {
		return nil, err
	}

	if len(resp.CommittedOperations) > 0 {
		notice := broadcast.Notice{
			DocID:      docID,
			ActorID:    callerID,
			Version:    resp.Version,
			Operations: resp.CommittedOperations,
			At:         s.now(),
		}
		if err := s.bcast.Broadcast(ctx, notice); err != nil {
			// The commit stands; disconnected clients recover via catch-up.
			s.logger.Warn().Err(err).Str("doc", docID).Msg("broadcast failed")
		}
	}

	s.logger.Debug().Str("doc", docID).Str("actor", callerID).
		Int("batch", len(ops)).Int("committed", len(resp.CommittedOperations)).
		Int64("version", resp.Version).Msg("batch applied")
	return resp, nil
}

// GetChangesSince returns every committed operation with a server version
// greater than sinceVersion, plus the current snapshot.
func (s *Service) GetChangesSince(ctx context.Context, docID, callerID string, sinceVersion int64) (*Changes, error) {
	d, err := s.load(ctx, docID)
	if err != nil {
		return nil, err
	}
	if !d.CanRead(callerID) {
		return nil, doc.ErrAccessDenied
	}
	return &Changes{
		Changes:  d.OpsSince(sinceVersion),
		Snapshot: d.Snapshot(),
	}, nil
}

// MarkPresence records the caller coming online or going offline and
// recomputes the active-editor count. Read access suffices; presence is
// not an edit.
func (s *Service) MarkPresence(ctx context.Context, docID, callerID string, online bool) (PresenceInfo, error) {
	var info PresenceInfo
	attempt := func() error {
		d, err := s.load(ctx, docID)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !d.CanRead(callerID) {
			return backoff.Permanent(doc.ErrAccessDenied)
		}

		now := s.now()
		lastSeen := now
		if !online {
			lastSeen = time.Unix(0, 0).UTC()
		}

		if p := d.Participant(callerID); p != nil {
			p.LastSeen = lastSeen
		} else {
			// Only the implicit owner can read without being listed.
			d.Participants = append(d.Participants, doc.Participant{
				UserID:   callerID,
				Role:     doc.RoleOwner,
				LastSeen: lastSeen,
			})
		}

		active := 0
		for _, p := range d.Participants {
			if now.Sub(p.LastSeen) <= s.cfg.PresenceWindow {
				active++
			}
		}
		d.ActiveEditors = active
		d.UpdatedAt = now

		if err := s.store.Put(ctx, d, d.State.Version); err != nil {
			if errors.Is(err, store.ErrVersionMismatch) {
				return err
			}
			return backoff.Permanent(err)
		}
		info = PresenceInfo{ActiveEditors: active, UpdatedAt: now}
		return nil
	}

	if err := s.retry(ctx, attempt); err != nil {
		return PresenceInfo{}, err
	}
	return info, nil
}

// retry runs attempt under the bounded optimistic-conflict policy and
// translates an exhausted budget into ErrConcurrencyConflict.
func (s *Service) retry(ctx context.Context, attempt func() error) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewConstantBackOff(s.cfg.RetryDelay),
			uint64(s.cfg.MaxAttempts-1),
		), ctx)
	if err := backoff.Retry(attempt, policy); err != nil {
		if errors.Is(err, store.ErrVersionMismatch) {
			return doc.ErrConcurrencyConflict
		}
		return err
	}
	return nil
}

func (s *Service) load(ctx context.Context, docID string) (*doc.Document, error) {
	d, err := s.store.Get(ctx, docID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, doc.ErrNotFound
	}
	return d, err
}
