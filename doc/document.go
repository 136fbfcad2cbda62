// Package doc defines the document aggregate the synchronization core
// operates on: participants, the replicated state, the committed operation
// log and lightweight sync metadata. The durable store owns documents; the
// core only holds transient in-memory copies during a request.
package doc

import (
	"time"

	"collabdoc/crdt"
)

// Role is a participant's access level on a document.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// Participant ties a user to a document with a role and a presence
// timestamp. A zero LastSeen means the participant has never been, or is
// no longer, online.
type Participant struct {
	UserID   string    `json:"userId"`
	Role     Role      `json:"role"`
	LastSeen time.Time `json:"lastSeen"`
}

// MaxOpLog bounds the committed operation log. Oldest entries are evicted
// first, which also bounds how far back GetChangesSince can reach.
const MaxOpLog = 10000

// Document is the persisted aggregate.
type Document struct {
	ID            string        `json:"id"`
	Title         string        `json:"title"`
	DocType       string        `json:"docType"`
	Workspace     string        `json:"workspace,omitempty"`
	CreatedBy     string        `json:"createdBy"`
	Participants  []Participant `json:"participants"`
	State         *crdt.State   `json:"state"`
	OpLog         []Operation   `json:"opLog"`
	LastSyncAt    time.Time     `json:"lastSyncAt"`
	ActiveEditors int           `json:"activeEditors"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// Participant returns the entry for userID, or nil.
func (d *Document) Participant(userID string) *Participant {
	for i := range d.Participants {
		if d.Participants[i].UserID == userID {
			return &d.Participants[i]
		}
	}
	return nil
}

// CanRead reports whether userID may read the document: the creator is
// always implicitly an owner, every listed participant may read.
func (d *Document) CanRead(userID string) bool {
	return userID == d.CreatedBy || d.Participant(userID) != nil
}

// CanEdit reports whether userID may mutate the document. Viewers never
// may.
func (d *Document) CanEdit(userID string) bool {
	if userID == d.CreatedBy {
		return true
	}
	p := d.Participant(userID)
	return p != nil && p.Role != RoleViewer
}

// AppendOp commits an entry to the operation log, evicting the oldest
// entry once the log exceeds its bound.
func (d *Document) AppendOp(op Operation) {
	d.OpLog = append(d.OpLog, op)
	if len(d.OpLog) > MaxOpLog {
		d.OpLog = d.OpLog[len(d.OpLog)-MaxOpLog:]
	}
}

// OpsSince returns the committed operations with a server version greater
// than sinceVersion, oldest first.
func (d *Document) OpsSince(sinceVersion int64) []Operation {
	out := make([]Operation, 0)
	for _, op := range d.OpLog {
		if op.Version > sinceVersion {
			out = append(out, op)
		}
	}
	return out
}

// Clone returns a deep copy sharing no mutable data with the receiver.
func (d *Document) Clone() *Document {
	out := *d
	out.Participants = append([]Participant(nil), d.Participants...)
	out.OpLog = make([]Operation, len(d.OpLog))
	for i, op := range d.OpLog {
		op.Payload = ClonePayload(op.Payload)
		out.OpLog[i] = op
	}
	if d.State != nil {
		out.State = d.State.Clone()
	}
	return &out
}

// Snapshot is the read model returned to callers.
type Snapshot struct {
	ID           string           `json:"id"`
	Title        string           `json:"title"`
	DocType      string           `json:"docType"`
	Workspace    string           `json:"workspace,omitempty"`
	CreatedBy    string           `json:"createdBy"`
	Participants []Participant    `json:"participants"`
	Version      int64            `json:"version"`
	Clock        int64            `json:"clock"`
	VectorClock  crdt.VectorClock `json:"vectorClock"`
	Text         string           `json:"text"`
	Registers    map[string]any   `json:"registers"`
	Cells        map[string]any   `json:"cells"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}

// Snapshot renders the document's current read model.
func (d *Document) Snapshot() Snapshot {
	return Snapshot{
		ID:           d.ID,
		Title:        d.Title,
		DocType:      d.DocType,
		Workspace:    d.Workspace,
		CreatedBy:    d.CreatedBy,
		Participants: append([]Participant(nil), d.Participants...),
		Version:      d.State.Version,
		Clock:        d.State.Clock,
		VectorClock:  d.State.VectorClock.Clone(),
		Text:         d.State.Text(),
		Registers:    d.State.RegisterValues(),
		Cells:        d.State.CellValues(),
		UpdatedAt:    d.UpdatedAt,
	}
}
