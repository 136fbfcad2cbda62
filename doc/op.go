package doc

import (
	"time"

	"collabdoc/crdt"
)

// RawOp is the wire shape a caller submits. OpID is optional; the
// normalizer derives a deterministic one when it is absent.
//
// Payload per type:
//
//	insert    → {value, leftId?, charId?}
//	delete    → {targetId}
//	set_field → {field, value}
//	set_cell  → {cellKey, value}
type RawOp struct {
	OpID    string         `json:"opId,omitempty"`
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

// Operation is a committed log entry. It is immutable once committed and
// is only ever removed by the log-trimming bound.
type Operation struct {
	OpID        string         `json:"opId"`
	Type        crdt.OpType    `json:"type"`
	ActorID     string         `json:"actorId"`
	DeviceID    string         `json:"deviceId"`
	Lamport     int64          `json:"lamport"`
	Version     int64          `json:"version"`
	Payload     map[string]any `json:"payload"`
	CommittedAt time.Time      `json:"committedAt"`
}

// ClonePayload deep-copies an operation payload so committed history
// never aliases a caller-owned map.
func ClonePayload(p map[string]any) map[string]any {
	if p == nil {
		return nil
	}
	return crdt.CopyValue(p).(map[string]any)
}

// CRDTOp projects the log entry down to the form the state machine
// consumes.
func (o Operation) CRDTOp() crdt.Op {
	return crdt.Op{
		OpID:    o.OpID,
		Type:    o.Type,
		ActorID: o.ActorID,
		Payload: o.Payload,
	}
}
