package crdt

import (
	mapset "github.com/deckarep/golang-set/v2"
)

// OpType enumerates the four recognized operation kinds.
type OpType string

const (
	OpInsert   OpType = "insert"
	OpDelete   OpType = "delete"
	OpSetField OpType = "set_field"
	OpSetCell  OpType = "set_cell"
)

// KnownOpType reports whether t is one of the four recognized kinds.
func KnownOpType(t OpType) bool {
	switch t {
	case OpInsert, OpDelete, OpSetField, OpSetCell:
		return true
	}
	return false
}

// Status is the outcome of applying a single operation.
type Status string

const (
	StatusApplied   Status = "applied"
	StatusNoop      Status = "noop"
	StatusDuplicate Status = "duplicate_ignored"
)

// Op is the canonical form consumed by the state machine: a stable
// identity, a recognized type, the submitting actor and the raw payload.
type Op struct {
	OpID    string
	Type    OpType
	ActorID string
	Payload map[string]any
}

// MaxAppliedOps bounds the idempotency window. Oldest op IDs are evicted
// first once the bound is reached, so a duplicate arriving later than the
// window can be re-admitted (a known trade-off).
const MaxAppliedOps = 20000

// State is the replicated payload of a document. It is a CRDT: two states
// that have absorbed the same set of operations render identical text and
// register values regardless of delivery order.
type State struct {
	Clock       int64           `json:"clock"`
	Version     int64           `json:"version"`
	VectorClock VectorClock     `json:"vectorClock"`
	AppliedOps  []string        `json:"appliedOps"`
	Atoms       []Atom          `json:"atoms"`
	Registers   map[string]Slot `json:"registers"`
	Cells       map[string]Slot `json:"cells"`

	// Lazily rebuilt indexes over the serialized fields above. Nil after
	// decoding or cloning.
	applied mapset.Set[string]
	atomIdx map[string]int
}

// NewState returns an empty document state.
func NewState() *State {
	return &State{
		VectorClock: NewVectorClock(),
		Registers:   make(map[string]Slot),
		Cells:       make(map[string]Slot),
	}
}

func (s *State) appliedSet() mapset.Set[string] {
	if s.applied == nil {
		s.applied = mapset.NewThreadUnsafeSet(s.AppliedOps...)
	}
	return s.applied
}

// Seen reports whether an operation with this ID was already absorbed
// within the idempotency window.
func (s *State) Seen(opID string) bool {
	return s.appliedSet().Contains(opID)
}

func (s *State) remember(opID string) {
	s.AppliedOps = append(s.AppliedOps, opID)
	s.appliedSet().Add(opID)
	if len(s.AppliedOps) > MaxAppliedOps {
		evicted := s.AppliedOps[0]
		s.AppliedOps = s.AppliedOps[1:]
		s.applied.Remove(evicted)
	}
}

func (s *State) findAtom(id string) *Atom {
	if s.atomIdx == nil {
		s.atomIdx = make(map[string]int, len(s.Atoms))
		for i := range s.Atoms {
			s.atomIdx[s.Atoms[i].ID] = i
		}
	}
	i, ok := s.atomIdx[id]
	if !ok {
		return nil
	}
	return &s.Atoms[i]
}

// Apply absorbs one canonical operation. A duplicate op ID advances
// nothing. Every non-duplicate operation, including no-ops, advances the
// Lamport clock, the version and the submitting actor's vector clock entry
// by exactly one before the operation is interpreted.
func (s *State) Apply(op Op) Status {
	if s.Seen(op.OpID) {
		return StatusDuplicate
	}

	s.Clock++
	s.Version++
	if s.VectorClock == nil {
		s.VectorClock = NewVectorClock()
	}
	s.VectorClock.Tick(op.ActorID)
	s.remember(op.OpID)

	switch op.Type {
	case OpInsert:
		return s.applyInsert(op)
	case OpDelete:
		return s.applyDelete(op)
	case OpSetField:
		return s.applySet(s.Registers, stringField(op.Payload, "field"), op)
	case OpSetCell:
		return s.applySet(s.Cells, NormalizeCellKey(stringField(op.Payload, "cellKey")), op)
	}
	return StatusNoop
}

func (s *State) applyInsert(op Op) Status {
	atomID := stringField(op.Payload, "charId")
	if atomID == "" {
		atomID = op.OpID
	}
	if s.findAtom(atomID) != nil {
		return StatusNoop
	}
	s.Atoms = append(s.Atoms, Atom{
		ID:      atomID,
		LeftID:  stringField(op.Payload, "leftId"),
		Value:   stringField(op.Payload, "value"),
		Lamport: s.Clock,
		ActorID: op.ActorID,
		OpID:    op.OpID,
	})
	if s.atomIdx != nil {
		s.atomIdx[atomID] = len(s.Atoms) - 1
	}
	return StatusApplied
}

func (s *State) applyDelete(op Op) Status {
	target := s.findAtom(stringField(op.Payload, "targetId"))
	if target == nil || target.Deleted {
		return StatusNoop
	}
	target.Deleted = true
	return StatusApplied
}

func (s *State) applySet(slots map[string]Slot, key string, op Op) Status {
	if key == "" {
		return StatusNoop
	}
	mergeSlot(slots, key, Slot{
		Value:   op.Payload["value"],
		Lamport: s.Clock,
		ActorID: op.ActorID,
		OpID:    op.OpID,
	})
	return StatusApplied
}

// Text renders the visible document text.
func (s *State) Text() string {
	return RenderText(s.Atoms)
}

// RegisterValues projects the named fields down to their visible values.
func (s *State) RegisterValues() map[string]any {
	return slotValues(s.Registers)
}

// CellValues projects the cells down to their visible values.
func (s *State) CellValues() map[string]any {
	return slotValues(s.Cells)
}

// Clone returns a deep copy sharing no mutable data with the receiver.
func (s *State) Clone() *State {
	out := &State{
		Clock:       s.Clock,
		Version:     s.Version,
		VectorClock: s.VectorClock.Clone(),
		AppliedOps:  append([]string(nil), s.AppliedOps...),
		Atoms:       append([]Atom(nil), s.Atoms...),
		Registers:   make(map[string]Slot, len(s.Registers)),
		Cells:       make(map[string]Slot, len(s.Cells)),
	}
	for k, v := range s.Registers {
		v.Value = CopyValue(v.Value)
		out.Registers[k] = v
	}
	for k, v := range s.Cells {
		v.Value = CopyValue(v.Value)
		out.Cells[k] = v
	}
	return out
}

// CopyValue deep-copies a JSON-shaped value: maps and slices are copied
// recursively, scalars are returned as-is.
func CopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = CopyValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = CopyValue(e)
		}
		return out
	}
	return v
}

func stringField(payload map[string]any, key string) string {
	v, _ := payload[key].(string)
	return v
}
