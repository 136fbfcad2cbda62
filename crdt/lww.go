package crdt

import "strings"

// Slot is a last-writer-wins register: the visible value of a named field
// or cell is the write with the greatest (lamport, actorId, opId) triple
// among all writes ever applied to that key.
type Slot struct {
	Value   any    `json:"value"`
	Lamport int64  `json:"lamport"`
	ActorID string `json:"actorId"`
	OpID    string `json:"opId"`
}

// Compare orders two slots by (lamport, actorId, opId). The result is
// negative when s is earlier than other, zero when equal, positive when
// later. Op IDs are always distinct, so two different writes never tie.
func (s Slot) Compare(other Slot) int {
	if s.Lamport != other.Lamport {
		if s.Lamport < other.Lamport {
			return -1
		}
		return 1
	}
	if s.ActorID != other.ActorID {
		if s.ActorID < other.ActorID {
			return -1
		}
		return 1
	}
	return strings.Compare(s.OpID, other.OpID)
}

// mergeSlot installs candidate at key unless the current occupant is
// strictly later. Repeated or reordered delivery of the same writes
// converges to the single maximum element.
func mergeSlot(slots map[string]Slot, key string, candidate Slot) {
	if current, ok := slots[key]; ok && current.Compare(candidate) > 0 {
		return
	}
	slots[key] = candidate
}

// NormalizeCellKey canonicalizes a spreadsheet-style cell coordinate so
// "b2" and "B2" address the same slot.
func NormalizeCellKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}

// slotValues projects a slot map down to its visible values.
func slotValues(slots map[string]Slot) map[string]any {
	out := make(map[string]any, len(slots))
	for k, s := range slots {
		out[k] = s.Value
	}
	return out
}
