package crdt

import (
	"sort"
	"strings"
)

// Head is the sentinel LeftID for atoms inserted at the start of the
// sequence.
const Head = ""

// Atom is one insert operation's contribution to the text sequence. All
// fields except Deleted are immutable once the atom exists; Deleted only
// ever transitions false to true.
type Atom struct {
	ID      string `json:"id"`
	LeftID  string `json:"leftId"`
	Value   string `json:"value"`
	Deleted bool   `json:"deleted"`
	Lamport int64  `json:"lamport"`
	ActorID string `json:"actorId"`
	OpID    string `json:"opId"`
}

// Linearize produces the deterministic total order of the atom set. Atoms
// sharing a LeftID are concurrent siblings and are ordered by atom ID, so
// any two replicas holding the same atoms produce the same sequence no
// matter the order the atoms arrived in.
//
// The walk is a preorder traversal from Head using an explicit stack, so
// call depth stays constant for arbitrarily large documents.
func Linearize(atoms []Atom) []*Atom {
	children := make(map[string][]*Atom, len(atoms))
	for i := range atoms {
		a := &atoms[i]
		children[a.LeftID] = append(children[a.LeftID], a)
	}
	for _, siblings := range children {
		sort.Slice(siblings, func(i, j int) bool {
			return siblings[i].ID < siblings[j].ID
		})
	}

	out := make([]*Atom, 0, len(atoms))
	stack := make([]*Atom, 0, len(atoms))
	push := func(leftID string) {
		siblings := children[leftID]
		for i := len(siblings) - 1; i >= 0; i-- {
			stack = append(stack, siblings[i])
		}
	}

	push(Head)
	for len(stack) > 0 {
		a := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, a)
		push(a.ID)
	}
	return out
}

// RenderText concatenates the linearized atoms, skipping tombstones.
func RenderText(atoms []Atom) string {
	var b strings.Builder
	for _, a := range Linearize(atoms) {
		if !a.Deleted {
			b.WriteString(a.Value)
		}
	}
	return b.String()
}
