package crdt

// VectorClock maps an actor ID to the number of operations from that actor
// absorbed into a state. Entries are monotonic per actor.
type VectorClock map[string]int64

// NewVectorClock returns an empty vector clock.
func NewVectorClock() VectorClock {
	return make(VectorClock)
}

// Tick records one more absorbed operation from the given actor.
func (vc VectorClock) Tick(actorID string) {
	vc[actorID]++
}

// Merge folds another clock into this one, keeping the highest count per
// actor. Merging is commutative and idempotent.
func (vc VectorClock) Merge(other VectorClock) {
	for actor, n := range other {
		if vc[actor] < n {
			vc[actor] = n
		}
	}
}

// Clone returns an independent copy of the clock.
func (vc VectorClock) Clone() VectorClock {
	out := make(VectorClock, len(vc))
	for actor, n := range vc {
		out[actor] = n
	}
	return out
}
