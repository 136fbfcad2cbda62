package collab

import (
	"fmt"

	"collabdoc/crdt"
	"collabdoc/doc"
)

// Normalize validates and canonicalizes one raw operation from a batch.
// seq is the operation's position in the batch; when the caller supplied
// no opId, the derived one depends only on (actor, device, seq) so a
// retried submission from the same device reproduces the same id and
// replays as a duplicate.
//
// Validation is fail-fast: the caller aborts the whole batch on the first
// error, before any state is mutated.
func Normalize(raw doc.RawOp, actorID, deviceID string, seq int) (doc.Operation, error) {
	opType := crdt.OpType(raw.Type)
	if !crdt.KnownOpType(opType) {
		return doc.Operation{}, &doc.ValidationError{
			Index:  seq,
			Reason: fmt.Sprintf("unknown operation type %q", raw.Type),
		}
	}
	if raw.Payload == nil {
		return doc.Operation{}, &doc.ValidationError{
			Index:  seq,
			Reason: "payload must be an object",
		}
	}

	opID := raw.OpID
	if opID == "" {
		opID = fmt.Sprintf("%s:%s:%d", actorID, deviceID, seq)
	}

	// The canonical operation owns its payload: the caller keeps its map
	// and may mutate it after the call returns.
	return doc.Operation{
		OpID:     opID,
		Type:     opType,
		ActorID:  actorID,
		DeviceID: deviceID,
		Payload:  doc.ClonePayload(raw.Payload),
	}, nil
}

// NormalizeBatch canonicalizes every operation of a batch in order,
// aborting on the first malformed one.
func NormalizeBatch(raws []doc.RawOp, actorID, deviceID string) ([]doc.Operation, error) {
	ops := make([]doc.Operation, 0, len(raws))
	for i, raw := range raws {
		op, err := Normalize(raw, actorID, deviceID, i)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}
