// Package diff computes the patch that moves a client from one space record
// snapshot to another.
//
// Patches carry keys only; the pull path attaches entity payloads to put
// operations afterwards, inside the same transaction that produced the
// snapshot.
package diff

import (
	"github.com/roach88/spacesync/internal/protocol"
)

// SpaceRecords diffs two snapshots.
//
// A nil old record means the client's snapshot could not be resolved: the
// patch is a clear followed by a put for every entry of next. Otherwise puts
// are emitted for entries that are new or whose version changed, in the order
// of next, followed by dels for entries missing from next, in the order of old.
func SpaceRecords(old *protocol.Record, next protocol.Record) []protocol.PatchOperation {
	if old == nil {
		ops := make([]protocol.PatchOperation, 0, next.Len()+1)
		ops = append(ops, protocol.Clear())
		for _, e := range next.Entries() {
			ops = append(ops, protocol.Put(e.ID, nil))
		}
		return ops
	}

	ops := []protocol.PatchOperation{}
	for _, e := range next.Entries() {
		if v, ok := old.Get(e.ID); !ok || v != e.Version {
			ops = append(ops, protocol.Put(e.ID, nil))
		}
	}
	for _, e := range old.Entries() {
		if _, ok := next.Get(e.ID); !ok {
			ops = append(ops, protocol.Del(e.ID))
		}
	}
	return ops
}

// ClientRecords returns the entries of next whose value differs from old,
// or that old does not have. The result is sent to the client verbatim as
// lastMutationIDChanges.
func ClientRecords(old, next map[string]int64) map[string]int64 {
	changes := map[string]int64{}
	for clientID, last := range next {
		if prev, ok := old[clientID]; !ok || prev != last {
			changes[clientID] = last
		}
	}
	return changes
}

// PutKeys returns the keys of the put operations in ops, in order.
func PutKeys(ops []protocol.PatchOperation) []string {
	var keys []string
	for _, op := range ops {
		if op.Op == protocol.OpPut {
			keys = append(keys, op.Key)
		}
	}
	return keys
}
