package protocol

import (
	"encoding/json"
	"fmt"
)

// PatchOp is the kind of a patch operation.
type PatchOp string

const (
	OpPut   PatchOp = "put"
	OpDel   PatchOp = "del"
	OpClear PatchOp = "clear"
)

// PatchOperation is one step a client applies to converge on server state.
// Value is only set for puts.
type PatchOperation struct {
	Op    PatchOp         `json:"op"`
	Key   string          `json:"key,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

// Put returns a put operation.
func Put(key string, value json.RawMessage) PatchOperation {
	return PatchOperation{Op: OpPut, Key: key, Value: value}
}

// Del returns a del operation.
func Del(key string) PatchOperation {
	return PatchOperation{Op: OpDel, Key: key}
}

// Clear returns a clear operation.
func Clear() PatchOperation {
	return PatchOperation{Op: OpClear}
}

// MarshalJSON encodes the operation canonically.
func (p PatchOperation) MarshalJSON() ([]byte, error) {
	v, err := p.canonicalValue()
	if err != nil {
		return nil, err
	}
	return MarshalCanonical(v)
}

func (p PatchOperation) canonicalValue() (map[string]any, error) {
	switch p.Op {
	case OpClear:
		return map[string]any{"op": string(OpClear)}, nil
	case OpDel:
		return map[string]any{"op": string(OpDel), "key": p.Key}, nil
	case OpPut:
		var value any = nil
		if len(p.Value) > 0 {
			value = p.Value
		}
		return map[string]any{"op": string(OpPut), "key": p.Key, "value": value}, nil
	default:
		return nil, fmt.Errorf("unknown patch op %q", p.Op)
	}
}

// EncodePatch returns the canonical bytes of a patch.
func EncodePatch(ops []PatchOperation) ([]byte, error) {
	arr := make([]any, 0, len(ops))
	for i, op := range ops {
		v, err := op.canonicalValue()
		if err != nil {
			return nil, fmt.Errorf("patch[%d]: %w", i, err)
		}
		arr = append(arr, v)
	}
	return MarshalCanonical(arr)
}
