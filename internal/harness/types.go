package harness

import (
	"encoding/json"

	"github.com/roach88/spacesync/internal/protocol"
)

// Step outcomes recorded in the trace.
const (
	OutcomeOK        = "ok"
	OutcomeChanged   = "changed"
	OutcomeUnchanged = "unchanged"
	OutcomeError     = "error"
)

// TraceEvent records the observable result of one step.
type TraceEvent struct {
	Step    int    `json:"step"`
	Kind    string `json:"kind"`
	Outcome string `json:"outcome"`

	// Push results.
	Affected []string `json:"affected,omitempty"`

	// Pull results.
	Cookie                *protocol.Cookie `json:"cookie,omitempty"`
	LastMutationIDChanges map[string]int64 `json:"lastMutationIDChanges,omitempty"`
	Patch                 json.RawMessage  `json:"patch,omitempty"`

	// ops is the decoded patch, for expectations.
	ops []protocol.PatchOperation
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace has one event per step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// canonical converts the event to the shapes protocol.MarshalCanonical
// accepts.
func (e TraceEvent) canonical() map[string]any {
	m := map[string]any{
		"step":    e.Step,
		"kind":    e.Kind,
		"outcome": e.Outcome,
	}
	if e.Affected != nil {
		m["affected"] = e.Affected
	}
	if e.Cookie != nil {
		m["cookie"] = map[string]any{
			"spaceRecordKey":  e.Cookie.SpaceRecordKey,
			"clientRecordKey": e.Cookie.ClientRecordKey,
			"order":           e.Cookie.Order,
		}
	}
	if e.LastMutationIDChanges != nil {
		changes := make(map[string]any, len(e.LastMutationIDChanges))
		for clientID, id := range e.LastMutationIDChanges {
			changes[clientID] = id
		}
		m["lastMutationIDChanges"] = changes
	}
	if e.Patch != nil {
		m["patch"] = e.Patch
	}
	return m
}
