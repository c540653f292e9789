package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/roach88/spacesync/internal/engine"
	"github.com/roach88/spacesync/internal/mutators"
	"github.com/roach88/spacesync/internal/protocol"
	"github.com/roach88/spacesync/internal/store"
	"github.com/roach88/spacesync/internal/testutil"
)

// Harness executes scenario steps against one engine.
type Harness struct {
	store  *store.Store
	engine *engine.Engine

	// cookies holds the last cookie per "group/space".
	cookies map[string]protocol.Cookie
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Execution flow:
// 1. Create fresh in-memory database and engine
// 2. Execute steps, checking each step's expectations
// 3. Evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	registry, err := mutators.NewRegistry()
	if err != nil {
		return nil, fmt.Errorf("failed to build mutator registry: %w", err)
	}

	h := &Harness{
		store: st,
		engine: engine.New(st, registry,
			engine.WithKeyGenerator(testutil.NewSequentialKeys("k")),
			engine.WithRetryBackoff(0),
		),
		cookies: make(map[string]protocol.Cookie),
	}

	ctx := context.Background()
	result := NewResult()
	for i, step := range scenario.Steps {
		event, err := h.execute(ctx, i, step)
		if err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
		result.Trace = append(result.Trace, event)
		for _, msg := range checkExpect(event, step.Expect) {
			result.AddError(fmt.Sprintf("steps[%d] (%s): %s", i, step.Kind(), msg))
		}
	}

	for _, msg := range EvaluateAssertions(ctx, st, result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) execute(ctx context.Context, i int, step Step) (TraceEvent, error) {
	if step.Push != nil {
		return h.push(ctx, i, step.Push)
	}
	return h.pull(ctx, i, step.Pull)
}

func (h *Harness) push(ctx context.Context, i int, p *PushStep) (TraceEvent, error) {
	req := protocol.PushRequest{
		ClientGroupID: p.ClientGroup,
		Space:         protocol.Space(p.Space),
		SubspaceIDs:   p.Subspaces,
		Mutations:     make([]protocol.Mutation, 0, len(p.Mutations)),
	}
	for j, m := range p.Mutations {
		args, err := json.Marshal(m.Args)
		if err != nil {
			return TraceEvent{}, fmt.Errorf("mutations[%d]: encode args: %w", j, err)
		}
		req.Mutations = append(req.Mutations, protocol.Mutation{
			ClientID: m.Client,
			ID:       m.ID,
			Name:     m.Name,
			Args:     args,
		})
	}

	affected, err := h.engine.Push(ctx, req, principal(p.As))
	event := TraceEvent{Step: i, Kind: StepPush, Outcome: OutcomeOK, Affected: []string{}}
	bySpace := affected.BySpace()
	for _, space := range affected.Spaces() {
		for _, subspace := range bySpace[space] {
			event.Affected = append(event.Affected, string(space)+"/"+subspace)
		}
	}
	if err != nil {
		code, ok := errorCode(err)
		if !ok {
			return TraceEvent{}, err
		}
		event.Outcome = code
	}
	return event, nil
}

func (h *Harness) pull(ctx context.Context, i int, p *PullStep) (TraceEvent, error) {
	cookieKey := p.ClientGroup + "/" + p.Space
	req := protocol.PullRequest{
		ClientGroupID: p.ClientGroup,
		Space:         protocol.Space(p.Space),
		SubspaceIDs:   p.Subspaces,
	}
	prev, found := h.cookies[cookieKey]
	if found && p.Cookie != "none" {
		req.Cookie = &prev
	}

	resp, err := h.engine.Pull(ctx, req, principal(p.As))
	event := TraceEvent{Step: i, Kind: StepPull}
	if err != nil {
		code, ok := errorCode(err)
		if !ok {
			return TraceEvent{}, err
		}
		event.Outcome = code
		return event, nil
	}

	var sent protocol.Cookie
	if req.Cookie != nil {
		sent = *req.Cookie
	}
	event.Outcome = OutcomeChanged
	if resp.Cookie == sent {
		event.Outcome = OutcomeUnchanged
	}
	h.cookies[cookieKey] = resp.Cookie

	patch, err := protocol.EncodePatch(resp.Patch)
	if err != nil {
		return TraceEvent{}, err
	}
	event.Cookie = &resp.Cookie
	event.LastMutationIDChanges = resp.LastMutationIDChanges
	event.Patch = patch
	event.ops = resp.Patch
	return event, nil
}

func principal(userID string) *protocol.Principal {
	if userID == "" {
		return nil
	}
	return &protocol.Principal{UserID: userID}
}

// errorCode returns the code of a domain, sync or invalid-request error.
// Other errors abort the scenario.
func errorCode(err error) (string, bool) {
	var syncErr *protocol.SyncError
	switch {
	case errors.As(err, &syncErr):
		return string(syncErr.Code), true
	case errors.Is(err, engine.ErrInvalidRequest):
		return "invalid_request", true
	}
	if domainErr, ok := protocol.AsDomainError(err); ok {
		return domainErr.Code, true
	}
	return "", false
}

// checkExpect compares one step's event against its expectations.
func checkExpect(event TraceEvent, expect *Expect) []string {
	if expect == nil {
		return nil
	}
	var errs []string
	if expect.Outcome != "" && expect.Outcome != event.Outcome {
		errs = append(errs, fmt.Sprintf("outcome: expected %s, got %s", expect.Outcome, event.Outcome))
	}
	if expect.Affected != nil && !slices.Equal(expect.Affected, event.Affected) {
		errs = append(errs, fmt.Sprintf("affected: expected %v, got %v", expect.Affected, event.Affected))
	}
	if expect.Order != nil && (event.Cookie == nil || event.Cookie.Order != *expect.Order) {
		errs = append(errs, fmt.Sprintf("order: expected %d, got %v", *expect.Order, cookieOrder(event.Cookie)))
	}

	var puts, dels []string
	cleared := false
	for i, op := range event.ops {
		switch op.Op {
		case protocol.OpPut:
			puts = append(puts, op.Key)
		case protocol.OpDel:
			dels = append(dels, op.Key)
		case protocol.OpClear:
			cleared = cleared || i == 0
		}
	}
	if expect.Puts != nil && !slices.Equal(expect.Puts, puts) {
		errs = append(errs, fmt.Sprintf("puts: expected %v, got %v", expect.Puts, puts))
	}
	if expect.Dels != nil && !slices.Equal(expect.Dels, dels) {
		errs = append(errs, fmt.Sprintf("dels: expected %v, got %v", expect.Dels, dels))
	}
	if expect.Clear != nil && *expect.Clear != cleared {
		errs = append(errs, fmt.Sprintf("clear: expected %t, got %t", *expect.Clear, cleared))
	}
	if expect.LastMutationIDChanges != nil && !maps.Equal(expect.LastMutationIDChanges, event.LastMutationIDChanges) {
		errs = append(errs, fmt.Sprintf("last_mutation_id_changes: expected %v, got %v",
			expect.LastMutationIDChanges, event.LastMutationIDChanges))
	}
	return errs
}

func cookieOrder(c *protocol.Cookie) any {
	if c == nil {
		return "no cookie"
	}
	return c.Order
}
