package harness

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/spacesync/internal/store"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("assertion failed: %s: expected %s, actual %s", e.Type, e.Expected, e.Actual)
}

// EvaluateAssertions checks every assertion and returns the failure
// messages. An empty result means all assertions held.
func EvaluateAssertions(ctx context.Context, s *store.Store, result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertFinalState:
			err = assertFinalState(ctx, s, a)
		case AssertLastMutationIDs:
			err = assertLastMutationIDs(ctx, s, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func assertFinalState(ctx context.Context, s *store.Store, a Assertion) error {
	var mismatches []string
	err := s.InTx(ctx, store.PullTx, func(tx *store.Tx) error {
		for _, id := range sortedKeys(a.Entities) {
			want := a.Entities[id]
			var got int64
			e, err := tx.ReadEntity(ctx, id)
			switch {
			case errors.Is(err, store.ErrNotFound):
			case err != nil:
				return err
			default:
				got = e.Version
			}
			if got != want {
				mismatches = append(mismatches, fmt.Sprintf("%s@%d (want %d)", id, got, want))
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(mismatches) > 0 {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%v", a.Entities),
			Actual:   strings.Join(mismatches, ", "),
		}
	}
	return nil
}

func assertLastMutationIDs(ctx context.Context, s *store.Store, a Assertion) error {
	var mismatches []string
	err := s.InTx(ctx, store.PullTx, func(tx *store.Tx) error {
		for _, clientID := range sortedKeys(a.Clients) {
			want := a.Clients[clientID]
			var got int64
			c, err := tx.ReadClient(ctx, clientID)
			switch {
			case errors.Is(err, store.ErrNotFound):
			case err != nil:
				return err
			default:
				got = c.LastMutationID
			}
			if got != want {
				mismatches = append(mismatches, fmt.Sprintf("%s@%d (want %d)", clientID, got, want))
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(mismatches) > 0 {
		return &AssertionError{
			Type:     AssertLastMutationIDs,
			Expected: fmt.Sprintf("%v", a.Clients),
			Actual:   strings.Join(mismatches, ", "),
		}
	}
	return nil
}

func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Kind == a.Step && (a.Outcome == "" || event.Outcome == a.Outcome) {
			count++
		}
	}
	if count != a.Count {
		what := a.Step
		if a.Outcome != "" {
			what += " " + a.Outcome
		}
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d %s step(s)", a.Count, what),
			Actual:   fmt.Sprintf("%d", count),
		}
	}
	return nil
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
