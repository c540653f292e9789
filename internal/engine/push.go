package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/spacesync/internal/protocol"
	"github.com/roach88/spacesync/internal/store"
)

// Push applies a batch of mutations for one client group and pokes every
// subspace the applied mutations affected. A nil principal is anonymous.
// req.Space, when set, names the space the push was addressed to and must be
// defined.
//
// The returned AffectedSpaces holds the subspaces of every committed
// mutation, also when Push fails part way: work committed before the
// failure stays committed and is still poked.
func (e *Engine) Push(ctx context.Context, req protocol.PushRequest, principal *protocol.Principal) (*AffectedSpaces, error) {
	affected := NewAffectedSpaces()
	if err := req.Validate(); err != nil {
		return affected, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if req.Space != "" {
		if _, ok := e.spaces.Lookup(req.Space); !ok {
			return affected, &protocol.SyncError{
				Code:    protocol.ErrCodeUnknownSpace,
				Message: fmt.Sprintf("space %q is not defined", req.Space),
			}
		}
	}

	log.WithFields(log.Fields{
		"clientGroupID": req.ClientGroupID,
		"space":         req.Space,
		"subspaces":     req.SubspaceIDs,
		"mutations":     len(req.Mutations),
	}).Debug("applying push")

	err := e.applyBatch(ctx, req, principal, affected)
	e.pokeAffected(ctx, affected)
	return affected, err
}

// applyBatch applies the mutations in batch order and stops at the first
// failure, so nothing after the failure point is applied.
//
// With a push concurrency above 1 the batch is split per client. Each
// client's mutations still run in order, and a mutation is never started once
// a mutation earlier in the batch has failed. Mutations of other clients that
// were already running when the failure happened may still commit. The
// reported error is the one earliest in the batch.
func (e *Engine) applyBatch(ctx context.Context, req protocol.PushRequest, principal *protocol.Principal, affected *AffectedSpaces) error {
	if e.pushConcurrency <= 1 {
		for _, m := range req.Mutations {
			if err := e.applyMutation(ctx, req.ClientGroupID, m, principal, affected); err != nil {
				return err
			}
		}
		return nil
	}

	type indexed struct {
		index    int
		mutation protocol.Mutation
	}
	var clientOrder []string
	perClient := make(map[string][]indexed)
	for i, m := range req.Mutations {
		if _, seen := perClient[m.ClientID]; !seen {
			clientOrder = append(clientOrder, m.ClientID)
		}
		perClient[m.ClientID] = append(perClient[m.ClientID], indexed{index: i, mutation: m})
	}

	var (
		mu       sync.Mutex
		failedAt = len(req.Mutations)
		firstErr error
	)
	startable := func(index int) bool {
		mu.Lock()
		defer mu.Unlock()
		return index < failedAt
	}
	fail := func(index int, err error) {
		mu.Lock()
		defer mu.Unlock()
		if index < failedAt {
			failedAt, firstErr = index, err
		}
	}

	var g errgroup.Group
	g.SetLimit(e.pushConcurrency)
	for _, clientID := range clientOrder {
		g.Go(func() error {
			for _, im := range perClient[clientID] {
				if !startable(im.index) {
					return nil
				}
				if err := e.applyMutation(ctx, req.ClientGroupID, im.mutation, principal, affected); err != nil {
					fail(im.index, err)
					return nil
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return firstErr
}

// applyMutation runs one mutation in its own transaction, retrying transient
// storage failures.
func (e *Engine) applyMutation(ctx context.Context, clientGroupID string, m protocol.Mutation, principal *protocol.Principal, affected *AffectedSpaces) error {
	fields := log.Fields{
		"clientGroupID": clientGroupID,
		"clientID":      m.ClientID,
		"mutationID":    m.ID,
		"name":          m.Name,
	}

	var (
		outcome string
		touched []SpaceKey
	)
	attempts, err := retry(ctx, e.maxMutationAttempts, e.retryBackoff, store.IsTransient, func() error {
		touched = nil
		return e.store.InTx(ctx, store.MutationTx, func(tx *store.Tx) error {
			expected, proceed, err := nextMutationID(ctx, tx, clientGroupID, m)
			if err != nil || !proceed {
				outcome = outcomeSkipped
				return err
			}

			mutator, ok := e.mutators.Mutator(m.Name)
			if !ok {
				return protocol.NewNoMutatorError(m)
			}
			affects, ok := e.mutators.AffectedSpaces(m.Name)
			if !ok {
				return &protocol.SyncError{
					Code:       protocol.ErrCodeNoAffectedSpaces,
					Message:    fmt.Sprintf("mutator %q has no affected-space registration", m.Name),
					ClientID:   m.ClientID,
					MutationID: m.ID,
				}
			}

			if principal == nil && !mutator.Public() {
				outcome = outcomeUnauthorized
			} else {
				if err := mutator.Apply(ctx, tx, Call{Mutation: m, Principal: principal}); err != nil {
					return err
				}
				keys, err := affects(Call{Mutation: m, Principal: principal})
				if err != nil {
					return err
				}
				touched = keys
				outcome = outcomeApplied
			}

			return tx.WriteClient(ctx, store.Client{ID: m.ClientID, ClientGroupID: clientGroupID, LastMutationID: expected})
		})
	})

	if err == nil {
		affected.Add(touched...)
		mutationsTotal.WithLabelValues(outcome).Inc()
		switch outcome {
		case outcomeSkipped:
			log.WithFields(fields).Info("skipping already applied mutation")
		case outcomeUnauthorized:
			log.WithFields(fields).Warn("skipping non-public mutation from anonymous caller")
		default:
			log.WithFields(fields).Debug("applied mutation")
		}
		return nil
	}

	if domainErr, ok := protocol.AsDomainError(err); ok {
		mutationsTotal.WithLabelValues(outcomeRejected).Inc()
		log.WithFields(fields).WithField("err", domainErr).Info("mutation rejected")
		if consumeErr := e.consumeMutation(ctx, clientGroupID, m); consumeErr != nil {
			return consumeErr
		}
		return err
	}

	mutationsTotal.WithLabelValues(outcomeFailed).Inc()
	if store.IsTransient(err) {
		log.WithFields(fields).WithFields(log.Fields{"err": err, "attempts": attempts}).Error("mutation retries exhausted")
		return &protocol.SyncError{
			Code:       protocol.ErrCodeRetriesExhausted,
			Message:    fmt.Sprintf("mutation failed after %d attempts: %v", attempts, err),
			ClientID:   m.ClientID,
			MutationID: m.ID,
		}
	}
	log.WithFields(fields).WithField("err", err).Error("mutation failed")
	if protocol.IsSyncError(err) {
		return err
	}
	return fmt.Errorf("mutation %s/%d: %w", m.ClientID, m.ID, err)
}

// consumeMutation advances lastMutationID past a rejected mutation without
// applying it, so the client's later mutations are not blocked behind it.
func (e *Engine) consumeMutation(ctx context.Context, clientGroupID string, m protocol.Mutation) error {
	_, err := retry(ctx, e.maxMutationAttempts, e.retryBackoff, store.IsTransient, func() error {
		return e.store.InTx(ctx, store.MutationTx, func(tx *store.Tx) error {
			expected, proceed, err := nextMutationID(ctx, tx, clientGroupID, m)
			if err != nil || !proceed {
				return err
			}
			return tx.WriteClient(ctx, store.Client{ID: m.ClientID, ClientGroupID: clientGroupID, LastMutationID: expected})
		})
	})
	if err != nil {
		return fmt.Errorf("consume rejected mutation %s/%d: %w", m.ClientID, m.ID, err)
	}
	return nil
}

// nextMutationID checks m against the client's lastMutationID. proceed is
// false for a mutation that was already applied. A mutation beyond the next
// expected id, or from a client registered to another group, is a protocol
// violation.
func nextMutationID(ctx context.Context, tx *store.Tx, clientGroupID string, m protocol.Mutation) (expected int64, proceed bool, err error) {
	var last int64
	client, err := tx.ReadClient(ctx, m.ClientID)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return 0, false, err
	case client.ClientGroupID != clientGroupID:
		log.WithFields(log.Fields{
			"clientID":      m.ClientID,
			"clientGroupID": clientGroupID,
			"registeredTo":  client.ClientGroupID,
		}).Warn("rejecting mutation from client of another group")
		return 0, false, protocol.NewClientGroupMismatchError(m, client.ClientGroupID, clientGroupID)
	default:
		last = client.LastMutationID
	}

	expected = last + 1
	switch {
	case m.ID < expected:
		return expected, false, nil
	case m.ID > expected:
		return expected, false, protocol.NewFutureMutationError(m.ClientID, m.ID, expected)
	default:
		return expected, true, nil
	}
}

// pokeAffected notifies each affected space once, listing its changed
// subspaces. Failures are logged and isolated per space.
func (e *Engine) pokeAffected(ctx context.Context, affected *AffectedSpaces) {
	bySpace := affected.BySpace()
	for _, space := range affected.Spaces() {
		subspaces := bySpace[space]
		attempts, err := retry(ctx, e.maxPokeAttempts, e.retryBackoff, always, func() error {
			return e.notifier.Poke(ctx, string(space), subspaces)
		})
		if err != nil {
			pokeTotal.WithLabelValues(outcomeFailed).Inc()
			log.WithFields(log.Fields{
				"space":     space,
				"subspaces": subspaces,
				"attempts":  attempts,
				"err":       err,
			}).Warn("poke failed")
			continue
		}
		pokeTotal.WithLabelValues(outcomeSent).Inc()
	}
}
