// Package poke delivers invalidation notices to clients after a push.
//
// A poke carries no data: it only names the space and the subspaces whose
// entities changed, so subscribed clients know to pull again.
package poke

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

// Notifier delivers one poke for a space and its changed subspaces.
type Notifier interface {
	Poke(ctx context.Context, space string, subspaceIDs []string) error
}

// Message is the JSON body of a poke.
type Message struct {
	Space       string   `json:"space"`
	SubspaceIDs []string `json:"subspaceIDs"`
}

func newMessage(space string, subspaceIDs []string) Message {
	ids := slices.Clone(subspaceIDs)
	if ids == nil {
		ids = []string{}
	}
	return Message{Space: space, SubspaceIDs: ids}
}

// Multi fans a poke out to every notifier. All notifiers are tried; their
// failures are joined.
type Multi []Notifier

func (m Multi) Poke(ctx context.Context, space string, subspaceIDs []string) error {
	var errs []error
	for i, n := range m {
		if err := n.Poke(ctx, space, subspaceIDs); err != nil {
			errs = append(errs, fmt.Errorf("notifier %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
