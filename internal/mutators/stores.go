package mutators

import (
	"context"

	"github.com/roach88/spacesync/internal/engine"
	"github.com/roach88/spacesync/internal/protocol"
	"github.com/roach88/spacesync/internal/store"
)

type storeArgs struct {
	ID          string  `json:"id"`
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

type createStore struct{ schemas *schemaSet }

func (createStore) Public() bool { return false }

func (m createStore) Apply(ctx context.Context, tx *store.Tx, call engine.Call) error {
	var args storeArgs
	if err := m.schemas.decode("#CreateStore", call.Mutation.Args, &args); err != nil {
		return err
	}
	owner, err := callerID(call)
	if err != nil {
		return err
	}
	s := storePayload{ID: args.ID, Name: *args.Name, OwnerID: owner}
	if args.Description != nil {
		s.Description = *args.Description
	}
	return writePayload(ctx, tx, s.ID, s.ID, "store "+s.ID, s, 0)
}

type updateStore struct{ schemas *schemaSet }

func (updateStore) Public() bool { return false }

func (m updateStore) Apply(ctx context.Context, tx *store.Tx, call engine.Call) error {
	var args storeArgs
	if err := m.schemas.decode("#UpdateStore", call.Mutation.Args, &args); err != nil {
		return err
	}
	owner, err := callerID(call)
	if err != nil {
		return err
	}
	if err := ownStore(ctx, tx, args.ID, owner); err != nil {
		return err
	}

	var s storePayload
	version, err := readPayload(ctx, tx, args.ID, "store "+args.ID, &s)
	if err != nil {
		return err
	}
	if args.Name != nil {
		s.Name = *args.Name
	}
	if args.Description != nil {
		s.Description = *args.Description
	}
	return writePayload(ctx, tx, s.ID, s.ID, "store "+s.ID, s, version)
}

func storeAffects(call engine.Call) ([]engine.SpaceKey, error) {
	var args storeArgs
	if err := unmarshalArgs(call, &args); err != nil {
		return nil, err
	}
	return storeScopes(args.ID), nil
}

// storeScopes are the subspaces that show a store and its products.
func storeScopes(storeID string) []engine.SpaceKey {
	return []engine.SpaceKey{
		{Space: protocol.SpaceDashboard, SubspaceID: storeID},
		{Space: protocol.SpaceMarketplace, SubspaceID: storeID},
	}
}
