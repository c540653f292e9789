package mutators

import (
	"context"

	"github.com/roach88/spacesync/internal/engine"
	"github.com/roach88/spacesync/internal/protocol"
	"github.com/roach88/spacesync/internal/store"
)

type productArgs struct {
	ID              string  `json:"id"`
	StoreID         string  `json:"storeID"`
	Name            *string `json:"name"`
	Price           *int64  `json:"price"`
	Stock           *int64  `json:"stock"`
	Description     *string `json:"description"`
	ExpectedVersion *int64  `json:"expectedVersion"`
}

func (a productArgs) applyTo(p *productPayload) {
	if a.Name != nil {
		p.Name = *a.Name
	}
	if a.Price != nil {
		p.Price = *a.Price
	}
	if a.Stock != nil {
		p.Stock = *a.Stock
	}
	if a.Description != nil {
		p.Description = *a.Description
	}
}

type createProduct struct{ schemas *schemaSet }

func (createProduct) Public() bool { return false }

func (m createProduct) Apply(ctx context.Context, tx *store.Tx, call engine.Call) error {
	var args productArgs
	if err := m.schemas.decode("#CreateProduct", call.Mutation.Args, &args); err != nil {
		return err
	}
	owner, err := callerID(call)
	if err != nil {
		return err
	}
	if err := ownStore(ctx, tx, args.StoreID, owner); err != nil {
		return err
	}

	p := productPayload{ID: args.ID, StoreID: args.StoreID}
	args.applyTo(&p)
	return writePayload(ctx, tx, p.ID, p.StoreID, "product "+p.ID, p, 0)
}

type updateProduct struct{ schemas *schemaSet }

func (updateProduct) Public() bool { return false }

func (m updateProduct) Apply(ctx context.Context, tx *store.Tx, call engine.Call) error {
	var args productArgs
	if err := m.schemas.decode("#UpdateProduct", call.Mutation.Args, &args); err != nil {
		return err
	}
	p, version, err := loadOwnedProduct(ctx, tx, call, args)
	if err != nil {
		return err
	}
	if args.ExpectedVersion != nil {
		version = *args.ExpectedVersion
	}
	args.applyTo(&p)
	return writePayload(ctx, tx, p.ID, p.StoreID, "product "+p.ID, p, version)
}

type deleteProduct struct{ schemas *schemaSet }

func (deleteProduct) Public() bool { return false }

func (m deleteProduct) Apply(ctx context.Context, tx *store.Tx, call engine.Call) error {
	var args productArgs
	if err := m.schemas.decode("#DeleteProduct", call.Mutation.Args, &args); err != nil {
		return err
	}
	if _, _, err := loadOwnedProduct(ctx, tx, call, args); err != nil {
		return err
	}
	_, err := tx.DeleteEntities(ctx, args.ID)
	return err
}

// loadOwnedProduct reads the product named by args and checks that it lives
// in args.StoreID and that the caller owns that store.
func loadOwnedProduct(ctx context.Context, tx *store.Tx, call engine.Call, args productArgs) (productPayload, int64, error) {
	owner, err := callerID(call)
	if err != nil {
		return productPayload{}, 0, err
	}
	if err := ownStore(ctx, tx, args.StoreID, owner); err != nil {
		return productPayload{}, 0, err
	}
	var p productPayload
	version, err := readPayload(ctx, tx, args.ID, "product "+args.ID, &p)
	if err != nil {
		return productPayload{}, 0, err
	}
	if p.StoreID != args.StoreID {
		return productPayload{}, 0, protocol.NewDomainError(CodeNotFound, "product %s not found in store %s", args.ID, args.StoreID)
	}
	return p, version, nil
}

func productAffects(call engine.Call) ([]engine.SpaceKey, error) {
	var args productArgs
	if err := unmarshalArgs(call, &args); err != nil {
		return nil, err
	}
	return storeScopes(args.StoreID), nil
}
