package mutators

import (
	"context"
	"slices"

	"github.com/roach88/spacesync/internal/engine"
	"github.com/roach88/spacesync/internal/protocol"
	"github.com/roach88/spacesync/internal/store"
)

type cartArgs struct {
	ID        string `json:"id"`
	CartID    string `json:"cartID"`
	ProductID string `json:"productID"`
	Quantity  int64  `json:"quantity"`
}

type createCart struct{ schemas *schemaSet }

func (createCart) Public() bool { return true }

func (m createCart) Apply(ctx context.Context, tx *store.Tx, call engine.Call) error {
	var args cartArgs
	if err := m.schemas.decode("#CreateCart", call.Mutation.Args, &args); err != nil {
		return err
	}
	c := cartPayload{ID: args.ID, Items: []lineItem{}}
	if call.Principal != nil {
		c.OwnerID = call.Principal.UserID
	}
	return writePayload(ctx, tx, c.ID, c.ID, "cart "+c.ID, c, 0)
}

type addToCart struct{ schemas *schemaSet }

func (addToCart) Public() bool { return true }

func (m addToCart) Apply(ctx context.Context, tx *store.Tx, call engine.Call) error {
	var args cartArgs
	if err := m.schemas.decode("#AddToCart", call.Mutation.Args, &args); err != nil {
		return err
	}
	var c cartPayload
	version, err := readPayload(ctx, tx, args.CartID, "cart", &c)
	if err != nil {
		return err
	}
	var p productPayload
	if _, err := readPayload(ctx, tx, args.ProductID, "product "+args.ProductID, &p); err != nil {
		return err
	}

	i := slices.IndexFunc(c.Items, func(l lineItem) bool { return l.ProductID == args.ProductID })
	if i >= 0 {
		c.Items[i].Quantity += args.Quantity
		c.Items[i].Price = p.Price
	} else {
		c.Items = append(c.Items, lineItem{
			ProductID: p.ID,
			StoreID:   p.StoreID,
			Quantity:  args.Quantity,
			Price:     p.Price,
		})
	}
	return writePayload(ctx, tx, c.ID, c.ID, "cart", c, version)
}

type removeFromCart struct{ schemas *schemaSet }

func (removeFromCart) Public() bool { return true }

func (m removeFromCart) Apply(ctx context.Context, tx *store.Tx, call engine.Call) error {
	var args cartArgs
	if err := m.schemas.decode("#RemoveFromCart", call.Mutation.Args, &args); err != nil {
		return err
	}
	var c cartPayload
	version, err := readPayload(ctx, tx, args.CartID, "cart", &c)
	if err != nil {
		return err
	}
	kept := slices.DeleteFunc(c.Items, func(l lineItem) bool { return l.ProductID == args.ProductID })
	if len(kept) == len(c.Items) {
		return nil
	}
	c.Items = kept
	return writePayload(ctx, tx, c.ID, c.ID, "cart", c, version)
}

// cartAffects declares the global subspace of the cart named by field.
func cartAffects(field string) engine.AffectsFunc {
	return func(call engine.Call) ([]engine.SpaceKey, error) {
		var args cartArgs
		if err := unmarshalArgs(call, &args); err != nil {
			return nil, err
		}
		cartID := args.CartID
		if field == "id" {
			cartID = args.ID
		}
		return []engine.SpaceKey{{Space: protocol.SpaceGlobal, SubspaceID: cartID}}, nil
	}
}
