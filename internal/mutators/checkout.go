package mutators

import (
	"context"

	"github.com/roach88/spacesync/internal/engine"
	"github.com/roach88/spacesync/internal/protocol"
	"github.com/roach88/spacesync/internal/store"
)

type checkoutArgs struct {
	ID      string `json:"id"`
	CartID  string `json:"cartID"`
	StoreID string `json:"storeID"`
}

// checkout turns the cart lines of one store into an order priced at the
// current product prices and removes those lines from the cart.
type checkout struct{ schemas *schemaSet }

func (checkout) Public() bool { return false }

func (m checkout) Apply(ctx context.Context, tx *store.Tx, call engine.Call) error {
	var args checkoutArgs
	if err := m.schemas.decode("#Checkout", call.Mutation.Args, &args); err != nil {
		return err
	}
	userID, err := callerID(call)
	if err != nil {
		return err
	}

	var c cartPayload
	cartVersion, err := readPayload(ctx, tx, args.CartID, "cart", &c)
	if err != nil {
		return err
	}
	if len(c.Items) == 0 {
		return protocol.NewDomainError(CodeCartEmpty, "cart is empty")
	}

	order := orderPayload{
		ID:      args.ID,
		CartID:  args.CartID,
		StoreID: args.StoreID,
		UserID:  userID,
		Items:   []lineItem{},
	}
	remaining := []lineItem{}
	for _, line := range c.Items {
		if line.StoreID != args.StoreID {
			remaining = append(remaining, line)
			continue
		}
		var p productPayload
		if _, err := readPayload(ctx, tx, line.ProductID, "product "+line.ProductID, &p); err != nil {
			return err
		}
		line.Price = p.Price
		order.Items = append(order.Items, line)
		order.Total += p.Price * line.Quantity
	}
	if len(order.Items) == 0 {
		return protocol.NewDomainError(CodeCartEmpty, "cart has no items from store %s", args.StoreID)
	}

	if err := writePayload(ctx, tx, order.ID, order.StoreID, "order "+order.ID, order, 0); err != nil {
		return err
	}
	c.Items = remaining
	return writePayload(ctx, tx, c.ID, c.ID, "cart", c, cartVersion)
}

func checkoutAffects(call engine.Call) ([]engine.SpaceKey, error) {
	var args checkoutArgs
	if err := unmarshalArgs(call, &args); err != nil {
		return nil, err
	}
	return []engine.SpaceKey{
		{Space: protocol.SpaceGlobal, SubspaceID: args.CartID},
		{Space: protocol.SpaceDashboard, SubspaceID: args.StoreID},
	}, nil
}
