package mutators

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/spacesync/internal/engine"
	"github.com/roach88/spacesync/internal/protocol"
	"github.com/roach88/spacesync/internal/store"
)

var (
	alice = &protocol.Principal{UserID: "user_alice"}
	bob   = &protocol.Principal{UserID: "user_bob"}
)

type fixture struct {
	t      *testing.T
	store  *store.Store
	engine *engine.Engine
	nextID map[string]int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	r, err := NewRegistry()
	require.NoError(t, err)

	return &fixture{
		t:      t,
		store:  s,
		engine: engine.New(s, r, engine.WithRetryBackoff(0)),
		nextID: map[string]int64{},
	}
}

// push sends one mutation from a client named after the principal.
func (f *fixture) push(principal *protocol.Principal, name, args string) (*engine.AffectedSpaces, error) {
	f.t.Helper()
	clientID := "anon"
	if principal != nil {
		clientID = principal.UserID
	}
	f.nextID[clientID]++
	return f.engine.Push(context.Background(), protocol.PushRequest{
		ClientGroupID: "g-" + clientID,
		Mutations: []protocol.Mutation{{
			ClientID: clientID,
			ID:       f.nextID[clientID],
			Name:     name,
			Args:     json.RawMessage(args),
		}},
	}, principal)
}

func (f *fixture) mustPush(principal *protocol.Principal, name, args string) *engine.AffectedSpaces {
	f.t.Helper()
	affected, err := f.push(principal, name, args)
	require.NoError(f.t, err)
	return affected
}

func (f *fixture) read(id string, dst any) int64 {
	f.t.Helper()
	var version int64
	require.NoError(f.t, f.store.InTx(context.Background(), store.PullTx, func(tx *store.Tx) error {
		e, err := tx.ReadEntity(context.Background(), id)
		if err != nil {
			return err
		}
		version = e.Version
		return json.Unmarshal(e.Payload, dst)
	}))
	return version
}

func (f *fixture) exists(id string) bool {
	f.t.Helper()
	found := false
	require.NoError(f.t, f.store.InTx(context.Background(), store.PullTx, func(tx *store.Tx) error {
		rows, err := tx.ReadEntities(context.Background(), id)
		found = len(rows) == 1
		return err
	}))
	return found
}

func requireDomainError(t *testing.T, err error, code string) *protocol.DomainError {
	t.Helper()
	domainErr, ok := protocol.AsDomainError(err)
	require.True(t, ok, "expected domain error %s, got %v", code, err)
	assert.Equal(t, code, domainErr.Code)
	return domainErr
}

func TestRegistry(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	assert.Equal(t, []string{
		"addToCart", "checkout", "createCart", "createProduct", "createStore",
		"deleteProduct", "removeFromCart", "updateProduct", "updateStore", "updateUser",
	}, r.Names())
	assert.Equal(t, []string{"addToCart", "createCart", "removeFromCart"}, r.Public())

	_, ok := r.Mutator("launchRocket")
	assert.False(t, ok)
	_, ok = r.AffectedSpaces("checkout")
	assert.True(t, ok)
}

func TestRegistry_ValidateRejectsMissingDeclarations(t *testing.T) {
	set, err := loadSchemas()
	require.NoError(t, err)

	r := newRegistry(set)
	r.register("createCart", "#CreateCart", createCart{set}, nil)
	assert.ErrorContains(t, r.Validate(), "no affected-space declaration")

	r = newRegistry(set)
	r.register("createCart", "#Nope", createCart{set}, cartAffects("id"))
	assert.ErrorContains(t, r.Validate(), "no argument schema")
}

func TestSchemas(t *testing.T) {
	set, err := loadSchemas()
	require.NoError(t, err)

	tests := []struct {
		name       string
		definition string
		args       string
		ok         bool
	}{
		{"valid product", "#CreateProduct", `{"id":"product_1","storeID":"store_42","name":"Mug","price":1250}`, true},
		{"unknown field", "#CreateProduct", `{"id":"product_1","storeID":"store_42","name":"Mug","price":1250,"color":"red"}`, false},
		{"missing field", "#CreateProduct", `{"id":"product_1","storeID":"store_42","name":"Mug"}`, false},
		{"bad id prefix", "#CreateProduct", `{"id":"store_1","storeID":"store_42","name":"Mug","price":1}`, false},
		{"negative price", "#CreateProduct", `{"id":"product_1","storeID":"store_42","name":"Mug","price":-1}`, false},
		{"fractional price", "#CreateProduct", `{"id":"product_1","storeID":"store_42","name":"Mug","price":1.5}`, false},
		{"empty name", "#CreateStore", `{"id":"store_1","name":""}`, false},
		{"zero quantity", "#AddToCart", `{"cartID":"cart_1","productID":"product_1","quantity":0}`, false},
		{"null args", "#CreateCart", `null`, false},
		{"not json", "#CreateCart", `{"id":`, false},
		{"bad email", "#UpdateUser", `{"email":"nope"}`, false},
		{"empty update", "#UpdateUser", `{}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := set.validate(tt.definition, json.RawMessage(tt.args))
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			requireDomainError(t, err, CodeInvalidArgs)
		})
	}
}

func TestStoreAndProductLifecycle(t *testing.T) {
	f := newFixture(t)

	affected := f.mustPush(alice, "createStore", `{"id":"store_42","name":"Alice's Mugs"}`)
	assert.True(t, affected.Contains(protocol.SpaceDashboard, "store_42"))
	assert.True(t, affected.Contains(protocol.SpaceMarketplace, "store_42"))

	var s storePayload
	f.read("store_42", &s)
	assert.Equal(t, storePayload{ID: "store_42", Name: "Alice's Mugs", OwnerID: "user_alice"}, s)

	affected = f.mustPush(alice, "createProduct", `{"id":"product_1","storeID":"store_42","name":"Mug","price":1250,"stock":3}`)
	assert.True(t, affected.Contains(protocol.SpaceDashboard, "store_42"))

	var p productPayload
	assert.Equal(t, int64(1), f.read("product_1", &p))
	assert.Equal(t, productPayload{ID: "product_1", StoreID: "store_42", Name: "Mug", Price: 1250, Stock: 3}, p)

	f.mustPush(alice, "updateProduct", `{"id":"product_1","storeID":"store_42","price":1500}`)
	assert.Equal(t, int64(2), f.read("product_1", &p))
	assert.Equal(t, int64(1500), p.Price)
	assert.Equal(t, "Mug", p.Name)

	_, err := f.push(alice, "updateProduct", `{"id":"product_1","storeID":"store_42","price":1,"expectedVersion":1}`)
	requireDomainError(t, err, CodeVersionConflict)

	f.mustPush(alice, "updateStore", `{"id":"store_42","description":"handmade"}`)
	f.read("store_42", &s)
	assert.Equal(t, "handmade", s.Description)
	assert.Equal(t, "Alice's Mugs", s.Name)

	f.mustPush(alice, "deleteProduct", `{"id":"product_1","storeID":"store_42"}`)
	assert.False(t, f.exists("product_1"))

	// A re-created product never reuses a version a client may still hold.
	f.mustPush(alice, "createProduct", `{"id":"product_1","storeID":"store_42","name":"Cup","price":900}`)
	assert.Equal(t, int64(3), f.read("product_1", &p))
	assert.Equal(t, "Cup", p.Name)
}

func TestStoreOwnership(t *testing.T) {
	f := newFixture(t)
	f.mustPush(alice, "createStore", `{"id":"store_42","name":"Alice's Mugs"}`)

	_, err := f.push(bob, "createStore", `{"id":"store_42","name":"Bob's Mugs"}`)
	requireDomainError(t, err, CodeAlreadyExists)

	_, err = f.push(bob, "updateStore", `{"id":"store_42","name":"Mine now"}`)
	requireDomainError(t, err, CodeForbidden)

	_, err = f.push(bob, "createProduct", `{"id":"product_1","storeID":"store_42","name":"Mug","price":1}`)
	requireDomainError(t, err, CodeForbidden)

	_, err = f.push(alice, "createProduct", `{"id":"product_1","storeID":"store_404","name":"Mug","price":1}`)
	requireDomainError(t, err, CodeNotFound)
}

func TestProductMustBelongToStore(t *testing.T) {
	f := newFixture(t)
	f.mustPush(alice, "createStore", `{"id":"store_1","name":"One"}`)
	f.mustPush(alice, "createStore", `{"id":"store_2","name":"Two"}`)
	f.mustPush(alice, "createProduct", `{"id":"product_1","storeID":"store_1","name":"Mug","price":1}`)

	_, err := f.push(alice, "deleteProduct", `{"id":"product_1","storeID":"store_2"}`)
	requireDomainError(t, err, CodeNotFound)
	assert.True(t, f.exists("product_1"))
}

func TestCartAndCheckout(t *testing.T) {
	f := newFixture(t)
	f.mustPush(alice, "createStore", `{"id":"store_1","name":"One"}`)
	f.mustPush(alice, "createStore", `{"id":"store_2","name":"Two"}`)
	f.mustPush(alice, "createProduct", `{"id":"product_1","storeID":"store_1","name":"Mug","price":1250}`)
	f.mustPush(alice, "createProduct", `{"id":"product_2","storeID":"store_2","name":"Cup","price":300}`)

	// Anonymous shoppers may build a cart.
	affected := f.mustPush(nil, "createCart", `{"id":"cart_1"}`)
	assert.True(t, affected.Contains(protocol.SpaceGlobal, "cart_1"))
	f.mustPush(nil, "addToCart", `{"cartID":"cart_1","productID":"product_1","quantity":1}`)
	f.mustPush(nil, "addToCart", `{"cartID":"cart_1","productID":"product_1","quantity":2}`)
	f.mustPush(nil, "addToCart", `{"cartID":"cart_1","productID":"product_2","quantity":1}`)

	var c cartPayload
	f.read("cart_1", &c)
	assert.Equal(t, []lineItem{
		{ProductID: "product_1", StoreID: "store_1", Quantity: 3, Price: 1250},
		{ProductID: "product_2", StoreID: "store_2", Quantity: 1, Price: 300},
	}, c.Items)

	// ...but checkout needs a signed-in user: the anonymous attempt is
	// skipped and creates nothing.
	f.mustPush(nil, "checkout", `{"id":"order_1","cartID":"cart_1","storeID":"store_1"}`)
	assert.False(t, f.exists("order_1"))

	f.mustPush(alice, "updateProduct", `{"id":"product_1","storeID":"store_1","price":1000}`)

	affected = f.mustPush(bob, "checkout", `{"id":"order_1","cartID":"cart_1","storeID":"store_1"}`)
	assert.True(t, affected.Contains(protocol.SpaceGlobal, "cart_1"))
	assert.True(t, affected.Contains(protocol.SpaceDashboard, "store_1"))

	var o orderPayload
	f.read("order_1", &o)
	assert.Equal(t, orderPayload{
		ID:      "order_1",
		CartID:  "cart_1",
		StoreID: "store_1",
		UserID:  "user_bob",
		Items:   []lineItem{{ProductID: "product_1", StoreID: "store_1", Quantity: 3, Price: 1000}},
		Total:   3000,
	}, o)

	f.read("cart_1", &c)
	assert.Equal(t, []lineItem{{ProductID: "product_2", StoreID: "store_2", Quantity: 1, Price: 300}}, c.Items)

	f.mustPush(nil, "removeFromCart", `{"cartID":"cart_1","productID":"product_2"}`)
	f.read("cart_1", &c)
	assert.Empty(t, c.Items)

	_, err := f.push(bob, "checkout", `{"id":"order_2","cartID":"cart_1","storeID":"store_2"}`)
	domainErr := requireDomainError(t, err, CodeCartEmpty)
	assert.Equal(t, "cart is empty", domainErr.Message)

	_, err = f.push(bob, "checkout", `{"id":"order_3","cartID":"cart_404","storeID":"store_2"}`)
	domainErr = requireDomainError(t, err, CodeNotFound)
	assert.Equal(t, "cart not found", domainErr.Message)
}

func TestAddToCart_UnknownProduct(t *testing.T) {
	f := newFixture(t)
	f.mustPush(nil, "createCart", `{"id":"cart_1"}`)

	_, err := f.push(nil, "addToCart", `{"cartID":"cart_1","productID":"product_404","quantity":1}`)
	requireDomainError(t, err, CodeNotFound)
}

func TestUpdateUser(t *testing.T) {
	f := newFixture(t)

	affected := f.mustPush(alice, "updateUser", `{"name":"Alice"}`)
	assert.True(t, affected.Contains(protocol.SpaceGlobal, "user_alice"))
	f.mustPush(alice, "updateUser", `{"email":"alice@example.com"}`)

	var u userPayload
	assert.Equal(t, int64(2), f.read("user_alice", &u))
	assert.Equal(t, userPayload{ID: "user_alice", Name: "Alice", Email: "alice@example.com"}, u)
}

func TestInvalidArgumentsAreDomainErrors(t *testing.T) {
	f := newFixture(t)

	_, err := f.push(alice, "createStore", `{"id":"shop_1","name":"x"}`)
	requireDomainError(t, err, CodeInvalidArgs)
	assert.False(t, f.exists("shop_1"))
}

func TestUserEntityID(t *testing.T) {
	assert.Equal(t, "user_7", userEntityID("user_7"))
	assert.Equal(t, "user_7", userEntityID("7"))
}

func TestProductSyncsToDashboard(t *testing.T) {
	f := newFixture(t)
	f.mustPush(alice, "createStore", `{"id":"store_42","name":"Alice's Mugs"}`)
	f.mustPush(alice, "createProduct", `{"id":"product_1","storeID":"store_42","name":"Mug","price":1250}`)

	resp, err := f.engine.Pull(context.Background(), protocol.PullRequest{
		ClientGroupID: "g-user_alice",
		Space:         protocol.SpaceDashboard,
		SubspaceIDs:   []string{"store_42"},
	}, alice)
	require.NoError(t, err)

	assert.Equal(t, map[string]int64{"user_alice": 2}, resp.LastMutationIDChanges)
	require.NotEmpty(t, resp.Patch)
	assert.Equal(t, protocol.OpClear, resp.Patch[0].Op, "first pull starts from scratch")
	puts := map[string]string{}
	for _, op := range resp.Patch[1:] {
		assert.Equal(t, protocol.OpPut, op.Op)
		puts[op.Key] = string(op.Value)
	}
	require.Len(t, puts, 2)
	assert.JSONEq(t, `{"id":"product_1","name":"Mug","price":1250,"stock":0,"storeID":"store_42"}`, puts["product_1"])
	assert.JSONEq(t, `{"id":"store_42","name":"Alice's Mugs","ownerID":"user_alice"}`, puts["store_42"])
}
