package mutators

import (
	"fmt"
	"slices"

	"github.com/roach88/spacesync/internal/engine"
)

// Registry maps mutation names to mutators and their affected-space
// declarations.
type Registry struct {
	mutators map[string]engine.Mutator
	affects  map[string]engine.AffectsFunc
	schemas  map[string]string
	set      *schemaSet
}

var _ engine.MutatorRegistry = (*Registry)(nil)

// NewRegistry builds the registry of every marketplace mutator and validates it.
func NewRegistry() (*Registry, error) {
	set, err := loadSchemas()
	if err != nil {
		return nil, err
	}
	r := newRegistry(set)

	r.register("createStore", "#CreateStore", createStore{set}, storeAffects)
	r.register("updateStore", "#UpdateStore", updateStore{set}, storeAffects)
	r.register("createProduct", "#CreateProduct", createProduct{set}, productAffects)
	r.register("updateProduct", "#UpdateProduct", updateProduct{set}, productAffects)
	r.register("deleteProduct", "#DeleteProduct", deleteProduct{set}, productAffects)
	r.register("createCart", "#CreateCart", createCart{set}, cartAffects("id"))
	r.register("addToCart", "#AddToCart", addToCart{set}, cartAffects("cartID"))
	r.register("removeFromCart", "#RemoveFromCart", removeFromCart{set}, cartAffects("cartID"))
	r.register("checkout", "#Checkout", checkout{set}, checkoutAffects)
	r.register("updateUser", "#UpdateUser", updateUser{set}, userAffects)

	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

func newRegistry(set *schemaSet) *Registry {
	return &Registry{
		mutators: make(map[string]engine.Mutator),
		affects:  make(map[string]engine.AffectsFunc),
		schemas:  make(map[string]string),
		set:      set,
	}
}

func (r *Registry) register(name, schema string, m engine.Mutator, affects engine.AffectsFunc) {
	r.mutators[name] = m
	r.schemas[name] = schema
	if affects != nil {
		r.affects[name] = affects
	}
}

// Mutator returns the mutator registered under name.
func (r *Registry) Mutator(name string) (engine.Mutator, bool) {
	m, ok := r.mutators[name]
	return m, ok
}

// AffectedSpaces returns the affected-space declaration of name.
func (r *Registry) AffectedSpaces(name string) (engine.AffectsFunc, bool) {
	f, ok := r.affects[name]
	return f, ok
}

// Names returns every registered mutator name in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.mutators))
	for name := range r.mutators {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Public returns the names anonymous callers may run, in sorted order.
func (r *Registry) Public() []string {
	var names []string
	for _, name := range r.Names() {
		if r.mutators[name].Public() {
			names = append(names, name)
		}
	}
	return names
}

// Validate fails when a mutator lacks an affected-space declaration or an
// argument schema. It runs at startup so a misconfigured registry never
// serves a push.
func (r *Registry) Validate() error {
	for _, name := range r.Names() {
		if _, ok := r.affects[name]; !ok {
			return fmt.Errorf("mutator %q has no affected-space declaration", name)
		}
		if schema := r.schemas[name]; schema == "" || !r.set.has(schema) {
			return fmt.Errorf("mutator %q has no argument schema %q", name, schema)
		}
	}
	return nil
}
