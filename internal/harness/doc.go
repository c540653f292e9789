// Package harness runs YAML sync scenarios against a real engine.
//
// # Scenario Format
//
//	name: dashboard_create_product
//	description: "Seller adds a product and re-pulls the dashboard"
//	steps:
//	  - push:
//	      as: user_1
//	      client_group: g1
//	      space: dashboard
//	      mutations:
//	        - { client: c1, id: 1, name: createStore, args: { id: store_42, name: Mugs } }
//	    expect:
//	      affected: [dashboard/store_42, marketplace/store_42]
//	  - pull:
//	      as: user_1
//	      client_group: g1
//	      space: dashboard
//	      subspaces: [store_42]
//	    expect:
//	      outcome: changed
//	      puts: [store_42]
//	assertions:
//	  - type: final_state
//	    entities: { store_42: 1 }
//
// A pull reuses the cookie its client group last received for that space
// unless cookie: none is given. Steps without "as" are anonymous.
//
// # Assertion Types
//
//   - final_state: entity id → version; 0 means the entity must not exist
//   - last_mutation_ids: client id → lastMutationID
//   - trace_count: number of steps of a kind with a given outcome
//
// # Deterministic Testing
//
// Every scenario runs against a fresh in-memory SQLite store with
// sequential snapshot keys (k1, k2, ...), so cookies and patches are
// identical across runs and can be compared with golden files.
package harness
