// Package mutators holds the server-side mutators of the marketplace.
//
// Each mutator validates its arguments against a CUE definition in
// schemas.cue, applies its writes inside the push transaction it is handed,
// and declares the (space, subspace) pairs it touched so the push can poke
// them. Invalid arguments and business rule violations are reported as
// *protocol.DomainError.
package mutators
