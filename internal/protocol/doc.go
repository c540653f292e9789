// Package protocol defines the wire types of the pull/push sync protocol.
//
// Everything a client sees travels through this package: cookies, mutations,
// patches and the ordered id→version records the diff engine compares.
// protocol imports nothing internal; every other package may import it.
//
// Patches and responses are encoded with MarshalCanonical so identical inputs
// always produce byte-identical output. Clients apply patches through
// append-only watchers and compare bytes.
package protocol
