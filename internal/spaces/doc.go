// Package spaces declares the sync spaces and computes their space records.
//
// A space is a named partition domain (global, dashboard, marketplace) with
// its own sync stream. A partitioned space is further divided into subspaces
// by entity partition key, one per store or cart, so a client only tracks the
// slice of the space it asked for.
//
// A space record is the id→version snapshot of one space, restricted to a
// sorted subspace set and observed by one client group. Snapshots are stored
// under fresh opaque keys and never modified; the Manager creates, loads and
// deletes them within a single pull transaction.
package spaces
