// Package engine implements the pull and push sides of the sync protocol.
//
// PULL:
//
// One pull runs in a single repeatable-read transaction:
//
//	ParseCookie → Authorize → ComputeSnapshots → Diff → DecideIfChanged → Persist → Respond
//
// The five snapshot reads (old and new space record, old and new client
// record, client group) run in parallel against the same transaction. When
// neither the patch nor the client mutation ids changed, the fresh snapshots
// are deleted and the old cookie is returned unchanged. Otherwise the cookie
// advances to the new snapshot keys with order max(group version, cookie
// order)+1 and the superseded snapshots are deleted.
//
// PUSH:
//
// Mutations of one client are applied strictly in id order, each in its own
// serializable transaction that also advances the client's lastMutationID.
// Replayed mutations are skipped; a gap in the ids aborts the push. After the
// batch, every affected (space, subspace) pair is poked so other clients
// re-pull.
//
// Storage errors classified as transient are retried a bounded number of
// times; protocol violations and domain errors never are.
package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric outcome labels.
const (
	outcomeUnauthorized = "unauthorized"
	outcomeUnchanged    = "unchanged"
	outcomeChanged      = "changed"
	outcomeError        = "error"

	outcomeApplied  = "applied"
	outcomeSkipped  = "skipped"
	outcomeRejected = "rejected"
	outcomeFailed   = "failed"

	outcomeSent = "sent"
)

var (
	pullTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spacesync_pull_total",
		Help: "counter of pull requests by space and outcome",
	}, []string{"space", "outcome"})
	pullDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "spacesync_pull_duration_seconds",
		Help:    "duration of pull transactions",
		Buckets: prometheus.DefBuckets,
	}, []string{"space"})
	mutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spacesync_mutations_total",
		Help: "counter of pushed mutations by outcome",
	}, []string{"outcome"})
	pokeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spacesync_poke_total",
		Help: "counter of poke notifications by outcome",
	}, []string{"outcome"})
	staticCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spacesync_static_cache_total",
		Help: "counter of static pull cache lookups by result",
	}, []string{"result"})
)
