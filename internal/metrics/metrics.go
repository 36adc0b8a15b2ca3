// Package metrics registers the Prometheus instrumentation for a cluster
// node, following the promauto convention neogan74/konsul's internal/metrics
// package established for this pack: package-level collectors built once
// at init and incremented from wherever the corresponding event happens.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CommandsTotal counts client commands processed, by verb and outcome.
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replikv_commands_total",
			Help: "Total number of client commands processed.",
		},
		[]string{"verb", "status"},
	)

	// ReplicationTotal counts outbound REPLICATE attempts, by outcome.
	ReplicationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replikv_replication_total",
			Help: "Total number of outbound replication attempts.",
		},
		[]string{"status"},
	)

	// ElectionsStarted counts elections this node has initiated.
	ElectionsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "replikv_elections_started_total",
			Help: "Total number of elections this node has started as a candidate.",
		},
	)

	// ElectionsWon counts elections this node has won.
	ElectionsWon = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "replikv_elections_won_total",
			Help: "Total number of elections this node has won.",
		},
	)

	// CurrentTerm exposes the node's current election term.
	CurrentTerm = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "replikv_current_term",
			Help: "The node's current election term.",
		},
	)

	// IsPrimary is 1 when this node currently believes it is PRIMARY, 0
	// otherwise.
	IsPrimary = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "replikv_is_primary",
			Help: "1 if this node is currently PRIMARY, 0 if SECONDARY.",
		},
	)

	// StoreKeys exposes the number of live keys in the local store.
	StoreKeys = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "replikv_store_keys",
			Help: "Number of live keys in the local key-value store.",
		},
	)
)
