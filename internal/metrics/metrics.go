// Package metrics exposes the coordinator's prometheus metrics, grounded
// on cuemby-warren's pkg/metrics: package-level collectors MustRegister'd
// at init, scraped through Handler().
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Election metrics.
	IsLeader = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ridecoord_is_leader",
		Help: "Whether this node currently believes itself to be leader (1) or not (0)",
	})

	ElectionsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ridecoord_elections_started_total",
		Help: "Total number of ring elections this node has originated",
	})

	ElectionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ridecoord_election_duration_seconds",
		Help:    "Wall-clock time from starting an election to a leader being applied",
		Buckets: prometheus.DefBuckets,
	})

	// Request lifecycle metrics.
	RequestsAdmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ridecoord_requests_admitted_total",
		Help: "Total number of trip/order requests admitted",
	})

	RequestsByOutcome = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ridecoord_requests_total",
		Help: "Total requests by terminal outcome",
	}, []string{"outcome"})

	RequestsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ridecoord_requests_in_flight",
		Help: "Number of requests not yet in a terminal phase",
	})

	// Matcher / offer protocol metrics.
	OffersSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ridecoord_offers_sent_total",
		Help: "Total number of CanAccept offers sent to providers",
	})

	OffersDeclined = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ridecoord_offers_declined_total",
		Help: "Total number of CanAcceptResp{accepted=false} received",
	})

	ProvidersReaped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ridecoord_providers_reaped_total",
		Help: "Total number of providers evicted from Waiting by the reaper",
	})

	// Two-phase commit metrics.
	PrepareDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ridecoord_prepare_duration_seconds",
		Help:    "Time spent in PREPARE per participant",
		Buckets: prometheus.DefBuckets,
	}, []string{"participant"})

	CommitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ridecoord_commits_total",
		Help: "Total number of committed two-phase-commit transactions",
	})

	AbortsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ridecoord_aborts_total",
		Help: "Total number of RejectTrip replies sent, by reason",
	}, []string{"reason"})

	// Replication metrics.
	ReplicationGaps = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ridecoord_replication_gaps_total",
		Help: "Total number of sequence gaps detected by a follower's applier",
	})

	ReplicationLagSeq = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ridecoord_replication_lag_seq",
		Help: "Difference between the leader's last published sequence and this follower's applied sequence",
	})

	// Transport metrics.
	PeerConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ridecoord_peer_connections",
		Help: "Number of currently connected external-role peers",
	})

	WriterQueueDepth = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ridecoord_writer_queue_depth",
		Help:    "Observed depth of a per-peer writer's outbound queue at enqueue time",
		Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64},
	}, []string{"peer"})
)

func init() {
	prometheus.MustRegister(
		IsLeader,
		ElectionsStarted,
		ElectionDuration,
		RequestsAdmitted,
		RequestsByOutcome,
		RequestsInFlight,
		OffersSent,
		OffersDeclined,
		ProvidersReaped,
		PrepareDuration,
		CommitsTotal,
		AbortsTotal,
		ReplicationGaps,
		ReplicationLagSeq,
		PeerConnections,
		WriterQueueDepth,
	)
}

// Handler returns the HTTP handler that serves the registered metrics in
// the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}
