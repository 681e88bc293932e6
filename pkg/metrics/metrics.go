// Copyright 2025 Certen Protocol
//
// Prometheus metrics for the consensus round controller. Generalizes
// ConsensusHealthMonitor's in-memory stall/peer-count tracking into
// exported gauges and counters instead of log lines only.

package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry groups every metric the round controller and its callers
// update. A nil *Registry is safe to call methods on (they become
// no-ops), so wiring metrics is optional for callers that only want to
// run a round without exposing /metrics.
type Registry struct {
	blockVotesCast      *prometheus.CounterVec
	leaderVotesCast     *prometheus.CounterVec
	roundsDecided       *prometheus.CounterVec
	roundDuration       prometheus.Histogram
	activeRounds        prometheus.Gauge
	currentHeight       prometheus.Gauge
	byzantineEquivocations *prometheus.CounterVec
}

// NewRegistry constructs a Registry and registers its metrics against
// reg. Pass prometheus.NewRegistry() in production, or a scratch
// registry in tests.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		blockVotesCast: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loopchain",
			Subsystem: "consensus",
			Name:      "block_votes_cast_total",
			Help:      "Block votes folded into a round's tally, by result.",
		}, []string{"result"}),
		leaderVotesCast: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loopchain",
			Subsystem: "consensus",
			Name:      "leader_votes_cast_total",
			Help:      "Leader votes folded into a round's leader-election tally, by whether they named a candidate.",
		}, []string{"kind"}),
		roundsDecided: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loopchain",
			Subsystem: "consensus",
			Name:      "rounds_decided_total",
			Help:      "Completed consensus rounds, by final status.",
		}, []string{"status"}),
		roundDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "loopchain",
			Subsystem: "consensus",
			Name:      "round_duration_seconds",
			Help:      "Wall-clock time from round creation to a final decided status.",
			Buckets:   prometheus.DefBuckets,
		}),
		activeRounds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "loopchain",
			Subsystem: "consensus",
			Name:      "active_rounds",
			Help:      "Rounds currently awaiting a decision.",
		}),
		currentHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "loopchain",
			Subsystem: "consensus",
			Name:      "current_height",
			Help:      "Height of the most recently decided-true block.",
		}),
		byzantineEquivocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loopchain",
			Subsystem: "consensus",
			Name:      "byzantine_equivocations_total",
			Help:      "Rejected votes that conflicted with a rep's prior vote in the same round, by vote kind.",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		r.blockVotesCast,
		r.leaderVotesCast,
		r.roundsDecided,
		r.roundDuration,
		r.activeRounds,
		r.currentHeight,
		r.byzantineEquivocations,
	)
	return r
}

// ObserveBlockVote records one block vote folded into a round, result
// being "true", "false", or "empty" (abstention).
func (r *Registry) ObserveBlockVote(result string) {
	if r == nil {
		return
	}
	r.blockVotesCast.WithLabelValues(result).Inc()
}

// ObserveLeaderVote records one leader vote, kind being "candidate" or
// "empty".
func (r *Registry) ObserveLeaderVote(kind string) {
	if r == nil {
		return
	}
	r.leaderVotesCast.WithLabelValues(kind).Inc()
}

// ObserveRoundDecided records a round reaching a final status and its
// age since creation.
func (r *Registry) ObserveRoundDecided(status string, durationSeconds float64) {
	if r == nil {
		return
	}
	r.roundsDecided.WithLabelValues(status).Inc()
	r.roundDuration.Observe(durationSeconds)
}

// IncActiveRounds reports a new round entering the pending state.
func (r *Registry) IncActiveRounds() {
	if r == nil {
		return
	}
	r.activeRounds.Inc()
}

// DecActiveRounds reports a round leaving the pending state.
func (r *Registry) DecActiveRounds() {
	if r == nil {
		return
	}
	r.activeRounds.Dec()
}

// SetCurrentHeight reports the height of the latest decided-true block.
func (r *Registry) SetCurrentHeight(height uint64) {
	if r == nil {
		return
	}
	r.currentHeight.Set(float64(height))
}

// ObserveByzantineEquivocation records a rejected conflicting vote.
func (r *Registry) ObserveByzantineEquivocation(kind string) {
	if r == nil {
		return
	}
	r.byzantineEquivocations.WithLabelValues(kind).Inc()
}
