// Package metrics exposes Prometheus collectors for deliberation sessions.
// Collectors are registered on an injected Registerer; there is no global
// registry state.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hupe1980/consultmesh/core"
)

// Collector groups all deliberation metrics. A nil *Collector is valid and
// records nothing.
type Collector struct {
	AttemptsTotal   *prometheus.CounterVec
	AttemptDuration *prometheus.HistogramVec
	TokensTotal     *prometheus.CounterVec
	TurnsTotal      *prometheus.CounterVec
	RoundDuration   prometheus.Histogram
	MeanAgreement   prometheus.Histogram
	SessionsActive  prometheus.Gauge
	SessionsTotal   *prometheus.CounterVec
	CostTotal       prometheus.Counter
}

// New creates and registers the collectors on reg.
func New(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)

	return &Collector{
		AttemptsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "consult_attempts_total",
			Help: "Responder attempts by role and result",
		}, []string{"role", "result"}),

		AttemptDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "consult_attempt_duration_seconds",
			Help:    "Per-attempt responder latency",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
		}, []string{"role"}),

		TokensTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "consult_tokens_total",
			Help: "Tokens consumed by direction",
		}, []string{"direction"}),

		TurnsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "consult_turns_total",
			Help: "Finalized turns by outcome",
		}, []string{"outcome"}),

		RoundDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "consult_round_duration_seconds",
			Help:    "Wall time of a round from fan-out to barrier",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 60, 120, 300},
		}),

		MeanAgreement: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "consult_round_mean_agreement",
			Help:    "Mean pairwise agreement per round, when defined",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		}),

		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "consult_sessions_active",
			Help: "Sessions currently deliberating",
		}),

		SessionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "consult_sessions_total",
			Help: "Finished sessions by terminal state and abort reason",
		}, []string{"state", "reason"}),

		CostTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "consult_cost_usd_total",
			Help: "Estimated spend in USD",
		}),
	}
}

// ObserveAttempt records one responder attempt. kind is empty on success.
func (c *Collector) ObserveAttempt(role string, kind core.ErrorKind, latency time.Duration, usage core.TokenUsage) {
	if c == nil {
		return
	}

	result := "ok"
	if kind != "" {
		result = string(kind)
	}

	c.AttemptsTotal.WithLabelValues(role, result).Inc()
	c.AttemptDuration.WithLabelValues(role).Observe(latency.Seconds())
	c.TokensTotal.WithLabelValues("in").Add(float64(usage.PromptTokens))
	c.TokensTotal.WithLabelValues("out").Add(float64(usage.CompletionTokens))
}

// ObserveRound records the turns and agreement of a finalized round.
func (c *Collector) ObserveRound(r core.Round) {
	if c == nil {
		return
	}

	for _, t := range r.Turns {
		c.TurnsTotal.WithLabelValues(string(t.Outcome)).Inc()
	}
	c.RoundDuration.Observe(r.Duration.Seconds())
	if r.Agreement != nil {
		if mean, ok := r.Agreement.MeanAgreement(); ok {
			c.MeanAgreement.Observe(mean)
		}
	}
}

// SessionStarted marks a session as active.
func (c *Collector) SessionStarted() {
	if c == nil {
		return
	}
	c.SessionsActive.Inc()
}

// SessionFinished records the terminal state and spend of a session.
func (c *Collector) SessionFinished(state core.SessionState, reason core.AbortReason, spent float64) {
	if c == nil {
		return
	}
	c.SessionsActive.Dec()
	c.SessionsTotal.WithLabelValues(string(state), string(reason)).Inc()
	if spent > 0 {
		c.CostTotal.Add(spent)
	}
}
