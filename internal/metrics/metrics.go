// Package metrics exposes the engine's Prometheus instrumentation, grounded
// on the CounterVec/HistogramVec/Gauge pattern used across the example pack's
// metrics package.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the complete set of counters/histograms/gauges emitted by THE
// CORE. One instance is constructed at startup by the engine, which updates
// the command counters itself and passes the instance to the poller
// scheduler's Register; no component's constructor receives it.
type Metrics struct {
	EventsAppended   *prometheus.CounterVec
	EventsDuplicate  *prometheus.CounterVec
	CommandsClaimed  prometheus.Counter
	CommandsAcked    *prometheus.CounterVec
	CommandsFailed   *prometheus.CounterVec
	RiskRejections   *prometheus.CounterVec
	PollerRuns       *prometheus.CounterVec
	PollerErrors     *prometheus.CounterVec
	CommandLatency   prometheus.Histogram
	ExchangeLatency  *prometheus.HistogramVec
	KillSwitchActive prometheus.Gauge
}

// New builds a Metrics instance registered against the default registerer.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry builds a Metrics instance registered against registerer.
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsAppended: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ae_events_appended_total",
				Help: "Events successfully appended to the event log, by event_type.",
			},
			[]string{"event_type"},
		),
		EventsDuplicate: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ae_events_duplicate_total",
				Help: "Append calls that hit an existing dedup_key, by event_type.",
			},
			[]string{"event_type"},
		),
		CommandsClaimed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ae_commands_claimed_total",
				Help: "Commands atomically claimed from NEW to SENT.",
			},
		),
		CommandsAcked: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ae_commands_acked_total",
				Help: "Commands that reached ACK, by command_type.",
			},
			[]string{"command_type"},
		),
		CommandsFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ae_commands_failed_total",
				Help: "Commands that reached FAILED, by command_type.",
			},
			[]string{"command_type"},
		),
		RiskRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ae_risk_rejections_total",
				Help: "Risk guard rejections, by rule name.",
			},
			[]string{"rule"},
		),
		PollerRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ae_poller_runs_total",
				Help: "Poller runs, by poller name.",
			},
			[]string{"poller"},
		),
		PollerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ae_poller_errors_total",
				Help: "Poller runs that errored, by poller name.",
			},
			[]string{"poller"},
		),
		CommandLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ae_command_claim_to_ack_seconds",
				Help:    "Latency from claim to terminal status.",
				Buckets: prometheus.DefBuckets,
			},
		),
		ExchangeLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ae_exchange_request_duration_seconds",
				Help:    "Exchange REST call latency, by endpoint.",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"endpoint"},
		),
		KillSwitchActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ae_kill_switch_active",
				Help: "1 while the risk guard's kill switch cooldown is active, else 0.",
			},
		),
	}

	registerer.MustRegister(
		m.EventsAppended, m.EventsDuplicate, m.CommandsClaimed, m.CommandsAcked,
		m.CommandsFailed, m.RiskRejections, m.PollerRuns, m.PollerErrors,
		m.CommandLatency, m.ExchangeLatency, m.KillSwitchActive,
	)
	return m
}
