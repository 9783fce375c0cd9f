// Package metrics holds the prometheus collectors shared by the live loop,
// the heartbeat and the ledger writer.
//
//   - parity_ledger_appends_total{log}            rows appended (decisions|trades)
//   - parity_ledger_flagged_total{log}            non-monotonic rows written in permissive mode
//   - parity_ledger_persist_failures_total{log}   failed appends
//   - parity_live_ticks_total{result}             live ticks (ok|fetch_failed|error)
//   - parity_live_decisions_total{kind}           decision rows by skip reason, entry or exit
//   - parity_live_last_decision_ts_ms             ts_ms of the newest decision row
//   - parity_live_gap_bars                        bars missed between last_ts and the first new bar
//   - parity_live_fetch_seconds                   fetch latency
//   - parity_guard_halted                         1 when the risk guard is HALTED
//   - parity_guard_checks_total{status}           heartbeat checks by resulting status
//   - parity_guard_trades_today / pnl_today       daily counters seen by the guard
//   - parity_replay_runs_total{result}            replay invocations
//
// Collectors are registered on Registry in init() and served by the status
// server at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "parity"

// Registry is the process registry. A private registry keeps test binaries
// free of duplicate-registration panics from the default one.
var Registry = prometheus.NewRegistry()

var (
	LedgerAppends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "appends_total",
			Help:      "Rows appended to a ledger log.",
		},
		[]string{"log"},
	)

	LedgerFlagged = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "flagged_total",
			Help:      "Non-monotonic rows written in permissive mode.",
		},
		[]string{"log"},
	)

	LedgerPersistFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "persist_failures_total",
			Help:      "Ledger appends that failed with an I/O error.",
		},
		[]string{"log"},
	)

	LiveTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "ticks_total",
			Help:      "Live loop ticks by result.",
		},
		[]string{"result"},
	)

	LiveDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "decisions_total",
			Help:      "Decision rows written by the live loop.",
		},
		[]string{"kind"},
	)

	LiveLastDecisionTS = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "last_decision_ts_ms",
			Help:      "Bar close timestamp of the newest decision row.",
		},
	)

	LiveGapBars = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "gap_bars",
			Help:      "Closed bars skipped between the last decision and the first new bar.",
		},
	)

	LiveFetchSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "fetch_seconds",
			Help:      "Bar fetch latency.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	GuardHalted = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "guard",
			Name:      "halted",
			Help:      "1 when the risk guard is HALTED.",
		},
	)

	GuardChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "guard",
			Name:      "checks_total",
			Help:      "Heartbeat checks by resulting status.",
		},
		[]string{"status"},
	)

	GuardTradesToday = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "guard",
			Name:      "trades_today",
			Help:      "Trades closed in the current local day.",
		},
	)

	GuardPnLToday = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "guard",
			Name:      "pnl_today",
			Help:      "Realized PnL of trades closed in the current local day.",
		},
	)

	ReplayRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replay",
			Name:      "runs_total",
			Help:      "Replay invocations by result.",
		},
		[]string{"result"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		LedgerAppends,
		LedgerFlagged,
		LedgerPersistFailures,
		LiveTicks,
		LiveDecisions,
		LiveLastDecisionTS,
		LiveGapBars,
		LiveFetchSeconds,
		GuardHalted,
		GuardChecks,
		GuardTradesToday,
		GuardPnLToday,
		ReplayRuns,
	)
}

// Handler serves Registry in the text exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
