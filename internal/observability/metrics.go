package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "epoch"

// Metrics holds the Prometheus collectors for one batch run. A run is a
// short-lived process, so collectors live in their own registry and are
// exported to a node-exporter textfile when the run ends.
type Metrics struct {
	Registry *prometheus.Registry

	StageDuration   *prometheus.HistogramVec // labels: stage, outcome={completed,skipped,failed}
	CommandsTotal   *prometheus.CounterVec   // labels: app, outcome={success,failure,error}
	CommandDuration *prometheus.HistogramVec // labels: app
	LedgerEntries   *prometheus.GaugeVec     // labels: stream
	PrunedTotal     *prometheus.CounterVec   // labels: ledger={inputs,state}
	CrashRecoveries prometheus.Counter
	RunSucceeded    prometheus.Gauge
	LastRunTime     prometheus.Gauge
}

// NewMetrics creates all run metrics and registers them with a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time of each pipeline stage.",
			Buckets:   []float64{1, 10, 60, 300, 900, 1800, 3600, 7200},
		}, []string{"stage", "outcome"}),
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Forecast executables run, by app and outcome.",
		}, []string{"app", "outcome"}),
		CommandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Wall time of each forecast executable.",
			Buckets:   []float64{0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"app"}),
		LedgerEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "input_ledger_entries",
			Help:      "Entries in the input availability ledger at the end of the run.",
		}, []string{"stream"}),
		PrunedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pruned_entries_total",
			Help:      "Ledger entries removed by retention.",
		}, []string{"ledger"}),
		CrashRecoveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crash_recoveries_total",
			Help:      "Runs that restored from a restart snapshot.",
		}),
		RunSucceeded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_succeeded",
			Help:      "1 when the last run completed every stage, 0 otherwise.",
		}),
		LastRunTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
	}

	m.Registry.MustRegister(
		m.StageDuration,
		m.CommandsTotal,
		m.CommandDuration,
		m.LedgerEntries,
		m.PrunedTotal,
		m.CrashRecoveries,
		m.RunSucceeded,
		m.LastRunTime,
	)
	return m
}

// ObserveCommand records one executable run. Safe on a nil receiver.
func (m *Metrics) ObserveCommand(app, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.CommandsTotal.WithLabelValues(app, outcome).Inc()
	m.CommandDuration.WithLabelValues(app).Observe(d.Seconds())
}

// ObserveStage records one stage. Safe on a nil receiver.
func (m *Metrics) ObserveStage(stage, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage, outcome).Observe(d.Seconds())
}

// SetLedgerEntries records the size of one input stream. Safe on a nil receiver.
func (m *Metrics) SetLedgerEntries(stream string, n int) {
	if m == nil {
		return
	}
	m.LedgerEntries.WithLabelValues(stream).Set(float64(n))
}

// AddPruned counts retention removals. Safe on a nil receiver.
func (m *Metrics) AddPruned(ledger string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.PrunedTotal.WithLabelValues(ledger).Add(float64(n))
}

// RecordCrashRecovery counts a restore from snapshot. Safe on a nil receiver.
func (m *Metrics) RecordCrashRecovery() {
	if m == nil {
		return
	}
	m.CrashRecoveries.Inc()
}

// RecordRun sets the run outcome gauges. Safe on a nil receiver.
func (m *Metrics) RecordRun(succeeded bool, at time.Time) {
	if m == nil {
		return
	}
	if succeeded {
		m.RunSucceeded.Set(1)
	} else {
		m.RunSucceeded.Set(0)
	}
	m.LastRunTime.Set(float64(at.Unix()))
}

// WriteTextfile exports the registry in the text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.Registry)
}
