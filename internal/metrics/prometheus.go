// Package metrics 用 Prometheus 记录共识与流水线指标。
package metrics

import (
	"net/http"
	"time"

	"tribune/internal/pkg/circuit"
	"tribune/internal/types"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder 同时满足 consensus.Recorder 与 pipeline.Recorder。
type Recorder struct {
	registry *prometheus.Registry

	sourceCalls    *prometheus.CounterVec
	sourceLatency  *prometheus.HistogramVec
	sourceSignals  *prometheus.CounterVec
	decisions      *prometheus.CounterVec
	malformed      prometheus.Counter
	runs           *prometheus.CounterVec
	runLatency     *prometheus.HistogramVec
	lastConfidence *prometheus.GaugeVec
	breakerState   *prometheus.GaugeVec
	breakerTrips   *prometheus.CounterVec
}

// New 使用独立 registry，便于测试与多实例。
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Recorder{
		registry: reg,
		sourceCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tribune_source_calls_total",
				Help: "Signal source invocations by outcome",
			},
			[]string{"source", "outcome"},
		),
		sourceLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tribune_source_duration_seconds",
				Help:    "Signal source latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"source"},
		),
		sourceSignals: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tribune_source_signals_total",
				Help: "Signals returned per source",
			},
			[]string{"source"},
		),
		decisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tribune_consensus_decisions_total",
				Help: "Consensus decisions by action",
			},
			[]string{"action"},
		),
		malformed: f.NewCounter(prometheus.CounterOpts{
			Name: "tribune_malformed_signals_total",
			Help: "Signals dropped from the vote as malformed",
		}),
		runs: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tribune_pipeline_runs_total",
				Help: "Pipeline runs by rejecting gate and order status",
			},
			[]string{"gate", "status"},
		),
		runLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tribune_pipeline_duration_seconds",
				Help:    "End-to-end pipeline latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"gate"},
		),
		lastConfidence: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tribune_consensus_confidence",
				Help: "Confidence of the latest decision per symbol",
			},
			[]string{"symbol"},
		),
		breakerState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tribune_broker_circuit_state",
				Help: "Broker circuit state (0 closed, 1 open, 2 half-open)",
			},
			[]string{"broker"},
		),
		breakerTrips: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tribune_broker_circuit_transitions_total",
				Help: "Broker circuit state transitions by target state",
			},
			[]string{"broker", "to"},
		),
	}
}

func (r *Recorder) ObserveSource(source string, elapsed time.Duration, signals int, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.sourceCalls.WithLabelValues(source, outcome).Inc()
	r.sourceLatency.WithLabelValues(source).Observe(elapsed.Seconds())
	if signals > 0 {
		r.sourceSignals.WithLabelValues(source).Add(float64(signals))
	}
}

func (r *Recorder) ObserveDecision(d types.ConsensusDecision) {
	r.decisions.WithLabelValues(string(d.Action)).Inc()
	if d.Malformed > 0 {
		r.malformed.Add(float64(d.Malformed))
	}
	r.lastConfidence.WithLabelValues(d.Symbol).Set(d.Confidence)
}

// ObserveRun gate 为空表示全部关卡通过。
func (r *Recorder) ObserveRun(gate string, status types.OrderStatus, elapsed time.Duration) {
	if gate == "" {
		gate = "none"
	}
	st := string(status)
	if st == "" {
		st = "none"
	}
	r.runs.WithLabelValues(gate, st).Inc()
	r.runLatency.WithLabelValues(gate).Observe(elapsed.Seconds())
}

// ObserveBreaker 记录熔断器状态；初始化时以 CLOSED 调用一次即可让指标可见。
func (r *Recorder) ObserveBreaker(name string, from, to circuit.State) {
	r.breakerState.WithLabelValues(name).Set(float64(to))
	if from != to {
		r.breakerTrips.WithLabelValues(name, to.String()).Inc()
	}
}

func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
