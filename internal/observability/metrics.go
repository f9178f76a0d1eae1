package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	GateDecisions      *prometheus.CounterVec
	Interjections      *prometheus.CounterVec
	CompletionCalls    *prometheus.CounterVec
	CompletionLatency  *prometheus.HistogramVec
	ThrottleConflicts  prometheus.Counter
	ThrottleStoreError prometheus.Counter
	ThrottleStates     prometheus.Gauge
	Turns              *prometheus.CounterVec
	WSMessages         *prometheus.CounterVec
	WSWriteErrors      prometheus.Counter

	stages *stageWindow
}

// NewMetrics registers instruments with reg, or with the default registry
// when reg is nil.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		GateDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crosspoll_gate_decisions_total",
			Help:      "Cross-pollination gate outcomes by result.",
		}, []string{"result"}),
		Interjections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crosspoll_interjections_total",
			Help:      "Interjections delivered by kind.",
		}, []string{"kind"}),
		CompletionCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completion_calls_total",
			Help:      "Completion calls by stage and result code.",
		}, []string{"stage", "code"}),
		CompletionLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "completion_latency_ms",
			Help:      "Completion call latency in milliseconds.",
			Buckets:   []float64{100, 250, 500, 1000, 2000, 4000, 8000, 15000},
		}, []string{"stage"}),
		ThrottleConflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crosspoll_throttle_conflicts_total",
			Help:      "Triggers dropped because a concurrent turn changed the session throttle.",
		}),
		ThrottleStoreError: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crosspoll_throttle_store_errors_total",
			Help:      "Throttle state reads or writes that failed.",
		}),
		ThrottleStates: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "crosspoll_throttle_states",
			Help:      "Sessions with in-process throttle state.",
		}),
		Turns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Participant turns handled by outcome.",
		}, []string{"outcome"}),
		WSMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "Websocket messages by direction, type and delivery result.",
		}, []string{"direction", "type", "result"}),
		WSWriteErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_write_errors_total",
			Help:      "Websocket write failures.",
		}),
		stages: newStageWindow(256),
	}
}

func (m *Metrics) ObserveGate(result string) {
	if m == nil {
		return
	}
	m.GateDecisions.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveInterjection(kind string) {
	if m == nil {
		return
	}
	m.Interjections.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveCompletion(stage, code string, d time.Duration) {
	if m == nil {
		return
	}
	m.CompletionCalls.WithLabelValues(stage, code).Inc()
	m.CompletionLatency.WithLabelValues(stage).Observe(float64(d.Milliseconds()))
	m.stages.observe(stage, d)
}

func (m *Metrics) ObserveThrottleConflict() {
	if m == nil {
		return
	}
	m.ThrottleConflicts.Inc()
	m.stages.count("throttle_conflict")
}

func (m *Metrics) ObserveThrottleStoreError() {
	if m == nil {
		return
	}
	m.ThrottleStoreError.Inc()
	m.stages.count("throttle_store_error")
}

func (m *Metrics) SetThrottleStates(n int) {
	if m == nil {
		return
	}
	m.ThrottleStates.Set(float64(n))
}

// ObserveTurn records one HandleTurn outcome. Any outcome other than proceed
// or panic counts as an interjection in the snapshot rate.
func (m *Metrics) ObserveTurn(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(outcome).Inc()
	m.stages.observe("turn_total", d)
	m.stages.turn(outcome != "proceed" && outcome != "panic")
}

func (m *Metrics) ObserveWSMessage(direction, msgType, result string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType, result).Inc()
}

func (m *Metrics) ObserveWSWriteError() {
	if m == nil {
		return
	}
	m.WSWriteErrors.Inc()
}

// Snapshot returns the rolling stage latencies and turn counters.
func (m *Metrics) Snapshot() EngineSnapshot {
	if m == nil {
		return EngineSnapshot{GeneratedAt: time.Now().UTC(), Stages: []StageLatency{}, Counters: []Counter{}}
	}
	return m.stages.snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
