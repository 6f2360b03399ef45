package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yungbote/lessonweave-backend/internal/platform/logger"
)

type Metrics struct {
	registry *prometheus.Registry

	apiRequests *prometheus.CounterVec
	apiLatency  *prometheus.HistogramVec
	apiInflight prometheus.Gauge

	sessionsActive   prometheus.Gauge
	sessionsOpened   prometheus.Counter
	sessionsFinished *prometheus.CounterVec
	sessionDeltas    prometheus.Counter
	sessionDuration  *prometheus.HistogramVec
	broadcastErrors  *prometheus.CounterVec

	treeBuild     *prometheus.HistogramVec
	treeNodes     prometheus.Histogram
	treeMutations *prometheus.CounterVec
}

var (
	metricsMu sync.RWMutex
	current   *Metrics
)

// Current returns the process metrics, or nil before Init. Every method is
// nil-safe so callers can skip the check.
func Current() *Metrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return current
}

// Init registers the collectors on a fresh registry and makes it current.
func Init(log *logger.Logger) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := &Metrics{
		registry: reg,
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lessonweave",
			Name:      "api_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lessonweave",
			Name:      "api_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		apiInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lessonweave",
			Name:      "api_inflight_requests",
			Help:      "HTTP requests currently being served.",
		}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lessonweave",
			Name:      "stream_sessions_active",
			Help:      "Generation sessions currently buffered.",
		}),
		sessionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lessonweave",
			Name:      "stream_sessions_opened_total",
			Help:      "Generation sessions opened.",
		}),
		sessionsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lessonweave",
			Name:      "stream_sessions_finished_total",
			Help:      "Generation sessions retired, by terminal state.",
		}, []string{"state"}),
		sessionDeltas: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lessonweave",
			Name:      "stream_deltas_total",
			Help:      "Deltas written into session buffers.",
		}),
		sessionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lessonweave",
			Name:      "stream_session_duration_seconds",
			Help:      "Time from open to terminal state.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"state"}),
		broadcastErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lessonweave",
			Name:      "broadcast_errors_total",
			Help:      "Failed broadcaster publishes, by event.",
		}, []string{"event"}),
		treeBuild: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lessonweave",
			Name:      "tree_read_duration_seconds",
			Help:      "Tree reads by source (buffer or store).",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
		}, []string{"source"}),
		treeNodes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "lessonweave",
			Name:      "tree_nodes",
			Help:      "Nodes per built tree.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		treeMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lessonweave",
			Name:      "tree_mutations_total",
			Help:      "Closure mutations by operation and outcome.",
		}, []string{"op", "status"}),
	}
	reg.MustRegister(
		m.apiRequests, m.apiLatency, m.apiInflight,
		m.sessionsActive, m.sessionsOpened, m.sessionsFinished, m.sessionDeltas, m.sessionDuration, m.broadcastErrors,
		m.treeBuild, m.treeNodes, m.treeMutations,
	)

	metricsMu.Lock()
	current = m
	metricsMu.Unlock()
	if log != nil {
		log.Info("metrics initialized")
	}
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveAPI(method, route string, status int, dur time.Duration) {
	if m == nil {
		return
	}
	m.apiRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.apiLatency.WithLabelValues(method, route).Observe(dur.Seconds())
}

func (m *Metrics) ApiInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) ApiInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Dec()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessionsOpened.Inc()
	m.sessionsActive.Inc()
}

func (m *Metrics) SessionDelta() {
	if m == nil {
		return
	}
	m.sessionDeltas.Inc()
}

func (m *Metrics) SessionFinished(state string, dur time.Duration) {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
	m.sessionsFinished.WithLabelValues(state).Inc()
	m.sessionDuration.WithLabelValues(state).Observe(dur.Seconds())
}

func (m *Metrics) BroadcastFailed(event string) {
	if m == nil {
		return
	}
	m.broadcastErrors.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveTreeRead(source string, nodes int, dur time.Duration) {
	if m == nil {
		return
	}
	m.treeBuild.WithLabelValues(source).Observe(dur.Seconds())
	m.treeNodes.Observe(float64(nodes))
}

func (m *Metrics) TreeMutation(op string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.treeMutations.WithLabelValues(op, status).Inc()
}
