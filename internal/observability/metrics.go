package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	activeStreams    *prometheus.GaugeVec
	streamDuration   *prometheus.HistogramVec
	streamsTotal     *prometheus.CounterVec
	envelopesTotal   *prometheus.CounterVec
	envelopeFaults   *prometheus.CounterVec
	framesTotal      *prometheus.CounterVec
	resumeDecisions  *prometheus.CounterVec
	indexOpDuration  *prometheus.HistogramVec
	indexKnownUsers  prometheus.Gauge
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	providerRequests *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			activeStreams: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "agentgate_active_streams",
					Help: "Streams currently being served by agent.",
				},
				[]string{"agent"},
			),
			streamDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "agentgate_stream_duration_seconds",
					Help:    "Stream duration in seconds by agent.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"agent"},
			),
			streamsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agentgate_streams_total",
					Help: "Completed streams by agent and outcome.",
				},
				[]string{"agent", "outcome"},
			),
			envelopesTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agentgate_envelopes_total",
					Help: "Envelopes consumed from the agent runtime by kind.",
				},
				[]string{"kind"},
			),
			envelopeFaults: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agentgate_envelope_faults_total",
					Help: "Envelopes that failed normalization by kind.",
				},
				[]string{"kind"},
			),
			framesTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agentgate_frames_total",
					Help: "Frames written to clients by frame type.",
				},
				[]string{"type"},
			),
			resumeDecisions: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agentgate_resume_decisions_total",
					Help: "Input decisions (new_turn or resume) by agent.",
				},
				[]string{"agent", "decision"},
			),
			indexOpDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "agentgate_thread_index_op_duration_seconds",
					Help:    "Thread index operation duration by backend and op.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"backend", "op"},
			),
			indexKnownUsers: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "agentgate_thread_index_users",
					Help: "Users known to the thread index.",
				},
			),
			httpRequests: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agentgate_http_requests_total",
					Help: "HTTP requests by route and status code.",
				},
				[]string{"route", "code"},
			),
			httpDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "agentgate_http_request_duration_seconds",
					Help:    "HTTP request duration by route.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"route"},
			),
			providerRequests: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agentgate_provider_requests_total",
					Help: "Model provider calls by provider and status.",
				},
				[]string{"provider", "status"},
			),
		}

		prometheus.MustRegister(
			m.activeStreams,
			m.streamDuration,
			m.streamsTotal,
			m.envelopesTotal,
			m.envelopeFaults,
			m.framesTotal,
			m.resumeDecisions,
			m.indexOpDuration,
			m.indexKnownUsers,
			m.httpRequests,
			m.httpDuration,
			m.providerRequests,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

// StreamStarted marks a stream as active and returns the func that ends it.
func StreamStarted(agent string) func(outcome string) {
	m := getMetrics()
	start := time.Now()
	m.activeStreams.WithLabelValues(agent).Inc()
	return func(outcome string) {
		m.activeStreams.WithLabelValues(agent).Dec()
		m.streamDuration.WithLabelValues(agent).Observe(time.Since(start).Seconds())
		m.streamsTotal.WithLabelValues(agent, outcome).Inc()
	}
}

func RecordEnvelope(kind string) {
	getMetrics().envelopesTotal.WithLabelValues(kind).Inc()
}

func RecordEnvelopeFault(kind string) {
	getMetrics().envelopeFaults.WithLabelValues(kind).Inc()
}

func RecordFrame(frameType string) {
	getMetrics().framesTotal.WithLabelValues(frameType).Inc()
}

func RecordResumeDecision(agent, decision string) {
	getMetrics().resumeDecisions.WithLabelValues(agent, decision).Inc()
}

func RecordIndexOp(backend, op string, duration time.Duration) {
	getMetrics().indexOpDuration.WithLabelValues(backend, op).Observe(duration.Seconds())
}

func SetKnownUsers(count int) {
	getMetrics().indexKnownUsers.Set(float64(count))
}

func RecordHTTPRequest(route string, code int, duration time.Duration) {
	m := getMetrics()
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(duration.Seconds())
}

func RecordProviderRequest(provider string, success bool) {
	status := "error"
	if success {
		status = "success"
	}
	getMetrics().providerRequests.WithLabelValues(provider, status).Inc()
}
