package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the agent and the dialogue backend.
type Metrics struct {
	StateTransitions    *prometheus.CounterVec
	RetriesScheduled    *prometheus.CounterVec
	RecognitionSessions *prometheus.CounterVec
	DialogueResults     *prometheus.CounterVec
	PlaybackEvents      *prometheus.CounterVec
	AvatarSwitches      *prometheus.CounterVec
	DeviceConnections   *prometheus.CounterVec
	WSMessages          *prometheus.CounterVec
	BackendRequests     *prometheus.CounterVec
	BackendLatency      *prometheus.HistogramVec
	ActiveSessions      prometheus.Gauge
	SessionEvents       *prometheus.CounterVec

	stages  *loopStageWindow
	handler http.Handler
}

// NewMetrics registers the instruments on the default Prometheus registry.
func NewMetrics(namespace string) *Metrics {
	return newMetrics(namespace, prometheus.DefaultRegisterer, promhttp.Handler())
}

// NewMetricsWithRegistry registers the instruments on reg, which keeps tests isolated.
func NewMetricsWithRegistry(namespace string, reg *prometheus.Registry) *Metrics {
	return newMetrics(namespace, reg, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
}

func newMetrics(namespace string, reg prometheus.Registerer, handler http.Handler) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		StateTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loop_state_transitions_total",
			Help:      "Voice loop state transitions by source and target state.",
		}, []string{"from", "to"}),
		RetriesScheduled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loop_retries_scheduled_total",
			Help:      "Recognition retries scheduled by failure cause.",
		}, []string{"cause"}),
		RecognitionSessions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognition_sessions_total",
			Help:      "Recognition sessions by outcome.",
		}, []string{"outcome"}),
		DialogueResults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dialogue_results_total",
			Help:      "Dialogue and synthesis request results by stage.",
		}, []string{"stage", "result"}),
		PlaybackEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_events_total",
			Help:      "Synthesis playback lifecycle events.",
		}, []string{"event"}),
		AvatarSwitches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "avatar_switches_total",
			Help:      "Avatar switch requests by target state and outcome.",
		}, []string{"state", "result"}),
		DeviceConnections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_connections_total",
			Help:      "Device websocket connection events.",
		}, []string{"event"}),
		WSMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		BackendRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_requests_total",
			Help:      "Dialogue backend requests by route and status code.",
		}, []string{"route", "code"}),
		BackendLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_request_latency_ms",
			Help:      "Dialogue backend request latency in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2000, 4000, 8000},
		}, []string{"route"}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_conversations",
			Help:      "Number of active backend conversation sessions.",
		}),
		SessionEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Conversation session events by type.",
		}, []string{"event"}),
		stages:  newLoopStageWindow(256),
		handler: handler,
	}
}

func (m *Metrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.StateTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) ObserveRetry(cause string) {
	if m == nil {
		return
	}
	m.RetriesScheduled.WithLabelValues(cause).Inc()
	m.stages.ObserveRetry(cause)
}

func (m *Metrics) ObserveRecognition(outcome string) {
	if m == nil {
		return
	}
	m.RecognitionSessions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveDialogue(stage, result string) {
	if m == nil {
		return
	}
	m.DialogueResults.WithLabelValues(stage, result).Inc()
}

func (m *Metrics) ObservePlayback(event string) {
	if m == nil {
		return
	}
	m.PlaybackEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveAvatarSwitch(state, result string) {
	if m == nil {
		return
	}
	m.AvatarSwitches.WithLabelValues(state, result).Inc()
}

func (m *Metrics) ObserveDeviceConnection(event string) {
	if m == nil {
		return
	}
	m.DeviceConnections.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

func (m *Metrics) ObserveSessionEvent(event string, active int) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
	m.ActiveSessions.Set(float64(active))
}

func (m *Metrics) ObserveLoopStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stages.Observe(stage, float64(d.Microseconds())/1000)
}

func (m *Metrics) SnapshotLoopStages() LoopStageSnapshot {
	if m == nil {
		return LoopStageSnapshot{GeneratedAt: time.Now().UTC()}
	}
	return m.stages.Snapshot()
}

func (m *Metrics) ObserveBackendRequest(route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.BackendRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.BackendLatency.WithLabelValues(route).Observe(float64(d.Milliseconds()))
}

// Handler serves the registry the metrics were registered on.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.handler == nil {
		return promhttp.Handler()
	}
	return m.handler
}
