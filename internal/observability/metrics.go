package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_gateway_active_sessions",
		Help: "Number of active chat WebSocket sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_gateway_sessions_total",
		Help: "Total number of chat sessions accepted",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chat_gateway_session_duration_seconds",
		Help:    "Duration of chat sessions in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
	})

	rejectedHandshakes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_gateway_rejected_handshakes_total",
		Help: "Total number of WebSocket handshakes rejected before frame exchange",
	}, []string{"reason"}) // reason: "auth", "not_found", "access_denied"

	// Agent metrics
	agentRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_gateway_agent_requests_total",
		Help: "Total number of agent reply requests",
	}, []string{"status"})

	agentLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chat_gateway_agent_latency_seconds",
		Help:    "Agent reply latency in seconds",
		Buckets: []float64{0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0},
	})

	// Speech streaming metrics
	speechStreams = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_gateway_speech_streams_total",
		Help: "Total number of speech streams",
	}, []string{"status"}) // status: "success", "error", "canceled"

	speechLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chat_gateway_speech_stream_seconds",
		Help:    "Speech stream duration in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 15.0, 60.0},
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_gateway_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chat_gateway_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	// Audio metrics
	audioBytesOut = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_gateway_audio_bytes_out_total",
		Help: "Total base64 audio bytes forwarded to clients",
	})
)

// SessionMetrics tracks metrics for a single chat session
type SessionMetrics struct {
	conversationID   string
	startTime        time.Time
	agentStartTime   time.Time
	speechStartTime  time.Time
	mu               sync.Mutex
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics(conversationID string) *SessionMetrics {
	return &SessionMetrics{
		conversationID: conversationID,
		startTime:      time.Now(),
	}
}

// RecordSessionStart records the start of a session
func (m *SessionMetrics) RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records the end of a session
func (m *SessionMetrics) RecordSessionEnd() {
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordAgentStart records the start of an agent reply request
func (m *SessionMetrics) RecordAgentStart() {
	m.mu.Lock()
	m.agentStartTime = time.Now()
	m.mu.Unlock()
}

// RecordAgentEnd records the end of an agent reply request
func (m *SessionMetrics) RecordAgentEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.agentStartTime.IsZero() {
		agentLatency.Observe(time.Since(m.agentStartTime).Seconds())
	}

	status := "success"
	if !success {
		status = "error"
	}
	agentRequests.WithLabelValues(status).Inc()
}

// RecordSpeechStart records the start of a speech stream
func (m *SessionMetrics) RecordSpeechStart() {
	m.mu.Lock()
	m.speechStartTime = time.Now()
	m.mu.Unlock()
}

// RecordSpeechEnd records the end of a speech stream.
// Status is "success", "error" or "canceled"; cancellation is expected and is
// not counted as an error.
func (m *SessionMetrics) RecordSpeechEnd(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.speechStartTime.IsZero() {
		speechLatency.Observe(time.Since(m.speechStartTime).Seconds())
	}
	speechStreams.WithLabelValues(status).Inc()
}

// RecordError records an error
func (m *SessionMetrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordAudioBytes records base64 audio bytes forwarded to a client
func (m *SessionMetrics) RecordAudioBytes(n int64) {
	audioBytesOut.Add(float64(n))
}

// RecordRejectedHandshake records a handshake rejected before frame exchange
func RecordRejectedHandshake(reason string) {
	rejectedHandshakes.WithLabelValues(reason).Inc()
}

// UpdateCircuitBreakerState updates the circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}
