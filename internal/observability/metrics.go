package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	ActiveSessions  prometheus.Gauge
	SessionEvents   *prometheus.CounterVec
	StreamMessages  *prometheus.CounterVec
	Frames          *prometheus.CounterVec
	Utterances      *prometheus.CounterVec
	Dispatches      *prometheus.CounterVec
	ProviderErrors  *prometheus.CounterVec
	CRMTasks        *prometheus.CounterVec
	PipelineLatency prometheus.Histogram

	stages *stageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of live call audio sessions.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events by type.",
		}, []string{"event"}),
		StreamMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_messages_total",
			Help:      "Inbound media stream messages by event.",
		}, []string{"event"}),
		Frames: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Audio frames by energy classification.",
		}, []string{"class"}),
		Utterances: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_total",
			Help:      "Utterance cycles by outcome.",
		}, []string{"outcome"}),
		Dispatches: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Response injections by result.",
		}, []string{"result"}),
		ProviderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Provider errors by provider and code.",
		}, []string{"provider", "code"}),
		CRMTasks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crm_tasks_total",
			Help:      "CRM call tasks by result.",
		}, []string{"result"}),
		PipelineLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_latency_ms",
			Help:      "Utterance transcription plus generation latency in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 1500, 2500, 4000, 8000, 15000},
		}),
		stages: newStageWindow(256),
	}
}

func (m *Metrics) ObserveSessionEvent(event string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

func (m *Metrics) ObserveStreamMessage(event string) {
	if m == nil {
		return
	}
	m.StreamMessages.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveFrame(class string) {
	if m == nil {
		return
	}
	m.Frames.WithLabelValues(class).Inc()
}

func (m *Metrics) ObserveUtterance(outcome string) {
	if m == nil {
		return
	}
	m.Utterances.WithLabelValues(outcome).Inc()
	m.stages.ObserveIndicator("utterance_" + outcome)
}

func (m *Metrics) ObserveDispatch(result string) {
	if m == nil {
		return
	}
	m.Dispatches.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveProviderError(provider, code string) {
	if m == nil {
		return
	}
	m.ProviderErrors.WithLabelValues(provider, code).Inc()
}

func (m *Metrics) ObserveCRMTask(result string) {
	if m == nil {
		return
	}
	m.CRMTasks.WithLabelValues(result).Inc()
}

func (m *Metrics) ObservePipelineLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.PipelineLatency.Observe(float64(d.Milliseconds()))
	m.stages.Observe(StagePipelineTotal, float64(d.Microseconds())/1000)
}

// ObserveStage records one stage duration in the rolling latency window.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stages.Observe(stage, float64(d.Microseconds())/1000)
}

func (m *Metrics) SnapshotStages() StageSnapshot {
	if m == nil {
		return newStageWindow(0).Snapshot()
	}
	return m.stages.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
