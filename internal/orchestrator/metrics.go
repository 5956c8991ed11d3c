package orchestrator

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ShayCichocki/warden/internal/correlation"
)

// Metrics exposes Prometheus collectors that report orchestrator activity.
type Metrics struct {
	tasksTotal      *prometheus.CounterVec
	taskDuration    *prometheus.HistogramVec
	riskScore       prometheus.Histogram
	approvalsTotal  *prometheus.CounterVec
	retriesTotal    prometheus.Counter
	sessionsActive  prometheus.Gauge
	sessionsTotal   *prometheus.CounterVec
	sessionQuality  prometheus.Histogram
	eventsDropped   prometheus.CounterFunc
	droppedCounters []func() float64
	mu              sync.Mutex
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// DefaultMetrics returns the metrics instance registered with the global
// Prometheus registry. The collectors are created only once to avoid
// duplicate registration panics.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics constructs a Metrics instance using the provided registerer.
// Collectors already registered under the same name are reused; any other
// registration error panics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{}
	m.tasksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "warden",
		Subsystem: "orchestrator",
		Name:      "tasks_total",
		Help:      "Finished tasks by final status and error kind.",
	}, []string{"status", "error_kind"})
	m.taskDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "warden",
		Subsystem: "orchestrator",
		Name:      "task_processing_seconds",
		Help:      "Worker processing time of finished tasks.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"task_type"})
	m.riskScore = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "warden",
		Subsystem: "risk",
		Name:      "score",
		Help:      "Risk scores assigned to tasks.",
		Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
	})
	m.approvalsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "warden",
		Subsystem: "approval",
		Name:      "requests_total",
		Help:      "Approval requests by outcome.",
	}, []string{"status"})
	m.retriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "warden",
		Subsystem: "correlation",
		Name:      "retries_total",
		Help:      "Transport retries after transient failures.",
	})
	m.sessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "warden",
		Subsystem: "orchestrator",
		Name:      "sessions_active",
		Help:      "Sessions currently being orchestrated.",
	})
	m.sessionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "warden",
		Subsystem: "orchestrator",
		Name:      "sessions_total",
		Help:      "Finished sessions by final status.",
	}, []string{"status"})
	m.sessionQuality = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "warden",
		Subsystem: "orchestrator",
		Name:      "session_quality",
		Help:      "Overall quality of finished sessions.",
		Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
	})
	m.eventsDropped = prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: "warden",
		Subsystem: "orchestrator",
		Name:      "events_dropped_total",
		Help:      "Events dropped because the events channel was full.",
	}, m.droppedTotal)

	m.tasksTotal = register(reg, m.tasksTotal)
	m.taskDuration = register(reg, m.taskDuration)
	m.riskScore = register(reg, m.riskScore)
	m.approvalsTotal = register(reg, m.approvalsTotal)
	m.retriesTotal = register(reg, m.retriesTotal)
	m.sessionsActive = register(reg, m.sessionsActive)
	m.sessionsTotal = register(reg, m.sessionsTotal)
	m.sessionQuality = register(reg, m.sessionQuality)
	m.eventsDropped = register(reg, m.eventsDropped)
	return m
}

// register adds c to reg, reusing an identical collector that is already
// registered.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (m *Metrics) droppedTotal() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total float64
	for _, fn := range m.droppedCounters {
		total += fn()
	}
	return total
}

// trackEmitter includes the emitter's drop count in events_dropped_total.
func (m *Metrics) trackEmitter(e *EventEmitter) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.droppedCounters = append(m.droppedCounters, func() float64 { return float64(e.DroppedCount()) })
}

// ObserveTask records a finished task.
func (m *Metrics) ObserveTask(taskType, status, errorKind string, d time.Duration) {
	if m == nil {
		return
	}
	m.tasksTotal.WithLabelValues(status, errorKind).Inc()
	if d > 0 {
		m.taskDuration.WithLabelValues(taskType).Observe(d.Seconds())
	}
}

// ObserveRisk records a risk assessment.
func (m *Metrics) ObserveRisk(score float64) {
	if m == nil {
		return
	}
	m.riskScore.Observe(score)
}

// IncApproval counts an approval request reaching a status.
func (m *Metrics) IncApproval(status string) {
	if m == nil {
		return
	}
	m.approvalsTotal.WithLabelValues(status).Inc()
}

// IncRetry counts a transport retry.
func (m *Metrics) IncRetry() {
	if m == nil {
		return
	}
	m.retriesTotal.Inc()
}

// RetryHook returns a correlation hook that counts retries. It is safe to
// call on a nil Metrics.
func (m *Metrics) RetryHook() correlation.RetryHook {
	return func(correlation.Entry, error) { m.IncRetry() }
}

// SessionStarted marks a session as active.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.sessionsActive.Inc()
}

// SessionFinished marks a session as done.
func (m *Metrics) SessionFinished(status string, quality float64) {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
	m.sessionsTotal.WithLabelValues(status).Inc()
	m.sessionQuality.Observe(quality)
}
