package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "medalarm"

// PrometheusCollector 使用独立 registry 的 Prometheus 实现
type PrometheusCollector struct {
	registry *prometheus.Registry

	syncDuration     *prometheus.HistogramVec
	triggersSched    prometheus.Counter
	triggersFailed   *prometheus.CounterVec
	permissionDenied prometheus.Counter
	escalations      prometheus.Counter
	decisions        *prometheus.CounterVec
	staleFires       prometheus.Counter
	pending          prometheus.Gauge
}

func NewPrometheusCollector() (*PrometheusCollector, error) {
	c := &PrometheusCollector{
		registry: prometheus.NewRegistry(),
		syncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Duration of alarm synchronizations.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"result"}),
		triggersSched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "triggers_scheduled_total",
			Help:      "Triggers registered by synchronizations.",
		}),
		triggersFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "triggers_failed_total",
			Help:      "Triggers that could not be registered, by error code.",
		}, []string{"code"}),
		permissionDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_permission_denied_total",
			Help:      "Synchronizations skipped because notification permission was denied.",
		}),
		escalations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalations_armed_total",
			Help:      "Escalation triggers armed for critical alarms.",
		}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Alarm logs written, by status.",
		}, []string{"status"}),
		staleFires: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_fires_total",
			Help:      "Fired triggers dismissed because their alarm is gone or inactive.",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_triggers",
			Help:      "Triggers pending after the last synchronization.",
		}),
	}

	collectors := []prometheus.Collector{
		c.syncDuration, c.triggersSched, c.triggersFailed, c.permissionDenied,
		c.escalations, c.decisions, c.staleFires, c.pending,
	}
	for _, col := range collectors {
		if err := c.registry.Register(col); err != nil {
			return nil, fmt.Errorf("register metric: %w", err)
		}
	}
	return c, nil
}

func (c *PrometheusCollector) ObserveSync(profileID string, d time.Duration, scheduled, failed int, permissionDenied bool) {
	result := "ok"
	switch {
	case permissionDenied:
		result = "permission_denied"
		c.permissionDenied.Inc()
	case failed > 0:
		result = "partial"
	}
	c.syncDuration.WithLabelValues(result).Observe(d.Seconds())
	c.triggersSched.Add(float64(scheduled))
}

func (c *PrometheusCollector) IncScheduleFailure(code string) {
	if code == "" {
		code = "unknown"
	}
	c.triggersFailed.WithLabelValues(code).Inc()
}

func (c *PrometheusCollector) IncEscalationArmed() { c.escalations.Inc() }

func (c *PrometheusCollector) IncDecision(status string) {
	c.decisions.WithLabelValues(status).Inc()
}

func (c *PrometheusCollector) IncStaleFire() { c.staleFires.Inc() }

func (c *PrometheusCollector) SetPendingTriggers(n int) { c.pending.Set(float64(n)) }

func (c *PrometheusCollector) Registry() *prometheus.Registry { return c.registry }

// Handler exposes the private registry over HTTP.
func (c *PrometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// New returns a PrometheusCollector when enabled, a NopCollector otherwise.
func New(enabled bool) (Collector, error) {
	if !enabled {
		return NewNopCollector(), nil
	}
	return NewPrometheusCollector()
}
