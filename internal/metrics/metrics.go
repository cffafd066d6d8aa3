package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "trialkeys"

// Validation outcomes used as the "result" label.
const (
	ResultValid   = "valid"
	ResultExpired = "expired"
	ResultUnknown = "unknown"
)

// Metrics holds the service collectors. A nil *Metrics is a valid no-op.
type Metrics struct {
	registry    *prometheus.Registry
	issued      prometheus.Counter
	rejected    *prometheus.CounterVec
	validations *prometheus.CounterVec
	swept       prometheus.Counter
	storeErrors *prometheus.CounterVec
	active      prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		issued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "issued_total",
			Help:      "Keys issued.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "issue_rejected_total",
			Help:      "Issue requests rejected, by reason.",
		}, []string{"reason"}),
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validations_total",
			Help:      "Key validations, by result.",
		}, []string{"result"}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swept_total",
			Help:      "Expired keys removed by the sweeper.",
		}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Key store failures, by operation.",
		}, []string{"op"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active",
			Help:      "Non-expired keys after the last sweep.",
		}),
	}

	m.registry.MustRegister(
		m.issued, m.rejected, m.validations, m.swept, m.storeErrors, m.active,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) KeyIssued() {
	if m != nil {
		m.issued.Inc()
	}
}

func (m *Metrics) IssueRejected(reason string) {
	if m != nil {
		m.rejected.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) KeyValidated(result string) {
	if m != nil {
		m.validations.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) KeysSwept(n int) {
	if m != nil && n > 0 {
		m.swept.Add(float64(n))
	}
}

func (m *Metrics) SetActive(n int) {
	if m != nil {
		m.active.Set(float64(n))
	}
}

// StoreError implements store.ErrorRecorder.
func (m *Metrics) StoreError(op string) {
	if m != nil {
		m.storeErrors.WithLabelValues(op).Inc()
	}
}
