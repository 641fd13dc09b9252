// Package metrics expõe os contadores do gateway no formato Prometheus.
//
// Todos os métodos aceitam receptor nil, para os middlewares funcionarem sem
// métricas configuradas.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gateway"

type Metrics struct {
	decisions          *prometheus.CounterVec
	evictions          *prometheus.CounterVec
	concurrencyRejects prometheus.Counter
	upstreamLatency    *prometheus.HistogramVec

	factory promauto.Factory
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		factory: f,
		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_decisions_total",
			Help:      "Rate limit decisions by result (allowed, rejected).",
		}, []string{"result"}),
		evictions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_evictions_total",
			Help:      "Buckets removed from the table by reason (expired, capacity).",
		}, []string{"reason"}),
		concurrencyRejects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "concurrency_rejections_total",
			Help:      "Requests rejected because no in-flight slot was free.",
		}),
		upstreamLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Response latency distribution in seconds for each upstream, verb and HTTP response code.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"upstream", "method", "code"}),
	}
}

func (m *Metrics) ObserveDecision(allowed bool) {
	if m == nil {
		return
	}
	if allowed {
		m.decisions.WithLabelValues("allowed").Inc()
		return
	}
	m.decisions.WithLabelValues("rejected").Inc()
}

func (m *Metrics) ObserveEvictions(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.evictions.WithLabelValues(reason).Add(float64(n))
}

func (m *Metrics) ObserveConcurrencyReject() {
	if m == nil {
		return
	}
	m.concurrencyRejects.Inc()
}

// TrackGauge registra um gauge lido sob demanda (ex.: tamanho da tabela).
func (m *Metrics) TrackGauge(name, help string, fn func() float64) {
	if m == nil {
		return
	}
	m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn)
}

// WithLatencyTracking mede quanto o handler do upstream levou para responder.
func (m *Metrics) WithLatencyTracking(upstream string, delegate http.Handler) http.Handler {
	if m == nil {
		return delegate
	}
	obs := m.upstreamLatency.MustCurryWith(prometheus.Labels{"upstream": upstream})
	return promhttp.InstrumentHandlerDuration(obs, delegate)
}

// Handler serve /metrics para o registro dado.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
