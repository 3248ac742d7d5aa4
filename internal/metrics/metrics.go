package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles Prometheus collectors for the ingestion pipeline.
type Metrics struct {
	registry          *prometheus.Registry
	messagesFetched   *prometheus.CounterVec
	messagesStored    *prometheus.CounterVec
	candidates        *prometheus.CounterVec
	extractionResults *prometheus.CounterVec
	sourceFailures    *prometheus.CounterVec
	storeErrors       prometheus.Counter
	cycleDuration     prometheus.Histogram
}

// New builds a registry with all pipeline collectors registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		messagesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "promoscanner",
			Name:      "messages_fetched_total",
			Help:      "Messages fetched from sources",
		}, []string{"source"}),
		messagesStored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "promoscanner",
			Name:      "messages_stored_total",
			Help:      "Messages durably stored",
		}, []string{"source"}),
		candidates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "promoscanner",
			Name:      "candidates_total",
			Help:      "Messages classified as promotional candidates",
		}, []string{"source"}),
		extractionResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "promoscanner",
			Name:      "extraction_results_total",
			Help:      "Extraction outcomes by validity",
		}, []string{"outcome"}),
		sourceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "promoscanner",
			Name:      "source_failures_total",
			Help:      "Source cycles abandoned by failure stage",
		}, []string{"source", "stage"}),
		storeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "promoscanner",
			Name:      "store_errors_total",
			Help:      "Database write errors reported",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "promoscanner",
			Name:      "cycle_duration_seconds",
			Help:      "Histogram of full pipeline cycle durations",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	registry.MustRegister(
		m.messagesFetched, m.messagesStored, m.candidates,
		m.extractionResults, m.sourceFailures, m.storeErrors, m.cycleDuration,
	)
	return m
}

// Handler exposes the registry for a /metrics listener.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) AddFetched(source string, n int) {
	if m == nil {
		return
	}
	m.messagesFetched.WithLabelValues(source).Add(float64(n))
}

func (m *Metrics) AddStored(source string, n int) {
	if m == nil {
		return
	}
	m.messagesStored.WithLabelValues(source).Add(float64(n))
}

func (m *Metrics) IncCandidate(source string) {
	if m == nil {
		return
	}
	m.candidates.WithLabelValues(source).Inc()
}

func (m *Metrics) IncExtraction(outcome string) {
	if m == nil {
		return
	}
	m.extractionResults.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncSourceFailure(source, stage string) {
	if m == nil {
		return
	}
	m.sourceFailures.WithLabelValues(source, stage).Inc()
}

func (m *Metrics) IncStoreError() {
	if m == nil {
		return
	}
	m.storeErrors.Inc()
}

func (m *Metrics) ObserveCycle(seconds float64) {
	if m == nil {
		return
	}
	m.cycleDuration.Observe(seconds)
}
