package observability

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics carries every Prometheus collector the backend exposes. All
// collectors live on a private registry so tests can create isolated
// instances without double-registration panics.
type Metrics struct {
	registry *prometheus.Registry

	llmCalls    *prometheus.CounterVec
	llmErrors   *prometheus.CounterVec
	llmTokens   *prometheus.CounterVec
	llmDuration *prometheus.HistogramVec

	vectorSearch         *prometheus.CounterVec
	vectorSearchDuration prometheus.Histogram

	graphExpand           prometheus.Counter
	graphExpandDuration   prometheus.Histogram
	graphEntitiesUpserted prometheus.Counter

	rerankCalls    prometheus.Counter
	rerankDuration prometheus.Histogram

	auditResults *prometheus.CounterVec

	factsLearned *prometheus.CounterVec
	factsCleaned prometheus.Counter

	activeProposals prometheus.Gauge

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		llmCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autoforge_llm_calls_total",
			Help: "Total LLM calls",
		}, []string{"model", "endpoint"}),
		llmErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autoforge_llm_errors_total",
			Help: "Total LLM call failures",
		}, []string{"model", "endpoint"}),
		llmTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autoforge_llm_tokens_total",
			Help: "Total tokens consumed",
		}, []string{"direction"}),
		llmDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "autoforge_llm_duration_seconds",
			Help: "LLM call latency",
		}, []string{"model"}),
		vectorSearch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autoforge_vector_search_total",
			Help: "Total vector searches",
		}, []string{"tenant"}),
		vectorSearchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "autoforge_vector_search_duration_seconds",
			Help: "Vector search latency",
		}),
		graphExpand: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autoforge_graph_expand_total",
			Help: "Total graph expansions",
		}),
		graphExpandDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "autoforge_graph_expand_duration_seconds",
			Help: "Graph expand latency",
		}),
		graphEntitiesUpserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autoforge_graph_entities_upserted_total",
			Help: "Entities upserted",
		}),
		rerankCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autoforge_rerank_calls_total",
			Help: "Total rerank calls",
		}),
		rerankDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "autoforge_rerank_duration_seconds",
			Help: "Rerank latency",
		}),
		auditResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autoforge_audit_results_total",
			Help: "Audit results",
		}, []string{"status"}),
		factsLearned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autoforge_facts_learned_total",
			Help: "Facts learned",
		}, []string{"tenant"}),
		factsCleaned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autoforge_facts_cleaned_total",
			Help: "Old facts removed",
		}),
		activeProposals: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "autoforge_active_proposals",
			Help: "Proposals in-flight",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autoforge_http_requests_total",
			Help: "HTTP requests",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "autoforge_http_request_duration_seconds",
			Help: "HTTP request latency",
		}, []string{"method", "path"}),
	}

	reg.MustRegister(
		m.llmCalls, m.llmErrors, m.llmTokens, m.llmDuration,
		m.vectorSearch, m.vectorSearchDuration,
		m.graphExpand, m.graphExpandDuration, m.graphEntitiesUpserted,
		m.rerankCalls, m.rerankDuration,
		m.auditResults,
		m.factsLearned, m.factsCleaned,
		m.activeProposals,
		m.httpRequests, m.httpDuration,
	)
	return m
}

// Handler serves the text exposition for this metrics set.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveLLMCall(model, endpoint string, d time.Duration, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	m.llmCalls.WithLabelValues(model, endpoint).Inc()
	m.llmDuration.WithLabelValues(model).Observe(d.Seconds())
	if inputTokens > 0 {
		m.llmTokens.WithLabelValues("input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.llmTokens.WithLabelValues("output").Add(float64(outputTokens))
	}
}

func (m *Metrics) ObserveLLMError(model, endpoint string) {
	if m == nil {
		return
	}
	m.llmErrors.WithLabelValues(model, endpoint).Inc()
}

func (m *Metrics) ObserveVectorSearch(tenant string, d time.Duration) {
	if m == nil {
		return
	}
	m.vectorSearch.WithLabelValues(tenant).Inc()
	m.vectorSearchDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveGraphExpand(d time.Duration) {
	if m == nil {
		return
	}
	m.graphExpand.Inc()
	m.graphExpandDuration.Observe(d.Seconds())
}

func (m *Metrics) AddEntitiesUpserted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.graphEntitiesUpserted.Add(float64(n))
}

func (m *Metrics) ObserveRerank(d time.Duration) {
	if m == nil {
		return
	}
	m.rerankCalls.Inc()
	m.rerankDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveAudit(status string) {
	if m == nil {
		return
	}
	m.auditResults.WithLabelValues(status).Inc()
}

func (m *Metrics) FactLearned(tenant string) {
	if m == nil {
		return
	}
	m.factsLearned.WithLabelValues(tenant).Inc()
}

func (m *Metrics) AddFactsCleaned(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.factsCleaned.Add(float64(n))
}

func (m *Metrics) ActiveProposalsInc() {
	if m == nil {
		return
	}
	m.activeProposals.Inc()
}

func (m *Metrics) ActiveProposalsDec() {
	if m == nil {
		return
	}
	m.activeProposals.Dec()
}

func (m *Metrics) ObserveHTTP(method, path, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, path, status).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

var current atomic.Pointer[Metrics]

// SetCurrent installs the process-wide metrics instance.
func SetCurrent(m *Metrics) {
	current.Store(m)
}

// Current returns the installed metrics instance, or nil when metrics are
// disabled (all observation helpers tolerate a nil receiver).
func Current() *Metrics {
	return current.Load()
}
