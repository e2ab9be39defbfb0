package metrics

import (
	"context"
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bernsmp/zed-seo-tool/internal/domain"
	"github.com/bernsmp/zed-seo-tool/internal/integrations/llm"
)

var jobsDesc = prometheus.NewDesc(
	"seotool_jobs",
	"Queued jobs by status",
	[]string{"status"},
	nil,
)

// JobCounter is read on every scrape.
type JobCounter interface {
	CountJobsByStatus(ctx context.Context) (map[string]int, error)
}

type jobCollector struct {
	src JobCounter
}

func (c *jobCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- jobsDesc
}

func (c *jobCollector) Collect(ch chan<- prometheus.Metric) {
	counts, err := c.src.CountJobsByStatus(context.Background())
	if err != nil {
		log.Printf("metrics job count error: %v", err)
		return
	}
	for status, n := range counts {
		ch <- prometheus.MustNewConstMetric(jobsDesc, prometheus.GaugeValue, float64(n), status)
	}
}

// Metrics implements llm.Recorder and the pipeline observer on its own registry.
type Metrics struct {
	Registry *prometheus.Registry

	llmCalls   *prometheus.CounterVec
	llmTokens  *prometheus.CounterVec
	llmLatency *prometheus.HistogramVec
	batches    *prometheus.CounterVec
	results    *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		llmCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seotool_llm_calls_total",
			Help: "LLM call attempts by task and outcome",
		}, []string{"task", "outcome"}),
		llmTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seotool_llm_tokens_total",
			Help: "LLM tokens by task and direction",
		}, []string{"task", "direction"}),
		llmLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "seotool_llm_call_seconds",
			Help:    "LLM call latency",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 120},
		}, []string{"task"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seotool_batches_total",
			Help: "Pipeline batches by job type and outcome",
		}, []string{"job_type", "outcome"}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seotool_results_total",
			Help: "Pipeline results by job type and source",
		}, []string{"job_type", "source"}),
	}
	m.Registry.MustRegister(m.llmCalls, m.llmTokens, m.llmLatency, m.batches, m.results)
	return m
}

// RegisterJobs exposes queue sizes read from src.
func (m *Metrics) RegisterJobs(src JobCounter) {
	m.Registry.MustRegister(&jobCollector{src: src})
}

func (m *Metrics) RecordCall(rec llm.CallRecord) {
	outcome := "ok"
	switch {
	case rec.Err == nil:
	case llm.IsFatal(rec.Err):
		outcome = "fatal"
	default:
		outcome = "transient"
	}
	m.llmCalls.WithLabelValues(rec.Task, outcome).Inc()
	m.llmTokens.WithLabelValues(rec.Task, "input").Add(float64(rec.Usage.InputTokens))
	m.llmTokens.WithLabelValues(rec.Task, "output").Add(float64(rec.Usage.OutputTokens))
	m.llmLatency.WithLabelValues(rec.Task).Observe(rec.Duration.Seconds())
}

func (m *Metrics) ObserveBatch(jobType domain.JobType, outcome string) {
	m.batches.WithLabelValues(string(jobType), outcome).Inc()
}

func (m *Metrics) ObserveResults(jobType domain.JobType, source domain.Source, n int) {
	if n <= 0 {
		return
	}
	m.results.WithLabelValues(string(jobType), string(source)).Add(float64(n))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
