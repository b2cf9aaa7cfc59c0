// Package metrics owns the in-process aggregates of the ingestion pipeline
// and the HTTP exporter that serves them for scraping.
//
// The four api_* families are a fixed contract with external dashboards:
// their names and label names must not change.
package metrics

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	dto "github.com/prometheus/client_model/go"
)

const (
	contractNamespace = "api"
	pipelineNamespace = "apilog"
	pipelineSubsystem = "consumer"
)

// Outcome is the terminal state of one consumed message.
type Outcome string

const (
	OutcomeProcessed     Outcome = "processed"
	OutcomeDecodeError   Outcome = "decode_error"
	OutcomeUnrecognized  Outcome = "unrecognized"
	OutcomePersistFailed Outcome = "persist_failed"
	OutcomePanicked      Outcome = "panicked"
)

// Registry holds the counters and the latency summary. Each vector is safe
// for concurrent use on its own, so writers and the exporter never share a
// registry-wide lock.
type Registry struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	responses       *prometheus.CounterVec
	errors          *prometheus.CounterVec
	responseTime    *prometheus.SummaryVec
	outcomes        *prometheus.CounterVec
	transportErrors *prometheus.CounterVec

	registerOnce sync.Once
	registerErr  error
}

type options struct {
	runtimeCollectors bool
	registry          *prometheus.Registry
}

// Option customises New.
type Option func(*options)

// WithRuntimeCollectors adds the Go runtime and process collectors.
func WithRuntimeCollectors(enabled bool) Option {
	return func(o *options) { o.runtimeCollectors = enabled }
}

// WithPrometheusRegistry registers into an existing registry instead of a
// fresh one.
func WithPrometheusRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

func newContractCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: contractNamespace,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newPipelineCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: pipelineNamespace,
			Subsystem: pipelineSubsystem,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// New builds a Registry and registers its collectors.
func New(opts ...Option) (*Registry, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.registry == nil {
		o.registry = prometheus.NewRegistry()
	}

	r := &Registry{
		registry:  o.registry,
		requests:  newContractCounterVec("requests_total", "Total API requests observed", []string{"endpoint", "method"}),
		responses: newContractCounterVec("responses_total", "Total API responses observed", []string{"endpoint", "status_code"}),
		errors:    newContractCounterVec("errors_total", "Total API errors observed", []string{"endpoint", "error"}),
		responseTime: prometheus.NewSummaryVec(
			prometheus.SummaryOpts{
				Namespace: contractNamespace,
				Name:      "response_time_seconds",
				Help:      "API response time in seconds",
			},
			[]string{"endpoint"},
		),
		outcomes:        newPipelineCounterVec("messages_total", "Consumed messages by processing outcome", []string{"outcome"}),
		transportErrors: newPipelineCounterVec("transport_errors_total", "Bus errors reported per topic", []string{"topic"}),
	}

	if err := r.Register(); err != nil {
		return nil, err
	}
	if o.runtimeCollectors {
		for _, c := range []prometheus.Collector{
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		} {
			if err := registerTolerant(r.registry, c); err != nil {
				return nil, err
			}
		}
	}
	return r, nil
}

// Register registers the collectors. Safe to call multiple times.
func (r *Registry) Register() error {
	r.registerOnce.Do(func() {
		for _, c := range []prometheus.Collector{
			r.requests,
			r.responses,
			r.errors,
			r.responseTime,
			r.outcomes,
			r.transportErrors,
		} {
			if err := registerTolerant(r.registry, c); err != nil {
				r.registerErr = err
				return
			}
		}
	})
	return r.registerErr
}

func registerTolerant(reg prometheus.Registerer, c prometheus.Collector) error {
	if err := reg.Register(c); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
			return err
		}
	}
	return nil
}

// RecordRequest counts one request.
func (r *Registry) RecordRequest(endpoint, method string) {
	r.requests.WithLabelValues(endpoint, method).Inc()
}

// RecordResponse counts one response and observes its latency.
func (r *Registry) RecordResponse(endpoint string, statusCode int, responseTimeSeconds float64) {
	r.responses.WithLabelValues(endpoint, strconv.Itoa(statusCode)).Inc()
	r.responseTime.WithLabelValues(endpoint).Observe(responseTimeSeconds)
}

// RecordError counts one error. An empty label stands for "no message".
func (r *Registry) RecordError(endpoint, errorLabel string) {
	r.errors.WithLabelValues(endpoint, errorLabel).Inc()
}

func (r *Registry) RecordOutcome(outcome Outcome) {
	r.outcomes.WithLabelValues(string(outcome)).Inc()
}

func (r *Registry) RecordTransportError(topic string) {
	r.transportErrors.WithLabelValues(topic).Inc()
}

// Gatherer exposes the underlying registry for scraping.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// CounterSample is one labelled counter value.
type CounterSample struct {
	Labels map[string]string `json:"labels"`
	Value  float64           `json:"value"`
}

// SummarySample is one labelled summary.
type SummarySample struct {
	Labels map[string]string `json:"labels"`
	Count  uint64            `json:"count"`
	Sum    float64           `json:"sum"`
}

// Snapshot is a point-in-time copy of the contract families.
type Snapshot struct {
	Requests     []CounterSample `json:"requests"`
	Responses    []CounterSample `json:"responses"`
	Errors       []CounterSample `json:"errors"`
	ResponseTime []SummarySample `json:"response_time"`
	Outcomes     []CounterSample `json:"outcomes"`
	CollectedAt  time.Time       `json:"collected_at"`
}

// Snapshot gathers the current values. Samples are sorted by label values.
func (r *Registry) Snapshot() (Snapshot, error) {
	families, err := r.registry.Gather()
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{CollectedAt: time.Now().UTC()}
	for _, mf := range families {
		switch mf.GetName() {
		case "api_requests_total":
			snap.Requests = counterSamples(mf)
		case "api_responses_total":
			snap.Responses = counterSamples(mf)
		case "api_errors_total":
			snap.Errors = counterSamples(mf)
		case "api_response_time_seconds":
			snap.ResponseTime = summarySamples(mf)
		case "apilog_consumer_messages_total":
			snap.Outcomes = counterSamples(mf)
		}
	}
	return snap, nil
}

func labelMap(m *dto.Metric) map[string]string {
	labels := make(map[string]string, len(m.GetLabel()))
	for _, lp := range m.GetLabel() {
		labels[lp.GetName()] = lp.GetValue()
	}
	return labels
}

func labelKey(m *dto.Metric) string {
	key := ""
	for _, lp := range m.GetLabel() {
		key += lp.GetValue() + "\x00"
	}
	return key
}

func counterSamples(mf *dto.MetricFamily) []CounterSample {
	metrics := mf.GetMetric()
	sort.Slice(metrics, func(i, j int) bool { return labelKey(metrics[i]) < labelKey(metrics[j]) })
	out := make([]CounterSample, 0, len(metrics))
	for _, m := range metrics {
		out = append(out, CounterSample{Labels: labelMap(m), Value: m.GetCounter().GetValue()})
	}
	return out
}

func summarySamples(mf *dto.MetricFamily) []SummarySample {
	metrics := mf.GetMetric()
	sort.Slice(metrics, func(i, j int) bool { return labelKey(metrics[i]) < labelKey(metrics[j]) })
	out := make([]SummarySample, 0, len(metrics))
	for _, m := range metrics {
		out = append(out, SummarySample{
			Labels: labelMap(m),
			Count:  m.GetSummary().GetSampleCount(),
			Sum:    m.GetSummary().GetSampleSum(),
		})
	}
	return out
}
