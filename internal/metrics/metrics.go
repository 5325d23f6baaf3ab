// Package metrics defines the pipeline's Prometheus counters.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values.
const (
	OutcomeOK        = "ok"
	OutcomeDuplicate = "duplicate"
	OutcomeInvalid   = "invalid"
	OutcomeNotFound  = "not_found"
	OutcomeFailed    = "failed"
)

// Pipeline groups the counters recorded by the services.
type Pipeline struct {
	Submissions *prometheus.CounterVec
	Completions *prometheus.CounterVec
	Queries     *prometheus.CounterVec
}

// New registers the pipeline counters with reg.
func New(reg prometheus.Registerer) *Pipeline {
	factory := promauto.With(reg)
	return &Pipeline{
		Submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ocr",
			Name:      "submissions_total",
			Help:      "Document submissions by outcome.",
		}, []string{"outcome"}),
		Completions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ocr",
			Name:      "completion_messages_total",
			Help:      "Completion messages consumed by outcome.",
		}, []string{"outcome"}),
		Queries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ocr",
			Name:      "queries_total",
			Help:      "State queries by outcome.",
		}, []string{"outcome"}),
	}
}

// Discard returns counters registered nowhere, for callers that do not export metrics.
func Discard() *Pipeline {
	return New(prometheus.NewRegistry())
}

var (
	defaultOnce     sync.Once
	defaultPipeline *Pipeline
)

// Default returns the process-wide counters registered with the default Prometheus registry.
func Default() *Pipeline {
	defaultOnce.Do(func() {
		defaultPipeline = New(prometheus.DefaultRegisterer)
	})
	return defaultPipeline
}
