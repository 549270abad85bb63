package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/offerscout/offerscout/internal/events"
)

// PrometheusSink exports coordination metrics. It owns all collectors for
// provider refreshes, proxy validations, extraction attempts, and workflow
// step outcomes.
type PrometheusSink struct {
	refreshTotal       *prometheus.CounterVec
	validationTotal    *prometheus.CounterVec
	validationDur      *prometheus.HistogramVec
	rotationTotal      *prometheus.CounterVec
	extractionTotal    *prometheus.CounterVec
	extractionDur      prometheus.Histogram
	workflowStepsTotal *prometheus.CounterVec
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		refreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "offerscout_proxy_refresh_total",
			Help: "Provider refresh attempts partitioned by provider and outcome.",
		}, []string{"provider", "outcome"}),
		validationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "offerscout_proxy_validations_total",
			Help: "Proxy validation results partitioned by provider and outcome.",
		}, []string{"provider", "outcome"}),
		validationDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "offerscout_proxy_validation_duration_seconds",
			Help:    "Proxy validation latency partitioned by provider.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"provider"}),
		rotationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "offerscout_proxy_rotations_total",
			Help: "Proxy rotations partitioned by outcome.",
		}, []string{"outcome"}),
		extractionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "offerscout_extraction_attempts_total",
			Help: "Backend extraction attempts partitioned by backend and outcome.",
		}, []string{"backend", "outcome"}),
		extractionDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "offerscout_extraction_duration_seconds",
			Help:    "Wall time per extraction attempt.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		workflowStepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "offerscout_workflow_steps_total",
			Help: "Workflow step completions partitioned by step and outcome.",
		}, []string{"step", "outcome"}),
	}
	for _, collector := range []prometheus.Collector{
		s.refreshTotal,
		s.validationTotal,
		s.validationDur,
		s.rotationTotal,
		s.extractionTotal,
		s.extractionDur,
		s.workflowStepsTotal,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register event collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates collectors using the provided batch. Safe for concurrent
// use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt events.Event) {
	provider := evt.Provider
	if provider == "" {
		provider = "unknown"
	}
	outcome := string(evt.Outcome)
	switch evt.Source {
	case events.SourceRefresh:
		s.refreshTotal.WithLabelValues(provider, outcome).Inc()
	case events.SourceValidation:
		s.validationTotal.WithLabelValues(provider, outcome).Inc()
		if evt.Dur > 0 {
			s.validationDur.WithLabelValues(provider).Observe(evt.Dur.Seconds())
		}
	case events.SourceRotation:
		s.rotationTotal.WithLabelValues(outcome).Inc()
	case events.SourceExtraction:
		s.extractionTotal.WithLabelValues(provider, outcome).Inc()
		if evt.Dur > 0 {
			s.extractionDur.Observe(evt.Dur.Seconds())
		}
	case events.SourceWorkflow:
		step := evt.Key
		if step == "" {
			step = "unknown"
		}
		s.workflowStepsTotal.WithLabelValues(step, outcome).Inc()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
