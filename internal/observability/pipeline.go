package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope of the pipeline instruments.
const MeterName = "scenepipe"

// Provider call outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// PipelineMetrics records generation activity. A nil *PipelineMetrics is a no-op.
type PipelineMetrics struct {
	providerCalls metric.Int64Counter
	retries       metric.Int64Counter
	cacheHits     metric.Int64Counter
	cacheMisses   metric.Int64Counter
	jobsFinished  metric.Int64Counter
	stageDuration metric.Float64Histogram
	meter         metric.Meter
}

// NewPipelineMetrics creates the instruments on meter, or on the global
// meter provider when meter is nil.
func NewPipelineMetrics(meter metric.Meter) (*PipelineMetrics, error) {
	if meter == nil {
		meter = otel.Meter(MeterName)
	}
	m := &PipelineMetrics{meter: meter}

	var err error
	if m.providerCalls, err = meter.Int64Counter("scenepipe.provider.calls",
		metric.WithDescription("Provider generation calls by stage and outcome")); err != nil {
		return nil, err
	}
	if m.retries, err = meter.Int64Counter("scenepipe.provider.retries",
		metric.WithDescription("Provider calls retried after a transient failure")); err != nil {
		return nil, err
	}
	if m.cacheHits, err = meter.Int64Counter("scenepipe.cache.hits"); err != nil {
		return nil, err
	}
	if m.cacheMisses, err = meter.Int64Counter("scenepipe.cache.misses"); err != nil {
		return nil, err
	}
	if m.jobsFinished, err = meter.Int64Counter("scenepipe.jobs.finished",
		metric.WithDescription("Jobs that reached a terminal status")); err != nil {
		return nil, err
	}
	if m.stageDuration, err = meter.Float64Histogram("scenepipe.stage.duration",
		metric.WithDescription("Wall time of one stage of a job"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return m, nil
}

// RegisterActiveJobs exposes the number of running jobs as an observable gauge.
// count is only called when the metrics are collected.
func (m *PipelineMetrics) RegisterActiveJobs(count func() int) error {
	if m == nil {
		return nil
	}
	_, err := m.meter.Int64ObservableGauge("scenepipe.jobs.active",
		metric.WithDescription("Jobs currently running"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			obs.Observe(int64(count()))
			return nil
		}),
	)
	return err
}

func (m *PipelineMetrics) ProviderCall(ctx context.Context, stage, outcome string) {
	if m == nil {
		return
	}
	m.providerCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("outcome", outcome),
	))
}

func (m *PipelineMetrics) Retry(ctx context.Context, stage string) {
	if m == nil {
		return
	}
	m.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

func (m *PipelineMetrics) CacheHit(ctx context.Context, stage string) {
	if m == nil {
		return
	}
	m.cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

func (m *PipelineMetrics) CacheMiss(ctx context.Context, stage string) {
	if m == nil {
		return
	}
	m.cacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

func (m *PipelineMetrics) JobFinished(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.jobsFinished.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (m *PipelineMetrics) StageDuration(ctx context.Context, stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("stage", stage)))
}
