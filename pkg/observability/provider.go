package observability

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Provider mirrors the in-process registry to OTel over OTLP gRPC. It is
// optional wiring: when no provider is set, the registry alone is the
// source of truth and nothing changes semantically.
type Provider struct {
	meterProvider *sdkmetric.MeterProvider
	traceProvider *sdktrace.TracerProvider
	meter         metric.Meter
	tracer        trace.Tracer

	mu         sync.Mutex
	counters   map[string]metric.Float64Counter
	histograms map[string]metric.Float64Histogram
}

// NewProvider dials the collector at endpoint (host:port, insecure).
func NewProvider(ctx context.Context, endpoint string) (*Provider, error) {
	metricExp, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("otlp metric exporter: %w", err)
	}
	traceExp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("otlp trace exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
	)
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExp))

	return &Provider{
		meterProvider: mp,
		traceProvider: tp,
		meter:         mp.Meter("arbiter"),
		tracer:        tp.Tracer("arbiter"),
		counters:      make(map[string]metric.Float64Counter),
		histograms:    make(map[string]metric.Float64Histogram),
	}, nil
}

func otelAttrs(labels map[string]string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}

// Count implements Mirror.
func (p *Provider) Count(ctx context.Context, name string, labels map[string]string, delta float64) {
	p.mu.Lock()
	inst, ok := p.counters[name]
	if !ok {
		var err error
		inst, err = p.meter.Float64Counter(name)
		if err != nil {
			p.mu.Unlock()
			return
		}
		p.counters[name] = inst
	}
	p.mu.Unlock()
	inst.Add(ctx, delta, metric.WithAttributes(otelAttrs(labels)...))
}

// Observe implements Mirror.
func (p *Provider) Observe(ctx context.Context, name string, labels map[string]string, value float64) {
	p.mu.Lock()
	inst, ok := p.histograms[name]
	if !ok {
		var err error
		inst, err = p.meter.Float64Histogram(name)
		if err != nil {
			p.mu.Unlock()
			return
		}
		p.histograms[name] = inst
	}
	p.mu.Unlock()
	inst.Record(ctx, value, metric.WithAttributes(otelAttrs(labels)...))
}

// MirrorSpan implements SpanMirror: the finished in-process span is
// replayed onto the OTel tracer with its original timestamps. The
// in-process span and parent ids travel as attributes so the two trace
// stores can be correlated.
func (p *Provider) MirrorSpan(s Span) {
	_, span := p.tracer.Start(context.Background(), s.Name,
		trace.WithTimestamp(s.Start))
	attrs := make([]attribute.KeyValue, 0, len(s.Attrs)+2)
	attrs = append(attrs, attribute.String("span_id", s.SpanID))
	if s.ParentID != "" {
		attrs = append(attrs, attribute.String("parent_id", s.ParentID))
	}
	for k, v := range s.Attrs {
		attrs = append(attrs, attribute.String(k, fmt.Sprint(v)))
	}
	span.SetAttributes(attrs...)
	span.End(trace.WithTimestamp(s.End))
}

// Shutdown flushes both pipelines.
func (p *Provider) Shutdown(ctx context.Context) error {
	return errors.Join(
		p.meterProvider.Shutdown(ctx),
		p.traceProvider.Shutdown(ctx),
	)
}
