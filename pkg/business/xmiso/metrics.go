package xmiso

import (
	"context"
	"fmt"
	"time"

	"github.com/omeyang/xmiso/pkg/resilience/xbreaker"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/omeyang/xmiso"

	metricRequestTotal       = "xmiso.request.total"
	metricRequestDuration    = "xmiso.request.duration"
	metricBreakerTransitions = "xmiso.breaker.transitions"
)

// 指标与 span 属性。
const (
	attrOperation  = "xmiso.operation"
	attrMethod     = "http.request.method"
	attrPath       = "url.path"
	attrStatusCode = "http.response.status_code"
	attrOutcome    = "xmiso.outcome"
	attrBreaker    = "xmiso.breaker"
	attrFrom       = "xmiso.breaker.from"
	attrTo         = "xmiso.breaker.to"
)

// 请求结果分类。
const (
	outcomeSuccess     = "success"
	outcomeClientError = "client_error"
	outcomeServerError = "server_error"
	outcomeConnection  = "connection_error"
	outcomeCanceled    = "canceled"
	outcomeRejected    = "circuit_open"
)

// observer 封装请求级 span 与指标。
type observer struct {
	tracer      trace.Tracer
	total       metric.Int64Counter
	duration    metric.Float64Histogram
	transitions metric.Int64Counter
}

func newObserver(tp trace.TracerProvider, mp metric.MeterProvider) (*observer, error) {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)

	total, err := meter.Int64Counter(metricRequestTotal,
		metric.WithDescription("controller requests"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("xmiso: create counter failed: %w", err)
	}
	duration, err := meter.Float64Histogram(metricRequestDuration,
		metric.WithDescription("controller request duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("xmiso: create histogram failed: %w", err)
	}
	transitions, err := meter.Int64Counter(metricBreakerTransitions,
		metric.WithDescription("circuit breaker state transitions"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("xmiso: create counter failed: %w", err)
	}

	return &observer{
		tracer:      tp.Tracer(instrumentationName),
		total:       total,
		duration:    duration,
		transitions: transitions,
	}, nil
}

// requestSpan 一次请求的观测。
type requestSpan struct {
	o     *observer
	span  trace.Span
	attrs []attribute.KeyValue
	start time.Time
}

func (o *observer) start(ctx context.Context, op, method, path string) (context.Context, *requestSpan) {
	attrs := []attribute.KeyValue{
		attribute.String(attrOperation, op),
		attribute.String(attrMethod, method),
		attribute.String(attrPath, path),
	}
	ctx, span := o.tracer.Start(ctx, "xmiso."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
	return ctx, &requestSpan{o: o, span: span, attrs: attrs, start: time.Now()}
}

// end 记录结果。statusCode 为 0 表示未收到响应。
func (s *requestSpan) end(ctx context.Context, statusCode int, outcome string, err error) {
	attrs := append(s.attrs, attribute.String(attrOutcome, outcome))
	if statusCode > 0 {
		attrs = append(attrs, attribute.Int(attrStatusCode, statusCode))
		s.span.SetAttributes(attribute.Int(attrStatusCode, statusCode))
	}
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	} else {
		s.span.SetStatus(codes.Ok, "")
	}
	s.span.End()

	set := metric.WithAttributes(attrs...)
	s.o.total.Add(ctx, 1, set)
	s.o.duration.Record(ctx, time.Since(s.start).Seconds(), set)
}

// breakerTransition 作为 xbreaker.WithOnStateChange 回调。
func (o *observer) breakerTransition(name string, from, to xbreaker.State) {
	o.transitions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String(attrBreaker, name),
		attribute.String(attrFrom, from.String()),
		attribute.String(attrTo, to.String()),
	))
}

// classify 根据状态码分类。
func classify(statusCode int) string {
	switch {
	case statusCode >= 500:
		return outcomeServerError
	case statusCode >= 400:
		return outcomeClientError
	default:
		return outcomeSuccess
	}
}
