package otel

import (
	"context"
	"sync"

	eventbus "github.com/hanpama/restframe/internal/eventbus"
	events "github.com/hanpama/restframe/internal/events"
	reqid "github.com/hanpama/restframe/internal/reqid"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
)

// Setup configures OpenTelemetry and attaches eventbus subscribers.
// If endpoint is empty, no telemetry is configured.
func Setup(endpoint, service string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithInsecure()))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
		)),
	)
	otel.SetTracerProvider(tp)

	sub := &subscriber{tracer: otel.Tracer("restframe")}
	sub.register()

	return tp.Shutdown, nil
}

type subscriber struct {
	tracer     trace.Tracer
	httpSpans  sync.Map // rid -> trace.Span
	querySpans sync.Map // rid -> trace.Span
}

func (s *subscriber) register() {
	eventbus.Subscribe(func(ctx context.Context, e events.HTTPStart) {
		rid, _ := reqid.FromContext(ctx)
		_, span := s.tracer.Start(ctx, "http.request")
		span.SetAttributes(
			semconv.HTTPMethodKey.String(e.Request.Method),
			attribute.String("http.target", e.Request.URL.Path),
		)
		s.httpSpans.Store(rid, span)
	})

	eventbus.Subscribe(func(ctx context.Context, e events.HTTPFinish) {
		rid, _ := reqid.FromContext(ctx)
		v, ok := s.httpSpans.LoadAndDelete(rid)
		if !ok {
			return
		}
		span := v.(trace.Span)
		span.SetAttributes(semconv.HTTPStatusCodeKey.Int(e.Status))
		span.End()
	})

	eventbus.Subscribe(func(ctx context.Context, e events.QueryStart) {
		rid, _ := reqid.FromContext(ctx)
		parent := ctx
		if v, ok := s.httpSpans.Load(rid); ok {
			parent = trace.ContextWithSpan(ctx, v.(trace.Span))
		}
		_, span := s.tracer.Start(parent, "resource.operation")
		span.SetAttributes(
			attribute.String("resource.operation", e.Operation),
			attribute.String("resource.type", e.Type),
		)
		s.querySpans.Store(rid, span)
	})

	eventbus.Subscribe(func(ctx context.Context, e events.QueryFinish) {
		rid, _ := reqid.FromContext(ctx)
		v, ok := s.querySpans.LoadAndDelete(rid)
		if !ok {
			return
		}
		span := v.(trace.Span)
		if e.Err != nil {
			span.RecordError(e.Err)
		}
		span.End()
	})

	eventbus.Subscribe(func(ctx context.Context, e events.StoreSelect) {
		rid, _ := reqid.FromContext(ctx)
		parent := ctx
		if v, ok := s.querySpans.Load(rid); ok {
			parent = trace.ContextWithSpan(ctx, v.(trace.Span))
		} else if v, ok := s.httpSpans.Load(rid); ok {
			parent = trace.ContextWithSpan(ctx, v.(trace.Span))
		}
		_, span := s.tracer.Start(parent, "store.select",
			trace.WithTimestamp(timeNow().Add(-e.Duration)))
		span.SetAttributes(
			attribute.String("resource.type", e.Type),
			attribute.Int("store.rows", e.Rows),
		)
		if e.Err != nil {
			span.RecordError(e.Err)
		}
		span.End()
	})

	eventbus.Subscribe(func(ctx context.Context, e events.StoreTx) {
		rid, _ := reqid.FromContext(ctx)
		parent := ctx
		if v, ok := s.querySpans.Load(rid); ok {
			parent = trace.ContextWithSpan(ctx, v.(trace.Span))
		}
		_, span := s.tracer.Start(parent, "store.tx",
			trace.WithTimestamp(timeNow().Add(-e.Duration)))
		span.SetAttributes(
			attribute.String("resource.type", e.Type),
			attribute.Bool("store.committed", e.Committed),
		)
		if e.Err != nil {
			span.RecordError(e.Err)
		}
		span.End()
	})
}
