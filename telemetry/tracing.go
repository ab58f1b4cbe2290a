// Package telemetry wires OpenTelemetry tracing into the engine and its
// collaborators.
package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Tracer wraps OpenTelemetry tracing with engine-specific helpers.
type Tracer struct {
	tracer trace.Tracer
	debug  bool // When true, include prompt and response text in LLM spans
}

var (
	globalTracer *Tracer
	tracerMu     sync.RWMutex
)

// SetGlobalTracer sets the global tracer instance.
func SetGlobalTracer(t *Tracer) {
	tracerMu.Lock()
	defer tracerMu.Unlock()
	globalTracer = t
}

// GetTracer returns the global tracer, or a no-op tracer if not set.
func GetTracer() *Tracer {
	tracerMu.RLock()
	defer tracerMu.RUnlock()
	if globalTracer == nil {
		return Noop()
	}
	return globalTracer
}

// Noop returns a tracer that records nothing.
func Noop() *Tracer {
	return &Tracer{tracer: noop.NewTracerProvider().Tracer("")}
}

// NewTracer creates a tracer from the global OpenTelemetry provider.
func NewTracer(name string, debug bool) *Tracer {
	return &Tracer{
		tracer: otel.Tracer(name),
		debug:  debug,
	}
}

// NewTracerFromProvider creates a tracer from an explicit provider.
func NewTracerFromProvider(tp trace.TracerProvider, name string, debug bool) *Tracer {
	return &Tracer{tracer: tp.Tracer(name), debug: debug}
}

// SetDebug enables or disables debug mode.
func (t *Tracer) SetDebug(debug bool) {
	t.debug = debug
}

// Debug returns whether debug mode is enabled.
func (t *Tracer) Debug() bool {
	return t.debug
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// --- Engine Spans ---

// CallSpanOptions describes a finished guarded call.
type CallSpanOptions struct {
	Attempts int
	Outcome  string // ok, error, exhausted, acquire_failed
}

// StartCallSpan starts the span covering every attempt of one guarded call.
func (t *Tracer) StartCallSpan(ctx context.Context, service, callID string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "quotagate.call", trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(
		attribute.String("quotagate.service", service),
		attribute.String("quotagate.call_id", callID),
	)
	return ctx, span
}

// EndCallSpan ends a call span with attributes.
func (t *Tracer) EndCallSpan(span trace.Span, opts CallSpanOptions, err error) {
	span.SetAttributes(
		attribute.Int("quotagate.attempts", opts.Attempts),
		attribute.String("quotagate.outcome", opts.Outcome),
	)
	end(span, err)
}

// StartAcquireSpan starts a span around one acquisition.
func (t *Tracer) StartAcquireSpan(ctx context.Context, service string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "quotagate.acquire", trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(attribute.String("quotagate.service", service))
	return ctx, span
}

// EndAcquireSpan ends an acquisition span. queued reports whether the caller
// had to wait in the FIFO queue.
func (t *Tracer) EndAcquireSpan(span trace.Span, queued bool, waited time.Duration, err error) {
	span.SetAttributes(
		attribute.Bool("quotagate.queued", queued),
		attribute.Int64("quotagate.waited_ms", waited.Milliseconds()),
	)
	end(span, err)
}

// RetryEvent records a scheduled backoff on the span in ctx.
func RetryEvent(ctx context.Context, attempt int, delay time.Duration, err error) {
	span := trace.SpanFromContext(ctx)
	attrs := []attribute.KeyValue{
		attribute.Int("quotagate.attempt", attempt),
		attribute.Int64("quotagate.delay_ms", delay.Milliseconds()),
	}
	if err != nil {
		attrs = append(attrs, attribute.String("error", truncate(err.Error(), 500)))
	}
	span.AddEvent("retry", trace.WithAttributes(attrs...))
}

// --- LLM Spans ---

// LLMSpanOptions contains options for LLM call spans.
type LLMSpanOptions struct {
	Model     string
	Provider  string
	Service   string
	Attempt   int
	TokensIn  int
	TokensOut int
	Prompt    string // Only included if debug=true
	Response  string // Only included if debug=true
}

// StartLLMSpan starts a span for an LLM call.
func (t *Tracer) StartLLMSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient))
}

// EndLLMSpan ends an LLM span with attributes.
func (t *Tracer) EndLLMSpan(span trace.Span, opts LLMSpanOptions, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("llm.model", opts.Model),
		attribute.String("llm.provider", opts.Provider),
		attribute.Int("llm.tokens.input", opts.TokensIn),
		attribute.Int("llm.tokens.output", opts.TokensOut),
	}
	if opts.Service != "" {
		attrs = append(attrs, attribute.String("quotagate.service", opts.Service))
	}
	if opts.Attempt > 0 {
		attrs = append(attrs, attribute.Int("quotagate.attempt", opts.Attempt))
	}

	if t.debug {
		if opts.Prompt != "" {
			attrs = append(attrs, attribute.String("llm.prompt", truncate(opts.Prompt, 4000)))
		}
		if opts.Response != "" {
			attrs = append(attrs, attribute.String("llm.response", truncate(opts.Response, 4000)))
		}
	}

	span.SetAttributes(attrs...)
	end(span, err)
}

// --- HTTP Spans ---

// StartHTTPSpan starts a client span for an upstream HTTP request.
func (t *Tracer) StartHTTPSpan(ctx context.Context, service, method, url string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "http."+method, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("quotagate.service", service),
		attribute.String("http.request.method", method),
		attribute.String("url.full", truncate(url, 1000)),
	)
	return ctx, span
}

// EndHTTPSpan ends an HTTP span with the response status.
func (t *Tracer) EndHTTPSpan(span trace.Span, status int, err error) {
	if status > 0 {
		span.SetAttributes(attribute.Int("http.response.status_code", status))
	}
	end(span, err)
}

func end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// --- Context Propagation ---

// InjectContext injects trace context into a carrier for cross-process propagation.
func InjectContext(ctx context.Context, carrier propagation.TextMapCarrier) {
	otel.GetTextMapPropagator().Inject(ctx, carrier)
}

// ExtractContext extracts trace context from a carrier.
func ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
