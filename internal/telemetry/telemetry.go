// Package telemetry implements the observability adapter: one span
// per pipeline stage, trace_id propagation, and the counters/histograms
// named in the external interfaces. Export is best-effort and never fails
// the turn it instruments.
package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/loomvoice/agentcore/internal/adapters/metrics"
)

// Stage names used consistently across spans, counters, and histograms.
const (
	StageSTT             = "stt"
	StageRetrieveContext = "retrieve_context"
	StageLLM             = "llm"
	StagePersistTurn     = "persist_turn"
	StageTTS             = "tts"
	StageTurn            = "turn"
)

var tracer = otel.Tracer("agentcore")

// StartSpan opens a span for stage and returns it alongside a derived
// context. Callers must call End regardless of outcome.
func StartSpan(ctx context.Context, stage string) (context.Context, trace.Span) {
	return tracer.Start(ctx, stage)
}

// RecordStage records one stage's outcome: a requests_total increment, a
// latency_ms observation, and — on failure — an errors_total{kind}
// increment plus the span's error status. Instrumentation failures (e.g.
// an exporter hiccup) are swallowed; they must never fail the turn.
func RecordStage(span trace.Span, stage string, start time.Time, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("telemetry recording panicked, dropping", "stage", stage, "recovered", r)
		}
	}()

	elapsed := time.Since(start).Milliseconds()
	metrics.RequestsTotal.WithLabelValues(stage).Inc()
	metrics.LatencyMs.WithLabelValues(stage).Observe(float64(elapsed))

	if err != nil {
		metrics.ErrorsTotal.WithLabelValues(errorKind(stage, err)).Inc()
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	}
	span.End()
}

// errorKind derives a coarse label for errors_total. Stage-specific
// timeouts get their own kind (e.g. llm_timeout) so the LLM-timeout
// scenario's counter assertion can be matched exactly.
func errorKind(stage string, err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return stage + "_timeout"
	}
	return stage + "_error"
}

// RecordContextSize observes how many prior turns were attached to a
// reasoning prompt.
func RecordContextSize(n int) {
	metrics.ContextSize.Observe(float64(n))
}

// TraceIDFromContext extracts the current span's trace id as a hex
// string, for propagation into bus envelopes.
func TraceIDFromContext(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}
