package collector

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/ortelius/cve-mirror/internal/collector"

// telemetry records run spans and counters. Without a configured
// provider the otel globals are no-ops.
type telemetry struct {
	tracer        trace.Tracer
	pages         metric.Int64Counter
	written       metric.Int64Counter
	persistErrors metric.Int64Counter
	runs          metric.Int64Counter
}

func newTelemetry(tracer trace.Tracer, meter metric.Meter) *telemetry {
	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}

	t := &telemetry{tracer: tracer}
	// creation errors leave a nil counter, which page and endRun skip
	t.pages, _ = meter.Int64Counter("cve_mirror.pages", metric.WithDescription("Feed pages fetched"))
	t.written, _ = meter.Int64Counter("cve_mirror.records.written", metric.WithDescription("CVE documents written"))
	t.persistErrors, _ = meter.Int64Counter("cve_mirror.persist.errors", metric.WithDescription("Pages that failed to persist"))
	t.runs, _ = meter.Int64Counter("cve_mirror.runs", metric.WithDescription("Finished collection runs"))
	return t
}

func (t *telemetry) startRun(ctx context.Context, res RunResult) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "collector."+res.Mode, trace.WithAttributes(
		attribute.String("run.id", res.RunID),
		attribute.String("run.mode", res.Mode),
	))
}

func (t *telemetry) startPage(ctx context.Context, startIndex int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "collector.page", trace.WithAttributes(attribute.Int("page.start_index", startIndex)))
}

func (t *telemetry) page(ctx context.Context, mode string, written int, failed bool) {
	attrs := metric.WithAttributes(attribute.String("mode", mode))
	if t.pages != nil {
		t.pages.Add(ctx, 1, attrs)
	}
	if t.written != nil {
		t.written.Add(ctx, int64(written), attrs)
	}
	if failed && t.persistErrors != nil {
		t.persistErrors.Add(ctx, 1, attrs)
	}
}

func (t *telemetry) endRun(ctx context.Context, span trace.Span, res RunResult) {
	span.SetAttributes(
		attribute.Int("run.pages", res.Pages),
		attribute.Int("run.fetched", res.Fetched),
		attribute.Int("run.written", res.Written),
		attribute.Int("run.persist_errors", res.PersistErrors),
		attribute.String("run.stop_reason", string(res.StopReason)),
		attribute.Bool("run.watermark_advanced", res.WatermarkAdvanced),
	)
	if res.Succeeded() {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, string(res.StopReason))
	}
	span.End()

	if t.runs != nil {
		t.runs.Add(ctx, 1, metric.WithAttributes(
			attribute.String("mode", res.Mode),
			attribute.String("stop_reason", string(res.StopReason)),
		))
	}
}
