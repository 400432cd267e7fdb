package observer

import (
	"context"
	"time"

	"github.com/emberhq/ember"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oasislog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedTool wraps an ember.Tool with OTEL instrumentation. It implements
// VisibilityTool by delegating when the inner tool does, so wrapping never
// changes a tool's catalogue visibility.
type ObservedTool struct {
	inner ember.Tool
	inst  *Instruments
}

// WrapTool returns an instrumented tool.
func WrapTool(inner ember.Tool, inst *Instruments) *ObservedTool {
	return &ObservedTool{inner: inner, inst: inst}
}

func (o *ObservedTool) Name() string                       { return o.inner.Name() }
func (o *ObservedTool) Description() ember.ToolDescription { return o.inner.Description() }

func (o *ObservedTool) VisibleToModel() bool {
	if v, ok := o.inner.(ember.VisibilityTool); ok {
		return v.VisibleToModel()
	}
	return true
}

func (o *ObservedTool) VisibleToHuman() bool {
	if v, ok := o.inner.(ember.VisibilityTool); ok {
		return v.VisibleToHuman()
	}
	return true
}

func (o *ObservedTool) Call(ctx context.Context, args string) ([]ember.Content, error) {
	name := o.inner.Name()
	ctx, span := o.inst.Tracer.Start(ctx, "tool.call", trace.WithAttributes(
		AttrToolName.String(name),
	))
	defer span.End()
	start := time.Now()

	content, err := o.inner.Call(ctx, args)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		AttrToolStatus.String(status),
		AttrToolResultParts.Int(len(content)),
	)

	o.inst.ToolExecutions.Add(ctx, 1, metric.WithAttributes(
		AttrToolName.String(name),
		attribute.String("status", status),
	))
	o.inst.ToolDuration.Record(ctx, durationMs, metric.WithAttributes(
		AttrToolName.String(name),
	))

	var rec oasislog.Record
	rec.SetSeverity(oasislog.SeverityInfo)
	rec.SetBody(oasislog.StringValue("tool executed"))
	rec.AddAttributes(
		oasislog.String("tool.name", name),
		oasislog.String("tool.status", status),
		oasislog.Int("tool.result_parts", len(content)),
		oasislog.Float64("tool.duration_ms", durationMs),
	)
	o.inst.Logger.Emit(ctx, rec)

	return content, err
}

var (
	_ ember.Tool           = (*ObservedTool)(nil)
	_ ember.VisibilityTool = (*ObservedTool)(nil)
)
