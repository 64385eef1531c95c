package otel

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Command kinds recorded by CommandInstruments.
const (
	KindEngine   = "engine"
	KindRegistry = "registry"
)

// CommandInstruments publishes metrics and traces for engine subcommands and
// registry requests.
type CommandInstruments struct {
	meterEnabled bool
	traceEnabled bool

	counterCommands metric.Int64Counter
	counterErrors   metric.Int64Counter
	histDuration    metric.Int64Histogram

	tracer trace.Tracer
}

// CommandInfo describes a single engine or registry operation.
type CommandInfo struct {
	Kind      string
	Operation string
	Target    string
}

// CommandHandle tracks an in-flight operation between Start and Finish.
type CommandHandle struct {
	ctx   context.Context
	span  trace.Span
	start time.Time
	attrs []attribute.KeyValue
}

func newCommandInstruments(p *Provider) *CommandInstruments {
	if p == nil {
		return nil
	}

	inst := &CommandInstruments{
		meterEnabled: p.meterProvider != nil,
		traceEnabled: p.tracerProvider != nil,
	}
	if p.meterProvider != nil {
		inst.counterCommands, _ = p.meter.Int64Counter(
			"devshell.commands_total",
			metric.WithDescription("Number of engine commands and registry requests issued"),
		)
		inst.counterErrors, _ = p.meter.Int64Counter(
			"devshell.errors_total",
			metric.WithDescription("Number of engine commands and registry requests that failed"),
		)
		inst.histDuration, _ = p.meter.Int64Histogram(
			"devshell.command.duration",
			metric.WithDescription("Duration of engine commands and registry requests in milliseconds"),
		)
	}
	if p.tracerProvider != nil {
		inst.tracer = p.tracer
	}
	return inst
}

// Start returns a handle and a context carrying the active span when tracing is enabled.
func (i *CommandInstruments) Start(parent context.Context, info CommandInfo) (*CommandHandle, context.Context) {
	if i == nil {
		return nil, parent
	}

	h := &CommandHandle{
		ctx:   parent,
		start: time.Now(),
		attrs: buildAttributes(info),
	}

	if i.traceEnabled && i.tracer != nil {
		ctx, span := i.tracer.Start(parent, spanNameFor(info), trace.WithAttributes(h.attrs...))
		h.ctx = ctx
		h.span = span
	}
	return h, h.ctx
}

// Finish records metrics and closes the span. A nil err marks success.
func (i *CommandInstruments) Finish(h *CommandHandle, err error) {
	if i == nil || h == nil {
		return
	}
	elapsed := time.Since(h.start)
	attrs := append([]attribute.KeyValue{}, h.attrs...)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	attrs = append(attrs, attribute.String("outcome", outcome))

	if i.meterEnabled {
		i.counterCommands.Add(h.ctx, 1, metric.WithAttributes(attrs...))
		if err != nil {
			i.counterErrors.Add(h.ctx, 1, metric.WithAttributes(attrs...))
		}
		i.histDuration.Record(h.ctx, elapsed.Milliseconds(), metric.WithAttributes(attrs...))
	}

	if h.span != nil {
		h.span.SetAttributes(attrs...)
		if err != nil {
			h.span.SetStatus(codes.Error, err.Error())
		}
		h.span.End()
	}
}

func buildAttributes(info CommandInfo) []attribute.KeyValue {
	attrs := []attribute.KeyValue{}
	if info.Kind != "" {
		attrs = append(attrs, attribute.String("devshell.kind", info.Kind))
	}
	if info.Operation != "" {
		attrs = append(attrs, attribute.String("devshell.operation", info.Operation))
	}
	if info.Target != "" {
		attrs = append(attrs, attribute.String("devshell.target", info.Target))
	}
	return attrs
}

func spanNameFor(info CommandInfo) string {
	kind := strings.TrimSpace(info.Kind)
	if kind == "" {
		kind = "command"
	}
	op := strings.TrimSpace(info.Operation)
	if op == "" {
		return kind
	}
	return kind + "." + op
}
