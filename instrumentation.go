package realtime

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/codewandler/realtime-go"

type instruments struct {
	tracer    trace.Tracer
	toolCalls metric.Int64Counter
	dropped   metric.Int64Counter
}

func newInstruments(tp trace.TracerProvider) instruments {
	meter := otel.Meter(scopeName)
	toolCalls, err := meter.Int64Counter("realtime.tool.calls",
		metric.WithDescription("Tool calls executed, by tool and outcome."))
	if err != nil {
		toolCalls = noop.Int64Counter{}
	}
	dropped, err := meter.Int64Counter("realtime.audio.output.dropped",
		metric.WithDescription("Assistant audio bytes dropped because the output buffer was full."),
		metric.WithUnit("By"))
	if err != nil {
		dropped = noop.Int64Counter{}
	}
	return instruments{
		tracer:    tp.Tracer(scopeName),
		toolCalls: toolCalls,
		dropped:   dropped,
	}
}
