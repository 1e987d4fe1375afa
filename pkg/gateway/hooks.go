package gateway

import (
	"context"
	"log/slog"

	"github.com/zoobzio/capitan"
)

// Signals emitted around every upstream call.
const (
	RequestStarted   = capitan.Signal("generate.request.started")
	RequestCompleted = capitan.Signal("generate.request.completed")
	RequestFailed    = capitan.Signal("generate.request.failed")
)

// Keys for signal fields.
var (
	RequestIDKey   = capitan.NewStringKey("generate.request.id")
	RouteKey       = capitan.NewStringKey("generate.route")
	ProviderKey    = capitan.NewStringKey("generate.provider")
	ModelKey       = capitan.NewStringKey("generate.model")
	ModeKey        = capitan.NewStringKey("generate.mode")
	TemperatureKey = capitan.NewFloat64Key("generate.temperature")

	StageKey      = capitan.NewStringKey("generate.stage")
	ErrorKey      = capitan.NewStringKey("generate.error")
	StatusCodeKey = capitan.NewIntKey("generate.status.code")

	OutputLengthKey = capitan.NewIntKey("generate.output.length")
	DurationMsKey   = capitan.NewIntKey("generate.duration.ms")
)

// ObserveSignals logs completed requests through logger. The returned func
// detaches the listener.
func ObserveSignals(logger *slog.Logger) func() {
	listener := capitan.Hook(RequestCompleted, func(_ context.Context, e *capitan.Event) {
		id, _ := RequestIDKey.From(e)
		route, _ := RouteKey.From(e)
		mode, _ := ModeKey.From(e)
		duration, _ := DurationMsKey.From(e)
		logger.Info("generate_request_completed",
			"request_id", id,
			"route", route,
			"mode", mode,
			"duration_ms", duration,
		)
	})
	return func() { listener.Close() }
}
