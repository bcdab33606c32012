// Package telemetry gives each component a handle bundling structured
// logging and metric registration, so call sites never touch the global
// providers directly.
package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/FerroO2000/nanostage"

// Telemetry is the per-component logging and metrics handle.
type Telemetry struct {
	logger *slog.Logger
	meter  metric.Meter
	attrs  metric.MeasurementOption
}

// New returns a telemetry handle for the component identified by kind
// (e.g. "egress") and name (e.g. "file").
func New(kind, name string) *Telemetry {
	return &Telemetry{
		logger: slog.Default().With(
			slog.String("kind", kind),
			slog.String("name", name),
		),
		meter: otel.Meter(scopeName + "/" + kind),
		attrs: metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("name", name),
		),
	}
}

// NewCounter registers an observable counter whose value is pulled from
// getter at collection time. The getter must be safe to call from the
// exporter goroutine.
func (t *Telemetry) NewCounter(name string, getter func() int64) {
	counter, err := t.meter.Int64ObservableCounter(name)
	if err != nil {
		t.LogError(err, "cannot create counter", slog.String("counter", name))
		return
	}

	_, err = t.meter.RegisterCallback(
		func(_ context.Context, o metric.Observer) error {
			o.ObserveInt64(counter, getter(), t.attrs)
			return nil
		},
		counter,
	)
	if err != nil {
		t.LogError(err, "cannot register counter callback", slog.String("counter", name))
	}
}

// LogInfo logs at info level with the component attributes attached.
func (t *Telemetry) LogInfo(msg string, args ...any) {
	t.logger.Info(msg, args...)
}

// LogWarn logs at warn level with the component attributes attached.
func (t *Telemetry) LogWarn(msg string, args ...any) {
	t.logger.Warn(msg, args...)
}

// LogError logs err at error level with the component attributes attached.
func (t *Telemetry) LogError(err error, msg string, args ...any) {
	t.logger.Error(msg, append(args, slog.Any("error", err))...)
}
