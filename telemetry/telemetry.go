// Package telemetry initializes process-wide observability: the slog
// handler for operator output and the OpenTelemetry providers for metrics
// and traces.
package telemetry

import (
	"context"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const otelCollectorEndpoint = "localhost:4317"

var (
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider

	traceRatio = 0.05
)

// InitLogging installs a tint slog handler as the process default. Colors
// are disabled automatically when stderr is not a terminal.
func InitLogging(level slog.Level) {
	w := os.Stderr

	slog.SetDefault(slog.New(tint.NewHandler(
		colorable.NewColorable(w),
		&tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
			NoColor:    !isatty.IsTerminal(w.Fd()),
		},
	)))
}

// isCollectorReachable checks if the OTLP collector port is reachable.
func isCollectorReachable(endpoint string) bool {
	conn, err := net.DialTimeout("tcp", endpoint, 2*time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Init initializes the OpenTelemetry providers. When the collector is not
// reachable it logs a warning and leaves the no-op globals in place.
func Init(ctx context.Context, serviceName string) {
	if !isCollectorReachable(otelCollectorEndpoint) {
		slog.Warn("OpenTelemetry collector is not reachable, metrics stay local",
			slog.String("endpoint", otelCollectorEndpoint))
		return
	}

	grpcTransport := grpc.WithTransportCredentials(insecure.NewCredentials())
	grpcConn, err := grpc.NewClient(otelCollectorEndpoint, grpcTransport)
	if err != nil {
		panic(err)
	}

	res := newResource(serviceName)

	traceExporter := newTraceExporter(ctx, grpcConn)
	tracerProvider = newTraceProvider(res, traceExporter)
	otel.SetTracerProvider(tracerProvider)

	otel.SetTextMapPropagator(propagation.TraceContext{})

	meterExporter := newMeterExporter(ctx, grpcConn)
	meterProvider = newMeterProvider(res, meterExporter)
	otel.SetMeterProvider(meterProvider)

	if err := runtime.Start(runtime.WithMinimumReadMemStatsInterval(time.Second)); err != nil {
		panic(err)
	}
}

// Close shuts down the OpenTelemetry providers. Safe to call when Init was
// skipped or bailed out.
func Close() {
	ctx := context.Background()

	if tracerProvider != nil {
		if err := tracerProvider.Shutdown(ctx); err != nil {
			slog.Error("tracer provider shutdown", slog.Any("error", err))
		}
	}

	if meterProvider != nil {
		if err := meterProvider.Shutdown(ctx); err != nil {
			slog.Error("meter provider shutdown", slog.Any("error", err))
		}
	}
}

// SetTraceRatio sets the sampling ratio used by the next Init.
func SetTraceRatio(ratio float64) {
	traceRatio = ratio
}

func newResource(serviceName string) *resource.Resource {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion("0.1.0"),
		),
	)
	if err != nil {
		panic(err)
	}

	return res
}

func newTraceExporter(ctx context.Context, conn *grpc.ClientConn) *otlptrace.Exporter {
	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		panic(err)
	}
	return exporter
}

func newTraceProvider(res *resource.Resource, exporter sdktrace.SpanExporter) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(traceRatio)),
	)
}

func newMeterExporter(ctx context.Context, conn *grpc.ClientConn) *otlpmetricgrpc.Exporter {
	exporter, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithGRPCConn(conn))
	if err != nil {
		panic(err)
	}
	return exporter
}

func newMeterProvider(res *resource.Resource, exporter sdkmetric.Exporter) *sdkmetric.MeterProvider {
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(time.Second)),
		),
	)
}
