package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/annel0/chunk-streamer/internal/config"
	"github.com/annel0/chunk-streamer/internal/logging"
)

// ShutdownFunc завершает экспорт трейсов
type ShutdownFunc func(context.Context) error

func noopShutdown(context.Context) error { return nil }

// InitTelemetry настраивает OTLP экспортер и устанавливает глобальный TracerProvider.
// При выключенной телеметрии ничего не делает: спаны генерации уходят в no-op провайдер.
// Возвращает функцию shutdown, которую нужно вызвать при завершении приложения.
func InitTelemetry(ctx context.Context, cfg config.TelemetryConfig) (ShutdownFunc, error) {
	if !cfg.Enabled {
		return noopShutdown, nil
	}

	// OTLP HTTP экспортер (по умолчанию localhost:4318)
	var opts []otlptracehttp.Option
	if cfg.Endpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint), otlptracehttp.WithInsecure())
	}
	exp, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)),
	)
	if err != nil {
		return nil, err
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exp),
		trace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	logging.Info("📡 OpenTelemetry инициализирован (service=%s, endpoint=%s)", cfg.ServiceName, endpointOrDefault(cfg.Endpoint))

	shutdown := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return tp.Shutdown(ctx)
	}
	return shutdown, nil
}

func endpointOrDefault(endpoint string) string {
	if endpoint == "" {
		return "localhost:4318"
	}
	return endpoint
}
