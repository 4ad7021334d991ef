// Package telemetry wires OpenTelemetry trace and log export over OTLP/HTTP.
package telemetry

import (
	"context"
	"net/url"
	"time"

	"github.com/agentuity/readaside/logger"
	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName names the tracer used for every span in the service.
const InstrumentationName = "github.com/agentuity/readaside"

type ShutdownFunc func()

// New configures OTLP/HTTP exporters for traces and logs against
// endpoint, installs the tracer provider and W3C propagator globally, and
// returns a logger that writes to both the collector and consoleLogger (when
// not nil). The ShutdownFunc flushes both pipelines.
func New(ctx context.Context, serviceName string, endpoint string, authToken string, consoleLogger logger.Logger) (context.Context, logger.Logger, ShutdownFunc, error) {
	oltpURL, err := url.Parse(endpoint)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "error parsing oltpServerURL")
	}
	if oltpURL.Scheme == "" || oltpURL.Host == "" {
		return nil, nil, nil, errors.Newf("error parsing oltpServerURL: %q is not an absolute url", endpoint)
	}
	insecure := oltpURL.Scheme == "http"
	oltpURL.Path = "/v1/logs"
	logURL := oltpURL.String()
	oltpURL.Path = "/v1/traces"
	traceURL := oltpURL.String()

	res, err := resource.New(
		ctx,
		resource.WithFromEnv(),      // OTEL_RESOURCE_ATTRIBUTES and OTEL_SERVICE_NAME
		resource.WithTelemetrySDK(), // sdk name and version
		resource.WithProcess(),
		resource.WithOS(),
		resource.WithHost(),
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if errors.Is(err, resource.ErrPartialResource) || errors.Is(err, resource.ErrSchemaURLConflict) {
		if consoleLogger != nil {
			consoleLogger.Warn("telemetry resource: %s", err)
		}
	} else if err != nil {
		return nil, nil, nil, errors.Wrap(err, "error creating resource")
	}

	headers := make(map[string]string)
	if authToken != "" {
		headers["Authorization"] = "Bearer " + authToken
	}

	logExporterOpts := []otlploghttp.Option{
		otlploghttp.WithEndpointURL(logURL),
		otlploghttp.WithHeaders(headers),
		otlploghttp.WithTimeout(time.Second * 10),
		otlploghttp.WithCompression(otlploghttp.GzipCompression),
	}
	traceExporterOpts := []otlptracehttp.Option{
		otlptracehttp.WithEndpointURL(traceURL),
		otlptracehttp.WithHeaders(headers),
		otlptracehttp.WithTimeout(time.Second * 10),
		otlptracehttp.WithCompression(otlptracehttp.GzipCompression),
	}
	if insecure {
		logExporterOpts = append(logExporterOpts, otlploghttp.WithInsecure())
		traceExporterOpts = append(traceExporterOpts, otlptracehttp.WithInsecure())
	}

	logExporter, err := otlploghttp.New(ctx, logExporterOpts...)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "error creating log exporter")
	}
	traceExporter, err := otlptracehttp.New(ctx, traceExporterOpts...)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "error creating trace exporter")
	}

	logProvider := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)),
	)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(traceExporter),
	)
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	otelLogger := logger.NewOtelLogger(logProvider.Logger(serviceName), logger.LevelDebug)
	log := otelLogger
	if consoleLogger != nil {
		log = consoleLogger.Stack(otelLogger)
	}

	return ctx, log, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		if err := traceProvider.Shutdown(ctx); err != nil && consoleLogger != nil {
			consoleLogger.Warn("error shutting down trace provider: %s", err)
		}
		if err := logProvider.Shutdown(ctx); err != nil && consoleLogger != nil {
			consoleLogger.Warn("error shutting down log provider: %s", err)
		}
	}, nil
}

// Tracer returns the service tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}

// StartSpan starts a span and returns a logger bound to the new span context.
func StartSpan(ctx context.Context, log logger.Logger, tracer trace.Tracer, spanName string, attrs ...attribute.KeyValue) (context.Context, logger.Logger, trace.Span) {
	ctx, span := tracer.Start(ctx, spanName, trace.WithAttributes(attrs...))
	return ctx, log.WithContext(ctx), span
}
