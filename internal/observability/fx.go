package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/smallbiznis/bankcore/internal/config"
	"github.com/smallbiznis/bankcore/internal/observability/metrics"
	"github.com/smallbiznis/bankcore/internal/observability/tracing"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
)

var Module = fx.Module("observability",
	fx.Provide(
		NewRegistry,
		provideRegisterer,
		metrics.New,
		provideTracingConfig,
		tracing.NewProvider,
	),
	fx.Invoke(ensureTracerProvider),
)

func ensureTracerProvider(_ trace.TracerProvider) {}

func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func provideRegisterer(reg *prometheus.Registry) prometheus.Registerer {
	return reg
}

func provideTracingConfig(cfg config.Config) tracing.Config {
	return tracing.Config{
		Enabled:          cfg.OtelEnabled,
		ServiceName:      cfg.AppName,
		ServiceVersion:   cfg.AppVersion,
		Environment:      cfg.Environment,
		ExporterEndpoint: cfg.OtelExporterEndpoint,
		ExporterProtocol: cfg.OtelExporterProtocol,
	}
}
