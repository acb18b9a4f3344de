// Package telemetry wires tracing export and the metrics endpoint into the
// application lifecycle. Both are optional.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// Config selects what the module turns on.
type Config struct {
	// MetricsAddr serves /metrics and /healthz when set.
	MetricsAddr string
	// OTLPEndpoint exports traces over OTLP/HTTP when set, for example
	// "localhost:4318".
	OTLPEndpoint string
	ServiceName  string
	Environment  string
	SampleRatio  float64
}

// Module owns the tracer provider and the metrics server.
type Module struct {
	cfg      Config
	registry *prometheus.Registry
	provider *trace.TracerProvider
	server   *http.Server
	listener net.Listener
	logger   types.Logger
}

var _ mono.Module = (*Module)(nil)
var _ mono.HealthCheckableModule = (*Module)(nil)

// NewModule creates the module. Application collectors register on Registry().
func NewModule(cfg Config, logger types.Logger) *Module {
	if cfg.SampleRatio <= 0 || cfg.SampleRatio > 1 {
		cfg.SampleRatio = 1
	}
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Module{cfg: cfg, registry: registry, logger: logger}
}

func (m *Module) Name() string {
	return "telemetry"
}

// Registry is where application metrics are registered.
func (m *Module) Registry() *prometheus.Registry {
	return m.registry
}

// Addr is the bound metrics address, empty when the server is off.
func (m *Module) Addr() string {
	if m.listener == nil {
		return ""
	}
	return m.listener.Addr().String()
}

// Start installs the tracer provider and starts the metrics server.
func (m *Module) Start(ctx context.Context) error {
	if m.cfg.OTLPEndpoint != "" {
		if err := m.startTracing(ctx); err != nil {
			return err
		}
	}
	if m.cfg.MetricsAddr != "" {
		if err := m.startServer(); err != nil {
			return err
		}
	}
	return nil
}

func (m *Module) startTracing(ctx context.Context) error {
	exp, err := otlptracehttp.New(
		ctx,
		otlptracehttp.WithEndpoint(m.cfg.OTLPEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return fmt.Errorf("otel exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(m.cfg.ServiceName),
			attribute.String("deployment.environment", m.cfg.Environment),
		),
	)
	if err != nil {
		m.logger.Warn("Using default trace resource", "error", err)
		res = resource.Default()
	}

	m.provider = trace.NewTracerProvider(
		trace.WithSampler(trace.ParentBased(trace.TraceIDRatioBased(m.cfg.SampleRatio))),
		trace.WithBatcher(exp),
		trace.WithResource(res),
	)
	otel.SetTracerProvider(m.provider)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}),
	)
	m.logger.Info("Trace export enabled", "endpoint", m.cfg.OTLPEndpoint, "service", m.cfg.ServiceName)
	return nil
}

func (m *Module) startServer() error {
	ln, err := net.Listen("tcp", m.cfg.MetricsAddr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}
	m.listener = ln

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	m.server = &http.Server{
		Handler:           otelhttp.NewHandler(mux, "http.server"),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}
	go func() {
		if err := m.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("Metrics server failed", "error", err)
		}
	}()
	m.logger.Info("Metrics server started", "addr", ln.Addr().String())
	return nil
}

// Stop flushes pending spans and closes the metrics server.
func (m *Module) Stop(ctx context.Context) error {
	var errs []error
	if m.server != nil {
		errs = append(errs, m.server.Shutdown(ctx))
	}
	if m.provider != nil {
		errs = append(errs, m.provider.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// Health reports which parts are on.
func (m *Module) Health(_ context.Context) mono.HealthStatus {
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"metrics_addr": m.Addr(),
			"tracing":      m.provider != nil,
		},
	}
}
