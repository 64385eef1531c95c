package otel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/strongdm/devshell"

// metricInterval is how often metrics are exported while a session runs. A
// final export always happens on Shutdown.
const metricInterval = 30 * time.Second

// Config controls OTEL exporter behaviour.
type Config struct {
	ServiceName   string
	EnableMetrics bool
	EnableTraces  bool
	Endpoint      string
	// TraceOutput receives pretty-printed spans; nil means stderr so traces
	// never interleave with the attached container's stdout.
	TraceOutput io.Writer
	// MetricOutput receives exported metrics as JSON; nil means stderr.
	MetricOutput io.Writer
}

// Provider owns OTEL meter/tracer providers and the derived command instruments.
type Provider struct {
	cfg            Config
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	reader         *sdkmetric.ManualReader
	meter          metric.Meter
	tracer         trace.Tracer

	commands     *CommandInstruments
	shutdownOnce sync.Once
}

// Setup initialises the meter and tracer providers following the provided config.
// A config with everything disabled yields a Provider whose instruments are no-ops.
func Setup(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.EnableMetrics && !cfg.EnableTraces {
		return &Provider{cfg: cfg}, nil
	}

	if strings.TrimSpace(cfg.ServiceName) == "" {
		cfg.ServiceName = "devshell"
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			attribute.String("service.name", cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}

	p := &Provider{cfg: cfg}

	if cfg.EnableMetrics {
		p.reader = sdkmetric.NewManualReader()
		mp, err := createMeterProvider(cfg, res, p.reader)
		if err != nil {
			return nil, err
		}
		p.meterProvider = mp
		otel.SetMeterProvider(mp)
		p.meter = mp.Meter(instrumentationName)
	}

	if cfg.EnableTraces {
		tp, err := createTracerProvider(cfg, res)
		if err != nil {
			return nil, err
		}
		p.tracerProvider = tp
		otel.SetTracerProvider(tp)
		p.tracer = tp.Tracer(instrumentationName)
	}

	p.commands = newCommandInstruments(p)
	return p, nil
}

// createMeterProvider exports through stdoutmetric on a periodic reader and
// also registers the manual reader for on-demand snapshots.
func createMeterProvider(cfg Config, res *resource.Resource, manual sdkmetric.Reader) (*sdkmetric.MeterProvider, error) {
	if strings.TrimSpace(cfg.Endpoint) != "" {
		log.Printf("DEVSHELL_OTEL_ENDPOINT=%s ignored: OTLP metric export unsupported; using stdout exporter", cfg.Endpoint)
	}

	out := cfg.MetricOutput
	if out == nil {
		out = os.Stderr
	}
	exp, err := stdoutmetric.New(stdoutmetric.WithWriter(out), stdoutmetric.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("init stdout metric exporter: %w", err)
	}

	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(metricInterval))),
		sdkmetric.WithReader(manual),
		sdkmetric.WithResource(res),
	), nil
}

func createTracerProvider(cfg Config, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	if strings.TrimSpace(cfg.Endpoint) != "" {
		log.Printf("DEVSHELL_OTEL_ENDPOINT=%s ignored: OTLP trace export unsupported; using stdout exporter", cfg.Endpoint)
	}

	out := cfg.TraceOutput
	if out == nil {
		out = os.Stderr
	}
	exp, err := stdouttrace.New(stdouttrace.WithWriter(out), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("init stdout trace exporter: %w", err)
	}

	// Spans are exported synchronously: the process usually ends with os.Exit
	// right after the attach loop, which would drop a batch in flight.
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exp),
		sdktrace.WithResource(res),
	)
	return tp, nil
}

// Shutdown flushes and stops the configured providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var err error
	p.shutdownOnce.Do(func() {
		var errs []error
		if p.meterProvider != nil {
			if shutdownErr := p.meterProvider.Shutdown(ctx); shutdownErr != nil {
				errs = append(errs, shutdownErr)
			}
		}
		if p.tracerProvider != nil {
			if shutdownErr := p.tracerProvider.Shutdown(ctx); shutdownErr != nil {
				errs = append(errs, shutdownErr)
			}
		}
		if len(errs) > 0 {
			err = errors.Join(errs...)
		}
	})
	return err
}

// Commands returns the engine/registry command instruments.
func (p *Provider) Commands() *CommandInstruments {
	if p == nil {
		return nil
	}
	return p.commands
}

// Reader exposes the manual metric reader so callers can collect a snapshot.
// It is nil when metrics are disabled.
func (p *Provider) Reader() *sdkmetric.ManualReader {
	if p == nil {
		return nil
	}
	return p.reader
}

// EnvBool interprets DEVSHELL_* env toggles.
func EnvBool(value string, defaultOn bool) bool {
	value = strings.TrimSpace(strings.ToLower(value))
	switch value {
	case "":
		return defaultOn
	case "1", "true", "on", "enable", "enabled", "yes":
		return true
	case "0", "false", "off", "disable", "disabled", "no":
		return false
	default:
		return defaultOn
	}
}

// LoadConfigFromEnv reads OTEL config from the environment.
func LoadConfigFromEnv() Config {
	return Config{
		ServiceName:   "devshell",
		EnableMetrics: EnvBool(os.Getenv("DEVSHELL_OTEL_METRICS"), false),
		EnableTraces:  EnvBool(os.Getenv("DEVSHELL_OTEL_TRACES"), false),
		Endpoint:      strings.TrimSpace(os.Getenv("DEVSHELL_OTEL_ENDPOINT")),
	}
}
