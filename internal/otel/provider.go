// Package otel builds the OpenTelemetry log pipeline used by the slog bridge.
package otel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ErrNoExporter is returned when OTel is enabled without any destination.
var ErrNoExporter = errors.New("otel enabled but no log writer or endpoint configured")

// Config holds OTel settings.
type Config struct {
	Enabled      bool
	ServiceName  string
	BatchTimeout time.Duration
	LogWriter    io.Writer // receives exported records as JSON
	Endpoint     string    // OTLP/HTTP endpoint, optional
	Insecure     bool
}

// Provider owns the log provider. A disabled Provider is valid and inert.
type Provider struct {
	logProvider *sdklog.LoggerProvider
}

// New builds the exporters selected by cfg.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{}, nil
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	batch := []sdklog.BatchProcessorOption{}
	if cfg.BatchTimeout > 0 {
		batch = append(batch, sdklog.WithExportTimeout(cfg.BatchTimeout))
	}

	opts := []sdklog.LoggerProviderOption{sdklog.WithResource(res)}
	if cfg.LogWriter != nil {
		exp, err := stdoutlog.New(stdoutlog.WithWriter(cfg.LogWriter))
		if err != nil {
			return nil, fmt.Errorf("failed to create writer log exporter: %w", err)
		}
		opts = append(opts, sdklog.WithProcessor(sdklog.NewBatchProcessor(exp, batch...)))
	}
	if cfg.Endpoint != "" {
		httpOpts := []otlploghttp.Option{otlploghttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			httpOpts = append(httpOpts, otlploghttp.WithInsecure())
		}
		exp, err := otlploghttp.New(ctx, httpOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP log exporter: %w", err)
		}
		opts = append(opts, sdklog.WithProcessor(sdklog.NewBatchProcessor(exp, batch...)))
	}
	if len(opts) == 1 {
		return nil, ErrNoExporter
	}

	return &Provider{logProvider: sdklog.NewLoggerProvider(opts...)}, nil
}

// LoggerProvider returns nil when OTel is disabled.
func (p *Provider) LoggerProvider() *sdklog.LoggerProvider {
	return p.logProvider
}

// Enabled reports whether any exporter is running.
func (p *Provider) Enabled() bool {
	return p.logProvider != nil
}

// Shutdown flushes and stops the exporters.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.logProvider == nil {
		return nil
	}
	if err := p.logProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("log shutdown failed: %w", err)
	}
	return nil
}
