package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/vk/pkgplan/internal/ctxlog"
	"github.com/vk/pkgplan/internal/metrics"
	"github.com/vk/pkgplan/internal/registry"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW       io.Writer
	logger     *slog.Logger
	config     *Config
	registry   *registry.Registry
	metrics    *metrics.Collectors
	httpServer *http.Server
}

// NewApp is the constructor for the main application. It returns an App
// with its own isolated logger, registry and metrics. When no modules are
// given the core modules are registered.
func NewApp(outW io.Writer, cfg *Config, modules ...registry.Module) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	logger.Debug("Logger configured successfully.")

	if len(modules) == 0 {
		modules = coreModules
	}
	ctx := ctxlog.WithLogger(context.Background(), logger)
	reg := registry.NewWithModules(modules...)
	ctxlog.FromContext(ctx).Debug("All Go modules registered.", "count", len(modules), "hooks", reg.Names())

	return &App{
		outW:     outW,
		logger:   logger,
		config:   cfg,
		registry: reg,
		metrics:  metrics.New(),
	}
}

// Registry returns the application's registry. This is primarily for testing.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// Metrics returns the application's collectors.
func (a *App) Metrics() *metrics.Collectors {
	return a.metrics
}
