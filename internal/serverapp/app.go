// Package serverapp wires configuration, storage, cache, and the query
// engine into a runnable server with an explicit lifecycle: New, Init,
// Start, WaitForStop, Shutdown.
package serverapp

import (
	"database/sql"
	"fmt"
	"net/http"
	"sync"

	"content-query/internal/cache"
	"content-query/internal/config"
	"content-query/internal/dbexec"
	"content-query/internal/engine"
	"content-query/internal/httpapi"
	"content-query/internal/logging"
	"content-query/internal/observability"
	"content-query/internal/schema"
)

// App owns runtime resources for the content-query server lifecycle.
type App struct {
	cfg    *config.Config
	logger *logging.Logger

	loggerProvider *observability.LoggerProvider

	meterProvider  *observability.MeterProvider
	queryMetrics   *observability.QueryMetrics
	authMetrics    *observability.AuthMetrics
	tracerProvider *observability.TracerProvider

	db         *sql.DB
	dbStatsReg interface{ Unregister() error }

	queryExecutor dbexec.QueryExecutor
	cacheStore    cache.Store
	queryCache    *cache.Cache

	registry *schema.Registry
	engine   *engine.Engine

	apiHandler *httpapi.Handler
	mux        *http.ServeMux
	handler    http.Handler

	serverAddr string
	srv        *http.Server

	cleanup cleanupStack

	stateMu      sync.Mutex
	initialized  bool
	started      bool
	serverErrors chan error

	shutdownOnce sync.Once
}

// New creates an App lifecycle wrapper.
func New(cfg *config.Config, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &App{
		cfg:    cfg,
		logger: logger,
	}, nil
}

// AttachLoggerProvider registers an optional logger provider for shutdown cleanup.
func (a *App) AttachLoggerProvider(provider *observability.LoggerProvider) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.loggerProvider = provider
}

// Engine exposes the assembled query engine; used by tests.
func (a *App) Engine() *engine.Engine {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.engine
}

// Handler exposes the fully wrapped HTTP handler; used by tests.
func (a *App) Handler() http.Handler {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.handler
}
