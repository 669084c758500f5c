// Package app wires every component from configuration and runs the HTTP
// server.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/yungbote/persona-council/internal/config"
	"github.com/yungbote/persona-council/internal/council"
	httpapi "github.com/yungbote/persona-council/internal/http"
	"github.com/yungbote/persona-council/internal/ledger"
	"github.com/yungbote/persona-council/internal/llm"
	"github.com/yungbote/persona-council/internal/observability"
	"github.com/yungbote/persona-council/internal/platform/logger"
	"github.com/yungbote/persona-council/internal/store"
)

type App struct {
	Log     *logger.Logger
	Cfg     *config.Config
	Store   store.TransactionalStore
	Ledger  *ledger.Ledger
	Council *council.Service
	Metrics *observability.Metrics
	Server  *httpapi.Server

	registry     *prometheus.Registry
	closeStore   func() error
	shutdownOTel observability.ShutdownFunc
}

// New builds the application. Nothing listens until Run.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}
	a := &App{Log: log, Cfg: cfg}

	if cfg.Observability.MetricsEnabled {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		a.Metrics = observability.MustNewMetrics(a.registry)
	}
	a.shutdownOTel = observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: cfg.Observability.ServiceName,
		Environment: cfg.Env,
		Version:     cfg.Observability.Version,
	})

	st, closeStore, err := openStore(ctx, cfg.Store, log, storeHooks(a.Metrics))
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("init store: %w", err)
	}
	a.Store, a.closeStore = st, closeStore

	if cfg.Council.TokenizerWarmup > 0 {
		warmCtx, cancel := context.WithTimeout(ctx, cfg.Council.TokenizerWarmup)
		if !llm.WarmTokenizer(warmCtx) {
			log.Warn("tokenizer not ready, estimating token counts until it loads", "waited", cfg.Council.TokenizerWarmup)
		}
		cancel()
	}

	svc, err := wireServices(cfg, st, a.Metrics, log)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.Ledger, a.Council = svc.Ledger, svc.Council
	a.Server = wireServer(cfg, svc, st, a.Metrics, a.registry, log)

	log.Info("app initialized",
		"env", cfg.Env,
		"store", cfg.Store.Backend,
		"models", len(cfg.Models),
		"metrics", cfg.Observability.MetricsEnabled,
	)
	return a, nil
}

// Router exposes the gin engine, mainly for tests.
func (a *App) Router() *gin.Engine {
	if a == nil || a.Server == nil {
		return nil
	}
	return a.Server.Engine
}

// Run serves HTTP until ctx is canceled.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	return a.Server.Run(ctx)
}

func (a *App) Close(ctx context.Context) {
	if a == nil {
		return
	}
	if a.closeStore != nil {
		if err := a.closeStore(); err != nil {
			a.Log.Warn("store close failed", "error", err)
		}
		a.closeStore = nil
	}
	if a.shutdownOTel != nil {
		if err := a.shutdownOTel(ctx); err != nil {
			a.Log.Warn("otel shutdown failed", "error", err)
		}
		a.shutdownOTel = nil
	}
	a.Log.Sync()
}

func storeHooks(m *observability.Metrics) store.Hooks {
	if m == nil {
		return store.NoopHooks()
	}
	return m
}
