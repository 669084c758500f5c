package app

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/yungbote/persona-council/internal/config"
	httpapi "github.com/yungbote/persona-council/internal/http"
	"github.com/yungbote/persona-council/internal/http/handlers"
	httpMW "github.com/yungbote/persona-council/internal/http/middleware"
	"github.com/yungbote/persona-council/internal/observability"
	"github.com/yungbote/persona-council/internal/platform/logger"
	"github.com/yungbote/persona-council/internal/store"
)

func wireServer(cfg *config.Config, svc Services, st store.TransactionalStore, m *observability.Metrics, reg *prometheus.Registry, log *logger.Logger) *httpapi.Server {
	routes := httpapi.RouterConfig{
		Log:             log,
		ServiceName:     cfg.Observability.ServiceName,
		CORSOrigins:     cfg.HTTP.CORSOrigins,
		MaxBodyBytes:    cfg.HTTP.MaxRequestBytes,
		AuthMiddleware:  httpMW.NewAuthMiddleware(log, cfg.HTTP.JWTSecret, cfg.HTTP.InternalToken),
		Metrics:         m,
		HealthHandler:   handlers.NewHealthHandler(st),
		DialogueHandler: handlers.NewDialogueHandler(svc.Council),
		ProfileHandler:  handlers.NewProfileHandler(svc.Council),
		UsageHandler:    handlers.NewUsageHandler(svc.Ledger),
	}
	if reg != nil {
		routes.Gatherer = reg
	}
	return httpapi.NewServer(httpapi.ServerConfig{
		Addr:              cfg.HTTP.Addr,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
		ShutdownTimeout:   cfg.HTTP.ShutdownTimeout,
	}, routes)
}
