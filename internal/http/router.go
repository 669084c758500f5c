package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/yungbote/persona-council/internal/http/handlers"
	httpMW "github.com/yungbote/persona-council/internal/http/middleware"
	"github.com/yungbote/persona-council/internal/observability"
	"github.com/yungbote/persona-council/internal/platform/logger"
)

type RouterConfig struct {
	Log            *logger.Logger
	ServiceName    string
	CORSOrigins    []string
	MaxBodyBytes   int64
	AuthMiddleware *httpMW.AuthMiddleware
	Metrics        *observability.Metrics
	// Gatherer backs /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer

	HealthHandler   *handlers.HealthHandler
	DialogueHandler *handlers.DialogueHandler
	ProfileHandler  *handlers.ProfileHandler
	UsageHandler    *handlers.UsageHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.CORSOrigins))
	if cfg.MaxBodyBytes > 0 {
		r.Use(limitBody(cfg.MaxBodyBytes))
	}

	if cfg.HealthHandler != nil {
		r.GET("/healthz", cfg.HealthHandler.HealthCheck)
	}
	if cfg.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := r.Group("/v1")
	internal := v1.Group("/internal")
	internal.Use(cfg.AuthMiddleware.RequireInternal())
	{
		internal.POST("/subscription", cfg.UsageHandler.ApplySubscription)
	}

	protected := v1.Group("/")
	protected.Use(cfg.AuthMiddleware.RequireAuth())
	{
		protected.POST("/dialogues", cfg.DialogueHandler.Create)

		protected.PUT("/profile", cfg.ProfileHandler.Put)
		protected.GET("/profile", cfg.ProfileHandler.Get)
		protected.GET("/personality/variants", cfg.ProfileHandler.Variants)

		protected.GET("/usage", cfg.UsageHandler.Get)
		protected.GET("/usage/ad-due", cfg.UsageHandler.AdDue)
		protected.POST("/usage/ad-credit", cfg.UsageHandler.GrantAdCredit)
	}

	return r
}

func limitBody(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}
