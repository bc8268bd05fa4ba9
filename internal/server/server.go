package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	auditdomain "github.com/smallbiznis/featuregate/internal/audit/domain"
	"github.com/smallbiznis/featuregate/internal/authorization"
	"github.com/smallbiznis/featuregate/internal/config"
	featuredomain "github.com/smallbiznis/featuregate/internal/feature/domain"
	"github.com/smallbiznis/featuregate/internal/observability"
	obslogger "github.com/smallbiznis/featuregate/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/featuregate/internal/observability/metrics"
	obstracing "github.com/smallbiznis/featuregate/internal/observability/tracing"
	quotadomain "github.com/smallbiznis/featuregate/internal/quota/domain"
	"github.com/smallbiznis/featuregate/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(RunHTTP),
)

func NewEngine(obsCfg observability.Config, log *zap.Logger) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(log.Named("http"), obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func RunHTTP(lc fx.Lifecycle, cfg config.Config, s *Server, log *zap.Logger) {
	addr := strings.TrimSpace(cfg.HTTPAddr)
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	log        *zap.Logger
	quotaSvc   quotadomain.Service
	featureSvc featuredomain.Service
	authzSvc   authorization.Service
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
	useLimiter *ratelimit.UseLimiter
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	Log        *zap.Logger
	QuotaSvc   quotadomain.Service
	FeatureSvc featuredomain.Service
	AuthzSvc   authorization.Service
	AuditSvc   auditdomain.Service   `optional:"true"`
	ObsMetrics *obsmetrics.Metrics   `optional:"true"`
	UseLimiter *ratelimit.UseLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		log:        p.Log.Named("http.server"),
		quotaSvc:   p.QuotaSvc,
		featureSvc: p.FeatureSvc,
		authzSvc:   p.AuthzSvc,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
		useLimiter: p.UseLimiter,
	}

	svc.registerAPIRoutes()
	svc.registerAdminRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")
	api.Use(s.UserRequired())

	api.GET("/usage", s.ListUsage)
	api.GET("/usage/:feature_key", s.GetUsage)
	api.POST("/usage/:feature_key/use", s.UseRateLimit(), s.UseFeature)
	api.GET("/usage/:feature_key/events", s.ListUsageEvents)
	api.GET("/usage/:feature_key/attempts/:attempt_id", s.GetAttempt)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin")
	admin.Use(s.UserRequired())

	// -------- Features --------
	admin.GET("/features", s.authorizeAction(authorization.ObjectFeature, authorization.ActionFeatureView), s.ListFeatures)
	admin.POST("/features", s.authorizeAction(authorization.ObjectFeature, authorization.ActionFeatureCreate), s.CreateFeature)
	admin.GET("/features/:feature_key", s.authorizeAction(authorization.ObjectFeature, authorization.ActionFeatureView), s.GetFeature)
	admin.PATCH("/features/:feature_key", s.authorizeAction(authorization.ObjectFeature, authorization.ActionFeatureUpdate), s.UpdateFeature)
	admin.POST("/features/:feature_key/archive", s.authorizeAction(authorization.ObjectFeature, authorization.ActionFeatureArchive), s.ArchiveFeature)

	// -------- Overrides --------
	admin.GET("/features/:feature_key/overrides", s.authorizeAction(authorization.ObjectOverride, authorization.ActionOverrideView), s.ListOverrides)
	admin.PUT("/features/:feature_key/overrides/:user_id", s.authorizeAction(authorization.ObjectOverride, authorization.ActionOverrideManage), s.SetOverride)
	admin.DELETE("/features/:feature_key/overrides/:user_id", s.authorizeAction(authorization.ObjectOverride, authorization.ActionOverrideManage), s.DeleteOverride)

	// -------- Audit --------
	admin.GET("/audit-logs", s.authorizeAction(authorization.ObjectAuditLog, authorization.ActionAuditView), s.ListAuditLogs)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
