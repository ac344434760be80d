package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	cdrdomain "github.com/smallbiznis/voxbill/internal/cdr/domain"
	"github.com/smallbiznis/voxbill/internal/config"
	"github.com/smallbiznis/voxbill/internal/esl"
	"github.com/smallbiznis/voxbill/internal/live"
	"github.com/smallbiznis/voxbill/internal/ratelimit"
	usagedomain "github.com/smallbiznis/voxbill/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) { s.RegisterRoutes() }),
	fx.Invoke(RunHTTP),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(log))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	logger := log.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

type Params struct {
	fx.In

	Config    config.Config
	Engine    *gin.Engine
	Log       *zap.Logger
	CDR       cdrdomain.Service
	Usage     usagedomain.Service
	Hub       *live.Hub
	Connector *esl.Connector
	Limiter   *ratelimit.CDRIntakeLimiter `optional:"true"`
}

type Server struct {
	cfg       config.Config
	engine    *gin.Engine
	log       *zap.Logger
	cdrSvc    cdrdomain.Service
	usageSvc  usagedomain.Service
	hub       *live.Hub
	connector *esl.Connector
	limiter   *ratelimit.CDRIntakeLimiter
}

func NewServer(p Params) *Server {
	return &Server{
		cfg:       p.Config,
		engine:    p.Engine,
		log:       p.Log.Named("server"),
		cdrSvc:    p.CDR,
		usageSvc:  p.Usage,
		hub:       p.Hub,
		connector: p.Connector,
		limiter:   p.Limiter,
	}
}

func (s *Server) RegisterRoutes() {
	v0 := s.engine.Group("/v0")

	cdrs := v0.Group("/cdrs")
	cdrs.POST("", s.processCDR)
	cdrs.POST("/batch", s.processCDRBatch)
	cdrs.GET("/:uuid", s.getCDR)
	cdrs.POST("/:uuid/retry", s.retryCDR)

	subs := v0.Group("/subscriptions")
	subs.GET("/:id/usage", s.getCurrentUsage)
	subs.GET("/:id/usage/history", s.getUsageHistory)

	calls := v0.Group("/calls")
	calls.GET("/active", s.getActiveCalls)
	calls.GET("/live", s.streamLiveCalls)

	v0.GET("/switch/status", s.getSwitchStatus)
}

func RunHTTP(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
