package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/bankcore/internal/config"
)

// NewRouter wires the HTTP surface: account and transaction endpoints plus
// health and metrics.
func NewRouter(cfg config.Config, h *Handler, registry *prometheus.Registry, log *zap.Logger) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(requestLogger(log.Named("http")), gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	v1 := r.Group("/v1")
	{
		accounts := v1.Group("/accounts")
		accounts.POST("", h.OpenAccount)
		accounts.GET("/:id", h.GetAccount)
		accounts.GET("/:id/balance", h.GetBalance)
		accounts.GET("/:id/history", h.GetHistory)
		accounts.POST("/:id/deposit", h.Deposit)
		accounts.POST("/:id/withdraw", h.Withdraw)
		accounts.POST("/:id/freeze", h.Freeze)
		accounts.POST("/:id/unfreeze", h.Unfreeze)
		accounts.POST("/:id/close", h.CloseAccount)

		v1.POST("/transfers", h.Transfer)
		v1.GET("/transactions/:key", h.GetTransactionStatus)
	}
	return r
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// RunHTTP starts the HTTP server under the fx lifecycle.
func RunHTTP(lc fx.Lifecycle, cfg config.Config, router *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: router,
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

var Module = fx.Module("server",
	fx.Provide(
		NewHandler,
		NewRouter,
	),
	fx.Invoke(RunHTTP),
)
