package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/gokaycavdar/go-riskguard/pkg/metrics"
)

// NewRouter builds the gin engine with health, metrics and API routes.
// admin may be nil.
func NewRouter(h *Handler, admin *AdminHandler, trustedProxies []string, logger zerolog.Logger) (*gin.Engine, error) {
	r := gin.New()
	if err := r.SetTrustedProxies(trustedProxies); err != nil {
		return nil, err
	}
	r.Use(gin.Recovery(), metrics.Middleware(), accessLog(logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "antifraude": h.orch.Enabled()})
	})
	r.GET("/metrics", metrics.Handler())

	g := r.Group("/api")
	h.RegisterRoutes(g)
	if admin != nil {
		admin.RegisterRoutes(g)
	}
	return r, nil
}

func accessLog(logger zerolog.Logger) gin.HandlerFunc {
	log := logger.With().Str("component", "http").Logger()
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		e := log.Debug()
		if status >= http.StatusInternalServerError {
			e = log.Error()
		}
		e.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}
