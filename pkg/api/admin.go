package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/gokaycavdar/go-riskguard/pkg/orchestrator"
	"github.com/gokaycavdar/go-riskguard/pkg/storage"
)

// AdminHandler serves the operator endpoints: the device and IP blocklist
// and the evaluation switch. Every route requires one of the configured API
// keys.
type AdminHandler struct {
	orch      *orchestrator.Orchestrator
	blocklist storage.Blocklist
	keys      []string
	logger    zerolog.Logger
}

// NewAdminHandler creates the handler. It returns nil when no key is
// configured, which leaves the admin routes unmounted.
func NewAdminHandler(orch *orchestrator.Orchestrator, blocklist storage.Blocklist, keys []string, logger zerolog.Logger) *AdminHandler {
	var valid []string
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			valid = append(valid, k)
		}
	}
	if len(valid) == 0 {
		return nil
	}
	return &AdminHandler{
		orch:      orch,
		blocklist: blocklist,
		keys:      valid,
		logger:    logger.With().Str("component", "admin").Logger(),
	}
}

// RegisterRoutes mounts the admin routes on r.
func (a *AdminHandler) RegisterRoutes(r *gin.RouterGroup) {
	g := r.Group("/antifraude/admin", a.requireAPIKey())
	g.PUT("/estado", a.SetEnabled)
	if a.blocklist != nil {
		g.GET("/bloqueios", a.ListBlocks)
		g.POST("/bloqueios", a.Block)
		g.DELETE("/bloqueios/:tipo/:valor", a.Unblock)
	}
}

func (a *AdminHandler) validKey(key string) bool {
	for _, k := range a.keys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(k)) == 1 {
			return true
		}
	}
	return false
}

// requireAPIKey accepts "Authorization: Bearer <key>" or "X-API-Key: <key>".
func (a *AdminHandler) requireAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if key == "" {
			key = c.GetHeader("X-API-Key")
		}
		if key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "provide Authorization: Bearer <key> or X-API-Key",
			})
			return
		}
		if !a.validKey(key) {
			a.logger.Warn().Str("path", c.FullPath()).Str("ip", c.ClientIP()).Msg("invalid API key")
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "invalid API key"})
			return
		}
		c.Next()
	}
}

type toggleRequest struct {
	Enabled *bool `json:"habilitado"`
}

// SetEnabled switches evaluation on or off until the next restart.
func (a *AdminHandler) SetEnabled(c *gin.Context) {
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "habilitado (bool) is required"})
		return
	}
	a.orch.SetEnabled(*req.Enabled)
	c.JSON(http.StatusOK, gin.H{"success": true, "habilitado": a.orch.Enabled()})
}

type blockRequest struct {
	Kind   string `json:"tipo"`
	Value  string `json:"valor"`
	Reason string `json:"motivo"`
}

// Block adds a device hash or IP address to the blocklist.
func (a *AdminHandler) Block(c *gin.Context) {
	var req blockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	kind, err := storage.ParseBlockKind(req.Kind)
	if err != nil {
		a.blockError(c, err)
		return
	}
	entry := storage.BlockEntry{Kind: kind, Value: req.Value, Reason: req.Reason}
	if err := a.blocklist.Block(c.Request.Context(), entry); err != nil {
		a.blockError(c, err)
		return
	}
	a.logger.Info().Str("kind", string(kind)).Str("value", req.Value).Str("reason", req.Reason).Msg("blocked")
	c.JSON(http.StatusCreated, gin.H{"success": true})
}

// Unblock removes an entry. Unknown entries answer 404.
func (a *AdminHandler) Unblock(c *gin.Context) {
	kind, err := storage.ParseBlockKind(c.Param("tipo"))
	if err != nil {
		a.blockError(c, err)
		return
	}
	removed, err := a.blocklist.Unblock(c.Request.Context(), kind, c.Param("valor"))
	if err != nil {
		a.blockError(c, err)
		return
	}
	if !removed {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "entry is not blocked"})
		return
	}
	a.logger.Info().Str("kind", string(kind)).Str("value", c.Param("valor")).Msg("unblocked")
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ListBlocks lists the entries of the kind given by ?tipo=.
func (a *AdminHandler) ListBlocks(c *gin.Context) {
	kind, err := storage.ParseBlockKind(c.Query("tipo"))
	if err != nil {
		a.blockError(c, err)
		return
	}
	entries, err := a.blocklist.List(c.Request.Context(), kind)
	if err != nil {
		a.blockError(c, err)
		return
	}
	if entries == nil {
		entries = []storage.BlockEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": entries})
}

func (a *AdminHandler) blockError(c *gin.Context, err error) {
	if errors.Is(err, storage.ErrInvalidBlock) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	a.logger.Error().Err(err).Msg("blocklist operation failed")
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "unavailable", "message": "blocklist unavailable"})
}
