// Package api exposes the evaluation endpoint and the audit queries over
// HTTP.
package api

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/gokaycavdar/go-riskguard/pkg/audit"
	"github.com/gokaycavdar/go-riskguard/pkg/models"
	"github.com/gokaycavdar/go-riskguard/pkg/orchestrator"
)

const (
	defaultPageSize = 20
	maxPageSize     = 200
)

// Handler serves /api/antifraude.
type Handler struct {
	orch   *orchestrator.Orchestrator
	reader audit.Reader
	logger zerolog.Logger
	now    func() time.Time
}

// NewHandler creates a handler. reader may be nil, in which case the query
// endpoints answer 503.
func NewHandler(orch *orchestrator.Orchestrator, reader audit.Reader, logger zerolog.Logger) *Handler {
	return &Handler{
		orch:   orch,
		reader: reader,
		logger: logger.With().Str("component", "api").Logger(),
		now:    time.Now,
	}
}

// RegisterRoutes mounts the antifraud routes on r.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	g := r.Group("/antifraude")
	g.POST("/validar", h.Validate)
	g.GET("/historico", h.History)
	g.GET("/estatisticas", h.Statistics)
}

type details struct {
	NewDevice        bool `json:"dispositivoNovo"`
	NewIP            bool `json:"ipNovo"`
	NewLocation      bool `json:"localizacaoNova"`
	ImpossibleTravel bool `json:"velocidadeImpossivel"`
	VPNDetected      bool `json:"vpnDetectado"`
	ProxyDetected    bool `json:"proxyDetectado"`
	Datacenter       bool `json:"datacenterDetectado"`
	BotDetected      bool `json:"botDetectado"`
	DeviceBlocked    bool `json:"dispositivoBloqueado"`
	IPBlocked        bool `json:"ipBloqueado"`
}

// ValidationResponse is the body of a successful POST /validar.
type ValidationResponse struct {
	Success   bool             `json:"success"`
	ID        string           `json:"id"`
	Evaluated bool             `json:"avaliado"`
	Level     models.Level     `json:"risco"`
	Score     float64          `json:"score"`
	Blocked   bool             `json:"bloqueado"`
	Action    models.Action    `json:"acao"`
	Signals   []string         `json:"sinaisAlerta"`
	Details   details          `json:"detalhes"`
	SubScores models.SubScores `json:"subScores"`
}

func newValidationResponse(r *models.RiskResult) ValidationResponse {
	signals := r.Signals
	if signals == nil {
		signals = []string{}
	}
	return ValidationResponse{
		Success:   true,
		ID:        r.ID,
		Evaluated: r.Evaluated,
		Level:     r.Level,
		Score:     r.Score,
		Blocked:   r.Blocked,
		Action:    r.Action,
		Signals:   signals,
		Details: details{
			NewDevice:        r.NewDevice,
			NewIP:            r.NewIP,
			NewLocation:      r.NewLocation,
			ImpossibleTravel: r.ImpossibleTravel,
			VPNDetected:      r.VPNDetected,
			ProxyDetected:    r.ProxyDetected,
			Datacenter:       r.DatacenterDetected,
			BotDetected:      r.BotDetected,
			DeviceBlocked:    r.DeviceBlocked,
			IPBlocked:        r.IPBlocked,
		},
		SubScores: r.SubScores,
	}
}

var requiredFields = []string{"fingerprintHash", "fingerprintData", "tipoEvento"}

// Validate evaluates one event. Only malformed requests fail; every other
// problem is reflected in the decision. While evaluation is switched off
// every request is accepted unread.
func (h *Handler) Validate(c *gin.Context) {
	if !h.orch.Enabled() {
		c.JSON(http.StatusOK, newValidationResponse(h.orch.NotEvaluated()))
		return
	}

	var req models.EvaluationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":    "invalid_request",
			"message":  err.Error(),
			"required": requiredFields,
		})
		return
	}

	ip := orchestrator.ClientIP(c.GetHeader("X-Forwarded-For"), c.GetHeader("X-Real-IP"), c.Request.RemoteAddr)
	result, err := h.orch.Evaluate(c.Request.Context(), &req, ip)
	if err != nil {
		if errors.Is(err, orchestrator.ErrInvalidRequest) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":    "invalid_request",
				"message":  err.Error(),
				"required": requiredFields,
			})
			return
		}
		h.logger.Error().Err(err).Msg("evaluation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "evaluation failed"})
		return
	}

	c.JSON(http.StatusOK, newValidationResponse(result))
}

type historyItem struct {
	ID               string       `json:"id"`
	EventType        string       `json:"tipoEvento"`
	Score            float64      `json:"scoreFinal"`
	Level            models.Level `json:"nivelRisco"`
	Signals          []string     `json:"sinaisAlerta"`
	IPAddress        string       `json:"ipAddress"`
	NewDevice        bool         `json:"dispositivoNovo"`
	NewIP            bool         `json:"ipNovo"`
	NewLocation      bool         `json:"localizacaoNova"`
	ImpossibleTravel bool         `json:"velocidadeImpossivel"`
	VPNDetected      bool         `json:"vpnDetectado"`
	BotDetected      bool         `json:"botDetectado"`
	Blocked          bool         `json:"bloqueado"`
	CreatedAt        time.Time    `json:"criadoEm"`
}

type pagination struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"hasMore"`
}

// History lists a user's evaluations, newest first.
func (h *Handler) History(c *gin.Context) {
	if h.reader == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "unavailable", "message": "audit store not configured"})
		return
	}
	userID := c.Query("usuarioId")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "usuarioId is required"})
		return
	}
	limit, err := queryInt(c, "limit", defaultPageSize)
	if err != nil || limit < 1 || limit > maxPageSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "limit must be between 1 and 200"})
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "offset must not be negative"})
		return
	}

	recs, total, err := h.reader.List(c.Request.Context(), userID, limit, offset)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("history query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "history query failed"})
		return
	}

	items := make([]historyItem, 0, len(recs))
	for _, rec := range recs {
		item := historyItem{
			ID:        rec.ID,
			EventType: rec.EventType,
			IPAddress: rec.IPAddress,
			CreatedAt: rec.CreatedAt,
			Signals:   []string{},
		}
		if r := rec.Result; r != nil {
			item.Score = r.Score
			item.Level = r.Level
			if r.Signals != nil {
				item.Signals = r.Signals
			}
			item.NewDevice = r.NewDevice
			item.NewIP = r.NewIP
			item.NewLocation = r.NewLocation
			item.ImpossibleTravel = r.ImpossibleTravel
			item.VPNDetected = r.VPNDetected
			item.BotDetected = r.BotDetected
			item.Blocked = r.Blocked
		}
		items = append(items, item)
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    items,
		"pagination": pagination{
			Total:   total,
			Limit:   limit,
			Offset:  offset,
			HasMore: total > offset+limit,
		},
	})
}

// Statistics summarizes stored evaluations.
func (h *Handler) Statistics(c *gin.Context) {
	if h.reader == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "unavailable", "message": "audit store not configured"})
		return
	}
	s, err := h.reader.Stats(c.Request.Context(), h.now())
	if err != nil {
		h.logger.Error().Err(err).Msg("statistics query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "statistics query failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"estatisticas": gin.H{
			"totais": gin.H{
				"analises":       s.Total,
				"analisesHoje":   s.Today,
				"analisesSemana": s.LastWeek,
			},
			"deteccoes": gin.H{
				"altoRisco":              s.HighRisk,
				"bloqueadas":             s.Blocked,
				"dispositivosNovos":      s.NewDevices,
				"ipsNovos":               s.NewIPs,
				"vpns":                   s.VPNs,
				"bots":                   s.Bots,
				"velocidadesImpossiveis": s.ImpossibleTravel,
			},
			"taxas": gin.H{
				"bloqueio":  percent(s.Blocked, s.Total),
				"altoRisco": percent(s.HighRisk, s.Total),
			},
		},
	})
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

// percent returns part/total as a percentage rounded to two decimals.
func percent(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(part)/float64(total)*10000) / 100
}
