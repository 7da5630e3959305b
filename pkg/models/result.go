package models

import "time"

// Level is the risk tier of an evaluation.
type Level string

const (
	LevelLow      Level = "BAIXO"
	LevelMedium   Level = "MEDIO"
	LevelHigh     Level = "ALTO"
	LevelCritical Level = "CRITICO"
)

var levelOrder = []Level{LevelLow, LevelMedium, LevelHigh, LevelCritical}

// Rank returns the position of the level in ascending severity.
func (l Level) Rank() int {
	for i, v := range levelOrder {
		if v == l {
			return i
		}
	}
	return 0
}

// Raise returns the level n tiers above l, capped at CRITICO.
func (l Level) Raise(n int) Level {
	r := l.Rank() + n
	if r >= len(levelOrder) {
		r = len(levelOrder) - 1
	}
	if r < 0 {
		r = 0
	}
	return levelOrder[r]
}

// Action is the recommended handling for the evaluated event.
type Action string

const (
	ActionAllow     Action = "permitir"
	ActionMonitor   Action = "monitorar"
	ActionChallenge Action = "desafiar"
	ActionBlock     Action = "bloquear"
)

// ActionFor maps a level to its recommended action.
func ActionFor(l Level) Action {
	switch l {
	case LevelMedium:
		return ActionMonitor
	case LevelHigh:
		return ActionChallenge
	case LevelCritical:
		return ActionBlock
	default:
		return ActionAllow
	}
}

// Alert signal names, in the order they are reported.
const (
	SignalNewDevice       = "dispositivo_novo"
	SignalDeviceBlocked   = "dispositivo_bloqueado"
	SignalNewIP           = "ip_novo"
	SignalIPBlocked       = "ip_bloqueado"
	SignalVPN             = "ip_vpn"
	SignalBadReputation   = "ip_reputacao_ruim"
	SignalBot             = "bot_detectado"
	SignalNewLocation     = "localizacao_nova"
	SignalImpossibleTrip  = "viagem_impossivel"
	SignalBehaviorAnomaly = "comportamento_anomalo"
)

// SignalOrder fixes the reporting order of alert signals.
var SignalOrder = []string{
	SignalNewDevice,
	SignalDeviceBlocked,
	SignalNewIP,
	SignalIPBlocked,
	SignalVPN,
	SignalBadReputation,
	SignalBot,
	SignalNewLocation,
	SignalImpossibleTrip,
	SignalBehaviorAnomaly,
}

// NoveltySignals are the signals a first-ever login raises by construction.
var NoveltySignals = map[string]bool{
	SignalNewDevice:   true,
	SignalNewIP:       true,
	SignalNewLocation: true,
}

// SubScores exposes each factor's contribution. A nil entry means the factor
// had no evidence and was left out of the weighted blend.
type SubScores struct {
	Device      *float64 `json:"dispositivo"`
	IP          *float64 `json:"ip"`
	Geolocation *float64 `json:"geolocalizacao"`
	Behavior    *float64 `json:"comportamento"`
}

// RiskResult is the decision returned for one evaluated event.
type RiskResult struct {
	ID                 string    `json:"id"`
	Score              float64   `json:"scoreFinal"`
	Level              Level     `json:"nivelRisco"`
	Blocked            bool      `json:"bloqueado"`
	Action             Action    `json:"acaoRecomendada"`
	Signals            []string  `json:"sinaisAlerta"`
	NewDevice          bool      `json:"dispositivoNovo"`
	NewIP              bool      `json:"ipNovo"`
	NewLocation        bool      `json:"localizacaoNova"`
	ImpossibleTravel   bool      `json:"velocidadeImpossivel"`
	VPNDetected        bool      `json:"vpnDetectado"`
	ProxyDetected      bool      `json:"proxyDetectado"`
	DatacenterDetected bool      `json:"datacenterDetectado"`
	BotDetected        bool      `json:"botDetectado"`
	DeviceBlocked      bool      `json:"dispositivoBloqueado"`
	IPBlocked          bool      `json:"ipBloqueado"`
	Evaluated          bool      `json:"avaliado"`
	ColdStart          bool      `json:"coldStart"`
	IPSignalAvailable  bool      `json:"ipSignalDisponivel"`
	SubScores          SubScores `json:"subScores"`
	EvaluatedAt        time.Time `json:"evaluatedAt"`
}

// HasSignal reports whether name was triggered.
func (r *RiskResult) HasSignal(name string) bool {
	for _, s := range r.Signals {
		if s == name {
			return true
		}
	}
	return false
}

// NotEvaluated is the fixed decision returned while the engine is disabled.
func NotEvaluated(id string, at time.Time) *RiskResult {
	return &RiskResult{
		ID:          id,
		Score:       0,
		Level:       LevelLow,
		Action:      ActionAllow,
		Signals:     []string{},
		Evaluated:   false,
		EvaluatedAt: at,
	}
}
