package models

import "time"

// AuditRecord is the full input and output of one evaluation, persisted for
// audit by a background task.
type AuditRecord struct {
	ID              string          `json:"id"`
	UserID          string          `json:"usuarioId,omitempty"`
	EventType       string          `json:"tipoEvento"`
	ClientHash      string          `json:"fingerprintHash"`
	DeviceHash      string          `json:"deviceHash"`
	FingerprintData FingerprintData `json:"fingerprintData,omitempty"`
	IPAddress       string          `json:"ipAddress"`
	Geolocation     *Geolocation    `json:"geolocalizacao,omitempty"`
	Behavior        *BehaviorReport `json:"comportamento,omitempty"`
	IPSignal        *IPSignal       `json:"ipSignal,omitempty"`
	Result          *RiskResult     `json:"resultado"`
	CreatedAt       time.Time       `json:"criadoEm"`
}

// AuditStats aggregates stored evaluations for the statistics endpoint.
type AuditStats struct {
	Total            int64 `json:"totalAnalises"`
	Today            int64 `json:"analisesHoje"`
	LastWeek         int64 `json:"analisesSemana"`
	HighRisk         int64 `json:"analisesAltoRisco"`
	Blocked          int64 `json:"analisesBloqueadas"`
	NewDevices       int64 `json:"dispositivosNovos"`
	NewIPs           int64 `json:"ipsNovos"`
	VPNs             int64 `json:"vpnsDetectadas"`
	Bots             int64 `json:"botsDetectados"`
	ImpossibleTravel int64 `json:"velocidadesImpossiveis"`
}
