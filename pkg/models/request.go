package models

// EvaluationRequest is the payload the authentication boundary sends for a
// security-sensitive event (login, sensitive action).
//
// Field names follow the wire contract consumed by the existing front end:
//   - usuarioId: optional; anonymous events are evaluated as cold start
//   - fingerprintHash: hash computed by the client (kept for audit)
//   - fingerprintData: raw device attributes, canonicalized server side
//   - geolocalizacao: optional GPS fix from the browser
//   - comportamento: optional behavior report from client instrumentation
//   - tipoEvento: event type, e.g. "login"
type EvaluationRequest struct {
	UserID          string          `json:"usuarioId,omitempty"`
	FingerprintHash string          `json:"fingerprintHash"`
	FingerprintData FingerprintData `json:"fingerprintData"`
	Geolocation     *Geolocation    `json:"geolocalizacao,omitempty"`
	Behavior        *BehaviorReport `json:"comportamento,omitempty"`
	EventType       string          `json:"tipoEvento"`
}

// FingerprintData carries the client-collected device attributes.
//
// Clients either send the attributes nested under "components" or, as the
// legacy front end does, flat next to "fingerprintHash". Components holds
// whichever of the two was provided.
type FingerprintData map[string]any

// Components returns the attribute set that identifies the device.
func (f FingerprintData) Components() map[string]any {
	if nested, ok := f["components"].(map[string]any); ok {
		return nested
	}
	flat := make(map[string]any, len(f))
	for k, v := range f {
		if k == "fingerprintHash" {
			continue
		}
		flat[k] = v
	}
	return flat
}

// Geolocation is an optional browser GPS fix. Absence is a valid state.
type Geolocation struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  *float64 `json:"precisao,omitempty"`
}

// Valid reports whether the coordinates are inside WGS84 bounds.
func (g *Geolocation) Valid() bool {
	return g.Latitude >= -90 && g.Latitude <= 90 &&
		g.Longitude >= -180 && g.Longitude <= 180
}
