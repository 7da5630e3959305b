package models

import (
	"time"

	"github.com/gokaycavdar/go-riskguard/pkg/geo"
)

// SeenEntry tracks when an identity element was first and last observed.
type SeenEntry struct {
	FirstSeen time.Time `json:"firstSeen"`
	LastSeen  time.Time `json:"lastSeen"`
}

// LocationBucket is a coarse location (two-decimal coordinates) a user has
// been observed at.
type LocationBucket struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	FirstSeen time.Time `json:"firstSeen"`
	LastSeen  time.Time `json:"lastSeen"`
}

// LocationFix is the most recent coarse location with its timestamp.
type LocationFix struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	At        time.Time `json:"at"`
}

// Observation is one identity sighting appended to a user's history after a
// decision was taken.
type Observation struct {
	UserID           string       `json:"userId"`
	DeviceHash       string       `json:"deviceHash"`
	IPAddress        string       `json:"ipAddress,omitempty"`
	Location         *Geolocation `json:"location,omitempty"`
	BehaviorFeatures []float64    `json:"behaviorFeatures,omitempty"`
	ObservedAt       time.Time    `json:"observedAt"`
}

// HistoryRecord is the per-user ledger of observed devices, IPs and
// locations. It only grows: merges are unions, first-seen keeps the minimum
// and last-seen keeps the maximum.
type HistoryRecord struct {
	UserID          string                    `json:"userId"`
	Devices         map[string]SeenEntry      `json:"devices"`
	IPs             map[string]SeenEntry      `json:"ips"`
	Locations       map[string]LocationBucket `json:"locations"`
	LastLocation    *LocationFix              `json:"lastLocation,omitempty"`
	BehaviorSamples [][]float64               `json:"behaviorSamples,omitempty"`
}

// NewHistoryRecord returns an empty ledger for userID.
func NewHistoryRecord(userID string) *HistoryRecord {
	return &HistoryRecord{
		UserID:    userID,
		Devices:   make(map[string]SeenEntry),
		IPs:       make(map[string]SeenEntry),
		Locations: make(map[string]LocationBucket),
	}
}

// Empty reports whether nothing was ever observed for the user (cold start).
func (h *HistoryRecord) Empty() bool {
	return h == nil || (len(h.Devices) == 0 && len(h.IPs) == 0 && len(h.Locations) == 0)
}

// KnowsDevice reports whether the device hash was observed before.
func (h *HistoryRecord) KnowsDevice(hash string) bool {
	if h == nil {
		return false
	}
	_, ok := h.Devices[hash]
	return ok
}

// KnowsIP reports whether the IP address was observed before.
func (h *HistoryRecord) KnowsIP(ip string) bool {
	if h == nil || ip == "" {
		return false
	}
	_, ok := h.IPs[ip]
	return ok
}

// KnowsLocation reports whether any stored bucket lies within toleranceMeters
// of the coordinate.
func (h *HistoryRecord) KnowsLocation(lat, lon, toleranceMeters float64) bool {
	if h == nil {
		return false
	}
	tolKm := toleranceMeters / 1000
	for _, b := range h.Locations {
		if geo.HaversineKm(lat, lon, b.Latitude, b.Longitude) <= tolKm {
			return true
		}
	}
	return false
}

// Merge folds an observation into the record. maxSamples caps the retained
// behavior feature vectors, oldest dropped first.
func (h *HistoryRecord) Merge(obs *Observation, maxSamples int) {
	if h.Devices == nil {
		h.Devices = make(map[string]SeenEntry)
	}
	if h.IPs == nil {
		h.IPs = make(map[string]SeenEntry)
	}
	if h.Locations == nil {
		h.Locations = make(map[string]LocationBucket)
	}

	at := obs.ObservedAt
	if obs.DeviceHash != "" {
		h.Devices[obs.DeviceHash] = widen(h.Devices[obs.DeviceHash], at)
	}
	if obs.IPAddress != "" {
		h.IPs[obs.IPAddress] = widen(h.IPs[obs.IPAddress], at)
	}
	if obs.Location != nil {
		lat, lon := geo.Coarse(obs.Location.Latitude), geo.Coarse(obs.Location.Longitude)
		key := geo.BucketKey(lat, lon)
		b, ok := h.Locations[key]
		if !ok {
			b = LocationBucket{Latitude: lat, Longitude: lon, FirstSeen: at, LastSeen: at}
		} else {
			e := widen(SeenEntry{FirstSeen: b.FirstSeen, LastSeen: b.LastSeen}, at)
			b.FirstSeen, b.LastSeen = e.FirstSeen, e.LastSeen
		}
		h.Locations[key] = b
		if h.LastLocation == nil || at.After(h.LastLocation.At) {
			h.LastLocation = &LocationFix{Latitude: lat, Longitude: lon, At: at}
		}
	}
	if len(obs.BehaviorFeatures) > 0 && maxSamples > 0 {
		sample := append([]float64(nil), obs.BehaviorFeatures...)
		h.BehaviorSamples = append(h.BehaviorSamples, sample)
		if len(h.BehaviorSamples) > maxSamples {
			h.BehaviorSamples = h.BehaviorSamples[len(h.BehaviorSamples)-maxSamples:]
		}
	}
}

// Clone returns a deep copy safe to hand out as a snapshot.
func (h *HistoryRecord) Clone() *HistoryRecord {
	if h == nil {
		return nil
	}
	c := NewHistoryRecord(h.UserID)
	for k, v := range h.Devices {
		c.Devices[k] = v
	}
	for k, v := range h.IPs {
		c.IPs[k] = v
	}
	for k, v := range h.Locations {
		c.Locations[k] = v
	}
	if h.LastLocation != nil {
		fix := *h.LastLocation
		c.LastLocation = &fix
	}
	for _, s := range h.BehaviorSamples {
		c.BehaviorSamples = append(c.BehaviorSamples, append([]float64(nil), s...))
	}
	return c
}

func widen(e SeenEntry, at time.Time) SeenEntry {
	if e.FirstSeen.IsZero() || at.Before(e.FirstSeen) {
		e.FirstSeen = at
	}
	if at.After(e.LastSeen) {
		e.LastSeen = at
	}
	return e
}
