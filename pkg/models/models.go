package models

import (
	"math"
	"strings"
	"time"
)

// EventType is the kind of incident a report describes.
type EventType string

const (
	EventProtest        EventType = "protest"
	EventPolicePresence EventType = "police_presence"
	EventStrike         EventType = "strike"
	EventClash          EventType = "clash"
	EventArrest         EventType = "arrest"
)

// EventTypes lists every known type in declaration order.
var EventTypes = []EventType{EventProtest, EventPolicePresence, EventStrike, EventClash, EventArrest}

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	for _, k := range EventTypes {
		if t == k {
			return true
		}
	}
	return false
}

// ParseEventType maps free input onto a known type. Anything absent or
// unrecognised becomes a protest.
func ParseEventType(s string) EventType {
	t := EventType(strings.ToLower(strings.TrimSpace(s)))
	if t.Valid() {
		return t
	}
	return EventProtest
}

// Coordinate is a WGS84 point.
type Coordinate struct {
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
}

// Valid reports whether c is finite and inside [-180,180] x [-90,90].
func (c Coordinate) Valid() bool {
	if math.IsNaN(c.Latitude) || math.IsNaN(c.Longitude) || math.IsInf(c.Latitude, 0) || math.IsInf(c.Longitude, 0) {
		return false
	}
	return c.Latitude >= -90 && c.Latitude <= 90 && c.Longitude >= -180 && c.Longitude <= 180
}

// RawEvent is a geotagged incident report as ingested. It is immutable once stored.
type RawEvent struct {
	ID          int64      `db:"id" json:"id"`
	Title       string     `db:"title" json:"title"`
	Description string     `db:"description" json:"description"`
	Latitude    float64    `db:"latitude" json:"latitude"`
	Longitude   float64    `db:"longitude" json:"longitude"`
	Timestamp   *time.Time `db:"timestamp" json:"timestamp"`
	EventType   EventType  `db:"event_type" json:"event_type"`
	Verified    bool       `db:"verified" json:"verified"`
	Intensity   float64    `db:"intensity" json:"intensity"`
	SourceURL   *string    `db:"source_url" json:"source_url"`

	// SourcePlatform is the ingestion channel (rss, telegram, crowdsourced...),
	// not the classified source id.
	SourcePlatform *string `db:"source_platform" json:"source_platform,omitempty"`
}

// Coordinates returns the event position.
func (e *RawEvent) Coordinates() Coordinate {
	return Coordinate{Longitude: e.Longitude, Latitude: e.Latitude}
}

// URL returns the source url or "" when unknown.
func (e *RawEvent) URL() string {
	if e.SourceURL == nil {
		return ""
	}
	return *e.SourceURL
}

// Normalize fills the documented defaults: unknown event types become
// protest and a zero intensity becomes 1.0.
func (e *RawEvent) Normalize() {
	e.EventType = ParseEventType(string(e.EventType))
	if e.Intensity == 0 {
		e.Intensity = 1.0
	}
}

// Validate checks the invariants the clustering pass depends on.
func (e *RawEvent) Validate() error {
	if !e.Coordinates().Valid() {
		return InvalidInput(e.ID, "coordinates (%v, %v) out of range", e.Longitude, e.Latitude)
	}
	if math.IsNaN(e.Intensity) || math.IsInf(e.Intensity, 0) || e.Intensity <= 0 {
		return InvalidInput(e.ID, "intensity %v must be a positive number", e.Intensity)
	}
	return nil
}

// ClassifiedEvent is a RawEvent tagged with the source id resolved by the
// classifier. SourceID is derived data and is never persisted.
type ClassifiedEvent struct {
	RawEvent
	SourceID string `json:"source_id"`
}

// ClusterOutput is one display unit: a single event or a merged group.
type ClusterOutput struct {
	IsCluster    bool    `json:"is_cluster"`
	ClusterCount int     `json:"cluster_count"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`

	MemberIDs       []int64           `json:"member_ids"`
	TypeBreakdown   map[EventType]int `json:"type_breakdown"`
	SourceBreakdown map[string]int    `json:"source_breakdown"`

	Verified                bool       `json:"verified"`
	RepresentativeIntensity float64    `json:"representative_intensity"`
	LatestTimestamp         *time.Time `json:"latest_timestamp,omitempty"`

	// Event is set for singletons only.
	Event *ClassifiedEvent `json:"event,omitempty"`

	DominantType EventType `json:"dominant_type"`
	Weight       float64   `json:"weight"`
}

// Coordinates returns the centroid (cluster) or event position (singleton).
func (o *ClusterOutput) Coordinates() Coordinate {
	return Coordinate{Longitude: o.Longitude, Latitude: o.Latitude}
}
