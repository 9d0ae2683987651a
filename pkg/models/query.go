package models

import "time"

// EventFilter selects stored events for listing and clustering.
type EventFilter struct {
	Since        time.Time
	VerifiedOnly bool
	// EventType is empty for all types.
	EventType EventType
}

// NearbyQuery selects events of one type around a point since a moment.
type NearbyQuery struct {
	Latitude  float64
	Longitude float64
	RadiusKm  float64
	Since     time.Time
	EventType EventType
}

// Stats are window counts over stored events.
type Stats struct {
	Total    int            `json:"total_events"`
	Verified int            `json:"verified_events"`
	ByType   map[string]int `json:"by_type"`
}

// ClusterSummary is a generated description of a set of events.
type ClusterSummary struct {
	ID        string    `json:"id"`
	MemberIDs []int64   `json:"member_ids"`
	Summary   string    `json:"summary"`
	CreatedAt time.Time `json:"created_at"`
}
