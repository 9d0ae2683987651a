package api

import (
	"time"

	"github.com/nitesh/incident_map/internal/service"
	"github.com/nitesh/incident_map/pkg/models"
)

type featureCollection struct {
	Type     string    `json:"type"`
	Features []feature `json:"features"`
}

type feature struct {
	Type       string         `json:"type"`
	Geometry   point          `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

type point struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"` // lon, lat
}

func newFeature(ev *models.RawEvent) feature {
	var ts *string
	if ev.Timestamp != nil {
		s := ev.Timestamp.UTC().Format(time.RFC3339)
		ts = &s
	}
	return feature{
		Type:     "Feature",
		Geometry: point{Type: "Point", Coordinates: [2]float64{ev.Longitude, ev.Latitude}},
		Properties: map[string]any{
			"id":              ev.ID,
			"title":           ev.Title,
			"description":     ev.Description,
			"intensity":       ev.Intensity,
			"verified":        ev.Verified,
			"timestamp":       ts,
			"source_url":      ev.SourceURL,
			"event_type":      ev.EventType,
			"source_platform": ev.SourcePlatform,
		},
	}
}

func eventCollection(events []models.ClassifiedEvent) featureCollection {
	fc := featureCollection{Type: "FeatureCollection", Features: make([]feature, 0, len(events))}
	for i := range events {
		f := newFeature(&events[i].RawEvent)
		f.Properties["source_id"] = events[i].SourceID
		fc.Features = append(fc.Features, f)
	}
	return fc
}

func activeCollection(reports []service.ActiveReport) featureCollection {
	fc := featureCollection{Type: "FeatureCollection", Features: make([]feature, 0, len(reports))}
	for i := range reports {
		f := newFeature(&reports[i].RawEvent)
		f.Properties["age_minutes"] = reports[i].AgeMinutes
		fc.Features = append(fc.Features, f)
	}
	return fc
}
