package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nitesh/incident_map/internal/metrics"
	"github.com/nitesh/incident_map/pkg/models"
)

const (
	ppuTitle            = "PPU: Police presence reported"
	ppuPlatform         = "crowdsourced"
	ppuDescription      = "Police/security forces spotted in area"
	ppuDefaultIntensity = 0.5
)

// PPUReport is a crowdsourced police presence sighting. Intensity is on a
// 1..5 scale.
type PPUReport struct {
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	Description string   `json:"description"`
	Intensity   *int     `json:"intensity"`
}

type PPUResult struct {
	ID            int64  `json:"id"`
	ReceiptID     string `json:"receipt_id"`
	Verified      bool   `json:"verified"`
	NearbyReports int    `json:"nearby_reports"`
	NewlyVerified int64  `json:"newly_verified"`
	ReportsNeeded int    `json:"reports_needed,omitempty"`
}

// ActiveReport is a recent police presence event with its age.
type ActiveReport struct {
	models.RawEvent
	AgeMinutes *int `json:"age_minutes,omitempty"`
}

// ReportPolice stores a sighting. Once enough sightings cluster within the
// proximity radius during the window, all of them are marked verified.
func (s *Service) ReportPolice(ctx context.Context, r PPUReport) (PPUResult, error) {
	if r.Latitude == nil || r.Longitude == nil {
		return PPUResult{}, models.InvalidArgument("latitude and longitude are required")
	}
	intensity := ppuDefaultIntensity
	if r.Intensity != nil {
		if *r.Intensity < 1 || *r.Intensity > 5 {
			return PPUResult{}, models.InvalidArgument("intensity must be between 1 and 5, got %d", *r.Intensity)
		}
		intensity = math.Min(float64(*r.Intensity)/5, 1)
	}

	desc := r.Description
	if desc == "" {
		desc = ppuDescription
	}
	now := s.now().UTC()
	platform := ppuPlatform
	ev := &models.RawEvent{
		Title:          ppuTitle,
		Description:    desc,
		Latitude:       *r.Latitude,
		Longitude:      *r.Longitude,
		Timestamp:      &now,
		EventType:      models.EventPolicePresence,
		Intensity:      intensity,
		SourcePlatform: &platform,
	}
	if err := ev.Validate(); err != nil {
		return PPUResult{}, err
	}

	ids, err := s.repo.SaveMany(ctx, []*models.RawEvent{ev})
	if err != nil {
		return PPUResult{}, fmt.Errorf("save report: %w", err)
	}
	res := PPUResult{ID: ids[0], ReceiptID: uuid.New().String()}
	metrics.EventsIngested.WithLabelValues("ppu").Inc()

	q := models.NearbyQuery{
		Latitude:  ev.Latitude,
		Longitude: ev.Longitude,
		RadiusKm:  s.opts.PPUProximityKm,
		Since:     now.Add(-time.Duration(s.opts.PPUWindowHours) * time.Hour),
		EventType: models.EventPolicePresence,
	}
	n, err := s.repo.CountNearby(ctx, q)
	if err != nil {
		return PPUResult{}, fmt.Errorf("count nearby reports: %w", err)
	}
	res.NearbyReports = n

	if s.opts.PPUThreshold > 0 && n >= s.opts.PPUThreshold {
		changed, err := s.repo.VerifyNearby(ctx, q)
		if err != nil {
			return PPUResult{}, fmt.Errorf("verify nearby reports: %w", err)
		}
		res.Verified = true
		res.NewlyVerified = changed
		metrics.PPUVerifications.Inc()
		s.log.WithFields(logrus.Fields{"id": res.ID, "nearby": n, "verified": changed}).Info("police presence auto-verified")
	} else if s.opts.PPUThreshold > n {
		res.ReportsNeeded = s.opts.PPUThreshold - n
	}
	s.invalidate(ctx)
	return res, nil
}

// ActivePolice lists police presence events of the last hours, newest first.
func (s *Service) ActivePolice(ctx context.Context, hours int) ([]ActiveReport, error) {
	if hours < 0 {
		return nil, models.InvalidArgument("hours must not be negative")
	}
	hours = s.PPUWindowHours(hours)
	now := s.now()
	rows, err := s.repo.Recent(ctx, models.EventFilter{
		Since:     now.Add(-time.Duration(hours) * time.Hour),
		EventType: models.EventPolicePresence,
	})
	if err != nil {
		return nil, fmt.Errorf("load reports: %w", err)
	}
	out := make([]ActiveReport, 0, len(rows))
	for _, ev := range rows {
		a := ActiveReport{RawEvent: ev}
		if ev.Timestamp != nil {
			m := int(now.Sub(*ev.Timestamp).Minutes())
			a.AgeMinutes = &m
		}
		out = append(out, a)
	}
	return out, nil
}
