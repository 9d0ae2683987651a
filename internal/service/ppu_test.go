package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nitesh/incident_map/pkg/models"
)

func ip(v int) *int { return &v }

func report(lat, lon float64) PPUReport {
	return PPUReport{Latitude: fp(lat), Longitude: fp(lon), Description: "vans near the square"}
}

func TestReportPolice_AutoVerifiesAtThreshold(t *testing.T) {
	cache := newMemCache()
	svc, store := newTestService(t, cache, nil)
	ctx := context.Background()

	// outside the window and far away: neither counts
	old := ago(7 * time.Hour)
	_, err := store.SaveMany(ctx, []*models.RawEvent{
		{Title: "old", Latitude: 35.7000, Longitude: 51.4000, Timestamp: old, EventType: models.EventPolicePresence, Intensity: 1},
		{Title: "far", Latitude: 35.8000, Longitude: 51.4000, Timestamp: ago(time.Minute), EventType: models.EventPolicePresence, Intensity: 1},
	})
	require.NoError(t, err)

	offsets := []float64{0, 0.001, 0.002, 0.003}
	for i, off := range offsets {
		res, err := svc.ReportPolice(ctx, report(35.7+off, 51.4))
		require.NoError(t, err)
		assert.False(t, res.Verified)
		assert.Equal(t, i+1, res.NearbyReports)
		assert.Equal(t, 4-i, res.ReportsNeeded)
		assert.NotEmpty(t, res.ReceiptID)
	}

	res, err := svc.ReportPolice(ctx, report(35.7015, 51.4005))
	require.NoError(t, err)
	assert.True(t, res.Verified)
	assert.Equal(t, 5, res.NearbyReports)
	assert.Equal(t, int64(5), res.NewlyVerified)
	assert.Zero(t, res.ReportsNeeded)

	for id := int64(3); id <= 7; id++ {
		assert.True(t, store.byID(id).Verified, "report %d verified", id)
	}
	assert.False(t, store.byID(1).Verified)
	assert.False(t, store.byID(2).Verified)
	assert.Equal(t, int64(5), cache.gen)
}

func TestReportPolice_StoredShape(t *testing.T) {
	svc, store := newTestService(t, nil, nil)
	ctx := context.Background()

	r := report(35.7, 51.4)
	r.Intensity = ip(3)
	res, err := svc.ReportPolice(ctx, r)
	require.NoError(t, err)

	ev := store.byID(res.ID)
	assert.Equal(t, ppuTitle, ev.Title)
	assert.Equal(t, "vans near the square", ev.Description)
	assert.Equal(t, models.EventPolicePresence, ev.EventType)
	assert.InDelta(t, 0.6, ev.Intensity, 1e-9)
	require.NotNil(t, ev.SourcePlatform)
	assert.Equal(t, "crowdsourced", *ev.SourcePlatform)
	require.NotNil(t, ev.Timestamp)
	assert.True(t, ev.Timestamp.Equal(testNow))

	res, err = svc.ReportPolice(ctx, PPUReport{Latitude: fp(10), Longitude: fp(10)})
	require.NoError(t, err)
	assert.Equal(t, 0.5, store.byID(res.ID).Intensity)
	assert.Equal(t, ppuDescription, store.byID(res.ID).Description)

	r.Intensity = ip(5)
	res, err = svc.ReportPolice(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, 1.0, store.byID(res.ID).Intensity)
}

func TestReportPolice_Invalid(t *testing.T) {
	svc, store := newTestService(t, nil, nil)
	ctx := context.Background()

	tests := map[string]PPUReport{
		"missing latitude": {Longitude: fp(51.4)},
		"intensity zero":   {Latitude: fp(35.7), Longitude: fp(51.4), Intensity: ip(0)},
		"intensity six":    {Latitude: fp(35.7), Longitude: fp(51.4), Intensity: ip(6)},
		"off the map":      {Latitude: fp(95), Longitude: fp(51.4)},
	}
	for name, r := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := svc.ReportPolice(ctx, r)
			assert.True(t, errors.Is(err, models.ErrInvalidInput), "got %v", err)
		})
	}
	assert.Empty(t, store.events)
}

func TestActivePolice(t *testing.T) {
	svc, store := newTestService(t, nil, nil)
	ctx := context.Background()

	_, err := store.SaveMany(ctx, []*models.RawEvent{
		{Title: "earlier", Latitude: 35.7, Longitude: 51.4, Timestamp: ago(90 * time.Minute), EventType: models.EventPolicePresence, Intensity: 1},
		{Title: "protest", Latitude: 35.7, Longitude: 51.4, Timestamp: ago(time.Minute), EventType: models.EventProtest, Intensity: 1},
		{Title: "yesterday", Latitude: 35.7, Longitude: 51.4, Timestamp: ago(20 * time.Hour), EventType: models.EventPolicePresence, Intensity: 1},
	})
	require.NoError(t, err)
	_, err = svc.ReportPolice(ctx, report(35.7, 51.4))
	require.NoError(t, err)

	active, err := svc.ActivePolice(ctx, 0)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, ppuTitle, active[0].Title)
	require.NotNil(t, active[0].AgeMinutes)
	assert.Equal(t, 0, *active[0].AgeMinutes)
	assert.Equal(t, "earlier", active[1].Title)
	assert.Equal(t, 90, *active[1].AgeMinutes)

	day, err := svc.ActivePolice(ctx, 24)
	require.NoError(t, err)
	assert.Len(t, day, 3)

	_, err = svc.ActivePolice(ctx, -1)
	assert.True(t, errors.Is(err, models.ErrInvalidInput))
}
