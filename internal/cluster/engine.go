// Package cluster merges nearby incident reports into map display groups.
//
// The merge is a greedy, seed-ordered pass rather than a globally optimal
// clustering: events are visited in ascending id order and the first
// unclaimed event found claims every other unclaimed event within the radius
// of it. Members once claimed are never reconsidered. Every call rebuilds
// its state from scratch.
package cluster

import (
	"math"
	"sort"
	"time"

	"github.com/nitesh/incident_map/internal/spatial"
	"github.com/nitesh/incident_map/internal/weighting"
	"github.com/nitesh/incident_map/pkg/models"
)

// Cluster groups events whose great-circle distance from a seed event is at
// most radiusKm. A radius <= 0 only merges events at identical coordinates.
//
// Outputs are ordered by their lowest member id. If any event violates the
// RawEvent invariants the whole call fails with an InvalidInput error naming
// it and nothing is returned.
func Cluster(events []models.ClassifiedEvent, radiusKm float64) ([]models.ClusterOutput, error) {
	if math.IsNaN(radiusKm) || math.IsInf(radiusKm, 0) {
		return nil, models.InvalidArgument("radius_km must be finite, got %v", radiusKm)
	}
	if err := validate(events); err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return []models.ClusterOutput{}, nil
	}

	order := make([]int, len(events))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return events[order[a]].ID < events[order[b]].ID })

	neighbours := neighbourFunc(events, radiusKm)
	claimed := make([]bool, len(events))
	out := make([]models.ClusterOutput, 0, len(events))

	for _, seed := range order {
		if claimed[seed] {
			continue
		}
		var members []int
		for _, i := range neighbours(seed) {
			if !claimed[i] {
				members = append(members, i)
			}
		}
		for _, i := range members {
			claimed[i] = true
		}
		if len(members) == 1 {
			out = append(out, singleton(&events[seed]))
			continue
		}
		sort.Slice(members, func(a, b int) bool { return events[members[a]].ID < events[members[b]].ID })
		out = append(out, merge(events, members))
	}
	return out, nil
}

// ClusterAndWeight runs Cluster and annotates every output with its dominant
// type and render weight.
func ClusterAndWeight(events []models.ClassifiedEvent, radiusKm float64) ([]models.ClusterOutput, error) {
	out, err := Cluster(events, radiusKm)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].DominantType = weighting.DominantType(&out[i])
		out[i].Weight = weighting.Weight(&out[i])
	}
	return out, nil
}

func validate(events []models.ClassifiedEvent) error {
	seen := make(map[int64]struct{}, len(events))
	for i := range events {
		if err := events[i].Validate(); err != nil {
			return err
		}
		if _, dup := seen[events[i].ID]; dup {
			return models.InvalidInput(events[i].ID, "duplicate id")
		}
		seen[events[i].ID] = struct{}{}
	}
	return nil
}

// neighbourFunc returns the candidate lookup for a pass. The seed itself is
// always part of its own result.
func neighbourFunc(events []models.ClassifiedEvent, radiusKm float64) func(int) []int {
	if radiusKm <= 0 {
		same := make(map[models.Coordinate][]int)
		for i := range events {
			c := events[i].Coordinates()
			same[c] = append(same[c], i)
		}
		return func(i int) []int { return same[events[i].Coordinates()] }
	}

	points := make([]models.Coordinate, len(events))
	for i := range events {
		points[i] = events[i].Coordinates()
	}
	idx := spatial.Build(points, radiusKm)
	return func(i int) []int { return idx.Query(points[i], radiusKm) }
}

func singleton(ev *models.ClassifiedEvent) models.ClusterOutput {
	cp := *ev
	t := models.ParseEventType(string(ev.EventType))
	cp.EventType = t
	var latest *time.Time
	if ev.Timestamp != nil {
		ts := *ev.Timestamp
		latest = &ts
	}
	return models.ClusterOutput{
		IsCluster:               false,
		ClusterCount:            1,
		Latitude:                ev.Latitude,
		Longitude:               ev.Longitude,
		MemberIDs:               []int64{ev.ID},
		TypeBreakdown:           map[models.EventType]int{t: 1},
		SourceBreakdown:         map[string]int{ev.SourceID: 1},
		Verified:                ev.Verified,
		RepresentativeIntensity: ev.Intensity,
		LatestTimestamp:         latest,
		Event:                   &cp,
	}
}

// merge aggregates members (sorted by id) into one cluster record. The
// centroid is the plain arithmetic mean of member lat/lon, not a geodesic
// centre; it always lies inside the members' bounding hull in lon/lat space.
// A cluster straddling the antimeridian averages longitudes as offsets from
// the seed so its centroid stays on the members' side of the globe.
func merge(events []models.ClassifiedEvent, members []int) models.ClusterOutput {
	rec := models.ClusterOutput{
		IsCluster:       true,
		ClusterCount:    len(members),
		MemberIDs:       make([]int64, 0, len(members)),
		TypeBreakdown:   make(map[models.EventType]int),
		SourceBreakdown: make(map[string]int),
	}
	seedLon := events[members[0]].Longitude
	wraps := false
	for _, i := range members {
		if math.Abs(events[i].Longitude-seedLon) > 180 {
			wraps = true
			break
		}
	}
	lonOf := func(ev *models.ClassifiedEvent) float64 {
		if wraps {
			return lonOffset(seedLon, ev.Longitude)
		}
		return ev.Longitude
	}

	var sumLat, sumLon float64
	minLat, maxLat := math.Inf(1), math.Inf(-1)
	minLon, maxLon := math.Inf(1), math.Inf(-1)
	for _, i := range members {
		ev := &events[i]
		lon := lonOf(ev)
		minLat, maxLat = math.Min(minLat, ev.Latitude), math.Max(maxLat, ev.Latitude)
		minLon, maxLon = math.Min(minLon, lon), math.Max(maxLon, lon)
		rec.MemberIDs = append(rec.MemberIDs, ev.ID)
		rec.TypeBreakdown[models.ParseEventType(string(ev.EventType))]++
		rec.SourceBreakdown[ev.SourceID]++
		rec.Verified = rec.Verified || ev.Verified
		rec.RepresentativeIntensity += ev.Intensity
		sumLat += ev.Latitude
		sumLon += lon
		if ev.Timestamp != nil && (rec.LatestTimestamp == nil || ev.Timestamp.After(*rec.LatestTimestamp)) {
			ts := *ev.Timestamp
			rec.LatestTimestamp = &ts
		}
	}
	n := float64(len(members))
	// clamp away rounding so identical members yield their exact position
	rec.Latitude = min(max(sumLat/n, minLat), maxLat)
	rec.Longitude = min(max(sumLon/n, minLon), maxLon)
	if wraps {
		rec.Longitude = wrapLon(seedLon + rec.Longitude)
	}
	return rec
}

// lonOffset returns lon - from folded into [-180, 180].
func lonOffset(from, lon float64) float64 {
	d := lon - from
	switch {
	case d > 180:
		d -= 360
	case d < -180:
		d += 360
	}
	return d
}

func wrapLon(lon float64) float64 {
	switch {
	case lon > 180:
		return lon - 360
	case lon < -180:
		return lon + 360
	}
	return lon
}
