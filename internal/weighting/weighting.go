// Package weighting computes the visual weight a renderer gives each map
// record.
package weighting

import "github.com/nitesh/incident_map/pkg/models"

// policeMultiplier keeps police_presence, which gets fewer reports, as
// visible as the other categories.
const policeMultiplier = 1.5

// tieOrder breaks equal counts when picking a cluster's dominant type.
var tieOrder = []models.EventType{
	models.EventProtest,
	models.EventPolicePresence,
	models.EventClash,
	models.EventArrest,
	models.EventStrike,
}

// TypeMultiplier returns the per-type weight factor.
func TypeMultiplier(t models.EventType) float64 {
	if t == models.EventPolicePresence {
		return policeMultiplier
	}
	return 1.0
}

// DominantType is the event type of a singleton, or the most frequent type
// in a cluster's breakdown with ties broken by tieOrder.
func DominantType(rec *models.ClusterOutput) models.EventType {
	if !rec.IsCluster && rec.Event != nil {
		return models.ParseEventType(string(rec.Event.EventType))
	}
	best, bestCount := models.EventProtest, 0
	for _, t := range tieOrder {
		if n := rec.TypeBreakdown[t]; n > bestCount {
			best, bestCount = t, n
		}
	}
	return best
}

// Weight is the record's intensity (summed over members for clusters)
// scaled by the multiplier of its dominant type.
func Weight(rec *models.ClusterOutput) float64 {
	return rec.RepresentativeIntensity * TypeMultiplier(DominantType(rec))
}
