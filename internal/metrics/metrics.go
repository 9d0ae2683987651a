// Package metrics holds the prometheus collectors of the incident map service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsIngested counts stored events by ingestion path.
	EventsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "incident_map_events_ingested_total",
		Help: "Total events stored, by ingestion path",
	}, []string{"path"}) // "batch" or "ppu"

	// Classifications counts classified events by resolved source id.
	Classifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "incident_map_classifications_total",
		Help: "Total classified events by source id",
	}, []string{"source_id"})

	// ClusterDuration tracks classify + cluster pass latency.
	ClusterDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "incident_map_cluster_pass_duration_seconds",
		Help:    "Cluster pass duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
	})

	// ClusterOutputs counts pass outputs by kind.
	ClusterOutputs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "incident_map_cluster_outputs_total",
		Help: "Total cluster pass outputs by kind",
	}, []string{"kind"}) // "cluster" or "single"

	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "incident_map_cluster_cache_hits_total",
		Help: "Total cluster responses served from cache",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "incident_map_cluster_cache_misses_total",
		Help: "Total cluster responses computed",
	})

	// PPUVerifications counts auto-verification rounds triggered by reports.
	PPUVerifications = promauto.NewCounter(prometheus.CounterOpts{
		Name: "incident_map_ppu_verifications_total",
		Help: "Total police presence auto-verification rounds",
	})
)

// OutputKind is the ClusterOutputs label for a record.
func OutputKind(isCluster bool) string {
	if isCluster {
		return "cluster"
	}
	return "single"
}
