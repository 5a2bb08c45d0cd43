package swarm

import "github.com/prometheus/client_golang/prometheus"

func init() {
	prometheus.MustRegister(
		promGCDurationMilliseconds,
		promInfohashesCount,
		promSeedersCount,
		promLeechersCount,
	)
}

var (
	// promGCDurationMilliseconds records how long one shard's cleaning
	// pass (§4.5) took to run.
	promGCDurationMilliseconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "aquatrack_swarm_gc_duration_milliseconds",
		Help:    "The time it takes a shard to complete one cleaning pass",
		Buckets: prometheus.ExponentialBuckets(9.375, 2, 10),
	})

	// promInfohashesCount is a gauge of the current total number of
	// swarms tracked across every shard.
	promInfohashesCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "aquatrack_swarm_infohashes_count",
		Help: "The number of info-hashes currently tracked",
	})

	// promSeedersCount is a gauge of the current total number of seeders
	// across every shard.
	promSeedersCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "aquatrack_swarm_seeders_count",
		Help: "The number of seeders currently tracked",
	})

	// promLeechersCount is a gauge of the current total number of
	// leechers across every shard.
	promLeechersCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "aquatrack_swarm_leechers_count",
		Help: "The number of leechers currently tracked",
	})
)
