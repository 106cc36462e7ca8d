package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	LookupsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "district_lookups_total",
		Help: "Total number of point lookups",
	})
	LookupDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "district_lookup_duration_ms",
		Help:    "Lookup duration in milliseconds",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000},
	})
	NotFoundTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "district_not_found_total",
		Help: "Total lookups resolving to no district",
	})
	CacheHitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "district_cache_hits_total",
		Help: "Cache hits by tier",
	}, []string{"tier"})
	CacheMissesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "district_cache_misses_total",
		Help: "Cache misses by tier",
	}, []string{"tier"})
	CacheEvictionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "district_cache_evictions_total",
		Help: "Cache evictions by tier",
	}, []string{"tier"})
	CacheSizeBytes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "district_cache_size_bytes",
		Help: "Approximate cache size in bytes by tier",
	}, []string{"tier"})
	CacheInvalidationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "district_cache_invalidations_total",
		Help: "Total district ids invalidated on snapshot rotation",
	})
	ShardLoadsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "district_shard_loads_total",
		Help: "Total country shard loads",
	})
	ShardLoadErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "district_shard_load_errors_total",
		Help: "Total country shard load failures",
	})
	ShardEvictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "district_shard_evictions_total",
		Help: "Total country shard evictions under the resident budget",
	})
	ShardLoadDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "district_shard_load_duration_ms",
		Help:    "Country shard bulk load duration in milliseconds",
		Buckets: []float64{5, 10, 20, 50, 100, 200, 500, 1000, 5000},
	})
	OverlapFlagsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "district_overlap_flags_total",
		Help: "Points matching more than one district polygon (data quality signal)",
	})
	BatchRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "district_batch_requests_total",
		Help: "Total batch lookup requests",
	})
	BatchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "district_batch_size",
		Help:    "Batch request size distribution",
		Buckets: []float64{1, 10, 50, 100, 500, 1000, 5000},
	})
	ProofsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "district_proofs_total",
		Help: "Total inclusion proofs generated",
	})
	SnapshotCacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "district_snapshot_cache_hits_total",
		Help: "Historical snapshot payload cache hits",
	})
	SnapshotCacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "district_snapshot_cache_misses_total",
		Help: "Historical snapshot payload cache misses",
	})
	PreloadCyclesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "district_preload_cycles_total",
		Help: "Preload cycles by strategy",
	}, []string{"strategy"})
	GatewayFetchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "district_gateway_fetch_total",
		Help: "Content gateway fetch attempts by outcome",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(LookupsTotal)
	prometheus.MustRegister(LookupDurationMs)
	prometheus.MustRegister(NotFoundTotal)
	prometheus.MustRegister(CacheHitsTotal)
	prometheus.MustRegister(CacheMissesTotal)
	prometheus.MustRegister(CacheEvictionsTotal)
	prometheus.MustRegister(CacheSizeBytes)
	prometheus.MustRegister(CacheInvalidationsTotal)
	prometheus.MustRegister(ShardLoadsTotal)
	prometheus.MustRegister(ShardLoadErrorsTotal)
	prometheus.MustRegister(ShardEvictionsTotal)
	prometheus.MustRegister(ShardLoadDurationMs)
	prometheus.MustRegister(OverlapFlagsTotal)
	prometheus.MustRegister(BatchRequestsTotal)
	prometheus.MustRegister(BatchSize)
	prometheus.MustRegister(ProofsTotal)
	prometheus.MustRegister(SnapshotCacheHitsTotal)
	prometheus.MustRegister(SnapshotCacheMissesTotal)
	prometheus.MustRegister(PreloadCyclesTotal)
	prometheus.MustRegister(GatewayFetchTotal)
}

// 文档注释：返回 Prometheus 指标监听器
// 背景：统一暴露注册指标到 /metrics 路径，供 Prometheus 抓取；在主入口挂载。
func Handler() http.Handler { return promhttp.Handler() }
