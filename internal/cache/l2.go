package cache

import (
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"district-api/internal/district"
	"district-api/internal/logger"
	"district-api/internal/metrics"
)

const (
	defaultL2Budget = 400 << 20 // 400MB
	defaultL2TTL    = 24 * time.Hour
)

// regionShard：一个 {country}-{region} 键下的条目集合；整片为逐出单元
type regionShard struct {
	key      string
	loadedAt time.Time
	entries  *xsync.Map[string, *Entry]
	size     atomic.Int64
}

// 文档注释：L2 区域层
// 背景：邻近查询在行政层级上聚集，按 {country}-{region} 分片能让一次热点事件整片驻留；
// 逐出以整片为单位（最旧装载时间优先），避免把一个区域打成蜂窝。
// 约束：区域键从行政区层级标识前缀推导；推导失败的条目只进 L1。
type RegionalTier struct {
	shards *xsync.Map[string, *regionShard]
	budget int64
	ttl    time.Duration
	size   atomic.Int64
}

func NewRegionalTier(budget int64, ttl time.Duration) *RegionalTier {
	if budget <= 0 {
		budget = defaultL2Budget
	}
	if ttl <= 0 {
		ttl = defaultL2TTL
	}
	return &RegionalTier{shards: xsync.NewMap[string, *regionShard](), budget: budget, ttl: ttl}
}

// Get：按标识定位区域分片再取条目
func (t *RegionalTier) Get(id string) (*Entry, bool) {
	key, ok := district.RegionKey(id)
	if !ok {
		return nil, false
	}
	sh, ok := t.shards.Load(key)
	if !ok {
		return nil, false
	}
	e, ok := sh.entries.Load(id)
	if !ok {
		return nil, false
	}
	if e.Expired(t.ttl) {
		t.Remove(id)
		return nil, false
	}
	e.Touch()
	return e, true
}

// Set：写入对应区域分片；区域键不可推导时丢弃（调用方仍有 L1）
func (t *RegionalTier) Set(id string, e *Entry) {
	key, ok := district.RegionKey(id)
	if !ok {
		return
	}
	sh, _ := t.shards.LoadOrCompute(key, func() (*regionShard, bool) {
		return &regionShard{key: key, loadedAt: time.Now(), entries: xsync.NewMap[string, *Entry]()}, false
	})
	if old, loaded := sh.entries.LoadAndStore(id, e); loaded {
		sh.size.Add(-old.Size)
		t.addSize(-old.Size)
	}
	sh.size.Add(e.Size)
	t.addSize(e.Size)
	t.evictOver()
}

// Remove：定向删除条目；分片清空后保留空壳（下次命中自然复用）
func (t *RegionalTier) Remove(id string) bool {
	key, ok := district.RegionKey(id)
	if !ok {
		return false
	}
	sh, ok := t.shards.Load(key)
	if !ok {
		return false
	}
	e, ok := sh.entries.LoadAndDelete(id)
	if !ok {
		return false
	}
	sh.size.Add(-e.Size)
	t.addSize(-e.Size)
	return true
}

// evictOver：超预算时整片逐出，最旧装载时间优先
func (t *RegionalTier) evictOver() {
	for t.SizeBytes() > t.budget {
		var victim *regionShard
		t.shards.Range(func(_ string, sh *regionShard) bool {
			if victim == nil || sh.loadedAt.Before(victim.loadedAt) {
				victim = sh
			}
			return true
		})
		if victim == nil {
			return
		}
		if _, ok := t.shards.LoadAndDelete(victim.key); ok {
			t.addSize(-victim.size.Load())
			metrics.CacheEvictionsTotal.WithLabelValues("l2").Inc()
			logger.L().Debug("l2_evict_shard", "region", victim.key, "bytes", victim.size.Load())
		}
	}
}

func (t *RegionalTier) addSize(d int64) {
	n := t.size.Add(d)
	metrics.CacheSizeBytes.WithLabelValues("l2").Set(float64(n))
}

// SizeBytes：当前估算占用
func (t *RegionalTier) SizeBytes() int64 { return t.size.Load() }

// Shards：区域分片数
func (t *RegionalTier) Shards() int { return t.shards.Size() }
