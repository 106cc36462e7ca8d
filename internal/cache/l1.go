package cache

import (
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"district-api/internal/logger"
	"district-api/internal/metrics"
)

const (
	defaultL1Budget = 100 << 20 // 100MB
	defaultL1TTL    = time.Hour
)

// 文档注释：L1 热点层
// 背景：承接高频重复查询，读路径为并发哈希表命中加原子 Touch，保持亚毫秒。
// 约束：容量按估算字节预算控制；逐出采用最低分线性扫描——在数万条目量级足够快，
// 打分封装在 Entry.Score 后面，必要时可换堆结构而不动调用方。
type HotTier struct {
	entries *xsync.Map[string, *Entry]
	budget  int64
	ttl     time.Duration
	size    atomic.Int64
}

func NewHotTier(budget int64, ttl time.Duration) *HotTier {
	if budget <= 0 {
		budget = defaultL1Budget
	}
	if ttl <= 0 {
		ttl = defaultL1TTL
	}
	return &HotTier{entries: xsync.NewMap[string, *Entry](), budget: budget, ttl: ttl}
}

// Get：命中则 Touch 并返回；TTL 过期视为未命中并顺手清除
func (t *HotTier) Get(id string) (*Entry, bool) {
	e, ok := t.entries.Load(id)
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

// Set：写入并在超出预算时逐出
func (t *HotTier) Set(id string, e *Entry) {
	if old, loaded := t.entries.LoadAndStore(id, e); loaded {
		t.addSize(-old.Size)
	}
	t.addSize(e.Size)
	t.evictOver()
}

// Remove：定向删除（失效或过期）
func (t *HotTier) Remove(id string) bool {
	e, ok := t.entries.LoadAndDelete(id)
	if ok {
		t.addSize(-e.Size)
	}
	return ok
}

// evictOver：超预算时按最低分逐出直至回到预算内
func (t *HotTier) evictOver() {
	for t.SizeBytes() > t.budget {
		var victim string
		var victimScore int64 = 1<<63 - 1
		t.entries.Range(func(id string, e *Entry) bool {
			if s := e.Score(); s < victimScore {
				victimScore = s
				victim = id
			}
			return true
		})
		if victim == "" {
			return
		}
		if t.Remove(victim) {
			metrics.CacheEvictionsTotal.WithLabelValues("l1").Inc()
			logger.L().Debug("l1_evict", "id", victim)
		}
	}
}

func (t *HotTier) addSize(d int64) {
	n := t.size.Add(d)
	metrics.CacheSizeBytes.WithLabelValues("l1").Set(float64(n))
}

// SizeBytes：当前估算占用
func (t *HotTier) SizeBytes() int64 { return t.size.Load() }

// Len：条目数
func (t *HotTier) Len() int { return t.entries.Size() }
