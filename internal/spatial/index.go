package spatial

import (
	"context"
	"os"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"district-api/internal/geo"
	"district-api/internal/geostore"
	"district-api/internal/logger"
	"district-api/internal/metrics"
)

// 常驻分片预算默认值；一个大国分片通常在数十 MB 量级
const defaultMaxShards = 10

// Shard：一个国家的只读 R-Tree 分片
type Shard struct {
	Code     string
	Tree     *RTree
	LoadedAt time.Time
}

// 文档注释：国家分片空间索引
// 背景：全球约 190 国，国家包围盒小表常驻线性扫描即可路由；分片按需构建并受 LRU 预算约束。
// 约束：同一国家的并发装载合并为一次（singleflight）；装载失败记录后返回空候选，不影响进程。
type Index struct {
	store geostore.Store
	fan   int

	mu      sync.RWMutex
	extents []geostore.CountryExtent

	shards *lru.Cache[string, *Shard]
	sf     singleflight.Group
}

// NewIndex：构建索引并加载国家包围盒小表
// 参数：maxShards ≤0 时取默认预算
func NewIndex(ctx context.Context, store geostore.Store, maxShards int) (*Index, error) {
	if maxShards <= 0 {
		maxShards = defaultMaxShards
	}
	shards, err := lru.NewWithEvict(maxShards, func(code string, _ *Shard) {
		metrics.ShardEvictionsTotal.Inc()
		logger.L().Debug("shard_evict", "country", code)
	})
	if err != nil {
		return nil, err
	}
	idx := &Index{store: store, fan: defaultFanout, shards: shards}
	if err := idx.ReloadExtents(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

// NewIndexFromEnv：读取 MAX_RESIDENT_SHARDS 环境变量构建
func NewIndexFromEnv(ctx context.Context, store geostore.Store) (*Index, error) {
	m := defaultMaxShards
	if s := os.Getenv("MAX_RESIDENT_SHARDS"); s != "" {
		if n, e := strconv.Atoi(s); e == nil && n > 0 {
			m = n
		}
	}
	return NewIndex(ctx, store, m)
}

// ReloadExtents：重载国家包围盒小表；快照轮换后调用
func (x *Index) ReloadExtents(ctx context.Context) error {
	ext, err := x.store.CountryExtents(ctx)
	if err != nil {
		return err
	}
	x.mu.Lock()
	x.extents = ext
	x.mu.Unlock()
	logger.L().Debug("extents_loaded", "countries", len(ext))
	return nil
}

// 文档注释：坐标 → 候选行政区标识
// 背景：国家路由为 O(国家数) 线性扫描（n 小且常数），分片内为 O(log k) 树查询。
// 约束：点落在任何国家包围盒之外返回空集（调用方报告未找到，不是错误）；
// 分片装载失败同样返回空集并计数，下一次请求自然重试。
func (x *Index) Lookup(ctx context.Context, lat, lon float64) []string {
	pt := geo.Point{Lat: lat, Lon: lon}
	x.mu.RLock()
	ext := x.extents
	x.mu.RUnlock()
	var out []string
	for _, e := range ext {
		if !e.BBox.Contains(pt) {
			continue
		}
		sh, err := x.ensureShard(ctx, e.Code)
		if err != nil {
			metrics.ShardLoadErrorsTotal.Inc()
			logger.L().Warn("shard_load_error", "country", e.Code, "err", err)
			continue
		}
		out = append(out, sh.Tree.Search(pt)...)
	}
	return out
}

// ensureShard：取常驻分片，不在内存时装载
// 约束：同国并发装载合并；命中后 touch LRU 以保持热分片常驻
func (x *Index) ensureShard(ctx context.Context, code string) (*Shard, error) {
	if sh, ok := x.shards.Get(code); ok {
		return sh, nil
	}
	v, err, _ := x.sf.Do(code, func() (interface{}, error) {
		// 等待期间可能已有协程完成装载
		if sh, ok := x.shards.Get(code); ok {
			return sh, nil
		}
		return x.loadShard(ctx, code)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Shard), nil
}

// loadShard：整国拉取并 STR 批量建树
func (x *Index) loadShard(ctx context.Context, code string) (*Shard, error) {
	start := time.Now()
	logger.L().Debug("shard_load_begin", "country", code)
	ds, err := x.store.DistrictsByCountry(ctx, code)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(ds))
	for i := range ds {
		entries = append(entries, Entry{ID: ds[i].ID, BBox: ds[i].BBox})
	}
	sh := &Shard{Code: code, Tree: BuildSTR(entries, x.fan), LoadedAt: time.Now()}
	x.shards.Add(code, sh)
	metrics.ShardLoadsTotal.Inc()
	metrics.ShardLoadDurationMs.Observe(float64(time.Since(start).Milliseconds()))
	logger.L().Info("shard_load_done", "country", code, "districts", len(entries), "duration_ms", time.Since(start).Milliseconds())
	return sh, nil
}

// Warm：预先装载一个国家分片，预热任务使用
func (x *Index) Warm(ctx context.Context, code string) error {
	_, err := x.ensureShard(ctx, code)
	return err
}

// DropShard：丢弃一个国家分片；下次访问时从几何存储重建
func (x *Index) DropShard(code string) { x.shards.Remove(code) }

// Reset：清空全部常驻分片（快照整体轮换）
func (x *Index) Reset() { x.shards.Purge() }

// ResidentShards：当前常驻分片国家码，观测用
func (x *Index) ResidentShards() []string { return x.shards.Keys() }
