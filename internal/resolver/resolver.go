package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"district-api/internal/batch"
	"district-api/internal/cache"
	"district-api/internal/district"
	"district-api/internal/geostore"
	"district-api/internal/history"
	"district-api/internal/logger"
	"district-api/internal/merkle"
	"district-api/internal/metrics"
	"district-api/internal/spatial"
)

// 证明电路固定深度默认值；2^20 可寻址百万级辖区
const defaultCircuitDepth = 20

// AccessRecorder：定位命中上报（流量预热的旁路输入）
type AccessRecorder interface {
	RecordAccess(id string)
}

// Outcome：一次定位的完整回答
type Outcome struct {
	District  *district.District `json:"district"`
	Flagged   bool               `json:"flagged,omitempty"`
	Proof     *merkle.Proof      `json:"proof,omitempty"`
	CID       string             `json:"cid"`
	LatencyMs int64              `json:"latencyMs"`
	CacheHit  bool               `json:"cacheHit"`
}

// active：当前生效的快照视图，整体原子换入
type active struct {
	cid  string
	tree *merkle.Tree
}

// 文档注释：定位门面
// 背景：把空间索引、三级缓存、包含证明与历史解析拼成一个对外口径；
//
//	快照轮换通过 atomic.Value 整体换入新视图，在途请求继续使用旧视图直至返回。
//
// 约束：单点 / 批量 / 按日期三条路径共用同一份常驻分片与缓存；
//
//	证明构建失败降级为无证明回答，不阻断定位本身。
type Service struct {
	store geostore.Store
	index *spatial.Index
	tier  *cache.Tiered
	hist  *history.Registry
	warm  AccessRecorder

	opt   *batch.Optimizer
	cur   atomic.Value // *active
	depth int
}

// Options：hist 与 warm 允许为空（未启用对应能力）
type Options struct {
	Store        geostore.Store
	Index        *spatial.Index
	Tier         *cache.Tiered
	History      *history.Registry
	Warmer       AccessRecorder
	CircuitDepth int
	BatchWorkers int
	BatchMax     int
}

func New(opt Options) *Service {
	depth := opt.CircuitDepth
	if depth <= 0 {
		depth = defaultCircuitDepth
	}
	s := &Service{
		store: opt.Store,
		index: opt.Index,
		tier:  opt.Tier,
		hist:  opt.History,
		warm:  opt.Warmer,
		depth: depth,
	}
	s.opt = batch.New(func(ctx context.Context, lat, lon float64) (*district.District, bool, error) {
		out, err := s.Lookup(ctx, lat, lon)
		if err != nil {
			return nil, false, err
		}
		if out == nil {
			return nil, false, nil
		}
		return out.District, out.CacheHit, nil
	}, opt.BatchWorkers, opt.BatchMax)
	return s
}

// CircuitDepthFromEnv：读取 CIRCUIT_DEPTH
func CircuitDepthFromEnv() int {
	if s := os.Getenv("CIRCUIT_DEPTH"); s != "" {
		if n, e := strconv.Atoi(s); e == nil && n > 0 {
			return n
		}
	}
	return defaultCircuitDepth
}

func (s *Service) Close() { s.opt.Close() }

// leafData：辖区的承诺字节（字段序即结构体声明序，编码稳定）
func leafData(d *district.District) ([]byte, error) { return json.Marshal(d) }

// Activate：装配快照视图并整体换入
// 约束：承诺树覆盖快照内全部辖区；任何国家拉取失败视为装配失败，保持旧视图
func (s *Service) Activate(ctx context.Context, cid string) error {
	start := time.Now()
	extents, err := s.store.CountryExtents(ctx)
	if err != nil {
		return fmt.Errorf("resolver: activate %s: %w", cid, err)
	}
	var leaves []merkle.Leaf
	total := 0
	for _, e := range extents {
		ds, err := s.store.DistrictsByCountry(ctx, e.Code)
		if err != nil {
			return fmt.Errorf("resolver: activate %s: country %s: %w", cid, e.Code, err)
		}
		for i := range ds {
			data, err := leafData(&ds[i])
			if err != nil {
				return fmt.Errorf("resolver: activate %s: encode %s: %w", cid, ds[i].ID, err)
			}
			leaves = append(leaves, merkle.Leaf{Key: ds[i].ID, Data: data})
		}
		total += len(ds)
	}
	tree, err := merkle.Build(leaves, s.depth)
	if err != nil {
		return fmt.Errorf("resolver: activate %s: %w", cid, err)
	}
	s.cur.Store(&active{cid: cid, tree: tree})
	logger.L().Info("snapshot_activated", "cid", cid, "districts", total,
		"merkle_root", tree.Root().String(), "elapsed_ms", time.Since(start).Milliseconds())
	return nil
}

func (s *Service) active() *active {
	v, _ := s.cur.Load().(*active)
	return v
}

// Root：当前快照的承诺根（未激活时为零值）
func (s *Service) Root() merkle.Hash {
	if a := s.active(); a != nil {
		return a.tree.Root()
	}
	return merkle.ZeroHash
}

// cachedFetch：候选读取的缓存前置；每次请求独立实例，记录命中来源
type cachedFetch struct {
	tier  *cache.Tiered
	store geostore.Store
	cid   string
	hits  map[string]bool
}

func (f *cachedFetch) District(ctx context.Context, id string) (*district.District, bool, error) {
	if f.tier != nil {
		if d, _, ok := f.tier.Get(ctx, f.cid, id); ok {
			f.hits[id] = true
			return d, true, nil
		}
	}
	d, ok, err := f.store.District(ctx, id)
	if err != nil || !ok {
		return nil, false, err
	}
	if f.tier != nil {
		f.tier.Put(id, d, cache.PriorityMedium)
	}
	return d, true, nil
}

// Lookup：坐标 → 归属辖区 + 包含证明；无归属返回 (nil, nil)
func (s *Service) Lookup(ctx context.Context, lat, lon float64) (*Outcome, error) {
	start := time.Now()
	metrics.LookupsTotal.Inc()
	defer func() {
		metrics.LookupDurationMs.Observe(float64(time.Since(start).Milliseconds()))
	}()

	act := s.active()
	cid := ""
	if act != nil {
		cid = act.cid
	}
	fetch := &cachedFetch{tier: s.tier, store: s.store, cid: cid, hits: make(map[string]bool)}
	d, flagged, err := spatial.NewResolver(s.index, fetch).Resolve(ctx, lat, lon)
	if err != nil {
		return nil, err
	}
	if d == nil {
		metrics.NotFoundTotal.Inc()
		return nil, nil
	}
	if s.warm != nil {
		s.warm.RecordAccess(d.ID)
	}
	out := &Outcome{
		District:  d,
		Flagged:   flagged,
		CID:       cid,
		LatencyMs: time.Since(start).Milliseconds(),
		CacheHit:  fetch.hits[d.ID],
	}
	if act != nil {
		proof, err := act.tree.Prove(d.ID)
		if err != nil {
			// 快照视图与几何存储短暂不一致（轮换窗口）：降级为无证明回答
			logger.L().Warn("proof_unavailable", "id", d.ID, "cid", cid, "err", err)
		} else {
			out.Proof = proof
			metrics.ProofsTotal.Inc()
		}
	}
	return out, nil
}

// BatchLookup：批量定位（去重 + 聚簇 + 并发，见 batch 包）
func (s *Service) BatchLookup(ctx context.Context, reqs []batch.Request) ([]batch.Result, error) {
	return s.opt.Run(ctx, reqs)
}

// ResolveAsOf：按历史日期定位；未启用历史能力时报错
func (s *Service) ResolveAsOf(ctx context.Context, lat, lon float64, date time.Time) (*history.Result, error) {
	if s.hist == nil {
		return nil, fmt.Errorf("resolver: historical resolution not enabled")
	}
	return s.hist.ResolveAsOf(ctx, lat, lon, date)
}

// Invalidate：按标识清除缓存并丢弃受影响国家的空间分片
func (s *Service) Invalidate(ids []string) {
	if len(ids) == 0 {
		return
	}
	if s.tier != nil {
		s.tier.Invalidate(ids)
	}
	dropped := map[string]bool{}
	for _, id := range ids {
		p, ok := district.ParseID(id)
		if !ok || dropped[p.Country] {
			continue
		}
		s.index.DropShard(p.Country)
		dropped[p.Country] = true
	}
	logger.L().Info("invalidated", "ids", len(ids), "shards_dropped", len(dropped))
}

// Rotate：快照轮换。先清除被重划的旧缓存，再装配并换入新视图，最后重置分片。
func (s *Service) Rotate(ctx context.Context, cid string, changed []string) error {
	s.Invalidate(changed)
	if err := s.Activate(ctx, cid); err != nil {
		return err
	}
	s.index.Reset()
	if err := s.index.ReloadExtents(ctx); err != nil {
		return err
	}
	logger.L().Info("snapshot_rotated", "cid", cid, "changed", len(changed))
	return nil
}

// Verify：校验一份包含证明（无需任何存储访问）
func Verify(p *merkle.Proof) bool { return merkle.Verify(p) }
