package batch

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/alitto/pond/v2"

	"district-api/internal/district"
	"district-api/internal/logger"
	"district-api/internal/metrics"
)

// Request：批量定位的一项；ID 由调用方指定并原样回传
type Request struct {
	ID  string  `json:"id"`
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Result：与请求同序回传；Err 非空时其余字段无意义
type Result struct {
	ID        string             `json:"id"`
	District  *district.District `json:"district,omitempty"`
	LatencyMs int64              `json:"latencyMs"`
	CacheHit  bool               `json:"cacheHit"`
	Err       string             `json:"error,omitempty"`
}

// LookupFunc：单点定位委托；district 为 nil 表示无归属
type LookupFunc func(ctx context.Context, lat, lon float64) (d *district.District, cacheHit bool, err error)

const (
	defaultWorkers  = 10
	defaultMaxBatch = 1000
	// 坐标归一到小数点后 6 位（约 0.1 米）判定重复请求
	coordScale = 1e6
	// 经纬度一度约 111km，聚簇网格边长取 50km
	cellDeg = 50.0 / 111.0
)

// 文档注释：批量查询优化器
// 背景：批量请求常带大量重复坐标（同一地址多条记录）和地理邻近坐标；
//
//	先按归一坐标去重、再按 50km 网格聚簇，同簇串行执行以复用刚装载的国家分片，
//	簇间并发跑在固定大小的工作池上。
//
// 约束：单项失败只影响该项，结果按请求原序回传；超出批量上限整批拒绝，不做部分执行。
type Optimizer struct {
	lookup   LookupFunc
	pool     pond.Pool
	maxBatch int
}

func New(lookup LookupFunc, workers, maxBatch int) *Optimizer {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if maxBatch <= 0 {
		maxBatch = defaultMaxBatch
	}
	return &Optimizer{lookup: lookup, pool: pond.NewPool(workers), maxBatch: maxBatch}
}

func (o *Optimizer) Close() { o.pool.StopAndWait() }

func round6(v float64) float64 { return math.Round(v*coordScale) / coordScale }

type coordKey struct{ lat, lon float64 }

type cellKey struct{ row, col int }

func cellOf(k coordKey) cellKey {
	return cellKey{row: int(math.Floor(k.lat / cellDeg)), col: int(math.Floor(k.lon / cellDeg))}
}

type outcome struct {
	d         *district.District
	cacheHit  bool
	latencyMs int64
	err       string
	done      bool
}

// Run：执行整批定位。返回切片与 reqs 等长且同序。
func (o *Optimizer) Run(ctx context.Context, reqs []Request) ([]Result, error) {
	if len(reqs) > o.maxBatch {
		return nil, fmt.Errorf("batch: %d requests exceeds limit %d", len(reqs), o.maxBatch)
	}
	metrics.BatchRequestsTotal.Inc()
	metrics.BatchSize.Observe(float64(len(reqs)))
	if len(reqs) == 0 {
		return []Result{}, nil
	}
	start := time.Now()

	// 去重：归一坐标 → 首个出现的下标列表
	uniq := make(map[coordKey][]int, len(reqs))
	order := make([]coordKey, 0, len(reqs))
	for i, r := range reqs {
		k := coordKey{lat: round6(r.Lat), lon: round6(r.Lon)}
		if _, seen := uniq[k]; !seen {
			order = append(order, k)
		}
		uniq[k] = append(uniq[k], i)
	}

	// 聚簇：邻近坐标归入同一网格
	clusters := make(map[cellKey][]coordKey)
	for _, k := range order {
		c := cellOf(k)
		clusters[c] = append(clusters[c], k)
	}

	outcomes := make(map[coordKey]*outcome, len(order))
	for _, k := range order {
		outcomes[k] = &outcome{}
	}

	group := o.pool.NewGroupContext(ctx)
	for _, keys := range clusters {
		keys := keys
		group.Submit(func() {
			for _, k := range keys {
				out := outcomes[k]
				out.done = true
				if err := ctx.Err(); err != nil {
					out.err = err.Error()
					continue
				}
				t0 := time.Now()
				d, hit, err := o.lookup(ctx, k.lat, k.lon)
				out.latencyMs = time.Since(t0).Milliseconds()
				if err != nil {
					out.err = err.Error()
					continue
				}
				out.d = d
				out.cacheHit = hit
			}
		})
	}
	if err := group.Wait(); err != nil && err != pond.ErrGroupStopped {
		logger.L().Warn("batch_group_wait", "err", err)
	}
	// 取消时未执行到的项也要有明确结果
	if err := ctx.Err(); err != nil {
		for _, out := range outcomes {
			if !out.done {
				out.err = err.Error()
			}
		}
	}

	results := make([]Result, len(reqs))
	for k, idxs := range uniq {
		out := outcomes[k]
		for _, i := range idxs {
			results[i] = Result{
				ID:        reqs[i].ID,
				District:  out.d,
				LatencyMs: out.latencyMs,
				CacheHit:  out.cacheHit,
				Err:       out.err,
			}
		}
	}
	logger.L().Info("batch_done", "requests", len(reqs), "unique", len(order),
		"clusters", len(clusters), "elapsed_ms", time.Since(start).Milliseconds())
	return results, nil
}
