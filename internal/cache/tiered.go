package cache

import (
	"context"
	"time"

	"district-api/internal/district"
	"district-api/internal/logger"
	"district-api/internal/metrics"
)

// 命中层标记，随查询结果返回供观测与响应标注
type Tier string

const (
	TierL1   Tier = "l1"
	TierL2   Tier = "l2"
	TierL3   Tier = "l3"
	TierMiss Tier = ""
)

// L2→L1 晋升阈值：访问次数达到该值或优先级达到 HIGH 即复制上行
const defaultPromoteCount = 3

// 文档注释：三级缓存编排
// 背景：读路径 L1→L2→L3 逐层下探，命中即返回；L2 命中满足晋升条件时复制（非搬移）进 L1，
// L3 命中解出行政区后提升进 L2。写路径同时落 L1 与 L2（区域键可推导时）。
// 约束：任何层都不得改变答案本体，只影响时延与命中标记；失效必须同时作用于 L1 与 L2。
type Tiered struct {
	l1 *HotTier
	l2 *RegionalTier
	l3 *ContentTier // 可选；nil 时 L3 跳过

	promoteCount int64
}

type Options struct {
	L1Budget     int64
	L1TTL        time.Duration
	L2Budget     int64
	L2TTL        time.Duration
	L3           *ContentTier
	PromoteCount int64
}

func New(opt Options) *Tiered {
	pc := opt.PromoteCount
	if pc <= 0 {
		pc = defaultPromoteCount
	}
	return &Tiered{
		l1:           NewHotTier(opt.L1Budget, opt.L1TTL),
		l2:           NewRegionalTier(opt.L2Budget, opt.L2TTL),
		l3:           opt.L3,
		promoteCount: pc,
	}
}

// Get：逐层查找；cid 为当前快照内容地址，仅 L3 使用
func (c *Tiered) Get(ctx context.Context, cid, id string) (*district.District, Tier, bool) {
	if e, ok := c.l1.Get(id); ok {
		metrics.CacheHitsTotal.WithLabelValues("l1").Inc()
		return e.Value, TierL1, true
	}
	metrics.CacheMissesTotal.WithLabelValues("l1").Inc()

	if e, ok := c.l2.Get(id); ok {
		metrics.CacheHitsTotal.WithLabelValues("l2").Inc()
		if e.AccessCount() >= c.promoteCount || e.Priority >= PriorityHigh {
			c.l1.Set(id, e.Clone())
			logger.L().Debug("l2_promote", "id", id, "access", e.AccessCount())
		}
		return e.Value, TierL2, true
	}
	metrics.CacheMissesTotal.WithLabelValues("l2").Inc()

	if c.l3 != nil && cid != "" {
		d, ok, err := c.l3.Get(ctx, cid, id)
		if err != nil {
			// 网关耗尽等瞬时故障降级为未命中，由调用方穿透空间索引
			logger.L().Debug("l3_degraded_miss", "id", id, "err", err)
		} else if ok {
			metrics.CacheHitsTotal.WithLabelValues("l3").Inc()
			c.l2.Set(id, NewEntry(d, PriorityMedium))
			return d, TierL3, true
		}
		metrics.CacheMissesTotal.WithLabelValues("l3").Inc()
	}
	return nil, TierMiss, false
}

// Put：查询回填与预热写入；L1 必落，区域键可推导时同时落 L2
func (c *Tiered) Put(id string, d *district.District, p Priority) {
	e := NewEntry(d, p)
	c.l1.Set(id, e)
	c.l2.Set(id, e.Clone())
}

// 文档注释：定向失效
// 背景：快照轮换推送几何变更的行政区列表；仅清除列表内条目，未变更条目原样存活。
// 约束：轮换宣告完成前必须先行调用，保证不出现旧几何配新根的混合视图。
func (c *Tiered) Invalidate(ids []string) {
	n := 0
	for _, id := range ids {
		removed := c.l1.Remove(id)
		if c.l2.Remove(id) || removed {
			n++
		}
	}
	metrics.CacheInvalidationsTotal.Add(float64(len(ids)))
	logger.L().Info("cache_invalidate", "requested", len(ids), "removed", n)
}

// Stats：各层规模快照，观测用
type Stats struct {
	L1Entries   int
	L1SizeBytes int64
	L2Shards    int
	L2SizeBytes int64
}

func (c *Tiered) Stats() Stats {
	return Stats{
		L1Entries:   c.l1.Len(),
		L1SizeBytes: c.l1.SizeBytes(),
		L2Shards:    c.l2.Shards(),
		L2SizeBytes: c.l2.SizeBytes(),
	}
}
