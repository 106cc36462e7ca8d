package spatial

import (
	"context"
	"fmt"

	"district-api/internal/district"
	"district-api/internal/geo"
	"district-api/internal/geostore"
	"district-api/internal/logger"
	"district-api/internal/metrics"
)

// Fetcher：按标识取回行政区全量记录；geostore.Store 直接满足，
// 上层可用带缓存的实现替换
type Fetcher interface {
	District(ctx context.Context, id string) (*district.District, bool, error)
}

var _ Fetcher = (geostore.Store)(nil)

// 文档注释：候选精判（包围盒候选 → PIP → 唯一归属）
// 背景：R-Tree 只给出包围盒级候选，精确归属需逐面判定；多候选同时命中属于边界数据问题而非运行期错误。
// 约束：命中多个时取候选顺序的第一个并计数上报；返回至多一个行政区。
type Resolver struct {
	index *Index
	store Fetcher
}

func NewResolver(index *Index, store Fetcher) *Resolver {
	return &Resolver{index: index, store: store}
}

// Resolve：坐标 → 权威行政区；未命中返回 (nil, false, nil)
func (r *Resolver) Resolve(ctx context.Context, lat, lon float64) (*district.District, bool, error) {
	if !geo.ValidCoord(lat, lon) {
		return nil, false, fmt.Errorf("spatial: invalid coordinate (%v, %v)", lat, lon)
	}
	cands := r.index.Lookup(ctx, lat, lon)
	if len(cands) == 0 {
		return nil, false, nil
	}
	pt := geo.Point{Lat: lat, Lon: lon}
	var hit *district.District
	matches := 0
	for _, id := range cands {
		d, ok, err := r.store.District(ctx, id)
		if err != nil {
			// 单条读取失败按瞬时故障处理：跳过该候选，其余候选仍可命中
			logger.L().Warn("candidate_fetch_error", "id", id, "err", err)
			continue
		}
		if !ok {
			continue
		}
		if geo.PointInGeometry(pt, d.Geometry) {
			matches++
			if hit == nil {
				hit = d
			}
		}
	}
	if matches > 1 {
		metrics.OverlapFlagsTotal.Inc()
		logger.L().Warn("district_overlap", "id", hit.ID, "matches", matches, "lat", lat, "lon", lon)
	}
	if hit == nil {
		return nil, false, nil
	}
	return hit, matches > 1, nil
}

// 文档注释：构建期不相交校验
// 背景：查询期的先到先得只是兜底；边界重叠应在快照装配阶段被当作校验错误拒绝。
// 约束：O(n²) 包围盒过滤 + 采样判定，供离线装配使用，不进查询路径。
func ValidateDisjoint(ds []district.District) []error {
	var errs []error
	for i := 0; i < len(ds); i++ {
		for j := i + 1; j < len(ds); j++ {
			if !ds[i].BBox.Intersects(ds[j].BBox) {
				continue
			}
			if geometriesOverlap(ds[i].Geometry, ds[j].Geometry) {
				errs = append(errs, fmt.Errorf("spatial: districts %s and %s overlap", ds[i].ID, ds[j].ID))
			}
		}
	}
	return errs
}

// geometriesOverlap：以对方顶点作为采样点做交叉 PIP；邻接共享边不判为重叠
func geometriesOverlap(a, b geo.Geometry) bool {
	for _, p := range b.Polys {
		for _, ring := range p.Rings[:1] {
			for _, pt := range interiorSamples(ring) {
				if geo.PointInGeometry(pt, a) {
					return true
				}
			}
		}
	}
	for _, p := range a.Polys {
		for _, ring := range p.Rings[:1] {
			for _, pt := range interiorSamples(ring) {
				if geo.PointInGeometry(pt, b) {
					return true
				}
			}
		}
	}
	return false
}

// interiorSamples：相邻顶点中点向质心略收缩，避开共享边上的临界点
func interiorSamples(ring []geo.Point) []geo.Point {
	if len(ring) < 3 {
		return nil
	}
	var cx, cy float64
	for _, pt := range ring {
		cx += pt.Lon
		cy += pt.Lat
	}
	cx /= float64(len(ring))
	cy /= float64(len(ring))
	out := make([]geo.Point, 0, len(ring))
	for i := 0; i < len(ring)-1; i++ {
		mx := (ring[i].Lon + ring[i+1].Lon) / 2
		my := (ring[i].Lat + ring[i+1].Lat) / 2
		out = append(out, geo.Point{
			Lon: mx + (cx-mx)*0.01,
			Lat: my + (cy-my)*0.01,
		})
	}
	return out
}
