// 包 geostore：行政区几何数据的只读访问层（Postgres/SQLite/内存三种实现）
package geostore

import (
	"context"
	"encoding/json"
	"errors"

	"district-api/internal/district"
	"district-api/internal/geo"
)

// ErrBadID：层级标识不满足 country-region-city-district 约定
var ErrBadID = errors.New("geostore: malformed district id")

// CountryExtent：国家聚合包围盒，索引路由阶段线性扫描使用
type CountryExtent struct {
	Code string
	BBox geo.BBox
}

// 文档注释：几何存储契约
// 背景：空间索引按国家整体拉取构建分片，单条读取服务精确判定与缓存回填；三种实现共用同一调用面。
// 约束：只读；分片构建期间实现方需保证数据一致（同一事务或不可变快照）。
type Store interface {
	DistrictsByCountry(ctx context.Context, code string) ([]district.District, error)
	District(ctx context.Context, id string) (*district.District, bool, error)
	CountryExtents(ctx context.Context) ([]CountryExtent, error)
}

// 几何编解码：坐标按 GeoJSON 习惯存 [lon,lat]；面→环→点三层嵌套
func encodeGeometry(g geo.Geometry) ([]byte, error) {
	polys := make([][][][2]float64, 0, len(g.Polys))
	for _, p := range g.Polys {
		rings := make([][][2]float64, 0, len(p.Rings))
		for _, r := range p.Rings {
			ring := make([][2]float64, 0, len(r))
			for _, pt := range r {
				ring = append(ring, [2]float64{pt.Lon, pt.Lat})
			}
			rings = append(rings, ring)
		}
		polys = append(polys, rings)
	}
	return json.Marshal(polys)
}

func decodeGeometry(b []byte) (geo.Geometry, error) {
	var polys [][][][2]float64
	if err := json.Unmarshal(b, &polys); err != nil {
		return geo.Geometry{}, err
	}
	var g geo.Geometry
	for _, rings := range polys {
		var p geo.Polygon
		for _, ring := range rings {
			r := make([]geo.Point, 0, len(ring))
			for _, pt := range ring {
				r = append(r, geo.Point{Lon: pt[0], Lat: pt[1]})
			}
			p.Rings = append(p.Rings, r)
		}
		g.Polys = append(g.Polys, p)
	}
	g.Seal()
	return g, nil
}

func encodeJurisdiction(j []string) ([]byte, error) { return json.Marshal(j) }

func decodeJurisdiction(b []byte) ([]string, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var j []string
	err := json.Unmarshal(b, &j)
	return j, err
}
