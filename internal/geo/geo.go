// 包 geo：坐标、包围盒与多边形的最小几何结构及判定
package geo

import "math"

// 点坐标（WGS84）
type Point struct {
	Lat float64
	Lon float64
}

// BBox：包围盒（minLon, minLat, maxLon, maxLat），与 GeoJSON bbox 字段顺序一致
type BBox struct {
	MinLon float64
	MinLat float64
	MaxLon float64
	MaxLat float64
}

// Contains：点是否落在包围盒内（闭区间）
func (b BBox) Contains(pt Point) bool {
	return pt.Lon >= b.MinLon && pt.Lon <= b.MaxLon && pt.Lat >= b.MinLat && pt.Lat <= b.MaxLat
}

// Intersects：两包围盒是否相交
func (b BBox) Intersects(o BBox) bool {
	return b.MinLon <= o.MaxLon && b.MaxLon >= o.MinLon && b.MinLat <= o.MaxLat && b.MaxLat >= o.MinLat
}

// Extend：并入另一包围盒，返回扩展后的结果
func (b BBox) Extend(o BBox) BBox {
	return BBox{
		MinLon: math.Min(b.MinLon, o.MinLon),
		MinLat: math.Min(b.MinLat, o.MinLat),
		MaxLon: math.Max(b.MaxLon, o.MaxLon),
		MaxLat: math.Max(b.MaxLat, o.MaxLat),
	}
}

// Center：包围盒中心点，用于 STR 装载时的排序键
func (b BBox) Center() Point {
	return Point{Lat: (b.MinLat + b.MaxLat) / 2, Lon: (b.MinLon + b.MaxLon) / 2}
}

// EmptyBBox：返回可被任意 Extend 吞并的初始包围盒
func EmptyBBox() BBox {
	return BBox{MinLon: 180, MinLat: 90, MaxLon: -180, MaxLat: -90}
}

// Polygon：按 GeoJSON 约定的环集合，第一环是外环，其后为洞
type Polygon struct {
	Rings [][]Point
	BBox  BBox
}

// 文档注释：多面几何（Polygon/MultiPolygon 的统一承载）
// 背景：行政区常由多个离散面组成（岛屿、飞地）；统一为面列表避免上层分支。
// 约束：每个面的 BBox 必须在构建时计算完成；查询路径不再遍历环重算。
type Geometry struct {
	Polys []Polygon
	BBox  BBox
}

// ComputeBBox：遍历环计算多边形包围盒
func ComputeBBox(p Polygon) BBox {
	b := EmptyBBox()
	for _, r := range p.Rings {
		for _, pt := range r {
			if pt.Lon < b.MinLon {
				b.MinLon = pt.Lon
			}
			if pt.Lat < b.MinLat {
				b.MinLat = pt.Lat
			}
			if pt.Lon > b.MaxLon {
				b.MaxLon = pt.Lon
			}
			if pt.Lat > b.MaxLat {
				b.MaxLat = pt.Lat
			}
		}
	}
	return b
}

// Seal：补全各面与整体包围盒；加载器在反序列化几何后调用
func (g *Geometry) Seal() {
	total := EmptyBBox()
	for i := range g.Polys {
		g.Polys[i].BBox = ComputeBBox(g.Polys[i])
		total = total.Extend(g.Polys[i].BBox)
	}
	g.BBox = total
}

// ValidCoord：经纬度取值范围检查，调用方错误在任何调度前拒绝
func ValidCoord(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// Haversine：球面距离（千米）
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
