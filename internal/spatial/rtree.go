// 包 spatial：国家分片空间索引（STR 批量装载的 R-Tree + LRU 常驻分片集）
package spatial

import (
	"math"
	"sort"

	"district-api/internal/geo"
)

// 每个节点的最大扇出；16 在十万级行政区下树高约 4~5 层
const defaultFanout = 16

// 叶子条目：行政区包围盒与标识
type Entry struct {
	ID   string
	BBox geo.BBox
}

type node struct {
	bbox     geo.BBox
	children []*node
	entries  []Entry // 仅叶节点持有
}

// RTree：只读 R-Tree；构建完成后不再修改，查询期可被并发共享
type RTree struct {
	root  *node
	count int
}

// 文档注释：STR（Sort-Tile-Recursive）批量装载
// 背景：分片一次性从几何存储整体构建，无增量插入需求；STR 相比逐条插入有更紧凑的节点填充与更少重叠。
// 约束：entries 为空时返回空树；装载过程会按中心点重排输入切片。
func BuildSTR(entries []Entry, fanout int) *RTree {
	if fanout <= 1 {
		fanout = defaultFanout
	}
	t := &RTree{count: len(entries)}
	if len(entries) == 0 {
		return t
	}
	// 第一轮：经度方向切成 S 条纵带，带内按纬度排序后每 fanout 条打包为叶节点
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].BBox.Center().Lon < entries[j].BBox.Center().Lon
	})
	leafCount := (len(entries) + fanout - 1) / fanout
	sliceCount := int(math.Ceil(math.Sqrt(float64(leafCount))))
	sliceSize := sliceCount * fanout
	var leaves []*node
	for s := 0; s < len(entries); s += sliceSize {
		end := s + sliceSize
		if end > len(entries) {
			end = len(entries)
		}
		band := entries[s:end]
		sort.Slice(band, func(i, j int) bool {
			return band[i].BBox.Center().Lat < band[j].BBox.Center().Lat
		})
		for i := 0; i < len(band); i += fanout {
			j := i + fanout
			if j > len(band) {
				j = len(band)
			}
			n := &node{entries: append([]Entry(nil), band[i:j]...)}
			n.bbox = geo.EmptyBBox()
			for _, e := range n.entries {
				n.bbox = n.bbox.Extend(e.BBox)
			}
			leaves = append(leaves, n)
		}
	}
	// 逐层打包直到只剩根
	level := leaves
	for len(level) > 1 {
		sort.Slice(level, func(i, j int) bool {
			return level[i].bbox.Center().Lon < level[j].bbox.Center().Lon
		})
		var next []*node
		for i := 0; i < len(level); i += fanout {
			j := i + fanout
			if j > len(level) {
				j = len(level)
			}
			n := &node{children: level[i:j]}
			n.bbox = geo.EmptyBBox()
			for _, c := range n.children {
				n.bbox = n.bbox.Extend(c.bbox)
			}
			next = append(next, n)
		}
		level = next
	}
	t.root = level[0]
	return t
}

// Search：收集所有包围盒覆盖该点的叶子条目标识
// 背景：包围盒命中只是候选，精确归属由 PIP 判定；典型返回 1~3 个候选。
func (t *RTree) Search(pt geo.Point) []string {
	if t.root == nil || !t.root.bbox.Contains(pt) {
		return nil
	}
	var out []string
	var walk func(n *node)
	walk = func(n *node) {
		if n.entries != nil {
			for _, e := range n.entries {
				if e.BBox.Contains(pt) {
					out = append(out, e.ID)
				}
			}
			return
		}
		for _, c := range n.children {
			if c.bbox.Contains(pt) {
				walk(c)
			}
		}
	}
	walk(t.root)
	return out
}

// Len：树内条目数
func (t *RTree) Len() int { return t.count }

// Bounds：整树包围盒；空树返回零值
func (t *RTree) Bounds() geo.BBox {
	if t.root == nil {
		return geo.BBox{}
	}
	return t.root.bbox
}
