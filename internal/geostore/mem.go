package geostore

import (
	"context"
	"sort"
	"sync"

	"district-api/internal/district"
	"district-api/internal/geo"
)

// 文档注释：内存几何存储
// 背景：测试与预热策略直接喂入构造好的行政区集合；同样满足 Store 契约，便于在组合根替换。
// 约束：Add 之后即视为不可变；与 SQL 实现一致，按国家聚合包围盒动态计算。
type MemStore struct {
	mu    sync.RWMutex
	byID  map[string]district.District
	byCty map[string][]string
}

func NewMemStore() *MemStore {
	return &MemStore{byID: make(map[string]district.District), byCty: make(map[string][]string)}
}

// Add：登记一个行政区；几何未 Seal 时先补全包围盒
func (m *MemStore) Add(d district.District) error {
	p, ok := district.ParseID(d.ID)
	if !ok {
		return ErrBadID
	}
	if d.Geometry.BBox == (geo.BBox{}) && len(d.Geometry.Polys) > 0 {
		d.Geometry.Seal()
	}
	d.BBox = d.Geometry.BBox
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.byID[d.ID]; !dup {
		m.byCty[p.Country] = append(m.byCty[p.Country], d.ID)
	}
	m.byID[d.ID] = d
	return nil
}

func (m *MemStore) DistrictsByCountry(ctx context.Context, code string) ([]district.District, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.byCty[code]
	out := make([]district.District, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.byID[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemStore) District(ctx context.Context, id string) (*district.District, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.byID[id]
	if !ok {
		return nil, false, nil
	}
	cp := d
	return &cp, true, nil
}

func (m *MemStore) CountryExtents(ctx context.Context) ([]CountryExtent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]CountryExtent, 0, len(m.byCty))
	for code, ids := range m.byCty {
		b := geo.EmptyBBox()
		for _, id := range ids {
			b = b.Extend(m.byID[id].BBox)
		}
		out = append(out, CountryExtent{Code: code, BBox: b})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}
