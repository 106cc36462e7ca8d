package spatial

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"district-api/internal/district"
	"district-api/internal/geo"
	"district-api/internal/geostore"
)

func box(id string, minLon, minLat, maxLon, maxLat float64) district.District {
	return district.District{
		ID: id,
		Geometry: geo.Geometry{Polys: []geo.Polygon{{Rings: [][]geo.Point{{
			{Lon: minLon, Lat: minLat},
			{Lon: maxLon, Lat: minLat},
			{Lon: maxLon, Lat: maxLat},
			{Lon: minLon, Lat: maxLat},
			{Lon: minLon, Lat: minLat},
		}}}}},
	}
}

func testStore(t *testing.T) *geostore.MemStore {
	t.Helper()
	m := geostore.NewMemStore()
	require.NoError(t, m.Add(box("us-ny-new_york-district-1", -74.1, 40.6, -73.9, 40.8)))
	require.NoError(t, m.Add(box("us-ny-new_york-district-2", -73.9, 40.6, -73.7, 40.8)))
	require.NoError(t, m.Add(box("fr-idf-paris-arr-1", 2.2, 48.8, 2.4, 48.9)))
	return m
}

func TestIndexLookup(t *testing.T) {
	ctx := context.Background()
	idx, err := NewIndex(ctx, testStore(t), 4)
	require.NoError(t, err)

	ids := idx.Lookup(ctx, 40.7128, -74.0060)
	require.Len(t, ids, 1)
	assert.Equal(t, "us-ny-new_york-district-1", ids[0])

	// 覆盖之外返回空集而不是错误
	assert.Empty(t, idx.Lookup(ctx, -33.86, 151.20))

	// 第二次查询复用常驻分片
	assert.Equal(t, []string{"us"}, idx.ResidentShards())
	_ = idx.Lookup(ctx, 48.85, 2.35)
	assert.ElementsMatch(t, []string{"us", "fr"}, idx.ResidentShards())
}

func TestIndexShardEviction(t *testing.T) {
	ctx := context.Background()
	idx, err := NewIndex(ctx, testStore(t), 1)
	require.NoError(t, err)

	_ = idx.Lookup(ctx, 40.7, -74.0)
	require.Equal(t, []string{"us"}, idx.ResidentShards())
	_ = idx.Lookup(ctx, 48.85, 2.35)
	// 预算为 1，美国分片被逐出
	require.Equal(t, []string{"fr"}, idx.ResidentShards())

	// 逐出后再访问触发重建，结果不变
	ids := idx.Lookup(ctx, 40.7128, -74.0060)
	require.Len(t, ids, 1)
	assert.Equal(t, "us-ny-new_york-district-1", ids[0])
}

func TestIndexDropAndReset(t *testing.T) {
	ctx := context.Background()
	idx, err := NewIndex(ctx, testStore(t), 4)
	require.NoError(t, err)
	_ = idx.Lookup(ctx, 40.7, -74.0)
	idx.DropShard("us")
	assert.Empty(t, idx.ResidentShards())
	_ = idx.Lookup(ctx, 40.7, -74.0)
	idx.Reset()
	assert.Empty(t, idx.ResidentShards())
}

func TestResolverResolve(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)
	idx, err := NewIndex(ctx, st, 4)
	require.NoError(t, err)
	r := NewResolver(idx, st)

	d, flagged, err := r.Resolve(ctx, 40.7128, -74.0060)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.False(t, flagged)
	assert.Equal(t, "us-ny-new_york-district-1", d.ID)

	d, _, err = r.Resolve(ctx, -33.86, 151.20)
	require.NoError(t, err)
	assert.Nil(t, d)

	_, _, err = r.Resolve(ctx, 91, 0)
	assert.Error(t, err)
}

// 相邻行政区的内部点不得互相解析（不相交性）
func TestResolverDisjointNeighbors(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)
	idx, err := NewIndex(ctx, st, 4)
	require.NoError(t, err)
	r := NewResolver(idx, st)

	d1, _, err := r.Resolve(ctx, 40.7, -74.0)
	require.NoError(t, err)
	require.NotNil(t, d1)
	assert.Equal(t, "us-ny-new_york-district-1", d1.ID)

	d2, _, err := r.Resolve(ctx, 40.7, -73.8)
	require.NoError(t, err)
	require.NotNil(t, d2)
	assert.Equal(t, "us-ny-new_york-district-2", d2.ID)
}

func TestResolverOverlapFlag(t *testing.T) {
	ctx := context.Background()
	st := geostore.NewMemStore()
	require.NoError(t, st.Add(box("xx-a-a-1", 0, 0, 2, 2)))
	require.NoError(t, st.Add(box("xx-a-a-2", 1, 1, 3, 3))) // 与前者重叠
	idx, err := NewIndex(ctx, st, 4)
	require.NoError(t, err)
	r := NewResolver(idx, st)

	d, flagged, err := r.Resolve(ctx, 1.5, 1.5)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.True(t, flagged, "重叠命中应被标记")
	assert.Equal(t, "xx-a-a-1", d.ID, "先到先得取候选顺序第一个")
}

func TestValidateDisjoint(t *testing.T) {
	a := box("xx-a-a-1", 0, 0, 2, 2)
	b := box("xx-a-a-2", 1, 1, 3, 3)
	c := box("xx-a-a-3", 5, 5, 6, 6)
	errs := ValidateDisjoint([]district.District{a, b, c})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "xx-a-a-1")

	// 仅共享边的邻接不判为重叠
	d := box("xx-a-a-4", 2, 0, 4, 2)
	assert.Empty(t, ValidateDisjoint([]district.District{a, d}))
}
