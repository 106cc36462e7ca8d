package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"district-api/internal/district"
	"district-api/internal/geo"
)

func square(id, name string, minLon, minLat, maxLon, maxLat float64) district.District {
	g := geo.Geometry{Polys: []geo.Polygon{{Rings: [][]geo.Point{{
		{Lat: minLat, Lon: minLon}, {Lat: minLat, Lon: maxLon},
		{Lat: maxLat, Lon: maxLon}, {Lat: maxLat, Lon: minLon},
		{Lat: minLat, Lon: minLon},
	}}}}}
	g.Seal()
	return district.District{ID: id, Name: name, Type: district.TypeCouncil, Geometry: g, BBox: g.BBox}
}

func date(y, m, d int) time.Time { return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC) }

func ptr(t time.Time) *time.Time { return &t }

// 两代快照：2020 版把整块划给 old-1，2023 版重划成东西两半
func twoSnapshots() ([]Snapshot, PayloadFunc, *int) {
	snaps := []Snapshot{
		{CID: "cid-2020", MerkleRoot: "r1", ValidFrom: date(2020, 1, 1), ValidUntil: ptr(date(2023, 1, 1)), CensusYear: 2020},
		{CID: "cid-2023", MerkleRoot: "r2", ValidFrom: date(2023, 1, 1), IsCurrent: true, CensusYear: 2020},
	}
	loads := 0
	load := func(ctx context.Context, cid string) ([]district.District, error) {
		loads++
		switch cid {
		case "cid-2020":
			return []district.District{square("us-xx-old-1", "Old 1", -1, -1, 1, 1)}, nil
		default:
			return []district.District{
				square("us-xx-west-1", "West 1", -1, -1, 0, 1),
				square("us-xx-east-1", "East 1", 0, -1, 1, 1),
			}, nil
		}
	}
	return snaps, load, &loads
}

func TestRegistryValidation(t *testing.T) {
	_, err := NewRegistry(nil, nil)
	assert.ErrorIs(t, err, ErrNoSnapshots)

	// 无当前快照
	_, err = NewRegistry([]Snapshot{
		{CID: "a", ValidFrom: date(2020, 1, 1), ValidUntil: ptr(date(2021, 1, 1))},
	}, nil)
	assert.Error(t, err)

	// 两个当前快照
	_, err = NewRegistry([]Snapshot{
		{CID: "a", ValidFrom: date(2020, 1, 1), IsCurrent: true},
		{CID: "b", ValidFrom: date(2021, 1, 1), IsCurrent: true},
	}, nil)
	assert.Error(t, err)

	// 区间重叠
	_, err = NewRegistry([]Snapshot{
		{CID: "a", ValidFrom: date(2020, 1, 1), ValidUntil: ptr(date(2022, 1, 1))},
		{CID: "b", ValidFrom: date(2021, 1, 1), IsCurrent: true},
	}, nil)
	assert.Error(t, err)

	// 被替代快照缺 valid_until
	_, err = NewRegistry([]Snapshot{
		{CID: "a", ValidFrom: date(2020, 1, 1)},
		{CID: "b", ValidFrom: date(2021, 1, 1), IsCurrent: true},
	}, nil)
	assert.Error(t, err)
}

func TestRegistryAt(t *testing.T) {
	snaps, load, _ := twoSnapshots()
	r, err := NewRegistry(snaps, load)
	require.NoError(t, err)

	s, note := r.At(date(2022, 6, 1))
	assert.Equal(t, "cid-2020", s.CID)
	assert.Empty(t, note)

	s, note = r.At(date(2024, 1, 1))
	assert.Equal(t, "cid-2023", s.CID)
	assert.Empty(t, note)

	// 生效当日含端点
	s, _ = r.At(date(2023, 1, 1))
	assert.Equal(t, "cid-2023", s.CID)

	// 史前日期回退到最早快照并标注
	s, note = r.At(date(2010, 1, 1))
	assert.Equal(t, "cid-2020", s.CID)
	assert.Equal(t, "predates_earliest_snapshot", note)

	assert.Equal(t, "cid-2023", r.Current().CID)
}

func TestResolveAsOf(t *testing.T) {
	snaps, load, loads := twoSnapshots()
	r, err := NewRegistry(snaps, load)
	require.NoError(t, err)
	ctx := context.Background()

	// 2022 年的查询命中旧版划分
	res, err := r.ResolveAsOf(ctx, 0.5, 0.5, date(2022, 6, 1))
	require.NoError(t, err)
	require.NotNil(t, res.District)
	assert.Equal(t, "us-xx-old-1", res.District.ID)
	assert.Equal(t, "cid-2020", res.Snapshot.CID)
	assert.GreaterOrEqual(t, res.Confidence, 0.5)
	assert.Less(t, res.Confidence, 1.0)

	// 同一坐标在当前版落入东半区，可信度 1.0
	res, err = r.ResolveAsOf(ctx, 0.5, 0.5, date(2024, 1, 1))
	require.NoError(t, err)
	require.NotNil(t, res.District)
	assert.Equal(t, "us-xx-east-1", res.District.ID)
	assert.Equal(t, 1.0, res.Confidence)

	// 史前日期：回退 + 低可信度，不报错
	res, err = r.ResolveAsOf(ctx, 0.5, 0.5, date(2010, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, "predates_earliest_snapshot", res.Note)
	assert.Equal(t, 0.3, res.Confidence)

	// 快照内无归属：District 为 nil，不是错误
	res, err = r.ResolveAsOf(ctx, 50, 50, date(2024, 1, 1))
	require.NoError(t, err)
	assert.Nil(t, res.District)

	// 非法坐标直接拒绝
	_, err = r.ResolveAsOf(ctx, 91, 0, date(2024, 1, 1))
	assert.Error(t, err)

	// 载荷缓存：两个 CID 只各装载一次
	assert.Equal(t, 2, *loads)
	assert.Equal(t, 2, r.CacheLen())
}

func TestConfidenceDecay(t *testing.T) {
	snaps, load, _ := twoSnapshots()
	r, err := NewRegistry(snaps, load)
	require.NoError(t, err)

	old := snaps[0]
	until := *old.ValidUntil

	// 刚失效时接近 1.0
	assert.InDelta(t, 1.0, r.Confidence(old, "", until), 0.001)
	// 半年后约 0.75
	assert.InDelta(t, 0.75, r.Confidence(old, "", until.Add(decaySpan/2)), 0.01)
	// 一年以上封底 0.5
	assert.Equal(t, 0.5, r.Confidence(old, "", until.Add(3*decaySpan)))
	// 当前快照恒为 1.0
	assert.Equal(t, 1.0, r.Confidence(r.Current(), "", time.Now()))
}
