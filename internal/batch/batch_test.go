package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"district-api/internal/district"
	"district-api/internal/geo"
)

// countingLookup：记录真实执行次数，坐标落在单位方块内返回固定辖区
func countingLookup() (LookupFunc, *int) {
	var mu sync.Mutex
	calls := 0
	fn := func(ctx context.Context, lat, lon float64) (*district.District, bool, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		if !geo.ValidCoord(lat, lon) {
			return nil, false, fmt.Errorf("invalid coordinate (%v, %v)", lat, lon)
		}
		if lat >= 0 && lat <= 1 && lon >= 0 && lon <= 1 {
			return &district.District{ID: "us-xx-unit-1", Name: "Unit 1"}, false, nil
		}
		return nil, false, nil
	}
	return fn, &calls
}

func TestRunPreservesOrder(t *testing.T) {
	fn, _ := countingLookup()
	o := New(fn, 4, 100)
	defer o.Close()

	reqs := []Request{
		{ID: "a", Lat: 0.5, Lon: 0.5},
		{ID: "b", Lat: 50, Lon: 50},
		{ID: "c", Lat: 0.5, Lon: 0.5},
		{ID: "d", Lat: 0.2, Lon: 0.2},
	}
	res, err := o.Run(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, res, 4)
	for i, r := range res {
		assert.Equal(t, reqs[i].ID, r.ID, "index %d", i)
	}
	assert.Equal(t, "us-xx-unit-1", res[0].District.ID)
	assert.Nil(t, res[1].District)
	assert.Equal(t, "us-xx-unit-1", res[2].District.ID)
	assert.Equal(t, "us-xx-unit-1", res[3].District.ID)
}

// 重复坐标只真实执行一次，结果对调用方透明
func TestRunDeduplicates(t *testing.T) {
	fn, calls := countingLookup()
	o := New(fn, 4, 100)
	defer o.Close()

	reqs := []Request{
		{ID: "a", Lat: 0.5, Lon: 0.5},
		{ID: "b", Lat: 0.5, Lon: 0.5},
		// 第 7 位小数的差异在归一后消失
		{ID: "c", Lat: 0.50000004, Lon: 0.5},
		{ID: "d", Lat: 0.51, Lon: 0.5},
	}
	res, err := o.Run(context.Background(), reqs)
	require.NoError(t, err)
	assert.Equal(t, 2, *calls)
	for _, r := range res {
		require.NotNil(t, r.District, r.ID)
		assert.Equal(t, "us-xx-unit-1", r.District.ID)
	}
}

// 单项失败只影响该项
func TestRunIsolatesFailures(t *testing.T) {
	fn, _ := countingLookup()
	o := New(fn, 4, 100)
	defer o.Close()

	reqs := []Request{
		{ID: "bad", Lat: 91, Lon: 0},
		{ID: "good", Lat: 0.5, Lon: 0.5},
	}
	res, err := o.Run(context.Background(), reqs)
	require.NoError(t, err)
	assert.NotEmpty(t, res[0].Err)
	assert.Nil(t, res[0].District)
	assert.Empty(t, res[1].Err)
	require.NotNil(t, res[1].District)
}

// 超限整批拒绝，不做部分执行
func TestRunRejectsOversizedBatch(t *testing.T) {
	fn, calls := countingLookup()
	o := New(fn, 4, 2)
	defer o.Close()

	reqs := []Request{
		{ID: "a", Lat: 0.1, Lon: 0.1},
		{ID: "b", Lat: 0.2, Lon: 0.2},
		{ID: "c", Lat: 0.3, Lon: 0.3},
	}
	_, err := o.Run(context.Background(), reqs)
	assert.Error(t, err)
	assert.Equal(t, 0, *calls)
}

func TestRunEmpty(t *testing.T) {
	fn, _ := countingLookup()
	o := New(fn, 4, 100)
	defer o.Close()
	res, err := o.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestRunCanceledContext(t *testing.T) {
	o := New(func(ctx context.Context, lat, lon float64) (*district.District, bool, error) {
		return nil, false, errors.New("should not run")
	}, 2, 100)
	defer o.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := o.Run(ctx, []Request{{ID: "a", Lat: 0.5, Lon: 0.5}})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.NotEmpty(t, res[0].Err)
}

// 邻近坐标归入同簇
func TestClusterGrid(t *testing.T) {
	a := cellOf(coordKey{lat: 0.1, lon: 0.1})
	b := cellOf(coordKey{lat: 0.2, lon: 0.2}) // 同一 50km 网格
	c := cellOf(coordKey{lat: 10, lon: 10})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
