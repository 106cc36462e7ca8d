package preload

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"district-api/internal/cache"
	"district-api/internal/district"
	"district-api/internal/geo"
	"district-api/internal/geostore"
	"district-api/internal/spatial"
)

func seedStore(t *testing.T) *geostore.MemStore {
	t.Helper()
	ms := geostore.NewMemStore()
	g := geo.Geometry{Polys: []geo.Polygon{{Rings: [][]geo.Point{{
		{Lat: 0, Lon: 0}, {Lat: 0, Lon: 1}, {Lat: 1, Lon: 1}, {Lat: 1, Lon: 0}, {Lat: 0, Lon: 0},
	}}}}}
	g.Seal()
	for _, id := range []string{"us-xx-a-1", "us-xx-a-2", "us-xx-a-3"} {
		require.NoError(t, ms.Add(district.District{ID: id, Name: id, Type: district.TypeCouncil, Geometry: g, BBox: g.BBox}))
	}
	return ms
}

func TestTrafficCycleWarmsHottest(t *testing.T) {
	ms := seedStore(t)
	tier := cache.New(cache.Options{})
	idx, err := spatial.NewIndex(context.Background(), ms, 4)
	require.NoError(t, err)

	w := New(ms, tier, idx, 2)
	for i := 0; i < 5; i++ {
		w.RecordAccess("us-xx-a-1")
	}
	w.RecordAccess("us-xx-a-2")
	w.RecordAccess("us-xx-a-3")
	w.RecordAccess("us-xx-a-3")

	w.trafficCycle(context.Background())

	// topN=2：最热的 a-1 与 a-3 进入 L1
	_, tier1, ok := tier.Get(context.Background(), "", "us-xx-a-1")
	assert.True(t, ok)
	assert.Equal(t, cache.TierL1, tier1)
	_, _, ok = tier.Get(context.Background(), "", "us-xx-a-3")
	assert.True(t, ok)
	_, _, ok = tier.Get(context.Background(), "", "us-xx-a-2")
	assert.False(t, ok)
}

func TestEventWarm(t *testing.T) {
	ms := seedStore(t)
	tier := cache.New(cache.Options{})
	idx, err := spatial.NewIndex(context.Background(), ms, 4)
	require.NoError(t, err)

	w := New(ms, tier, idx, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.eventLoop(ctx)

	w.NotifyEvent("us-xx-a-2")
	w.NotifyEvent("us-xx-missing-9") // 不存在：只记日志

	require.Eventually(t, func() bool {
		_, _, ok := tier.Get(context.Background(), "", "us-xx-a-2")
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestTimezoneCycleWarmsShards(t *testing.T) {
	ms := seedStore(t)
	tier := cache.New(cache.Options{})
	idx, err := spatial.NewIndex(context.Background(), ms, 4)
	require.NoError(t, err)

	w := New(ms, tier, idx, 2)
	w.timezoneCycle(context.Background())

	// us 是否预热取决于当前 UTC 时刻；这里只验证周期安全完成且分片列表合法
	for _, code := range idx.ResidentShards() {
		assert.Equal(t, "us", code)
	}
}

func TestEventQueueOverflowDoesNotBlock(t *testing.T) {
	ms := seedStore(t)
	tier := cache.New(cache.Options{})
	idx, err := spatial.NewIndex(context.Background(), ms, 4)
	require.NoError(t, err)

	w := New(ms, tier, idx, 2)
	// 无消费协程：塞满队列后继续投递必须立即返回
	done := make(chan struct{})
	go func() {
		for i := 0; i < defaultEventQueue+10; i++ {
			w.NotifyEvent("us-xx-a-1")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("NotifyEvent blocked on full queue")
	}
}
