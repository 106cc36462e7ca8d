package preload

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/robfig/cron/v3"

	"district-api/internal/cache"
	"district-api/internal/geostore"
	"district-api/internal/logger"
	"district-api/internal/metrics"
	"district-api/internal/spatial"
)

// 国家 → 粗粒度 UTC 时差（小时）；跨多时区的大国取人口重心附近的时区
var countryUTCOffset = map[string]int{
	"us": -6, "ca": -5, "mx": -6, "br": -3, "ar": -3,
	"gb": 0, "ie": 0, "pt": 0, "fr": 1, "de": 1, "es": 1, "it": 1, "nl": 1, "pl": 1,
	"gr": 2, "fi": 2, "ua": 2, "tr": 3, "ru": 3, "sa": 3, "ae": 4,
	"in": 5, "bd": 6, "th": 7, "id": 7, "vn": 7,
	"cn": 8, "sg": 8, "ph": 8, "my": 8, "tw": 8,
	"jp": 9, "kr": 9, "au": 10, "nz": 12,
}

const (
	businessOpen  = 8
	businessClose = 18

	defaultTopN       = 5
	defaultEventQueue = 256
)

type cronLog struct{}

func (cronLog) Printf(format string, args ...interface{}) {
	logger.L().Warn("preload_cron", "msg", fmt.Sprintf(format, args...))
}

// 文档注释：三路预热器
// 背景：首个命中某国的请求要付整片装载的代价；预热在三类信号上提前付掉：
//
//	时区（进入办公时段的国家即将迎来流量高峰）、流量（近期最热辖区保持常驻）、
//	事件（选举日等已知热点由运营方经事件通道注入）。
//
// 约束：预热只做旁路加温，任何失败只记日志不回传；定时任务带 panic 恢复链。
type Warmer struct {
	store geostore.Store
	tier  *cache.Tiered
	index *spatial.Index

	cr     *cron.Cron
	events chan string
	hits   *xsync.Map[string, *atomic.Int64]
	topN   int

	cancel context.CancelFunc
}

func New(store geostore.Store, tier *cache.Tiered, index *spatial.Index, topN int) *Warmer {
	if topN <= 0 {
		topN = defaultTopN
	}
	return &Warmer{
		store:  store,
		tier:   tier,
		index:  index,
		events: make(chan string, defaultEventQueue),
		hits:   xsync.NewMap[string, *atomic.Int64](),
		topN:   topN,
	}
}

// NewFromEnv：读取 PRELOAD_TOP_N
func NewFromEnv(store geostore.Store, tier *cache.Tiered, index *spatial.Index) *Warmer {
	n := defaultTopN
	if s := os.Getenv("PRELOAD_TOP_N"); s != "" {
		if v, e := strconv.Atoi(s); e == nil && v > 0 {
			n = v
		}
	}
	return New(store, tier, index, n)
}

// RecordAccess：定位路径上报一次辖区命中（流量预热的输入）
func (w *Warmer) RecordAccess(id string) {
	c, _ := w.hits.LoadOrCompute(id, func() (*atomic.Int64, bool) { return &atomic.Int64{}, false })
	c.Add(1)
}

// NotifyEvent：运营方注入即将升温的辖区标识
func (w *Warmer) NotifyEvent(districtID string) {
	select {
	case w.events <- districtID:
	default:
		logger.L().Warn("preload_event_dropped", "district_id", districtID)
	}
}

// Start：注册定时任务并启动事件消费协程
func (w *Warmer) Start(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)
	w.cr = cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cron.PrintfLogger(cronLog{}))))
	// 整点跑时区预热，每 5 分钟跑流量预热
	if _, err := w.cr.AddFunc("0 0 * * * *", func() { w.timezoneCycle(ctx) }); err != nil {
		return err
	}
	if _, err := w.cr.AddFunc("0 */5 * * * *", func() { w.trafficCycle(ctx) }); err != nil {
		return err
	}
	w.cr.Start()
	go w.eventLoop(ctx)
	logger.L().Info("preload_started", "top_n", w.topN)
	return nil
}

func (w *Warmer) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	if w.cr != nil {
		<-w.cr.Stop().Done()
	}
}

// timezoneCycle：对进入办公时段的国家预装载空间分片
func (w *Warmer) timezoneCycle(ctx context.Context) {
	now := time.Now().UTC()
	warmed := 0
	extents, err := w.store.CountryExtents(ctx)
	if err != nil {
		logger.L().Warn("preload_tz_extents", "err", err)
		return
	}
	for _, e := range extents {
		off, ok := countryUTCOffset[e.Code]
		if !ok {
			continue
		}
		local := (now.Hour() + off + 24) % 24
		if local < businessOpen || local >= businessClose {
			continue
		}
		if err := w.index.Warm(ctx, e.Code); err != nil {
			logger.L().Warn("preload_tz_warm", "country", e.Code, "err", err)
			continue
		}
		warmed++
		if ctx.Err() != nil {
			return
		}
	}
	metrics.PreloadCyclesTotal.WithLabelValues("timezone").Inc()
	logger.L().Info("preload_tz_cycle", "warmed", warmed)
}

// trafficCycle：把近期最热的 topN 个辖区以高优先级压回缓存
func (w *Warmer) trafficCycle(ctx context.Context) {
	type hot struct {
		id string
		n  int64
	}
	var all []hot
	w.hits.Range(func(id string, c *atomic.Int64) bool {
		all = append(all, hot{id: id, n: c.Load()})
		return true
	})
	sort.Slice(all, func(i, j int) bool { return all[i].n > all[j].n })
	if len(all) > w.topN {
		all = all[:w.topN]
	}
	warmed := 0
	for _, h := range all {
		if ctx.Err() != nil {
			return
		}
		d, ok, err := w.store.District(ctx, h.id)
		if err != nil || !ok {
			continue
		}
		w.tier.Put(d.ID, d, cache.PriorityHigh)
		warmed++
	}
	metrics.PreloadCyclesTotal.WithLabelValues("traffic").Inc()
	logger.L().Info("preload_traffic_cycle", "warmed", warmed)
}

// eventLoop：事件通道里的辖区立即以最高优先级加温
func (w *Warmer) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-w.events:
			d, ok, err := w.store.District(ctx, id)
			if err != nil || !ok {
				logger.L().Warn("preload_event_miss", "district_id", id, "err", err)
				continue
			}
			w.tier.Put(d.ID, d, cache.PriorityCritical)
			metrics.PreloadCyclesTotal.WithLabelValues("event").Inc()
			logger.L().Debug("preload_event_warm", "district_id", id)
		}
	}
}
