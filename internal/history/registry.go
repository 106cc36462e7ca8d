package history

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"district-api/internal/district"
	"district-api/internal/geo"
	"district-api/internal/logger"
	"district-api/internal/metrics"
)

// Snapshot：一次边界发布的元数据；ValidUntil 为 nil 表示当前仍然生效
type Snapshot struct {
	CID        string     `json:"cid"`
	MerkleRoot string     `json:"merkleRoot"`
	ValidFrom  time.Time  `json:"validFrom"`
	ValidUntil *time.Time `json:"validUntil,omitempty"`
	CensusYear int        `json:"censusYear,omitempty"`
	IsCurrent  bool       `json:"isCurrent"`
}

// Covers：date 是否落在 [ValidFrom, ValidUntil) 内
func (s Snapshot) Covers(date time.Time) bool {
	if date.Before(s.ValidFrom) {
		return false
	}
	return s.ValidUntil == nil || date.Before(*s.ValidUntil)
}

// PayloadFunc：按快照内容地址取回整份辖区列表（通常由三级缓存提供）
type PayloadFunc func(ctx context.Context, cid string) ([]district.District, error)

const (
	payloadCacheSize = 4
	decayFloor       = 0.5
	preHistoryConf   = 0.3
	decaySpan        = 365 * 24 * time.Hour
)

var ErrNoSnapshots = errors.New("history: registry has no snapshots")

// 文档注释：历史快照登记簿
// 背景：辖区边界随选举周期重划，按日期解析需要在全部历史发布中选出覆盖该日期的快照，
//
//	再对该快照的辖区全量做点定位。快照有效区间由发布流程保证首尾相接。
//
// 约束：快照载荷可能上百 MB，常驻上限 payloadCacheSize 份，LRU 淘汰；
//
//	登记簿构造期校验区间不重叠、时间有序、唯一当前快照，违例直接拒绝启动。
type Registry struct {
	snaps    []Snapshot // 按 ValidFrom 升序
	load     PayloadFunc
	payloads *lru.Cache[string, []district.District]
}

// NewRegistry：校验并登记全部快照；snaps 顺序任意，内部排序
func NewRegistry(snaps []Snapshot, load PayloadFunc) (*Registry, error) {
	if len(snaps) == 0 {
		return nil, ErrNoSnapshots
	}
	sorted := append([]Snapshot(nil), snaps...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ValidFrom.Before(sorted[j].ValidFrom) })

	currents := 0
	for i, s := range sorted {
		if s.IsCurrent {
			currents++
			if s.ValidUntil != nil {
				return nil, fmt.Errorf("history: current snapshot %s has valid_until", s.CID)
			}
			if i != len(sorted)-1 {
				return nil, fmt.Errorf("history: current snapshot %s is not the latest", s.CID)
			}
		}
		if i == 0 {
			continue
		}
		prev := sorted[i-1]
		if !prev.ValidFrom.Before(s.ValidFrom) {
			return nil, fmt.Errorf("history: snapshots %s and %s share valid_from", prev.CID, s.CID)
		}
		if prev.ValidUntil == nil {
			return nil, fmt.Errorf("history: superseded snapshot %s has no valid_until", prev.CID)
		}
		if prev.ValidUntil.After(s.ValidFrom) {
			return nil, fmt.Errorf("history: snapshots %s and %s overlap", prev.CID, s.CID)
		}
	}
	if currents != 1 {
		return nil, fmt.Errorf("history: expected exactly one current snapshot, got %d", currents)
	}

	cache, err := lru.New[string, []district.District](payloadCacheSize)
	if err != nil {
		return nil, err
	}
	logger.L().Info("history_registry_ready", "snapshots", len(sorted),
		"earliest", sorted[0].ValidFrom, "current_cid", sorted[len(sorted)-1].CID)
	return &Registry{snaps: sorted, load: load, payloads: cache}, nil
}

// Current：当前生效快照（构造期保证存在且唯一）
func (r *Registry) Current() Snapshot { return r.snaps[len(r.snaps)-1] }

// Snapshots：登记的全部快照，按生效时间升序
func (r *Registry) Snapshots() []Snapshot { return append([]Snapshot(nil), r.snaps...) }

// At：选出覆盖 date 的快照。date 早于最早快照时回退到最早一份并标注，不报错。
// 返回的 note 为空表示正常覆盖。
func (r *Registry) At(date time.Time) (Snapshot, string) {
	if date.Before(r.snaps[0].ValidFrom) {
		return r.snaps[0], "predates_earliest_snapshot"
	}
	// 最右一个 ValidFrom<=date
	i := sort.Search(len(r.snaps), func(i int) bool { return r.snaps[i].ValidFrom.After(date) }) - 1
	return r.snaps[i], ""
}

// Confidence：历史答案可信度。当前快照恒为 1.0；被替代快照按失效至今的时长
// 线性衰减，一年衰减到下限 0.5；回退到史前快照固定 0.3。
func (r *Registry) Confidence(s Snapshot, note string, now time.Time) float64 {
	if note == "predates_earliest_snapshot" {
		return preHistoryConf
	}
	if s.IsCurrent {
		return 1.0
	}
	age := now.Sub(*s.ValidUntil)
	if age < 0 {
		age = 0
	}
	conf := 1.0 - (1.0-decayFloor)*float64(age)/float64(decaySpan)
	if conf < decayFloor {
		conf = decayFloor
	}
	return conf
}

// Result：按日期定位的结果；District 为 nil 表示该快照下坐标无归属
type Result struct {
	District   *district.District `json:"district,omitempty"`
	Snapshot   Snapshot           `json:"snapshot"`
	Confidence float64            `json:"confidence"`
	Note       string             `json:"note,omitempty"`
}

// ResolveAsOf：在覆盖 date 的快照内做点定位
func (r *Registry) ResolveAsOf(ctx context.Context, lat, lon float64, date time.Time) (*Result, error) {
	if !geo.ValidCoord(lat, lon) {
		return nil, fmt.Errorf("history: invalid coordinate (%v, %v)", lat, lon)
	}
	snap, note := r.At(date)
	ds, err := r.payload(ctx, snap.CID)
	if err != nil {
		return nil, fmt.Errorf("history: load snapshot %s: %w", snap.CID, err)
	}
	res := &Result{
		Snapshot:   snap,
		Confidence: r.Confidence(snap, note, time.Now()),
		Note:       note,
	}
	pt := geo.Point{Lat: lat, Lon: lon}
	for i := range ds {
		if !ds[i].BBox.Contains(pt) {
			continue
		}
		if geo.PointInGeometry(pt, ds[i].Geometry) {
			res.District = &ds[i]
			break
		}
	}
	return res, nil
}

func (r *Registry) payload(ctx context.Context, cid string) ([]district.District, error) {
	if ds, ok := r.payloads.Get(cid); ok {
		metrics.SnapshotCacheHitsTotal.Inc()
		return ds, nil
	}
	metrics.SnapshotCacheMissesTotal.Inc()
	start := time.Now()
	ds, err := r.load(ctx, cid)
	if err != nil {
		return nil, err
	}
	r.payloads.Add(cid, ds)
	logger.L().Info("snapshot_payload_loaded", "cid", cid, "districts", len(ds),
		"elapsed_ms", time.Since(start).Milliseconds())
	return ds, nil
}

// CacheLen：常驻载荷份数（观测用）
func (r *Registry) CacheLen() int { return r.payloads.Len() }
