// 包 cache：行政区查询结果的三级缓存（热点 L1 / 区域 L2 / 内容寻址 L3）
package cache

import (
	"sync/atomic"
	"time"

	"district-api/internal/district"
)

// 条目优先级：参与逐出打分，预热写入的条目用高优先级抵抗 LRU 压力
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

// 打分权重：优先级必须压过任何可能的时间差，使逐出顺序先看优先级再看新近度
const priorityWeight = int64(1) << 40

// 文档注释：缓存条目
// 背景：条目归持有它的层独占；跨层晋升时复制元数据（District 本体不可变，可安全共享指针）。
// 约束：访问时间与计数用原子字段维护，读路径不加锁。
type Entry struct {
	Value     *district.District
	CreatedAt time.Time
	Priority  Priority
	Size      int64

	lastAccessed atomic.Int64 // unix 秒
	accessCount  atomic.Int64
}

func NewEntry(d *district.District, p Priority) *Entry {
	e := &Entry{Value: d, CreatedAt: time.Now(), Priority: p, Size: d.EstimatedSize()}
	e.lastAccessed.Store(time.Now().Unix())
	return e
}

// Touch：记录一次访问
func (e *Entry) Touch() {
	e.lastAccessed.Store(time.Now().Unix())
	e.accessCount.Add(1)
}

// LastAccessed：最近访问时间（unix 秒）
func (e *Entry) LastAccessed() int64 { return e.lastAccessed.Load() }

// AccessCount：累计访问次数
func (e *Entry) AccessCount() int64 { return e.accessCount.Load() }

// Score：逐出打分，分数最低者先被逐出；优先级主导、新近度次之
func (e *Entry) Score() int64 {
	return int64(e.Priority)*priorityWeight + e.lastAccessed.Load()
}

// Expired：条目是否超过给定 TTL（漏失效事件的安全网）
func (e *Entry) Expired(ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	return time.Since(e.CreatedAt) > ttl
}

// Clone：跨层晋升用的副本；访问统计归零由新层重新积累
func (e *Entry) Clone() *Entry {
	c := &Entry{Value: e.Value, CreatedAt: e.CreatedAt, Priority: e.Priority, Size: e.Size}
	c.lastAccessed.Store(time.Now().Unix())
	return c
}
