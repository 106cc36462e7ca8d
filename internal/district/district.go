// 包 district：行政区数据模型与层级标识解析
package district

import (
	"strings"
	"time"

	"district-api/internal/geo"
)

// 行政区类型枚举
type Type string

const (
	TypeCouncil       Type = "council"
	TypeWard          Type = "ward"
	TypeMunicipal     Type = "municipal"
	TypeCongressional Type = "congressional"
	TypeSchool        Type = "school"
	TypeStateLeg      Type = "state_leg"
	TypeUnknown       Type = "unknown"
)

// 文档注释：边界数据溯源信息
// 背景：同一行政区可能来自不同权威来源（官方测绘/开放数据）；保留来源与采集时间供审计与冲突裁决。
type Provenance struct {
	Source         string    `json:"source"`
	AuthorityLevel int       `json:"authority_level"`
	Timestamp      time.Time `json:"timestamp"`
}

// 文档注释：行政区实体
// 背景：一旦纳入快照即不可变；边界修订通过发布新快照替代，旧记录原样保留以支撑历史查询。
// 约束：ID 为层级串 country-region-city-district；Geometry 的 BBox 必须在加载时 Seal 完成。
type District struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Jurisdiction []string     `json:"jurisdiction"`
	Type         Type         `json:"type"`
	Geometry     geo.Geometry `json:"geometry"`
	BBox         geo.BBox     `json:"bbox"`
	Provenance   Provenance   `json:"provenance"`
}

// ID 的层级段：country-region-city-district，前缀段缺失视为非法
type IDParts struct {
	Country string
	Region  string
	City    string
	Local   string
}

// ParseID：拆分层级标识
// 约束：至少包含 country 段；region 及以下可缺省（国家级行政区）
func ParseID(id string) (IDParts, bool) {
	if id == "" {
		return IDParts{}, false
	}
	seg := strings.Split(id, "-")
	p := IDParts{Country: seg[0]}
	if p.Country == "" {
		return IDParts{}, false
	}
	if len(seg) > 1 {
		p.Region = seg[1]
	}
	if len(seg) > 2 {
		p.City = seg[2]
	}
	if len(seg) > 3 {
		p.Local = strings.Join(seg[3:], "-")
	}
	return p, true
}

// RegionKey：区域缓存分片键 {country}-{region}；region 缺失时退化为国家键
func RegionKey(id string) (string, bool) {
	p, ok := ParseID(id)
	if !ok {
		return "", false
	}
	if p.Region == "" {
		return p.Country, true
	}
	return p.Country + "-" + p.Region, true
}

// EstimatedSize：近似内存占用（字节），用于缓存容量预算
// 背景：精确测量成本高；按坐标点数折算即可支撑层级容量控制。
func (d *District) EstimatedSize() int64 {
	n := int64(len(d.ID) + len(d.Name))
	for _, j := range d.Jurisdiction {
		n += int64(len(j))
	}
	for _, p := range d.Geometry.Polys {
		for _, r := range p.Rings {
			n += int64(len(r)) * 16
		}
	}
	// 结构自身与包围盒的固定开销
	return n + 128
}
