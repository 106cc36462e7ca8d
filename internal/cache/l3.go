package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jellydator/ttlcache/v3"
	"github.com/redis/go-redis/v9"

	"district-api/internal/district"
	"district-api/internal/logger"
	"district-api/internal/metrics"
)

const (
	defaultGatewayTimeout = 5 * time.Second
	defaultDocTTL         = 10 * time.Minute
)

// SnapshotDoc：内容寻址的完整快照文档；按 CID 取回后本地解出单个行政区
type SnapshotDoc struct {
	CID        string              `json:"cid"`
	MerkleRoot string              `json:"merkle_root"`
	Districts  []district.District `json:"districts"`
}

// ErrGatewaysExhausted：全部网关尝试失败；上层降级为缓存未命中而不是硬错误
var ErrGatewaysExhausted = errors.New("cache: all content gateways exhausted")

// 文档注释：L3 内容寻址层
// 背景：快照文档按内容地址不可变，本地文件缓存可跨进程重启复用；可选 Redis 供多实例共享；
// 最后兜底走网关列表（先到先得，单次尝试限时）。
// 约束：取回的是整份快照文档，解析结果进 TTL 文档缓存避免重复反序列化；
// 网关全部失败只返回 ErrGatewaysExhausted，由上层穿透到空间索引。
type ContentTier struct {
	dir      string
	rc       *redis.Client
	gateways []string
	client   *http.Client
	timeout  time.Duration
	docs     *ttlcache.Cache[string, *SnapshotDoc]
}

func NewContentTier(dir string, rc *redis.Client, gateways []string, timeout time.Duration) *ContentTier {
	if timeout <= 0 {
		timeout = defaultGatewayTimeout
	}
	docs := ttlcache.New(
		ttlcache.WithTTL[string, *SnapshotDoc](defaultDocTTL),
	)
	go docs.Start()
	return &ContentTier{
		dir:      dir,
		rc:       rc,
		gateways: gateways,
		client:   &http.Client{Timeout: timeout},
		timeout:  timeout,
		docs:     docs,
	}
}

// NewContentTierFromEnv：SNAPSHOT_CACHE_DIR / CONTENT_GATEWAYS（逗号分隔）/ GATEWAY_TIMEOUT_S
func NewContentTierFromEnv(rc *redis.Client) *ContentTier {
	dir := os.Getenv("SNAPSHOT_CACHE_DIR")
	if dir == "" {
		dir = filepath.Join("data", "snapshots")
	}
	var gws []string
	for _, g := range strings.Split(os.Getenv("CONTENT_GATEWAYS"), ",") {
		if g = strings.TrimSpace(g); g != "" {
			gws = append(gws, g)
		}
	}
	timeout := defaultGatewayTimeout
	if s := os.Getenv("GATEWAY_TIMEOUT_S"); s != "" {
		var n int
		if _, err := fmt.Sscanf(s, "%d", &n); err == nil && n > 0 {
			timeout = time.Duration(n) * time.Second
		}
	}
	return NewContentTier(dir, rc, gws, timeout)
}

// Get：从快照文档中解出指定行政区
func (t *ContentTier) Get(ctx context.Context, cid, id string) (*district.District, bool, error) {
	doc, err := t.Document(ctx, cid)
	if err != nil {
		return nil, false, err
	}
	for i := range doc.Districts {
		if doc.Districts[i].ID == id {
			return &doc.Districts[i], true, nil
		}
	}
	return nil, false, nil
}

// Document：文档缓存 → 本地文件 → Redis → 网关列表
func (t *ContentTier) Document(ctx context.Context, cid string) (*SnapshotDoc, error) {
	if item := t.docs.Get(cid); item != nil {
		return item.Value(), nil
	}
	if b, err := os.ReadFile(t.localPath(cid)); err == nil {
		if doc, err := t.parse(cid, b); err == nil {
			return doc, nil
		}
		// 本地文件损坏：删除后按未命中继续
		logger.L().Warn("l3_local_corrupt", "cid", cid)
		_ = os.Remove(t.localPath(cid))
	}
	if t.rc != nil {
		if b, err := t.rc.Get(ctx, "snapdoc:"+cid).Bytes(); err == nil && len(b) > 0 {
			if doc, err := t.parse(cid, b); err == nil {
				t.writeLocal(cid, b)
				return doc, nil
			}
		}
	}
	b, err := t.fetchFromGateways(ctx, cid)
	if err != nil {
		return nil, err
	}
	doc, err := t.parse(cid, b)
	if err != nil {
		return nil, err
	}
	t.writeLocal(cid, b)
	if t.rc != nil {
		_ = t.rc.Set(ctx, "snapdoc:"+cid, b, 0).Err()
	}
	return doc, nil
}

// fetchFromGateways：按序尝试网关，单网关内做两次指数退避重试；任一成功即返回
func (t *ContentTier) fetchFromGateways(ctx context.Context, cid string) ([]byte, error) {
	for _, gw := range t.gateways {
		url := strings.TrimRight(gw, "/") + "/" + cid
		var body []byte
		op := func() error {
			attemptCtx, cancel := context.WithTimeout(ctx, t.timeout)
			defer cancel()
			req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, url, nil)
			if err != nil {
				return backoff.Permanent(err)
			}
			resp, err := t.client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("gateway status %d", resp.StatusCode)
			}
			body, err = io.ReadAll(resp.Body)
			return err
		}
		err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx))
		if err == nil {
			metrics.GatewayFetchTotal.WithLabelValues("ok").Inc()
			logger.L().Debug("l3_gateway_ok", "gateway", gw, "cid", cid, "bytes", len(body))
			return body, nil
		}
		metrics.GatewayFetchTotal.WithLabelValues("error").Inc()
		logger.L().Warn("l3_gateway_error", "gateway", gw, "cid", cid, "err", err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, ErrGatewaysExhausted
}

func (t *ContentTier) parse(cid string, b []byte) (*SnapshotDoc, error) {
	var doc SnapshotDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	if doc.CID == "" {
		doc.CID = cid
	}
	for i := range doc.Districts {
		doc.Districts[i].Geometry.Seal()
		doc.Districts[i].BBox = doc.Districts[i].Geometry.BBox
	}
	t.docs.Set(cid, &doc, ttlcache.DefaultTTL)
	return &doc, nil
}

func (t *ContentTier) localPath(cid string) string {
	return filepath.Join(t.dir, cid+".json")
}

func (t *ContentTier) writeLocal(cid string, b []byte) {
	if err := os.MkdirAll(t.dir, 0o755); err != nil {
		return
	}
	_ = os.WriteFile(t.localPath(cid), b, 0o644)
}

// Close：停掉文档缓存的过期协程
func (t *ContentTier) Close() { t.docs.Stop() }
