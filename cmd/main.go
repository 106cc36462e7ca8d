// 程序入口：仅负责读取配置、初始化依赖并启动服务；API 注册在 internal/api 以便扩展
package main

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"district-api/internal/api"
	"district-api/internal/cache"
	"district-api/internal/district"
	"district-api/internal/geostore"
	"district-api/internal/history"
	"district-api/internal/logger"
	"district-api/internal/metrics"
	"district-api/internal/preload"
	"district-api/internal/resolver"
	"district-api/internal/spatial"
	"district-api/internal/version"
)

func envInt(key string, def int) int {
	if s := os.Getenv(key); s != "" {
		if n, e := strconv.Atoi(s); e == nil && n > 0 {
			return n
		}
	}
	return def
}

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
	// 日志初始化
	l := logger.Setup()
	l.Debug("log_init_ok")
	l.Info("boot", "commit", version.Commit)
	apiBase := os.Getenv("API_BASE")
	if apiBase == "" {
		apiBase = "/api"
	}
	l.Debug("config_api_base", "base", apiBase)

	st, err := geostore.OpenFromEnv()
	if err != nil {
		l.Error("db_open_error", "err", err)
		os.Exit(1)
	}
	defer st.Close()
	l.Info("db_open_ok")
	if err := st.DB().Ping(); err != nil {
		l.Error("db_ping_error", "err", err)
	} else {
		l.Info("db_ping_ok")
	}
	if err := geostore.EnsureSchema(st.DB()); err != nil {
		l.Error("schema_error", "err", err)
		os.Exit(1)
	}

	rc := cache.OpenRedisFromEnv()
	if rc == nil {
		l.Info("redis_disabled")
	} else {
		if err := rc.Ping(context.Background()).Err(); err != nil {
			l.Error("redis_ping_error", "err", err)
		} else {
			l.Info("redis_ping_ok")
		}
	}

	l3 := cache.NewContentTierFromEnv(rc)
	defer l3.Close()

	tier := cache.New(cache.Options{
		L1Budget:     int64(envInt("L1_BUDGET_MB", 100)) << 20,
		L1TTL:        time.Duration(envInt("L1_TTL_S", 3600)) * time.Second,
		L2Budget:     int64(envInt("L2_BUDGET_MB", 400)) << 20,
		L2TTL:        time.Duration(envInt("L2_TTL_S", 86400)) * time.Second,
		L3:           l3,
		PromoteCount: int64(envInt("PROMOTE_COUNT", 3)),
	})

	ctx := context.Background()
	idx, err := spatial.NewIndexFromEnv(ctx, st)
	if err != nil {
		l.Error("index_init_error", "err", err)
		os.Exit(1)
	}

	// 历史快照登记簿：表为空时按无历史能力运行
	var hist *history.Registry
	curCID := "local"
	if rows, err := st.Snapshots(ctx); err != nil {
		l.Error("snapshots_load_error", "err", err)
	} else if len(rows) == 0 {
		l.Warn("snapshots_empty", "hint", "resolve-asof disabled")
	} else {
		snaps := make([]history.Snapshot, 0, len(rows))
		for _, r := range rows {
			snaps = append(snaps, history.Snapshot{
				CID: r.CID, MerkleRoot: r.MerkleRoot,
				ValidFrom: r.ValidFrom, ValidUntil: r.ValidUntil,
				CensusYear: r.CensusYear, IsCurrent: r.IsCurrent,
			})
		}
		hist, err = history.NewRegistry(snaps, func(ctx context.Context, cid string) ([]district.District, error) {
			doc, err := l3.Document(ctx, cid)
			if err != nil {
				return nil, err
			}
			return doc.Districts, nil
		})
		if err != nil {
			l.Error("history_registry_error", "err", err)
			os.Exit(1)
		}
		curCID = hist.Current().CID
	}

	warm := preload.NewFromEnv(st, tier, idx)

	svc := resolver.New(resolver.Options{
		Store:        st,
		Index:        idx,
		Tier:         tier,
		History:      hist,
		Warmer:       warm,
		CircuitDepth: resolver.CircuitDepthFromEnv(),
		BatchWorkers: envInt("BATCH_WORKERS", 10),
		BatchMax:     envInt("BATCH_MAX", 1000),
	})
	defer svc.Close()
	if err := svc.Activate(ctx, curCID); err != nil {
		l.Error("activate_error", "cid", curCID, "err", err)
		os.Exit(1)
	}

	if err := warm.Start(ctx); err != nil {
		l.Error("preload_start_error", "err", err)
	}
	defer warm.Stop()

	mux := http.NewServeMux()
	apiMux := api.BuildRoutes(svc)
	mux.Handle(apiBase+"/", http.StripPrefix(apiBase, apiMux))
	mux.Handle(apiBase+"/metrics", metrics.Handler())
	// 快照轮换：发布流程写库后调用；需携带管理令牌
	mux.HandleFunc(apiBase+"/rotate", func(w http.ResponseWriter, r *http.Request) {
		t := r.Header.Get("x-admin-token")
		if t == "" || t != os.Getenv("ADMIN_TOKEN") {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		cid := r.URL.Query().Get("cid")
		if cid == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var changed []string
		if ids := r.URL.Query().Get("changed"); ids != "" {
			changed = strings.Split(ids, ",")
		}
		if err := svc.Rotate(r.Context(), cid, changed); err != nil {
			l.Error("rotate_error", "cid", cid, "err", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	addr := os.Getenv("ADDR")
	if addr == "" {
		addr = ":8080"
	}
	handler := logger.AccessMiddleware(l)(mux)
	s := &http.Server{Addr: addr, Handler: handler}
	l.Info("listen", "addr", addr)
	if err := s.ListenAndServe(); err != nil {
		l.Error("server_error", "err", err)
		os.Exit(1)
	}
}
