// 包 api：集中注册 HTTP API 路由以解耦主入口，便于后续扩展与替换
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"district-api/internal/batch"
	"district-api/internal/resolver"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.Header().Set("cache-control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// 解析坐标查询参数；两个参数都必须给出且为合法浮点数
func parseCoord(r *http.Request) (lat, lon float64, ok bool) {
	var err error
	if lat, err = strconv.ParseFloat(r.URL.Query().Get("lat"), 64); err != nil {
		return 0, 0, false
	}
	if lon, err = strconv.ParseFloat(r.URL.Query().Get("lon"), 64); err != nil {
		return 0, 0, false
	}
	return lat, lon, true
}

// 构建并返回 API 路由：独立 ServeMux 便于在主入口挂载到 /api 前缀
func BuildRoutes(svc *resolver.Service) *http.ServeMux {
	apiMux := http.NewServeMux()

	apiMux.HandleFunc("/lookup", func(w http.ResponseWriter, r *http.Request) {
		lat, lon, ok := parseCoord(r)
		if !ok {
			writeErr(w, http.StatusBadRequest, "lat and lon query parameters required")
			return
		}
		out, err := svc.Lookup(r.Context(), lat, lon)
		if err != nil {
			writeErr(w, http.StatusBadRequest, err.Error())
			return
		}
		if out == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"status": "not_found"})
			return
		}
		writeJSON(w, http.StatusOK, out)
	})

	apiMux.HandleFunc("/batch", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeErr(w, http.StatusMethodNotAllowed, "POST required")
			return
		}
		var reqs []batch.Request
		if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
			writeErr(w, http.StatusBadRequest, "invalid request body")
			return
		}
		res, err := svc.BatchLookup(r.Context(), reqs)
		if err != nil {
			// 超限等整批拒绝
			writeErr(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": res})
	})

	apiMux.HandleFunc("/resolve-asof", func(w http.ResponseWriter, r *http.Request) {
		lat, lon, ok := parseCoord(r)
		if !ok {
			writeErr(w, http.StatusBadRequest, "lat and lon query parameters required")
			return
		}
		date, err := time.Parse("2006-01-02", r.URL.Query().Get("date"))
		if err != nil {
			writeErr(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		res, err := svc.ResolveAsOf(r.Context(), lat, lon, date)
		if err != nil {
			writeErr(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, res)
	})

	apiMux.HandleFunc("/invalidate", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeErr(w, http.StatusMethodNotAllowed, "POST required")
			return
		}
		var body struct {
			IDs []string `json:"ids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeErr(w, http.StatusBadRequest, "invalid request body")
			return
		}
		svc.Invalidate(body.IDs)
		writeJSON(w, http.StatusOK, map[string]any{"invalidated": len(body.IDs)})
	})

	apiMux.HandleFunc("/root", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"merkleRoot": svc.Root().String()})
	})

	return apiMux
}
