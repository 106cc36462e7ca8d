package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"district-api/internal/cache"
	"district-api/internal/district"
	"district-api/internal/geo"
	"district-api/internal/geostore"
	"district-api/internal/resolver"
	"district-api/internal/spatial"
)

func testService(t *testing.T) *resolver.Service {
	t.Helper()
	ms := geostore.NewMemStore()
	g := geo.Geometry{Polys: []geo.Polygon{{Rings: [][]geo.Point{{
		{Lat: 40.6, Lon: -74.1}, {Lat: 40.6, Lon: -73.9},
		{Lat: 40.8, Lon: -73.9}, {Lat: 40.8, Lon: -74.1}, {Lat: 40.6, Lon: -74.1},
	}}}}}
	g.Seal()
	require.NoError(t, ms.Add(district.District{
		ID: "us-ny-new_york-district-1", Name: "NYC District 1",
		Type: district.TypeCouncil, Geometry: g, BBox: g.BBox,
	}))
	idx, err := spatial.NewIndex(context.Background(), ms, 4)
	require.NoError(t, err)
	svc := resolver.New(resolver.Options{
		Store: ms, Index: idx, Tier: cache.New(cache.Options{}), CircuitDepth: 8,
	})
	t.Cleanup(svc.Close)
	require.NoError(t, svc.Activate(context.Background(), "cid-api-test"))
	return svc
}

func TestLookupEndpoint(t *testing.T) {
	mux := BuildRoutes(testService(t))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/lookup?lat=40.7128&lon=-74.0060", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var out resolver.Outcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "us-ny-new_york-district-1", out.District.ID)
	assert.NotNil(t, out.Proof)

	// 无归属 → 404
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/lookup?lat=-33.86&lon=151.2", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// 缺参数 → 400
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/lookup?lat=40.7", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// 非法坐标 → 400
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/lookup?lat=91&lon=0", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBatchEndpoint(t *testing.T) {
	mux := BuildRoutes(testService(t))

	body := `[{"id":"a","lat":40.7128,"lon":-74.006},{"id":"b","lat":-33.86,"lon":151.2}]`
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/batch", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Results []struct {
			ID       string `json:"id"`
			District *struct {
				ID string `json:"id"`
			} `json:"district"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "a", resp.Results[0].ID)
	require.NotNil(t, resp.Results[0].District)
	assert.Equal(t, "us-ny-new_york-district-1", resp.Results[0].District.ID)
	assert.Nil(t, resp.Results[1].District)

	// GET 不允许
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/batch", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	// 非法请求体
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/batch", strings.NewReader("{bad")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInvalidateEndpoint(t *testing.T) {
	mux := BuildRoutes(testService(t))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/invalidate",
		strings.NewReader(`{"ids":["us-ny-new_york-district-1"]}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"invalidated":1`)
}

func TestResolveAsOfEndpointWithoutHistory(t *testing.T) {
	mux := BuildRoutes(testService(t))

	// 日期格式错误
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/resolve-asof?lat=40.7&lon=-74&date=junk", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// 未启用历史能力
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/resolve-asof?lat=40.7&lon=-74&date=2022-06-01", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRootEndpoint(t *testing.T) {
	mux := BuildRoutes(testService(t))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/root", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body["merkleRoot"], 64)
}