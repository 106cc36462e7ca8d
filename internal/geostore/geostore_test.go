package geostore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"district-api/internal/district"
	"district-api/internal/geo"
)

func ring(pts ...[2]float64) []geo.Point {
	out := make([]geo.Point, 0, len(pts))
	for _, p := range pts {
		out = append(out, geo.Point{Lon: p[0], Lat: p[1]})
	}
	return out
}

func TestGeometryCodec(t *testing.T) {
	g := geo.Geometry{Polys: []geo.Polygon{
		{Rings: [][]geo.Point{ring([2]float64{0, 0}, [2]float64{2, 0}, [2]float64{2, 2}, [2]float64{0, 2}, [2]float64{0, 0})}},
	}}
	g.Seal()
	b, err := encodeGeometry(g)
	require.NoError(t, err)
	got, err := decodeGeometry(b)
	require.NoError(t, err)
	assert.Equal(t, g.Polys, got.Polys)
	assert.Equal(t, g.BBox, got.BBox)
	assert.True(t, geo.PointInGeometry(geo.Point{Lat: 1, Lon: 1}, got))
}

func TestMemStore(t *testing.T) {
	m := NewMemStore()
	d := district.District{
		ID:   "us-ny-new_york-district-1",
		Name: "District 1",
		Geometry: geo.Geometry{Polys: []geo.Polygon{
			{Rings: [][]geo.Point{ring([2]float64{-74.1, 40.6}, [2]float64{-73.9, 40.6}, [2]float64{-73.9, 40.8}, [2]float64{-74.1, 40.8}, [2]float64{-74.1, 40.6})}},
		}},
	}
	require.NoError(t, m.Add(d))
	require.Error(t, m.Add(district.District{ID: ""}))

	ctx := context.Background()
	ds, err := m.DistrictsByCountry(ctx, "us")
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.Equal(t, d.ID, ds[0].ID)

	got, ok, err := m.District(ctx, d.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "District 1", got.Name)

	_, ok, err = m.District(ctx, "us-ny-missing")
	require.NoError(t, err)
	assert.False(t, ok)

	ext, err := m.CountryExtents(ctx)
	require.NoError(t, err)
	require.Len(t, ext, 1)
	assert.Equal(t, "us", ext[0].Code)
	assert.True(t, ext[0].BBox.Contains(geo.Point{Lat: 40.7128, Lon: -74.0060}))
}
