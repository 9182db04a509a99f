package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) Engine {
	e, err := New(Config{DefaultSearchFields: []string{FieldName, FieldAddress, FieldCity}}, BuildIndexMapping(""))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	docs := []Doc{
		{ID: "h1", Type: TypeHospital, Fields: map[string]any{
			FieldName: "St. Mary General", FieldCity: "Springfield", FieldEmergency: true,
			FieldLocation: map[string]any{"lat": 40.0, "lon": -74.0},
		}},
		{ID: "h2", Type: TypeHospital, Fields: map[string]any{
			FieldName: "Mercy Clinic", FieldCity: "Springfield", FieldEmergency: false,
			FieldLocation: map[string]any{"lat": 40.05, "lon": -74.0},
		}},
		{ID: "h3", Type: TypeHospital, Fields: map[string]any{
			FieldName: "Mercy General", FieldCity: "Shelbyville", FieldEmergency: true,
			FieldLocation: map[string]any{"lat": 41.0, "lon": -74.0},
		}},
	}
	require.NoError(t, e.IndexBatch(context.Background(), docs))
	return e
}

func hitIDs(res SearchResult) []string {
	ids := make([]string, 0, len(res.Hits))
	for _, h := range res.Hits {
		ids = append(ids, h.ID)
	}
	return ids
}

func TestKeywordSearch(t *testing.T) {
	e := newTestEngine(t)
	res, err := e.Search(context.Background(), SearchRequest{Keyword: "mercy"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"h2", "h3"}, hitIDs(res))
}

func TestGeoRadiusSortedByDistance(t *testing.T) {
	e := newTestEngine(t)
	res, err := e.Search(context.Background(), SearchRequest{
		Geo:     &GeoDistanceFilter{Field: FieldLocation, Lat: 40.06, Lon: -74.0, RadiusKm: 20},
		GeoSort: &GeoSort{Field: FieldLocation, Lat: 40.06, Lon: -74.0},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"h2", "h1"}, hitIDs(res))
}

func TestBoolFilterAndCount(t *testing.T) {
	e := newTestEngine(t)
	res, err := e.Search(context.Background(), SearchRequest{MustBools: map[string]bool{FieldEmergency: true}})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"h1", "h3"}, hitIDs(res))

	n, err := e.Count()
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	require.NoError(t, e.Delete(context.Background(), "h3"))
	n, _ = e.Count()
	assert.EqualValues(t, 2, n)
}

func TestClosedEngine(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Close())
	_, err := e.Search(context.Background(), SearchRequest{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSuggestByPrefix(t *testing.T) {
	e := newTestEngine(t)
	got, err := e.Suggest(context.Background(), FieldName, "Mer", 5)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Mercy Clinic", "Mercy General"}, got)
}
