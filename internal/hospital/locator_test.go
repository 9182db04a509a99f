package hospital

import (
	"context"
	"testing"

	"MediLink/internal/models"
	"MediLink/pkg/search"
	"MediLink/pkg/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func newTestLocator(t *testing.T) *Locator {
	db, err := util.InitDatabase(util.DBOptions{DSN: "file:hospital_locator?mode=memory&cache=shared"})
	require.NoError(t, err)
	require.NoError(t, models.Migrate(db))
	engine, err := search.New(search.Config{}, search.BuildIndexMapping(""))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = engine.Close()
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	l := NewLocator(db, engine)
	for _, h := range []*models.Hospital{
		{Name: "Central Emergency", City: "Springfield", Latitude: 40.00, Longitude: -74.00, Emergency: true, Specialties: datatypes.JSONSlice[string]{"cardiology"}},
		{Name: "Riverside Clinic", City: "Springfield", Latitude: 40.02, Longitude: -74.00},
		{Name: "North Trauma Center", City: "Capital City", Latitude: 41.00, Longitude: -74.00, Emergency: true, Specialties: datatypes.JSONSlice[string]{"trauma"}},
	} {
		require.NoError(t, l.Add(context.Background(), h))
	}
	return l
}

func names(rs []Result) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.Name)
	}
	return out
}

func TestSearchNearestWithinRadius(t *testing.T) {
	l := newTestLocator(t)
	lat, lng := 40.03, -74.0
	rs, err := l.Search(context.Background(), Query{Lat: &lat, Lng: &lng, RadiusKm: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"Riverside Clinic", "Central Emergency"}, names(rs))
	require.NotNil(t, rs[0].DistanceKm)
	assert.Less(t, *rs[0].DistanceKm, *rs[1].DistanceKm)
}

func TestSearchFilters(t *testing.T) {
	l := newTestLocator(t)
	rs, err := l.Search(context.Background(), Query{EmergencyOnly: true})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Central Emergency", "North Trauma Center"}, names(rs))

	rs, err = l.Search(context.Background(), Query{Text: "springfield", Specialty: "cardiology"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Central Emergency"}, names(rs))
	assert.Nil(t, rs[0].DistanceKm)
}

func TestReindexAndSuggest(t *testing.T) {
	l := newTestLocator(t)
	n, err := l.Reindex(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := l.Suggest(context.Background(), "nor")
	require.NoError(t, err)
	assert.Equal(t, []string{"North Trauma Center"}, got)
}
