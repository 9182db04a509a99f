package hospital

import (
	"context"
	"strconv"

	"MediLink/internal/models"
	"MediLink/pkg/logger"
	"MediLink/pkg/search"

	"github.com/blevesearch/bleve/v2/geo"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Query 医院检索条件；Lat/Lng 为 nil 时不做距离过滤和排序
type Query struct {
	Text          string
	Lat, Lng      *float64
	RadiusKm      float64
	EmergencyOnly bool
	Specialty     string
	Limit         int
}

// Result 检索结果，DistanceKm 在提供坐标时才有值
type Result struct {
	models.Hospital
	DistanceKm *float64 `json:"distanceKm,omitempty"`
}

// Locator 医院检索：数据库为准，bleve 索引负责文本和地理查询
type Locator struct {
	db     *gorm.DB
	engine search.Engine
}

func NewLocator(db *gorm.DB, engine search.Engine) *Locator {
	return &Locator{db: db, engine: engine}
}

func toDoc(h *models.Hospital) search.Doc {
	specialties := make([]string, 0, len(h.Specialties))
	specialties = append(specialties, h.Specialties...)
	return search.Doc{
		ID:   strconv.FormatUint(uint64(h.ID), 10),
		Type: search.TypeHospital,
		Fields: map[string]any{
			search.FieldName:        h.Name,
			search.FieldAddress:     h.Address,
			search.FieldCity:        h.City,
			search.FieldSpecialties: specialties,
			search.FieldEmergency:   h.Emergency,
			search.FieldLocation:    map[string]any{"lat": h.Latitude, "lon": h.Longitude},
		},
	}
}

// Reindex 从数据库全量重建索引，启动时调用
func (l *Locator) Reindex(ctx context.Context) (int, error) {
	hs, err := models.ListHospitals(l.db)
	if err != nil {
		return 0, err
	}
	docs := make([]search.Doc, 0, len(hs))
	for i := range hs {
		docs = append(docs, toDoc(&hs[i]))
	}
	if err := l.engine.IndexBatch(ctx, docs); err != nil {
		return 0, err
	}
	logger.Info("hospital index rebuilt", zap.Int("count", len(docs)))
	return len(docs), nil
}

// Add 写库并索引
func (l *Locator) Add(ctx context.Context, h *models.Hospital) error {
	if err := models.CreateHospital(l.db, h); err != nil {
		return err
	}
	return l.engine.Index(ctx, toDoc(h))
}

// Search 按距离升序；无坐标时按相关度
func (l *Locator) Search(ctx context.Context, q Query) ([]Result, error) {
	if q.Limit <= 0 || q.Limit > 100 {
		q.Limit = 20
	}
	req := search.SearchRequest{
		Keyword:       q.Text,
		SearchFields:  []string{search.FieldName, search.FieldAddress, search.FieldCity},
		Size:          q.Limit,
		IncludeFields: []string{search.FieldName},
	}
	if q.EmergencyOnly {
		req.MustBools = map[string]bool{search.FieldEmergency: true}
	}
	if q.Specialty != "" {
		req.MustTerms = map[string][]string{search.FieldSpecialties: {q.Specialty}}
	}
	if q.Lat != nil && q.Lng != nil {
		if q.RadiusKm > 0 {
			req.Geo = &search.GeoDistanceFilter{Field: search.FieldLocation, Lat: *q.Lat, Lon: *q.Lng, RadiusKm: q.RadiusKm}
		}
		req.GeoSort = &search.GeoSort{Field: search.FieldLocation, Lat: *q.Lat, Lon: *q.Lng}
	}
	res, err := l.engine.Search(ctx, req)
	if err != nil {
		return nil, err
	}
	ids := make([]uint, 0, len(res.Hits))
	for _, hit := range res.Hits {
		id, err := strconv.ParseUint(hit.ID, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, uint(id))
	}
	hs, err := models.GetHospitalsByIDs(l.db, ids)
	if err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(hs))
	for _, h := range hs {
		r := Result{Hospital: h}
		if q.Lat != nil && q.Lng != nil {
			d := geo.Haversin(h.Longitude, h.Latitude, *q.Lng, *q.Lat)
			r.DistanceKm = &d
		}
		out = append(out, r)
	}
	return out, nil
}

// Suggest 名称前缀补全
func (l *Locator) Suggest(ctx context.Context, prefix string) ([]string, error) {
	return l.engine.Suggest(ctx, search.FieldName, prefix, 5)
}
