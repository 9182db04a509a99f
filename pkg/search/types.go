package search

import "time"

// Config 索引配置；IndexPath 为空时使用内存索引
type Config struct {
	IndexPath           string
	DefaultAnalyzer     string
	DefaultSearchFields []string
	QueryTimeout        time.Duration
	BatchSize           int
}

type Doc struct {
	ID     string
	Type   string
	Fields map[string]any
}

// GeoDistanceFilter 以 (Lat, Lon) 为圆心、RadiusKm 为半径过滤
type GeoDistanceFilter struct {
	Field    string
	Lat, Lon float64
	RadiusKm float64
}

// GeoSort 按到某点的距离升序
type GeoSort struct {
	Field    string
	Lat, Lon float64
}

type SearchRequest struct {
	// 关键字，按字段 OR
	Keyword      string
	SearchFields []string

	// 结构化 Term
	MustTerms map[string][]string
	MustBools map[string]bool

	Geo     *GeoDistanceFilter
	GeoSort *GeoSort

	// 排序与分页
	SortBy []string
	From   int
	Size   int

	IncludeFields []string
}

type Hit struct {
	ID     string
	Score  float64
	Fields map[string]any
	Sort   []string
}

type SearchResult struct {
	Total uint64
	Took  time.Duration
	Hits  []Hit
}
