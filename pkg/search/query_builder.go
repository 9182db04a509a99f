package search

import (
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	q "github.com/blevesearch/bleve/v2/search/query"
)

func buildQuery(req SearchRequest, defaultFields []string) q.Query {
	var must []q.Query

	// 关键字：每个字段一个 match，任一命中即可；不走 QueryString，避免用户输入里的语法字符
	if kw := strings.TrimSpace(req.Keyword); kw != "" {
		fields := req.SearchFields
		if len(fields) == 0 {
			fields = defaultFields
		}
		if len(fields) == 0 {
			must = append(must, bleve.NewMatchQuery(kw))
		} else {
			qs := make([]q.Query, 0, len(fields))
			for _, f := range fields {
				mq := bleve.NewMatchQuery(kw)
				mq.SetField(f)
				qs = append(qs, mq)
			}
			must = append(must, bleve.NewDisjunctionQuery(qs...))
		}
	}

	// Term 等值过滤
	for f, vs := range req.MustTerms {
		if len(vs) == 1 {
			tq := bleve.NewTermQuery(vs[0])
			tq.SetField(f)
			must = append(must, tq)
		} else if len(vs) > 1 {
			qs := make([]q.Query, 0, len(vs))
			for _, v := range vs {
				tq := bleve.NewTermQuery(v)
				tq.SetField(f)
				qs = append(qs, tq)
			}
			must = append(must, bleve.NewDisjunctionQuery(qs...))
		}
	}
	for f, v := range req.MustBools {
		bq := bleve.NewBoolFieldQuery(v)
		bq.SetField(f)
		must = append(must, bq)
	}

	// 地理半径
	if g := req.Geo; g != nil && g.RadiusKm > 0 {
		gq := bleve.NewGeoDistanceQuery(g.Lon, g.Lat, formatKm(g.RadiusKm))
		gq.SetField(g.Field)
		must = append(must, gq)
	}

	if len(must) == 0 {
		return bleve.NewMatchAllQuery()
	}
	boolQ := bleve.NewBooleanQuery()
	boolQ.AddMust(must...)
	return boolQ
}

func formatKm(km float64) string {
	return strconv.FormatFloat(km, 'f', -1, 64) + "km"
}
