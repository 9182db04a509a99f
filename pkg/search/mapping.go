package search

import (
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
)

// 文档类型
const (
	TypeHospital = "hospital"
)

// 医院文档字段
const (
	FieldName        = "name"
	FieldAddress     = "address"
	FieldCity        = "city"
	FieldSpecialties = "specialties"
	FieldEmergency   = "emergency"
	FieldLocation    = "location"
)

func BuildIndexMapping(defaultAnalyzer string) *mapping.IndexMappingImpl {
	if defaultAnalyzer == "" {
		defaultAnalyzer = standard.Name
	}
	idx := mapping.NewIndexMapping()
	idx.DefaultAnalyzer = defaultAnalyzer
	idx.TypeField = "type"

	// 文本
	text := mapping.NewTextFieldMapping()
	text.Store = true
	text.Index = true
	text.Analyzer = defaultAnalyzer
	text.IncludeInAll = true

	// 关键词
	kw := mapping.NewTextFieldMapping()
	kw.Store = true
	kw.Index = true
	kw.Analyzer = keyword.Name

	flag := mapping.NewBooleanFieldMapping()
	flag.Store = true
	flag.Index = true

	geo := mapping.NewGeoPointFieldMapping()
	geo.Store = true
	geo.Index = true

	hospital := mapping.NewDocumentMapping()
	hospital.Dynamic = false
	hospital.AddFieldMappingsAt(FieldName, text)
	hospital.AddFieldMappingsAt(FieldAddress, text)
	hospital.AddFieldMappingsAt(FieldCity, text)
	hospital.AddFieldMappingsAt(FieldSpecialties, kw)
	hospital.AddFieldMappingsAt(FieldEmergency, flag)
	hospital.AddFieldMappingsAt(FieldLocation, geo)
	idx.AddDocumentMapping(TypeHospital, hospital)

	def := mapping.NewDocumentMapping()
	def.Dynamic = false
	idx.DefaultMapping = def
	return idx
}
