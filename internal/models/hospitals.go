package models

import (
	"time"

	"MediLink/pkg/errors"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Hospital 医院目录，检索走 bleve 索引
type Hospital struct {
	ID          uint                        `json:"id" gorm:"primaryKey"`
	Name        string                      `json:"name" gorm:"size:255;index"`
	Address     string                      `json:"address" gorm:"size:512"`
	City        string                      `json:"city" gorm:"size:128;index"`
	Phone       string                      `json:"phone,omitempty" gorm:"size:32"`
	Latitude    float64                     `json:"latitude"`
	Longitude   float64                     `json:"longitude"`
	Emergency   bool                        `json:"emergency"`
	Specialties datatypes.JSONSlice[string] `json:"specialties"`
	CreatedAt   time.Time                   `json:"createdAt"`
	UpdatedAt   time.Time                   `json:"updatedAt"`
}

func CreateHospital(db *gorm.DB, h *Hospital) error {
	if err := db.Create(h).Error; err != nil {
		return errors.Wrap(err, "create hospital")
	}
	return nil
}

func ListHospitals(db *gorm.DB) ([]Hospital, error) {
	var hs []Hospital
	if err := db.Order("id ASC").Find(&hs).Error; err != nil {
		return nil, errors.Wrap(err, "list hospitals")
	}
	return hs, nil
}

// GetHospitalsByIDs 结果顺序与 ids 一致，缺失的 id 跳过
func GetHospitalsByIDs(db *gorm.DB, ids []uint) ([]Hospital, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var hs []Hospital
	if err := db.Where("id IN ?", ids).Find(&hs).Error; err != nil {
		return nil, errors.Wrap(err, "get hospitals")
	}
	byID := make(map[uint]Hospital, len(hs))
	for _, h := range hs {
		byID[h.ID] = h
	}
	out := make([]Hospital, 0, len(ids))
	for _, id := range ids {
		if h, ok := byID[id]; ok {
			out = append(out, h)
		}
	}
	return out, nil
}
