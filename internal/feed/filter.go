package feed

import (
	"fmt"
	"strings"
	"time"

	"MediLink/internal/models"
)

// Recency 时间窗口，按 createdAt 计算
type Recency string

const (
	RecencyAll        Recency = "ALL"
	RecencyLastHour   Recency = "LAST_HOUR"
	RecencyLast6Hours Recency = "LAST_6_HOURS"
	RecencyToday      Recency = "TODAY"
)

// Filter 各维度 AND 组合；零值表示不过滤
type Filter struct {
	Status        models.AlertStatus
	Urgency       models.Urgency
	MaxDistanceKm float64
	Recency       Recency
	Text          string
}

// Match 设置了距离上限时，没有距离的警报不匹配
func (f Filter) Match(a *models.EmergencyAlert, now time.Time) bool {
	if f.Status != "" && f.Status != "ALL" && a.Status != f.Status {
		return false
	}
	if f.Urgency != "" && f.Urgency != "ALL" && a.Urgency != f.Urgency {
		return false
	}
	if f.MaxDistanceKm > 0 && (a.Distance == nil || *a.Distance > f.MaxDistanceKm) {
		return false
	}
	if !f.withinRecency(a.CreatedAt, now) {
		return false
	}
	if text := strings.TrimSpace(f.Text); text != "" {
		return matchText(a, strings.ToLower(text))
	}
	return true
}

func (f Filter) withinRecency(created, now time.Time) bool {
	switch f.Recency {
	case RecencyLastHour:
		return now.Sub(created) <= time.Hour
	case RecencyLast6Hours:
		return now.Sub(created) <= 6*time.Hour
	case RecencyToday:
		y1, m1, d1 := created.In(now.Location()).Date()
		y2, m2, d2 := now.Date()
		return y1 == y2 && m1 == m2 && d1 == d2
	default:
		return true
	}
}

func matchText(a *models.EmergencyAlert, needle string) bool {
	fields := []string{a.Description, a.RequesterName()}
	// 位置文本：地址加上展示用的坐标
	if a.Location != nil {
		fields = append(fields, a.Location.Address, fmt.Sprintf("%.5f, %.5f", a.Location.Latitude, a.Location.Longitude))
	}
	for _, s := range fields {
		if strings.Contains(strings.ToLower(s), needle) {
			return true
		}
	}
	return false
}
