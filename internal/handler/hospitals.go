package handlers

import (
	"net/http"
	"strings"

	"MediLink/internal/hospital"
	"MediLink/internal/models"
	"MediLink/pkg/errors"
	"MediLink/pkg/i18n"
	"MediLink/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cast"
)

// handleSearchHospitals ?q=&lat=&lng=&radius=&emergency=&specialty=&limit=
func (h *Handlers) handleSearchHospitals(c *gin.Context) {
	if h.locator == nil {
		h.fail(c, errors.WithCode(http.StatusServiceUnavailable, "hospital search unavailable"))
		return
	}
	q := hospital.Query{
		Text:          strings.TrimSpace(c.Query("q")),
		RadiusKm:      cast.ToFloat64(c.Query("radius")),
		EmergencyOnly: cast.ToBool(c.Query("emergency")),
		Specialty:     strings.TrimSpace(c.Query("specialty")),
		Limit:         cast.ToInt(c.Query("limit")),
	}
	if lat, lng, ok := queryPoint(c); ok {
		q.Lat, q.Lng = &lat, &lng
	}
	results, err := h.locator.Search(c.Request.Context(), q)
	if err != nil {
		h.fail(c, errors.Wrap(err, "search hospitals"))
		return
	}
	response.Success(c, "success", results)
}

func (h *Handlers) handleSuggestHospitals(c *gin.Context) {
	prefix := strings.TrimSpace(c.Query("prefix"))
	if prefix == "" || h.locator == nil {
		response.Success(c, "success", []string{})
		return
	}
	names, err := h.locator.Suggest(c.Request.Context(), prefix)
	if err != nil {
		h.fail(c, errors.Wrap(err, "suggest hospitals"))
		return
	}
	response.Success(c, "success", names)
}

// handleCreateHospital 管理员维护医院目录，写库后同步索引
func (h *Handlers) handleCreateHospital(c *gin.Context) {
	var hosp models.Hospital
	if err := c.ShouldBindJSON(&hosp); err != nil {
		h.fail(c, errors.Validation("body", i18n.MsgFieldRequired))
		return
	}
	hosp.ID = 0
	if strings.TrimSpace(hosp.Name) == "" {
		h.fail(c, errors.Validation("name", i18n.MsgFieldRequired))
		return
	}
	if h.locator == nil {
		h.fail(c, errors.WithCode(http.StatusServiceUnavailable, "hospital search unavailable"))
		return
	}
	if err := h.locator.Add(c.Request.Context(), &hosp); err != nil {
		h.fail(c, err)
		return
	}
	response.Created(c, "success", hosp)
}
