package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bigdegenenergy/open-cloud-ops/meter/internal/access"
	"github.com/bigdegenenergy/open-cloud-ops/meter/internal/analytics"
)

// GetAnalytics serves /analytics/usage, /analytics/costs and
// /analytics/revenue, which all return the same composite result.
// Query params: period (default daily), startDate, endDate (required,
// YYYY-MM-DD), customerId, userId, vendor, model, apiType, top.
func (h *Handlers) GetAnalytics(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	scope, err := access.ResolveScope(p, c.Query("customerId"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	q := analytics.Query{
		Period:     c.DefaultQuery("period", "daily"),
		CustomerID: scope,
		UserID:     c.Query("userId"),
		Vendor:     c.Query("vendor"),
		Model:      c.Query("model"),
		APIType:    c.Query("apiType"),
	}
	if q.StartDate, err = requiredDate(c, "startDate"); err != nil {
		h.respondError(c, err)
		return
	}
	if q.EndDate, err = requiredDate(c, "endDate"); err != nil {
		h.respondError(c, err)
		return
	}
	if q.TopN, err = intParam(c, "top"); err != nil {
		h.respondError(c, err)
		return
	}

	res, err := h.analytics.GetAnalytics(c.Request.Context(), q)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func requiredDate(c *gin.Context, name string) (time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return time.Time{}, fmt.Errorf("%w: %s is required", analytics.ErrInvalidQuery, name)
	}
	return analytics.ParseDate(raw)
}
