package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bigdegenenergy/open-cloud-ops/meter/internal/analytics"
	"github.com/bigdegenenergy/open-cloud-ops/meter/internal/usage"
	"github.com/bigdegenenergy/open-cloud-ops/meter/pkg/models"
)

// IngestEvent prices and records one usage event. Non-superadmin callers
// may only record events for their own customer.
func (h *Handlers) IngestEvent(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	var req usage.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, fmt.Errorf("%w: %v", usage.ErrInvalidEvent, err))
		return
	}
	event, err := h.usage.Ingest(c.Request.Context(), p, req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, event)
}

// ListEvents returns a page of events.
// Query params: customerId, userId, vendor, model, apiType, startDate,
// endDate (YYYY-MM-DD or RFC3339), page (0-based), size.
func (h *Handlers) ListEvents(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	q := usage.EventQuery{EventFilter: models.EventFilter{
		CustomerID: c.Query("customerId"),
		UserID:     c.Query("userId"),
		Vendor:     c.Query("vendor"),
		Model:      c.Query("model"),
		APIType:    c.Query("apiType"),
	}}
	var err error
	if q.Start, err = parseInstant(c.Query("startDate"), false); err != nil {
		h.respondError(c, err)
		return
	}
	if q.End, err = parseInstant(c.Query("endDate"), true); err != nil {
		h.respondError(c, err)
		return
	}
	if q.Page, err = intParam(c, "page"); err != nil {
		h.respondError(c, err)
		return
	}
	if q.Size, err = intParam(c, "size"); err != nil {
		h.respondError(c, err)
		return
	}

	page, err := h.usage.ListEvents(c.Request.Context(), p, q)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// GetEvent returns one event by id.
func (h *Handlers) GetEvent(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	event, err := h.usage.GetEvent(c.Request.Context(), p, c.Param("eventId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, event)
}

// parseInstant accepts a date or an RFC3339 timestamp. A bare date used as
// an upper bound covers the whole day.
func parseInstant(s string, endOfDay bool) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := analytics.ParseDate(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q is neither YYYY-MM-DD nor RFC3339", errBadRequest, s)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

func intParam(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", errBadRequest, name)
	}
	return n, nil
}
