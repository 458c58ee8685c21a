package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/bigdegenenergy/open-cloud-ops/meter/internal/usage"
	"github.com/bigdegenenergy/open-cloud-ops/meter/pkg/models"
)

// bindJSON decodes the request body, writing 400 on failure.
func (h *Handlers) bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		h.respondError(c, fmt.Errorf("%w: %v", usage.ErrInvalidInput, err))
		return false
	}
	return true
}

func listResponse[T any](c *gin.Context, items []T) {
	if items == nil {
		items = []T{}
	}
	c.JSON(http.StatusOK, gin.H{"count": len(items), "data": items})
}

// ---------------------------------------------------------------------------
// Customers
// ---------------------------------------------------------------------------

func (h *Handlers) ListCustomers(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	list, err := h.usage.ListCustomers(c.Request.Context(), p)
	if err != nil {
		h.respondError(c, err)
		return
	}
	listResponse(c, list)
}

// SearchCustomers matches ?q= against organization name and contact email.
func (h *Handlers) SearchCustomers(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	list, err := h.usage.SearchCustomers(c.Request.Context(), p, c.Query("q"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	listResponse(c, list)
}

func (h *Handlers) GetCustomer(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	cust, err := h.usage.GetCustomer(c.Request.Context(), p, c.Param("customerId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cust)
}

func (h *Handlers) CreateCustomer(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var in usage.CustomerInput
	if !h.bindJSON(c, &in) {
		return
	}
	cust, err := h.usage.CreateCustomer(c.Request.Context(), p, in)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cust)
}

func (h *Handlers) UpdateCustomer(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var in usage.CustomerInput
	if !h.bindJSON(c, &in) {
		return
	}
	cust, err := h.usage.UpdateCustomer(c.Request.Context(), p, c.Param("customerId"), in)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cust)
}

// MarkupRequest is the body of PATCH /customers/:customerId/markup.
type MarkupRequest struct {
	MarkupPercentage *decimal.Decimal `json:"markup_percentage"`
}

func (h *Handlers) UpdateCustomerMarkup(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req MarkupRequest
	if !h.bindJSON(c, &req) {
		return
	}
	if req.MarkupPercentage == nil {
		h.respondError(c, fmt.Errorf("%w: markup_percentage is required", usage.ErrInvalidInput))
		return
	}
	cust, err := h.usage.UpdateCustomerMarkup(c.Request.Context(), p, c.Param("customerId"), *req.MarkupPercentage)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cust)
}

func (h *Handlers) DeleteCustomer(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	if err := h.usage.DeleteCustomer(c.Request.Context(), p, c.Param("customerId")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

func (h *Handlers) ListUsers(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	list, err := h.usage.ListUsers(c.Request.Context(), p)
	if err != nil {
		h.respondError(c, err)
		return
	}
	listResponse(c, list)
}

// SearchUsers matches ?q= against name and email.
func (h *Handlers) SearchUsers(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	list, err := h.usage.SearchUsers(c.Request.Context(), p, c.Query("q"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	listResponse(c, list)
}

func (h *Handlers) GetUser(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	u, err := h.usage.GetUser(c.Request.Context(), p, c.Param("userId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *Handlers) CreateUser(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var in usage.UserInput
	if !h.bindJSON(c, &in) {
		return
	}
	u, err := h.usage.CreateUser(c.Request.Context(), p, in)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, u)
}

func (h *Handlers) UpdateUser(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var in usage.UserInput
	if !h.bindJSON(c, &in) {
		return
	}
	u, err := h.usage.UpdateUser(c.Request.Context(), p, c.Param("userId"), in)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *Handlers) DeleteUser(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	if err := h.usage.DeleteUser(c.Request.Context(), p, c.Param("userId")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Pricing
// ---------------------------------------------------------------------------

func (h *Handlers) ListPricing(c *gin.Context) {
	if _, ok := principal(c); !ok {
		return
	}
	list, err := h.usage.ListPricing(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	listResponse(c, list)
}

func (h *Handlers) UpsertPricing(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var entry models.PricingEntry
	if !h.bindJSON(c, &entry) {
		return
	}
	saved, err := h.usage.UpsertPricing(c.Request.Context(), p, entry)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, saved)
}
