package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"laundry-share-backend/internal/mw"
)

// GetDebt returns what the caller still owes.
func (h *Handler) GetDebt(c *gin.Context) {
	debt, err := h.billing.Debt(c.Request.Context(), mw.CurrentUser(c).ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"debt": debt})
}

// GetStatistics returns the caller's dashboard figures.
func (h *Handler) GetStatistics(c *gin.Context) {
	stats, err := h.billing.Statistics(c.Request.Context(), mw.CurrentUser(c).ID, monthsQuery(c, 6))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GetAdminStatistics returns per-user cycle counts.
func (h *Handler) GetAdminStatistics(c *gin.Context) {
	usage, err := h.billing.AdminStatistics(c.Request.Context(), mw.CurrentUser(c), monthsQuery(c, 12))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, usage)
}

type rateRequest struct {
	Rate *float64 `json:"rate" binding:"required"`
}

// PutRate stores a new price per kWh.
func (h *Handler) PutRate(c *gin.Context) {
	var req rateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "rate is required")
		return
	}
	if err := h.billing.UpdateRate(c.Request.Context(), mw.CurrentUser(c), *req.Rate); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"rate": *req.Rate})
}

// CancelRecalculation handles DELETE /api/rate/recalculation.
func (h *Handler) CancelRecalculation(c *gin.Context) {
	if err := h.billing.CancelRecalculation(c.Request.Context(), mw.CurrentUser(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetAppliance returns the cached appliance snapshot.
func (h *Handler) GetAppliance(c *gin.Context) {
	snap, stale, err := h.appliance.Snapshot(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"appliance": snap, "stale": stale})
}
