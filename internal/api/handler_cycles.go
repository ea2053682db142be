package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"laundry-share-backend/internal/billing"
	"laundry-share-backend/internal/model"
	"laundry-share-backend/internal/mw"
)

type cycleResponse struct {
	model.Cycle
	Owner string  `json:"owner"`
	Share float64 `json:"share"`
}

func newCycleResponse(c model.Cycle, viewer int64) cycleResponse {
	owner := ""
	if c.User != nil {
		owner = c.User.DisplayName()
	}
	return cycleResponse{Cycle: c, Owner: owner, Share: billing.UserPortion(c, viewer)}
}

// GetStatus reports whether the caller may start a cycle.
func (h *Handler) GetStatus(c *gin.Context) {
	st, err := h.cycles.Status(c.Request.Context(), mw.CurrentUser(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// StartCycle handles POST /api/cycle/start.
func (h *Handler) StartCycle(c *gin.Context) {
	user := mw.CurrentUser(c)
	cyc, err := h.cycles.Start(c.Request.Context(), user)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, newCycleResponse(*cyc, user.ID))
}

// StopCycle handles POST /api/cycle/stop.
func (h *Handler) StopCycle(c *gin.Context) {
	user := mw.CurrentUser(c)
	cyc, err := h.cycles.Stop(c.Request.Context(), user)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"cycle":     newCycleResponse(*cyc, user.ID),
		"discarded": cyc.CostValue() <= 0,
	})
}

// ReleaseDoor handles POST /api/cycle/door.
func (h *Handler) ReleaseDoor(c *gin.Context) {
	if err := h.cycles.ReleaseDoor(c.Request.Context(), mw.CurrentUser(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// ListCycles returns the caller's cycle history, newest first.
func (h *Handler) ListCycles(c *gin.Context) {
	user := mw.CurrentUser(c)
	cycles, err := h.cycles.History(c.Request.Context(), user)
	if err != nil {
		h.fail(c, err)
		return
	}
	resp := make([]cycleResponse, 0, len(cycles))
	for i := len(cycles) - 1; i >= 0; i-- {
		resp = append(resp, newCycleResponse(cycles[i], user.ID))
	}
	c.JSON(http.StatusOK, resp)
}

type splitRequest struct {
	UserIDs []int64 `json:"userIds" binding:"required,min=1"`
}

// SplitCycle handles POST /api/cycles/:id/split.
func (h *Handler) SplitCycle(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		h.badRequest(c, "Invalid cycle ID")
		return
	}
	var req splitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "userIds must list at least one user")
		return
	}
	if err := h.cycles.Split(c.Request.Context(), mw.CurrentUser(c), id, req.UserIDs); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// AcceptSplit handles POST /api/cycles/:id/split/accept.
func (h *Handler) AcceptSplit(c *gin.Context) {
	h.cycleAction(c, h.cycles.AcceptSplit)
}

// RejectSplit handles POST /api/cycles/:id/split/reject.
func (h *Handler) RejectSplit(c *gin.Context) {
	h.cycleAction(c, h.cycles.RejectSplit)
}

// MarkPaid handles POST /api/cycles/:id/paid.
func (h *Handler) MarkPaid(c *gin.Context) {
	h.cycleAction(c, h.cycles.MarkPaid)
}

func (h *Handler) cycleAction(c *gin.Context, action func(ctx context.Context, user *model.User, cycleID int64) error) {
	id, ok := idParam(c, "id")
	if !ok {
		h.badRequest(c, "Invalid cycle ID")
		return
	}
	if err := action(c.Request.Context(), mw.CurrentUser(c), id); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// MarkSplitPaid handles POST /api/cycles/:id/splits/:user_id/paid.
func (h *Handler) MarkSplitPaid(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		h.badRequest(c, "Invalid cycle ID")
		return
	}
	userID, ok := idParam(c, "user_id")
	if !ok {
		h.badRequest(c, "Invalid user ID")
		return
	}
	if err := h.cycles.MarkSplitPaid(c.Request.Context(), mw.CurrentUser(c), id, userID); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
