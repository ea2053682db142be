package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"laundry-share-backend/internal/model"
	"laundry-share-backend/internal/mw"
)

type reservationRequest struct {
	Start time.Time `json:"start" binding:"required"`
	End   time.Time `json:"end" binding:"required"`
}

type reservationResponse struct {
	model.Reservation
	Owner string `json:"owner"`
	Mine  bool   `json:"mine"`
}

func newReservationResponse(r model.Reservation, viewer int64) reservationResponse {
	owner := ""
	if r.User != nil {
		owner = r.User.DisplayName()
	}
	return reservationResponse{Reservation: r, Owner: owner, Mine: r.OwnedBy(viewer)}
}

// ListReservations returns current and upcoming reservations.
func (h *Handler) ListReservations(c *gin.Context) {
	rs, err := h.reservations.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	viewer := mw.CurrentUser(c).ID
	resp := make([]reservationResponse, 0, len(rs))
	for _, r := range rs {
		resp = append(resp, newReservationResponse(r, viewer))
	}
	c.JSON(http.StatusOK, resp)
}

// CreateReservation handles POST /api/reservations.
func (h *Handler) CreateReservation(c *gin.Context) {
	var req reservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "start and end must be RFC 3339 timestamps")
		return
	}
	user := mw.CurrentUser(c)
	r, err := h.reservations.Create(c.Request.Context(), user, req.Start, req.End)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, newReservationResponse(*r, user.ID))
}

// UpdateReservation handles PUT /api/reservations/:id.
func (h *Handler) UpdateReservation(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		h.badRequest(c, "Invalid reservation ID")
		return
	}
	var req reservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "start and end must be RFC 3339 timestamps")
		return
	}
	user := mw.CurrentUser(c)
	r, err := h.reservations.Update(c.Request.Context(), user, id, req.Start, req.End)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newReservationResponse(*r, user.ID))
}

// DeleteReservation handles DELETE /api/reservations/:id.
func (h *Handler) DeleteReservation(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		h.badRequest(c, "Invalid reservation ID")
		return
	}
	if err := h.reservations.Delete(c.Request.Context(), mw.CurrentUser(c), id); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
