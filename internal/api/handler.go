package api

import (
	"net/http"
	"strconv"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"laundry-share-backend/internal/billing"
	"laundry-share-backend/internal/broker"
	"laundry-share-backend/internal/clock"
	"laundry-share-backend/internal/cycle"
	"laundry-share-backend/internal/errs"
	"laundry-share-backend/internal/mw"
	"laundry-share-backend/internal/reservation"
	"laundry-share-backend/internal/scraper"
	"laundry-share-backend/internal/store"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store        store.Store
	cycles       *cycle.Manager
	reservations *reservation.Manager
	billing      *billing.Service
	appliance    *scraper.Service
	events       *broker.Broker
	clock        clock.Clock
	webpush      *webpush.Options
	log          *zap.SugaredLogger
}

// Services groups the components the handlers delegate to.
type Services struct {
	Cycles       *cycle.Manager
	Reservations *reservation.Manager
	Billing      *billing.Service
	Appliance    *scraper.Service
	Events       *broker.Broker
	Clock        clock.Clock
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, svc Services, webpushOptions *webpush.Options, log *zap.SugaredLogger) *Handler {
	return &Handler{
		store:        s,
		cycles:       svc.Cycles,
		reservations: svc.Reservations,
		billing:      svc.Billing,
		appliance:    svc.Appliance,
		events:       svc.Events,
		clock:        svc.Clock,
		webpush:      webpushOptions,
		log:          log,
	}
}

type errorBody struct {
	Type    errs.Kind `json:"type"`
	Message string    `json:"message"`
}

// fail renders err. Typed errors keep their message; anything else is
// logged and hidden behind a generic 500.
func (h *Handler) fail(c *gin.Context, err error) {
	kind := errs.KindOf(err)
	if kind == "" {
		h.log.Errorw("request failed", "method", c.Request.Method, "path", c.FullPath(), "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": errorBody{Type: "INTERNAL", Message: errs.Message(err)}})
		return
	}
	c.AbortWithStatusJSON(errs.HTTPStatus(kind), gin.H{"error": errorBody{Type: kind, Message: errs.Message(err)}})
}

func (h *Handler) badRequest(c *gin.Context, message string) {
	h.fail(c, errs.New(errs.KindInvalidInput, message))
}

func idParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	return id, err == nil && id > 0
}

func monthsQuery(c *gin.Context, def int) int {
	n, err := strconv.Atoi(c.Query("months"))
	if err != nil || n <= 0 || n > 36 {
		return def
	}
	return n
}

// GetVAPIDPublicKey returns the VAPID public key to the client.
func (h *Handler) GetVAPIDPublicKey(c *gin.Context) {
	if h.webpush == nil || h.webpush.VAPIDPublicKey == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": errorBody{Type: "UNAVAILABLE", Message: "vapid keys are not configured"}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"public_key": h.webpush.VAPIDPublicKey})
}

type preferencesRequest struct {
	AutoStopCycle *bool `json:"autoStopCycle" binding:"required"`
}

// PutPreferences updates the caller's preferences.
func (h *Handler) PutPreferences(c *gin.Context) {
	var req preferencesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "autoStopCycle is required")
		return
	}
	user := mw.CurrentUser(c)
	if err := h.store.UpdateUserPreferences(c.Request.Context(), user.ID, *req.AutoStopCycle); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"autoStopCycle": *req.AutoStopCycle})
}
