package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"laundry-share-backend/internal/errs"
	"laundry-share-backend/internal/model"
	"laundry-share-backend/internal/mw"
	"laundry-share-backend/internal/store"
)

type putSubscriptionRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
	P256DH   string `json:"p256dh" binding:"required"`
	Auth     string `json:"auth" binding:"required"`
}

// PutSubscription creates or replaces the caller's push subscription.
func (h *Handler) PutSubscription(c *gin.Context) {
	var req putSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "endpoint, p256dh and auth are required")
		return
	}

	sub := model.PushSubscription{
		Endpoint:  req.Endpoint,
		UserID:    mw.CurrentUser(c).ID,
		P256DH:    req.P256DH,
		Auth:      req.Auth,
		CreatedAt: h.clock.Now(),
	}
	if err := h.store.SaveSubscription(c.Request.Context(), &sub); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusCreated)
}

type deleteSubscriptionRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

// DeleteSubscription removes one of the caller's subscriptions.
func (h *Handler) DeleteSubscription(c *gin.Context) {
	var req deleteSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "endpoint is required")
		return
	}
	if _, err := h.ownSubscription(c, req.Endpoint); err != nil {
		h.fail(c, err)
		return
	}
	if err := h.store.DeleteSubscription(c.Request.Context(), req.Endpoint); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// rawQueryParam reads key without URL decoding; push endpoints are
// compared byte for byte.
func rawQueryParam(rawQuery, key string) (string, bool) {
	for _, kv := range strings.Split(rawQuery, "&") {
		if strings.HasPrefix(kv, key+"=") {
			return kv[len(key)+1:], true
		}
	}
	return "", false
}

// GetSubscription reports whether the given endpoint is registered for the caller.
func (h *Handler) GetSubscription(c *gin.Context) {
	raw, ok := rawQueryParam(c.Request.URL.RawQuery, "endpoint")
	if !ok || raw == "" {
		h.badRequest(c, "endpoint is required")
		return
	}
	sub, err := h.ownSubscription(c, raw)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"endpoint": sub.Endpoint, "createdAt": sub.CreatedAt})
}

func (h *Handler) ownSubscription(c *gin.Context, endpoint string) (*model.PushSubscription, error) {
	sub, err := h.store.GetSubscription(c.Request.Context(), endpoint)
	if errors.Is(err, store.ErrNotFound) || (err == nil && sub.UserID != mw.CurrentUser(c).ID) {
		return nil, errs.New(errs.KindNotFound, "subscription not found")
	}
	return sub, err
}
