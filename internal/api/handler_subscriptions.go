package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"signage-control-backend/internal/model"
)

type putSubscriptionRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
	P256DH   string `json:"p256dh" binding:"required"`
	Auth     string `json:"auth" binding:"required"`
}

// PutSubscription handles the creation or replacement of a subscription.
// The subscription receives delivery failures of the organization the caller
// is acting in.
func (h *Handler) PutSubscription(c *gin.Context) {
	var req putSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	p := principal(c)
	orgID := p.EffectiveOrganizationID()
	if orgID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No organization selected"})
		return
	}

	subscription := model.PushSubscription{
		Endpoint:       req.Endpoint,
		P256DH:         req.P256DH,
		Auth:           req.Auth,
		AccountID:      p.AccountID,
		OrganizationID: orgID,
	}
	if err := h.store.UpsertPushSubscription(c.Request.Context(), &subscription); err != nil {
		h.respondError(c, err)
		return
	}

	c.Status(http.StatusCreated)
}

type deleteSubscriptionRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

// DeleteSubscription handles the deletion of a subscription.
func (h *Handler) DeleteSubscription(c *gin.Context) {
	var req deleteSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	sub, err := h.store.GetPushSubscription(c.Request.Context(), req.Endpoint)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if sub.AccountID != principal(c).AccountID {
		c.JSON(http.StatusNotFound, gin.H{"error": "subscription not found"})
		return
	}

	if err := h.store.DeletePushSubscription(c.Request.Context(), req.Endpoint); err != nil {
		h.respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// rawQueryParam returns the parameter as sent. Push endpoints are compared
// without URL decoding.
func rawQueryParam(rawQuery, key string) (string, bool) {
	for _, kv := range strings.Split(rawQuery, "&") {
		if strings.HasPrefix(kv, key+"=") {
			return kv[len(key)+1:], true
		}
	}
	return "", false
}

// GetSubscription handles the retrieval of a subscription.
func (h *Handler) GetSubscription(c *gin.Context) {
	raw, ok := rawQueryParam(c.Request.URL.RawQuery, "endpoint")
	if !ok || raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "endpoint is required"})
		return
	}

	sub, err := h.store.GetPushSubscription(c.Request.Context(), raw)
	if err != nil || sub.AccountID != principal(c).AccountID {
		if err == nil || statusFor(err) == http.StatusNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "subscription not found"})
		} else {
			h.respondError(c, err)
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"endpoint": sub.Endpoint, "organization_id": sub.OrganizationID})
}

// GetVAPIDPublicKey returns the application server key browsers subscribe
// with.
func (h *Handler) GetVAPIDPublicKey(c *gin.Context) {
	if h.webpush == nil || h.webpush.VAPIDPublicKey == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Push notifications are not configured"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"public_key": h.webpush.VAPIDPublicKey})
}
