package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"signage-control-backend/internal/pairing"
)

// GetEnrollment lets a device learn who it is paired to.
func (h *Handler) GetEnrollment(c *gin.Context) {
	player, err := h.store.GetPlayerByDeviceUUID(c.Request.Context(), c.Param("device_uuid"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"device_name":     player.Name,
		"account_name":    h.configs.Builder().AccountName(c.Request.Context(), player),
		"organization_id": player.OrganizationID,
		"paired":          player.Paired(),
	})
}

// GetPlayerConfig returns the config a player would receive right now.
func (h *Handler) GetPlayerConfig(c *gin.Context) {
	player, err := h.store.GetPlayerByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !principal(c).CanAccessOrg(player.OrgID()) {
		forbidOrg(c)
		return
	}

	payload, err := h.configs.Builder().Build(c.Request.Context(), player)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, payload)
}

// RefreshPlayerConfig pushes a freshly built config to a connected player.
func (h *Handler) RefreshPlayerConfig(c *gin.Context) {
	player, err := h.store.GetPlayerByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !principal(c).CanAccessOrg(player.OrgID()) {
		forbidOrg(c)
		return
	}

	sent, err := h.configs.Push(c.Request.Context(), player)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !sent {
		c.JSON(http.StatusConflict, gin.H{"error": "Player is not connected", "delivered": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"delivered": true})
}

// UnassignPlayer removes a player from its organization.
func (h *Handler) UnassignPlayer(c *gin.Context) {
	ctx := c.Request.Context()
	player, err := h.store.GetPlayerByID(ctx, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	p := principal(c)
	if !p.CanAccessOrg(player.OrgID()) {
		forbidOrg(c)
		return
	}

	updated, err := h.pairing.Unassign(ctx, pairing.Actor{AccountID: p.AccountID, Email: p.Email}, player.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "player": updated})
}
