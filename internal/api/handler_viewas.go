package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"signage-control-backend/internal/viewas"
)

type switchViewAsRequest struct {
	Mode           viewas.Mode `json:"mode" binding:"required"`
	OrganizationID string      `json:"organization_id" binding:"required"`
}

// SwitchViewAs starts viewing an organization and returns a token carrying
// the new session.
func (h *Handler) SwitchViewAs(c *gin.Context) {
	var req switchViewAsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required fields: mode, organization_id"})
		return
	}

	p := principal(c)
	s, err := h.viewAs.Enter(c.Request.Context(), viewas.EnterRequest{
		StaffAccountID: p.AccountID,
		OrganizationID: req.OrganizationID,
		Mode:           req.Mode,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	token, expiresAt, err := h.issuer.Mint(p.Identity, s.Token)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"view_as":          s,
		"token":            token,
		"token_expires_at": expiresAt,
		"message":          fmt.Sprintf("Now viewing as %s for %s", s.Mode, s.OrganizationName),
	})
}

// ExitViewAs ends the caller's session and returns a plain token.
func (h *Handler) ExitViewAs(c *gin.Context) {
	p := principal(c)
	res, err := h.viewAs.Exit(c.Request.Context(), p.AccountID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	body := gin.H{
		"success":       true,
		"view_as":       nil,
		"refresh_token": res.RefreshToken,
		"message":       "Returned to normal view",
	}
	token, expiresAt, err := h.issuer.Mint(p.Identity, "")
	if err != nil {
		h.respondError(c, err)
		return
	}
	body["token"] = token
	body["token_expires_at"] = expiresAt
	c.JSON(http.StatusOK, body)
}

// CurrentViewAs reports the caller's live session, if any.
func (h *Handler) CurrentViewAs(c *gin.Context) {
	s, ok := h.viewAs.Current(c.Request.Context(), principal(c).AccountID)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"active": false, "view_as": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"active":  true,
		"view_as": s,
		"organization": gin.H{
			"id":   s.OrganizationID,
			"name": s.OrganizationName,
		},
	})
}

// AvailableViewAs lists the organizations the caller may view.
func (h *Handler) AvailableViewAs(c *gin.Context) {
	orgs, err := h.viewAs.Available(c.Request.Context(), principal(c).AccountID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	out := make([]gin.H, 0, len(orgs))
	for _, o := range orgs {
		out = append(out, gin.H{"id": o.ID, "name": o.Name, "created_at": o.CreatedAt})
	}
	c.JSON(http.StatusOK, gin.H{"organizations": out, "count": len(out)})
}
