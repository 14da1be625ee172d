package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"signage-control-backend/internal/deploy"
)

type issueDeploymentRequest struct {
	DeviceUUIDs    []string `json:"device_uuids" binding:"required"`
	PayloadRef     string   `json:"payload_ref" binding:"required"`
	OrganizationID string   `json:"organization_id"`
}

// IssueDeployment pushes a payload to devices of the caller's organization.
// Staff outside view as name the organization in the body.
func (h *Handler) IssueDeployment(c *gin.Context) {
	var req issueDeploymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p := principal(c)
	orgID := p.EffectiveOrganizationID()
	if orgID == "" {
		orgID = req.OrganizationID
	}
	if !p.CanAccessOrg(orgID) {
		forbidOrg(c)
		return
	}

	id, err := h.deployments.IssueDeployment(c.Request.Context(), deploy.IssueRequest{
		OrganizationID: orgID,
		IssuedBy:       p.AccountID,
		DeviceUUIDs:    req.DeviceUUIDs,
		PayloadRef:     req.PayloadRef,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	d, err := h.deployments.Get(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, d)
}

// GetDeployment returns a deployment with the state of every target.
func (h *Handler) GetDeployment(c *gin.Context) {
	d, err := h.deployments.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !principal(c).CanAccessOrg(d.OrganizationID) {
		forbidOrg(c)
		return
	}
	c.JSON(http.StatusOK, d)
}
