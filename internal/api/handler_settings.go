package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// UpdateOrganizationSettings applies whitelisted settings fields. Unknown
// fields are ignored.
func (h *Handler) UpdateOrganizationSettings(c *gin.Context) {
	orgID := c.Param("org_id")
	if !principal(c).CanAccessOrg(orgID) {
		forbidOrg(c)
		return
	}

	var fields map[string]any
	if err := c.ShouldBindJSON(&fields); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	org, err := h.store.UpdateOrganizationSettings(c.Request.Context(), orgID, fields)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, org)
}
