package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"signage-control-backend/internal/store"
)

// ListAuditLogs returns audit entries newest first. Filters: action,
// user_id, start_date, end_date (RFC 3339) and limit.
func (h *Handler) ListAuditLogs(c *gin.Context) {
	f := store.AuditFilter{
		Action: c.Query("action"),
		UserID: c.Query("user_id"),
	}
	for param, dst := range map[string]**time.Time{"start_date": &f.StartDate, "end_date": &f.EndDate} {
		raw := c.Query(param)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + param})
			return
		}
		*dst = &t
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		f.Limit = n
	}

	logs, err := h.store.ListAuditLogs(c.Request.Context(), f)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, logs)
}
