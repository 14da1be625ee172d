package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"signage-control-backend/internal/pairing"
)

type generateCodeRequest struct {
	CPUSerial  string `json:"cpu_serial"`
	DeviceUUID string `json:"device_uuid"`
}

// GeneratePairingCode is called by a device on first boot.
func (h *Handler) GeneratePairingCode(c *gin.Context) {
	var req generateCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required fields: cpu_serial, device_uuid"})
		return
	}

	code, err := h.pairing.Generate(c.Request.Context(), req.CPUSerial, req.DeviceUUID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, code)
}

type verifyCodeRequest struct {
	PairingCode string `json:"pairing_code" binding:"required"`
	DeviceName  string `json:"device_name"`
}

// VerifyPairingCode pairs the device holding the code to the caller's
// account, in the organization the caller is acting in.
func (h *Handler) VerifyPairingCode(c *gin.Context) {
	var req verifyCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required fields: pairing_code"})
		return
	}

	p := principal(c)
	vr := pairing.VerifyRequest{
		Code:       req.PairingCode,
		AccountID:  p.AccountID,
		DeviceName: req.DeviceName,
	}
	if p.ViewAs != nil {
		vr.OrganizationID = p.ViewAs.OrganizationID
	}

	player, err := h.pairing.Verify(c.Request.Context(), vr)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "player": player})
}

// GetPairingStatus is polled by a device waiting to be paired.
func (h *Handler) GetPairingStatus(c *gin.Context) {
	status, err := h.pairing.Status(c.Request.Context(), c.Param("device_uuid"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}
