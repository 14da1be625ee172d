package api

import (
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"signage-control-backend/config"
	"signage-control-backend/internal/auth"
	"signage-control-backend/internal/mw"
)

// Sockets are the websocket endpoints mounted next to the REST API.
type Sockets struct {
	Device    gin.HandlerFunc
	Dashboard gin.HandlerFunc
}

// NewRouter creates and configures a new Gin router.
func NewRouter(cfg config.ServerConfig, h *Handler, sockets Sockets, log zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(mw.RequestLogger(log), mw.Recovery(log))

	rateLimiter := mw.RateLimiter(mw.NewIPRateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst, 0))
	cacheStore := cache.New(cfg.CacheTTL, 2*cfg.CacheTTL)
	caching := mw.Cache(cacheStore, cfg.CacheTTL)
	authenticate := auth.Authenticate(h.issuer, h.viewAs)

	if sockets.Device != nil {
		r.GET("/ws/device", sockets.Device)
	}
	if sockets.Dashboard != nil {
		r.GET("/ws/dashboard", authenticate, auth.Require(auth.CapDevicesView), sockets.Dashboard)
	}

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		// Device facing, unauthenticated.
		api.GET("/health", h.Health)
		api.GET("/device/enrollment/:device_uuid", h.GetEnrollment)
		api.POST("/pairing/generate", h.GeneratePairingCode)
		api.GET("/pairing/status/:device_uuid", h.GetPairingStatus)
		api.GET("/vapid_public_key", h.GetVAPIDPublicKey)

		user := api.Group("", authenticate)

		user.GET("/players/:id/config", auth.Require(auth.CapDevicesView), h.GetPlayerConfig)
		user.POST("/players/:id/config/refresh", auth.Require(auth.CapDevicesPair), h.RefreshPlayerConfig)
		user.DELETE("/players/:id/organization", auth.Require(auth.CapDevicesPair), h.UnassignPlayer)
		user.POST("/pairing/verify", auth.Require(auth.CapDevicesPair), h.VerifyPairingCode)

		user.POST("/deployments", auth.Require(auth.CapDeploymentsIssue), h.IssueDeployment)
		user.GET("/deployments/:id", auth.Require(auth.CapDevicesView), h.GetDeployment)

		staff := user.Group("/view-as", auth.Require(auth.CapImpersonate))
		staff.GET("/current", h.CurrentViewAs)
		staff.POST("/switch", h.SwitchViewAs)
		staff.POST("/exit", h.ExitViewAs)
		staff.GET("/available", caching, h.AvailableViewAs)

		user.PATCH("/organizations/:org_id/settings", auth.Require(auth.CapSettingsWrite), h.UpdateOrganizationSettings)
		user.GET("/audit-logs", auth.Require(auth.CapAuditView), caching, h.ListAuditLogs)

		user.GET("/subscriptions", auth.Require(auth.CapDevicesView), h.GetSubscription)
		user.PUT("/subscriptions", auth.Require(auth.CapDevicesView), h.PutSubscription)
		user.DELETE("/subscriptions", auth.Require(auth.CapDevicesView), h.DeleteSubscription)
	}

	return r
}
