package api

import (
	"errors"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"signage-control-backend/internal/auth"
	"signage-control-backend/internal/deploy"
	"signage-control-backend/internal/devconfig"
	"signage-control-backend/internal/pairing"
	"signage-control-backend/internal/registry"
	"signage-control-backend/internal/store"
	"signage-control-backend/internal/viewas"
)

// Deps are the components the handlers call into.
type Deps struct {
	Store       *store.Gateway
	Registry    *registry.Registry
	Configs     *devconfig.Pusher
	Deployments *deploy.Coordinator
	ViewAs      *viewas.Manager
	Pairing     *pairing.Service
	Issuer      *auth.Issuer
	WebPush     *webpush.Options
	Log         zerolog.Logger
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store       *store.Gateway
	registry    *registry.Registry
	configs     *devconfig.Pusher
	deployments *deploy.Coordinator
	viewAs      *viewas.Manager
	pairing     *pairing.Service
	issuer      *auth.Issuer
	webpush     *webpush.Options
	log         zerolog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(d Deps) *Handler {
	return &Handler{
		store:       d.Store,
		registry:    d.Registry,
		configs:     d.Configs,
		deployments: d.Deployments,
		viewAs:      d.ViewAs,
		pairing:     d.Pairing,
		issuer:      d.Issuer,
		webpush:     d.WebPush,
		log:         d.Log,
	}
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, viewas.ErrOrganizationNotFound),
		errors.Is(err, pairing.ErrInvalidCode),
		errors.Is(err, deploy.ErrUnknownTarget):
		return http.StatusNotFound
	case errors.Is(err, viewas.ErrForbidden),
		errors.Is(err, viewas.ErrNotAssigned),
		errors.Is(err, deploy.ErrForeignTarget):
		return http.StatusForbidden
	case errors.Is(err, pairing.ErrAlreadyPaired):
		return http.StatusConflict
	case errors.Is(err, pairing.ErrCodeExpired):
		return http.StatusGone
	case errors.Is(err, store.ErrNoAllowedFields),
		errors.Is(err, viewas.ErrInvalidMode),
		errors.Is(err, viewas.ErrMissingOrganization),
		errors.Is(err, pairing.ErrMissingFields),
		errors.Is(err, pairing.ErrUnknownAccount),
		errors.Is(err, pairing.ErrNoOrganization),
		errors.Is(err, pairing.ErrNotAssigned),
		errors.Is(err, deploy.ErrNoTargets),
		errors.Is(err, deploy.ErrNoPayload):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as a JSON error body. Internal errors are logged
// and hidden from the client.
func (h *Handler) respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(status, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func principal(c *gin.Context) *auth.Principal {
	p, _ := auth.FromContext(c)
	return p
}

func forbidOrg(c *gin.Context) {
	c.JSON(http.StatusForbidden, gin.H{"error": "Access denied to this organization"})
}
