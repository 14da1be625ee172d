// Package devconfig assembles the runtime configuration sent to a player.
package devconfig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"signage-control-backend/config"
	"signage-control-backend/internal/model"
	"signage-control-backend/internal/store"
)

// Border widths by label. Unknown labels map to 1.
var borderWidths = map[string]int{
	"micro":   1,
	"mini":    2,
	"medium":  3,
	"major":   4,
	"mega":    5,
	"mammoth": 6,
}

// BorderWidth maps a width label to its numeric value.
func BorderWidth(label string) int {
	if w, ok := borderWidths[label]; ok {
		return w
	}
	return 1
}

// Store is the persistence the builder reads from.
type Store interface {
	GetPlaylistByID(ctx context.Context, id string) (*model.Playlist, error)
	GetOrganizationByID(ctx context.Context, id string) (*model.Organization, error)
	GetProfileByID(ctx context.Context, id string) (*model.Profile, error)
}

// Network is the static connection policy advertised to players.
type Network struct {
	HeartbeatIntervalSeconds int `json:"heartbeat_interval_seconds"`
	RetryAttempts            int `json:"retry_attempts"`
	RetryDelaySeconds        int `json:"retry_delay_seconds"`
}

// OfflineBorder is the overlay a player draws when it loses connectivity.
type OfflineBorder struct {
	Enabled         bool            `json:"enabled"`
	Template        int             `json:"template"`
	Width           int             `json:"width"`
	CustomColors    json.RawMessage `json:"custom_colors"`
	CustomAnimation json.RawMessage `json:"custom_animation"`
}

// DefaultOfflineBorder is used when the organization or a field is missing.
func DefaultOfflineBorder() OfflineBorder {
	return OfflineBorder{Enabled: true, Template: 0, Width: 1}
}

// Payload is the config frame sent to a device.
type Payload struct {
	PlayerID      string          `json:"player_id"`
	DeviceUUID    string          `json:"device_uuid"`
	PlayerName    *string         `json:"player_name"`
	AccountName   *string         `json:"account_name"`
	APIURL        string          `json:"api_url"`
	Playlist      *model.Playlist `json:"playlist"`
	WallpaperURL  *string         `json:"wallpaper_url"`
	Network       Network         `json:"network"`
	OfflineBorder OfflineBorder   `json:"offline_border"`
}

// Builder builds config payloads. Nothing is cached; every build reads the
// current organization settings.
type Builder struct {
	store   Store
	network Network
	apiURL  string
	log     zerolog.Logger
}

// NewBuilder creates a builder from the device policy.
func NewBuilder(st Store, cfg config.DeviceConfig, log zerolog.Logger) *Builder {
	return &Builder{
		store: st,
		network: Network{
			HeartbeatIntervalSeconds: cfg.HeartbeatIntervalSeconds,
			RetryAttempts:            cfg.RetryAttempts,
			RetryDelaySeconds:        cfg.RetryDelaySeconds,
		},
		apiURL: cfg.APIURL,
		log:    log,
	}
}

// Build returns the payload for player. Only playlist storage failures are
// errors; missing settings and profile lookups fall back to defaults.
func (b *Builder) Build(ctx context.Context, player *model.Player) (*Payload, error) {
	p := &Payload{
		PlayerID:      player.ID,
		DeviceUUID:    player.DeviceUUID,
		APIURL:        b.apiURL,
		Network:       b.network,
		OfflineBorder: DefaultOfflineBorder(),
	}
	if player.Name != "" {
		name := player.Name
		p.PlayerName = &name
	}

	if player.PlaylistID != nil && *player.PlaylistID != "" {
		pl, err := b.store.GetPlaylistByID(ctx, *player.PlaylistID)
		switch {
		case err == nil:
			p.Playlist = pl
		case errors.Is(err, store.ErrNotFound):
			b.log.Debug().Str("playlist_id", *player.PlaylistID).Msg("assigned playlist not found")
		default:
			return nil, fmt.Errorf("failed to load playlist %s: %w", *player.PlaylistID, err)
		}
	}

	if orgID := player.OrgID(); orgID != "" {
		org, err := b.store.GetOrganizationByID(ctx, orgID)
		switch {
		case err == nil:
			p.OfflineBorder = borderFrom(org)
			p.WallpaperURL = org.WallpaperURL
		case errors.Is(err, store.ErrNotFound):
		default:
			b.log.Warn().Err(err).Str("organization_id", orgID).Msg("failed to fetch organization settings, using defaults")
		}
	}

	p.AccountName = b.AccountName(ctx, player)
	return p, nil
}

// AccountName resolves the display name of the account that paired the
// player. Any failure yields nil.
func (b *Builder) AccountName(ctx context.Context, player *model.Player) *string {
	if player.AccountID == nil || *player.AccountID == "" {
		return nil
	}
	profile, err := b.store.GetProfileByID(ctx, *player.AccountID)
	if err != nil {
		b.log.Debug().Err(err).Str("account_id", *player.AccountID).Msg("account profile lookup failed")
		return nil
	}
	if label := profile.Label(); label != "" {
		return &label
	}
	return nil
}

func borderFrom(org *model.Organization) OfflineBorder {
	border := DefaultOfflineBorder()
	if org.OfflineBorderEnabled != nil {
		border.Enabled = *org.OfflineBorderEnabled
	}
	if org.OfflineBorderTemplate != nil {
		border.Template = *org.OfflineBorderTemplate
	}
	if org.OfflineBorderWidth != nil {
		border.Width = BorderWidth(*org.OfflineBorderWidth)
	}
	border.CustomColors = jsonOrNil(org.OfflineBorderCustomColors)
	border.CustomAnimation = jsonOrNil(org.OfflineBorderCustomAnimation)
	return border
}

func jsonOrNil(raw []byte) json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.RawMessage(raw)
}
