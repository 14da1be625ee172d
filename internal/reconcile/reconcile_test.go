package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signage-control-backend/internal/model"
	"signage-control-backend/internal/registry"
	"signage-control-backend/internal/relay"
	"signage-control-backend/internal/store/storetest"
)

type nopTransport struct{}

func (nopTransport) Send(string, any) error { return nil }
func (nopTransport) Close() error           { return nil }

func TestReconcileOnce(t *testing.T) {
	ctx := context.Background()
	gw, gdb := storetest.Gateway(t)
	org := "org-1"
	acctGone, acctLive := "acct-gone", "acct-live"
	now := time.Now()

	require.NoError(t, gdb.Create(&model.Profile{ID: acctLive, Email: "live@acme.test", Role: "Owner", OrganizationID: &org}).Error)
	require.NoError(t, gdb.Create(&[]model.Player{
		{ID: "p1", DeviceUUID: "dev-live", OrganizationID: &org, Status: model.StatusOnline, AccountID: &acctLive, PairedAt: &now},
		{ID: "p2", DeviceUUID: "dev-stale", OrganizationID: &org, Status: model.StatusOnline},
		{ID: "p3", DeviceUUID: "dev-orphan", OrganizationID: &org, Status: model.StatusOffline, AccountID: &acctGone, PairedAt: &now},
	}).Error)

	reg := registry.New()
	reg.Register("dev-live", nopTransport{})
	hub := relay.NewHub(8, zerolog.Nop())
	sub := hub.Subscribe(org)
	defer sub.Close()

	svc := NewService(gw, func(uuid string) bool {
		_, ok := reg.Lookup(uuid)
		return ok
	}, hub, time.Minute, zerolog.Nop())

	rep := svc.ReconcileOnce(ctx)
	assert.Equal(t, []string{"dev-stale"}, rep.MarkedOffline)
	assert.Equal(t, []string{"p3"}, rep.OrphanedPlayers)

	stale, err := gw.GetPlayerByDeviceUUID(ctx, "dev-stale")
	require.NoError(t, err)
	assert.Equal(t, model.StatusOffline, stale.Status)

	live, err := gw.GetPlayerByDeviceUUID(ctx, "dev-live")
	require.NoError(t, err)
	assert.Equal(t, model.StatusOnline, live.Status)

	select {
	case msg := <-sub.C:
		assert.Equal(t, relay.EventPlayerStatus, msg.Event)
	case <-time.After(time.Second):
		t.Fatal("offline flip was not relayed")
	}

	// nothing left to repair
	rep = svc.ReconcileOnce(ctx)
	assert.Empty(t, rep.MarkedOffline)
}

func TestRun_StopsOnCancel(t *testing.T) {
	gw, _ := storetest.Gateway(t)
	svc := NewService(gw, func(string) bool { return false }, nil, 10*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
