package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"signage-control-backend/config"
	"signage-control-backend/internal/api"
	"signage-control-backend/internal/auth"
	"signage-control-backend/internal/db"
	"signage-control-backend/internal/deploy"
	"signage-control-backend/internal/devconfig"
	"signage-control-backend/internal/logger"
	"signage-control-backend/internal/notification"
	"signage-control-backend/internal/pairing"
	"signage-control-backend/internal/reconcile"
	"signage-control-backend/internal/registry"
	"signage-control-backend/internal/relay"
	"signage-control-backend/internal/session"
	"signage-control-backend/internal/store"
	"signage-control-backend/internal/telemetry"
	"signage-control-backend/internal/viewas"
	"signage-control-backend/internal/ws"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration from %s: %v\n", configPath, err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.Get()
	log.Info().Str("path", configPath).Msg("configuration loaded")

	if cfg.Auth.JWTSecret == "" {
		log.Fatal().Msg("auth.jwt_secret must be configured")
	}
	if cfg.Push.PublicKey == "" || cfg.Push.PrivateKey == "" {
		log.Warn().Msg("VAPID keys are not configured, push notifications are disabled")
	}

	webpushOptions := webpush.Options{
		VAPIDPublicKey:  cfg.Push.PublicKey,
		VAPIDPrivateKey: cfg.Push.PrivateKey,
		Subscriber:      cfg.Push.Subject,
		TTL:             cfg.Push.TTL,
	}

	// Initialize databases
	gw, err := openStores(cfg, log.GetLevel())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize databases")
	}
	log.Info().Msg("databases initialized")

	// Create a context that can be cancelled
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Relay: this instance's dashboards, plus NATS for the others.
	hub := relay.NewHub(64, logger.WithComponent("relay"))
	var pub relay.Publisher = hub
	if cfg.NATS.Enabled {
		nc, err := relay.Connect(cfg.NATS.URL, logger.WithComponent("nats"))
		if err != nil {
			log.Fatal().Err(err).Str("url", cfg.NATS.URL).Msg("failed to connect to NATS")
		}
		defer nc.Close()
		if err := nc.Bridge(ctx, hub); err != nil {
			log.Fatal().Err(err).Msg("failed to subscribe to NATS dashboard events")
		}
		pub = relay.NewFanout(logger.WithComponent("relay"), hub, nc)
	}

	reg := registry.New()
	sessions := session.NewManager(reg, gw, pub, cfg.Device.HeartbeatGrace, logger.WithComponent("session"))

	workerPool := notification.NewWorkerPool(cfg.WorkerPool.Size, gw, &webpushOptions, logger.WithComponent("notification"))
	workerPool.Start(ctx)

	coordinator := deploy.NewCoordinator(reg, gw, pub, workerPool, cfg.Deployment.AckTimeout, cfg.Deployment.SweepInterval, logger.WithComponent("deploy"))
	if n, err := coordinator.Restore(ctx); err != nil {
		log.Error().Err(err).Msg("failed to restore pending deployment targets")
	} else if n > 0 {
		log.Info().Int("targets", n).Msg("restored pending deployment targets")
	}
	go coordinator.Run(ctx)

	collector := telemetry.NewCollector(reg, gw, 10*time.Minute, logger.WithComponent("telemetry"))
	builder := devconfig.NewBuilder(gw, cfg.Device, logger.WithComponent("devconfig"))
	pusher := devconfig.NewPusher(builder, reg)

	viewAsSessions, closeSessions, err := newSessionStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize view as session store")
	}
	defer closeSessions()
	viewAs := viewas.NewManager(gw, viewAsSessions, cfg.Impersonation.TTL, logger.WithComponent("viewas"))

	pairingSvc := pairing.NewService(gw, pub, pusher, cfg.Device.APIURL, logger.WithComponent("pairing"))

	if cfg.Reconcile.Enabled {
		connected := func(deviceUUID string) bool {
			_, ok := reg.Lookup(deviceUUID)
			return ok
		}
		reconciler := reconcile.NewService(gw, connected, pub, cfg.Reconcile.Interval, logger.WithComponent("reconcile"))
		go reconciler.Run(ctx)
	}

	// Initialize router
	wsOpts := ws.Options{
		AllowedOrigins:    cfg.Server.AllowedOrigins,
		HandshakeTimeout:  cfg.Device.HandshakeTimeout,
		HeartbeatInterval: cfg.Device.HeartbeatIntervalSeconds,
	}
	handler := api.NewHandler(api.Deps{
		Store:       gw,
		Registry:    reg,
		Configs:     pusher,
		Deployments: coordinator,
		ViewAs:      viewAs,
		Pairing:     pairingSvc,
		Issuer:      auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		WebPush:     &webpushOptions,
		Log:         logger.WithComponent("api"),
	})
	router := api.NewRouter(cfg.Server, handler, api.Sockets{
		Device:    ws.NewDeviceHandler(sessions, coordinator, collector, builder, wsOpts, logger.WithComponent("ws.device")).Serve,
		Dashboard: ws.NewDashboardHandler(hub, viewAs, wsOpts, logger.WithComponent("ws.dashboard")).Serve,
	}, logger.WithComponent("http"))

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start the server in a goroutine
	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server ListenAndServe")
		}
	}()

	// Setup signal handling for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	// Block until a signal is received.
	<-stop
	log.Info().Msg("shutdown signal received, stopping services")
	cancel()

	// Create a deadline to wait for.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server Shutdown")
	}
	for _, deviceUUID := range reg.Connected() {
		if t, ok := reg.Lookup(deviceUUID); ok {
			_ = t.Close()
		}
	}

	log.Info().Msg("server gracefully stopped")
}

// openStores connects and migrates both stores. Without an identity DSN the
// identity schema lives in the operational database.
func openStores(cfg *config.Config, level zerolog.Level) (*store.Gateway, error) {
	op, err := db.Open(cfg.Database.Operational, level)
	if err != nil {
		return nil, fmt.Errorf("operational store: %w", err)
	}
	if err := db.MigrateOperational(op); err != nil {
		return nil, fmt.Errorf("operational store: %w", err)
	}

	id := op
	if cfg.Database.Identity.DSN != "" {
		if id, err = db.Open(cfg.Database.Identity, level); err != nil {
			return nil, fmt.Errorf("identity store: %w", err)
		}
	}
	if err := db.MigrateIdentity(id); err != nil {
		return nil, fmt.Errorf("identity store: %w", err)
	}
	return store.NewGateway(op, id), nil
}

func newSessionStore(ctx context.Context, cfg *config.Config) (viewas.SessionStore, func(), error) {
	if cfg.Impersonation.Store != "redis" {
		return viewas.NewMemoryStore(), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
	}
	return viewas.NewRedisStore(client, cfg.Redis.KeyPrefix), func() { client.Close() }, nil
}
