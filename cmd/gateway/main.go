package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	gw "authgate/internal/gateway"
	"authgate/internal/gateway/adapter/inmem"
	"authgate/internal/gateway/adapter/jwks"
	"authgate/internal/gateway/adapter/postgres"
	"authgate/internal/gateway/adapter/proxy"
	"authgate/internal/gateway/auth"
	"authgate/internal/gateway/router"
	"authgate/internal/platform/config"
	"authgate/internal/platform/server"
	"authgate/internal/platform/telemetry"
)

// identityStore is what the gateway needs from either store backend.
type identityStore interface {
	gw.IdentityLookup
	router.Pinger
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Logging
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		slog.Warn("unknown log level, using info", "log_level", cfg.LogLevel)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Telemetry
	shutdown, err := telemetry.Setup(context.Background(), "authgate")
	if err != nil {
		slog.Error("telemetry setup failed", "error", err)
		os.Exit(1)
	}
	metrics, err := telemetry.NewAuthMetrics()
	if err != nil {
		slog.Error("metrics initialization failed", "error", err)
		os.Exit(1)
	}

	ready := map[string]router.Pinger{}

	// Verification keys
	var keys gw.KeySource
	if cfg.Auth.UseJWKS() {
		client := jwks.NewClient(cfg.Auth.JWKSEndpoint, cfg.Auth.JWKSRefresh, metrics)
		keys = client
		ready["jwks"] = client
	} else {
		static, err := auth.NewStaticKey(cfg.Auth.RSAModulus, cfg.Auth.RSAExponent)
		if err != nil {
			slog.Error("invalid verification key", "error", err)
			os.Exit(1)
		}
		keys = static
	}
	verifier := auth.NewVerifier(keys,
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithLeeway(cfg.Auth.Leeway),
	)

	// Identity store
	store, closeStore, err := openIdentityStore(ctx, cfg.Database)
	if err != nil {
		slog.Error("identity store unavailable", "error", err)
		os.Exit(1)
	}
	defer closeStore()
	ready["identity_store"] = store

	// Rate limiter
	limiter := inmem.NewRateLimiter(cfg.RateLimit.Rate, cfg.RateLimit.Burst, time.Now)
	go limiter.Run(ctx, time.Minute)

	backend, err := proxy.NewForwarder(cfg.BackendURL, "api", metrics)
	if err != nil {
		slog.Error("backend initialization failed", "error", err)
		os.Exit(1)
	}

	handler := router.New(router.Deps{
		Verifier:       verifier,
		Lookup:         store,
		Limiter:        limiter,
		Backend:        backend,
		Logger:         logger,
		Metrics:        metrics,
		Ready:          ready,
		MetricsHandler: telemetry.MetricsHandler(),
		LookupTimeout:  cfg.LookupTimeout,
		HandlerTimeout: cfg.HandlerTimeout,
		MaxBodyBytes:   cfg.MaxBodyBytes,
	})

	srv := server.New(cfg.GatewayAddr, handler, logger)

	slog.Info("gateway starting",
		"addr", cfg.GatewayAddr,
		"backend_url", cfg.BackendURL,
		"jwks_endpoint", cfg.Auth.JWKSEndpoint,
		"issuer", cfg.Auth.Issuer,
		"postgres", cfg.Database.URL != "",
	)

	if err := srv.Run(ctx); err != nil {
		slog.Error("server error", "error", err)
	}

	if err := shutdown(context.Background()); err != nil {
		slog.Error("telemetry shutdown error", "error", err)
	}
}

// openIdentityStore connects to Postgres when a database URL is configured and
// falls back to an empty in-memory store otherwise.
func openIdentityStore(ctx context.Context, db config.DatabaseConfig) (identityStore, func(), error) {
	if db.URL == "" {
		slog.Warn("DATABASE_URL not set, using in-memory identity store")
		return inmem.NewIdentityStore(), func() {}, nil
	}

	store, err := postgres.Connect(ctx, db.URL, postgres.PoolConfig{
		MaxConns:    db.MaxConns,
		MinConns:    db.MinConns,
		MaxConnIdle: db.MaxConnIdle,
	})
	if err != nil {
		return nil, nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		store.Close()
		return nil, nil, err
	}

	total, idle := store.Stats()
	slog.Info("connected to identity store", "conns_total", total, "conns_idle", idle)
	return store, store.Close, nil
}
