package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joeshaw/envdecode"

	"authgate/internal/domain"
	gw "authgate/internal/gateway"
	"authgate/internal/gateway/adapter/proxy"
	"authgate/internal/platform/server"
)

type config struct {
	Addr          string        `env:"ADDR,default=:8082"`
	LatencyBase   time.Duration `env:"LATENCY_BASE,default=0s"`
	LatencyJitter time.Duration `env:"LATENCY_JITTER,default=0s"`
}

type user struct {
	ExternalID string    `json:"external_id"`
	InternalID uuid.UUID `json:"internal_id"`
	Role       string    `json:"role,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// backend stands in for the business service behind the gateway. It trusts
// only the identity headers the gateway sets.
type backend struct {
	cfg config

	mu    sync.RWMutex
	users map[string]user // by external id
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	var cfg config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	b := &backend{cfg: cfg, users: make(map[string]user)}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "mock-backend"})
	})
	mux.Handle("POST /v1/users", b.gatewayOnly(http.HandlerFunc(b.register)))
	mux.Handle("GET /v1/users/me", b.gatewayOnly(http.HandlerFunc(b.me)))
	mux.Handle("/v1/", b.gatewayOnly(http.HandlerFunc(b.echo)))

	slog.Info("mock backend starting", "addr", cfg.Addr,
		"latency_base", cfg.LatencyBase, "latency_jitter", cfg.LatencyJitter)

	srv := server.New(cfg.Addr, mux, logger)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		slog.Error("server error", "error", err)
	}
}

// gatewayOnly rejects requests that still carry a bearer token or lack a
// principal, either of which means they did not come through the gateway.
func (b *backend) gatewayOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" || r.Header.Get(proxy.HeaderPrincipalID) == "" {
			slog.Warn("request bypassed the gateway",
				"path", r.URL.Path, "request_id", r.Header.Get(gw.RequestIDHeader))
			writeError(w, http.StatusBadRequest, "NOT_FROM_GATEWAY")
			return
		}
		b.simulateWork()
		next.ServeHTTP(w, r)
	})
}

func (b *backend) register(w http.ResponseWriter, r *http.Request) {
	ext := r.Header.Get(proxy.HeaderPrincipalID)

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.users[ext]; ok {
		writeError(w, http.StatusConflict, "ALREADY_REGISTERED")
		return
	}
	id, err := uuid.NewV7()
	if err != nil {
		writeError(w, http.StatusInternalServerError, domain.CodeServiceError)
		return
	}
	u := user{
		ExternalID: ext,
		InternalID: id,
		Role:       r.Header.Get(proxy.HeaderPrincipalRole),
		CreatedAt:  time.Now().UTC(),
	}
	b.users[ext] = u

	slog.Info("user registered", "external_id", ext, "internal_id", id)
	writeJSON(w, http.StatusCreated, u)
}

// me answers from the gateway-resolved internal id and cross-checks it
// against its own registry when it has one.
func (b *backend) me(w http.ResponseWriter, r *http.Request) {
	ext := r.Header.Get(proxy.HeaderPrincipalID)
	id, err := uuid.Parse(r.Header.Get(proxy.HeaderInternalID))
	if err != nil {
		writeError(w, http.StatusBadRequest, "MISSING_INTERNAL_ID")
		return
	}

	b.mu.RLock()
	u, ok := b.users[ext]
	b.mu.RUnlock()
	if ok && u.InternalID != id {
		slog.Warn("internal id mismatch", "external_id", ext, "gateway", id, "backend", u.InternalID)
	}

	writeJSON(w, http.StatusOK, user{
		ExternalID: ext,
		InternalID: id,
		Role:       r.Header.Get(proxy.HeaderPrincipalRole),
	})
}

func (b *backend) echo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"method":         r.Method,
		"path":           r.URL.Path,
		"principal_id":   r.Header.Get(proxy.HeaderPrincipalID),
		"principal_role": r.Header.Get(proxy.HeaderPrincipalRole),
		"internal_id":    r.Header.Get(proxy.HeaderInternalID),
		"request_id":     r.Header.Get(gw.RequestIDHeader),
	})
}

// simulateWork sleeps for base + random(0, jitter) to mimic real backend processing.
func (b *backend) simulateWork() {
	delay := b.cfg.LatencyBase
	if b.cfg.LatencyJitter > 0 {
		delay += time.Duration(rand.Int64N(int64(b.cfg.LatencyJitter)))
	}
	if delay > 0 {
		time.Sleep(delay)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, domain.ErrorResponse{Status: "error", Code: code})
}
