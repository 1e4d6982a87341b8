package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"authgate/internal/domain"
	"authgate/internal/platform/server"
)

const defaultTTL = 15 * time.Minute

type tokenRequest struct {
	Subject    string `json:"sub"`
	Role       string `json:"role,omitempty"`
	TTLSeconds int    `json:"ttl_seconds,omitempty"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// A stand-in for the hosted identity provider: it signs whatever subject it is
// asked for, so it must never run outside local development.
func main() {
	addr := envOr("ISSUER_ADDR", ":8081")
	issuer := envOr("ISSUER_NAME", "mock-issuer")
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		slog.Error("generating RSA key", "error", err)
		os.Exit(1)
	}
	kid := fmt.Sprintf("mock-key-%d", time.Now().Unix())
	n, e := keyComponents(&priv.PublicKey)

	slog.Info("mock issuer starting",
		"addr", addr,
		"issuer", issuer,
		"kid", kid,
		"AUTH_RSA_MODULUS", n,
		"AUTH_RSA_EXPONENT", e,
	)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /.well-known/jwks.json", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"keys": []map[string]any{
				{"kty": "RSA", "alg": "RS256", "use": "sig", "kid": kid, "n": n, "e": e},
			},
		})
	})

	mux.HandleFunc("POST /auth/token", func(w http.ResponseWriter, r *http.Request) {
		var req tokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST")
			return
		}
		if req.Subject == "" {
			writeError(w, http.StatusBadRequest, "MISSING_SUBJECT")
			return
		}

		ttl := defaultTTL
		if req.TTLSeconds != 0 {
			ttl = time.Duration(req.TTLSeconds) * time.Second
		}
		now := time.Now()

		claims := jwt.MapClaims{
			"sub": req.Subject,
			"iat": now.Unix(),
			"nbf": now.Unix(),
			"exp": now.Add(ttl).Unix(),
			"iss": issuer,
			"jti": uuid.NewString(),
		}
		if req.Role != "" {
			claims["role"] = req.Role
		}

		token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
		token.Header["kid"] = kid

		signed, err := token.SignedString(priv)
		if err != nil {
			slog.Error("signing token", "error", err)
			writeError(w, http.StatusInternalServerError, domain.CodeServiceError)
			return
		}

		slog.Info("token issued", "sub", req.Subject, "role", req.Role, "ttl", ttl)
		writeJSON(w, http.StatusOK, tokenResponse{
			AccessToken: signed,
			TokenType:   "Bearer",
			ExpiresIn:   int(ttl.Seconds()),
		})
	})

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "mock-issuer"})
	})

	srv := server.New(addr, mux, logger)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		slog.Error("server error", "error", err)
	}
}

func keyComponents(pub *rsa.PublicKey) (n, e string) {
	return base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, domain.ErrorResponse{Status: "error", Code: code})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
