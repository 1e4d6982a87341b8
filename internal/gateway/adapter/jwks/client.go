// Package jwks provides a KeySource backed by a remote JSON Web Key Set.
package jwks

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	gw "authgate/internal/gateway"
	"authgate/internal/gateway/auth"
	"authgate/internal/platform/telemetry"
)

// Client fetches and caches RS256 signing keys from a JWKS endpoint.
type Client struct {
	endpoint   string
	minRefresh time.Duration
	httpClient *http.Client
	metrics    *telemetry.AuthMetrics
	group      singleflight.Group

	mu          sync.RWMutex
	keys        map[string]*rsa.PublicKey
	lastAttempt time.Time
}

const fetchTimeout = 10 * time.Second

var _ gw.KeySource = (*Client)(nil)

// NewClient creates a JWKS client that caches keys and won't re-fetch
// more often than minRefresh.
// The metrics parameter is optional; pass nil to skip metric recording.
func NewClient(endpoint string, minRefresh time.Duration, m *telemetry.AuthMetrics) *Client {
	return &Client{
		endpoint:   endpoint,
		minRefresh: minRefresh,
		httpClient: &http.Client{Timeout: fetchTimeout},
		metrics:    m,
		keys:       make(map[string]*rsa.PublicKey),
	}
}

// Key returns the public key for kid, fetching the key set on first use and
// again when kid is unknown and minRefresh has passed. An empty kid selects
// the only key when the set holds exactly one.
//
// Failures to obtain the key set wrap gateway.ErrKeyUnavailable. A kid that
// is absent from a successfully fetched set is a plain error, since it says
// more about the token than about the gateway.
func (c *Client) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if key, ok := c.lookup(kid); ok {
		return key, nil
	}

	if err := c.refresh(ctx); err != nil {
		return nil, fmt.Errorf("%w: fetching key %q: %w", gw.ErrKeyUnavailable, kid, err)
	}

	key, ok := c.lookup(kid)
	if !ok {
		c.mu.RLock()
		empty := len(c.keys) == 0
		c.mu.RUnlock()
		if empty {
			return nil, fmt.Errorf("%w: JWKS holds no usable RS256 keys", gw.ErrKeyUnavailable)
		}
		return nil, fmt.Errorf("key ID %q not found in JWKS", kid)
	}
	return key, nil
}

// Ping fetches the key set if none has been loaded yet.
func (c *Client) Ping(ctx context.Context) error {
	c.mu.RLock()
	loaded := len(c.keys) > 0
	c.mu.RUnlock()
	if loaded {
		return nil
	}
	if err := c.refresh(ctx); err != nil {
		return fmt.Errorf("%w: %w", gw.ErrKeyUnavailable, err)
	}
	return nil
}

func (c *Client) lookup(kid string) (*rsa.PublicKey, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if kid == "" && len(c.keys) == 1 {
		for _, k := range c.keys {
			return k, true
		}
	}
	key, ok := c.keys[kid]
	return key, ok
}

// refresh loads the key set at most once per minRefresh. Concurrent callers
// share one fetch, detached from their contexts; a caller that gives up
// does not abort it. c.mu is never held across the network call.
func (c *Client) refresh(ctx context.Context) error {
	ch := c.group.DoChan("jwks", func() (any, error) {
		c.mu.RLock()
		throttled := !c.lastAttempt.IsZero() && time.Since(c.lastAttempt) < c.minRefresh
		c.mu.RUnlock()
		if throttled {
			return nil, nil
		}

		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()

		keys, err := c.fetch(fetchCtx)

		c.mu.Lock()
		defer c.mu.Unlock()
		c.lastAttempt = time.Now()
		if err != nil {
			c.metrics.RecordJWKSRefresh(fetchCtx, telemetry.ResultFailure)
			return nil, err
		}
		c.metrics.RecordJWKSRefresh(fetchCtx, telemetry.ResultSuccess)
		c.keys = keys
		return nil, nil
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) fetch(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating JWKS request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("JWKS endpoint returned %d", resp.StatusCode)
	}

	var set keySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("decoding JWKS: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kty != "RSA" || (k.Alg != "" && k.Alg != "RS256") || (k.Use != "" && k.Use != "sig") {
			slog.Debug("skipping non-RS256 JWKS key", "kid", k.Kid, "kty", k.Kty, "alg", k.Alg, "use", k.Use)
			continue
		}
		pub, err := auth.ParseRSAComponents(k.N, k.E)
		if err != nil {
			slog.Warn("failed to parse JWKS key", "kid", k.Kid, "error", err)
			continue
		}
		keys[k.Kid] = pub
	}
	return keys, nil
}

type keySet struct {
	Keys []jsonWebKey `json:"keys"`
}

type jsonWebKey struct {
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}
