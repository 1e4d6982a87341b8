// Package proxy forwards authenticated requests to the backend service.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"authgate/internal/domain"
	gw "authgate/internal/gateway"
	"authgate/internal/platform/telemetry"
)

// Headers the backend trusts. Client-supplied values are always dropped.
const (
	HeaderPrincipalID   = "X-Principal-ID"
	HeaderPrincipalRole = "X-Principal-Role"
	HeaderInternalID    = "X-Internal-ID"
)

// Forwarder reverse-proxies requests carrying a resolved principal. It
// implements pipeline.Handler: transport failures are returned rather than
// written, so the pipeline classifies them like any other failure.
type Forwarder struct {
	backend string // metrics label
	proxy   *httputil.ReverseProxy
	metrics *telemetry.AuthMetrics
}

type errSlotKey struct{}

// NewForwarder creates a Forwarder for backendURL.
// The metrics parameter is optional; pass nil to skip metric recording.
func NewForwarder(backendURL, backend string, m *telemetry.AuthMetrics) (*Forwarder, error) {
	target, err := url.Parse(backendURL)
	if err != nil {
		return nil, fmt.Errorf("parse backend URL: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("backend URL %q must be absolute", backendURL)
	}

	f := &Forwarder{backend: backend, metrics: m}
	f.proxy = &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			req.URL.Scheme = target.Scheme
			req.URL.Host = target.Host
			req.Host = target.Host
			setIdentityHeaders(req)
		},
		ErrorHandler: func(_ http.ResponseWriter, req *http.Request, err error) {
			if slot, ok := req.Context().Value(errSlotKey{}).(*error); ok {
				*slot = err
			}
		},
	}
	return f, nil
}

// Serve proxies r to the backend.
func (f *Forwarder) Serve(w http.ResponseWriter, r *http.Request) error {
	var proxyErr error
	r = r.WithContext(context.WithValue(r.Context(), errSlotKey{}, &proxyErr))

	start := time.Now()
	sw := &gw.StatusWriter{ResponseWriter: w, Code: http.StatusOK}
	f.proxy.ServeHTTP(sw, r)
	elapsed := time.Since(start).Seconds()

	if proxyErr == nil {
		f.metrics.RecordProxyRequest(r.Context(), f.backend, sw.Code, elapsed)
		return nil
	}

	f.metrics.RecordProxyRequest(r.Context(), f.backend, http.StatusBadGateway, elapsed)
	err := fmt.Errorf("proxying to %s: %w", f.backend, proxyErr)
	if errors.Is(proxyErr, context.DeadlineExceeded) {
		return domain.UpstreamTimeout(err)
	}
	return err
}

func setIdentityHeaders(req *http.Request) {
	// Backends trust principal headers instead of the token.
	req.Header.Del("Authorization")
	req.Header.Del(HeaderPrincipalID)
	req.Header.Del(HeaderPrincipalRole)
	req.Header.Del(HeaderInternalID)

	if p, ok := gw.PrincipalFromContext(req.Context()); ok {
		req.Header.Set(HeaderPrincipalID, p.ExternalID)
		if p.HasRole() {
			req.Header.Set(HeaderPrincipalRole, p.Role)
		}
		if p.Resolved() {
			req.Header.Set(HeaderInternalID, p.InternalID.String())
		}
	}

	if id := gw.RequestIDFromContext(req.Context()); id != "" {
		req.Header.Set(gw.RequestIDHeader, id)
	}
}
