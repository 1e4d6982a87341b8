// Package middleware holds the http.Handler wrappers applied around the
// whole mux, outside any per-route pipeline.
package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"authgate/internal/domain"
	"authgate/internal/gateway/classify"
)

// Middleware is a function that wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain applies middleware in order: the first middleware is the outermost wrapper.
func Chain(handler http.Handler, mw ...Middleware) http.Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		handler = mw[i](handler)
	}
	return handler
}

// Recovery turns a panic that escapes a handler into a 500 SERVICE_ERROR.
// Pipelines recover their own handlers; this covers everything else on the mux.
func Recovery(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if v == http.ErrAbortHandler {
					panic(v)
				}
				logger.Error("panic recovered",
					"error", v,
					"method", r.Method,
					"path", r.URL.Path,
					"stack", string(debug.Stack()),
				)
				classify.Write(w, domain.Unclassified(fmt.Errorf("panic: %v", v)))
			}()
			next.ServeHTTP(w, r)
		})
	}
}
