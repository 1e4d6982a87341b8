package pipeline

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"authgate/internal/domain"
	gw "authgate/internal/gateway"
	"authgate/internal/platform/telemetry"
)

// Outcome is what the pipeline reports for one request.
type Outcome struct {
	Route    string
	Status   int
	Duration time.Duration

	// Set only when the request failed.
	Failure *domain.Failure
	Code    string
	Stage   string
}

// Sink records one structured log line and the request metrics per request.
// Internal failure detail goes to the log only.
type Sink struct {
	logger  *slog.Logger
	metrics *telemetry.AuthMetrics
}

// NewSink creates a Sink. The metrics parameter is optional.
func NewSink(logger *slog.Logger, m *telemetry.AuthMetrics) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{logger: logger, metrics: m}
}

// Record logs the outcome of r. Successes and canceled requests log at Info,
// caller faults at Warn and server faults at Error.
func (s *Sink) Record(r *http.Request, o Outcome) {
	ctx := r.Context()

	attrs := []slog.Attr{
		slog.String("request_id", gw.RequestIDFromContext(ctx)),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", o.Status),
		slog.Float64("duration_ms", float64(o.Duration.Microseconds())/1000.0),
		slog.String("remote_addr", r.RemoteAddr),
	}
	if p, ok := gw.PrincipalFromContext(ctx); ok {
		attrs = append(attrs, slog.Any("principal", p))
	} else {
		attrs = append(attrs, slog.String("principal", domain.AnonymousPrincipal))
	}
	if cid := r.Header.Get(gw.RequestIDHeader); cid != "" {
		attrs = append(attrs, slog.String("client_request_id", cid))
	}

	s.metrics.RecordHTTPRequest(ctx, r.Method, o.Route, o.Status, o.Duration.Seconds())

	if o.Failure == nil {
		s.logger.LogAttrs(ctx, slog.LevelInfo, "request", attrs...)
		return
	}

	attrs = append(attrs,
		slog.String("failure", o.Failure.Kind.String()),
		slog.String("code", o.Code),
		slog.String("stage", o.Stage),
		slog.String("error", o.Failure.Error()),
	)
	var pe *panicError
	if errors.As(o.Failure, &pe) {
		attrs = append(attrs, slog.String("stack", string(pe.stack)))
	}

	s.metrics.RecordFailure(ctx, o.Code, o.Stage)
	s.logger.LogAttrs(ctx, failureLevel(o.Failure.Kind), "request failed", attrs...)
}

func failureLevel(k domain.FailureKind) slog.Level {
	switch {
	case k == domain.FailureCanceled:
		return slog.LevelInfo
	case k.ServerFault():
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}
