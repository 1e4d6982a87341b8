// Package pipeline runs the per-request authentication stages in order,
// invokes the route handler, and turns any failure into a classified
// response recorded exactly once by the Sink.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"authgate/internal/domain"
	gw "authgate/internal/gateway"
	"authgate/internal/gateway/classify"
)

const stageHandler = "handler"

// Stage is one step of the pipeline. It either returns the request to hand
// to the next stage, usually carrying a derived context, or fails.
type Stage interface {
	Name() string
	Advance(r *http.Request) (*http.Request, error)
}

// Handler is the business handler behind the pipeline. A returned error is
// classified and written unless the handler already committed a response.
type Handler interface {
	Serve(w http.ResponseWriter, r *http.Request) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

func (f HandlerFunc) Serve(w http.ResponseWriter, r *http.Request) error {
	return f(w, r)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithHandlerTimeout bounds the handler's context. Zero disables the bound.
func WithHandlerTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.timeout = d }
}

// Pipeline is an http.Handler composed once at startup and shared by all
// requests on a route.
type Pipeline struct {
	route   string
	stages  []Stage
	handler Handler
	sink    *Sink
	timeout time.Duration
}

// New builds a pipeline for route. Stages run in the order given.
func New(route string, handler Handler, sink *Sink, stages []Stage, opts ...Option) *Pipeline {
	p := &Pipeline{
		route:   route,
		stages:  append([]Stage(nil), stages...),
		handler: handler,
		sink:    sink,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	id := newRequestID()
	r = r.WithContext(gw.ContextWithRequestID(r.Context(), id))
	w.Header().Set(gw.RequestIDHeader, id)
	sw := &gw.StatusWriter{ResponseWriter: w, Code: http.StatusOK}

	r, stage, err := p.run(sw, r)
	p.finish(sw, r, start, stage, err)

	// An aborted handler is recorded like any other outcome, then the abort
	// is handed back to net/http so it drops the connection.
	if errors.Is(err, http.ErrAbortHandler) {
		panic(http.ErrAbortHandler)
	}
}

func (p *Pipeline) run(w http.ResponseWriter, r *http.Request) (*http.Request, string, error) {
	for _, s := range p.stages {
		if err := r.Context().Err(); err != nil {
			return r, s.Name(), domain.Canceled(err)
		}
		next, err := s.Advance(r)
		if err != nil {
			return r, s.Name(), err
		}
		r = next
	}
	if err := r.Context().Err(); err != nil {
		return r, stageHandler, domain.Canceled(err)
	}
	return r, stageHandler, p.invoke(w, r)
}

func (p *Pipeline) invoke(w http.ResponseWriter, r *http.Request) (err error) {
	parent := r.Context()
	if p.timeout > 0 {
		ctx, cancel := context.WithTimeout(parent, p.timeout)
		defer cancel()
		r = r.WithContext(ctx)
	}

	defer func() {
		if v := recover(); v != nil {
			if v == http.ErrAbortHandler {
				err = domain.Canceled(http.ErrAbortHandler)
				return
			}
			err = domain.Unclassified(&panicError{value: v, stack: debug.Stack()})
		}
	}()

	err = p.handler.Serve(w, r)
	switch {
	case err == nil:
		return nil
	case parent.Err() != nil:
		return domain.Canceled(err)
	case isFailure(err):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return domain.UpstreamTimeout(err)
	case isBodyTooLarge(err):
		return domain.PayloadTooLarge(err)
	}
	return err
}

func (p *Pipeline) finish(sw *gw.StatusWriter, r *http.Request, start time.Time, stage string, err error) {
	out := Outcome{Route: p.route, Status: sw.Code}

	if err != nil {
		f := domain.AsFailure(err)
		status, resp := classify.Classify(f)
		out.Failure = f
		out.Code = resp.Code
		out.Stage = stage

		switch {
		case f.Kind == domain.FailureCanceled:
			out.Status = status
		case sw.Wrote:
			// The handler committed a response before failing.
		default:
			out.Status = classify.Write(sw, f)
		}
	}

	out.Duration = time.Since(start)
	p.sink.Record(r, out)
}

func isBodyTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}

func isFailure(err error) bool {
	var f *domain.Failure
	return errors.As(err, &f)
}

// newRequestID returns a time-ordered correlation id.
func newRequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

type panicError struct {
	value any
	stack []byte
}

func (e *panicError) Error() string {
	return fmt.Sprintf("panic: %v", e.value)
}
