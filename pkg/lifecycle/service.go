package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/stricklysoft-iam/pkg/errors"
)

// Hook runs during Start or Stop.
type Hook func(ctx context.Context) error

// HealthCheck probes one dependency. A nil error means healthy.
type HealthCheck func(ctx context.Context) error

// StateChangeHandler observes transitions. Handlers run synchronously
// under the state lock and must not call back into the service.
type StateChangeHandler func(old, new State)

// CheckResult is the outcome of one health check.
type CheckResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Report is a point-in-time health summary, shaped for JSON.
type Report struct {
	Name      string                 `json:"name"`
	Version   string                 `json:"version"`
	State     State                  `json:"state"`
	Healthy   bool                   `json:"healthy"`
	StartedAt *time.Time             `json:"started_at,omitempty"`
	Uptime    string                 `json:"uptime,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

type namedCheck struct {
	name  string
	check HealthCheck
}

// Service is safe for concurrent use. Build one with [Builder].
type Service struct {
	name    string
	version string

	mu        sync.RWMutex
	state     State
	startedAt *time.Time

	tracer trace.Tracer
	logger *slog.Logger

	onStart       []Hook
	onStop        []Hook
	checks        []namedCheck
	stateHandlers []StateChangeHandler
}

func (s *Service) Name() string    { return s.name }
func (s *Service) Version() string { return s.version }

// State returns the current state.
func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SetState validates and applies a transition, then notifies handlers.
// An invalid transition is a [sserr.CodeConflict] error.
func (s *Service) SetState(next State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.state
	if !ValidTransition(old, next) {
		return sserr.Newf(sserr.CodeConflict, "lifecycle: invalid state transition from %q to %q", old, next)
	}
	s.state = next

	for _, h := range s.stateHandlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("lifecycle: state change handler panicked",
						slog.Any("panic", r),
						slog.String("old_state", string(old)),
						slog.String("new_state", string(next)))
				}
			}()
			h(old, next)
		}()
	}
	return nil
}

// Start runs the start hooks in registration order and moves the service
// to Running. The first failing hook moves it to Failed; hooks that
// already ran are not undone, so callers should Stop on error.
func (s *Service) Start(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "lifecycle.Start")
	defer span.End()

	if err := ctx.Err(); err != nil {
		return recordSpan(span, sserr.Wrap(err, sserr.CodeTimeout, "lifecycle: start canceled before execution"))
	}
	if err := s.SetState(StateStarting); err != nil {
		return recordSpan(span, err)
	}
	s.logger.InfoContext(ctx, "lifecycle: starting service",
		slog.String("service", s.name),
		slog.String("version", s.version))

	for i, hook := range s.onStart {
		if err := hook(ctx); err != nil {
			s.logger.ErrorContext(ctx, "lifecycle: start hook failed",
				slog.Int("hook", i),
				slog.String("error", err.Error()))
			_ = s.SetState(StateFailed)
			return recordSpan(span, sserr.Wrap(err, sserr.CodeInternal, "lifecycle: start hook failed"))
		}
	}

	if err := s.SetState(StateRunning); err != nil {
		return recordSpan(span, err)
	}
	now := time.Now().UTC()
	s.mu.Lock()
	s.startedAt = &now
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "lifecycle: service started", slog.String("service", s.name))
	span.SetStatus(codes.Ok, "")
	return nil
}

// Stop runs every stop hook in reverse registration order and moves the
// service to Stopped. All hooks run even if one fails; any failure moves
// the service to Failed and the errors are joined. Stopping a service in
// a terminal state is a no-op.
func (s *Service) Stop(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "lifecycle.Stop")
	defer span.End()

	if s.State().IsTerminal() {
		span.SetStatus(codes.Ok, "")
		return nil
	}
	if err := s.SetState(StateStopping); err != nil {
		return recordSpan(span, err)
	}
	s.logger.InfoContext(ctx, "lifecycle: stopping service", slog.String("service", s.name))

	var errs []error
	for i := len(s.onStop) - 1; i >= 0; i-- {
		if err := s.onStop[i](ctx); err != nil {
			s.logger.ErrorContext(ctx, "lifecycle: stop hook failed",
				slog.Int("hook", i),
				slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	s.mu.Lock()
	s.startedAt = nil
	s.mu.Unlock()

	if len(errs) > 0 {
		_ = s.SetState(StateFailed)
		return recordSpan(span, sserr.Wrap(errors.Join(errs...), sserr.CodeInternal, "lifecycle: stop hook failed"))
	}
	if err := s.SetState(StateStopped); err != nil {
		return recordSpan(span, err)
	}
	s.logger.InfoContext(ctx, "lifecycle: service stopped", slog.String("service", s.name))
	span.SetStatus(codes.Ok, "")
	return nil
}

// Health returns nil when the service is Running and every check passes.
// Otherwise it is a [sserr.CodeUnavailable] error naming the state or the
// failing checks.
func (s *Service) Health(ctx context.Context) error {
	r := s.Report(ctx)
	if r.Healthy {
		return nil
	}
	if r.State != StateRunning {
		return sserr.Newf(sserr.CodeUnavailable, "lifecycle: service is not running, current state is %q", r.State)
	}
	failing := make([]string, 0, len(r.Checks))
	for name, c := range r.Checks {
		if c.Error != "" {
			failing = append(failing, name)
		}
	}
	sort.Strings(failing)
	return sserr.Newf(sserr.CodeUnavailable, "lifecycle: health checks failing: %v", failing).
		WithDetail("checks", failing)
}

// Report runs the health checks and summarises the result. Checks run
// sequentially and only while the service is Running.
func (s *Service) Report(ctx context.Context) Report {
	s.mu.RLock()
	r := Report{Name: s.name, Version: s.version, State: s.state}
	if s.startedAt != nil && s.state == StateRunning {
		t := *s.startedAt
		r.StartedAt = &t
		r.Uptime = time.Since(t).Round(time.Second).String()
	}
	s.mu.RUnlock()

	if r.State != StateRunning {
		return r
	}
	r.Healthy = true
	if len(s.checks) == 0 {
		return r
	}
	r.Checks = make(map[string]CheckResult, len(s.checks))
	for _, c := range s.checks {
		if err := c.check(ctx); err != nil {
			r.Healthy = false
			r.Checks[c.name] = CheckResult{Status: "fail", Error: err.Error()}
			continue
		}
		r.Checks[c.name] = CheckResult{Status: "ok"}
	}
	return r
}

func (s *Service) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("service.name", s.name),
			attribute.String("service.version", s.version),
		),
	)
}

func recordSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
