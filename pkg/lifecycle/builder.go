package lifecycle

import (
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"

	sserr "github.com/StricklySoft/stricklysoft-iam/pkg/errors"
)

const tracerName = "github.com/StricklySoft/stricklysoft-iam/pkg/lifecycle"

// Builder assembles a [Service]:
//
//	svc, err := lifecycle.NewBuilder("iamd", version).
//	    WithLogger(logger).
//	    OnStart(func(ctx context.Context) error { return cache.ReloadAll(ctx) }).
//	    OnStop(func(ctx context.Context) error { return srv.Shutdown(ctx) }).
//	    WithHealthCheck("postgres", pg.Health).
//	    Build()
type Builder struct {
	name          string
	version       string
	logger        *slog.Logger
	onStart       []Hook
	onStop        []Hook
	checks        []namedCheck
	stateHandlers []StateChangeHandler
}

// NewBuilder starts a builder for a service called name.
func NewBuilder(name, version string) *Builder {
	return &Builder{name: name, version: version}
}

// WithLogger sets the logger; slog.Default is used otherwise.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// OnStart appends a start hook. Start hooks run in registration order.
func (b *Builder) OnStart(hook Hook) *Builder {
	if hook != nil {
		b.onStart = append(b.onStart, hook)
	}
	return b
}

// OnStop appends a stop hook. Stop hooks run in reverse order.
func (b *Builder) OnStop(hook Hook) *Builder {
	if hook != nil {
		b.onStop = append(b.onStop, hook)
	}
	return b
}

// WithHealthCheck registers a named dependency check.
func (b *Builder) WithHealthCheck(name string, check HealthCheck) *Builder {
	b.checks = append(b.checks, namedCheck{name: name, check: check})
	return b
}

// OnStateChange registers a transition observer.
func (b *Builder) OnStateChange(handler StateChangeHandler) *Builder {
	if handler != nil {
		b.stateHandlers = append(b.stateHandlers, handler)
	}
	return b
}

// Build validates the configuration. Name and version are required and
// health check names must be unique and non-empty.
func (b *Builder) Build() (*Service, error) {
	if strings.TrimSpace(b.name) == "" {
		return nil, sserr.Required("name")
	}
	if strings.TrimSpace(b.version) == "" {
		return nil, sserr.Required("version")
	}
	seen := make(map[string]bool, len(b.checks))
	for _, c := range b.checks {
		if strings.TrimSpace(c.name) == "" || c.check == nil {
			return nil, sserr.Validation("lifecycle: health checks need a name and a function")
		}
		if seen[c.name] {
			return nil, sserr.Validationf("lifecycle: duplicate health check %q", c.name)
		}
		seen[c.name] = true
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		name:          b.name,
		version:       b.version,
		state:         StateUnknown,
		tracer:        otel.Tracer(tracerName),
		logger:        logger,
		onStart:       append([]Hook(nil), b.onStart...),
		onStop:        append([]Hook(nil), b.onStop...),
		checks:        append([]namedCheck(nil), b.checks...),
		stateHandlers: append([]StateChangeHandler(nil), b.stateHandlers...),
	}, nil
}
