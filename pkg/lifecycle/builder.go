package lifecycle

import (
	"log/slog"

	"go.opentelemetry.io/otel"

	sserr "github.com/StricklySoft/catalog-edge/pkg/errors"
)

// ServiceBuilder assembles a [Service].
//
//	svc, err := lifecycle.NewServiceBuilder("content-service", version).
//	    WithLogger(logger).
//	    WithOnStart(func(ctx context.Context) error { return cache.Health(ctx) }).
//	    WithWorker("http", srv.Run).
//	    WithWorker("jwks-refresh", jwks.Run).
//	    WithOnStop(func(context.Context) error { return cache.Close() }).
//	    Build()
type ServiceBuilder struct {
	name          string
	version       string
	logger        *slog.Logger
	onStart       []Hook
	onStop        []Hook
	workers       []namedWorker
	stateHandlers []StateChangeHandler
}

// NewServiceBuilder starts a builder. Name and version are checked by Build.
func NewServiceBuilder(name, version string) *ServiceBuilder {
	return &ServiceBuilder{name: name, version: version}
}

// WithLogger sets the logger. Defaults to slog.Default().
func (b *ServiceBuilder) WithLogger(logger *slog.Logger) *ServiceBuilder {
	b.logger = logger
	return b
}

// WithOnStart appends a start hook.
func (b *ServiceBuilder) WithOnStart(hook Hook) *ServiceBuilder {
	b.onStart = append(b.onStart, hook)
	return b
}

// WithOnStop appends a stop hook. Stop hooks run in reverse order.
func (b *ServiceBuilder) WithOnStop(hook Hook) *ServiceBuilder {
	b.onStop = append(b.onStop, hook)
	return b
}

// WithWorker registers a named background worker.
func (b *ServiceBuilder) WithWorker(name string, w Worker) *ServiceBuilder {
	b.workers = append(b.workers, namedWorker{name: name, run: w})
	return b
}

// OnStateChange registers a transition observer.
func (b *ServiceBuilder) OnStateChange(handler StateChangeHandler) *ServiceBuilder {
	b.stateHandlers = append(b.stateHandlers, handler)
	return b
}

// Build validates the configuration. The new service is in [StateUnknown].
func (b *ServiceBuilder) Build() (*Service, error) {
	if b.name == "" {
		return nil, sserr.New(sserr.CodeValidation,
			"lifecycle: service name must not be empty")
	}
	if b.version == "" {
		return nil, sserr.New(sserr.CodeValidation,
			"lifecycle: service version must not be empty")
	}
	for _, h := range b.onStart {
		if h == nil {
			return nil, sserr.New(sserr.CodeValidation, "lifecycle: start hook must not be nil")
		}
	}
	for _, h := range b.onStop {
		if h == nil {
			return nil, sserr.New(sserr.CodeValidation, "lifecycle: stop hook must not be nil")
		}
	}
	seen := make(map[string]bool, len(b.workers))
	for _, w := range b.workers {
		if w.name == "" || w.run == nil {
			return nil, sserr.New(sserr.CodeValidation,
				"lifecycle: worker needs a name and a function")
		}
		if seen[w.name] {
			return nil, sserr.Newf(sserr.CodeValidation,
				"lifecycle: duplicate worker %q", w.name)
		}
		seen[w.name] = true
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
		workers:       append([]namedWorker(nil), b.workers...),
		stateHandlers: append([]StateChangeHandler(nil), b.stateHandlers...),
	}, nil
}
