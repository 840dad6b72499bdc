package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	sserr "github.com/StricklySoft/catalog-edge/pkg/errors"
)

const tracerName = "github.com/StricklySoft/catalog-edge/pkg/lifecycle"

// Hook runs during Start or Stop. A failing hook moves the service to
// [StateFailed].
type Hook func(ctx context.Context) error

// Worker is a background task started after the OnStart hooks. It must
// return when ctx is canceled. Returning context.Canceled or nil is a clean
// exit; any other error fails the service and cancels the other workers.
type Worker func(ctx context.Context) error

// StateChangeHandler observes transitions. Handlers run under the state
// mutex and must not call back into the service.
type StateChangeHandler func(old, new State)

// Info is a snapshot served on the health endpoint.
type Info struct {
	Name      string        `json:"name"`
	Version   string        `json:"version"`
	State     State         `json:"state"`
	StartedAt *time.Time    `json:"started_at,omitempty"`
	Uptime    time.Duration `json:"uptime,omitempty"`
}

type namedWorker struct {
	name string
	run  Worker
}

// Service owns the process lifecycle of one binary. Build it with
// [NewServiceBuilder].
type Service struct {
	name    string
	version string

	mu        sync.RWMutex
	state     State
	startedAt *time.Time
	runCtx    context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	workerErr error

	tracer trace.Tracer
	logger *slog.Logger

	onStart       []Hook
	onStop        []Hook
	workers       []namedWorker
	stateHandlers []StateChangeHandler
}

// Name returns the service name given to [NewServiceBuilder]. It is
// reported by the health endpoint and used as the tracer name.
func (s *Service) Name() string { return s.name }

// Version returns the build version reported by the health endpoint.
func (s *Service) Version() string { return s.version }

// State returns the current state.
func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Info returns a snapshot of the service. Uptime is only set while running.
func (s *Service) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := Info{Name: s.name, Version: s.version, State: s.state}
	if s.startedAt != nil && s.state == StateRunning {
		t := *s.startedAt
		info.StartedAt = &t
		info.Uptime = time.Since(t)
	}
	return info
}

// Health returns an UNAVAIL_001 error unless the service is running.
func (s *Service) Health(_ context.Context) error {
	if state := s.State(); state != StateRunning {
		return sserr.Newf(sserr.CodeUnavailable,
			"lifecycle: service is not running, current state is %q", state)
	}
	return nil
}

// Done is closed when the workers' context ends, either because Stop was
// called or because a worker failed. It is nil before the first Start.
func (s *Service) Done() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.runCtx == nil {
		return nil
	}
	return s.runCtx.Done()
}

func (s *Service) setState(new State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.state
	if !ValidTransition(old, new) {
		return sserr.Newf(sserr.CodeInternal,
			"lifecycle: invalid state transition from %q to %q", old, new)
	}
	s.state = new

	for _, h := range s.stateHandlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("lifecycle: state change handler panicked",
						"panic", r,
						"service", s.name,
						"old_state", string(old),
						"new_state", string(new),
					)
				}
			}()
			h(old, new)
		}()
	}
	return nil
}

// Start runs the OnStart hooks in registration order, launches the workers
// and moves the service to [StateRunning]. Workers keep running after ctx
// ends; only Stop or a worker failure cancels them.
func (s *Service) Start(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "lifecycle.Start",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("service.name", s.name),
			attribute.Int("lifecycle.workers", len(s.workers)),
		),
	)
	defer span.End()

	if err := ctx.Err(); err != nil {
		return failSpan(span, sserr.Wrap(err, sserr.CodeTimeout,
			"lifecycle: start canceled before execution"))
	}
	if err := s.setState(StateStarting); err != nil {
		return failSpan(span, err)
	}

	s.logger.InfoContext(ctx, "lifecycle: starting service",
		"service", s.name,
		"version", s.version,
	)

	for _, hook := range s.onStart {
		if err := hook(ctx); err != nil {
			s.logger.ErrorContext(ctx, "lifecycle: start hook failed",
				"service", s.name,
				"error", err,
			)
			_ = s.setState(StateFailed)
			return failSpan(span, sserr.Wrap(err, sserr.CodeInternal,
				"lifecycle: start hook failed"))
		}
	}

	s.launch(ctx)

	if err := s.setState(StateRunning); err != nil {
		s.cancel()
		return failSpan(span, err)
	}

	now := time.Now().UTC()
	s.mu.Lock()
	s.startedAt = &now
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "lifecycle: service started", "service", s.name)
	span.SetStatus(codes.Ok, "")
	return nil
}

func (s *Service) launch(ctx context.Context) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g, gctx := errgroup.WithContext(runCtx)
	done := make(chan struct{})

	s.mu.Lock()
	s.runCtx = gctx
	s.cancel = cancel
	s.done = done
	s.workerErr = nil
	s.mu.Unlock()

	for _, w := range s.workers {
		g.Go(func() error {
			err := w.run(gctx)
			if err == nil || errors.Is(err, context.Canceled) {
				return nil
			}
			s.logger.ErrorContext(gctx, "lifecycle: worker failed",
				"service", s.name,
				"worker", w.name,
				"error", err,
			)
			return sserr.Wrapf(err, sserr.CodeInternal, "lifecycle: worker %q failed", w.name)
		})
	}

	go func() {
		err := g.Wait()
		s.mu.Lock()
		s.workerErr = err
		s.mu.Unlock()
		close(done)
	}()
}

// Stop cancels the workers, waits for them within ctx, then runs the OnStop
// hooks in reverse registration order. Stop on a terminal service is a
// no-op. A worker failure observed during the run is returned and leaves
// the service in [StateFailed].
func (s *Service) Stop(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "lifecycle.Stop",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("service.name", s.name)),
	)
	defer span.End()

	if s.State().IsTerminal() {
		span.SetStatus(codes.Ok, "")
		return nil
	}
	if err := s.setState(StateStopping); err != nil {
		return failSpan(span, err)
	}

	s.logger.InfoContext(ctx, "lifecycle: stopping service", "service", s.name)

	s.mu.RLock()
	cancel, done := s.cancel, s.done
	s.mu.RUnlock()

	var errs []error
	if cancel != nil {
		cancel()
		select {
		case <-done:
			s.mu.RLock()
			if s.workerErr != nil {
				errs = append(errs, s.workerErr)
			}
			s.mu.RUnlock()
		case <-ctx.Done():
			s.logger.ErrorContext(ctx, "lifecycle: workers did not exit before deadline",
				"service", s.name,
			)
			errs = append(errs, sserr.Wrap(ctx.Err(), sserr.CodeTimeout,
				"lifecycle: workers did not exit before deadline"))
		}
	}

	for i := len(s.onStop) - 1; i >= 0; i-- {
		if err := s.onStop[i](ctx); err != nil {
			s.logger.ErrorContext(ctx, "lifecycle: stop hook failed",
				"service", s.name,
				"error", err,
			)
			errs = append(errs, sserr.Wrap(err, sserr.CodeInternal, "lifecycle: stop hook failed"))
		}
	}

	s.mu.Lock()
	s.startedAt = nil
	s.mu.Unlock()

	if err := errors.Join(errs...); err != nil {
		_ = s.setState(StateFailed)
		return failSpan(span, err)
	}
	if err := s.setState(StateStopped); err != nil {
		return failSpan(span, err)
	}

	s.logger.InfoContext(ctx, "lifecycle: service stopped", "service", s.name)
	span.SetStatus(codes.Ok, "")
	return nil
}

// Run starts the service and blocks until ctx ends or a worker fails, then
// stops it with a fresh context bounded by shutdownTimeout.
func (s *Service) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	if err := s.Start(ctx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
	case <-s.Done():
	}

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return s.Stop(stopCtx)
}

func failSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
