package lifecycle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/StricklySoft/catalog-edge/internal/testutil"
	sserr "github.com/StricklySoft/catalog-edge/pkg/errors"
)

func mustBuild(t *testing.T, b *ServiceBuilder) *Service {
	t.Helper()
	svc, err := b.Build()
	require.NoError(t, err)
	return svc
}

// blockingWorker runs until canceled and counts its starts.
func blockingWorker(started *atomic.Int32) Worker {
	return func(ctx context.Context) error {
		started.Add(1)
		<-ctx.Done()
		return ctx.Err()
	}
}

func TestBuild_Validation(t *testing.T) {
	t.Parallel()
	noop := func(context.Context) error { return nil }
	tests := []struct {
		name string
		b    *ServiceBuilder
	}{
		{"empty name", NewServiceBuilder("", "1.0.0")},
		{"empty version", NewServiceBuilder("svc", "")},
		{"nil start hook", NewServiceBuilder("svc", "1").WithOnStart(nil)},
		{"nil stop hook", NewServiceBuilder("svc", "1").WithOnStop(nil)},
		{"unnamed worker", NewServiceBuilder("svc", "1").WithWorker("", noop)},
		{"nil worker", NewServiceBuilder("svc", "1").WithWorker("w", nil)},
		{"duplicate worker", NewServiceBuilder("svc", "1").WithWorker("w", noop).WithWorker("w", noop)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.b.Build()
			testutil.RequireErrorCode(t, err, sserr.CodeValidation)
		})
	}
}

func TestService_StartStop(t *testing.T) {
	t.Parallel()
	var started atomic.Int32
	var order []string
	var mu sync.Mutex
	record := func(s string) Hook {
		return func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, s)
			return nil
		}
	}
	svc := mustBuild(t, NewServiceBuilder("svc", "1.0.0").
		WithOnStart(record("start-a")).
		WithOnStart(record("start-b")).
		WithOnStop(record("stop-a")).
		WithOnStop(record("stop-b")).
		WithWorker("w1", blockingWorker(&started)).
		WithWorker("w2", blockingWorker(&started)))

	assert.Equal(t, StateUnknown, svc.State())
	assert.Nil(t, svc.Done())
	testutil.RequireErrorCode(t, svc.Health(context.Background()), sserr.CodeUnavailable)

	require.NoError(t, svc.Start(context.Background()))
	assert.Equal(t, StateRunning, svc.State())
	require.NoError(t, svc.Health(context.Background()))
	assert.Eventually(t, func() bool { return started.Load() == 2 }, time.Second, 5*time.Millisecond)

	info := svc.Info()
	assert.Equal(t, "svc", info.Name)
	assert.Equal(t, "1.0.0", info.Version)
	require.NotNil(t, info.StartedAt)

	require.NoError(t, svc.Stop(context.Background()))
	assert.Equal(t, StateStopped, svc.State())
	assert.Nil(t, svc.Info().StartedAt)
	assert.Equal(t, []string{"start-a", "start-b", "stop-b", "stop-a"}, order)

	// Stop on a terminal service is a no-op.
	require.NoError(t, svc.Stop(context.Background()))
}

func TestService_StartFromRunningFails(t *testing.T) {
	t.Parallel()
	svc := mustBuild(t, NewServiceBuilder("svc", "1"))
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(func() { _ = svc.Stop(context.Background()) })

	testutil.RequireErrorCode(t, svc.Start(context.Background()), sserr.CodeInternal)
}

func TestService_StartCanceledContext(t *testing.T) {
	t.Parallel()
	svc := mustBuild(t, NewServiceBuilder("svc", "1"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	testutil.RequireErrorCode(t, svc.Start(ctx), sserr.CodeTimeout)
	assert.Equal(t, StateUnknown, svc.State())
}

func TestService_StartHookFailure(t *testing.T) {
	t.Parallel()
	var started atomic.Int32
	svc := mustBuild(t, NewServiceBuilder("svc", "1").
		WithOnStart(func(context.Context) error { return errors.New("redis down") }).
		WithWorker("w", blockingWorker(&started)))

	err := svc.Start(context.Background())
	testutil.RequireErrorCode(t, err, sserr.CodeInternal)
	assert.Contains(t, err.Error(), "redis down")
	assert.Equal(t, StateFailed, svc.State())
	assert.Zero(t, started.Load())
}

func TestService_Restart(t *testing.T) {
	t.Parallel()
	var started atomic.Int32
	svc := mustBuild(t, NewServiceBuilder("svc", "1").WithWorker("w", blockingWorker(&started)))

	for i := 0; i < 2; i++ {
		require.NoError(t, svc.Start(context.Background()))
		require.NoError(t, svc.Stop(context.Background()))
	}
	assert.Equal(t, int32(2), started.Load())
	assert.Equal(t, StateStopped, svc.State())
}

func TestService_WorkerFailure(t *testing.T) {
	t.Parallel()
	var started atomic.Int32
	var stopped atomic.Bool
	svc := mustBuild(t, NewServiceBuilder("svc", "1").
		WithWorker("sibling", blockingWorker(&started)).
		WithWorker("broken", func(context.Context) error { return errors.New("listener closed") }).
		WithOnStop(func(context.Context) error { stopped.Store(true); return nil }))

	require.NoError(t, svc.Start(context.Background()))
	select {
	case <-svc.Done():
	case <-time.After(time.Second):
		t.Fatal("worker failure did not cancel the run context")
	}

	err := svc.Stop(context.Background())
	testutil.RequireErrorCode(t, err, sserr.CodeInternal)
	assert.Contains(t, err.Error(), `"broken"`)
	assert.Equal(t, StateFailed, svc.State())
	assert.True(t, stopped.Load())
}

func TestService_StopHookFailure(t *testing.T) {
	t.Parallel()
	svc := mustBuild(t, NewServiceBuilder("svc", "1").
		WithOnStop(func(context.Context) error { return errors.New("flush failed") }))
	require.NoError(t, svc.Start(context.Background()))

	testutil.RequireErrorCode(t, svc.Stop(context.Background()), sserr.CodeInternal)
	assert.Equal(t, StateFailed, svc.State())
}

func TestService_StopDeadline(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	svc := mustBuild(t, NewServiceBuilder("svc", "1").
		WithWorker("stuck", func(context.Context) error { <-release; return nil }))
	t.Cleanup(func() { close(release) })
	require.NoError(t, svc.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	testutil.RequireErrorCode(t, svc.Stop(ctx), sserr.CodeTimeout)
	assert.Equal(t, StateFailed, svc.State())
}

func TestService_WorkersOutliveStartContext(t *testing.T) {
	t.Parallel()
	var started atomic.Int32
	svc := mustBuild(t, NewServiceBuilder("svc", "1").WithWorker("w", blockingWorker(&started)))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, svc.Start(ctx))
	cancel()

	select {
	case <-svc.Done():
		t.Fatal("workers canceled with the start context")
	case <-time.After(20 * time.Millisecond):
	}
	require.NoError(t, svc.Stop(context.Background()))
}

func TestService_Run(t *testing.T) {
	t.Parallel()
	var started atomic.Int32
	svc := mustBuild(t, NewServiceBuilder("svc", "1").WithWorker("w", blockingWorker(&started)))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- svc.Run(ctx, time.Second) }()

	require.Eventually(t, func() bool { return svc.State() == StateRunning }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, StateStopped, svc.State())
}

func TestService_RunReturnsWorkerError(t *testing.T) {
	t.Parallel()
	svc := mustBuild(t, NewServiceBuilder("svc", "1").
		WithWorker("broken", func(context.Context) error { return errors.New("boom") }))

	err := svc.Run(context.Background(), time.Second)

	testutil.RequireErrorCode(t, err, sserr.CodeInternal)
	assert.Equal(t, StateFailed, svc.State())
}

func TestService_StateHandlers(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	var seen []State
	svc := mustBuild(t, NewServiceBuilder("svc", "1").
		OnStateChange(func(_, new State) { panic("handler bug") }).
		OnStateChange(func(_, new State) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, new)
		}))

	require.NoError(t, svc.Start(context.Background()))
	require.NoError(t, svc.Stop(context.Background()))

	assert.Equal(t, []State{StateStarting, StateRunning, StateStopping, StateStopped}, seen)
}

func TestService_Spans(t *testing.T) {
	t.Parallel()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	svc := mustBuild(t, NewServiceBuilder("svc", "1"))
	svc.tracer = tp.Tracer(tracerName)

	require.NoError(t, svc.Start(context.Background()))
	require.NoError(t, svc.Stop(context.Background()))

	spans := exp.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "lifecycle.Start", spans[0].Name)
	assert.Equal(t, "lifecycle.Stop", spans[1].Name)
}
