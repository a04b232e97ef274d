package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/stricklysoft-iam/internal/testutil"
	sserr "github.com/StricklySoft/stricklysoft-iam/pkg/errors"
)

func newBuilder() *Builder {
	return NewBuilder("iamd", "1.2.3").WithLogger(slog.New(slog.DiscardHandler))
}

func mustBuild(t *testing.T, b *Builder) *Service {
	t.Helper()
	svc, err := b.Build()
	require.NoError(t, err)
	return svc
}

// ---------------------------------------------------------------------------
// Builder
// ---------------------------------------------------------------------------

func TestBuilder_Validation(t *testing.T) {
	t.Parallel()
	ok := func(context.Context) error { return nil }

	_, err := NewBuilder("", "1").Build()
	testutil.AssertErrorCode(t, err, sserr.CodeValidationRequired)
	_, err = NewBuilder("iamd", " ").Build()
	testutil.AssertErrorCode(t, err, sserr.CodeValidationRequired)
	_, err = newBuilder().WithHealthCheck("", ok).Build()
	testutil.AssertErrorCode(t, err, sserr.CodeValidation)
	_, err = newBuilder().WithHealthCheck("db", nil).Build()
	testutil.AssertErrorCode(t, err, sserr.CodeValidation)
	_, err = newBuilder().WithHealthCheck("db", ok).WithHealthCheck("db", ok).Build()
	testutil.AssertErrorCode(t, err, sserr.CodeValidation)

	svc := mustBuild(t, newBuilder())
	assert.Equal(t, "iamd", svc.Name())
	assert.Equal(t, "1.2.3", svc.Version())
	assert.Equal(t, StateUnknown, svc.State())
}

// ---------------------------------------------------------------------------
// Start / Stop
// ---------------------------------------------------------------------------

func TestService_StartStopOrder(t *testing.T) {
	t.Parallel()
	var (
		mu    sync.Mutex
		calls []string
	)
	record := func(name string) Hook {
		return func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			calls = append(calls, name)
			return nil
		}
	}

	var transitions []string
	svc := mustBuild(t, newBuilder().
		OnStart(record("start-store")).
		OnStart(record("start-http")).
		OnStop(record("stop-store")).
		OnStop(record("stop-http")).
		OnStateChange(func(old, new State) { transitions = append(transitions, string(old)+">"+string(new)) }))

	require.NoError(t, svc.Start(context.Background()))
	assert.Equal(t, StateRunning, svc.State())
	require.NoError(t, svc.Health(context.Background()))

	require.NoError(t, svc.Stop(context.Background()))
	assert.Equal(t, StateStopped, svc.State())
	require.NoError(t, svc.Stop(context.Background()), "stop is idempotent")

	assert.Equal(t, []string{"start-store", "start-http", "stop-http", "stop-store"}, calls)
	assert.Equal(t, []string{
		"unknown>starting", "starting>running", "running>stopping", "stopping>stopped",
	}, transitions)
}

func TestService_StartHookFailure(t *testing.T) {
	t.Parallel()
	secondRan := false
	svc := mustBuild(t, newBuilder().
		OnStart(func(context.Context) error { return errors.New("keys missing") }).
		OnStart(func(context.Context) error { secondRan = true; return nil }))

	err := svc.Start(context.Background())
	testutil.RequireErrorCode(t, err, sserr.CodeInternal)
	assert.Contains(t, err.Error(), "keys missing")
	assert.False(t, secondRan)
	assert.Equal(t, StateFailed, svc.State())

	testutil.AssertErrorCode(t, svc.Health(context.Background()), sserr.CodeUnavailable)
}

func TestService_StopRunsAllHooks(t *testing.T) {
	t.Parallel()
	firstRan := false
	svc := mustBuild(t, newBuilder().
		OnStop(func(context.Context) error { firstRan = true; return nil }).
		OnStop(func(context.Context) error { return errors.New("drain timeout") }))

	require.NoError(t, svc.Start(context.Background()))
	err := svc.Stop(context.Background())
	testutil.RequireErrorCode(t, err, sserr.CodeInternal)
	assert.True(t, firstRan)
	assert.Equal(t, StateFailed, svc.State())
}

func TestService_StartCancelled(t *testing.T) {
	t.Parallel()
	svc := mustBuild(t, newBuilder())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	testutil.RequireErrorCode(t, svc.Start(ctx), sserr.CodeTimeout)
	assert.Equal(t, StateUnknown, svc.State())
}

func TestService_DoubleStartIsConflict(t *testing.T) {
	t.Parallel()
	svc := mustBuild(t, newBuilder())
	require.NoError(t, svc.Start(context.Background()))
	testutil.RequireErrorCode(t, svc.Start(context.Background()), sserr.CodeConflict)
	assert.Equal(t, StateRunning, svc.State())
}

func TestService_Restart(t *testing.T) {
	t.Parallel()
	svc := mustBuild(t, newBuilder())
	ctx := context.Background()
	require.NoError(t, svc.Start(ctx))
	require.NoError(t, svc.Stop(ctx))
	require.NoError(t, svc.Start(ctx))
	assert.Equal(t, StateRunning, svc.State())
}

func TestService_PanickingHandler(t *testing.T) {
	t.Parallel()
	svc := mustBuild(t, newBuilder().OnStateChange(func(State, State) { panic("observer bug") }))
	require.NoError(t, svc.Start(context.Background()))
	assert.Equal(t, StateRunning, svc.State())
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

func TestService_Report(t *testing.T) {
	t.Parallel()
	var storeErr error
	svc := mustBuild(t, newBuilder().
		WithHealthCheck("postgres", func(context.Context) error { return storeErr }).
		WithHealthCheck("redis", func(context.Context) error { return nil }))

	r := svc.Report(context.Background())
	assert.False(t, r.Healthy)
	assert.Nil(t, r.Checks, "checks do not run before start")

	require.NoError(t, svc.Start(context.Background()))
	r = svc.Report(context.Background())
	assert.True(t, r.Healthy)
	require.NotNil(t, r.StartedAt)
	assert.Equal(t, CheckResult{Status: "ok"}, r.Checks["postgres"])

	storeErr = errors.New("connection refused")
	r = svc.Report(context.Background())
	assert.False(t, r.Healthy)
	assert.Equal(t, CheckResult{Status: "fail", Error: "connection refused"}, r.Checks["postgres"])
	assert.Equal(t, "ok", r.Checks["redis"].Status)

	err := svc.Health(context.Background())
	testutil.RequireErrorCode(t, err, sserr.CodeUnavailable)
	assert.Contains(t, err.Error(), "postgres")

	raw, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"state":"running"`)
	assert.Contains(t, string(raw), `"healthy":false`)
}
