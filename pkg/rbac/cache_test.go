package rbac

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/stricklysoft-iam/internal/testutil"
	"github.com/StricklySoft/stricklysoft-iam/internal/testutil/fixtures"
	sserr "github.com/StricklySoft/stricklysoft-iam/pkg/errors"
)

// fakeSource serves permissions from a mutable map and counts loads.
type fakeSource struct {
	mu      sync.Mutex
	roles   map[string][]Permission
	err     error
	gate    chan struct{} // when set, PermissionsForRole blocks until closed
	loads   atomic.Int32
	reloads atomic.Int32
}

func newFakeSource(roles map[string][]Permission) *fakeSource {
	return &fakeSource{roles: roles}
}

func (f *fakeSource) set(role string, perms []Permission) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roles[role] = perms
}

func (f *fakeSource) PermissionsForRole(ctx context.Context, role string) ([]Permission, error) {
	f.loads.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.roles[role], nil
}

func (f *fakeSource) AllRolePermissions(context.Context) (map[string][]Permission, error) {
	f.reloads.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string][]Permission, len(f.roles))
	for k, v := range f.roles {
		out[k] = v
	}
	return out, nil
}

func quietCache(src Source) *PermissionCache {
	return NewPermissionCache(src, WithCacheLogger(slog.New(slog.DiscardHandler)))
}

var readAll = Permission{ID: 1, ResourceType: fixtures.ResourceComputerSystem, Operation: OperationRead, Scope: ScopeAll}

// ---------------------------------------------------------------------------
// Get
// ---------------------------------------------------------------------------

func TestCache_LazyLoadThenHit(t *testing.T) {
	t.Parallel()
	src := newFakeSource(map[string][]Permission{fixtures.RoleAdmin: {readAll}})
	c := quietCache(src)

	perms, err := c.Get(context.Background(), fixtures.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, []Permission{readAll}, perms)

	_, err = c.Get(context.Background(), fixtures.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, int32(1), src.loads.Load())
	assert.Equal(t, 1, c.Len())
}

func TestCache_UnknownRoleIsEmptyAndCached(t *testing.T) {
	t.Parallel()
	src := newFakeSource(map[string][]Permission{})
	c := quietCache(src)

	perms, err := c.Get(context.Background(), "GHOST")
	require.NoError(t, err)
	assert.Empty(t, perms)
	_, _ = c.Get(context.Background(), "GHOST")
	assert.Equal(t, int32(1), src.loads.Load())
}

func TestCache_ConcurrentMissesShareOneLoad(t *testing.T) {
	t.Parallel()
	src := newFakeSource(map[string][]Permission{fixtures.RoleAdmin: {readAll}})
	src.gate = make(chan struct{})
	c := quietCache(src)

	const callers = 16
	var wg sync.WaitGroup
	results := make(chan []Permission, callers)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			perms, err := c.Get(context.Background(), fixtures.RoleAdmin)
			assert.NoError(t, err)
			results <- perms
		}()
	}

	// Let every goroutine reach the in-flight load before releasing it.
	require.Eventually(t, func() bool { return src.loads.Load() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(src.gate)
	wg.Wait()
	close(results)

	for perms := range results {
		assert.Equal(t, []Permission{readAll}, perms)
	}
	assert.Equal(t, int32(1), src.loads.Load())
}

func TestCache_LoadErrorNotCached(t *testing.T) {
	t.Parallel()
	src := newFakeSource(map[string][]Permission{fixtures.RoleAdmin: {readAll}})
	src.err = errors.New("connection reset")
	c := quietCache(src)

	_, err := c.Get(context.Background(), fixtures.RoleAdmin)
	testutil.RequireErrorCode(t, err, sserr.CodeInternalDatabase)
	assert.Zero(t, c.Len())

	src.mu.Lock()
	src.err = nil
	src.mu.Unlock()
	perms, err := c.Get(context.Background(), fixtures.RoleAdmin)
	require.NoError(t, err)
	assert.Len(t, perms, 1)
}

func TestCache_CancelledCaller(t *testing.T) {
	t.Parallel()
	src := newFakeSource(map[string][]Permission{fixtures.RoleAdmin: {readAll}})
	src.gate = make(chan struct{})
	c := quietCache(src)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Get(ctx, fixtures.RoleAdmin)
	testutil.RequireErrorCode(t, err, sserr.CodeTimeout)

	// The shared load still completes for later callers.
	close(src.gate)
	perms, err := c.Get(context.Background(), fixtures.RoleAdmin)
	require.NoError(t, err)
	assert.Len(t, perms, 1)
}

// ---------------------------------------------------------------------------
// ReloadAll
// ---------------------------------------------------------------------------

func TestCache_StaleUntilReload(t *testing.T) {
	t.Parallel()
	src := newFakeSource(map[string][]Permission{fixtures.RoleUser: {}})
	c := quietCache(src)

	perms, err := c.Get(context.Background(), fixtures.RoleUser)
	require.NoError(t, err)
	assert.Empty(t, perms)

	src.set(fixtures.RoleUser, []Permission{readAll})
	perms, _ = c.Get(context.Background(), fixtures.RoleUser)
	assert.Empty(t, perms, "writes to the source are invisible before a reload")

	require.NoError(t, c.ReloadAll(context.Background()))
	perms, _ = c.Get(context.Background(), fixtures.RoleUser)
	assert.Equal(t, []Permission{readAll}, perms)
	assert.Equal(t, uint64(1), c.Generation())
}

func TestCache_FailedReloadKeepsSnapshot(t *testing.T) {
	t.Parallel()
	src := newFakeSource(map[string][]Permission{fixtures.RoleAdmin: {readAll}})
	c := quietCache(src)
	require.NoError(t, c.ReloadAll(context.Background()))

	src.mu.Lock()
	src.err = errors.New("database down")
	src.mu.Unlock()

	err := c.ReloadAll(context.Background())
	testutil.RequireErrorCode(t, err, sserr.CodeInternalDatabase)

	perms, err := c.Get(context.Background(), fixtures.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, []Permission{readAll}, perms)
	assert.Equal(t, uint64(1), c.Generation())
}

func TestCache_LoadAcrossReloadIsDiscarded(t *testing.T) {
	t.Parallel()
	src := newFakeSource(map[string][]Permission{fixtures.RoleAdmin: {readAll}})
	c := quietCache(src)

	// A load that began before a reload must not overwrite the new snapshot.
	gen := c.snap.Load().gen
	require.NoError(t, c.ReloadAll(context.Background()))
	c.publish(fixtures.RoleAdmin, []Permission{}, gen)

	perms, err := c.Get(context.Background(), fixtures.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, []Permission{readAll}, perms)
}

func TestCache_OnReload(t *testing.T) {
	t.Parallel()
	src := newFakeSource(map[string][]Permission{fixtures.RoleAdmin: {readAll}, fixtures.RoleUser: nil})
	c := quietCache(src)

	var events []ReloadEvent
	c.OnReload(func(ev ReloadEvent) { events = append(events, ev) })

	require.NoError(t, c.ReloadAll(context.Background()))
	require.NoError(t, c.ReloadAll(WithReloadSource(context.Background(), "peer-1")))
	require.Len(t, events, 2)
	assert.Equal(t, ReloadSourceLocal, events[0].Source)
	assert.Equal(t, uint64(2), events[1].Generation)
	assert.Equal(t, 2, events[1].Roles)
	assert.Equal(t, "peer-1", events[1].Source)
}

func TestCache_ConcurrentReadsDuringReload(t *testing.T) {
	t.Parallel()
	src := newFakeSource(map[string][]Permission{fixtures.RoleAdmin: {readAll}})
	c := quietCache(src)
	require.NoError(t, c.ReloadAll(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				perms, err := c.Get(ctx, fixtures.RoleAdmin)
				if err == nil {
					assert.Len(t, perms, 1)
				}
			}
		}()
	}
	for range 50 {
		require.NoError(t, c.ReloadAll(context.Background()))
	}
	cancel()
	wg.Wait()
}
