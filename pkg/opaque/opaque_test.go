package opaque_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/stricklysoft-iam/internal/store/memory"
	"github.com/StricklySoft/stricklysoft-iam/internal/testutil"
	"github.com/StricklySoft/stricklysoft-iam/internal/testutil/fixtures"
	"github.com/StricklySoft/stricklysoft-iam/pkg/auth"
	sserr "github.com/StricklySoft/stricklysoft-iam/pkg/errors"
	"github.com/StricklySoft/stricklysoft-iam/pkg/opaque"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	store *memory.Store
	svc   *opaque.Service
	clock *clock
	user  *auth.User
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := memory.New()
	user := &auth.User{Username: fixtures.Username, Role: fixtures.RoleUser, Department: fixtures.DepartmentIT, Enabled: true}
	require.NoError(t, store.CreateUser(context.Background(), user))

	c := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc := opaque.New(store, store, opaque.WithClock(c.Now), opaque.WithLogger(slog.New(slog.DiscardHandler)))
	return &harness{store: store, svc: svc, clock: c, user: user}
}

// ---------------------------------------------------------------------------
// Create
// ---------------------------------------------------------------------------

func TestCreate(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	issued, err := h.svc.Create(ctx, h.user.ID, []string{" read ", "", "write"}, 30)
	require.NoError(t, err)

	id, secret, ok := strings.Cut(issued.TokenValue, ".")
	require.True(t, ok)
	assert.Equal(t, issued.TokenID, id)
	_, err = uuid.Parse(id)
	require.NoError(t, err)
	assert.Len(t, secret, 64, "48 bytes base64url without padding")
	assert.Equal(t, h.clock.Now().AddDate(0, 0, 30), issued.ExpiresAt)

	stored, err := h.store.GetToken(ctx, id)
	require.NoError(t, err)
	sum := sha256.Sum256([]byte(secret))
	assert.Equal(t, hex.EncodeToString(sum[:]), stored.SecretHash)
	assert.NotContains(t, stored.SecretHash, secret)
	assert.Equal(t, []string{"read", "write"}, stored.Scopes)
	assert.Equal(t, h.user.ID, stored.OwnerID)

	testutil.AssertJSONNotContains(t, stored, stored.SecretHash)
}

func TestCreate_DefaultExpiry(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	issued, err := h.svc.Create(context.Background(), h.user.ID, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, h.clock.Now().AddDate(0, 0, opaque.DefaultExpiryDays), issued.ExpiresAt)
}

func TestCreate_UnknownOwner(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	_, err := h.svc.Create(context.Background(), 404, nil, 1)
	testutil.RequireErrorCode(t, err, sserr.CodeNotFoundUser)
}

func TestCreate_UniqueValues(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	seen := map[string]bool{}
	for range 20 {
		issued, err := h.svc.Create(context.Background(), h.user.ID, nil, 1)
		require.NoError(t, err)
		assert.False(t, seen[issued.TokenValue])
		seen[issued.TokenValue] = true
	}
}

// ---------------------------------------------------------------------------
// Verify
// ---------------------------------------------------------------------------

func TestVerify(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	issued, err := h.svc.Create(ctx, h.user.ID, nil, 1)
	require.NoError(t, err)

	p, err := h.svc.Verify(ctx, issued.TokenValue)
	require.NoError(t, err)
	assert.Equal(t, fixtures.Username, p.Name)
	assert.Equal(t, []string{fixtures.RoleUser}, p.Roles)
	assert.Equal(t, fixtures.DepartmentIT, p.Department)
	uid, ok := p.ID()
	require.True(t, ok)
	assert.Equal(t, h.user.ID, uid)

	var v auth.BearerVerifier = h.svc
	_, err = v.VerifyBearer(ctx, issued.TokenValue)
	require.NoError(t, err)
}

func TestVerify_Rejections(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	issued, err := h.svc.Create(ctx, h.user.ID, nil, 1)
	require.NoError(t, err)
	id, secret, _ := strings.Cut(issued.TokenValue, ".")

	tests := []struct {
		name  string
		value string
	}{
		{"empty", ""},
		{"no separator", issued.TokenID},
		{"empty secret", id + "."},
		{"empty id", "." + secret},
		{"not a uuid", "header.payload.signature"},
		{"unknown id", uuid.NewString() + "." + secret},
		{"wrong secret", id + "." + strings.Repeat("A", len(secret))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := h.svc.Verify(ctx, tt.value)
			testutil.RequireErrorCode(t, err, sserr.CodeAuthenticationInvalid)
		})
	}
}

func TestVerify_Revoked(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	issued, err := h.svc.Create(ctx, h.user.ID, nil, 1)
	require.NoError(t, err)

	require.NoError(t, h.svc.Revoke(ctx, issued.TokenID))
	require.NoError(t, h.svc.Revoke(ctx, issued.TokenID), "revocation is idempotent")

	_, err = h.svc.Verify(ctx, issued.TokenValue)
	testutil.RequireErrorCode(t, err, sserr.CodeAuthenticationRevoked)

	// The record is kept.
	tokens, err := h.svc.List(ctx, h.user.ID)
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.True(t, tokens[0].Revoked)

	testutil.RequireErrorCode(t, h.svc.Revoke(ctx, uuid.NewString()), sserr.CodeNotFoundToken)
}

func TestVerify_Expired(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	issued, err := h.svc.Create(ctx, h.user.ID, nil, 1)
	require.NoError(t, err)

	h.clock.Advance(24*time.Hour - time.Second)
	_, err = h.svc.Verify(ctx, issued.TokenValue)
	require.NoError(t, err)

	h.clock.Advance(time.Second)
	_, err = h.svc.Verify(ctx, issued.TokenValue)
	testutil.RequireErrorCode(t, err, sserr.CodeAuthenticationExpired)
}

func TestVerify_WrongSecretBeforeRevocation(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	issued, err := h.svc.Create(ctx, h.user.ID, nil, 1)
	require.NoError(t, err)
	require.NoError(t, h.svc.Revoke(ctx, issued.TokenID))

	// A revoked token's state is not disclosed without its secret.
	_, err = h.svc.Verify(ctx, issued.TokenID+".guess")
	testutil.RequireErrorCode(t, err, sserr.CodeAuthenticationInvalid)
}

func TestVerify_DisabledOwner(t *testing.T) {
	t.Parallel()
	store := memory.New()
	ctx := context.Background()
	disabled := &auth.User{Username: "ex-employee", Role: fixtures.RoleUser}
	require.NoError(t, store.CreateUser(ctx, disabled))
	svc := opaque.New(store, store, opaque.WithLogger(slog.New(slog.DiscardHandler)))

	issued, err := svc.Create(ctx, disabled.ID, nil, 1)
	require.NoError(t, err)
	_, err = svc.Verify(ctx, issued.TokenValue)
	testutil.RequireErrorCode(t, err, sserr.CodeAuthenticationInvalid)
}

func TestIssued_JSON(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	issued, err := h.svc.Create(context.Background(), h.user.ID, nil, 1)
	require.NoError(t, err)
	testutil.AssertJSONNotContains(t, issued, "SecretHash")
}

func TestToken_Active(t *testing.T) {
	t.Parallel()
	now := time.Now()
	assert.True(t, (&opaque.Token{ExpiresAt: now.Add(time.Minute)}).Active(now))
	assert.False(t, (&opaque.Token{ExpiresAt: now}).Active(now))
	assert.False(t, (&opaque.Token{ExpiresAt: now.Add(time.Minute), Revoked: true}).Active(now))
}
