package session

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ftmatch/authgate/account"
)

var teacher = account.Identity{RoleID: 42, Role: account.RoleTeacher, Email: "user@example.com", Region: "jp"}

func newTestIssuer(t *testing.T, opts ...IssuerOption) (*Issuer, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	iss, err := NewIssuer(store, opts...)
	require.NoError(t, err)
	return iss, store
}

func TestIssue(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	iss, store := newTestIssuer(t, WithIssuerClock(func() time.Time { return now }))

	s, err := iss.Issue(ctx, teacher, "us")
	require.NoError(t, err)

	assert.NotEmpty(t, s.Token)
	assert.Equal(t, "user@example.com", s.Email)
	assert.Equal(t, account.RoleTeacher, s.Role)
	assert.Equal(t, int64(42), s.RoleID)
	assert.Equal(t, "jp", s.Region)
	assert.Equal(t, "us", s.CurrentRegion)
	assert.True(t, s.Online)
	assert.NotEmpty(t, s.SocketID)
	assert.Equal(t, now.Unix(), s.CreatedAt)
	assert.True(t, now.Add(DefaultTTL).Equal(s.ExpiresAt))
	assert.Equal(t, 1, store.Len())

	var c claims
	_, _, err = jwt.NewParser().ParseUnverified(s.Token, &c)
	require.NoError(t, err)
	assert.Equal(t, strconv.FormatInt(teacher.RoleID, 10), c.Subject)
	assert.Equal(t, s.TokenID, c.ID)
	assert.Equal(t, account.RoleTeacher, c.Role)
}

func TestIssueRegionFallback(t *testing.T) {
	ctx := context.Background()
	iss, _ := newTestIssuer(t, WithDefaultRegion("tw"))
	noHome := teacher
	noHome.Region = ""

	s, err := iss.Issue(ctx, noHome, "us")
	require.NoError(t, err)
	assert.Equal(t, "us", s.Region)

	s, err = iss.Issue(ctx, noHome, "")
	require.NoError(t, err)
	assert.Equal(t, "tw", s.Region)
}

func TestIssueDistinctTokens(t *testing.T) {
	ctx := context.Background()
	iss, _ := newTestIssuer(t)
	a, err := iss.Issue(ctx, teacher, "")
	require.NoError(t, err)
	b, err := iss.Issue(ctx, teacher, "")
	require.NoError(t, err)
	assert.NotEqual(t, a.Token, b.Token)

	// Both sessions stay valid.
	_, err = iss.Resolve(ctx, a.Token)
	assert.NoError(t, err)
	_, err = iss.Resolve(ctx, b.Token)
	assert.NoError(t, err)
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	iss, _ := newTestIssuer(t)
	s, err := iss.Issue(ctx, teacher, "us")
	require.NoError(t, err)

	got, err := iss.Resolve(ctx, s.Token)
	require.NoError(t, err)
	assert.Equal(t, s.RoleID, got.RoleID)
	assert.Equal(t, s.Token, got.Token)

	t.Run("Garbage", func(t *testing.T) {
		_, err := iss.Resolve(ctx, "not-a-jwt")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("Tampered", func(t *testing.T) {
		parts := strings.Split(s.Token, ".")
		parts[2] = strings.Repeat("A", len(parts[2]))
		_, err := iss.Resolve(ctx, strings.Join(parts, "."))
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("OtherKey", func(t *testing.T) {
		other, _ := newTestIssuer(t)
		_, err := other.Resolve(ctx, s.Token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("AlgNone", func(t *testing.T) {
		unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "42", ID: s.TokenID, Issuer: tokenIssuer}).
			SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = iss.Resolve(ctx, unsigned)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestResolveExpired(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	iss, _ := newTestIssuer(t, WithTTL(time.Hour), WithIssuerClock(func() time.Time { return now }))

	s, err := iss.Issue(ctx, teacher, "")
	require.NoError(t, err)

	now = now.Add(time.Hour + time.Second)
	_, err = iss.Resolve(ctx, s.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestResolveSharedSigningKey(t *testing.T) {
	ctx := context.Background()
	key := []byte(strings.Repeat("k", 32))
	store := NewMemoryStore()

	a, err := NewIssuer(store, WithSigningKey(key))
	require.NoError(t, err)
	b, err := NewIssuer(store, WithSigningKey(key))
	require.NoError(t, err)

	s, err := a.Issue(ctx, teacher, "")
	require.NoError(t, err)
	_, err = b.Resolve(ctx, s.Token)
	assert.NoError(t, err, "a restarted issuer with the same key accepts old tokens")

	assert.Equal(t, strings.Repeat("k", 32), string(key), "caller's key is not wiped")
}

func TestNewIssuerRejectsShortKey(t *testing.T) {
	_, err := NewIssuer(NewMemoryStore(), WithSigningKey([]byte("short")))
	assert.Error(t, err)
}

func TestRevoke(t *testing.T) {
	ctx := context.Background()
	iss, store := newTestIssuer(t)
	s, err := iss.Issue(ctx, teacher, "")
	require.NoError(t, err)

	require.NoError(t, iss.Revoke(ctx, s.TokenID))

	_, err = iss.Resolve(ctx, s.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = store.Get(ctx, s.TokenID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, store.Len(), "logged-out sessions are not retained")

	assert.NoError(t, iss.Revoke(ctx, "unknown"))
}
