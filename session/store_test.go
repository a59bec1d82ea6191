package session

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ftmatch/authgate/internal/util"
	"github.com/ftmatch/authgate/storage"
	"github.com/ftmatch/authgate/storage/memory"
)

func sampleSession(expires time.Time) Session {
	return Session{
		Token:         "bearer-token",
		Email:         "user@example.com",
		Role:          "teacher",
		RoleID:        42,
		Region:        "jp",
		CurrentRegion: "us",
		SocketID:      "sock",
		Online:        true,
		CreatedAt:     1_700_000_000,
		TokenID:       "tid",
		ExpiresAt:     expires,
	}
}

// exerciseStore checks the behaviour every Store must share.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	want := sampleSession(time.Now().Add(time.Hour))

	require.NoError(t, s.Put(ctx, "tid", want))

	got, err := s.Get(ctx, "tid")
	require.NoError(t, err)
	assert.Empty(t, got.Token, "bearer token must not be stored")
	assert.Equal(t, want.Email, got.Email)
	assert.Equal(t, want.RoleID, got.RoleID)
	assert.Equal(t, want.TokenID, got.TokenID)
	assert.True(t, got.Online)
	assert.WithinDuration(t, want.ExpiresAt, got.ExpiresAt, time.Second)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Delete(ctx, "tid"))
	_, err = s.Get(ctx, "tid")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, s.Delete(ctx, "tid"), "deleting twice is fine")
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	now := time.Unix(1_700_000_000, 0)
	m.now = func() time.Time { return now }

	require.NoError(t, m.Put(ctx, "tid", sampleSession(now.Add(time.Minute))))
	_, err := m.Get(ctx, "tid")
	require.NoError(t, err)

	now = now.Add(time.Minute)
	_, err = m.Get(ctx, "tid")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, m.Len(), "expired session is evicted on read")
}

func TestMemoryStoreSweep(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	now := time.Unix(1_700_000_000, 0)
	m.now = func() time.Time { return now }

	require.NoError(t, m.Put(ctx, "short", sampleSession(now.Add(time.Minute))))
	require.NoError(t, m.Put(ctx, "long", sampleSession(now.Add(time.Hour))))
	assert.Equal(t, 0, m.Sweep())

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, m.Sweep(), "expired sessions go without being read")
	assert.Equal(t, 1, m.Len())
	_, err := m.Get(ctx, "long")
	assert.NoError(t, err)
}

func newPersistent(t *testing.T, repo storage.Repository, wrappingKey []byte) *PersistentStore {
	t.Helper()
	s, err := NewPersistentStore(context.Background(), repo, wrappingKey)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestPersistentStore(t *testing.T) {
	wk, _ := util.NewAESKey()
	exerciseStore(t, newPersistent(t, memory.NewRepository(), wk))
}

func TestPersistentStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	wk, _ := util.NewAESKey()

	first := newPersistent(t, repo, wk)
	require.NoError(t, first.Put(ctx, "tid", sampleSession(time.Now().Add(time.Hour))))
	first.Close()

	second := newPersistent(t, repo, wk)
	got, err := second.Get(ctx, "tid")
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.RoleID)
}

func TestPersistentStoreWrongWrappingKey(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	wk, _ := util.NewAESKey()
	other, _ := util.NewAESKey()

	first := newPersistent(t, repo, wk)
	require.NoError(t, first.Put(ctx, "tid", sampleSession(time.Now().Add(time.Hour))))

	second := newPersistent(t, repo, other)
	_, err := second.Get(ctx, "tid")
	assert.ErrorIs(t, err, ErrNotFound, "sessions sealed under a lost key are unreadable")
}

func TestPersistentStoreRejectsShortWrappingKey(t *testing.T) {
	_, err := NewPersistentStore(context.Background(), memory.NewRepository(), []byte("short"))
	assert.Error(t, err)
}

func TestPersistentStoreSweep(t *testing.T) {
	ctx := context.Background()
	wk, _ := util.NewAESKey()
	s := newPersistent(t, memory.NewRepository(), wk)
	now := time.Now()

	require.NoError(t, s.Put(ctx, "live", sampleSession(now.Add(time.Hour))))
	require.NoError(t, s.Put(ctx, "dead", sampleSession(now.Add(-time.Second))))

	n, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.Get(ctx, "live")
	assert.NoError(t, err)
}

func TestPersistentStoreSweepLoopStops(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	wk, _ := util.NewAESKey()
	s, err := NewPersistentStore(context.Background(), memory.NewRepository(), wk, WithSweepInterval(time.Millisecond))
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	s.Close()
	s.Close()
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("AUTHGATE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("AUTHGATE_TEST_REDIS_ADDR not set; skipping Redis tests")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.Ping(context.Background()).Err())

	s := NewRedisStoreWithPrefix(client, "authgate-test:"+t.Name()+":")
	exerciseStore(t, s)

	err := s.Put(context.Background(), "old", sampleSession(time.Now().Add(-time.Minute)))
	assert.Error(t, err, "expired sessions are not written")
}
