package keyexchange

import (
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestPublicKeyShape(t *testing.T) {
	k := NewKeyring()
	defer k.Close()

	pub, err := k.PublicKey()
	require.NoError(t, err)
	assert.NotEmpty(t, pub)

	raw, err := base64.RawURLEncoding.DecodeString(pub)
	require.NoError(t, err, "public key should be unpadded base64url")
	assert.Len(t, raw, 32)
}

func TestPublicKeyReusedUntilRotation(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	k := NewKeyring(WithRotation(time.Hour), WithClock(clock.Now))

	first, err := k.PublicKey()
	require.NoError(t, err)
	again, err := k.PublicKey()
	require.NoError(t, err)
	assert.Equal(t, first, again)

	clock.Advance(time.Hour)
	rotated, err := k.PublicKey()
	require.NoError(t, err)
	assert.NotEqual(t, first, rotated)
}

func TestSealOpenRoundTrip(t *testing.T) {
	k := NewKeyring()
	pub, err := k.PublicKey()
	require.NoError(t, err)

	box, err := Seal(pub, []byte(`{"pass":"secret"}`))
	require.NoError(t, err)

	plain, err := k.Open(pub, box)
	require.NoError(t, err)
	assert.Equal(t, `{"pass":"secret"}`, string(plain))
}

func TestOpenFailures(t *testing.T) {
	k := NewKeyring()
	pub, err := k.PublicKey()
	require.NoError(t, err)
	box, err := Seal(pub, []byte("payload"))
	require.NoError(t, err)

	t.Run("UnknownKey", func(t *testing.T) {
		other := NewKeyring()
		otherPub, _ := other.PublicKey()
		_, err := k.Open(otherPub, box)
		assert.ErrorIs(t, err, ErrUnknownKey)
	})

	t.Run("Garbage", func(t *testing.T) {
		_, err := k.Open(pub, "!!!not base64!!!")
		assert.ErrorIs(t, err, ErrMalformedBox)
	})

	t.Run("Truncated", func(t *testing.T) {
		_, err := k.Open(pub, box[:20])
		assert.ErrorIs(t, err, ErrMalformedBox)
	})

	t.Run("Tampered", func(t *testing.T) {
		raw, _ := base64.RawURLEncoding.DecodeString(box)
		raw[len(raw)-1] ^= 0xFF
		_, err := k.Open(pub, base64.RawURLEncoding.EncodeToString(raw))
		assert.ErrorIs(t, err, ErrDecrypt)
	})

	t.Run("SealedToOtherKey", func(t *testing.T) {
		other := NewKeyring()
		otherPub, _ := other.PublicKey()
		foreign, err := Seal(otherPub, []byte("payload"))
		require.NoError(t, err)
		_, err = k.Open(pub, foreign)
		assert.ErrorIs(t, err, ErrDecrypt)
	})
}

func TestRetiredKeysRemainUsable(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	k := NewKeyring(WithRotation(time.Minute), WithRetention(2), WithClock(clock.Now))

	var pubs, boxes []string
	for range 4 {
		pub, err := k.PublicKey()
		require.NoError(t, err)
		box, err := Seal(pub, []byte(pub))
		require.NoError(t, err)
		pubs = append(pubs, pub)
		boxes = append(boxes, box)
		clock.Advance(time.Minute)
	}

	// pubs[3] is current, pubs[1] and pubs[2] are retained, pubs[0] is gone.
	for i := 1; i < 4; i++ {
		plain, err := k.Open(pubs[i], boxes[i])
		require.NoError(t, err, "key %d should still open", i)
		assert.Equal(t, pubs[i], string(plain))
	}
	_, err := k.Open(pubs[0], boxes[0])
	assert.ErrorIs(t, err, ErrUnknownKey)
	assert.False(t, k.Knows(pubs[0]))
}

func TestClose(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	k := NewKeyring(WithRotation(time.Minute), WithClock(clock.Now))
	old, err := k.PublicKey()
	require.NoError(t, err)
	clock.Advance(time.Minute)
	pub, err := k.PublicKey()
	require.NoError(t, err)
	box, err := Seal(pub, []byte("payload"))
	require.NoError(t, err)

	cur, retired := k.current, k.retired[0]
	k.Close()

	for _, s := range []*slot{cur, retired} {
		assert.Nil(t, s.private)
		assert.Equal(t, [32]byte{}, s.pub)
		assert.Empty(t, s.public)
	}
	assert.False(t, k.Knows(pub))
	assert.False(t, k.Knows(old))
	assert.False(t, k.Knows(""))
	_, err = k.Open(pub, box)
	assert.ErrorIs(t, err, ErrUnknownKey)

	fresh, err := k.PublicKey()
	require.NoError(t, err)
	assert.NotEqual(t, pub, fresh)
}

func TestConcurrentPublicKey(t *testing.T) {
	k := NewKeyring()
	var wg sync.WaitGroup
	results := make([]string, 16)
	for i := range results {
		wg.Go(func() {
			pub, err := k.PublicKey()
			assert.NoError(t, err)
			results[i] = pub
		})
	}
	wg.Wait()
	for _, r := range results {
		assert.Equal(t, results[0], r, "concurrent first calls must share one key")
	}
}

func TestSealRejectsBadPublicKey(t *testing.T) {
	_, err := Seal("the-pubkey", []byte("x"))
	assert.ErrorIs(t, err, ErrUnknownKey)
}
