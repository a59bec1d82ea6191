// Package keyexchange issues short-lived X25519 public keys that clients use
// to seal credentials before sending them to the login endpoint.
package keyexchange

import (
	"fmt"
	"sync"
	"time"

	"github.com/awnumar/memguard"

	"github.com/ftmatch/authgate/internal/util"
)

const (
	DefaultRotation  = time.Hour
	DefaultRetention = 2
)

type slot struct {
	public    string
	pub       [32]byte
	private   *memguard.Enclave
	createdAt time.Time
}

// wipe drops the enclave reference and zeroes the cached public key.
func (s *slot) wipe() {
	s.private = nil
	util.WipeArray32(&s.pub)
	s.public = ""
}

// Keyring holds the current key and a bounded number of retired keys that
// can still open boxes sealed before a rotation. Safe for concurrent use.
type Keyring struct {
	mu        sync.RWMutex
	current   *slot
	retired   []*slot
	rotation  time.Duration
	retention int
	now       func() time.Time
}

// Option customises a Keyring.
type Option func(*Keyring)

// WithRotation sets how long a key is handed out before a new one is minted.
func WithRotation(d time.Duration) Option {
	return func(k *Keyring) {
		if d > 0 {
			k.rotation = d
		}
	}
}

// WithRetention sets how many retired keys remain usable for decryption.
func WithRetention(n int) Option {
	return func(k *Keyring) {
		if n >= 0 {
			k.retention = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(k *Keyring) { k.now = now }
}

func NewKeyring(opts ...Option) *Keyring {
	k := &Keyring{
		rotation:  DefaultRotation,
		retention: DefaultRetention,
		now:       time.Now,
	}
	for _, o := range opts {
		o(k)
	}
	return k
}

// PublicKey returns the current public key, minting a new one on first use
// or once the current key has outlived the rotation interval.
func (k *Keyring) PublicKey() (string, error) {
	k.mu.RLock()
	cur := k.current
	k.mu.RUnlock()
	if cur != nil && k.now().Sub(cur.createdAt) < k.rotation {
		return cur.public, nil
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.current != nil && k.now().Sub(k.current.createdAt) < k.rotation {
		return k.current.public, nil
	}

	kp, err := util.GenerateX25519Keypair()
	if err != nil {
		return "", fmt.Errorf("generating key pair: %w", err)
	}
	next := &slot{
		public:    util.EncodePublicKey(kp.Public),
		pub:       kp.Public,
		private:   memguard.NewEnclave(kp.Private[:]),
		createdAt: k.now(),
	}
	util.WipeArray32(&kp.Private)

	if k.current != nil {
		k.retired = append([]*slot{k.current}, k.retired...)
		if len(k.retired) > k.retention {
			for _, old := range k.retired[k.retention:] {
				old.wipe()
			}
			k.retired = k.retired[:k.retention]
		}
	}
	k.current = next
	return next.public, nil
}

// Open decrypts a box sealed to pubkey. pubkey must be the current key or
// one of the retained retired keys.
func (k *Keyring) Open(pubkey, box string) ([]byte, error) {
	private, pub, ok := k.lookup(pubkey)
	if !ok {
		return nil, ErrUnknownKey
	}

	buf, err := private.Open()
	if err != nil {
		return nil, fmt.Errorf("opening key enclave: %w", err)
	}
	defer buf.Destroy()

	kp := util.KeyPair{Public: pub}
	copy(kp.Private[:], buf.Bytes())
	defer util.WipeArray32(&kp.Private)

	return open(kp, box)
}

// Knows reports whether pubkey was issued by this keyring and can currently
// be used with Open.
func (k *Keyring) Knows(pubkey string) bool {
	_, _, ok := k.lookup(pubkey)
	return ok
}

// lookup copies the slot's key material out under the lock so a concurrent
// Close cannot wipe it mid-Open.
func (k *Keyring) lookup(pubkey string) (*memguard.Enclave, [32]byte, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if pubkey == "" {
		return nil, [32]byte{}, false
	}
	if k.current != nil && k.current.public == pubkey {
		return k.current.private, k.current.pub, true
	}
	for _, s := range k.retired {
		if s.public == pubkey {
			return s.private, s.pub, true
		}
	}
	return nil, [32]byte{}, false
}

// Close wipes and drops every key. The enclaves become unreachable; their
// sealed memory goes on memguard.Purge. Subsequent PublicKey calls mint a
// fresh key.
func (k *Keyring) Close() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.current != nil {
		k.current.wipe()
	}
	for _, s := range k.retired {
		s.wipe()
	}
	k.current = nil
	k.retired = nil
}
