package account

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ftmatch/authgate/internal/util"
)

// Opener decrypts a sealed credential box addressed to pubkey.
type Opener interface {
	Open(pubkey, box string) ([]byte, error)
	Knows(pubkey string) bool
}

// Credential is what a client submits to log in. Meta is a JSON string
// holding a sealed box. When plaintext meta is allowed it may instead be the
// {"pass": ...} object, either inline or encoded as that string; the string
// form is read as plaintext when it decodes to an object or when PubKey was
// not issued by the keyring.
type Credential struct {
	Email  string
	PubKey string
	Meta   json.RawMessage
}

type secretMeta struct {
	Pass string `json:"pass"`
}

// Verifier checks login credentials.
type Verifier struct {
	keys           Opener
	store          *Store
	hasher         *Hasher
	allowPlaintext bool
}

// VerifierOption customises a Verifier.
type VerifierOption func(*Verifier)

// WithPlaintextMeta accepts an unsealed {"pass": ...} object as meta. Only
// for development and integration testing.
func WithPlaintextMeta(allow bool) VerifierOption {
	return func(v *Verifier) { v.allowPlaintext = allow }
}

func NewVerifier(keys Opener, store *Store, hasher *Hasher, opts ...VerifierOption) *Verifier {
	v := &Verifier{keys: keys, store: store, hasher: hasher}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Verify authenticates c. Every credential problem collapses to
// ErrInvalidCredential; only storage faults surface as other errors.
func (v *Verifier) Verify(ctx context.Context, c Credential) (Identity, error) {
	pass, err := v.password(c)
	if err != nil {
		// Still pay for a hash so a bad box is not distinguishable by timing.
		v.hasher.CompareDummy("")
		return Identity{}, ErrInvalidCredential
	}

	a, err := v.store.ByEmail(ctx, c.Email)
	if errors.Is(err, ErrNotFound) {
		v.hasher.CompareDummy(pass)
		return Identity{}, ErrInvalidCredential
	}
	if err != nil {
		return Identity{}, err
	}

	if !v.hasher.Compare(pass, a.PasswordHash) {
		return Identity{}, ErrInvalidCredential
	}
	return a.Identity(), nil
}

func (v *Verifier) password(c Credential) (string, error) {
	meta := bytes.TrimSpace(c.Meta)
	if len(meta) == 0 {
		return "", errors.New("empty meta")
	}

	var plain []byte
	switch meta[0] {
	case '"':
		var box string
		if err := json.Unmarshal(meta, &box); err != nil {
			return "", err
		}
		if v.allowPlaintext && (isObject(box) || !v.keys.Knows(c.PubKey)) {
			plain = []byte(box)
			break
		}
		opened, err := v.keys.Open(c.PubKey, box)
		if err != nil {
			return "", err
		}
		plain = opened
	case '{':
		if !v.allowPlaintext {
			return "", errors.New("plaintext meta not allowed")
		}
		plain = util.CopyBytes(meta)
	default:
		return "", fmt.Errorf("unexpected meta type")
	}
	defer util.WipeBytes(plain)

	var sm secretMeta
	if err := json.Unmarshal(plain, &sm); err != nil {
		return "", err
	}
	if sm.Pass == "" {
		return "", errors.New("empty password")
	}
	return sm.Pass, nil
}

func isObject(s string) bool {
	t := bytes.TrimSpace([]byte(s))
	return len(t) > 0 && t[0] == '{'
}
