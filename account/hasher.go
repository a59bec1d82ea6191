package account

import (
	"fmt"

	"github.com/ftmatch/authgate/internal/util"
)

// Hasher hashes and verifies passwords with argon2id. Passwords are NFKD
// normalised first so visually identical input verifies identically.
type Hasher struct {
	params util.Argon2idParams
	dummy  string
}

// NewHasher validates params and precomputes a dummy hash used to keep
// unknown-account lookups as slow as real ones.
func NewHasher(params util.Argon2idParams) (*Hasher, error) {
	if err := util.ValidateArgon2idParams(params); err != nil {
		return nil, err
	}
	seed, err := util.RandomBytes(16)
	if err != nil {
		return nil, err
	}
	dummy, err := util.HashArgon2id(util.HexEncode(seed), params)
	if err != nil {
		return nil, fmt.Errorf("computing dummy hash: %w", err)
	}
	return &Hasher{params: params, dummy: dummy}, nil
}

func (h *Hasher) Hash(password string) (string, error) {
	return util.HashArgon2id(util.Normalize(password), h.params)
}

// Compare reports whether password matches encoded. Malformed hashes never
// match.
func (h *Hasher) Compare(password, encoded string) bool {
	ok, err := util.VerifyArgon2id(util.Normalize(password), encoded)
	return err == nil && ok
}

// CompareDummy burns the same work as Compare against a hash nobody knows.
func (h *Hasher) CompareDummy(password string) {
	_ = h.Compare(password, h.dummy)
}
