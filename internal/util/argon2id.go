package util

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2idParams configures Argon2id password hashing.
type Argon2idParams struct {
	Time        uint32 `json:"time" yaml:"time"`
	MemoryKiB   uint32 `json:"memory" yaml:"memory"`
	Parallelism uint8  `json:"parallelism" yaml:"parallelism"`
	KeyLen      uint32 `json:"key_len" yaml:"key_len"`
}

const (
	MinArgon2Time      = 1
	MinArgon2MemoryKiB = 19 * 1024
	MinArgon2Parallel  = 1

	argon2SaltLen = 16
)

// ErrMalformedHash is returned when an encoded hash cannot be parsed.
var ErrMalformedHash = errors.New("malformed argon2id hash")

// DefaultArgon2idParams follows the OWASP second recommended configuration.
func DefaultArgon2idParams() Argon2idParams {
	return Argon2idParams{
		Time:        3,
		MemoryKiB:   64 * 1024,
		Parallelism: 4,
		KeyLen:      32,
	}
}

// TestArgon2idParams is a deliberately cheap profile for tests and dev seeds.
func TestArgon2idParams() Argon2idParams {
	return Argon2idParams{
		Time:        1,
		MemoryKiB:   MinArgon2MemoryKiB,
		Parallelism: 1,
		KeyLen:      32,
	}
}

func ValidateArgon2idParams(p Argon2idParams) error {
	switch {
	case p.KeyLen != 32:
		return fmt.Errorf("argon2id key length must be 32 bytes, got %d", p.KeyLen)
	case p.Time < MinArgon2Time:
		return fmt.Errorf("argon2id time must be at least %d", MinArgon2Time)
	case p.MemoryKiB < MinArgon2MemoryKiB:
		return fmt.Errorf("argon2id memory must be at least %d KiB", MinArgon2MemoryKiB)
	case p.Parallelism < MinArgon2Parallel:
		return fmt.Errorf("argon2id parallelism must be at least %d", MinArgon2Parallel)
	}
	return nil
}

func DeriveArgon2idKey(passphrase string, salt []byte, params Argon2idParams) ([]byte, error) {
	if params.KeyLen != 32 {
		return nil, fmt.Errorf("argon2id key length must be 32 bytes")
	}
	key := argon2.IDKey([]byte(passphrase), salt, params.Time, params.MemoryKiB, params.Parallelism, params.KeyLen)
	return key, nil
}

// HashArgon2id hashes passphrase with a fresh salt and returns the PHC string
// form: $argon2id$v=19$m=...,t=...,p=...$salt$hash.
func HashArgon2id(passphrase string, params Argon2idParams) (string, error) {
	salt, err := RandomBytes(argon2SaltLen)
	if err != nil {
		return "", err
	}
	key, err := DeriveArgon2idKey(passphrase, salt, params)
	if err != nil {
		return "", err
	}
	defer WipeBytes(key)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, params.MemoryKiB, params.Time, params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key)), nil
}

// VerifyArgon2id reports whether passphrase matches an encoded PHC hash.
// The comparison is constant time.
func VerifyArgon2id(passphrase, encoded string) (bool, error) {
	params, salt, want, err := parseArgon2id(encoded)
	if err != nil {
		return false, err
	}
	got, err := DeriveArgon2idKey(passphrase, salt, params)
	if err != nil {
		return false, err
	}
	defer WipeBytes(got)
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

func parseArgon2id(encoded string) (Argon2idParams, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return Argon2idParams{}, nil, nil, ErrMalformedHash
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return Argon2idParams{}, nil, nil, ErrMalformedHash
	}
	var p Argon2idParams
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.MemoryKiB, &p.Time, &p.Parallelism); err != nil {
		return Argon2idParams{}, nil, nil, ErrMalformedHash
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return Argon2idParams{}, nil, nil, ErrMalformedHash
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) != 32 {
		return Argon2idParams{}, nil, nil, ErrMalformedHash
	}
	p.KeyLen = uint32(len(key))
	return p, salt, key, nil
}
