package keyexchange

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/ftmatch/authgate/internal/util"
)

const (
	boxInfo   = "authgate:credential:v1"
	keySize   = 32
	minBoxLen = keySize + util.AESNonceSize + 16
)

var (
	// ErrUnknownKey is returned when a sealed box names a public key the
	// keyring never issued or has already retired.
	ErrUnknownKey = errors.New("unknown or retired public key")
	// ErrMalformedBox is returned when a sealed box cannot be decoded.
	ErrMalformedBox = errors.New("malformed sealed box")
	// ErrDecrypt is returned when a sealed box fails authentication.
	ErrDecrypt = errors.New("sealed box authentication failed")
)

// Seal encrypts plaintext to the X25519 public key pubkey (as returned by
// Keyring.PublicKey). The result is base64url of
// ephemeral_pub || nonce || ciphertext.
func Seal(pubkey string, plaintext []byte) (string, error) {
	serverPub, err := util.DecodePublicKey(pubkey)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnknownKey, err)
	}

	eph, err := util.GenerateX25519Keypair()
	if err != nil {
		return "", err
	}
	defer util.WipeArray32(&eph.Private)

	key, err := boxKey(eph.Private, serverPub, eph.Public, serverPub)
	if err != nil {
		return "", err
	}
	defer util.WipeBytes(key)

	sealed, err := util.EncryptAESWithAAD(plaintext, key, serverPub[:])
	if err != nil {
		return "", err
	}

	out := make([]byte, 0, keySize+len(sealed))
	out = append(out, eph.Public[:]...)
	out = append(out, sealed...)
	return base64.RawURLEncoding.EncodeToString(out), nil
}

// open decrypts box with the server key pair kp.
func open(kp util.KeyPair, box string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(box)
	if err != nil || len(raw) < minBoxLen {
		return nil, ErrMalformedBox
	}

	var ephPub [32]byte
	copy(ephPub[:], raw[:keySize])

	key, err := boxKey(kp.Private, ephPub, ephPub, kp.Public)
	if err != nil {
		return nil, ErrDecrypt
	}
	defer util.WipeBytes(key)

	plain, err := util.DecryptAESWithAAD(raw[keySize:], key, kp.Public[:])
	if err != nil {
		return nil, ErrDecrypt
	}
	return plain, nil
}

// boxKey derives the AES key from the X25519 shared secret. Salt binds the
// key to both public halves.
func boxKey(priv, peer, ephPub, serverPub [32]byte) ([]byte, error) {
	shared, err := util.SharedSecret(priv, peer)
	if err != nil {
		return nil, err
	}
	defer util.WipeArray32(&shared)

	salt := make([]byte, 0, 2*keySize)
	salt = append(salt, ephPub[:]...)
	salt = append(salt, serverPub[:]...)
	return util.HKDF(shared[:], salt, []byte(boxInfo))
}
