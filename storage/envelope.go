package storage

import (
	"errors"
	"fmt"

	"github.com/ftmatch/authgate/internal/util"
)

const (
	envelopeVer    = 1
	envelopeScheme = "aes256gcm"
)

// Envelope is a sealed record containing AES-256-GCM encrypted data.
type Envelope struct {
	Ver        int    `json:"ver"`
	Scheme     string `json:"scheme"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
	Version    uint64 `json:"version,omitempty"`
}

// Clone returns a deep copy of the envelope.
func (e *Envelope) Clone() *Envelope {
	if e == nil {
		return nil
	}
	return &Envelope{
		Ver:        e.Ver,
		Scheme:     e.Scheme,
		Nonce:      util.CopyBytes(e.Nonce),
		Ciphertext: util.CopyBytes(e.Ciphertext),
		Version:    e.Version,
	}
}

// RecordAAD binds a ciphertext to its storage address so envelopes cannot be
// swapped between records.
func RecordAAD(namespace, kind, id string) []byte {
	return []byte("authgate:" + namespace + ":" + kind + ":" + id)
}

// Sealer seals and opens envelopes with a fixed 32-byte record key.
type Sealer struct {
	key []byte
}

// NewSealer copies key and returns a Sealer for it.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != util.AESKeySize {
		return nil, fmt.Errorf("record key must be %d bytes, got %d", util.AESKeySize, len(key))
	}
	return &Sealer{key: util.CopyBytes(key)}, nil
}

// Seal encrypts plaintext into an envelope stamped with version.
func (s *Sealer) Seal(plaintext, aad []byte, version uint64) (*Envelope, error) {
	return SealRecord(s.key, plaintext, aad, version)
}

// Open decrypts an envelope sealed by Seal.
func (s *Sealer) Open(envelope *Envelope, aad []byte) ([]byte, error) {
	return OpenRecord(s.key, envelope, aad)
}

// Wipe zeroes the record key. The Sealer is unusable afterwards.
func (s *Sealer) Wipe() {
	util.WipeBytes(s.key)
}

// SealRecord encrypts plaintext into an Envelope using the given record key and AAD.
func SealRecord(recordKey, plaintext, aad []byte, version uint64) (*Envelope, error) {
	sealed, err := util.EncryptAESWithAAD(plaintext, recordKey, aad)
	if err != nil {
		return nil, err
	}

	return &Envelope{
		Ver:        envelopeVer,
		Scheme:     envelopeScheme,
		Nonce:      sealed[:util.AESNonceSize],
		Ciphertext: sealed[util.AESNonceSize:],
		Version:    version,
	}, nil
}

// OpenRecord decrypts an Envelope using the given record key and AAD.
func OpenRecord(recordKey []byte, envelope *Envelope, aad []byte) ([]byte, error) {
	if envelope == nil {
		return nil, errors.New("nil envelope")
	}
	if envelope.Ver != envelopeVer {
		return nil, fmt.Errorf("unsupported envelope version: %d", envelope.Ver)
	}
	if envelope.Scheme != envelopeScheme {
		return nil, fmt.Errorf("unsupported envelope scheme: %s", envelope.Scheme)
	}

	full := make([]byte, 0, len(envelope.Nonce)+len(envelope.Ciphertext))
	full = append(full, envelope.Nonce...)
	full = append(full, envelope.Ciphertext...)

	return util.DecryptAESWithAAD(full, recordKey, aad)
}
