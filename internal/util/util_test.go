package util

import (
	"bytes"
	"strings"
	"testing"
)

func TestAES(t *testing.T) {
	key, _ := NewAESKey()
	plainText := []byte("hello world")
	aad := []byte("context")

	t.Run("EncryptDecryptWithAAD", func(t *testing.T) {
		cipherText, err := EncryptAESWithAAD(plainText, key, aad)
		if err != nil {
			t.Fatalf("EncryptAESWithAAD failed: %v", err)
		}

		decrypted, err := DecryptAESWithAAD(cipherText, key, aad)
		if err != nil {
			t.Fatalf("DecryptAESWithAAD failed: %v", err)
		}

		if !bytes.Equal(plainText, decrypted) {
			t.Errorf("expected %s, got %s", plainText, decrypted)
		}
	})

	t.Run("TamperAAD", func(t *testing.T) {
		cipherText, _ := EncryptAESWithAAD(plainText, key, aad)
		_, err := DecryptAESWithAAD(cipherText, key, []byte("wrong context"))
		if err == nil {
			t.Error("expected error with wrong AAD, got nil")
		}
	})

	t.Run("TamperCipherText", func(t *testing.T) {
		cipherText, _ := EncryptAESWithAAD(plainText, key, aad)
		cipherText[len(cipherText)-1] ^= 0xFF
		_, err := DecryptAESWithAAD(cipherText, key, aad)
		if err == nil {
			t.Error("expected error with tampered ciphertext, got nil")
		}
	})

	t.Run("RejectBadKeySize", func(t *testing.T) {
		_, err := EncryptAESWithAAD(plainText, []byte("too short"), aad)
		if err == nil {
			t.Error("expected error with wrong key size, got nil")
		}
	})

	t.Run("RejectShortCipherText", func(t *testing.T) {
		_, err := DecryptAESWithAAD([]byte{1, 2, 3}, key, aad)
		if err == nil {
			t.Error("expected error with truncated ciphertext, got nil")
		}
	})
}

func TestArgon2idHash(t *testing.T) {
	params := TestArgon2idParams()

	encoded, err := HashArgon2id("secret", params)
	if err != nil {
		t.Fatalf("HashArgon2id failed: %v", err)
	}
	if !strings.HasPrefix(encoded, "$argon2id$v=19$") {
		t.Fatalf("unexpected encoding %q", encoded)
	}

	t.Run("Match", func(t *testing.T) {
		ok, err := VerifyArgon2id("secret", encoded)
		if err != nil || !ok {
			t.Fatalf("expected match, got ok=%v err=%v", ok, err)
		}
	})

	t.Run("Mismatch", func(t *testing.T) {
		ok, err := VerifyArgon2id("secret2", encoded)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ok {
			t.Error("expected mismatch for wrong password")
		}
	})

	t.Run("SaltedPerCall", func(t *testing.T) {
		other, _ := HashArgon2id("secret", params)
		if other == encoded {
			t.Error("two hashes of the same password should differ")
		}
	})

	t.Run("Malformed", func(t *testing.T) {
		for _, bad := range []string{"", "plain", "$argon2i$v=19$m=1,t=1,p=1$AA$AA", "$argon2id$v=19$garbage$AA$AA"} {
			if _, err := VerifyArgon2id("secret", bad); err == nil {
				t.Errorf("expected error for %q", bad)
			}
		}
	})
}

func TestValidateArgon2idParams(t *testing.T) {
	if err := ValidateArgon2idParams(DefaultArgon2idParams()); err != nil {
		t.Fatalf("default params should be valid: %v", err)
	}
	if err := ValidateArgon2idParams(TestArgon2idParams()); err != nil {
		t.Fatalf("test params should be valid: %v", err)
	}

	tests := []struct {
		name string
		mut  func(*Argon2idParams)
	}{
		{"key length", func(p *Argon2idParams) { p.KeyLen = 16 }},
		{"time", func(p *Argon2idParams) { p.Time = 0 }},
		{"memory", func(p *Argon2idParams) { p.MemoryKiB = 1024 }},
		{"parallelism", func(p *Argon2idParams) { p.Parallelism = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultArgon2idParams()
			tt.mut(&p)
			if err := ValidateArgon2idParams(p); err == nil {
				t.Errorf("expected validation error for %s", tt.name)
			}
		})
	}
}

func TestX25519(t *testing.T) {
	alice, err := GenerateX25519Keypair()
	if err != nil {
		t.Fatalf("GenerateX25519Keypair failed: %v", err)
	}
	bob, err := GenerateX25519Keypair()
	if err != nil {
		t.Fatalf("GenerateX25519Keypair failed: %v", err)
	}

	s1, err := SharedSecret(alice.Private, bob.Public)
	if err != nil {
		t.Fatalf("SharedSecret failed: %v", err)
	}
	s2, err := SharedSecret(bob.Private, alice.Public)
	if err != nil {
		t.Fatalf("SharedSecret failed: %v", err)
	}
	if s1 != s2 {
		t.Error("shared secrets should match")
	}

	t.Run("PublicKeyEncoding", func(t *testing.T) {
		enc := EncodePublicKey(alice.Public)
		if strings.ContainsAny(enc, "+/=") {
			t.Errorf("expected unpadded base64url, got %q", enc)
		}
		dec, err := DecodePublicKey(enc)
		if err != nil {
			t.Fatalf("DecodePublicKey failed: %v", err)
		}
		if dec != alice.Public {
			t.Error("decoded key mismatch")
		}
		if _, err := DecodePublicKey("c2hvcnQ"); err == nil {
			t.Error("expected error for short key")
		}
	})
}

func TestHKDF(t *testing.T) {
	seed := []byte("seed")
	k1, err := HKDF(seed, []byte("salt"), []byte("info"))
	if err != nil {
		t.Fatalf("HKDF failed: %v", err)
	}
	k2, _ := HKDF(seed, []byte("salt"), []byte("info"))
	k3, _ := HKDF(seed, []byte("salt"), []byte("other"))

	if len(k1) != HKDFKeyLength {
		t.Errorf("expected %d bytes, got %d", HKDFKeyLength, len(k1))
	}
	if !bytes.Equal(k1, k2) {
		t.Error("HKDF should be deterministic")
	}
	if bytes.Equal(k1, k3) {
		t.Error("different info should yield different keys")
	}
}

func TestNormalize(t *testing.T) {
	// U+212B ANGSTROM SIGN and U+00C5 decompose to the same NFKD form.
	if Normalize("\u212B") != Normalize("\u00C5") {
		t.Error("equivalent code points should normalize identically")
	}
	if NormalizeEmail("  User@Example.COM ") != "user@example.com" {
		t.Errorf("unexpected email normalization: %q", NormalizeEmail("  User@Example.COM "))
	}
}

func TestLookupID(t *testing.T) {
	a := LookupID("user@example.com")
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
	if a != LookupID("user@example.com") {
		t.Error("LookupID should be deterministic")
	}
	if a == LookupID("other@example.com") {
		t.Error("different inputs should not collide")
	}
}

func TestWipe(t *testing.T) {
	b := []byte{1, 2, 3}
	c := CopyBytes(b)
	WipeBytes(b)
	if !bytes.Equal(b, []byte{0, 0, 0}) {
		t.Error("WipeBytes should zero the slice")
	}
	if !bytes.Equal(c, []byte{1, 2, 3}) {
		t.Error("CopyBytes should not alias the source")
	}

	var a [32]byte
	a[0], a[31] = 9, 9
	WipeArray32(&a)
	if a != [32]byte{} {
		t.Error("WipeArray32 should zero the array")
	}
}
