package util

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Normalize applies NFKD so visually identical passwords hash identically.
func Normalize(s string) string {
	return norm.NFKD.String(s)
}

// NormalizeEmail lowercases and NFKC-folds an address for lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFKC.String(email)))
}

func HexEncode(b []byte) string {
	return hex.EncodeToString(b)
}

func HexDecode(s string) ([]byte, error) {
	return hex.DecodeString(s)
}

// LookupID returns the hex SHA-256 of s. It is safe for logs and map keys.
func LookupID(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
