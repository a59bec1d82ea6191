package uuid

import "github.com/google/uuid"

// New returns a random RFC 4122 version 4 UUID string.
func New() string {
	return uuid.NewString()
}

// Valid reports whether s parses as a UUID.
func Valid(s string) bool {
	return uuid.Validate(s) == nil
}
