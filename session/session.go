// Package session issues bearer tokens for verified identities and resolves
// them back to the server-side session they name.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ftmatch/authgate/account"
)

var (
	// ErrNotFound is returned by a Store when no live session has the id.
	ErrNotFound = errors.New("session not found")
	// ErrInvalidToken is returned by Resolve for any token that does not map
	// to a live, online session.
	ErrInvalidToken = errors.New("invalid token")
)

// Session is the server-side state behind a bearer token. The JSON form is
// the "auth" object returned by login.
type Session struct {
	Token         string       `json:"token"`
	Email         string       `json:"email"`
	Role          account.Role `json:"role"`
	RoleID        int64        `json:"role_id"`
	Region        string       `json:"region"`
	CurrentRegion string       `json:"current_region"`
	SocketID      string       `json:"socketid"`
	Online        bool         `json:"online"`
	CreatedAt     int64        `json:"created_at"`

	TokenID   string    `json:"-"`
	ExpiresAt time.Time `json:"-"`
}

// Expired reports whether the session is past its expiry at now.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Store persists sessions keyed by token id. Implementations must be safe
// for concurrent use and must not return expired sessions.
type Store interface {
	Put(ctx context.Context, id string, s Session) error
	Get(ctx context.Context, id string) (Session, error)
	Delete(ctx context.Context, id string) error
}

// record is the at-rest form. The bearer token itself is never stored.
type record struct {
	Session
	TokenID   string    `json:"token_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

func encodeRecord(s Session) ([]byte, error) {
	r := record{Session: s, TokenID: s.TokenID, ExpiresAt: s.ExpiresAt}
	r.Token = ""
	return json.Marshal(r)
}

func decodeRecord(data []byte) (Session, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return Session{}, err
	}
	s := r.Session
	s.TokenID = r.TokenID
	s.ExpiresAt = r.ExpiresAt
	return s, nil
}
