package api

import (
	"encoding/json"

	"github.com/ftmatch/authgate/match"
	"github.com/ftmatch/authgate/session"
)

// Envelope is the common response body. Data is omitted when there is no
// payload.
type Envelope struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data any    `json:"data,omitempty"`
}

// DetailResponse is returned when a protected route is called without a
// usable bearer token.
type DetailResponse struct {
	Detail string `json:"detail"`
}

// WelcomeData is the payload of GET /auth/welcome.
type WelcomeData struct {
	PubKey string `json:"pubkey"`
}

// LoginRequest is the JSON body for POST /auth/login. Meta is a sealed box
// encoded as a JSON string, or plaintext {"pass": ...} when the verifier
// allows it.
type LoginRequest struct {
	Email    string          `json:"email"`
	PubKey   string          `json:"pubkey"`
	Meta     json.RawMessage `json:"meta"`
	Prefetch *int            `json:"prefetch,omitempty"`
}

// LoginData is the payload of a successful login.
type LoginData struct {
	Auth  session.Session `json:"auth"`
	Match match.Match     `json:"match"`
}

// LogoutRequest is the JSON body for POST /auth/logout.
type LogoutRequest struct {
	RoleID int64 `json:"role_id"`
}

// UpdatePasswordRequest is the JSON body for
// PUT /auth/password/{role_id}/update.
type UpdatePasswordRequest struct {
	RegisterEmail  string `json:"register_email"`
	Password1      string `json:"password1"`
	Password2      string `json:"password2"`
	OriginPassword string `json:"origin_password"`
}
