// Package match fetches the recommendation payload attached to a login
// response. The payload is opaque to the gateway.
package match

import (
	"context"
	"encoding/json"

	"github.com/ftmatch/authgate/account"
)

// DefaultPrefetch is the number of items requested per list when the client
// does not say.
const DefaultPrefetch = 3

// Request identifies whose recommendations to fetch.
type Request struct {
	Region   string
	Role     account.Role
	RoleID   int64
	Prefetch int
}

// Match is the recommendation payload. Each list marshals as [] when empty.
type Match struct {
	BriefJobs []json.RawMessage `json:"brief_jobs"`
	Followed  []json.RawMessage `json:"followed"`
	Contact   []json.RawMessage `json:"contact"`
}

// Normalize replaces nil lists with empty ones.
func (m Match) Normalize() Match {
	if m.BriefJobs == nil {
		m.BriefJobs = []json.RawMessage{}
	}
	if m.Followed == nil {
		m.Followed = []json.RawMessage{}
	}
	if m.Contact == nil {
		m.Contact = []json.RawMessage{}
	}
	return m
}

// Provider fetches recommendations.
type Provider interface {
	Fetch(ctx context.Context, req Request) (Match, error)
}

// Empty is a Provider that always returns three empty lists.
type Empty struct{}

func (Empty) Fetch(context.Context, Request) (Match, error) {
	return Match{}.Normalize(), nil
}
