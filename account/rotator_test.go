package account

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChangePassword(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		req     PasswordChange
		wantErr error
	}{
		{
			name: "success",
			req:  PasswordChange{RegisterEmail: "user@example.com", Password1: "new", Password2: "new", OriginPassword: "secret"},
		},
		{
			name: "register email optional",
			req:  PasswordChange{Password1: "new", Password2: "new", OriginPassword: "secret"},
		},
		{
			name:    "email mismatch",
			req:     PasswordChange{RegisterEmail: "other@example.com", Password1: "new", Password2: "new", OriginPassword: "secret"},
			wantErr: ErrEmailMismatch,
		},
		{
			name:    "new passwords differ",
			req:     PasswordChange{Password1: "new", Password2: "newer", OriginPassword: "secret"},
			wantErr: ErrPasswordMismatch,
		},
		{
			name:    "mismatch reported before wrong origin",
			req:     PasswordChange{Password1: "new", Password2: "newer", OriginPassword: "wrong"},
			wantErr: ErrPasswordMismatch,
		},
		{
			name:    "wrong origin",
			req:     PasswordChange{Password1: "new", Password2: "new", OriginPassword: "wrong"},
			wantErr: ErrInvalidOriginPassword,
		},
		{
			name:    "blank new password",
			req:     PasswordChange{Password1: " ", Password2: " ", OriginPassword: "secret"},
			wantErr: ErrEmptyPassword,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestStore(t)
			h := newTestHasher(t)
			createAccount(t, s, h, 7, "user@example.com", "secret")
			r := NewRotator(s, h)

			err := r.ChangePassword(ctx, 7, tt.req)

			a, loadErr := s.ByRoleID(ctx, 7)
			require.NoError(t, loadErr)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.True(t, h.Compare("secret", a.PasswordHash), "failed change must keep the old password")
				return
			}
			require.NoError(t, err)
			assert.True(t, h.Compare(tt.req.Password1, a.PasswordHash))
			assert.False(t, h.Compare("secret", a.PasswordHash))
			assert.Equal(t, uint64(2), a.Version())
		})
	}
}

func TestChangePasswordUnknownRole(t *testing.T) {
	s, _ := newTestStore(t)
	r := NewRotator(s, newTestHasher(t))
	err := r.ChangePassword(context.Background(), 404, PasswordChange{Password1: "a", Password2: "a", OriginPassword: "b"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestChangePasswordConcurrent(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	h := newTestHasher(t)
	createAccount(t, s, h, 7, "user@example.com", "secret")
	r := NewRotator(s, h)

	const n = 4
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins []string
	)
	for i := range n {
		wg.Go(func() {
			pw := fmt.Sprintf("pw-%d", i)
			if err := r.ChangePassword(ctx, 7, PasswordChange{Password1: pw, Password2: pw, OriginPassword: "secret"}); err == nil {
				mu.Lock()
				wins = append(wins, pw)
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, ErrInvalidOriginPassword)
			}
		})
	}
	wg.Wait()

	// Only the first writer still knows the origin password.
	require.Len(t, wins, 1)
	a, err := s.ByRoleID(ctx, 7)
	require.NoError(t, err)
	assert.True(t, h.Compare(wins[0], a.PasswordHash))
	assert.Equal(t, uint64(2), a.Version())
}

func TestSetPassword(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	h := newTestHasher(t)
	createAccount(t, s, h, 7, "user@example.com", "secret")
	r := NewRotator(s, h)

	require.NoError(t, r.SetPassword(ctx, "user@example.com", "reset"))
	a, err := s.ByEmail(ctx, "user@example.com")
	require.NoError(t, err)
	assert.True(t, h.Compare("reset", a.PasswordHash))

	assert.ErrorIs(t, r.SetPassword(ctx, "user@example.com", ""), ErrEmptyPassword)
	assert.ErrorIs(t, r.SetPassword(ctx, "ghost@example.com", "x"), ErrNotFound)
}
