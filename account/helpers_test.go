package account

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ftmatch/authgate/internal/util"
	"github.com/ftmatch/authgate/storage"
	"github.com/ftmatch/authgate/storage/memory"
)

func newTestStore(t *testing.T) (*Store, storage.Repository) {
	t.Helper()
	key, err := util.NewAESKey()
	require.NoError(t, err)
	sealer, err := storage.NewSealer(key)
	require.NoError(t, err)
	repo := memory.NewRepository()
	return NewStore(repo, sealer), repo
}

func newTestHasher(t *testing.T) *Hasher {
	t.Helper()
	h, err := NewHasher(util.TestArgon2idParams())
	require.NoError(t, err)
	return h
}

func createAccount(t *testing.T, s *Store, h *Hasher, roleID int64, email, password string) Account {
	t.Helper()
	hash, err := h.Hash(password)
	require.NoError(t, err)
	a, err := s.Create(context.Background(), Account{
		RoleID:       roleID,
		Role:         RoleTeacher,
		Email:        email,
		Region:       "jp",
		PasswordHash: hash,
	})
	require.NoError(t, err)
	return a
}
