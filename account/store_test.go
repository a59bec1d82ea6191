package account

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ftmatch/authgate/internal/util"
	"github.com/ftmatch/authgate/storage"
)

func TestStoreCreateAndLookup(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	h := newTestHasher(t)

	created := createAccount(t, s, h, 42, " User@Example.com ", "secret")
	assert.Equal(t, "user@example.com", created.Email)
	assert.Equal(t, uint64(1), created.Version())
	assert.False(t, created.CreatedAt.IsZero())

	byEmail, err := s.ByEmail(ctx, "USER@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(42), byEmail.RoleID)
	assert.Equal(t, RoleTeacher, byEmail.Role)
	assert.Equal(t, "jp", byEmail.Region)

	byRole, err := s.ByRoleID(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, byEmail.Email, byRole.Email)
	assert.Equal(t, byEmail.PasswordHash, byRole.PasswordHash)
}

func TestStoreNotFound(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	_, err := s.ByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.ByRoleID(ctx, 7)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	h := newTestHasher(t)
	createAccount(t, s, h, 1, "a@example.com", "pw")

	_, err := s.Create(ctx, Account{RoleID: 2, Role: RoleTeacher, Email: "A@example.com", PasswordHash: "x"})
	assert.ErrorIs(t, err, ErrExists, "same email")

	_, err = s.Create(ctx, Account{RoleID: 1, Role: RoleCompany, Email: "b@example.com", PasswordHash: "x"})
	assert.ErrorIs(t, err, ErrExists, "same role id")

	// The failed batch must not leave the second account behind.
	_, err = s.ByEmail(ctx, "b@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreCreateValidation(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, Account{RoleID: 0, Role: RoleTeacher, Email: "a@example.com"})
	assert.Error(t, err)
	_, err = s.Create(ctx, Account{RoleID: 1, Role: "admin", Email: "a@example.com"})
	assert.Error(t, err)
	_, err = s.Create(ctx, Account{RoleID: 1, Role: RoleTeacher, Email: "  "})
	assert.Error(t, err)
}

func TestStoreRecordsAreSealed(t *testing.T) {
	ctx := context.Background()
	s, repo := newTestStore(t)
	h := newTestHasher(t)
	createAccount(t, s, h, 9, "sealed@example.com", "pw")

	env, err := repo.Get(ctx, accountNamespace, accountKind, util.LookupID("sealed@example.com"))
	require.NoError(t, err)
	assert.NotContains(t, string(env.Ciphertext), "sealed@example.com")

	// A record copied under another id must not open.
	require.NoError(t, repo.Put(ctx, accountNamespace, accountKind, "other", env))
	_, err = s.byLookupID(ctx, "other")
	assert.Error(t, err)
}

func TestStoreReplaceIsCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	h := newTestHasher(t)
	a := createAccount(t, s, h, 5, "cas@example.com", "pw")

	next, err := s.replace(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), next.Version())

	_, err = s.replace(ctx, a)
	assert.ErrorIs(t, err, storage.ErrCASFailed, "stale version must lose")
}

func TestStoreList(t *testing.T) {
	s, _ := newTestStore(t)
	h := newTestHasher(t)
	createAccount(t, s, h, 1, "a@example.com", "pw")
	createAccount(t, s, h, 2, "b@example.com", "pw")

	all, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestRoleCollection(t *testing.T) {
	assert.Equal(t, "teachers", RoleTeacher.Collection())
	assert.Equal(t, "companies", RoleCompany.Collection())

	_, err := ParseRole("admin")
	assert.Error(t, err)
}
