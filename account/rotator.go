package account

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/ftmatch/authgate/internal/util"
	"github.com/ftmatch/authgate/storage"
)

const defaultCASAttempts = 3

// PasswordChange is a request to replace an account's password.
type PasswordChange struct {
	RegisterEmail  string
	Password1      string
	Password2      string
	OriginPassword string
}

// Rotator replaces passwords. Changes for one role id are serialised in
// process and guarded by a storage compare-and-swap across processes.
type Rotator struct {
	store    *Store
	hasher   *Hasher
	locks    sync.Map
	attempts int
}

func NewRotator(store *Store, hasher *Hasher) *Rotator {
	return &Rotator{store: store, hasher: hasher, attempts: defaultCASAttempts}
}

// ChangePassword validates req against the account behind roleID and stores
// the new hash. Checks run in a fixed order: email ownership, new password
// agreement, then the origin password.
func (r *Rotator) ChangePassword(ctx context.Context, roleID int64, req PasswordChange) error {
	mu := r.lock(roleID)
	mu.Lock()
	defer mu.Unlock()

	a, err := r.store.ByRoleID(ctx, roleID)
	if err != nil {
		return err
	}

	if req.RegisterEmail != "" && util.NormalizeEmail(req.RegisterEmail) != a.Email {
		return ErrEmailMismatch
	}
	if req.Password1 != req.Password2 {
		return ErrPasswordMismatch
	}
	if strings.TrimSpace(req.Password1) == "" {
		return ErrEmptyPassword
	}
	if !r.hasher.Compare(req.OriginPassword, a.PasswordHash) {
		return ErrInvalidOriginPassword
	}

	hash, err := r.hasher.Hash(req.Password1)
	if err != nil {
		return err
	}

	for range r.attempts {
		a.PasswordHash = hash
		if _, err = r.store.replace(ctx, a); !errors.Is(err, storage.ErrCASFailed) {
			return err
		}
		// Another process wrote first; reload and make sure the origin
		// password still holds before overwriting.
		if a, err = r.store.ByRoleID(ctx, roleID); err != nil {
			return err
		}
		if !r.hasher.Compare(req.OriginPassword, a.PasswordHash) {
			return ErrInvalidOriginPassword
		}
	}
	return ErrConflict
}

// SetPassword unconditionally replaces the password for email. Operator
// tooling only.
func (r *Rotator) SetPassword(ctx context.Context, email, password string) error {
	if strings.TrimSpace(password) == "" {
		return ErrEmptyPassword
	}
	hash, err := r.hasher.Hash(password)
	if err != nil {
		return err
	}
	for range r.attempts {
		a, err := r.store.ByEmail(ctx, email)
		if err != nil {
			return err
		}
		r.lock(a.RoleID).Lock()
		a.PasswordHash = hash
		_, err = r.store.replace(ctx, a)
		r.lock(a.RoleID).Unlock()
		if !errors.Is(err, storage.ErrCASFailed) {
			return err
		}
	}
	return ErrConflict
}

func (r *Rotator) lock(roleID int64) *sync.Mutex {
	mu, _ := r.locks.LoadOrStore(roleID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}
