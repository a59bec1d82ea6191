package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ftmatch/authgate/internal/util"
	"github.com/ftmatch/authgate/storage"
)

const (
	accountNamespace = "__accounts"
	accountKind      = "ACCOUNT"
	roleIndexKind    = "ROLE"
)

type roleIndex struct {
	LookupID string `json:"lookup_id"`
}

// Store persists accounts as sealed envelopes. Records are keyed by the
// SHA-256 of the normalised email; a role id index points back at them.
type Store struct {
	repo   storage.Repository
	sealer *storage.Sealer
	now    func() time.Time
}

func NewStore(repo storage.Repository, sealer *storage.Sealer) *Store {
	return &Store{repo: repo, sealer: sealer, now: time.Now}
}

// Create writes a new account and its role index in one batch.
func (s *Store) Create(ctx context.Context, a Account) (Account, error) {
	if a.RoleID <= 0 {
		return Account{}, fmt.Errorf("role id must be positive")
	}
	if _, err := ParseRole(string(a.Role)); err != nil {
		return Account{}, err
	}
	a.Email = util.NormalizeEmail(a.Email)
	if a.Email == "" {
		return Account{}, fmt.Errorf("email is required")
	}

	now := s.now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	a.version = 1

	lookupID := util.LookupID(a.Email)
	roleKey := strconv.FormatInt(a.RoleID, 10)

	accountEnv, err := s.seal(a, accountKind, lookupID, a.version)
	if err != nil {
		return Account{}, err
	}
	indexEnv, err := s.seal(roleIndex{LookupID: lookupID}, roleIndexKind, roleKey, 1)
	if err != nil {
		return Account{}, err
	}

	err = s.repo.Batch(ctx, accountNamespace, func(tx storage.BatchTx) error {
		if err := tx.PutCAS(accountKind, lookupID, 0, accountEnv); err != nil {
			return err
		}
		return tx.PutCAS(roleIndexKind, roleKey, 0, indexEnv)
	})
	if errors.Is(err, storage.ErrCASFailed) {
		return Account{}, ErrExists
	}
	if err != nil {
		return Account{}, fmt.Errorf("creating account: %w", err)
	}
	return a, nil
}

// ByEmail loads the account registered under email.
func (s *Store) ByEmail(ctx context.Context, email string) (Account, error) {
	return s.byLookupID(ctx, util.LookupID(util.NormalizeEmail(email)))
}

// ByRoleID loads the account for roleID via the role index.
func (s *Store) ByRoleID(ctx context.Context, roleID int64) (Account, error) {
	roleKey := strconv.FormatInt(roleID, 10)
	env, err := s.repo.Get(ctx, accountNamespace, roleIndexKind, roleKey)
	if err != nil {
		return Account{}, notFound(err)
	}
	var idx roleIndex
	if err := s.open(env, roleIndexKind, roleKey, &idx); err != nil {
		return Account{}, err
	}
	a, err := s.byLookupID(ctx, idx.LookupID)
	if err != nil {
		return Account{}, err
	}
	if a.RoleID != roleID {
		return Account{}, fmt.Errorf("role index %d points at account %d", roleID, a.RoleID)
	}
	return a, nil
}

// List returns every account in repository order. Backs `account list`.
func (s *Store) List(ctx context.Context) ([]Account, error) {
	ids, err := s.repo.List(ctx, accountNamespace, accountKind)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	out := make([]Account, 0, len(ids))
	for _, id := range ids {
		a, err := s.byLookupID(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// replace writes a as the successor of the version it was loaded at.
// storage.ErrCASFailed is returned untouched so callers can retry.
func (s *Store) replace(ctx context.Context, a Account) (Account, error) {
	lookupID := util.LookupID(a.Email)
	next := a
	next.UpdatedAt = s.now().UTC()
	next.version = a.version + 1

	env, err := s.seal(next, accountKind, lookupID, next.version)
	if err != nil {
		return Account{}, err
	}
	if err := s.repo.PutCAS(ctx, accountNamespace, accountKind, lookupID, a.version, env); err != nil {
		return Account{}, err
	}
	return next, nil
}

func (s *Store) byLookupID(ctx context.Context, lookupID string) (Account, error) {
	env, err := s.repo.Get(ctx, accountNamespace, accountKind, lookupID)
	if err != nil {
		return Account{}, notFound(err)
	}
	var a Account
	if err := s.open(env, accountKind, lookupID, &a); err != nil {
		return Account{}, err
	}
	a.version = env.Version
	return a, nil
}

func (s *Store) seal(v any, kind, id string, version uint64) (*storage.Envelope, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(data)
	return s.sealer.Seal(data, storage.RecordAAD(accountNamespace, kind, id), version)
}

func (s *Store) open(env *storage.Envelope, kind, id string, v any) error {
	data, err := s.sealer.Open(env, storage.RecordAAD(accountNamespace, kind, id))
	if err != nil {
		return fmt.Errorf("opening %s record: %w", kind, err)
	}
	defer util.WipeBytes(data)
	return json.Unmarshal(data, v)
}

func notFound(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("loading account: %w", err)
}
