package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ftmatch/authgate/internal/util"
	"github.com/ftmatch/authgate/storage"
)

const (
	sessionNamespace     = "__sessions"
	sessionKind          = "SESSION"
	sessionKeyKind       = "SESSION_KEY"
	sessionKeyID         = "current"
	sessionKeyWrapAAD    = "authgate:session_master_key:v1"
	defaultSweepInterval = 5 * time.Minute
)

// PersistentStore keeps sessions in a storage.Repository, sealed with
// AES-256-GCM. Sessions survive restarts.
//
// The session key is itself sealed with an externally supplied wrapping key
// before it is stored, so the repository alone cannot recover session data.
type PersistentStore struct {
	repo     storage.Repository
	sealer   *storage.Sealer
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

var _ Store = (*PersistentStore)(nil)

// PersistentOption customises a PersistentStore.
type PersistentOption func(*PersistentStore)

// WithSweepInterval sets how often expired sessions are purged.
func WithSweepInterval(d time.Duration) PersistentOption {
	return func(s *PersistentStore) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithStoreLogger sets the logger used by the sweep loop.
func WithStoreLogger(l *slog.Logger) PersistentOption {
	return func(s *PersistentStore) { s.logger = l }
}

// NewPersistentStore loads (or creates) the session key and starts the
// background sweep. Call Close to stop it.
func NewPersistentStore(ctx context.Context, repo storage.Repository, wrappingKey []byte, opts ...PersistentOption) (*PersistentStore, error) {
	wrap, err := storage.NewSealer(wrappingKey)
	if err != nil {
		return nil, fmt.Errorf("wrapping key: %w", err)
	}
	defer wrap.Wipe()

	key, err := loadOrCreateSessionKey(ctx, repo, wrap)
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(key)

	sealer, err := storage.NewSealer(key)
	if err != nil {
		return nil, err
	}

	s := &PersistentStore{
		repo:     repo,
		sealer:   sealer,
		interval: defaultSweepInterval,
		logger:   slog.Default(),
		now:      time.Now,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	go s.sweepLoop()
	return s, nil
}

// Close stops the sweep goroutine and wipes key material.
func (s *PersistentStore) Close() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		<-s.done
		s.sealer.Wipe()
	})
}

func (s *PersistentStore) Get(ctx context.Context, id string) (Session, error) {
	env, err := s.repo.Get(ctx, sessionNamespace, sessionKind, id)
	if errors.Is(err, storage.ErrNotFound) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("loading session: %w", err)
	}
	sess, err := s.open(id, env)
	if err != nil {
		return Session{}, ErrNotFound
	}
	if sess.Expired(s.now()) {
		_ = s.repo.Delete(ctx, sessionNamespace, sessionKind, id)
		return Session{}, ErrNotFound
	}
	return sess, nil
}

func (s *PersistentStore) Put(ctx context.Context, id string, sess Session) error {
	data, err := encodeRecord(sess)
	if err != nil {
		return err
	}
	defer util.WipeBytes(data)
	env, err := s.sealer.Seal(data, storage.RecordAAD(sessionNamespace, sessionKind, id), 0)
	if err != nil {
		return err
	}
	return s.repo.Put(ctx, sessionNamespace, sessionKind, id, env)
}

func (s *PersistentStore) Delete(ctx context.Context, id string) error {
	err := s.repo.Delete(ctx, sessionNamespace, sessionKind, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}

func (s *PersistentStore) open(id string, env *storage.Envelope) (Session, error) {
	data, err := s.sealer.Open(env, storage.RecordAAD(sessionNamespace, sessionKind, id))
	if err != nil {
		return Session{}, err
	}
	defer util.WipeBytes(data)
	return decodeRecord(data)
}

func (s *PersistentStore) sweepLoop() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if n, err := s.Sweep(context.Background()); err != nil {
				s.logger.Warn("session sweep failed", "error", err)
			} else if n > 0 {
				s.logger.Debug("swept expired sessions", "count", n)
			}
		}
	}
}

// Sweep removes expired or unreadable sessions and returns how many were
// removed.
func (s *PersistentStore) Sweep(ctx context.Context) (int, error) {
	ids, err := s.repo.List(ctx, sessionNamespace, sessionKind)
	if err != nil {
		return 0, err
	}
	now := s.now()
	removed := 0
	for _, id := range ids {
		env, err := s.repo.Get(ctx, sessionNamespace, sessionKind, id)
		if err != nil {
			continue
		}
		sess, err := s.open(id, env)
		if err == nil && !sess.Expired(now) {
			continue
		}
		if err := s.repo.Delete(ctx, sessionNamespace, sessionKind, id); err == nil {
			removed++
		}
	}
	return removed, nil
}

// loadOrCreateSessionKey unseals the stored session key with wrap, or mints
// and stores a new one. A changed wrapping key makes the old key unreadable;
// a fresh key is generated and existing sessions are lost.
func loadOrCreateSessionKey(ctx context.Context, repo storage.Repository, wrap *storage.Sealer) ([]byte, error) {
	aad := []byte(sessionKeyWrapAAD)

	env, err := repo.Get(ctx, sessionNamespace, sessionKeyKind, sessionKeyID)
	switch {
	case err == nil:
		key, openErr := wrap.Open(env, aad)
		if openErr == nil && len(key) == util.AESKeySize {
			return key, nil
		}
	case !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("loading session key: %w", err)
	}

	key, err := util.NewAESKey()
	if err != nil {
		return nil, err
	}
	sealed, err := wrap.Seal(key, aad, 0)
	if err != nil {
		util.WipeBytes(key)
		return nil, fmt.Errorf("sealing session key: %w", err)
	}
	if err := repo.Put(ctx, sessionNamespace, sessionKeyKind, sessionKeyID, sealed); err != nil {
		util.WipeBytes(key)
		return nil, fmt.Errorf("storing session key: %w", err)
	}
	return key, nil
}
