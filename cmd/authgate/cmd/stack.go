package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ftmatch/authgate/account"
	"github.com/ftmatch/authgate/config"
	"github.com/ftmatch/authgate/internal/util"
	"github.com/ftmatch/authgate/keyexchange"
	"github.com/ftmatch/authgate/match"
	"github.com/ftmatch/authgate/session"
	"github.com/ftmatch/authgate/storage"
	bboltstorage "github.com/ftmatch/authgate/storage/bbolt"
	"github.com/ftmatch/authgate/storage/memory"
	"github.com/ftmatch/authgate/storage/postgres"
)

const (
	dbFileName   = "authgate.db"
	redisTimeout = 5 * time.Second
)

// backend is an opened record repository plus the sealer for its envelopes.
type backend struct {
	repo   storage.Repository
	sealer *storage.Sealer
	key    []byte
	close  func() error
}

func (b *backend) Close() error {
	b.sealer.Wipe()
	util.WipeBytes(b.key)
	if b.close != nil {
		return b.close()
	}
	return nil
}

// openBackend opens the configured repository. requireKey refuses to run
// a durable backend without a configured storage key.
func openBackend(ctx context.Context, cfg config.Config, logger *slog.Logger, requireKey bool) (*backend, error) {
	key, err := cfg.StorageKeyBytes()
	if err != nil {
		return nil, err
	}
	if key == nil {
		if requireKey && cfg.Storage != config.StorageMemory {
			return nil, errors.New("AUTHGATE_STORAGE_KEY is required for a durable storage backend")
		}
		if key, err = util.NewAESKey(); err != nil {
			return nil, fmt.Errorf("generating storage key: %w", err)
		}
		if cfg.Storage != config.StorageMemory {
			logger.Warn("AUTHGATE_STORAGE_KEY not set; using an ephemeral key, stored records will be unreadable after restart")
		}
	}

	sealer, err := storage.NewSealer(key)
	if err != nil {
		return nil, err
	}
	b := &backend{sealer: sealer, key: key}

	switch cfg.Storage {
	case config.StorageMemory:
		b.repo = memory.NewRepository()
	case config.StorageBBolt:
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			sealer.Wipe()
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		store, err := bboltstorage.Open(filepath.Join(cfg.DataDir, dbFileName))
		if err != nil {
			sealer.Wipe()
			return nil, fmt.Errorf("failed to open storage: %w", err)
		}
		b.repo, b.close = store, store.Close
	case config.StoragePostgres:
		store, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			sealer.Wipe()
			return nil, err
		}
		b.repo, b.close = store, store.Close
	default:
		sealer.Wipe()
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage)
	}
	return b, nil
}

// stack holds every component the server wires together.
type stack struct {
	backend  *backend
	accounts *account.Store
	hasher   *account.Hasher
	keys     *keyexchange.Keyring
	sessions session.Store
	issuer   *session.Issuer
	verifier *account.Verifier
	rotator  *account.Rotator
	matches  match.Provider

	closers []func()
	sweeps  []func()
}

// Sweep runs the periodic cleanup of stores that have no loop of their own.
func (rt *stack) Sweep() {
	for _, fn := range rt.sweeps {
		fn()
	}
}

func (rt *stack) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	if rt.keys != nil {
		rt.keys.Close()
	}
	if rt.backend != nil {
		if err := rt.backend.Close(); err != nil {
			slog.Default().Warn("closing storage", "error", err)
		}
	}
}

func newStack(ctx context.Context, cfg config.Config, logger *slog.Logger) (_ *stack, err error) {
	rt := &stack{}
	defer func() {
		if err != nil {
			rt.Close()
		}
	}()

	if rt.backend, err = openBackend(ctx, cfg, logger, false); err != nil {
		return nil, err
	}
	rt.accounts = account.NewStore(rt.backend.repo, rt.backend.sealer)
	if rt.hasher, err = account.NewHasher(cfg.Argon2Params()); err != nil {
		return nil, err
	}

	rt.keys = keyexchange.NewKeyring(
		keyexchange.WithRotation(cfg.KeyRotation),
		keyexchange.WithRetention(cfg.KeyRetention),
	)

	if rt.sessions, err = newSessionStore(ctx, cfg, rt, logger); err != nil {
		return nil, err
	}

	issuerOpts := []session.IssuerOption{
		session.WithTTL(cfg.TokenTTL),
		session.WithDefaultRegion(cfg.DefaultRegion),
	}
	tokenKey, err := cfg.TokenKeyBytes()
	if err != nil {
		return nil, err
	}
	if tokenKey != nil {
		issuerOpts = append(issuerOpts, session.WithSigningKey(tokenKey))
		util.WipeBytes(tokenKey)
	} else {
		logger.Warn("AUTHGATE_TOKEN_KEY not set; issued tokens will not survive a restart")
	}
	if rt.issuer, err = session.NewIssuer(rt.sessions, issuerOpts...); err != nil {
		return nil, err
	}

	rt.verifier = account.NewVerifier(rt.keys, rt.accounts, rt.hasher,
		account.WithPlaintextMeta(cfg.AllowPlaintextMeta))
	rt.rotator = account.NewRotator(rt.accounts, rt.hasher)

	rt.matches = match.Empty{}
	if len(cfg.MatchHosts) > 0 {
		rt.matches = match.NewHTTPProvider(cfg.MatchHosts,
			match.WithTimeout(cfg.MatchTimeout),
			match.WithRetries(cfg.MatchRetries, 0),
			match.WithFallbackRegion(cfg.DefaultRegion),
		)
	} else {
		logger.Warn("AUTHGATE_MATCH_HOSTS not set; login responses carry empty match lists")
	}

	if cfg.SeedFile != "" {
		if _, err := importSeedFile(ctx, rt.accounts, rt.hasher, cfg, cfg.SeedFile, logger); err != nil {
			return nil, err
		}
	}
	return rt, nil
}

func newSessionStore(ctx context.Context, cfg config.Config, rt *stack, logger *slog.Logger) (session.Store, error) {
	switch cfg.SessionStore {
	case config.SessionsMemory:
		store := session.NewMemoryStore()
		rt.sweeps = append(rt.sweeps, func() {
			if n := store.Sweep(); n > 0 {
				logger.Debug("expired sessions removed", "count", n)
			}
		})
		return store, nil
	case config.SessionsPersistent:
		store, err := session.NewPersistentStore(ctx, rt.backend.repo, rt.backend.key,
			session.WithStoreLogger(logger.With("component", "sessions")))
		if err != nil {
			return nil, fmt.Errorf("opening session store: %w", err)
		}
		rt.closers = append(rt.closers, store.Close)
		return store, nil
	case config.SessionsRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, redisTimeout)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		rt.closers = append(rt.closers, func() { client.Close() })
		return session.NewRedisStore(client), nil
	default:
		return nil, fmt.Errorf("unknown session store %q", cfg.SessionStore)
	}
}

func importSeedFile(ctx context.Context, store *account.Store, hasher *account.Hasher, cfg config.Config, path string, logger *slog.Logger) (account.ImportResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return account.ImportResult{}, fmt.Errorf("opening seed file: %w", err)
	}
	defer f.Close()

	seed, err := account.LoadSeed(f)
	if err != nil {
		return account.ImportResult{}, err
	}
	seeder, err := account.NewSeeder(store, hasher, cfg.SnowflakeNode)
	if err != nil {
		return account.ImportResult{}, err
	}
	res, err := seeder.Import(ctx, seed)
	if err != nil {
		return res, fmt.Errorf("importing %s: %w", path, err)
	}
	logger.Info("seed import finished", "file", path, "created", len(res.Created), "skipped", len(res.Skipped))
	return res, nil
}

func newLogger(cfg config.Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
}
