// Package postgres implements storage.Repository backed by PostgreSQL.
//
// The records table uses a composite primary key (namespace, kind,
// record_id) mirroring the key space of the BBolt and in-memory backends.
// Envelope fields are stored as individual columns so nonce and ciphertext
// use native BYTEA storage.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ftmatch/authgate/storage"
)

// pool is the subset of *pgxpool.Pool the store needs; pgxmock satisfies it
// in tests.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

const (
	upsertSQL = `INSERT INTO records (namespace, kind, record_id, ver, scheme, nonce, ciphertext, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (namespace, kind, record_id)
		 DO UPDATE SET ver = $4, scheme = $5, nonce = $6, ciphertext = $7, version = $8, updated_at = now()`
	insertSQL = `INSERT INTO records (namespace, kind, record_id, ver, scheme, nonce, ciphertext, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	updateSQL = `UPDATE records SET ver = $4, scheme = $5, nonce = $6, ciphertext = $7, version = $8, updated_at = now()
		 WHERE namespace = $1 AND kind = $2 AND record_id = $3`
	selectSQL = `SELECT ver, scheme, nonce, ciphertext, version
		 FROM records WHERE namespace = $1 AND kind = $2 AND record_id = $3`
	lockVersionSQL = `SELECT version FROM records
		 WHERE namespace = $1 AND kind = $2 AND record_id = $3
		 FOR UPDATE`
	deleteSQL    = `DELETE FROM records WHERE namespace = $1 AND kind = $2 AND record_id = $3`
	listSQL      = `SELECT record_id FROM records WHERE namespace = $1 AND kind = $2 ORDER BY record_id`
	namespaceSQL = `SELECT EXISTS(SELECT 1 FROM records WHERE namespace = $1 LIMIT 1)`
)

// Store implements storage.Repository backed by PostgreSQL.
type Store struct {
	db     pool
	closer func()
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository over db. The caller owns db.
func NewRepository(db pool) *Store {
	return &Store{db: db}
}

// Connect creates a connection pool from dsn, ensures the schema exists,
// and returns a Store that owns the pool.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	p, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	if err := EnsureSchema(ctx, p); err != nil {
		p.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return &Store{db: p, closer: p.Close}, nil
}

// Close closes the pool when the Store owns it.
func (s *Store) Close() error {
	if s.closer != nil {
		s.closer()
	}
	return nil
}

func (s *Store) Put(ctx context.Context, namespace, kind, id string, envelope *storage.Envelope) error {
	_, err := s.db.Exec(ctx, upsertSQL, envelopeArgs(namespace, kind, id, envelope)...)
	if err != nil {
		return fmt.Errorf("putting %s/%s: %w", kind, id, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, namespace, kind, id string) (*storage.Envelope, error) {
	var env storage.Envelope
	err := s.db.QueryRow(ctx, selectSQL, namespace, kind, id).
		Scan(&env.Ver, &env.Scheme, &env.Nonce, &env.Ciphertext, &env.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFoundError(ctx, s.db, namespace, kind, id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting %s/%s: %w", kind, id, err)
	}
	return &env, nil
}

func (s *Store) List(ctx context.Context, namespace, kind string) ([]string, error) {
	rows, err := s.db.Query(ctx, listSQL, namespace, kind)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", kind, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", kind, err)
	}
	return ids, nil
}

func (s *Store) Delete(ctx context.Context, namespace, kind, id string) error {
	tag, err := s.db.Exec(ctx, deleteSQL, namespace, kind, id)
	if err != nil {
		return fmt.Errorf("deleting %s/%s: %w", kind, id, err)
	}
	if tag.RowsAffected() == 0 {
		return notFoundError(ctx, s.db, namespace, kind, id)
	}
	return nil
}

func (s *Store) PutCAS(ctx context.Context, namespace, kind, id string, expectedVersion uint64, envelope *storage.Envelope) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		return putCASInTx(ctx, tx, namespace, kind, id, expectedVersion, envelope)
	})
}

func (s *Store) Batch(ctx context.Context, namespace string, fn func(tx storage.BatchTx) error) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		return fn(&batchTx{ctx: ctx, tx: tx, namespace: namespace})
	})
}

func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type batchTx struct {
	ctx       context.Context
	tx        pgx.Tx
	namespace string
}

var _ storage.BatchTx = (*batchTx)(nil)

func (b *batchTx) Put(kind, id string, envelope *storage.Envelope) error {
	_, err := b.tx.Exec(b.ctx, upsertSQL, envelopeArgs(b.namespace, kind, id, envelope)...)
	return err
}

func (b *batchTx) PutCAS(kind, id string, expectedVersion uint64, envelope *storage.Envelope) error {
	return putCASInTx(b.ctx, b.tx, b.namespace, kind, id, expectedVersion, envelope)
}

func (b *batchTx) Delete(kind, id string) error {
	tag, err := b.tx.Exec(b.ctx, deleteSQL, b.namespace, kind, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s/%s: %w", kind, id, storage.ErrNotFound)
	}
	return nil
}

// putCASInTx performs a compare-and-swap put within an existing transaction,
// locking the row so concurrent writers serialise on it.
func putCASInTx(ctx context.Context, tx pgx.Tx, namespace, kind, id string, expectedVersion uint64, envelope *storage.Envelope) error {
	var current uint64
	err := tx.QueryRow(ctx, lockVersionSQL, namespace, kind, id).Scan(&current)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if expectedVersion != 0 {
			return storage.ErrCASFailed
		}
		_, err = tx.Exec(ctx, insertSQL, envelopeArgs(namespace, kind, id, envelope)...)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// Lost a create race to another transaction.
			return storage.ErrCASFailed
		}
		return err
	case err != nil:
		return err
	case expectedVersion == 0 || current != expectedVersion:
		return storage.ErrCASFailed
	}

	_, err = tx.Exec(ctx, updateSQL, envelopeArgs(namespace, kind, id, envelope)...)
	return err
}

func envelopeArgs(namespace, kind, id string, e *storage.Envelope) []any {
	return []any{namespace, kind, id, e.Ver, e.Scheme, e.Nonce, e.Ciphertext, e.Version}
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// notFoundError distinguishes a missing namespace from a missing record,
// matching the BBolt backend. A failed namespace lookup is reported as such,
// never as a not-found.
func notFoundError(ctx context.Context, q querier, namespace, kind, id string) error {
	var exists bool
	if err := q.QueryRow(ctx, namespaceSQL, namespace).Scan(&exists); err != nil {
		return fmt.Errorf("checking namespace %s: %w", namespace, err)
	}
	if !exists {
		return fmt.Errorf("%s: %w", namespace, storage.ErrNamespaceNotFound)
	}
	return fmt.Errorf("%s/%s: %w", kind, id, storage.ErrNotFound)
}
