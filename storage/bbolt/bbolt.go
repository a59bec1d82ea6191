// Package bbolt provides a BBolt-backed storage repository. Each namespace is
// a top-level bucket and records are keyed "kind:id" inside it.
package bbolt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/ftmatch/authgate/storage"
)

// Store implements storage.Repository backed by a BBolt database.
type Store struct {
	db *bbolt.DB
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given BBolt database.
func NewRepository(db *bbolt.DB) *Store {
	return &Store{db: db}
}

// Open opens (creating if needed) a BBolt database at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return NewRepository(db), nil
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func key(kind, id string) []byte {
	return []byte(kind + ":" + id)
}

func (s *Store) Put(ctx context.Context, namespace, kind, id string, envelope *storage.Envelope) error {
	return s.update(ctx, namespace, func(b *bbolt.Bucket) error {
		return putInBucket(b, kind, id, envelope)
	})
}

func (s *Store) Get(ctx context.Context, namespace, kind, id string) (*storage.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var envelope storage.Envelope
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(namespace))
		if b == nil {
			return fmt.Errorf("%s: %w", namespace, storage.ErrNamespaceNotFound)
		}
		data := b.Get(key(kind, id))
		if data == nil {
			return fmt.Errorf("%s/%s: %w", kind, id, storage.ErrNotFound)
		}
		return json.Unmarshal(data, &envelope)
	})
	if err != nil {
		return nil, err
	}
	return &envelope, nil
}

func (s *Store) Delete(ctx context.Context, namespace, kind, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(namespace))
		if b == nil {
			return fmt.Errorf("%s: %w", namespace, storage.ErrNamespaceNotFound)
		}
		return deleteInBucket(b, kind, id)
	})
}

func (s *Store) List(ctx context.Context, namespace, kind string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var ids []string
	prefix := []byte(kind + ":")
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(namespace))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			ids = append(ids, string(k[len(prefix):]))
		}
		return nil
	})
	return ids, err
}

func (s *Store) PutCAS(ctx context.Context, namespace, kind, id string, expectedVersion uint64, envelope *storage.Envelope) error {
	return s.update(ctx, namespace, func(b *bbolt.Bucket) error {
		return putCASInBucket(b, kind, id, expectedVersion, envelope)
	})
}

// Batch runs fn inside a single read-write bbolt transaction; returning an
// error from fn rolls the transaction back.
func (s *Store) Batch(ctx context.Context, namespace string, fn func(tx storage.BatchTx) error) error {
	return s.update(ctx, namespace, func(b *bbolt.Bucket) error {
		return fn(&batchTx{bucket: b})
	})
}

func (s *Store) update(ctx context.Context, namespace string, fn func(b *bbolt.Bucket) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(namespace))
		if err != nil {
			return fmt.Errorf("creating bucket %s: %w", namespace, err)
		}
		return fn(b)
	})
}

func putInBucket(b *bbolt.Bucket, kind, id string, envelope *storage.Envelope) error {
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}
	return b.Put(key(kind, id), data)
}

func deleteInBucket(b *bbolt.Bucket, kind, id string) error {
	k := key(kind, id)
	if b.Get(k) == nil {
		return fmt.Errorf("%s/%s: %w", kind, id, storage.ErrNotFound)
	}
	return b.Delete(k)
}

func putCASInBucket(b *bbolt.Bucket, kind, id string, expectedVersion uint64, envelope *storage.Envelope) error {
	existingData := b.Get(key(kind, id))

	switch {
	case existingData == nil && expectedVersion != 0:
		return storage.ErrCASFailed
	case existingData != nil && expectedVersion == 0:
		return storage.ErrCASFailed
	case existingData != nil:
		var existing storage.Envelope
		if err := json.Unmarshal(existingData, &existing); err != nil {
			return fmt.Errorf("decoding envelope: %w", err)
		}
		if existing.Version != expectedVersion {
			return storage.ErrCASFailed
		}
	}

	return putInBucket(b, kind, id, envelope)
}

type batchTx struct {
	bucket *bbolt.Bucket
}

func (tx *batchTx) Put(kind, id string, envelope *storage.Envelope) error {
	return putInBucket(tx.bucket, kind, id, envelope)
}

func (tx *batchTx) PutCAS(kind, id string, expectedVersion uint64, envelope *storage.Envelope) error {
	return putCASInBucket(tx.bucket, kind, id, expectedVersion, envelope)
}

func (tx *batchTx) Delete(kind, id string) error {
	return deleteInBucket(tx.bucket, kind, id)
}
