// Package storagetest holds a behavioural test suite every
// storage.Repository backend must pass.
package storagetest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/ftmatch/authgate/storage"
)

// Run exercises repo against the Repository contract. newRepo must return an
// empty repository; it is called once per subtest.
func Run(t *testing.T, newRepo func(t *testing.T) storage.Repository) {
	t.Helper()
	ctx := context.Background()
	ns := "ns1"
	env := &storage.Envelope{
		Ver:        1,
		Scheme:     "aes256gcm",
		Nonce:      []byte("nonce1234567"),
		Ciphertext: []byte("ciphertext"),
		Version:    1,
	}

	t.Run("PutAndGet", func(t *testing.T) {
		repo := newRepo(t)
		if err := repo.Put(ctx, ns, "ACCOUNT", "a1", env); err != nil {
			t.Fatalf("Put failed: %v", err)
		}

		got, err := repo.Get(ctx, ns, "ACCOUNT", "a1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.Ver != env.Ver || got.Scheme != env.Scheme || !bytes.Equal(got.Nonce, env.Nonce) ||
			!bytes.Equal(got.Ciphertext, env.Ciphertext) || got.Version != env.Version {
			t.Errorf("Get returned wrong envelope: %+v", got)
		}

		got.Nonce[0] = 'X'
		again, _ := repo.Get(ctx, ns, "ACCOUNT", "a1")
		if again.Nonce[0] == 'X' {
			t.Error("Get must not expose stored buffers")
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.Get(ctx, "missing", "ACCOUNT", "a1")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound for missing namespace, got %v", err)
		}

		_ = repo.Put(ctx, ns, "ACCOUNT", "a1", env)
		_, err = repo.Get(ctx, ns, "ACCOUNT", "missing")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound for missing record, got %v", err)
		}
	})

	t.Run("List", func(t *testing.T) {
		repo := newRepo(t)
		_ = repo.Put(ctx, ns, "ACCOUNT", "a1", env)
		_ = repo.Put(ctx, ns, "ACCOUNT", "a2", env)
		_ = repo.Put(ctx, ns, "ROLE", "r1", env)

		ids, err := repo.List(ctx, ns, "ACCOUNT")
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(ids) != 2 {
			t.Errorf("expected 2 ids, got %d: %v", len(ids), ids)
		}

		ids, err = repo.List(ctx, "missing", "ACCOUNT")
		if err != nil {
			t.Fatalf("List on missing namespace failed: %v", err)
		}
		if len(ids) != 0 {
			t.Errorf("expected 0 ids for missing namespace, got %d", len(ids))
		}
	})

	t.Run("Delete", func(t *testing.T) {
		repo := newRepo(t)
		_ = repo.Put(ctx, ns, "ACCOUNT", "a1", env)
		if err := repo.Delete(ctx, ns, "ACCOUNT", "a1"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := repo.Get(ctx, ns, "ACCOUNT", "a1"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
		if err := repo.Delete(ctx, ns, "ACCOUNT", "a1"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound deleting twice, got %v", err)
		}
	})

	t.Run("PutCAS", func(t *testing.T) {
		repo := newRepo(t)
		v1 := env.Clone()
		v2 := env.Clone()
		v2.Version = 2

		if err := repo.PutCAS(ctx, ns, "ACCOUNT", "a1", 0, v1); err != nil {
			t.Fatalf("PutCAS create failed: %v", err)
		}
		if err := repo.PutCAS(ctx, ns, "ACCOUNT", "a1", 0, v1); !errors.Is(err, storage.ErrCASFailed) {
			t.Errorf("expected ErrCASFailed creating twice, got %v", err)
		}
		if err := repo.PutCAS(ctx, ns, "ACCOUNT", "other", 1, v1); !errors.Is(err, storage.ErrCASFailed) {
			t.Errorf("expected ErrCASFailed updating missing record, got %v", err)
		}
		if err := repo.PutCAS(ctx, ns, "ACCOUNT", "a1", 1, v2); err != nil {
			t.Fatalf("PutCAS update failed: %v", err)
		}
		if err := repo.PutCAS(ctx, ns, "ACCOUNT", "a1", 1, v1); !errors.Is(err, storage.ErrCASFailed) {
			t.Errorf("expected ErrCASFailed on stale version, got %v", err)
		}

		got, _ := repo.Get(ctx, ns, "ACCOUNT", "a1")
		if got.Version != 2 {
			t.Errorf("expected version 2, got %d", got.Version)
		}
	})

	t.Run("Batch", func(t *testing.T) {
		repo := newRepo(t)
		err := repo.Batch(ctx, ns, func(tx storage.BatchTx) error {
			if err := tx.Put("ACCOUNT", "a1", env); err != nil {
				return err
			}
			return tx.PutCAS("ROLE", "r1", 0, env)
		})
		if err != nil {
			t.Fatalf("Batch failed: %v", err)
		}
		if _, err := repo.Get(ctx, ns, "ROLE", "r1"); err != nil {
			t.Errorf("ROLE/r1 should exist after batch: %v", err)
		}

		err = repo.Batch(ctx, ns, func(tx storage.BatchTx) error {
			if err := tx.Put("ACCOUNT", "a2", env); err != nil {
				return err
			}
			return fmt.Errorf("simulated error")
		})
		if err == nil {
			t.Fatal("expected error from Batch, got nil")
		}
		if _, err := repo.Get(ctx, ns, "ACCOUNT", "a2"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("ACCOUNT/a2 should not exist after failed batch, got %v", err)
		}

		err = repo.Batch(ctx, ns, func(tx storage.BatchTx) error {
			return tx.PutCAS("ROLE", "r1", 0, env)
		})
		if !errors.Is(err, storage.ErrCASFailed) {
			t.Errorf("expected ErrCASFailed inside batch, got %v", err)
		}
	})

	t.Run("ConcurrentCAS", func(t *testing.T) {
		repo := newRepo(t)
		_ = repo.PutCAS(ctx, ns, "ACCOUNT", "a1", 0, env)

		const writers = 8
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for range writers {
			wg.Go(func() {
				next := env.Clone()
				next.Version = 2
				if err := repo.PutCAS(ctx, ns, "ACCOUNT", "a1", 1, next); err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			})
		}
		wg.Wait()
		if wins != 1 {
			t.Errorf("expected exactly one CAS winner, got %d", wins)
		}
	})
}
