package memory

import (
	"context"
	"testing"

	"github.com/ftmatch/authgate/storage"
	"github.com/ftmatch/authgate/storage/storagetest"
)

func TestMemoryRepository(t *testing.T) {
	storagetest.Run(t, func(*testing.T) storage.Repository {
		return NewRepository()
	})
}

func TestBatchRollbackRestoresExisting(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository()
	_ = repo.Put(ctx, "ns", "ACCOUNT", "a1", &storage.Envelope{Ver: 1})

	_ = repo.Batch(ctx, "ns", func(tx storage.BatchTx) error {
		_ = tx.Put("ACCOUNT", "a1", &storage.Envelope{Ver: 2})
		return context.Canceled
	})

	got, err := repo.Get(ctx, "ns", "ACCOUNT", "a1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Ver != 1 {
		t.Errorf("expected Ver 1 after rollback, got %d", got.Ver)
	}
}

func TestBatchHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := NewRepository().Batch(ctx, "ns", func(storage.BatchTx) error {
		called = true
		return nil
	})
	if err == nil || called {
		t.Errorf("expected cancelled batch to be skipped, err=%v called=%v", err, called)
	}
}
