// Package memory provides a thread-safe in-memory implementation of storage.Repository.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/ftmatch/authgate/storage"
)

// Repository keeps envelopes in process memory. Suitable for tests,
// development, and single-process deployments that accept data loss on
// restart.
type Repository struct {
	mu   sync.RWMutex
	data map[string]map[string]*storage.Envelope
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates a new empty in-memory Repository.
func NewRepository() *Repository {
	return &Repository{data: make(map[string]map[string]*storage.Envelope)}
}

func recordKey(kind, id string) string {
	return kind + ":" + id
}

func (r *Repository) Put(_ context.Context, namespace, kind, id string, envelope *storage.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.putLocked(namespace, kind, id, envelope)
	return nil
}

func (r *Repository) putLocked(namespace, kind, id string, envelope *storage.Envelope) {
	ns, ok := r.data[namespace]
	if !ok {
		ns = make(map[string]*storage.Envelope)
		r.data[namespace] = ns
	}
	ns[recordKey(kind, id)] = envelope.Clone()
}

func (r *Repository) Get(_ context.Context, namespace, kind, id string) (*storage.Envelope, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	env, err := r.getLocked(namespace, kind, id)
	if err != nil {
		return nil, err
	}
	return env.Clone(), nil
}

// getLocked returns the stored pointer; callers must clone before handing
// it out.
func (r *Repository) getLocked(namespace, kind, id string) (*storage.Envelope, error) {
	ns, ok := r.data[namespace]
	if !ok {
		return nil, storage.ErrNamespaceNotFound
	}
	env, ok := ns[recordKey(kind, id)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return env, nil
}

func (r *Repository) List(_ context.Context, namespace, kind string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	prefix := kind + ":"
	var ids []string
	for k := range r.data[namespace] {
		if id, ok := strings.CutPrefix(k, prefix); ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *Repository) Delete(_ context.Context, namespace, kind, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deleteLocked(namespace, kind, id)
}

func (r *Repository) deleteLocked(namespace, kind, id string) error {
	if _, err := r.getLocked(namespace, kind, id); err != nil {
		return err
	}
	delete(r.data[namespace], recordKey(kind, id))
	return nil
}

func (r *Repository) PutCAS(_ context.Context, namespace, kind, id string, expectedVersion uint64, envelope *storage.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.putCASLocked(namespace, kind, id, expectedVersion, envelope)
}

func (r *Repository) putCASLocked(namespace, kind, id string, expectedVersion uint64, envelope *storage.Envelope) error {
	existing, err := r.getLocked(namespace, kind, id)
	switch {
	case err != nil && expectedVersion != 0:
		return storage.ErrCASFailed
	case err == nil && existing.Version != expectedVersion:
		return storage.ErrCASFailed
	case err == nil && expectedVersion == 0:
		return storage.ErrCASFailed
	}
	r.putLocked(namespace, kind, id, envelope)
	return nil
}

// Batch executes fn under the write lock. On error, every write made by fn
// is rolled back.
func (r *Repository) Batch(ctx context.Context, namespace string, fn func(tx storage.BatchTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := r.snapshot(namespace)
	if err := fn(&batchTx{repo: r, namespace: namespace}); err != nil {
		r.restore(namespace, snapshot)
		return err
	}
	return nil
}

func (r *Repository) snapshot(namespace string) map[string]*storage.Envelope {
	original, ok := r.data[namespace]
	if !ok {
		return nil
	}
	cp := make(map[string]*storage.Envelope, len(original))
	for k, v := range original {
		cp[k] = v.Clone()
	}
	return cp
}

func (r *Repository) restore(namespace string, snapshot map[string]*storage.Envelope) {
	if snapshot == nil {
		delete(r.data, namespace)
		return
	}
	r.data[namespace] = snapshot
}

type batchTx struct {
	repo      *Repository
	namespace string
}

func (tx *batchTx) Put(kind, id string, envelope *storage.Envelope) error {
	tx.repo.putLocked(tx.namespace, kind, id, envelope)
	return nil
}

func (tx *batchTx) PutCAS(kind, id string, expectedVersion uint64, envelope *storage.Envelope) error {
	return tx.repo.putCASLocked(tx.namespace, kind, id, expectedVersion, envelope)
}

func (tx *batchTx) Delete(kind, id string) error {
	return tx.repo.deleteLocked(tx.namespace, kind, id)
}
