// Package storage provides sealed record storage shared by the account and
// session subsystems.
package storage

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrCASFailed is returned when a compare-and-swap version check fails.
	ErrCASFailed = errors.New("CAS version mismatch")
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrNamespaceNotFound is returned when no record has ever been written
	// to the namespace. It wraps ErrNotFound.
	ErrNamespaceNotFound = fmt.Errorf("namespace not found: %w", ErrNotFound)
)

// BatchTx provides writes within an atomic transaction.
// The namespace is scoped to the batch, so methods don't require it.
type BatchTx interface {
	Put(kind, id string, envelope *Envelope) error
	PutCAS(kind, id string, expectedVersion uint64, envelope *Envelope) error
	Delete(kind, id string) error
}

// Repository stores sealed envelopes addressed by (namespace, kind, id).
// Implementations must be safe for concurrent use.
type Repository interface {
	Put(ctx context.Context, namespace, kind, id string, envelope *Envelope) error
	Get(ctx context.Context, namespace, kind, id string) (*Envelope, error)
	Delete(ctx context.Context, namespace, kind, id string) error
	List(ctx context.Context, namespace, kind string) ([]string, error)
	// PutCAS writes envelope only when the stored version equals
	// expectedVersion. An expectedVersion of 0 means "must not exist".
	PutCAS(ctx context.Context, namespace, kind, id string, expectedVersion uint64, envelope *Envelope) error
	Batch(ctx context.Context, namespace string, fn func(tx BatchTx) error) error
}
