package postgres

import (
	"context"
	_ "embed"
)

//go:embed schema.sql
var schemaSQL string

// EnsureSchema creates the records table and its index if they do not exist.
// It is safe to call on every startup.
func EnsureSchema(ctx context.Context, db pool) error {
	_, err := db.Exec(ctx, schemaSQL)
	return err
}
