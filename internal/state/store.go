package state

import "context"

// Store is the durable key/value surface shared by the executor
// (idempotency records) and the strategy snapshot persistence.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}
