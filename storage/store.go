package storage

import (
	"context"
	"errors"
)

// Keys of the persisted records.
const (
	HistoryKey  = "proof_vault_history"
	FallbackKey = "proof_vault_fallback"
)

var ErrNotFound = errors.New("storage: key not found")

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks proof-vault/storage Store

// Store is the key-value persistence used by the verification engine.
// Get returns ErrNotFound for missing keys; Delete of a missing key is not an error.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}
