// Package metadata is a small key/value store in the local index. It holds
// the key-derivation salt and verifier and other per-install settings.
package metadata

import (
	"context"
)

// Well-known keys.
const (
	KeySalt     = "kdf_salt"
	KeyVerifier = "kdf_verifier"
	KeyInstall  = "install_id"
)

type Repository interface {
	// Get returns common.ErrNotFound for a missing key.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	SetMany(ctx context.Context, values map[string][]byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) (map[string][]byte, error)
	Clear(ctx context.Context) error
}
