// Package storage holds the settlement archive: JSON records of refunds,
// cancellations and returns written to a local directory or an R2 bucket.
package storage

import (
	"context"
	"io"

	"github.com/dukerupert/orderflow/internal"
)

// Storage stores archive objects by key.
type Storage interface {
	// Put stores an object and returns where it landed.
	// Writing the same key again replaces the object.
	Put(ctx context.Context, key string, content io.Reader, contentType string) (string, error)

	// Exists reports whether an object is stored at key.
	Exists(ctx context.Context, key string) (bool, error)
}

// NewStorage creates a Storage implementation based on configuration.
// Returns LocalStorage for "local" provider, R2Storage for "r2" provider.
func NewStorage(cfg internal.ArchiveConfig) (Storage, error) {
	switch cfg.Provider {
	case "local", "":
		return NewLocalStorage(cfg.LocalPath)
	case "r2":
		return NewR2Storage(R2Config{
			AccountID:   cfg.R2AccountID,
			AccessKeyID: cfg.R2AccessKeyID,
			SecretKey:   cfg.R2SecretKey,
			BucketName:  cfg.R2BucketName,
			PublicURL:   cfg.R2PublicURL,
		})
	default:
		return nil, ErrUnknownProvider(cfg.Provider)
	}
}
