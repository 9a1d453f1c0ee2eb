package storage

import "context"

// Ref points at a stored blob.
type Ref struct {
	Key string
	URL string
}

// BlobStore persists processed artifacts and hands back retrievable
// references.
type BlobStore interface {
	// Put stores data under key and returns its reference.
	Put(ctx context.Context, key string, data []byte, contentType string) (Ref, error)

	// Get resolves the reference for an existing key.
	Get(ctx context.Context, key string) (Ref, error)
}
