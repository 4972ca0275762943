// Package objectstore holds the backends attachments are offloaded to,
// plus URL signing and remote fetching around them.
package objectstore

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("object not found")

// Store is the object storage contract the offload pipeline depends on.
type Store interface {
	// Put writes data at path and returns a backend-specific location.
	Put(ctx context.Context, path string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, path string) ([]byte, string, error)
	Delete(ctx context.Context, path string) error
	Ping(ctx context.Context) error
}

// URLSigner mints time-limited retrieval URLs for stored objects.
type URLSigner interface {
	SignedURL(path string, ttl time.Duration) (string, error)
}
