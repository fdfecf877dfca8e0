package storage

import (
	"context"
	"io"
)

// ArchiveStorage stores copies of finished manuscripts. The local artifact
// directory stays the source of truth; the archive is a durable secondary.
type ArchiveStorage interface {
	// Upload stores an object under key.
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// Exists checks if an object exists.
	Exists(ctx context.Context, key string) (bool, error)
}
