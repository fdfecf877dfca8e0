package storage

import (
	"fmt"

	"bookfactory/internal/config"
)

// NewArchive creates an ArchiveStorage instance based on configuration.
// Parameters:
//   - cfg: archive configuration; Type selects the backend.
// Returns:
//   - ArchiveStorage: initialized backend, nil when archiving is disabled.
//   - error: non-nil if the backend cannot be created.
func NewArchive(cfg *config.ArchiveConfig) (ArchiveStorage, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	switch cfg.Type {
	case "s3":
		return NewS3Storage(&S3Config{
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			UseSSL:    cfg.UseSSL,
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
		})
	case "local", "":
		return NewLocalStorage(cfg.Dir)
	default:
		return nil, fmt.Errorf("unknown archive type %q", cfg.Type)
	}
}
