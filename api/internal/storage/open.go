package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"baysafe/api/internal/config"
)

// Open builds the Store selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StorageConfig, log *zap.Logger) (Store, error) {
	switch cfg.Backend {
	case "gcs":
		return NewGCS(ctx, cfg.Bucket)
	case "s3":
		st, err := NewS3(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		if err := st.EnsureBucket(ctx, cfg.S3Region); err != nil {
			log.Warn("Failed to ensure bucket exists", zap.Error(err))
		}
		return st, nil
	case "memory":
		bucket := cfg.Bucket
		if bucket == "" {
			bucket = "local"
		}
		return NewMemory("gs", bucket), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
