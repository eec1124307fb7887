package storage

import (
	"context"

	"go.uber.org/zap"

	"baysafe/api/internal/util"
)

type Uploader struct {
	store Store
	log   *zap.Logger
}

func NewUploader(store Store, log *zap.Logger) *Uploader {
	return &Uploader{store: store, log: log}
}

// Upload persists img under a fresh key in folder and returns its locator.
// Failures are logged and reported as "" so callers must check for it.
func (u *Uploader) Upload(ctx context.Context, img UploadedImage, folder string) string {
	if len(img.Data) == 0 {
		u.log.Warn("Refusing to upload empty image", zap.String("filename", img.Filename))
		return ""
	}
	contentType := util.PickMIME(img.ContentType, "", img.Data)

	key := ObjectKey(folder, img.Filename, contentType)
	if err := u.store.Put(ctx, key, img.Data, contentType); err != nil {
		u.log.Error("Failed to upload image",
			zap.String("bucket", u.store.Bucket()),
			zap.String("key", key),
			zap.Error(err))
		return ""
	}

	loc := Locator{Scheme: u.store.Scheme(), Bucket: u.store.Bucket(), Key: key}.String()
	u.log.Info("Image uploaded",
		zap.String("locator", loc),
		zap.String("content_type", contentType),
		zap.Int("size", len(img.Data)))
	return loc
}
