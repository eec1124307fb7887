package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"baysafe/api/internal/util"
)

const defaultExt = ".jpg"

var (
	ErrBadLocator = errors.New("storage: bad locator")
	ErrNotFound   = errors.New("storage: object not found")
)

// UploadedImage is the transient upload received from a client. It is consumed
// once by the Uploader and not retained afterwards.
type UploadedImage struct {
	Filename    string
	ContentType string
	Data        []byte
}

type Object struct {
	Data        []byte
	ContentType string
}

type Store interface {
	// Scheme is the locator scheme this store issues, e.g. "gs".
	Scheme() string
	Bucket() string
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, loc Locator) (Object, error)
}

// Locator addresses one persisted object: <scheme>://<bucket>/<key>.
type Locator struct {
	Scheme string
	Bucket string
	Key    string
}

func (l Locator) String() string {
	return l.Scheme + "://" + l.Bucket + "/" + l.Key
}

// ParseLocator splits s into bucket and key. The scheme must equal scheme.
func ParseLocator(s, scheme string) (Locator, error) {
	prefix := scheme + "://"
	if !strings.HasPrefix(s, prefix) {
		return Locator{}, fmt.Errorf("%w: %q does not start with %s", ErrBadLocator, s, prefix)
	}
	rest := strings.TrimPrefix(s, prefix)
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return Locator{}, fmt.Errorf("%w: %q has no bucket/key", ErrBadLocator, s)
	}
	return Locator{Scheme: scheme, Bucket: bucket, Key: key}, nil
}

// ObjectKey builds <folder>/<uuid><ext>, keeping the original extension.
// Without one the extension follows contentType, then defaults to .jpg.
func ObjectKey(folder, filename, contentType string) string {
	ext := filepath.Ext(filename)
	if ext == "" || ext == "." {
		ext = util.ExtForMIME(contentType)
	}
	if ext == "" {
		ext = defaultExt
	}
	name := uuid.New().String() + strings.ToLower(ext)
	folder = strings.Trim(folder, "/")
	if folder == "" {
		return name
	}
	return folder + "/" + name
}
