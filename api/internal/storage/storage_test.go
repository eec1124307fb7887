package storage

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"
)

type failingStore struct{ *Memory }

func (f failingStore) Put(context.Context, string, []byte, string) error {
	return errors.New("permission denied")
}

func TestObjectKey(t *testing.T) {
	tests := []struct {
		folder      string
		filename    string
		contentType string
		prefix      string
		ext         string
	}{
		{"uploads", "foto.JPG", "", "uploads/", ".jpg"},
		{"uploads", "room.png", "image/jpeg", "uploads/", ".png"},
		{"uploads", "noext", "", "uploads/", ".jpg"},
		{"uploads", "", "image/png", "uploads/", ".png"},
		{"uploads", "imagen", "image/webp", "uploads/", ".webp"},
		{"uploads", "", "application/pdf", "uploads/", ".jpg"},
		{"/nested/dir/", "a.webp", "", "nested/dir/", ".webp"},
		{"", "x.png", "", "", ".png"},
	}

	for _, tt := range tests {
		key := ObjectKey(tt.folder, tt.filename, tt.contentType)
		if !strings.HasPrefix(key, tt.prefix) {
			t.Errorf("ObjectKey(%q, %q, %q) = %q, expected prefix %q", tt.folder, tt.filename, tt.contentType, key, tt.prefix)
		}
		if !strings.HasSuffix(key, tt.ext) {
			t.Errorf("ObjectKey(%q, %q, %q) = %q, expected extension %q", tt.folder, tt.filename, tt.contentType, key, tt.ext)
		}
		// uuid (36 chars) + extension
		name := strings.TrimPrefix(key, tt.prefix)
		if len(name) != 36+len(tt.ext) {
			t.Errorf("unexpected object name %q", name)
		}
	}

	if ObjectKey("uploads", "a.jpg", "") == ObjectKey("uploads", "a.jpg", "") {
		t.Error("object keys must be unique per call")
	}
}

func TestParseLocator(t *testing.T) {
	loc, err := ParseLocator("gs://bucket/uploads/abc.jpg", "gs")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loc.Bucket != "bucket" || loc.Key != "uploads/abc.jpg" {
		t.Errorf("unexpected locator %+v", loc)
	}
	if loc.String() != "gs://bucket/uploads/abc.jpg" {
		t.Errorf("String() = %q", loc.String())
	}

	bad := []string{
		"https://bucket/uploads/abc.jpg",
		"s3://bucket/key",
		"gs://bucket",
		"gs:///key",
		"gs://bucket/",
		"",
	}
	for _, s := range bad {
		if _, err := ParseLocator(s, "gs"); !errors.Is(err, ErrBadLocator) {
			t.Errorf("ParseLocator(%q): expected ErrBadLocator, got %v", s, err)
		}
	}
}

func TestUploader_RoundTrip(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory("gs", "baysafe")
	up := NewUploader(mem, zap.NewNop())

	inputs := []UploadedImage{
		{Filename: "cuarto.jpg", ContentType: "image/jpeg", Data: []byte{0xFF, 0xD8, 0xFF, 0x00, 0x01}},
		{Filename: "sala.png", ContentType: "image/png", Data: []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0x42}},
		{Filename: "blob", ContentType: "application/x-custom", Data: bytes.Repeat([]byte{7}, 4096)},
	}

	for _, img := range inputs {
		loc := up.Upload(ctx, img, "uploads")
		if loc == "" {
			t.Fatalf("upload of %s failed", img.Filename)
		}
		if !strings.HasPrefix(loc, "gs://baysafe/uploads/") {
			t.Errorf("unexpected locator %q", loc)
		}

		parsed, err := ParseLocator(loc, "gs")
		if err != nil {
			t.Fatalf("ParseLocator(%q): %v", loc, err)
		}
		obj, err := mem.Get(ctx, parsed)
		if err != nil {
			t.Fatalf("Get(%q): %v", loc, err)
		}
		if !bytes.Equal(obj.Data, img.Data) {
			t.Errorf("%s: fetched bytes differ from uploaded bytes", img.Filename)
		}
		if obj.ContentType != img.ContentType {
			t.Errorf("%s: content type %q, expected %q", img.Filename, obj.ContentType, img.ContentType)
		}
	}
}

func TestUploader_SniffsMissingContentType(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory("gs", "baysafe")
	up := NewUploader(mem, zap.NewNop())

	loc := up.Upload(ctx, UploadedImage{Filename: "x", Data: []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}}, "uploads")
	parsed, err := ParseLocator(loc, "gs")
	if err != nil {
		t.Fatalf("ParseLocator: %v", err)
	}
	obj, err := mem.Get(ctx, parsed)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if obj.ContentType != "image/png" {
		t.Errorf("expected sniffed image/png, got %q", obj.ContentType)
	}
	if !strings.HasSuffix(parsed.Key, ".png") {
		t.Errorf("expected .png key for sniffed PNG without extension, got %q", parsed.Key)
	}
}

func TestUploader_FailureReturnsEmptyLocator(t *testing.T) {
	up := NewUploader(failingStore{NewMemory("gs", "b")}, zap.NewNop())

	loc := up.Upload(context.Background(), UploadedImage{Filename: "a.jpg", Data: []byte{1}}, "uploads")
	if loc != "" {
		t.Errorf("expected empty locator on failure, got %q", loc)
	}

	if loc := up.Upload(context.Background(), UploadedImage{Filename: "a.jpg"}, "uploads"); loc != "" {
		t.Errorf("expected empty locator for empty image, got %q", loc)
	}
}

func TestMemory_GetMissing(t *testing.T) {
	mem := NewMemory("gs", "b")
	_, err := mem.Get(context.Background(), Locator{Scheme: "gs", Bucket: "b", Key: "missing.jpg"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
