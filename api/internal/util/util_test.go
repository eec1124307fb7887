package util

import (
	"encoding/base64"
	"testing"
)

func TestSniffImageMIME(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0}, "image/jpeg"},
		{"png", []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, "image/png"},
		{"webp", []byte("RIFF\x00\x00\x00\x00WEBPVP8 "), "image/webp"},
		{"text", []byte("hello"), ""},
		{"empty", nil, ""},
	}

	for _, tt := range tests {
		if got := SniffImageMIME(tt.data); got != tt.want {
			t.Errorf("%s: SniffImageMIME = %q, expected %q", tt.name, got, tt.want)
		}
	}
}

func TestPickMIME(t *testing.T) {
	png := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

	if got := PickMIME("image/gif", "image/png", png); got != "image/gif" {
		t.Errorf("explicit MIME must win, got %q", got)
	}
	if got := PickMIME("", "image/webp", png); got != "image/webp" {
		t.Errorf("hint must win over sniffing, got %q", got)
	}
	if got := PickMIME("application/octet-stream", "", png); got != "image/png" {
		t.Errorf("octet-stream must fall through to sniffing, got %q", got)
	}
	if got := PickMIME("", "", nil); got != "image/jpeg" {
		t.Errorf("empty data must default to image/jpeg, got %q", got)
	}
}

func TestDecodeBase64MaybeDataURL(t *testing.T) {
	raw := []byte{0xFF, 0xD8, 0x01, 0x02}
	b64 := base64.StdEncoding.EncodeToString(raw)

	data, mime, err := DecodeBase64MaybeDataURL("data:image/jpeg;base64," + b64)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mime != "image/jpeg" {
		t.Errorf("expected MIME from data URL, got %q", mime)
	}
	if string(data) != string(raw) {
		t.Errorf("decoded bytes differ")
	}

	if _, _, err := DecodeBase64MaybeDataURL("%%%not-base64%%%"); err == nil {
		t.Error("expected error for invalid base64")
	}
}

func TestExtForMIME(t *testing.T) {
	if ExtForMIME("image/png") != ".png" || ExtForMIME("IMAGE/JPEG") != ".jpg" {
		t.Error("unexpected extension mapping")
	}
	if ExtForMIME("application/pdf") != "" {
		t.Error("unknown MIME must map to empty extension")
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("unexpected %q", got)
	}
	if got := Truncate("abcdef", 3); got != "abc…" {
		t.Errorf("unexpected %q", got)
	}
	// "ñ" is two bytes; cutting in the middle must back off to the rune start.
	if got := Truncate("añb", 2); got != "a…" {
		t.Errorf("unexpected %q", got)
	}
}
