package service

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

func newTestMinIOStorage(t *testing.T) *MinIOStorageService {
	t.Helper()
	svc, err := NewMinIOStorageService("localhost:9000", "access", "secret", "test-bucket", false)
	if err != nil {
		t.Fatalf("new storage: %v", err)
	}
	return svc
}

// A real PNG header; DetectContentType only needs the magic bytes.
var pngHeader = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}

func TestUploadAvatarRejections(t *testing.T) {
	ctx := context.Background()
	svc := newTestMinIOStorage(t)

	t.Run("file too big", func(t *testing.T) {
		_, err := svc.UploadAvatar(ctx, 1, bytes.NewReader(pngHeader), maxAvatarSize+1, "image/png")
		if !errors.Is(err, ErrFileTooBig) {
			t.Fatalf("want ErrFileTooBig, got %v", err)
		}
	})

	t.Run("spoofed content type", func(t *testing.T) {
		body := strings.NewReader("#!/bin/sh\nrm -rf /\n")
		_, err := svc.UploadAvatar(ctx, 1, body, int64(body.Len()), "image/png")
		if !errors.Is(err, ErrInvalidFileType) {
			t.Fatalf("want ErrInvalidFileType, got %v", err)
		}
	})

	t.Run("gif is not allowed", func(t *testing.T) {
		body := bytes.NewReader([]byte("GIF89a\x01\x00\x01\x00"))
		_, err := svc.UploadAvatar(ctx, 1, body, int64(body.Len()), "image/gif")
		if !errors.Is(err, ErrInvalidFileType) {
			t.Fatalf("want ErrInvalidFileType, got %v", err)
		}
	})
}

func TestDeleteAvatarKeyValidation(t *testing.T) {
	ctx := context.Background()
	svc := newTestMinIOStorage(t)

	t.Run("empty key is a no-op", func(t *testing.T) {
		if err := svc.DeleteAvatar(ctx, 1, "  "); err != nil {
			t.Fatalf("want nil, got %v", err)
		}
	})

	t.Run("path traversal", func(t *testing.T) {
		err := svc.DeleteAvatar(ctx, 1, "avatars/account-1/../account-2/object.png")
		if !errors.Is(err, ErrUnauthorizedAccess) {
			t.Fatalf("want ErrUnauthorizedAccess, got %v", err)
		}
	})

	t.Run("another account's key", func(t *testing.T) {
		err := svc.DeleteAvatar(ctx, 1, "avatars/account-2/object.png")
		if !errors.Is(err, ErrUnauthorizedAccess) {
			t.Fatalf("want ErrUnauthorizedAccess, got %v", err)
		}
	})

	t.Run("foreign prefix", func(t *testing.T) {
		err := svc.DeleteAvatar(ctx, 1, "uploads/object.png")
		if !errors.Is(err, ErrUnauthorizedAccess) {
			t.Fatalf("want ErrUnauthorizedAccess, got %v", err)
		}
	})
}

func TestAvatarExtension(t *testing.T) {
	cases := []struct {
		contentType string
		want        string
	}{
		{"image/jpeg", ".jpg"},
		{"image/png", ".png"},
		{"image/gif", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := avatarExtension(tc.contentType); got != tc.want {
			t.Fatalf("avatarExtension(%q): want %q, got %q", tc.contentType, tc.want, got)
		}
	}
}
