package uploads

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	svcerrors "github.com/clothbridge/clothbridge/internal/errors"
)

var pngData = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 64)...)

func newTestService(backend Backend) *Service {
	return New(backend, 3, nil).WithBackoff(time.Millisecond)
}

func TestUploadStoresUnderOwnerFolder(t *testing.T) {
	backend := NewMemoryBackend("https://cdn.example/sample")
	svc := newTestService(backend)

	obj, err := svc.Upload(context.Background(), "user-1", "donations", File{Name: "front shirt.png", Reader: bytes.NewReader(pngData)}, ImagePolicy(1<<20))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if !strings.HasPrefix(obj.Key, "user-1/donations/") || !strings.HasSuffix(obj.Key, "-front-shirt.png") {
		t.Fatalf("unexpected key %q", obj.Key)
	}
	if obj.URL != "https://cdn.example/sample/"+obj.Key {
		t.Fatalf("unexpected url %q", obj.URL)
	}
	if obj.ContentType != "image/png" || obj.Size != int64(len(pngData)) {
		t.Fatalf("unexpected object %+v", obj)
	}
	stored, ok := backend.Object(obj.Key)
	if !ok || stored.ContentType != "image/png" {
		t.Fatalf("object not stored: %+v", stored)
	}
}

func TestUploadRejectsOversizeAndWrongType(t *testing.T) {
	svc := newTestService(NewMemoryBackend(""))
	ctx := context.Background()

	_, err := svc.Upload(ctx, "u", "cards", File{Name: "a.png", Reader: bytes.NewReader(pngData)}, RationCardPolicy(10))
	if !svcerrors.Is(err, svcerrors.CodePayloadTooLarge) {
		t.Fatalf("expected payload too large, got %v", err)
	}

	_, err = svc.Upload(ctx, "u", "cards", File{Name: "a.txt", Reader: strings.NewReader("just some text")}, ImagePolicy(1<<20))
	if !svcerrors.Is(err, svcerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	gif := append([]byte("GIF89a"), bytes.Repeat([]byte{0}, 16)...)
	if _, err := svc.Upload(ctx, "u", "cards", File{Name: "a.gif", Reader: bytes.NewReader(gif)}, RationCardPolicy(1<<20)); err == nil {
		t.Fatalf("ration card policy should reject gif")
	}
	if _, err := svc.Upload(ctx, "u", "donations", File{Name: "a.gif", Reader: bytes.NewReader(gif)}, ImagePolicy(1<<20)); err != nil {
		t.Fatalf("image policy should accept gif: %v", err)
	}

	if _, err := svc.Upload(ctx, "", "cards", File{Name: "a.png", Reader: bytes.NewReader(pngData)}, ImagePolicy(1<<20)); err == nil {
		t.Fatalf("expected error without owner")
	}
}

func TestUploadRetriesThenSucceeds(t *testing.T) {
	backend := NewMemoryBackend("")
	backend.FailPuts = 2
	svc := newTestService(backend)

	if _, err := svc.Upload(context.Background(), "u", "donations", File{Name: "x.png", Reader: bytes.NewReader(pngData)}, ImagePolicy(1<<20)); err != nil {
		t.Fatalf("expected third attempt to succeed: %v", err)
	}
	if backend.Len() != 1 {
		t.Fatalf("expected one object, got %d", backend.Len())
	}
}

func TestUploadGivesUpAfterAttempts(t *testing.T) {
	backend := NewMemoryBackend("")
	backend.FailPuts = 3
	svc := newTestService(backend)

	_, err := svc.Upload(context.Background(), "u", "donations", File{Name: "x.png", Reader: bytes.NewReader(pngData)}, ImagePolicy(1<<20))
	if !svcerrors.Is(err, svcerrors.CodeUpstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

func TestUploadStopsOnCancel(t *testing.T) {
	backend := NewMemoryBackend("")
	backend.FailPuts = 5
	svc := New(backend, 3, nil).WithBackoff(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.Upload(ctx, "u", "donations", File{Name: "x.png", Reader: bytes.NewReader(pngData)}, ImagePolicy(1<<20))
	if err == nil || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestUploadAllRemovesPartialOnFailure(t *testing.T) {
	backend := NewMemoryBackend("")
	svc := newTestService(backend)

	files := []File{
		{Name: "a.png", Reader: bytes.NewReader(pngData)},
		{Name: "b.txt", Reader: strings.NewReader("not an image")},
	}
	if _, err := svc.UploadAll(context.Background(), "u", "donations", files, ImagePolicy(1<<20)); err == nil {
		t.Fatalf("expected failure")
	}
	if backend.Len() != 0 {
		t.Fatalf("expected partial uploads removed, %d remain", backend.Len())
	}

	objs, err := svc.UploadAll(context.Background(), "u", "donations", []File{
		{Name: "a.png", Reader: bytes.NewReader(pngData)},
		{Name: "b.png", Reader: bytes.NewReader(pngData)},
	}, ImagePolicy(1<<20))
	if err != nil {
		t.Fatalf("upload all: %v", err)
	}
	if urls := URLs(objs); len(urls) != 2 || urls[0] == urls[1] {
		t.Fatalf("unexpected urls %v", urls)
	}
}

func TestObjectKeySanitises(t *testing.T) {
	tests := []struct {
		name, ext, suffix string
	}{
		{"../../etc/passwd", ".png", "-passwd.png"},
		{`C:\photos\my coat.JPG`, ".jpg", "-my-coat.JPG"},
		{"", ".png", "-file.png"},
		{"...", ".webp", "-file.webp"},
	}
	for _, tt := range tests {
		key := ObjectKey("owner", "folder", tt.name, tt.ext)
		if !strings.HasPrefix(key, "owner/folder/") || !strings.HasSuffix(key, tt.suffix) {
			t.Fatalf("ObjectKey(%q) = %q, want suffix %q", tt.name, key, tt.suffix)
		}
		if strings.Contains(strings.TrimPrefix(key, "owner/folder/"), "/") {
			t.Fatalf("key %q escapes its folder", key)
		}
	}
}
