// Package uploads stores user supplied files (donation photos, ration card
// scans) in object storage and hands back public URLs.
package uploads

import (
	"context"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/clothbridge/clothbridge/internal/app/metrics"
	svcerrors "github.com/clothbridge/clothbridge/internal/errors"
	"github.com/clothbridge/clothbridge/pkg/logger"
)

// Policy limits what a single upload may contain.
type Policy struct {
	MaxBytes int64
	Allowed  []string
}

// ImagePolicy accepts the common web image formats.
func ImagePolicy(maxBytes int64) Policy {
	return Policy{MaxBytes: maxBytes, Allowed: []string{"image/jpeg", "image/png", "image/webp", "image/gif"}}
}

// RationCardPolicy accepts JPEG and PNG scans.
func RationCardPolicy(maxBytes int64) Policy {
	return Policy{MaxBytes: maxBytes, Allowed: []string{"image/jpeg", "image/png"}}
}

func (p Policy) allows(mime *mimetype.MIME) bool {
	for _, a := range p.Allowed {
		if mime.Is(a) {
			return true
		}
	}
	return false
}

// File is an incoming upload. Close is the caller's job.
type File struct {
	Name   string
	Reader io.Reader
}

// Object describes a stored file.
type Object struct {
	Key         string `json:"key"`
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// Service uploads files through a Backend.
type Service struct {
	backend  Backend
	attempts int
	backoff  time.Duration
	log      *logger.Logger
}

// New returns a service making attempts tries per file. Values below one
// are treated as one.
func New(backend Backend, attempts int, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("uploads")
	}
	if attempts < 1 {
		attempts = 1
	}
	return &Service{backend: backend, attempts: attempts, backoff: 250 * time.Millisecond, log: log}
}

// WithBackoff overrides the base delay between attempts.
func (s *Service) WithBackoff(d time.Duration) *Service {
	s.backoff = d
	return s
}

// Upload validates f against p and stores it under owner/folder.
func (s *Service) Upload(ctx context.Context, owner, folder string, f File, p Policy) (Object, error) {
	if strings.TrimSpace(owner) == "" {
		return Object{}, svcerrors.Unauthorized("")
	}
	data, err := readLimited(f.Reader, p.MaxBytes)
	if err != nil {
		return Object{}, err
	}
	if len(data) == 0 {
		return Object{}, svcerrors.Validation("file", "file is empty")
	}

	mime := mimetype.Detect(data)
	if !p.allows(mime) {
		return Object{}, svcerrors.Validation("file", fmt.Sprintf("unsupported file type %s", mime.String())).
			WithDetails("allowed", p.Allowed)
	}

	key := ObjectKey(owner, folder, f.Name, mime.Extension())
	if err := s.put(ctx, key, data, mime.String()); err != nil {
		return Object{}, err
	}
	return Object{
		Key:         key,
		URL:         s.backend.PublicURL(key),
		ContentType: mime.String(),
		Size:        int64(len(data)),
	}, nil
}

// UploadAll stores files in order. If one fails, the ones already stored are
// removed before the error is returned.
func (s *Service) UploadAll(ctx context.Context, owner, folder string, files []File, p Policy) ([]Object, error) {
	out := make([]Object, 0, len(files))
	for _, f := range files {
		obj, err := s.Upload(ctx, owner, folder, f, p)
		if err != nil {
			s.Remove(context.WithoutCancel(ctx), out...)
			return nil, err
		}
		out = append(out, obj)
	}
	return out, nil
}

// Remove deletes objs. Failures are logged, not returned.
func (s *Service) Remove(ctx context.Context, objs ...Object) {
	if len(objs) == 0 {
		return
	}
	keys := make([]string, len(objs))
	for i, o := range objs {
		keys[i] = o.Key
	}
	if err := s.backend.Delete(ctx, keys); err != nil {
		s.log.WithError(err).WithField("keys", keys).Warn("remove uploaded objects")
	}
}

// URLs returns the public URLs of objs.
func URLs(objs []Object) []string {
	urls := make([]string, len(objs))
	for i, o := range objs {
		urls[i] = o.URL
	}
	return urls
}

func (s *Service) put(ctx context.Context, key string, data []byte, contentType string) error {
	var err error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		err = s.backend.Put(ctx, key, data, contentType)
		metrics.RecordUploadAttempt(s.backend.Name(), len(data), err)
		if err == nil {
			return nil
		}
		s.log.WithError(err).
			WithField("key", key).
			WithField("attempt", attempt).
			Warn("upload attempt failed")
		if attempt == s.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return svcerrors.Upstream("upload cancelled", ctx.Err())
		case <-time.After(s.backoff * time.Duration(1<<(attempt-1))):
		}
	}
	return svcerrors.Upstream(fmt.Sprintf("upload failed after %d attempts", s.attempts), err)
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if r == nil {
		return nil, svcerrors.Validation("file", "file is required")
	}
	if limit <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, svcerrors.BadRequest("could not read upload")
	}
	if int64(len(data)) > limit {
		return nil, svcerrors.PayloadTooLarge(limit)
	}
	return data, nil
}

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// ObjectKey builds <owner>/<folder>/<uuid>-<name>. The name is reduced to a
// safe charset and given ext when it has no extension of its own.
func ObjectKey(owner, folder, name, ext string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	base = strings.Trim(unsafeName.ReplaceAllString(base, "-"), "-.")
	if base == "" {
		base = "file"
	}
	if len(base) > 80 {
		base = base[len(base)-80:]
	}
	if path.Ext(base) == "" {
		base += ext
	}
	return path.Join(owner, folder, uuid.NewString()+"-"+base)
}
