package uploads

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/clothbridge/clothbridge/supabase/client"
)

// Backend stores objects and issues their public URLs.
type Backend interface {
	Name() string
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Delete(ctx context.Context, keys []string) error
	PublicURL(key string) string
}

// SupabaseBackend writes to a Supabase Storage bucket.
type SupabaseBackend struct {
	bucket       *client.BucketClient
	cacheControl string
}

// NewSupabaseBackend uses bucket on c. Objects are upserted so a retried
// attempt overwrites a partial earlier one.
func NewSupabaseBackend(c *client.Client, bucket, cacheControl string) *SupabaseBackend {
	return &SupabaseBackend{bucket: c.Storage().From(bucket), cacheControl: cacheControl}
}

func (b *SupabaseBackend) Name() string { return "supabase" }

func (b *SupabaseBackend) Put(ctx context.Context, key string, data []byte, contentType string) error {
	return b.bucket.Upload(ctx, key, data, client.UploadOptions{
		ContentType:  contentType,
		CacheControl: b.cacheControl,
		Upsert:       true,
	})
}

func (b *SupabaseBackend) Delete(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	return b.bucket.Remove(ctx, keys)
}

func (b *SupabaseBackend) PublicURL(key string) string {
	return b.bucket.GetPublicURL(key)
}

// objectAPI is the subset of the S3 client the backend calls.
type objectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// S3Config configures S3Backend.
type S3Config struct {
	Bucket         string
	Region         string
	Endpoint       string
	PublicBaseURL  string
	ForcePathStyle bool
	CacheControl   string
}

// S3Backend writes to an S3 compatible bucket.
type S3Backend struct {
	api     objectAPI
	cfg     S3Config
	baseURL string
}

// NewS3Backend loads AWS credentials from the default chain.
func NewS3Backend(ctx context.Context, cfg S3Config) (*S3Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if cfg.Region != "" {
		awsCfg.Region = cfg.Region
	} else if awsCfg.Region == "" {
		awsCfg.Region = "us-east-1"
	}

	var opts []func(*s3.Options)
	if cfg.ForcePathStyle {
		opts = append(opts, func(o *s3.Options) { o.UsePathStyle = true })
	}
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *s3.Options) { o.BaseEndpoint = aws.String(cfg.Endpoint) })
	}
	cfg.Region = awsCfg.Region
	return newS3Backend(s3.NewFromConfig(awsCfg, opts...), cfg), nil
}

func newS3Backend(api objectAPI, cfg S3Config) *S3Backend {
	base := strings.TrimSuffix(cfg.PublicBaseURL, "/")
	if base == "" {
		switch {
		case cfg.Endpoint != "":
			base = strings.TrimSuffix(cfg.Endpoint, "/") + "/" + cfg.Bucket
		default:
			base = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
		}
	}
	return &S3Backend{api: api, cfg: cfg, baseURL: base}
}

func (b *S3Backend) Name() string { return "s3" }

func (b *S3Backend) Put(ctx context.Context, key string, data []byte, contentType string) error {
	in := &s3.PutObjectInput{
		Bucket:        aws.String(b.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if b.cfg.CacheControl != "" {
		in.CacheControl = aws.String("max-age=" + b.cfg.CacheControl)
	}
	_, err := b.api.PutObject(ctx, in)
	return err
}

func (b *S3Backend) Delete(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	objects := make([]s3types.ObjectIdentifier, len(keys))
	for i, k := range keys {
		objects[i] = s3types.ObjectIdentifier{Key: aws.String(k)}
	}
	_, err := b.api.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(b.cfg.Bucket),
		Delete: &s3types.Delete{Objects: objects, Quiet: aws.Bool(true)},
	})
	return err
}

func (b *S3Backend) PublicURL(key string) string {
	return b.baseURL + "/" + key
}

// MemoryBackend keeps objects in process. Used for local runs and tests.
type MemoryBackend struct {
	mu      sync.Mutex
	baseURL string
	objects map[string]StoredObject
	// FailPuts makes the next n Put calls fail.
	FailPuts int
}

// StoredObject is an object held by MemoryBackend.
type StoredObject struct {
	Data        []byte
	ContentType string
}

func NewMemoryBackend(baseURL string) *MemoryBackend {
	return &MemoryBackend{baseURL: strings.TrimSuffix(baseURL, "/"), objects: make(map[string]StoredObject)}
}

func (b *MemoryBackend) Name() string { return "memory" }

func (b *MemoryBackend) Put(_ context.Context, key string, data []byte, contentType string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailPuts > 0 {
		b.FailPuts--
		return errors.New("memory backend: injected failure")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	b.objects[key] = StoredObject{Data: cp, ContentType: contentType}
	return nil
}

func (b *MemoryBackend) Delete(_ context.Context, keys []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, k := range keys {
		delete(b.objects, k)
	}
	return nil
}

func (b *MemoryBackend) PublicURL(key string) string {
	return b.baseURL + "/" + key
}

// Object returns the stored object for key.
func (b *MemoryBackend) Object(key string) (StoredObject, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.objects[key]
	return o, ok
}

// Len reports how many objects are stored.
func (b *MemoryBackend) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.objects)
}
