package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Storage returns a storage client.
func (c *Client) Storage() *StorageClient {
	return &StorageClient{client: c}
}

// StorageClient handles storage operations.
type StorageClient struct {
	client *Client
}

// From returns a bucket client.
func (s *StorageClient) From(bucket string) *BucketClient {
	return &BucketClient{client: s.client, bucket: bucket}
}

// BucketClient handles bucket operations.
type BucketClient struct {
	client *Client
	bucket string
}

// UploadOptions mirror the storage API's upload headers.
type UploadOptions struct {
	ContentType  string
	CacheControl string // seconds, sent as max-age
	Upsert       bool
}

// Upload stores data at path.
func (b *BucketClient) Upload(ctx context.Context, path string, data []byte, opts UploadOptions) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.objectURL(path), bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	b.client.setHeaders(req)
	contentType := opts.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	if opts.CacheControl != "" {
		req.Header.Set("Cache-Control", "max-age="+opts.CacheControl)
	}
	if opts.Upsert {
		req.Header.Set("x-upsert", "true")
	}

	return b.client.doJSON(req, nil)
}

// Download fetches the object at path.
func (b *BucketClient) Download(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.objectURL(path), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	b.client.setHeaders(req)

	resp, err := b.client.do(req)
	if err != nil {
		return nil, err
	}
	if err := resp.Error(); err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Remove deletes the given objects.
func (b *BucketClient) Remove(ctx context.Context, paths []string) error {
	body, err := json.Marshal(map[string][]string{"prefixes": paths})
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}

	reqURL := fmt.Sprintf("%s/storage/v1/object/%s", b.client.baseURL, b.bucket)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, reqURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	b.client.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	return b.client.doJSON(req, nil)
}

// GetPublicURL returns the public URL for path. The bucket must be public.
func (b *BucketClient) GetPublicURL(path string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", b.client.baseURL, b.bucket, escapePath(path))
}

func (b *BucketClient) objectURL(path string) string {
	return fmt.Sprintf("%s/storage/v1/object/%s/%s", b.client.baseURL, b.bucket, escapePath(path))
}

func escapePath(path string) string {
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
