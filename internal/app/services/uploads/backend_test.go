package uploads

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clothbridge/clothbridge/supabase/client"
)

type fakeS3 struct {
	PutObjectFunc     func(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObjectsFunc func(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	return f.PutObjectFunc(ctx, params, optFns...)
}

func (f *fakeS3) DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	return f.DeleteObjectsFunc(ctx, params, optFns...)
}

func TestS3Backend_Put(t *testing.T) {
	var got *s3.PutObjectInput
	var body []byte
	api := &fakeS3{
		PutObjectFunc: func(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
			got = params
			body, _ = io.ReadAll(params.Body)
			return &s3.PutObjectOutput{}, nil
		},
	}
	b := newS3Backend(api, S3Config{Bucket: "sample", Region: "eu-west-1", CacheControl: "3600"})

	require.NoError(t, b.Put(context.Background(), "u/donations/x.png", pngData, "image/png"))
	assert.Equal(t, "sample", aws.ToString(got.Bucket))
	assert.Equal(t, "u/donations/x.png", aws.ToString(got.Key))
	assert.Equal(t, "image/png", aws.ToString(got.ContentType))
	assert.Equal(t, "max-age=3600", aws.ToString(got.CacheControl))
	assert.Equal(t, pngData, body)
	assert.Equal(t, "https://sample.s3.eu-west-1.amazonaws.com/u/donations/x.png", b.PublicURL("u/donations/x.png"))
}

func TestS3Backend_PublicURLVariants(t *testing.T) {
	b := newS3Backend(&fakeS3{}, S3Config{Bucket: "sample", Endpoint: "http://minio:9000/"})
	assert.Equal(t, "http://minio:9000/sample/k", b.PublicURL("k"))

	b = newS3Backend(&fakeS3{}, S3Config{Bucket: "sample", PublicBaseURL: "https://cdn.example/"})
	assert.Equal(t, "https://cdn.example/k", b.PublicURL("k"))
}

func TestS3Backend_Delete(t *testing.T) {
	var keys []string
	api := &fakeS3{
		DeleteObjectsFunc: func(_ context.Context, params *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
			for _, o := range params.Delete.Objects {
				keys = append(keys, aws.ToString(o.Key))
			}
			return &s3.DeleteObjectsOutput{}, nil
		},
	}
	b := newS3Backend(api, S3Config{Bucket: "sample"})

	require.NoError(t, b.Delete(context.Background(), nil))
	assert.Empty(t, keys)
	require.NoError(t, b.Delete(context.Background(), []string{"a", "b"}))
	assert.Equal(t, []string{"a", "b"}, keys)
}

func TestS3Backend_PutErrorRetriedByService(t *testing.T) {
	calls := 0
	api := &fakeS3{
		PutObjectFunc: func(context.Context, *s3.PutObjectInput, ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
			calls++
			if calls < 3 {
				return nil, errors.New("slow down")
			}
			return &s3.PutObjectOutput{}, nil
		},
	}
	svc := newTestService(newS3Backend(api, S3Config{Bucket: "sample", Region: "us-east-1"}))

	_, err := svc.Upload(context.Background(), "u", "donations", File{Name: "x.png", Reader: bytes.NewReader(pngData)}, ImagePolicy(1<<20))
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestSupabaseBackend(t *testing.T) {
	var removed []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			assert.Equal(t, "/storage/v1/object/sample/u/donations/x.png", r.URL.Path)
			assert.Equal(t, "image/png", r.Header.Get("Content-Type"))
			assert.Equal(t, "max-age=3600", r.Header.Get("Cache-Control"))
			assert.Equal(t, "true", r.Header.Get("x-upsert"))
			_, _ = w.Write([]byte(`{"Key":"sample/u/donations/x.png"}`))
		case http.MethodDelete:
			var body struct {
				Prefixes []string `json:"prefixes"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			removed = body.Prefixes
			_, _ = w.Write([]byte(`[]`))
		}
	}))
	defer server.Close()

	c, err := client.New(client.Config{URL: server.URL, APIKey: "service-key"})
	require.NoError(t, err)
	b := NewSupabaseBackend(c, "sample", "3600")

	require.NoError(t, b.Put(context.Background(), "u/donations/x.png", pngData, "image/png"))
	assert.Equal(t, server.URL+"/storage/v1/object/public/sample/u/donations/x.png", b.PublicURL("u/donations/x.png"))
	require.NoError(t, b.Delete(context.Background(), []string{"u/donations/x.png"}))
	assert.Equal(t, []string{"u/donations/x.png"}, removed)
}
