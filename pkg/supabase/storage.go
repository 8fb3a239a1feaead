package supabase

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"supashowcase/pkg/domain"
)

// Bucket addresses one storage bucket.
type Bucket struct {
	client *Client
	name   string
}

// Storage returns a handle for bucket.
func (c *Client) Storage(bucket string) *Bucket {
	return &Bucket{client: c, name: bucket}
}

func (b *Bucket) Name() string { return b.name }

// Upload stores r at path. With upsert an existing object is replaced.
func (b *Bucket) Upload(ctx context.Context, path string, r io.Reader, size int64, contentType string, upsert bool) error {
	path = cleanObjectPath(path)
	if path == "" {
		return fmt.Errorf("upload: object path required")
	}
	req, err := b.client.newRequest(ctx, http.MethodPost, b.objectPath("/storage/v1/object", path), nil, nil)
	if err != nil {
		return err
	}
	req.Body = io.NopCloser(r)
	if size >= 0 {
		req.ContentLength = size
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", strconv.FormatBool(upsert))
	req.Header.Set("cache-control", "max-age=3600")
	_, err = b.client.do(req)
	return err
}

// Remove deletes the given objects. Missing objects are not an error.
func (b *Bucket) Remove(ctx context.Context, paths ...string) error {
	prefixes := make([]string, 0, len(paths))
	for _, p := range paths {
		if p = cleanObjectPath(p); p != "" {
			prefixes = append(prefixes, p)
		}
	}
	if len(prefixes) == 0 {
		return nil
	}
	req, err := b.client.newRequest(ctx, http.MethodDelete, "/storage/v1/object/"+url.PathEscape(b.name), nil,
		map[string][]string{"prefixes": prefixes})
	if err != nil {
		return err
	}
	_, err = b.client.do(req)
	return err
}

// ListOptions controls a storage listing.
type ListOptions struct {
	Limit  int
	Offset int
	SortBy string
	// Descending sorts newest first when SortBy is a timestamp column.
	Descending bool
}

// List returns the objects directly under prefix.
func (b *Bucket) List(ctx context.Context, prefix string, opts ListOptions) ([]domain.FileObject, error) {
	if opts.Limit <= 0 {
		opts.Limit = 100
	}
	if opts.SortBy == "" {
		opts.SortBy = "name"
	}
	order := "asc"
	if opts.Descending {
		order = "desc"
	}
	body := map[string]any{
		"prefix": strings.Trim(prefix, "/"),
		"limit":  opts.Limit,
		"offset": opts.Offset,
		"sortBy": map[string]string{"column": opts.SortBy, "order": order},
	}
	req, err := b.client.newRequest(ctx, http.MethodPost, "/storage/v1/object/list/"+url.PathEscape(b.name), nil, body)
	if err != nil {
		return nil, err
	}
	data, err := b.client.do(req)
	if err != nil {
		return nil, err
	}
	return DecodeRecords[domain.FileObject](data)
}

// PublicURL resolves path in a public bucket. It does not check that the
// object exists.
func (b *Bucket) PublicURL(path string) string {
	return PublicObjectURL(b.client.baseURL, b.name, path)
}

// PublicObjectURL builds the public object URL, or "" for an empty path.
func PublicObjectURL(baseURL, bucket, path string) string {
	path = cleanObjectPath(path)
	if path == "" {
		return ""
	}
	return strings.TrimRight(baseURL, "/") + "/storage/v1/object/public/" + url.PathEscape(bucket) + "/" + escapeObjectPath(path)
}

// CreateSignedURL returns an absolute URL granting read access to path for
// ttlSeconds.
func (b *Bucket) CreateSignedURL(ctx context.Context, path string, ttlSeconds int) (string, error) {
	path = cleanObjectPath(path)
	if path == "" {
		return "", fmt.Errorf("sign: object path required")
	}
	if ttlSeconds <= 0 {
		return "", fmt.Errorf("sign: expiry must be positive")
	}
	req, err := b.client.newRequest(ctx, http.MethodPost, b.objectPath("/storage/v1/object/sign", path), nil,
		map[string]int{"expiresIn": ttlSeconds})
	if err != nil {
		return "", err
	}
	var out struct {
		SignedURL string `json:"signedURL"`
		Alt       string `json:"signedUrl"`
	}
	if err := b.client.doJSON(req, &out); err != nil {
		return "", err
	}
	signed := out.SignedURL
	if signed == "" {
		signed = out.Alt
	}
	if signed == "" {
		return "", fmt.Errorf("%w: signed url missing", ErrInvalidPayload)
	}
	if strings.HasPrefix(signed, "http://") || strings.HasPrefix(signed, "https://") {
		return signed, nil
	}
	return b.client.baseURL + "/storage/v1" + signed, nil
}

func (b *Bucket) objectPath(prefix, path string) string {
	return prefix + "/" + url.PathEscape(b.name) + "/" + escapeObjectPath(path)
}

func cleanObjectPath(path string) string {
	return strings.Trim(strings.TrimSpace(path), "/")
}

func escapeObjectPath(path string) string {
	parts := strings.Split(path, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
