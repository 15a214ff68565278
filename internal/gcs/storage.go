// Package gcs fetches statement files from Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
)

// DefaultMaxObjectBytes caps a single fetched statement.
const DefaultMaxObjectBytes = 32 << 20

var (
	ErrInvalidURI     = errors.New("invalid GCS URI")
	ErrObjectTooLarge = errors.New("object too large")
)

// Object is a downloaded file.
type Object struct {
	URI         string
	Bucket      string
	Name        string
	ContentType string
	Data        []byte
}

// Filename is the last path element of the object name.
func (o *Object) Filename() string {
	return path.Base(o.Name)
}

// Fetcher downloads objects by gs:// URI.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) (*Object, error)
}

// Client shares one storage client across fetches. It assumes Application
// Default Credentials are configured.
type Client struct {
	storage  *storage.Client
	maxBytes int64
}

// NewClient creates the underlying storage client. Close it when done.
func NewClient(ctx context.Context, maxBytes int64) (*Client, error) {
	sc, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewClient: creating storage client: %w", err)
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxObjectBytes
	}
	return &Client{storage: sc, maxBytes: maxBytes}, nil
}

func (c *Client) Close() error {
	return c.storage.Close()
}

// Fetch downloads the object at uri (gs://bucket/path/to/file.pdf).
func (c *Client) Fetch(ctx context.Context, uri string) (*Object, error) {
	bucket, name, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}

	rc, err := c.storage.Bucket(bucket).Object(name).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("Fetch: opening object %s/%s: %w", bucket, name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, c.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("Fetch: reading bytes: %w", err)
	}
	if int64(len(data)) > c.maxBytes {
		return nil, fmt.Errorf("Fetch: %s exceeds %d bytes: %w", uri, c.maxBytes, ErrObjectTooLarge)
	}

	return &Object{
		URI:         uri,
		Bucket:      bucket,
		Name:        name,
		ContentType: rc.Attrs.ContentType,
		Data:        data,
	}, nil
}

// ParseURI splits gs://bucket/object into its parts.
func ParseURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidURI, uri)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" || strings.HasSuffix(parts[1], "/") {
		return "", "", fmt.Errorf("%w (no object path): %s", ErrInvalidURI, uri)
	}
	return parts[0], parts[1], nil
}

// FilenameFromURI returns the file name of a GCS URI.
// e.g., "gs://bucket/folder/file.pdf" → "file.pdf"
func FilenameFromURI(uri string) string {
	trimmed := strings.TrimPrefix(uri, "gs://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) < 2 {
		return trimmed
	}
	return path.Base(parts[1])
}
