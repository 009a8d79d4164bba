package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrNotFound is returned by HeadObject when the key does not exist in the bucket
var ErrNotFound = errors.New("object not found")

// Client defines the S3-compatible operations the replicator consumes
type Client interface {
	// ListPage returns one page of keys under prefix, starting at token ("" for the first page)
	ListPage(ctx context.Context, bucket, prefix, token string) (Page, error)
	HeadObject(ctx context.Context, bucket, key string) (ObjectInfo, error)
	GetObject(ctx context.Context, bucket, key string) (Object, error)
	PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64, opts PutOptions) error
}

// Page is a single listing response
type Page struct {
	Keys      []string
	Truncated bool
	NextToken string
}

// Object represents an object stream
type Object interface {
	io.ReadCloser
	Stat() (ObjectInfo, error)
}

// ObjectInfo contains object metadata
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
	ContentType  string
}

// PutOptions contains options for put operations
type PutOptions struct {
	ContentType string
}

// Kind selects the client implementation
type Kind string

const (
	KindMinIO Kind = "minio"
	KindS3    Kind = "s3"
)

// Config contains client configuration
type Config struct {
	Kind        Kind
	EndpointURL string
	AccessKey   string
	SecretKey   string
	Region      string
}

// New creates a client of the configured kind
func New(ctx context.Context, cfg Config) (Client, error) {
	switch cfg.Kind {
	case KindMinIO, "":
		return NewMinIOClient(cfg)
	case KindS3:
		return NewS3Client(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown client kind %q", cfg.Kind)
	}
}
