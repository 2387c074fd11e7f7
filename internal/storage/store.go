// Package storage keeps uploaded follow-up, document and work report files
// in an S3-compatible bucket.
package storage

import (
	"context"
	"io"
	"time"
)

// Object is an open stored file. Callers must Close it.
type Object struct {
	io.ReadCloser
	Size        int64
	ContentType string
}

type ObjectStore interface {
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
	Download(ctx context.Context, key string) (*Object, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	PresignedGetURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}
