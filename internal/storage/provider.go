package storage

import (
	"context"
	"errors"
	"io"
)

const (
	UploadBucket    = "uploads"
	ExtractedBucket = "extracted"
	ResultBucket    = "results"
)

var ErrInvalidKey = errors.New("invalid object key")

type Provider interface {
	CreateBucket(ctx context.Context, bucket string) error

	GetObject(ctx context.Context, bucket, key string) ([]byte, error)

	PutObject(ctx context.Context, bucket, key string, data io.Reader) error
}

// CreateBuckets makes sure every bucket used by the backend exists.
func CreateBuckets(ctx context.Context, p Provider) error {
	for _, bucket := range []string{UploadBucket, ExtractedBucket, ResultBucket} {
		if err := p.CreateBucket(ctx, bucket); err != nil {
			return err
		}
	}
	return nil
}
