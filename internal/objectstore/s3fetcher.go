// Package objectstore provides blobcache.ObjectFetcher implementations
// for the two backends SPEC_FULL.md §6.4 names: S3-compatible object
// storage (production) and the local filesystem (tests/dev), grounded
// on the teacher's http.Source remote-fetch style (range requests,
// explicit status mapping) adapted to the AWS SDK's own transport.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/pioneerbio/labelcache/internal/cacheerr"
)

// S3Client is the subset of *s3.Client this package needs, so tests can
// substitute a fake without standing up a real bucket.
type S3Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Fetcher fetches annotation blobs from an S3-compatible bucket.
type S3Fetcher struct {
	client S3Client
	bucket string
}

// NewS3Fetcher creates a fetcher reading from bucket via client.
func NewS3Fetcher(client S3Client, bucket string) *S3Fetcher {
	return &S3Fetcher{client: client, bucket: bucket}
}

// Fetch streams key from the bucket into w, classifying S3 errors into
// cacheerr kinds so the HTTP layer can map them per spec.md §7.
func (f *S3Fetcher) Fetch(ctx context.Context, key string, w io.Writer) error {
	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return classifyS3Error(key, err)
	}
	defer out.Body.Close()

	if _, err := io.Copy(w, out.Body); err != nil {
		return cacheerr.New(cacheerr.KindTransport, "s3fetcher.fetch", key, fmt.Errorf("stream body: %w", err))
	}
	return nil
}

func classifyS3Error(key string, err error) error {
	var noSuchKey *s3.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return cacheerr.New(cacheerr.KindNotFound, "s3fetcher.fetch", key, cacheerr.ErrNotFound)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return cacheerr.New(cacheerr.KindNotFound, "s3fetcher.fetch", key, cacheerr.ErrNotFound)
		}
	}

	return cacheerr.New(cacheerr.KindTransport, "s3fetcher.fetch", key, err)
}
