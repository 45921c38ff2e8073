package objectstore

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"

	"github.com/pioneerbio/labelcache/internal/cacheerr"
)

type fakeS3Client struct {
	objects map[string][]byte
}

func (f *fakeS3Client) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[*params.Key]
	if !ok {
		return nil, &s3.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestS3FetcherFetchCopiesBody(t *testing.T) {
	t.Parallel()

	client := &fakeS3Client{objects: map[string][]byte{"a.json": []byte(`{"labels":[]}`)}}
	f := NewS3Fetcher(client, "bucket")

	var buf bytes.Buffer
	require.NoError(t, f.Fetch(context.Background(), "a.json", &buf))
	require.Equal(t, `{"labels":[]}`, buf.String())
}

func TestS3FetcherMissingKeyIsNotFound(t *testing.T) {
	t.Parallel()

	client := &fakeS3Client{objects: map[string][]byte{}}
	f := NewS3Fetcher(client, "bucket")

	var buf bytes.Buffer
	err := f.Fetch(context.Background(), "missing.json", &buf)
	require.Error(t, err)
	require.Equal(t, cacheerr.KindNotFound, cacheerr.KindOf(err))
}
