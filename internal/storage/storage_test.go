package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		host     string
		secure   bool
		wantErr  bool
	}{
		{name: "https url", endpoint: "https://s3.example.com", host: "s3.example.com", secure: true},
		{name: "http url with port", endpoint: "http://localhost:9000/", host: "localhost:9000"},
		{name: "bare host", endpoint: "minio:9000", host: "minio:9000"},
		{name: "empty", endpoint: "", wantErr: true},
		{name: "path without scheme", endpoint: "minio:9000/bucket", wantErr: true},
		{name: "url with path", endpoint: "https://s3.example.com/bucket", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, secure, err := parseEndpoint(tt.endpoint)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.host, host)
			assert.Equal(t, tt.secure, secure)
		})
	}
}

func TestIsMinIONotFound(t *testing.T) {
	assert.True(t, isMinIONotFound(minio.ErrorResponse{Code: "NoSuchKey", StatusCode: http.StatusNotFound}))
	assert.True(t, isMinIONotFound(minio.ErrorResponse{StatusCode: http.StatusNotFound}))
	assert.False(t, isMinIONotFound(minio.ErrorResponse{Code: "NoSuchBucket", StatusCode: http.StatusNotFound}))
	assert.False(t, isMinIONotFound(minio.ErrorResponse{Code: "AccessDenied", StatusCode: http.StatusForbidden}))
}

func TestIsS3NotFound(t *testing.T) {
	assert.True(t, isS3NotFound(&types.NotFound{}))
	assert.True(t, isS3NotFound(&types.NoSuchKey{}))
	assert.True(t, isS3NotFound(&smithy.GenericAPIError{Code: "NotFound"}))
	assert.False(t, isS3NotFound(&smithy.GenericAPIError{Code: "AccessDenied"}))
	assert.False(t, isS3NotFound(errors.New("connection reset")))
}

type fakeS3API struct {
	pages   map[string]*s3.ListObjectsV2Output
	headErr error
	uploads map[string]string
}

func (f *fakeS3API) ListObjectsV2(_ context.Context, params *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	return f.pages[aws.ToString(params.ContinuationToken)], nil
}

func (f *fakeS3API) HeadObject(_ context.Context, params *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(3), ETag: aws.String(`"abc"`)}, nil
}

func (f *fakeS3API) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(strings.NewReader("abc")),
		ContentLength: aws.Int64(3),
		ContentType:   aws.String("text/plain"),
	}, nil
}

func (f *fakeS3API) Upload(_ context.Context, input *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	body, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	f.uploads[aws.ToString(input.Key)] = string(body)
	return &manager.UploadOutput{}, nil
}

func TestS3ClientListPage(t *testing.T) {
	api := &fakeS3API{pages: map[string]*s3.ListObjectsV2Output{
		"": {
			Contents:              []types.Object{{Key: aws.String("p/a")}, {Key: aws.String("p/b")}},
			IsTruncated:           aws.Bool(true),
			NextContinuationToken: aws.String("next"),
		},
		"next": {Contents: []types.Object{{Key: aws.String("p/c")}}},
	}}
	client := &S3Client{api: api, uploader: api}

	page, err := client.ListPage(context.Background(), "src", "p/", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"p/a", "p/b"}, page.Keys)
	assert.True(t, page.Truncated)
	assert.Equal(t, "next", page.NextToken)

	page, err = client.ListPage(context.Background(), "src", "p/", "next")
	require.NoError(t, err)
	assert.Equal(t, []string{"p/c"}, page.Keys)
	assert.False(t, page.Truncated)
}

func TestS3ClientHeadObjectNotFound(t *testing.T) {
	api := &fakeS3API{headErr: &types.NotFound{}}
	client := &S3Client{api: api, uploader: api}

	_, err := client.HeadObject(context.Background(), "dst", "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	api.headErr = &smithy.GenericAPIError{Code: "InternalError"}
	_, err = client.HeadObject(context.Background(), "dst", "boom")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestS3ClientGetAndPut(t *testing.T) {
	api := &fakeS3API{uploads: map[string]string{}}
	client := &S3Client{api: api, uploader: api}

	obj, err := client.GetObject(context.Background(), "src", "k")
	require.NoError(t, err)
	defer obj.Close()

	info, err := obj.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(3), info.Size)

	require.NoError(t, client.PutObject(context.Background(), "dst", "k", obj, info.Size, PutOptions{ContentType: info.ContentType}))
	assert.Equal(t, "abc", api.uploads["k"])
}

func TestNewUnknownKind(t *testing.T) {
	_, err := New(context.Background(), Config{Kind: "gcs"})
	assert.Error(t, err)
}
