package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhiyuan411/public-share/internal/config"
	"github.com/zhiyuan411/public-share/internal/storage"
)

// fakeS3 只支持单次上传的内存 S3 客户端
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	deletes []string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = body
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) UploadPart(context.Context, *s3.UploadPartInput, ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	return nil, errors.New("multipart not supported")
}

func (f *fakeS3) CreateMultipartUpload(context.Context, *s3.CreateMultipartUploadInput, ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return nil, errors.New("multipart not supported")
}

func (f *fakeS3) CompleteMultipartUpload(context.Context, *s3.CompleteMultipartUploadInput, ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	return nil, errors.New("multipart not supported")
}

func (f *fakeS3) AbortMultipartUpload(context.Context, *s3.AbortMultipartUploadInput, ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	return &s3.AbortMultipartUploadOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := aws.ToString(in.Key)
	f.deletes = append(f.deletes, key)
	delete(f.objects, key)
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, nil
}

func TestStoreUploadAndDownload(t *testing.T) {
	ctx := context.Background()
	client := newFakeS3()
	store := NewWithClient(client, "board", "/uploads/")

	name, written, err := store.Store(ctx, "pic", "a.png", strings.NewReader("png-bytes"))
	require.NoError(t, err)
	assert.Equal(t, int64(9), written)
	assert.Contains(t, client.objects, "uploads/pic/"+name)

	exists, err := store.Exists(ctx, "pic", name)
	require.NoError(t, err)
	assert.True(t, exists)

	rc, err := store.Open(ctx, "pic", name)
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(body))

	require.NoError(t, store.Delete(ctx, "pic", name))
	exists, err = store.Exists(ctx, "pic", name)
	require.NoError(t, err)
	assert.False(t, exists)

	assert.NoError(t, store.Health())
}

func TestStoreMissingObject(t *testing.T) {
	store := NewWithClient(newFakeS3(), "board", "")

	_, err := store.Open(context.Background(), "file", "missing.txt")
	assert.ErrorIs(t, err, storage.ErrBlobNotFound)
}

func TestStoreUploadFailure(t *testing.T) {
	client := newFakeS3()
	client.putErr = errors.New("access denied")
	store := NewWithClient(client, "board", "")

	_, _, err := store.Store(context.Background(), "file", "a.txt", strings.NewReader("x"))
	require.Error(t, err)
	assert.Len(t, client.deletes, 1)
	assert.Empty(t, client.objects)
}

func TestStoreRejectsUnsafeKeys(t *testing.T) {
	store := NewWithClient(newFakeS3(), "board", "")

	_, err := store.Exists(context.Background(), "pic", "../secret")
	assert.Error(t, err)

	_, err = store.Exists(context.Background(), "../pic", "a.png")
	assert.Error(t, err)
}

func TestNewRequiresBucket(t *testing.T) {
	_, err := New(context.Background(), config.S3Config{Region: "us-east-1"})
	assert.ErrorContains(t, err, "bucket")
}
