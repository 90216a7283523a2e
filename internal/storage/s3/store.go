package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/zhiyuan411/public-share/internal/config"
	"github.com/zhiyuan411/public-share/internal/security"
	"github.com/zhiyuan411/public-share/internal/storage"
)

// ObjectAPI 存储实现用到的 S3 客户端方法
type ObjectAPI interface {
	manager.UploadAPIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Store S3 兼容对象存储实现，对象键为 {prefix}/{dir}/{storedName}
type Store struct {
	client   ObjectAPI
	uploader *manager.Uploader
	bucket   string
	prefix   string
	now      func() time.Time
}

var _ storage.BlobStore = (*Store)(nil)

// New 根据配置创建 S3 客户端和存储实例
func New(ctx context.Context, cfg config.S3Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// MinIO 等兼容服务
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return NewWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewWithClient 使用已有客户端创建存储实例
func NewWithClient(client ObjectAPI, bucket, prefix string) *Store {
	return &Store{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
		now:      time.Now,
	}
}

// Store 上传内容，生成唯一的存储文件名
func (s *Store) Store(ctx context.Context, dir, originalName string, r io.Reader) (string, int64, error) {
	name := security.GenerateStoredName(originalName, s.now())
	key, err := s.key(dir, name)
	if err != nil {
		return "", 0, err
	}

	counter := &storage.CountingReader{R: r}
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   counter,
	})
	if err != nil {
		// 分片上传失败时 uploader 会中止上传，这里只需处理单次上传的残留
		_ = s.Delete(context.WithoutCancel(ctx), dir, name)
		return "", 0, fmt.Errorf("failed to upload to S3: %w", err)
	}

	return name, counter.N, nil
}

// Delete 删除对象，S3 对不存在的对象同样返回成功
func (s *Store) Delete(ctx context.Context, dir, name string) error {
	key, err := s.key(dir, name)
	if err != nil {
		return err
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete from S3: %w", err)
	}
	return nil
}

// Exists 检查对象是否存在
func (s *Store) Exists(ctx context.Context, dir, name string) (bool, error) {
	key, err := s.key(dir, name)
	if err != nil {
		return false, err
	}

	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get object metadata: %w", err)
	}
	return true, nil
}

// Open 下载对象
func (s *Store) Open(ctx context.Context, dir, name string) (io.ReadCloser, error) {
	key, err := s.key(dir, name)
	if err != nil {
		return nil, err
	}

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, storage.ErrBlobNotFound
		}
		return nil, fmt.Errorf("failed to download from S3: %w", err)
	}
	return result.Body, nil
}

// Health 检查 bucket 是否可访问
func (s *Store) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		return fmt.Errorf("bucket %s unavailable: %w", s.bucket, err)
	}
	return nil
}

func (s *Store) key(dir, name string) (string, error) {
	if err := security.ValidateStoredName(dir); err != nil {
		return "", fmt.Errorf("invalid directory %q: %w", dir, err)
	}
	if err := security.ValidateStoredName(name); err != nil {
		return "", err
	}
	if s.prefix == "" {
		return path.Join(dir, name), nil
	}
	return path.Join(s.prefix, dir, name), nil
}
