package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/nexusrag/backend-go/internal/config"
	"github.com/nexusrag/backend-go/internal/logger"
)

// ObjectStorage 对象存储服务，归档上传的原始文件。
// 未配置时管线正常工作，只是不保留原始文件副本。
type ObjectStorage struct {
	client   *minio.Client
	bucket   string
	basePath string
}

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._\-\p{Han}]+`)

// NewObjectStorage 创建对象存储服务并确保bucket存在
func NewObjectStorage(cfg config.ObjectStorageConfig) (*ObjectStorage, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("object storage endpoint not configured")
	}

	endpoint := strings.TrimPrefix(cfg.Endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	bucket := cfg.Bucket
	if bucket == "" {
		bucket = "rag-documents"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			errStr := err.Error()
			if !strings.Contains(errStr, "BucketAlreadyExists") &&
				!strings.Contains(errStr, "BucketAlreadyOwnedByYou") {
				return nil, fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		logger.Info("object storage bucket created", zap.String("bucket", bucket))
	}

	return &ObjectStorage{
		client:   client,
		bucket:   bucket,
		basePath: strings.Trim(cfg.BasePath, "/"),
	}, nil
}

// Ready 检查服务是否可用
func (s *ObjectStorage) Ready() bool {
	return s != nil && s.client != nil
}

// SanitizeFilename 清理文件名中的路径与特殊字符
func SanitizeFilename(filename string) string {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	cleaned := unsafeFilenameChars.ReplaceAllString(base, "_")
	cleaned = strings.Trim(cleaned, "._")
	if cleaned == "" {
		cleaned = "unnamed"
	}
	return cleaned
}

func (s *ObjectStorage) objectKey(documentID, filename string) string {
	key := fmt.Sprintf("%s/%s", documentID, SanitizeFilename(filename))
	if s.basePath != "" {
		key = fmt.Sprintf("%s/%s", s.basePath, key)
	}
	return key
}

// Upload 归档文档原始文件，返回对象键
func (s *ObjectStorage) Upload(ctx context.Context, documentID, filename string, reader io.Reader, size int64, contentType string) (string, error) {
	if !s.Ready() {
		return "", fmt.Errorf("object storage not initialized")
	}

	key := s.objectKey(documentID, filename)
	_, err := s.client.PutObject(ctx, s.bucket, key, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("upload object: %w", err)
	}
	return key, nil
}

// Download 下载归档文件
func (s *ObjectStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	if !s.Ready() {
		return nil, fmt.Errorf("object storage not initialized")
	}
	object, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("download object: %w", err)
	}
	return object, nil
}

// List 列出指定前缀下的对象键
func (s *ObjectStorage) List(ctx context.Context, prefix string) ([]string, error) {
	if !s.Ready() {
		return nil, fmt.Errorf("object storage not initialized")
	}

	if s.basePath != "" {
		prefix = fmt.Sprintf("%s/%s", s.basePath, strings.TrimPrefix(prefix, "/"))
	}

	var keys []string
	for object := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			return nil, fmt.Errorf("list objects: %w", object.Err)
		}
		keys = append(keys, object.Key)
	}
	return keys, nil
}

// DeleteByDocument 删除文档的全部归档对象
func (s *ObjectStorage) DeleteByDocument(ctx context.Context, documentID string) error {
	if !s.Ready() {
		return fmt.Errorf("object storage not initialized")
	}

	prefix := documentID + "/"
	if s.basePath != "" {
		prefix = fmt.Sprintf("%s/%s", s.basePath, prefix)
	}

	for object := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			return fmt.Errorf("list objects for delete: %w", object.Err)
		}
		if err := s.client.RemoveObject(ctx, s.bucket, object.Key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("remove object %s: %w", object.Key, err)
		}
	}
	return nil
}

// PresignedURL 生成限时下载链接
func (s *ObjectStorage) PresignedURL(ctx context.Context, key string, expires time.Duration) (string, error) {
	if !s.Ready() {
		return "", fmt.Errorf("object storage not initialized")
	}
	if expires <= 0 {
		expires = 24 * time.Hour
	}
	url, err := s.client.PresignedGetObject(ctx, s.bucket, key, expires, nil)
	if err != nil {
		return "", fmt.Errorf("presign object: %w", err)
	}
	return url.String(), nil
}

// HealthCheck 探测存储连通性
func (s *ObjectStorage) HealthCheck(ctx context.Context) error {
	if !s.Ready() {
		return fmt.Errorf("object storage not initialized")
	}
	_, err := s.client.ListBuckets(ctx)
	return err
}
