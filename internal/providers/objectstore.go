package providers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/citylens/citylens/pkg/config"
)

// UploadInfo captures what the object store reported for a completed upload.
type UploadInfo struct {
	URI       string
	ObjectKey string
	SizeBytes int64
	SHA256    string
}

// ObjectStore is the capability surface the worker and presenter need:
// content upload with size/hash capture, and time-limited URL signing.
type ObjectStore interface {
	Upload(ctx context.Context, localPath string, objectKey string, contentType string) (UploadInfo, error)
	SignURL(ctx context.Context, objectKey string, ttl time.Duration) (string, error)
}

type minioStore struct {
	client *minio.Client
	bucket string
}

func NewMinioStore(cfg config.ObjectStoreConfig) (ObjectStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, err
	}
	return &minioStore{client: client, bucket: cfg.Bucket}, nil
}

func (s *minioStore) Upload(ctx context.Context, localPath string, objectKey string, contentType string) (UploadInfo, error) {
	info, err := s.client.FPutObject(ctx, s.bucket, objectKey, localPath, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return UploadInfo{}, fmt.Errorf("upload %s: %w", objectKey, err)
	}

	sum, err := sha256File(localPath)
	if err != nil {
		return UploadInfo{}, err
	}

	return UploadInfo{
		URI:       fmt.Sprintf("s3://%s/%s", s.bucket, objectKey),
		ObjectKey: objectKey,
		SizeBytes: info.Size,
		SHA256:    sum,
	}, nil
}

func (s *minioStore) SignURL(ctx context.Context, objectKey string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, objectKey, ttl, url.Values{})
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// localStore keeps artifacts on the local filesystem. Dev and test use only;
// signed URLs degrade to plain file URLs.
type localStore struct {
	rootDir string
	bucket  string
}

func NewLocalStore(rootDir string, bucket string) ObjectStore {
	return &localStore{rootDir: rootDir, bucket: bucket}
}

func (s *localStore) Upload(ctx context.Context, localPath string, objectKey string, contentType string) (UploadInfo, error) {
	src, err := os.Open(localPath)
	if err != nil {
		return UploadInfo{}, err
	}
	defer src.Close()

	dst := filepath.Join(s.rootDir, filepath.FromSlash(objectKey))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return UploadInfo{}, err
	}
	out, err := os.Create(dst)
	if err != nil {
		return UploadInfo{}, err
	}
	defer out.Close()

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(out, h), src)
	if err != nil {
		return UploadInfo{}, err
	}

	return UploadInfo{
		URI:       fmt.Sprintf("s3://%s/%s", s.bucket, objectKey),
		ObjectKey: objectKey,
		SizeBytes: size,
		SHA256:    hex.EncodeToString(h.Sum(nil)),
	}, nil
}

func (s *localStore) SignURL(ctx context.Context, objectKey string, ttl time.Duration) (string, error) {
	abs, err := filepath.Abs(filepath.Join(s.rootDir, filepath.FromSlash(objectKey)))
	if err != nil {
		return "", err
	}
	return "file://" + abs, nil
}

// ObjectKeyFromURI extracts the object key from a stored artifact URI for the
// given bucket. Returns "" when the URI does not belong to the bucket.
func ObjectKeyFromURI(uri string, bucket string) string {
	prefix := fmt.Sprintf("s3://%s/", bucket)
	if !strings.HasPrefix(uri, prefix) {
		return ""
	}
	return strings.TrimPrefix(uri, prefix)
}

func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
