package s3storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/nhsdigital/lg-bulk-upload/internal/config"
)

// ErrObjectNotFound is returned when a key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// Storage wraps MinIO/S3 interactions with the staging and the permanent
// Lloyd George buckets.
type Storage struct {
	client          *minio.Client
	stagingBucket   string
	permanentBucket string
	region          string
}

// New creates a MinIO client from the Config.
func New(cfg *config.Config) (*Storage, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return NewWithClient(client, cfg.StagingBucket, cfg.LloydGeorgeBucket, cfg.S3Region), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *minio.Client, stagingBucket, permanentBucket, region string) *Storage {
	return &Storage{
		client:          client,
		stagingBucket:   stagingBucket,
		permanentBucket: permanentBucket,
		region:          region,
	}
}

// PermanentBucket is the name of the bucket accepted records are copied to.
func (s *Storage) PermanentBucket() string { return s.permanentBucket }

// EnsureBuckets makes sure the staging/permanent buckets exist before use.
func (s *Storage) EnsureBuckets(ctx context.Context) error {
	for _, bucket := range []string{s.stagingBucket, s.permanentBucket} {
		exists, err := s.client.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("check bucket %s: %w", bucket, err)
		}
		if !exists {
			if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
				return fmt.Errorf("make bucket %s: %w", bucket, err)
			}
		}
	}
	return nil
}

// StagingExists reports whether a staging key is present.
func (s *Storage) StagingExists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.stagingBucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat staging object: %w", err)
}

// StagingTag reads one tag of a staging object. ok is false when the object
// carries no such tag.
func (s *Storage) StagingTag(ctx context.Context, key, tagKey string) (value string, ok bool, err error) {
	t, err := s.client.GetObjectTagging(ctx, s.stagingBucket, key, minio.GetObjectTaggingOptions{})
	if err != nil {
		if isNotFound(err) {
			return "", false, ErrObjectNotFound
		}
		return "", false, fmt.Errorf("get staging tags: %w", err)
	}
	value, ok = t.ToMap()[tagKey]
	return value, ok, nil
}

// UploadStaging puts an object into the staging bucket.
func (s *Storage) UploadStaging(ctx context.Context, key string, data []byte, contentType string) error {
	opts := minio.PutObjectOptions{ContentType: contentType}
	_, err := s.client.PutObject(ctx, s.stagingBucket, key, bytes.NewReader(data), int64(len(data)), opts)
	if err != nil {
		return fmt.Errorf("upload staging object: %w", err)
	}
	return nil
}

// DownloadStaging fetches a staging object.
func (s *Storage) DownloadStaging(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.stagingBucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get staging object: %w", err)
	}
	defer obj.Close()
	buf, err := io.ReadAll(obj)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("read staging object: %w", err)
	}
	return buf, nil
}

// DeleteStaging removes a staging object.
func (s *Storage) DeleteStaging(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.stagingBucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove staging object: %w", err)
	}
	return nil
}

// ArchiveStaging moves a staging object to destKey inside the same bucket.
func (s *Storage) ArchiveStaging(ctx context.Context, key, destKey string) error {
	_, err := s.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: s.stagingBucket, Object: destKey},
		minio.CopySrcOptions{Bucket: s.stagingBucket, Object: key})
	if err != nil {
		return fmt.Errorf("copy %s to archive: %w", key, err)
	}
	return s.DeleteStaging(ctx, key)
}

// CopyToPermanent copies a staging object into the permanent bucket.
func (s *Storage) CopyToPermanent(ctx context.Context, srcKey, destKey string) error {
	_, err := s.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: s.permanentBucket, Object: destKey},
		minio.CopySrcOptions{Bucket: s.stagingBucket, Object: srcKey})
	if err != nil {
		return fmt.Errorf("copy to permanent bucket: %w", err)
	}
	return nil
}

// PermanentSize returns the byte size of a permanent object.
func (s *Storage) PermanentSize(ctx context.Context, key string) (int64, error) {
	info, err := s.client.StatObject(ctx, s.permanentBucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return 0, ErrObjectNotFound
		}
		return 0, fmt.Errorf("stat permanent object: %w", err)
	}
	return info.Size, nil
}

// DeletePermanent removes a permanent object.
func (s *Storage) DeletePermanent(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.permanentBucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove permanent object: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.StatusCode == http.StatusNotFound || resp.Code == "NoSuchKey"
}
