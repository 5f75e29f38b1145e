package storage

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rotisserie/eris"

	"krisha-scraper/utils"
)

const parquetContentType = "application/vnd.apache.parquet"

// ObjectUploader copies flushed part files to an S3-compatible bucket, keeping
// the partition layout as the object key.
type ObjectUploader struct {
	client *minio.Client
	bucket string
	logger *utils.Logger
}

func NewObjectUploader(endpoint, accessKey, secretKey, bucket string, useSSL bool, logger *utils.Logger) (*ObjectUploader, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, eris.Wrap(err, "failed to create MinIO client")
	}
	return &ObjectUploader{client: client, bucket: bucket, logger: logger}, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (u *ObjectUploader) EnsureBucket(ctx context.Context) error {
	exists, err := u.client.BucketExists(ctx, u.bucket)
	if err != nil {
		return eris.Wrap(err, "failed to check bucket existence")
	}
	if !exists {
		if err := u.client.MakeBucket(ctx, u.bucket, minio.MakeBucketOptions{}); err != nil {
			return eris.Wrapf(err, "failed to create bucket %s", u.bucket)
		}
	}
	return nil
}

// Upload puts every file under root into the bucket. Files that fail are
// logged and counted; the last error is returned.
func (u *ObjectUploader) Upload(ctx context.Context, root string, files []string) error {
	var lastErr error
	failed := 0
	for _, f := range files {
		key, err := objectKey(root, f)
		if err != nil {
			lastErr = err
			failed++
			continue
		}
		if _, err := u.client.FPutObject(ctx, u.bucket, key, f, minio.PutObjectOptions{
			ContentType: parquetContentType,
		}); err != nil {
			u.logger.Error("[upload] %s failed: %v", key, err)
			lastErr = eris.Wrapf(err, "upload %s", key)
			failed++
			continue
		}
		u.logger.Debug("[upload] s3://%s/%s", u.bucket, key)
	}
	u.logger.Info("[upload] %d of %d files uploaded to %s", len(files)-failed, len(files), u.bucket)
	return lastErr
}

// objectKey is the slash-separated path of file relative to root.
func objectKey(root, file string) (string, error) {
	rel, err := filepath.Rel(root, file)
	if err != nil {
		return "", eris.Wrapf(err, "object key for %s", file)
	}
	if strings.HasPrefix(rel, "..") {
		return "", eris.Errorf("%s is outside %s", file, root)
	}
	return filepath.ToSlash(rel), nil
}
