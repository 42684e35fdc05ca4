package s3blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// minPartSize is the S3 multipart minimum (5 MiB).
const minPartSize int64 = 5 * 1024 * 1024

// Bucket stores round archives in the configured bucket.
type Bucket struct {
	client   *s3.Client
	bucket   string
	partSize int64
}

// NewBucket returns a Bucket over c. Streamed uploads use parts of partSize
// bytes, raised to the S3 minimum when smaller.
func NewBucket(c *Client, partSize int64) *Bucket {
	return &Bucket{
		client:   c.S3(),
		bucket:   c.Bucket(),
		partSize: max(partSize, minPartSize),
	}
}

// PutObject uploads body in a single request. Round reports are small enough
// that multipart would only add round trips.
func (b *Bucket) PutObject(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: put %s: %w", key, err)
	}
	return nil
}

// UploadStream streams body through the upload manager. History exports
// use it since their size grows with the number of rounds.
func (b *Bucket) UploadStream(ctx context.Context, key string, body io.Reader, contentType string) error {
	uploader := manager.NewUploader(b.client, func(u *manager.Uploader) {
		u.PartSize = b.partSize
	})
	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: upload %s: %w", key, err)
	}
	return nil
}

// ObjectExists reports whether key is present using HeadObject.
func (b *Bucket) ObjectExists(ctx context.Context, key string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("s3blob: head %s: %w", key, err)
	}
	return true, nil
}

// isNotFound matches NoSuchKey, NotFound and bare 404 responses from
// providers that return neither typed error.
func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var httpErr interface{ HTTPStatusCode() int }
	return errors.As(err, &httpErr) && httpErr.HTTPStatusCode() == http.StatusNotFound
}

var _ ObjectStore = (*Bucket)(nil)
