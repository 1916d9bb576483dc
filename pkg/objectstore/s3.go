package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Store is a Store backed by an S3-compatible bucket with versioning
// enabled. It builds its *s3.Client from functional LoadOptions, so
// region/endpoint/profile flags map straight onto config.LoadOptions.
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store constructs an S3Store for bucket, loading AWS config with the
// given functional options (region, endpoint, profile, etc).
func NewS3Store(ctx context.Context, bucket string, optFns ...func(*config.LoadOptions) error) (*S3Store, error) {
	awsConfig, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return &S3Store{
		client: s3.NewFromConfig(awsConfig),
		bucket: bucket,
	}, nil
}

func (s *S3Store) Head(ctx context.Context, key string) (Metadata, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		if isNotFound(err) {
			return Metadata{}, ErrNotFound
		}
		return Metadata{}, fmt.Errorf("head %s: %w", key, err)
	}
	return metadataFromHead(out.LastModified, out.ContentEncoding, out.ETag, out.ContentLength), nil
}

func (s *S3Store) Get(ctx context.Context, key string) (io.ReadCloser, Metadata, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		if isNotFound(err) {
			return nil, Metadata{}, ErrNotFound
		}
		return nil, Metadata{}, fmt.Errorf("get %s: %w", key, err)
	}
	meta := metadataFromHead(out.LastModified, out.ContentEncoding, out.ETag, out.ContentLength)
	return out.Body, meta, nil
}

func (s *S3Store) Put(ctx context.Context, key string, data io.Reader, size int64, opts PutOptions) error {
	input := &s3.PutObjectInput{
		Bucket:        &s.bucket,
		Key:           &key,
		Body:          data,
		ContentLength: &size,
	}
	if opts.ContentEncoding != "" {
		input.ContentEncoding = &opts.ContentEncoding
	}
	if opts.StorageClass != "" {
		input.StorageClass = s3types.StorageClass(opts.StorageClass)
	}
	if opts.ACL != "" {
		input.ACL = s3types.ObjectCannedACL(opts.ACL)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Copy self-copies key onto itself to refresh its last-modified time.
// MetadataDirective is set explicitly to COPY so content-encoding and
// other metadata survive the copy rather than relying on the API's
// default behavior.
func (s *S3Store) Copy(ctx context.Context, key string, storageClass string) error {
	source := s.bucket + "/" + key
	input := &s3.CopyObjectInput{
		Bucket:            &s.bucket,
		Key:               &key,
		CopySource:        &source,
		MetadataDirective: s3types.MetadataDirectiveCopy,
	}
	if storageClass != "" {
		input.StorageClass = s3types.StorageClass(storageClass)
	}
	if _, err := s.client.CopyObject(ctx, input); err != nil {
		if isNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("copy %s: %w", key, err)
	}
	return nil
}

func (s *S3Store) ListVersions(ctx context.Context) ([]ObjectVersion, error) {
	var out []ObjectVersion
	paginator := s3.NewListObjectVersionsPaginator(s.client, &s3.ListObjectVersionsInput{
		Bucket: &s.bucket,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing object versions: %w", err)
		}
		for _, v := range page.Versions {
			out = append(out, ObjectVersion{
				Key:          deref(v.Key),
				VersionID:    deref(v.VersionId),
				LastModified: derefTime(v.LastModified),
			})
		}
		for _, m := range page.DeleteMarkers {
			out = append(out, ObjectVersion{
				Key:          deref(m.Key),
				VersionID:    deref(m.VersionId),
				LastModified: derefTime(m.LastModified),
				DeleteMarker: true,
			})
		}
	}
	return out, nil
}

// maxDeleteBatch is S3's per-request limit on the number of objects a
// single DeleteObjects call may remove.
const maxDeleteBatch = 1000

func (s *S3Store) DeleteBatch(ctx context.Context, versions []VersionDeletion) error {
	for start := 0; start < len(versions); start += maxDeleteBatch {
		end := start + maxDeleteBatch
		if end > len(versions) {
			end = len(versions)
		}
		if err := s.deleteBatch(ctx, versions[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *S3Store) deleteBatch(ctx context.Context, versions []VersionDeletion) error {
	objs := make([]s3types.ObjectIdentifier, len(versions))
	for i, v := range versions {
		key := v.Key
		versionID := v.VersionID
		objs[i] = s3types.ObjectIdentifier{Key: &key, VersionId: &versionID}
	}
	_, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: &s.bucket,
		Delete: &s3types.Delete{Objects: objs},
	})
	if err != nil {
		return fmt.Errorf("batch deleting %d objects: %w", len(versions), err)
	}
	return nil
}

func metadataFromHead(lastModified *time.Time, contentEncoding, etag *string, size *int64) Metadata {
	m := Metadata{
		ContentEncoding: deref(contentEncoding),
		ETag:            deref(etag),
	}
	if lastModified != nil {
		m.LastModified = *lastModified
	}
	if size != nil {
		m.Size = *size
	}
	return m
}

func isNotFound(err error) bool {
	var responseErr *awshttp.ResponseError
	if errors.As(err, &responseErr) && responseErr.ResponseError.HTTPStatusCode() == http.StatusNotFound {
		return true
	}
	var notFound *s3types.NotFound
	var noSuchKey *s3types.NoSuchKey
	return errors.As(err, &notFound) || errors.As(err, &noSuchKey)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
