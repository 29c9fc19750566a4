package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/vya-digital/backupd/internal/config"
)

// s3API is the subset of the S3 client the backend uses. Narrowing the
// surface lets tests substitute a fake without a live bucket.
type s3API interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, input *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, input *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	PutBucketLifecycleConfiguration(ctx context.Context, input *s3.PutBucketLifecycleConfigurationInput, opts ...func(*s3.Options)) (*s3.PutBucketLifecycleConfigurationOutput, error)
}

// S3 stores artifacts in an S3-compatible bucket under an optional key
// prefix. Works against AWS and path-style compatible stores (MinIO,
// Ceph RGW) via the endpoint setting.
type S3 struct {
	client  s3API
	presign *s3.PresignClient
	bucket  string
	prefix  string
	logger  *zap.Logger
}

// NewS3 builds an S3 backend from storage settings.
func NewS3(cfg config.StorageSettings, logger *zap.Logger) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("storage: s3 backend requires a bucket")
	}

	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	client := s3.New(opts)

	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix != "" {
		prefix += "/"
	}

	return &S3{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
		prefix:  prefix,
		logger:  logger.Named("storage.s3"),
	}, nil
}

func (b *S3) key(name string) string { return b.prefix + name }

func (b *S3) Upload(ctx context.Context, localPath, name string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("storage: failed to open %s: %w", localPath, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return fmt.Errorf("storage: stat %s: %w", localPath, err)
	}

	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(b.key(name)),
		Body:          f,
		ContentLength: aws.Int64(st.Size()),
	})
	if err != nil {
		return fmt.Errorf("storage: put s3://%s/%s: %w", b.bucket, b.key(name), err)
	}
	b.logger.Info("uploaded artifact",
		zap.String("key", b.key(name)),
		zap.Int64("bytes", st.Size()),
	)
	return nil
}

func (b *S3) Download(ctx context.Context, name, localPath string) error {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(name)),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("storage: get s3://%s/%s: %w", b.bucket, b.key(name), err)
	}
	defer out.Body.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o750); err != nil {
		return fmt.Errorf("storage: failed to create parent of %s: %w", localPath, err)
	}
	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("storage: failed to create %s: %w", localPath, err)
	}
	if _, err := io.Copy(f, out.Body); err != nil {
		f.Close()
		return fmt.Errorf("storage: write %s: %w", localPath, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	b.logger.Info("downloaded artifact", zap.String("key", b.key(name)))
	return nil
}

// List pages through the bucket with the internal continuation token;
// callers only ever see the complete result.
func (b *S3) List(ctx context.Context, pattern string, by SortBy) ([]string, error) {
	type item struct {
		name string
		mod  time.Time
	}
	var items []item

	var token *string
	for {
		out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(b.bucket),
			Prefix:            aws.String(b.prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("storage: list s3://%s/%s: %w", b.bucket, b.prefix, err)
		}
		for _, obj := range out.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), b.prefix)
			if name == "" {
				continue
			}
			if pattern != "" {
				matched, err := path.Match(pattern, path.Base(name))
				if err != nil {
					return nil, fmt.Errorf("storage: bad list pattern %q: %w", pattern, err)
				}
				if !matched {
					continue
				}
			}
			items = append(items, item{name: name, mod: aws.ToTime(obj.LastModified)})
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}

	switch by {
	case SortName:
		sort.Slice(items, func(i, j int) bool { return items[i].name < items[j].name })
	case SortTime:
		sort.Slice(items, func(i, j int) bool { return items[i].mod.Before(items[j].mod) })
	}

	names := make([]string, len(items))
	for i, it := range items {
		names[i] = it.name
	}
	return names, nil
}

func (b *S3) Delete(ctx context.Context, name string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(name)),
	})
	if err != nil {
		return fmt.Errorf("storage: delete s3://%s/%s: %w", b.bucket, b.key(name), err)
	}
	return nil
}

func (b *S3) DeleteMany(ctx context.Context, names []string) ([]string, error) {
	var failed []string
	var firstErr error
	for _, name := range names {
		if err := b.Delete(ctx, name); err != nil {
			failed = append(failed, name)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return failed, firstErr
}

func (b *S3) Exists(ctx context.Context, name string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(name)),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("storage: head s3://%s/%s: %w", b.bucket, b.key(name), err)
	}
	return true, nil
}

func (b *S3) Size(ctx context.Context, name string) (int64, error) {
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(name)),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return 0, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return 0, err
	}
	return aws.ToInt64(out.ContentLength), nil
}

func (b *S3) ModTime(ctx context.Context, name string) (time.Time, error) {
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(name)),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return time.Time{}, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return time.Time{}, err
	}
	return aws.ToTime(out.LastModified), nil
}

func (b *S3) TotalBytes(ctx context.Context) (int64, error) {
	var total int64
	var token *string
	for {
		out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(b.bucket),
			Prefix:            aws.String(b.prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return 0, fmt.Errorf("storage: list s3://%s/%s: %w", b.bucket, b.prefix, err)
		}
		for _, obj := range out.Contents {
			total += aws.ToInt64(obj.Size)
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}
	return total, nil
}

// PresignedURL implements Presigner with a time-limited GET URL.
func (b *S3) PresignedURL(ctx context.Context, name string, ttl time.Duration) (string, error) {
	req, err := b.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(name)),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("storage: presign s3://%s/%s: %w", b.bucket, b.key(name), err)
	}
	return req.URL, nil
}

// ApplyLifecyclePolicy installs a bucket lifecycle rule expiring objects
// under this backend's prefix after the given number of days. Object
// stores enforce the rule server-side, complementing the local retention
// engine for buckets the engine cannot sweep frequently.
func (b *S3) ApplyLifecyclePolicy(ctx context.Context, expireAfterDays int32) error {
	_, err := b.client.PutBucketLifecycleConfiguration(ctx, &s3.PutBucketLifecycleConfigurationInput{
		Bucket: aws.String(b.bucket),
		LifecycleConfiguration: &types.BucketLifecycleConfiguration{
			Rules: []types.LifecycleRule{
				{
					ID:     aws.String("backupd-retention"),
					Status: types.ExpirationStatusEnabled,
					Filter: &types.LifecycleRuleFilter{Prefix: aws.String(b.prefix)},
					Expiration: &types.LifecycleExpiration{
						Days: aws.Int32(expireAfterDays),
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("storage: lifecycle policy on %s: %w", b.bucket, err)
	}
	b.logger.Info("applied lifecycle policy",
		zap.String("bucket", b.bucket),
		zap.Int32("expire_after_days", expireAfterDays),
	)
	return nil
}

// isNoSuchKey recognizes the typed NoSuchKey error (GetObject) and the
// typed NotFound error (HeadObject's 404). Other error shapes, such as an
// untyped 404 response, are not matched.
func isNoSuchKey(err error) bool {
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return true
	}
	var notFound *types.NotFound
	return errors.As(err, &notFound)
}
