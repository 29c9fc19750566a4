package storage

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

// fakeS3 serves canned ListObjectsV2 pages so the paging loop can be
// exercised without a bucket.
type fakeS3 struct {
	s3API
	pages [][]types.Object
	calls int
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, input *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	page := f.pages[f.calls]
	f.calls++
	truncated := f.calls < len(f.pages)
	out := &s3.ListObjectsV2Output{
		Contents:    page,
		IsTruncated: aws.Bool(truncated),
	}
	if truncated {
		out.NextContinuationToken = aws.String("next")
	}
	return out, nil
}

func obj(key string, size int64, mod time.Time) types.Object {
	return types.Object{Key: aws.String(key), Size: aws.Int64(size), LastModified: aws.Time(mod)}
}

func TestS3ListPagesThroughAllResults(t *testing.T) {
	base := time.Date(2026, 1, 15, 3, 0, 0, 0, time.UTC)
	fake := &fakeS3{pages: [][]types.Object{
		{obj("backups/b.sql.gz", 10, base.Add(time.Hour)), obj("backups/notes.txt", 1, base)},
		{obj("backups/a.sql.gz", 20, base)},
	}}
	b := &S3{client: fake, bucket: "bkt", prefix: "backups/", logger: zap.NewNop()}

	names, err := b.List(context.Background(), "*.sql.gz", SortName)
	if err != nil {
		t.Fatal(err)
	}
	if fake.calls != 2 {
		t.Errorf("expected 2 pages, got %d", fake.calls)
	}
	if len(names) != 2 || names[0] != "a.sql.gz" || names[1] != "b.sql.gz" {
		t.Errorf("List = %v", names)
	}
}

func TestS3ListSortByTime(t *testing.T) {
	base := time.Date(2026, 1, 15, 3, 0, 0, 0, time.UTC)
	fake := &fakeS3{pages: [][]types.Object{
		{obj("newer.gz", 1, base.Add(time.Hour)), obj("older.gz", 1, base)},
	}}
	b := &S3{client: fake, bucket: "bkt", logger: zap.NewNop()}

	names, err := b.List(context.Background(), "", SortTime)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 || names[0] != "older.gz" {
		t.Errorf("List by time = %v", names)
	}
}

func TestS3TotalBytes(t *testing.T) {
	base := time.Now()
	fake := &fakeS3{pages: [][]types.Object{
		{obj("a", 100, base)},
		{obj("b", 23, base)},
	}}
	b := &S3{client: fake, bucket: "bkt", logger: zap.NewNop()}

	total, err := b.TotalBytes(context.Background())
	if err != nil || total != 123 {
		t.Errorf("TotalBytes = %d, %v; want 123", total, err)
	}
}
