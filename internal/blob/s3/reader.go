package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// JournalReader lists and fetches the per-execution journal records the
// compactor folds into daily archives.
type JournalReader struct {
	client *s3.Client
	bucket string
}

// NewJournalReader reads from c's bucket.
func NewJournalReader(c *Client) *JournalReader {
	return &JournalReader{client: c.S3(), bucket: c.Bucket()}
}

// Get returns the record at key. The caller closes it. A missing key is
// domain.ErrNotFound.
func (r *JournalReader) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("s3blob: get %s: %w", key, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("s3blob: get %s: %w", key, err)
	}
	return out.Body, nil
}

// List returns the journal records under prefix in key order, which is
// also execution-ID order within a day.
func (r *JournalReader) List(ctx context.Context, prefix string) ([]domain.BlobInfo, error) {
	var objs []types.Object
	paginator := s3.NewListObjectsV2Paginator(r.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(r.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3blob: list %s: %w", prefix, err)
		}
		objs = append(objs, page.Contents...)
	}
	return journalObjects(objs), nil
}

// journalObjects keeps the .json records, dropping directory markers and
// anything else that shares the prefix, and sorts them by key.
func journalObjects(objs []types.Object) []domain.BlobInfo {
	infos := make([]domain.BlobInfo, 0, len(objs))
	for _, obj := range objs {
		key := aws.ToString(obj.Key)
		if strings.HasSuffix(key, "/") || !strings.HasSuffix(key, ".json") {
			continue
		}
		info := domain.BlobInfo{Path: key, Size: aws.ToInt64(obj.Size)}
		if obj.LastModified != nil {
			info.LastModified = *obj.LastModified
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })
	return infos
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var resp *smithyhttp.ResponseError
	return errors.As(err, &resp) && resp.HTTPStatusCode() == http.StatusNotFound
}

var _ domain.BlobReader = (*JournalReader)(nil)
