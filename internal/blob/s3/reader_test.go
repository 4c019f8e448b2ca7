package s3blob

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/stretchr/testify/assert"
)

func TestJournalObjectsKeepsRecordsInKeyOrder(t *testing.T) {
	mod := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	objs := []types.Object{
		{Key: aws.String("executions/2026/10/19/exec-b.json"), Size: aws.Int64(20), LastModified: &mod},
		{Key: aws.String("executions/2026/10/19/"), Size: aws.Int64(0)},
		{Key: aws.String("executions/2026/10/19/exec-a.json"), Size: aws.Int64(10)},
		{Key: aws.String("executions/2026/10/19/notes.txt"), Size: aws.Int64(3)},
	}

	got := journalObjects(objs)
	if assert.Len(t, got, 2) {
		assert.Equal(t, "executions/2026/10/19/exec-a.json", got[0].Path)
		assert.Equal(t, int64(10), got[0].Size)
		assert.True(t, got[0].LastModified.IsZero())
		assert.Equal(t, "executions/2026/10/19/exec-b.json", got[1].Path)
		assert.Equal(t, mod, got[1].LastModified)
	}
	assert.Empty(t, journalObjects(nil))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(fmt.Errorf("get: %w", &types.NoSuchKey{})))

	notFound := &smithyhttp.ResponseError{
		Response: &smithyhttp.Response{Response: &http.Response{StatusCode: http.StatusNotFound}},
		Err:      errors.New("not found"),
	}
	assert.True(t, isNotFound(fmt.Errorf("get: %w", notFound)))

	forbidden := &smithyhttp.ResponseError{
		Response: &smithyhttp.Response{Response: &http.Response{StatusCode: http.StatusForbidden}},
		Err:      errors.New("denied"),
	}
	assert.False(t, isNotFound(forbidden))
	assert.False(t, isNotFound(errors.New("timeout")))
}
