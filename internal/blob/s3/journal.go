package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// Journal implements domain.Journal by writing every execution attempt as
// its own JSON object, partitioned by day:
//
//	executions/2026/10/19/<id>.json
type Journal struct {
	writer domain.BlobWriter
	prefix string
}

// NewJournal creates a Journal under prefix ("executions" when empty).
func NewJournal(w domain.BlobWriter, prefix string) *Journal {
	if prefix == "" {
		prefix = "executions"
	}
	return &Journal{writer: w, prefix: prefix}
}

// DayPrefix is the key prefix holding a day's records.
func (j *Journal) DayPrefix(day time.Time) string {
	return path.Join(j.prefix, day.UTC().Format("2006/01/02")) + "/"
}

// Key returns the object key for res.
func (j *Journal) Key(res domain.ExecutionResult) string {
	return j.DayPrefix(res.StartedAt) + res.ID + ".json"
}

// Record uploads res.
func (j *Journal) Record(ctx context.Context, res domain.ExecutionResult) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("s3blob: journal marshal %s: %w", res.ID, err)
	}
	key := j.Key(res)
	if err := j.writer.Put(ctx, key, bytes.NewReader(data), "application/json"); err != nil {
		return fmt.Errorf("s3blob: journal %s: %w", res.ID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.Journal = (*Journal)(nil)
