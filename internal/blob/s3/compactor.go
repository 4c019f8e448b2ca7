package s3blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// MultipartWriter uploads payloads of unknown size.
type MultipartWriter interface {
	PutMultipart(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Compactor folds a day of journal objects into one JSONL file at
// archive/executions/YYYY-MM-DD.jsonl. The per-execution objects are left
// in place; removing them is a separate, explicit step once the archive has
// been checked.
type Compactor struct {
	journal *Journal
	reader  domain.BlobReader
	writer  MultipartWriter
	audit   domain.AuditLog
}

// NewCompactor creates a Compactor. audit may be nil.
func NewCompactor(j *Journal, r domain.BlobReader, w MultipartWriter, audit domain.AuditLog) *Compactor {
	return &Compactor{journal: j, reader: r, writer: w, audit: audit}
}

// ArchivePath is the compacted file for day.
func ArchivePath(day time.Time) string {
	return fmt.Sprintf("archive/executions/%s.jsonl", day.UTC().Format("2006-01-02"))
}

// Compact archives day and returns how many records it wrote.
func (c *Compactor) Compact(ctx context.Context, day time.Time) (int, error) {
	objs, err := c.reader.List(ctx, c.journal.DayPrefix(day))
	if err != nil {
		return 0, fmt.Errorf("s3blob: compact list: %w", err)
	}
	if len(objs) == 0 {
		return 0, nil
	}
	sort.Slice(objs, func(i, j int) bool { return objs[i].Path < objs[j].Path })

	var buf bytes.Buffer
	for _, obj := range objs {
		if err := c.appendLine(ctx, &buf, obj.Path); err != nil {
			return 0, err
		}
	}

	dst := ArchivePath(day)
	if err := c.writer.PutMultipart(ctx, dst, &buf, "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: compact upload: %w", err)
	}

	if c.audit != nil {
		if err := c.audit.Log(ctx, "archive.executions", map[string]any{
			"path":  dst,
			"count": len(objs),
			"day":   day.UTC().Format("2006-01-02"),
		}); err != nil {
			return len(objs), fmt.Errorf("s3blob: compact audit log: %w", err)
		}
	}
	return len(objs), nil
}

// appendLine copies one JSON object into buf as a single line.
func (c *Compactor) appendLine(ctx context.Context, buf *bytes.Buffer, key string) error {
	rc, err := c.reader.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("s3blob: compact get: %w", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("s3blob: compact read %s: %w", key, err)
	}
	buf.Write(bytes.TrimRight(data, "\r\n"))
	buf.WriteByte('\n')
	return nil
}
