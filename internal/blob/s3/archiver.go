package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/solcast/marketd/internal/domain"
)

// LogArchiveStore is the narrow slice of the automation log store the
// archiver needs: a time-ranged read and the matching delete.
type LogArchiveStore interface {
	// ListBefore returns rows created strictly before the cutoff. A limit of
	// zero means no limit.
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.AutomatedMarketLog, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// multipartWriter is satisfied by writers that can split large uploads into
// parts. The archiver uses it when a month of log rows outgrows a single
// PutObject call.
type multipartWriter interface {
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// Archiver moves automation log rows older than the retention cutoff into
// cold storage. Rows are serialized to JSONL, uploaded, and only then deleted
// from the primary store, so a failed upload never loses audit history.
type Archiver struct {
	writer domain.BlobWriter
	logs   LogArchiveStore
	logger *slog.Logger
}

// NewArchiver creates an Archiver writing through the given blob writer.
func NewArchiver(writer domain.BlobWriter, logs LogArchiveStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		logs:   logs,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveLogs uploads all automation log rows older than before and deletes
// them from the primary store. It returns the number of archived rows.
func (a *Archiver) ArchiveLogs(ctx context.Context, before time.Time) (int64, error) {
	rows, err := a.logs.ListBefore(ctx, before, 0)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive logs query: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(rows)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive logs marshal: %w", err)
	}

	path := archivePath("automation_logs", before)
	if err := a.upload(ctx, path, buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive logs upload: %w", err)
	}

	deleted, err := a.logs.DeleteBefore(ctx, before)
	if err != nil {
		// The upload succeeded; the rows will be re-archived (and the object
		// overwritten) on the next run.
		return 0, fmt.Errorf("s3blob: archive logs delete: %w", err)
	}

	a.logger.Info("automation logs archived",
		slog.String("path", path),
		slog.Int("rows", len(rows)),
		slog.Int64("deleted", deleted),
		slog.Time("before", before))

	return int64(len(rows)), nil
}

// upload chooses single-shot or multipart based on payload size.
func (a *Archiver) upload(ctx context.Context, path string, buf []byte) error {
	if mp, ok := a.writer.(multipartWriter); ok && int64(len(buf)) > minPartSize {
		return mp.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	}
	return a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/automation_logs/2025-06.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
