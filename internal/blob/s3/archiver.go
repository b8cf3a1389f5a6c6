package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmercadal/pairvault/internal/domain"
)

// archiveBatch bounds how many audit entries one archive run pulls per page.
const archiveBatch = 5000

// multipartThreshold is the serialized size above which archive uploads switch
// to the concurrent multipart path.
const multipartThreshold int64 = 16 * 1024 * 1024

// AuditArchiver moves old audit log entries to S3 cold storage as JSONL
// files. Deletion of archived rows from the primary store is intentionally
// NOT performed here; that is a separate, explicit step to be executed after
// the archive has been verified.
type AuditArchiver struct {
	writer domain.BlobWriter
	audit  domain.AuditStore
}

// NewAuditArchiver creates a new AuditArchiver.
func NewAuditArchiver(writer domain.BlobWriter, audit domain.AuditStore) *AuditArchiver {
	return &AuditArchiver{writer: writer, audit: audit}
}

// ArchiveAudit queries all audit entries recorded strictly before the cutoff,
// serializes them to JSONL, and uploads the file to S3 at
// archive/audit/YYYY-MM.jsonl. The archival itself is recorded in the audit
// log and the count of archived records is returned.
func (a *AuditArchiver) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	var entries []domain.AuditEntry
	for offset := 0; ; offset += archiveBatch {
		page, err := a.audit.List(ctx, domain.ListOpts{
			Limit:  archiveBatch,
			Offset: offset,
			Until:  &before,
		})
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
		}
		entries = append(entries, page...)
		if len(page) < archiveBatch {
			break
		}
	}
	if len(entries) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit marshal: %w", err)
	}

	path := archivePath("audit", before)
	if int64(len(buf)) >= multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit upload: %w", err)
	}

	count := int64(len(entries))

	if err := a.audit.Log(ctx, "archive.audit", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive audit log: %w", err)
	}

	return count, nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/audit/2026-08.jsonl
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
