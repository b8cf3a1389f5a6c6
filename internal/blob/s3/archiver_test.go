package s3blob

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmercadal/pairvault/internal/domain"
)

type fakeWriter struct {
	puts       map[string][]byte
	multiparts int
}

func (w *fakeWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.puts[path] = b
	return nil
}

func (w *fakeWriter) PutMultipart(_ context.Context, path string, data io.Reader, _ int64) error {
	w.multiparts++
	return w.Put(context.Background(), path, data, "")
}

type fakeAuditStore struct {
	entries []domain.AuditEntry
	logged  []string
}

func (a *fakeAuditStore) Log(_ context.Context, event string, _ map[string]any) error {
	a.logged = append(a.logged, event)
	return nil
}

func (a *fakeAuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	if opts.Offset >= len(a.entries) {
		return nil, nil
	}
	return a.entries[opts.Offset:], nil
}

func TestArchiveAudit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	cutoff := time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)
	audit := &fakeAuditStore{entries: []domain.AuditEntry{
		{ID: 1, Event: "treasury_created", CreatedAt: cutoff.Add(-48 * time.Hour)},
		{ID: 2, Event: "match_created", CreatedAt: cutoff.Add(-24 * time.Hour)},
	}}
	writer := &fakeWriter{puts: make(map[string][]byte)}

	count, err := NewAuditArchiver(writer, audit).ArchiveAudit(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// One JSONL object, partitioned by the cutoff month, one line per entry.
	body, ok := writer.puts["archive/audit/2026-08.jsonl"]
	require.True(t, ok)
	lines := strings.Split(strings.TrimRight(string(body), "\n"), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], "treasury_created")

	// Small batches stay on the single-shot upload path.
	assert.Zero(t, writer.multiparts)

	// The archival itself landed in the audit log.
	assert.Contains(t, audit.logged, "archive.audit")
}

func TestArchiveAuditEmpty(t *testing.T) {
	t.Parallel()

	writer := &fakeWriter{puts: make(map[string][]byte)}
	count, err := NewAuditArchiver(writer, &fakeAuditStore{}).ArchiveAudit(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, writer.puts)
}
