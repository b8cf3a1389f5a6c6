package handler

import (
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jmercadal/pairvault/internal/domain"
)

// auditArchivePrefix is where the archival pipeline parks cold audit objects.
const auditArchivePrefix = "archive/audit/"

// AuditHandler serves the audit log and its cold archives.
type AuditHandler struct {
	audit    domain.AuditStore
	archives domain.BlobReader // nil when archival is not configured
	logger   *slog.Logger
}

// NewAuditHandler creates an AuditHandler with the given store and logger.
// archives may be nil; the archive endpoints then report that archival is
// not configured.
func NewAuditHandler(audit domain.AuditStore, archives domain.BlobReader, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{
		audit:    audit,
		archives: archives,
		logger:   logger,
	}
}

// ListEntries returns audit entries, newest first.
// GET /api/audit?since=RFC3339&until=RFC3339&limit=50&offset=0
func (h *AuditHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	q := r.URL.Query()

	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since timestamp")
			return
		}
		opts.Since = &t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid until timestamp")
			return
		}
		opts.Until = &t
	}

	entries, err := h.audit.List(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list audit entries failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}

	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]any{
			"id":         e.ID,
			"event":      e.Event,
			"detail":     e.Detail,
			"created_at": e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}

// ListArchives returns metadata for the archived audit objects.
// GET /api/audit/archives
func (h *AuditHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	if h.archives == nil {
		writeError(w, http.StatusNotImplemented, "audit archival is not configured")
		return
	}

	infos, err := h.archives.List(r.Context(), auditArchivePrefix)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list audit archives failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list audit archives")
		return
	}

	out := make([]map[string]any, 0, len(infos))
	for _, info := range infos {
		out = append(out, map[string]any{
			"path":          info.Path,
			"size":          info.Size,
			"last_modified": info.LastModified,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"archives": out})
}

// GetArchive streams one archived audit object as JSONL.
// GET /api/audit/archives/{name}
func (h *AuditHandler) GetArchive(w http.ResponseWriter, r *http.Request) {
	if h.archives == nil {
		writeError(w, http.StatusNotImplemented, "audit archival is not configured")
		return
	}

	name := r.PathValue("name")
	if name == "" || strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		writeError(w, http.StatusBadRequest, "invalid archive name")
		return
	}
	key := auditArchivePrefix + name

	exists, err := h.archives.Exists(r.Context(), key)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: check audit archive failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read audit archive")
		return
	}
	if !exists {
		writeError(w, http.StatusNotFound, "archive not found")
		return
	}

	body, err := h.archives.Get(r.Context(), key)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: get audit archive failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read audit archive")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "handler: stream audit archive interrupted",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}
