package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/predictattest/internal/domain"
)

// ArchiveHandler moves old attestation records to object storage.
type ArchiveHandler struct {
	archiver domain.Archiver
	reader   domain.BlobReader
	prefix   string
	logger   *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler. reader may be nil.
func NewArchiveHandler(archiver domain.Archiver, reader domain.BlobReader, prefix string, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{archiver: archiver, reader: reader, prefix: prefix, logger: logger.With(slog.String("handler", "archive"))}
}

type archiveRequest struct {
	OlderThanDays int `json:"older_than_days"`
}

// Archive archives records older than the given number of days.
// POST /api/archive {"older_than_days": 30}
func (h *ArchiveHandler) Archive(w http.ResponseWriter, r *http.Request) {
	var req archiveRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.OlderThanDays < 1 {
		writeError(w, http.StatusBadRequest, "older_than_days must be at least 1")
		return
	}

	before := time.Now().UTC().AddDate(0, 0, -req.OlderThanDays)
	n, err := h.archiver.ArchiveAttestations(r.Context(), before)
	if err != nil {
		writeServiceError(w, r, h.logger, "archive attestations", err)
		return
	}
	h.logger.InfoContext(r.Context(), "archived attestations",
		slog.Int64("count", n),
		slog.Time("before", before),
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"archived": n,
		"before":   before.Format(time.RFC3339),
	})
}

// ListArchives lists archive objects.
// GET /api/archive
func (h *ArchiveHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	if h.reader == nil {
		writeError(w, http.StatusServiceUnavailable, "archive listing is not configured")
		return
	}
	infos, err := h.reader.List(r.Context(), h.prefix)
	if err != nil {
		writeServiceError(w, r, h.logger, "list archives", err)
		return
	}
	type item struct {
		Path         string    `json:"path"`
		Size         int64     `json:"size"`
		LastModified time.Time `json:"last_modified"`
	}
	out := make([]item, len(infos))
	for i, info := range infos {
		out[i] = item{Path: info.Path, Size: info.Size, LastModified: info.LastModified}
	}
	writeJSON(w, http.StatusOK, map[string]any{"objects": out})
}
