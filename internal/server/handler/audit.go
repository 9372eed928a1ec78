package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/predictattest/internal/domain"
)

// AuditHandler exposes the append-only audit log.
type AuditHandler struct {
	store  domain.AuditStore
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(store domain.AuditStore, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{store: store, logger: logger.With(slog.String("handler", "audit"))}
}

type auditView struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// List returns audit entries, newest first.
// GET /api/audit?since=RFC3339&until=RFC3339&limit=&offset=
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	for _, f := range []struct {
		name string
		dst  **time.Time
	}{{"since", &opts.Since}, {"until", &opts.Until}} {
		raw := r.URL.Query().Get(f.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, f.name+" must be an RFC3339 timestamp")
			return
		}
		*f.dst = &t
	}

	entries, err := h.store.List(r.Context(), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list audit entries", err)
		return
	}
	out := make([]auditView, len(entries))
	for i, e := range entries {
		out[i] = auditView{ID: e.ID, Event: e.Event, Detail: e.Detail, CreatedAt: e.CreatedAt}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}
