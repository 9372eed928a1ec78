package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictattest/internal/domain"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeArchiver struct {
	before time.Time
	n      int64
	err    error
}

func (f *fakeArchiver) ArchiveAttestations(_ context.Context, before time.Time) (int64, error) {
	f.before = before
	return f.n, f.err
}

type fakeReader struct{ infos []domain.BlobInfo }

func (f fakeReader) List(context.Context, string) ([]domain.BlobInfo, error) { return f.infos, nil }

type fakeAudit struct {
	opts    domain.ListOpts
	entries []domain.AuditEntry
}

func (f *fakeAudit) Log(context.Context, string, map[string]any) error { return nil }

func (f *fakeAudit) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	f.opts = opts
	return f.entries, nil
}

func serve(h http.HandlerFunc, method, target, body string) *httptest.ResponseRecorder {
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(method, target, rdr))
	return w
}

func TestArchive(t *testing.T) {
	arch := &fakeArchiver{n: 3}
	h := NewArchiveHandler(arch, nil, "archive/attestations/", discard())

	w := serve(h.Archive, http.MethodPost, "/api/archive", `{"older_than_days": 30}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, float64(3), body["archived"])
	assert.WithinDuration(t, time.Now().UTC().AddDate(0, 0, -30), arch.before, time.Minute)
}

func TestArchiveRejectsBadInput(t *testing.T) {
	h := NewArchiveHandler(&fakeArchiver{}, nil, "", discard())

	assert.Equal(t, http.StatusBadRequest, serve(h.Archive, http.MethodPost, "/api/archive", `{"older_than_days": 0}`).Code)
	assert.Equal(t, http.StatusBadRequest, serve(h.Archive, http.MethodPost, "/api/archive", `{"days": 3}`).Code)
}

func TestArchiveFailure(t *testing.T) {
	h := NewArchiveHandler(&fakeArchiver{err: errors.New("bucket gone")}, nil, "", discard())
	w := serve(h.Archive, http.MethodPost, "/api/archive", `{"older_than_days": 1}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestListArchives(t *testing.T) {
	h := NewArchiveHandler(&fakeArchiver{}, nil, "", discard())
	assert.Equal(t, http.StatusServiceUnavailable, serve(h.ListArchives, http.MethodGet, "/api/archive", "").Code)

	modified := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	h = NewArchiveHandler(&fakeArchiver{}, fakeReader{infos: []domain.BlobInfo{
		{Path: "archive/attestations/2026-03/x.jsonl", Size: 42, LastModified: modified},
	}}, "archive/attestations/", discard())
	w := serve(h.ListArchives, http.MethodGet, "/api/archive", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"path":"archive/attestations/2026-03/x.jsonl"`)
}

func TestAuditList(t *testing.T) {
	store := &fakeAudit{entries: []domain.AuditEntry{
		{ID: 2, Event: "archive.attestations", Detail: map[string]any{"count": float64(4)}},
		{ID: 1, Event: "attestation.built"},
	}}
	h := NewAuditHandler(store, discard())

	w := serve(h.List, http.MethodGet, "/api/audit?since=2026-01-01T00:00:00Z&limit=10", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body struct {
		Entries []auditView `json:"entries"`
	}
	require.NoError(t, json.NewDecoder(bytes.NewReader(w.Body.Bytes())).Decode(&body))
	require.Len(t, body.Entries, 2)
	assert.Equal(t, "archive.attestations", body.Entries[0].Event)

	require.NotNil(t, store.opts.Since)
	assert.Equal(t, 2026, store.opts.Since.Year())
	assert.Nil(t, store.opts.Until)
	assert.Equal(t, 10, store.opts.Limit)
}

func TestAuditListBadTime(t *testing.T) {
	h := NewAuditHandler(&fakeAudit{}, discard())
	w := serve(h.List, http.MethodGet, "/api/audit?until=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrDomain, http.StatusBadRequest},
		{domain.ErrEncoding, http.StatusBadRequest},
		{domain.ErrUnsupportedChain, http.StatusUnprocessableEntity},
		{domain.ErrDecodeAmbiguous, http.StatusConflict},
		{domain.ErrLockHeld, http.StatusConflict},
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrRateLimited, http.StatusTooManyRequests},
		{domain.ErrUnauthorized, http.StatusUnauthorized},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
