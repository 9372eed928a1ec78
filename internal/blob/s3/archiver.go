package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/predictattest/internal/domain"
)

// ArchivePrefix is the key prefix under which record archives are written.
const ArchivePrefix = "archive/attestations/"

// AttestationSource is the slice of domain.AttestationStore the archiver needs.
type AttestationSource interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.AttestationRecord, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// Archiver implements domain.Archiver. Records older than the cutoff are
// written as one JSONL object and removed from the primary store only after
// the upload succeeds.
type Archiver struct {
	writer domain.BlobWriter
	source AttestationSource
	audit  domain.AuditStore
	now    func() time.Time
}

// NewArchiver creates an Archiver. audit may be nil.
func NewArchiver(writer domain.BlobWriter, source AttestationSource, audit domain.AuditStore) *Archiver {
	return &Archiver{writer: writer, source: source, audit: audit, now: time.Now}
}

// ArchiveAttestations moves every record created before the cutoff to
// object storage and returns how many were archived.
func (a *Archiver) ArchiveAttestations(ctx context.Context, before time.Time) (int64, error) {
	recs, err := a.source.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive query: %w", err)
	}
	if len(recs) == 0 {
		return 0, nil
	}

	lines := make([]ArchivedAttestation, len(recs))
	for i, rec := range recs {
		lines[i] = NewArchivedAttestation(rec)
	}
	buf, err := marshalJSONL(lines)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive marshal: %w", err)
	}

	path := ArchivePath(before, a.now())
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive upload: %w", err)
	}

	deleted, err := a.source.DeleteBefore(ctx, before)
	if err != nil {
		return int64(len(recs)), fmt.Errorf("s3blob: archive prune: %w", err)
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.attestations", map[string]any{
			"path":    path,
			"count":   len(recs),
			"deleted": deleted,
			"before":  before.UTC().Format(time.RFC3339),
		}); err != nil {
			return int64(len(recs)), fmt.Errorf("s3blob: archive audit: %w", err)
		}
	}
	return int64(len(recs)), nil
}

// ArchivePath names an archive object by cutoff month and run time so
// repeated runs never overwrite each other.
//
//	archive/attestations/2026-09/20261017T120000Z.jsonl
func ArchivePath(before, runAt time.Time) string {
	return fmt.Sprintf("%s%s/%s.jsonl", ArchivePrefix,
		before.UTC().Format("2006-01"), runAt.UTC().Format("20060102T150405Z"))
}

// CalldataPath is the object key of a single built attestation.
func CalldataPath(rec domain.AttestationRecord) string {
	return fmt.Sprintf("calldata/%d/%s/%s/%s.json", rec.ChainID,
		rec.Market.Address.Hex(), rec.Market.MarketID.String(), rec.ID)
}

// ArchivedAttestation is the JSON shape of one archived record. Big integers
// are decimal strings and calldata is 0x-hex.
type ArchivedAttestation struct {
	ID               string    `json:"id"`
	ChainID          uint64    `json:"chain_id"`
	MarketAddress    string    `json:"market_address"`
	MarketID         string    `json:"market_id"`
	QuestionID       string    `json:"question_id"`
	Probability      float64   `json:"probability"`
	EncodedPrice     string    `json:"encoded_price"`
	PreviousEncoded  string    `json:"previous_encoded,omitempty"`
	Comment          string    `json:"comment"`
	Target           string    `json:"target"`
	Calldata         string    `json:"calldata"`
	HumanDescription string    `json:"human_description"`
	Decision         string    `json:"decision"`
	CreatedAt        time.Time `json:"created_at"`
}

// NewArchivedAttestation flattens a record for archiving.
func NewArchivedAttestation(rec domain.AttestationRecord) ArchivedAttestation {
	out := ArchivedAttestation{
		ID:               rec.ID,
		ChainID:          rec.ChainID,
		MarketAddress:    rec.Market.Address.Hex(),
		QuestionID:       rec.Market.QuestionID.Hex(),
		Probability:      rec.Probability,
		Comment:          rec.Comment,
		Target:           rec.Target.Hex(),
		Calldata:         fmt.Sprintf("0x%x", rec.Calldata),
		HumanDescription: rec.HumanDescription,
		Decision:         string(rec.Decision),
		CreatedAt:        rec.CreatedAt.UTC(),
	}
	if rec.Market.MarketID != nil {
		out.MarketID = rec.Market.MarketID.String()
	}
	if rec.EncodedPrice != nil {
		out.EncodedPrice = rec.EncodedPrice.String()
	}
	if rec.PreviousEncoded != nil {
		out.PreviousEncoded = rec.PreviousEncoded.String()
	}
	return out
}

// marshalJSONL writes one compact JSON document per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*Archiver)(nil)
