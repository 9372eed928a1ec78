package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/predictattest/internal/domain"
)

// AttestationStore implements domain.AttestationStore using PostgreSQL.
// Big integers are stored as decimal TEXT so that values are kept verbatim
// and unreadable rows surface as domain.ErrDecodeAmbiguous on read.
type AttestationStore struct {
	pool *pgxpool.Pool
}

// NewAttestationStore creates a new AttestationStore backed by the given pool.
func NewAttestationStore(pool *pgxpool.Pool) *AttestationStore {
	return &AttestationStore{pool: pool}
}

const attestationColumns = `id::text, chain_id, market_address, market_id, question_id,
	probability, encoded_price, previous_encoded, comment, target, calldata,
	human_description, decision, created_at`

// Insert stores a built attestation.
func (s *AttestationStore) Insert(ctx context.Context, rec domain.AttestationRecord) error {
	const query = `
		INSERT INTO attestations (
			id, chain_id, market_address, market_id, question_id, probability,
			encoded_price, previous_encoded, comment, target, calldata,
			human_description, decision, created_at
		) VALUES ($1::text::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	var prev *string
	if rec.PreviousEncoded != nil {
		v := rec.PreviousEncoded.String()
		prev = &v
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, query,
		rec.ID,
		int64(rec.ChainID),
		rec.Market.Address.Hex(),
		bigString(rec.Market.MarketID),
		rec.Market.QuestionID.Hex(),
		rec.Probability,
		bigString(rec.EncodedPrice),
		prev,
		rec.Comment,
		rec.Target.Hex(),
		rec.Calldata,
		rec.HumanDescription,
		string(rec.Decision),
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert attestation %s: %w", rec.ID, err)
	}
	return nil
}

// LatestByMarket returns the newest attestation for a market on a chain, or
// domain.ErrNotFound.
func (s *AttestationStore) LatestByMarket(ctx context.Context, chainID uint64, address common.Address, marketID *big.Int) (domain.AttestationRecord, error) {
	query := `SELECT ` + attestationColumns + `
		FROM attestations
		WHERE chain_id = $1 AND market_address = $2 AND market_id = $3
		ORDER BY created_at DESC
		LIMIT 1`

	row := s.pool.QueryRow(ctx, query, int64(chainID), address.Hex(), bigString(marketID))
	rec, err := scanAttestation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.AttestationRecord{}, domain.ErrNotFound
		}
		return domain.AttestationRecord{}, fmt.Errorf("postgres: latest attestation %s/%s: %w", address.Hex(), bigString(marketID), err)
	}
	return rec, nil
}

// ListByMarket returns a market's attestations newest first.
func (s *AttestationStore) ListByMarket(ctx context.Context, address common.Address, marketID *big.Int, opts domain.ListOpts) ([]domain.AttestationRecord, error) {
	query, args := appendListOpts(
		`SELECT `+attestationColumns+` FROM attestations WHERE market_address = $1 AND market_id = $2`,
		[]any{address.Hex(), bigString(marketID)}, "created_at", opts,
	)
	return s.query(ctx, "list attestations", query, args...)
}

// ListBefore returns attestations created strictly before the cutoff.
func (s *AttestationStore) ListBefore(ctx context.Context, before time.Time) ([]domain.AttestationRecord, error) {
	query := `SELECT ` + attestationColumns + `
		FROM attestations
		WHERE created_at < $1
		ORDER BY created_at ASC`
	return s.query(ctx, "list attestations before", query, before)
}

// DeleteBefore removes attestations created strictly before the cutoff and
// returns the number of rows deleted.
func (s *AttestationStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM attestations WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete attestations before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

func (s *AttestationStore) query(ctx context.Context, op, query string, args ...any) ([]domain.AttestationRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	var out []domain.AttestationRecord
	for rows.Next() {
		rec, err := scanAttestation(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: %s: %w", op, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s rows: %w", op, err)
	}
	return out, nil
}

func scanAttestation(row pgx.Row) (domain.AttestationRecord, error) {
	var (
		rec                              domain.AttestationRecord
		chainID                          int64
		marketAddr, marketID, questionID string
		encoded, target, decision        string
		prev                             *string
	)
	err := row.Scan(
		&rec.ID, &chainID, &marketAddr, &marketID, &questionID,
		&rec.Probability, &encoded, &prev, &rec.Comment, &target, &rec.Calldata,
		&rec.HumanDescription, &decision, &rec.CreatedAt,
	)
	if err != nil {
		return domain.AttestationRecord{}, err
	}

	rec.ChainID = uint64(chainID)
	rec.Market.Address = common.HexToAddress(marketAddr)
	rec.Market.QuestionID = common.HexToHash(questionID)
	rec.Target = common.HexToAddress(target)
	rec.Decision = domain.Decision(decision)

	var ok bool
	if rec.Market.MarketID, ok = new(big.Int).SetString(marketID, 10); !ok {
		return domain.AttestationRecord{}, fmt.Errorf("market_id %q: %w", marketID, domain.ErrDecodeAmbiguous)
	}
	if rec.EncodedPrice, ok = new(big.Int).SetString(encoded, 10); !ok {
		return domain.AttestationRecord{}, fmt.Errorf("encoded_price %q: %w", encoded, domain.ErrDecodeAmbiguous)
	}
	if prev != nil {
		if rec.PreviousEncoded, ok = new(big.Int).SetString(*prev, 10); !ok {
			return domain.AttestationRecord{}, fmt.Errorf("previous_encoded %q: %w", *prev, domain.ErrDecodeAmbiguous)
		}
	}
	return rec, nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// Compile-time interface check.
var _ domain.AttestationStore = (*AttestationStore)(nil)
