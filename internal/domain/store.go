package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AttestationStore persists built attestations.
type AttestationStore interface {
	Insert(ctx context.Context, rec AttestationRecord) error
	LatestByMarket(ctx context.Context, chainID uint64, address common.Address, marketID *big.Int) (AttestationRecord, error)
	ListByMarket(ctx context.Context, address common.Address, marketID *big.Int, opts ListOpts) ([]AttestationRecord, error)
	ListBefore(ctx context.Context, before time.Time) ([]AttestationRecord, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
