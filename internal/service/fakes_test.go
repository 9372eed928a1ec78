package service

import (
	"context"
	"io"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/predictattest/internal/domain"
)

type memStore struct {
	mu   sync.Mutex
	recs []domain.AttestationRecord
	err  error
}

func (m *memStore) Insert(_ context.Context, rec domain.AttestationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.recs = append(m.recs, rec)
	return nil
}

func (m *memStore) LatestByMarket(_ context.Context, chainID uint64, address common.Address, marketID *big.Int) (domain.AttestationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.recs) - 1; i >= 0; i-- {
		r := m.recs[i]
		if r.ChainID == chainID && r.Market.Address == address && r.Market.MarketID.Cmp(marketID) == 0 {
			return r, nil
		}
	}
	return domain.AttestationRecord{}, domain.ErrNotFound
}

func (m *memStore) ListByMarket(_ context.Context, address common.Address, marketID *big.Int, opts domain.ListOpts) ([]domain.AttestationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.AttestationRecord
	for _, r := range m.recs {
		if r.Market.Address == address && r.Market.MarketID.Cmp(marketID) == 0 {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (m *memStore) ListBefore(context.Context, time.Time) ([]domain.AttestationRecord, error) {
	return nil, nil
}

func (m *memStore) DeleteBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

type memCache struct {
	vals map[string]*big.Int
	err  error
}

func newMemCache() *memCache { return &memCache{vals: map[string]*big.Int{}} }

func (c *memCache) SetLast(_ context.Context, key string, enc *big.Int, _ time.Time) error {
	c.vals[key] = new(big.Int).Set(enc)
	return nil
}

func (c *memCache) GetLast(_ context.Context, key string) (*big.Int, time.Time, error) {
	if c.err != nil {
		return nil, time.Time{}, c.err
	}
	v, ok := c.vals[key]
	if !ok {
		return nil, time.Time{}, domain.ErrNotFound
	}
	return v, time.Time{}, nil
}

func (c *memCache) Invalidate(_ context.Context, key string) error {
	delete(c.vals, key)
	c.err = nil
	return nil
}

type memLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func (l *memLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = map[string]bool{}
	}
	if l.held[key] {
		return nil, domain.ErrLockHeld
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, nil
}

type memBus struct {
	published map[string][][]byte
	err       error
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	if b.err != nil {
		return b.err
	}
	if b.published == nil {
		b.published = map[string][][]byte{}
	}
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

type memBlobs struct {
	paths []string
}

func (b *memBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	_, _ = io.Copy(io.Discard, data)
	b.paths = append(b.paths, path)
	return nil
}

type memAudit struct {
	events []string
}

func (a *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.events = append(a.events, event)
	return nil
}

func (a *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

type fakeIndex struct {
	enc   *big.Int
	err   error
	calls int
}

func (f *fakeIndex) LatestPrediction(context.Context, common.Hash, common.Address, domain.MarketReference) (*big.Int, time.Time, error) {
	f.calls++
	if f.err != nil {
		return nil, time.Time{}, f.err
	}
	return f.enc, time.Unix(1700000000, 0), nil
}

type fakeNotifier struct {
	events []string
}

func (n *fakeNotifier) Notify(_ context.Context, event, _, _ string) error {
	n.events = append(n.events, event)
	return nil
}
