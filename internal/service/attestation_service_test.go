package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictattest/internal/attest"
	"github.com/alanyoungcy/predictattest/internal/domain"
	"github.com/alanyoungcy/predictattest/internal/metrics"
	"github.com/alanyoungcy/predictattest/internal/notify"
)

type harness struct {
	svc      *AttestationService
	store    *memStore
	cache    *memCache
	locks    *memLocks
	bus      *memBus
	blobs    *memBlobs
	audit    *memAudit
	notifier *fakeNotifier
}

func newHarness(t *testing.T, mutate func(*Settings, *Deps)) *harness {
	t.Helper()
	h := &harness{
		store:    &memStore{},
		cache:    newMemCache(),
		locks:    &memLocks{},
		bus:      &memBus{},
		blobs:    &memBlobs{},
		audit:    &memAudit{},
		notifier: &fakeNotifier{},
	}
	settings := Settings{
		DefaultChainID:      8453,
		ThresholdPercent:    10,
		ReattestOnAmbiguous: true,
		LockTTL:             time.Second,
	}
	deps := Deps{
		Builder:  attest.NewBuilder(nil),
		Store:    h.store,
		Cache:    h.cache,
		Locks:    h.locks,
		Blobs:    h.blobs,
		Bus:      h.bus,
		Audit:    h.audit,
		Notifier: h.notifier,
	}
	if mutate != nil {
		mutate(&settings, &deps)
	}
	h.svc = NewAttestationService(settings, deps, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return h
}

func market() domain.MarketReference {
	return domain.MarketReference{
		Address:  common.HexToAddress("0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"),
		MarketID: big.NewInt(147),
	}
}

func request(p float64) PredictionRequest {
	return PredictionRequest{Market: market(), Probability: p, Reasoning: "Strong momentum"}
}

func TestPrepareFirstAttestation(t *testing.T) {
	h := newHarness(t, nil)

	out, err := h.svc.Prepare(context.Background(), request(65))
	require.NoError(t, err)

	assert.Equal(t, domain.DecisionFirst, out.Decision)
	assert.Equal(t, uint64(8453), out.ChainID)
	assert.Nil(t, out.Previous)
	require.NotNil(t, out.Calldata)
	assert.Equal(t, "Attest: 65% YES for market 147", out.Calldata.HumanDescription)
	assert.NotEmpty(t, out.RecordID)

	require.Len(t, h.store.recs, 1)
	rec := h.store.recs[0]
	assert.Equal(t, out.RecordID, rec.ID)
	assert.Nil(t, rec.PreviousEncoded)
	assert.Equal(t, []byte(out.Calldata.Data), rec.Calldata)

	cached, ok := h.cache.vals[market().Key(8453)]
	require.True(t, ok)
	assert.Equal(t, 0, cached.Cmp(out.Calldata.EncodedPrice))

	require.Len(t, h.bus.published[ChannelAttestationBuilt], 1)
	var ev Event
	require.NoError(t, json.Unmarshal(h.bus.published[ChannelAttestationBuilt][0], &ev))
	assert.Equal(t, ChannelAttestationBuilt, ev.Type)
	assert.Equal(t, "147", ev.MarketID)
	assert.Equal(t, out.RecordID, ev.RecordID)

	assert.Len(t, h.blobs.paths, 1)
	assert.Equal(t, []string{"attestation.built"}, h.audit.events)
	assert.Equal(t, []string{notify.EventAttestationBuilt}, h.notifier.events)
	assert.Empty(t, h.locks.held, "lock released")
}

func TestPrepareThreshold(t *testing.T) {
	tests := []struct {
		name   string
		next   float64
		expect domain.Decision
	}{
		{"small move skipped", 70, domain.DecisionSkipped},
		{"exact threshold reattests", 75, domain.DecisionReattest},
		{"large move reattests", 80, domain.DecisionReattest},
		{"downward move reattests", 50, domain.DecisionReattest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			_, err := h.svc.Prepare(context.Background(), request(65))
			require.NoError(t, err)

			out, err := h.svc.Prepare(context.Background(), request(tt.next))
			require.NoError(t, err)
			assert.Equal(t, tt.expect, out.Decision)
			require.NotNil(t, out.Previous)
			assert.Equal(t, SourceCache, out.Previous.Source)
			require.NotNil(t, out.Previous.Probability)
			assert.InDelta(t, 65, *out.Previous.Probability, 1e-9)

			if tt.expect == domain.DecisionSkipped {
				assert.Nil(t, out.Calldata)
				assert.Len(t, h.store.recs, 1)
				assert.Len(t, h.bus.published[ChannelAttestationSkipped], 1)
				return
			}
			require.Len(t, h.store.recs, 2)
			prev := h.store.recs[1].PreviousEncoded
			require.NotNil(t, prev)
			assert.Equal(t, 0, prev.Cmp(h.store.recs[0].EncodedPrice))
		})
	}
}

func TestPrepareFallsBackToStore(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.svc.Prepare(context.Background(), request(65))
	require.NoError(t, err)
	h.cache.vals = map[string]*big.Int{}

	out, err := h.svc.Prepare(context.Background(), request(66))
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionSkipped, out.Decision)
	assert.Equal(t, SourceStore, out.Previous.Source)
	assert.Contains(t, h.cache.vals, market().Key(8453), "store hit back-fills the cache")
}

func TestPrepareFallsBackToIndexer(t *testing.T) {
	enc, err := attest.EncodePrice(40)
	require.NoError(t, err)
	idx := &fakeIndex{enc: enc}
	h := newHarness(t, func(_ *Settings, d *Deps) { d.Index = idx })

	out, err := h.svc.Prepare(context.Background(), request(45))
	require.NoError(t, err)
	assert.Equal(t, 1, idx.calls)
	assert.Equal(t, domain.DecisionSkipped, out.Decision)
	assert.Equal(t, SourceIndexer, out.Previous.Source)
}

func TestPrepareIndexerOutageMeansNoHistory(t *testing.T) {
	idx := &fakeIndex{err: errors.New("connection refused")}
	h := newHarness(t, func(_ *Settings, d *Deps) { d.Index = idx })

	out, err := h.svc.Prepare(context.Background(), request(45))
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionFirst, out.Decision)
}

func TestPrepareAmbiguousHistory(t *testing.T) {
	corrupt := new(big.Int).Lsh(big.NewInt(1), 200)

	t.Run("reattests when configured", func(t *testing.T) {
		h := newHarness(t, nil)
		h.cache.vals[market().Key(8453)] = corrupt

		out, err := h.svc.Prepare(context.Background(), request(65))
		require.NoError(t, err)
		assert.Equal(t, domain.DecisionAmbiguous, out.Decision)
		require.NotNil(t, out.Calldata)
		require.Len(t, h.store.recs, 1)
		assert.Equal(t, domain.DecisionAmbiguous, h.store.recs[0].Decision)
	})

	t.Run("surfaces error otherwise", func(t *testing.T) {
		h := newHarness(t, func(s *Settings, _ *Deps) { s.ReattestOnAmbiguous = false })
		h.cache.vals[market().Key(8453)] = corrupt

		_, err := h.svc.Prepare(context.Background(), request(65))
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrDecodeAmbiguous)
		assert.Empty(t, h.store.recs)
		assert.Equal(t, []string{notify.EventError}, h.notifier.events)
	})

	t.Run("unreadable cache entry is dropped", func(t *testing.T) {
		h := newHarness(t, nil)
		h.cache.err = domain.ErrDecodeAmbiguous

		out, err := h.svc.Prepare(context.Background(), request(65))
		require.NoError(t, err)
		assert.Equal(t, domain.DecisionFirst, out.Decision)
	})
}

func TestPrepareRejectsBadInput(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.svc.Prepare(context.Background(), request(101))
	assert.ErrorIs(t, err, domain.ErrDomain)

	req := request(50)
	req.Market.MarketID = nil
	_, err = h.svc.Prepare(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrEncoding)

	req = request(50)
	req.ChainID = 999999
	_, err = h.svc.Prepare(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrUnsupportedChain)

	assert.Empty(t, h.store.recs)
	assert.Empty(t, h.notifier.events)
}

func TestPrepareLockHeld(t *testing.T) {
	h := newHarness(t, nil)
	unlock, err := h.locks.Acquire(context.Background(), market().Key(8453), time.Second)
	require.NoError(t, err)
	defer unlock()

	_, err = h.svc.Prepare(context.Background(), request(65))
	assert.ErrorIs(t, err, domain.ErrLockHeld)
	assert.Empty(t, h.store.recs)
}

func TestPrepareSideChannelFailuresAreNotFatal(t *testing.T) {
	h := newHarness(t, nil)
	h.bus.err = errors.New("redis down")

	out, err := h.svc.Prepare(context.Background(), request(65))
	require.NoError(t, err)
	assert.NotNil(t, out.Calldata)
	assert.Len(t, h.store.recs, 1)
}

func TestPreparePersistFailureIsFatal(t *testing.T) {
	h := newHarness(t, nil)
	h.store.err = errors.New("disk full")

	_, err := h.svc.Prepare(context.Background(), request(65))
	require.Error(t, err)
	assert.Empty(t, h.cache.vals)
}

func TestPrepareOfflineWithoutCollaborators(t *testing.T) {
	svc := NewAttestationService(Settings{DefaultChainID: 10, ThresholdPercent: 5}, Deps{},
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	out, err := svc.Prepare(context.Background(), request(30))
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionFirst, out.Decision)
	assert.Equal(t, uint64(10), out.Calldata.ChainID)
	assert.Empty(t, out.RecordID)

	_, err = svc.History(context.Background(), market(), domain.ListOpts{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDecideDoesNotRecord(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.svc.Prepare(context.Background(), request(65))
	require.NoError(t, err)

	out, err := h.svc.Decide(context.Background(), request(90))
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionReattest, out.Decision)
	assert.Nil(t, out.Calldata)
	assert.Len(t, h.store.recs, 1)
}

func TestHistory(t *testing.T) {
	h := newHarness(t, nil)
	now := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	h.svc.now = func() time.Time { now = now.Add(time.Minute); return now }

	for _, p := range []float64{10, 30, 50} {
		_, err := h.svc.Prepare(context.Background(), request(p))
		require.NoError(t, err)
	}

	recs, err := h.svc.History(context.Background(), market(), domain.ListOpts{Limit: 2})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, 50.0, recs[0].Probability)
	assert.Equal(t, 30.0, recs[1].Probability)
}

func TestPrepareRecordsMetrics(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	h := newHarness(t, func(_ *Settings, d *Deps) { d.Metrics = m })
	ctx := context.Background()

	_, err := h.svc.Prepare(ctx, request(65))
	require.NoError(t, err)
	_, err = h.svc.Prepare(ctx, request(67))
	require.NoError(t, err)
	_, err = h.svc.Prepare(ctx, PredictionRequest{Market: market(), Probability: 65, ChainID: 999})
	require.ErrorIs(t, err, domain.ErrUnsupportedChain)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Decisions.WithLabelValues("first", "8453")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Decisions.WithLabelValues("skipped", "8453")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PreviousLookups.WithLabelValues("none")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PreviousLookups.WithLabelValues(SourceCache)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Failures.WithLabelValues("unsupported_chain")))
}
