package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/predictattest/internal/attest"
	s3blob "github.com/alanyoungcy/predictattest/internal/blob/s3"
	"github.com/alanyoungcy/predictattest/internal/domain"
	"github.com/alanyoungcy/predictattest/internal/metrics"
	"github.com/alanyoungcy/predictattest/internal/notify"
)

// Signal bus channels published by AttestationService.
const (
	ChannelAttestationBuilt   = "attestation.built"
	ChannelAttestationSkipped = "attestation.skipped"
)

// Sources of a previous prediction.
const (
	SourceCache   = "cache"
	SourceStore   = "store"
	SourceIndexer = "indexer"
)

// PredictionIndex looks up what has already been attested on chain.
type PredictionIndex interface {
	LatestPrediction(ctx context.Context, schemaUID common.Hash, attester common.Address, market domain.MarketReference) (*big.Int, time.Time, error)
}

// EventNotifier delivers human-readable alerts.
type EventNotifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Settings are the tunables of AttestationService.
type Settings struct {
	DefaultChainID      uint64
	ThresholdPercent    float64
	ReattestOnAmbiguous bool
	LockTTL             time.Duration
	// Attester filters indexer lookups; zero matches any attester.
	Attester common.Address
}

// Deps bundles the collaborators of AttestationService. Only Builder is
// required; every other field may be nil and the matching step is skipped.
type Deps struct {
	Builder  *attest.Builder
	Store    domain.AttestationStore
	Cache    domain.PredictionCache
	Locks    domain.LockManager
	Index    PredictionIndex
	Blobs    domain.BlobWriter
	Bus      domain.SignalBus
	Audit    domain.AuditStore
	Notifier EventNotifier
	Metrics  *metrics.Metrics
}

// PredictionRequest asks for calldata attesting a probability.
type PredictionRequest struct {
	Market      domain.MarketReference `json:"market"`
	Probability float64                `json:"probability"`
	Reasoning   string                 `json:"reasoning"`
	// ChainID of zero selects the configured default chain.
	ChainID uint64 `json:"chain_id,omitempty"`
}

// Previous is the last known attested value of a market.
type Previous struct {
	EncodedPrice *big.Int  `json:"encoded_price"`
	Probability  *float64  `json:"probability,omitempty"`
	Source       string    `json:"source"`
	At           time.Time `json:"at,omitempty"`
}

// MarshalJSON writes encoded_price as a decimal string.
func (p Previous) MarshalJSON() ([]byte, error) {
	type alias Previous
	v := struct {
		alias
		EncodedPrice string `json:"encoded_price"`
	}{alias: alias(p)}
	if p.EncodedPrice != nil {
		v.EncodedPrice = p.EncodedPrice.String()
	}
	return json.Marshal(v)
}

// Outcome is the result of Prepare or Decide. Calldata is nil unless the
// decision led to a build.
type Outcome struct {
	Decision  domain.Decision             `json:"decision"`
	ChainID   uint64                      `json:"chain_id"`
	Threshold float64                     `json:"threshold_percent"`
	Previous  *Previous                   `json:"previous,omitempty"`
	Calldata  *domain.AttestationCalldata `json:"calldata,omitempty"`
	RecordID  string                      `json:"record_id,omitempty"`
}

// AttestationService turns prediction requests into attestation calldata,
// suppressing requests that do not move the market's last attested value by
// at least the configured threshold.
type AttestationService struct {
	settings Settings
	deps     Deps
	logger   *slog.Logger
	now      func() time.Time
}

// NewAttestationService creates an AttestationService.
func NewAttestationService(settings Settings, deps Deps, logger *slog.Logger) *AttestationService {
	if deps.Builder == nil {
		deps.Builder = attest.NewBuilder(nil)
	}
	return &AttestationService{
		settings: settings,
		deps:     deps,
		logger:   logger.With(slog.String("component", "attestation_service")),
		now:      time.Now,
	}
}

// Registry exposes the chain registry used for builds.
func (s *AttestationService) Registry() *attest.ChainRegistry {
	return s.deps.Builder.Registry()
}

// Prepare runs the full pipeline for one prediction: look up the previous
// value, apply the re-attestation policy, build calldata and record it.
func (s *AttestationService) Prepare(ctx context.Context, req PredictionRequest) (Outcome, error) {
	out, err := s.prepare(ctx, req)
	if err != nil {
		s.deps.Metrics.ObserveFailure(metrics.Reason(err))
		return Outcome{}, err
	}
	s.deps.Metrics.ObserveDecision(out.Decision, out.ChainID)
	if out.Previous != nil {
		s.deps.Metrics.ObservePrevious(out.Previous.Source)
	} else if out.Decision == domain.DecisionFirst {
		s.deps.Metrics.ObservePrevious("none")
	}
	return out, nil
}

func (s *AttestationService) prepare(ctx context.Context, req PredictionRequest) (Outcome, error) {
	chainID, err := s.validate(req)
	if err != nil {
		return Outcome{}, err
	}
	key := req.Market.Key(chainID)

	if s.deps.Locks != nil {
		unlock, err := s.deps.Locks.Acquire(ctx, key, s.settings.LockTTL)
		if err != nil {
			return Outcome{}, fmt.Errorf("service: lock %s: %w", key, err)
		}
		defer unlock()
	}

	out, err := s.decide(ctx, req, chainID)
	if err != nil {
		s.alert(ctx, key, err)
		return Outcome{}, err
	}
	if out.Decision == domain.DecisionSkipped {
		s.logger.InfoContext(ctx, "attestation skipped",
			slog.String("market", key),
			slog.Float64("probability", req.Probability),
			slog.Float64("threshold", s.settings.ThresholdPercent),
		)
		s.publish(ctx, ChannelAttestationSkipped, newEvent(out, req))
		s.notify(ctx, notify.EventAttestationSkipped, "Attestation skipped",
			fmt.Sprintf("%s: %s%% is within %s%% of the last attestation",
				key, formatPercent(req.Probability), formatPercent(s.settings.ThresholdPercent)))
		return out, nil
	}

	cd, err := s.deps.Builder.Build(req.Market, req.Probability, req.Reasoning, chainID)
	if err != nil {
		s.alert(ctx, key, err)
		return Outcome{}, fmt.Errorf("service: build calldata: %w", err)
	}
	out.Calldata = cd

	rec := domain.AttestationRecord{
		ID:               uuid.NewString(),
		ChainID:          chainID,
		Market:           req.Market,
		Probability:      req.Probability,
		EncodedPrice:     cd.EncodedPrice,
		Comment:          attest.TruncateComment(req.Reasoning),
		Target:           cd.Target,
		Calldata:         cd.Data,
		HumanDescription: cd.HumanDescription,
		Decision:         out.Decision,
		CreatedAt:        s.now().UTC(),
	}
	if out.Previous != nil {
		rec.PreviousEncoded = out.Previous.EncodedPrice
	}

	if s.deps.Store != nil {
		if err := s.deps.Store.Insert(ctx, rec); err != nil {
			return Outcome{}, fmt.Errorf("service: persist attestation: %w", err)
		}
		out.RecordID = rec.ID
	}
	s.recordSideEffects(ctx, key, rec, out, req)

	s.logger.InfoContext(ctx, "attestation built",
		slog.String("market", key),
		slog.String("decision", string(out.Decision)),
		slog.Float64("probability", req.Probability),
		slog.String("encoded_price", cd.EncodedPrice.String()),
		slog.String("target", cd.Target.Hex()),
	)
	return out, nil
}

// Decide reports what Prepare would do without building or recording
// anything.
func (s *AttestationService) Decide(ctx context.Context, req PredictionRequest) (Outcome, error) {
	chainID, err := s.validate(req)
	if err != nil {
		return Outcome{}, err
	}
	return s.decide(ctx, req, chainID)
}

// History lists stored attestations for a market, newest first.
func (s *AttestationService) History(ctx context.Context, market domain.MarketReference, opts domain.ListOpts) ([]domain.AttestationRecord, error) {
	if s.deps.Store == nil {
		return nil, fmt.Errorf("service: history: no attestation store configured: %w", domain.ErrNotFound)
	}
	recs, err := s.deps.Store.ListByMarket(ctx, market.Address, market.MarketID, opts)
	if err != nil {
		return nil, fmt.Errorf("service: history: %w", err)
	}
	return recs, nil
}

func (s *AttestationService) validate(req PredictionRequest) (uint64, error) {
	if err := attest.ValidateProbability(req.Probability); err != nil {
		return 0, fmt.Errorf("service: %w", err)
	}
	if req.Market.MarketID == nil || req.Market.MarketID.Sign() < 0 {
		return 0, fmt.Errorf("service: market id must be a non-negative integer: %w", domain.ErrEncoding)
	}
	chainID := req.ChainID
	if chainID == 0 {
		chainID = s.settings.DefaultChainID
	}
	if _, err := s.deps.Builder.Registry().Lookup(chainID); err != nil {
		return 0, fmt.Errorf("service: %w", err)
	}
	return chainID, nil
}

func (s *AttestationService) decide(ctx context.Context, req PredictionRequest, chainID uint64) (Outcome, error) {
	out := Outcome{ChainID: chainID, Threshold: s.settings.ThresholdPercent}

	prev, err := s.previous(ctx, req.Market, chainID)
	if err != nil && !errors.Is(err, domain.ErrDecodeAmbiguous) {
		return Outcome{}, err
	}
	if err != nil {
		return s.ambiguous(ctx, out, req, err)
	}
	if prev == nil {
		out.Decision = domain.DecisionFirst
		return out, nil
	}
	out.Previous = prev

	change, err := attest.ShouldReattest(prev.EncodedPrice, req.Probability, s.settings.ThresholdPercent)
	switch {
	case errors.Is(err, domain.ErrDecodeAmbiguous):
		return s.ambiguous(ctx, out, req, err)
	case err != nil:
		return Outcome{}, fmt.Errorf("service: reattest policy: %w", err)
	}
	if p, derr := attest.DecodePrice(prev.EncodedPrice); derr == nil {
		prev.Probability = &p
	}
	if change {
		out.Decision = domain.DecisionReattest
	} else {
		out.Decision = domain.DecisionSkipped
	}
	return out, nil
}

func (s *AttestationService) ambiguous(ctx context.Context, out Outcome, req PredictionRequest, cause error) (Outcome, error) {
	if !s.settings.ReattestOnAmbiguous {
		return Outcome{}, fmt.Errorf("service: previous prediction: %w", cause)
	}
	s.logger.WarnContext(ctx, "previous prediction unreadable, attesting anyway",
		slog.String("market", req.Market.Key(out.ChainID)),
		slog.String("error", cause.Error()),
	)
	out.Decision = domain.DecisionAmbiguous
	return out, nil
}

// previous walks cache, store and indexer in that order. It returns nil
// without error when no source knows the market.
func (s *AttestationService) previous(ctx context.Context, market domain.MarketReference, chainID uint64) (*Previous, error) {
	key := market.Key(chainID)

	if s.deps.Cache != nil {
		enc, at, err := s.deps.Cache.GetLast(ctx, key)
		switch {
		case err == nil:
			return &Previous{EncodedPrice: enc, Source: SourceCache, At: at}, nil
		case errors.Is(err, domain.ErrNotFound):
		case errors.Is(err, domain.ErrDecodeAmbiguous):
			// A corrupt cache entry must not shadow the durable history.
			s.logger.WarnContext(ctx, "dropping unreadable cache entry",
				slog.String("market", key), slog.String("error", err.Error()))
			_ = s.deps.Cache.Invalidate(ctx, key)
		default:
			s.logger.WarnContext(ctx, "prediction cache unavailable",
				slog.String("market", key), slog.String("error", err.Error()))
		}
	}

	if s.deps.Store != nil {
		rec, err := s.deps.Store.LatestByMarket(ctx, chainID, market.Address, market.MarketID)
		switch {
		case err == nil:
			s.fillCache(ctx, key, rec.EncodedPrice, rec.CreatedAt)
			return &Previous{EncodedPrice: rec.EncodedPrice, Source: SourceStore, At: rec.CreatedAt}, nil
		case errors.Is(err, domain.ErrNotFound):
		default:
			return nil, fmt.Errorf("service: latest attestation: %w", err)
		}
	}

	if s.deps.Index != nil {
		entry, err := s.deps.Builder.Registry().Lookup(chainID)
		if err != nil {
			return nil, fmt.Errorf("service: %w", err)
		}
		enc, at, err := s.deps.Index.LatestPrediction(ctx, entry.SchemaUID, s.settings.Attester, market)
		switch {
		case err == nil:
			s.fillCache(ctx, key, enc, at)
			return &Previous{EncodedPrice: enc, Source: SourceIndexer, At: at}, nil
		case errors.Is(err, domain.ErrNotFound):
		case errors.Is(err, domain.ErrDecodeAmbiguous):
			return nil, err
		default:
			// The indexer is advisory; an outage falls back to "no history".
			s.logger.WarnContext(ctx, "indexer lookup failed",
				slog.String("market", key), slog.String("error", err.Error()))
		}
	}
	return nil, nil
}

func (s *AttestationService) fillCache(ctx context.Context, key string, enc *big.Int, at time.Time) {
	if s.deps.Cache == nil || enc == nil {
		return
	}
	if err := s.deps.Cache.SetLast(ctx, key, enc, at); err != nil {
		s.logger.WarnContext(ctx, "prediction cache write failed",
			slog.String("market", key), slog.String("error", err.Error()))
	}
}

func (s *AttestationService) recordSideEffects(ctx context.Context, key string, rec domain.AttestationRecord, out Outcome, req PredictionRequest) {
	s.fillCache(ctx, key, rec.EncodedPrice, rec.CreatedAt)

	if s.deps.Blobs != nil {
		body, err := json.Marshal(s3blob.NewArchivedAttestation(rec))
		if err == nil {
			err = s.deps.Blobs.Put(ctx, s3blob.CalldataPath(rec), bytes.NewReader(body), "application/json")
		}
		if err != nil {
			s.logger.WarnContext(ctx, "calldata archive failed",
				slog.String("record_id", rec.ID), slog.String("error", err.Error()))
		}
	}

	s.publish(ctx, ChannelAttestationBuilt, newEvent(out, req))

	if s.deps.Audit != nil {
		if err := s.deps.Audit.Log(ctx, "attestation.built", map[string]any{
			"record_id":     rec.ID,
			"market":        key,
			"decision":      string(rec.Decision),
			"probability":   rec.Probability,
			"encoded_price": rec.EncodedPrice.String(),
		}); err != nil {
			s.logger.WarnContext(ctx, "audit log failed",
				slog.String("record_id", rec.ID), slog.String("error", err.Error()))
		}
	}

	s.notify(ctx, notify.EventAttestationBuilt, "Attestation built", rec.HumanDescription)
}

func (s *AttestationService) publish(ctx context.Context, channel string, ev Event) {
	if s.deps.Bus == nil {
		return
	}
	body, err := json.Marshal(ev)
	if err == nil {
		err = s.deps.Bus.Publish(ctx, channel, body)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "publish failed",
			slog.String("channel", channel), slog.String("error", err.Error()))
	}
}

func (s *AttestationService) notify(ctx context.Context, event, title, message string) {
	if s.deps.Notifier == nil {
		return
	}
	if err := s.deps.Notifier.Notify(ctx, event, title, message); err != nil {
		s.logger.WarnContext(ctx, "notify failed",
			slog.String("event", event), slog.String("error", err.Error()))
	}
}

func (s *AttestationService) alert(ctx context.Context, key string, err error) {
	// Caller mistakes are not operator alerts.
	if errors.Is(err, domain.ErrDomain) || errors.Is(err, domain.ErrEncoding) || errors.Is(err, domain.ErrLockHeld) {
		return
	}
	s.notify(ctx, notify.EventError, "Attestation failed",
		fmt.Sprintf("market %s: %v", key, err))
}
