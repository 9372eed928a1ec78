package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/alanyoungcy/predictattest/internal/domain"
	"github.com/alanyoungcy/predictattest/internal/service"
)

// AttestationService is the part of service.AttestationService the handler
// uses.
type AttestationService interface {
	Prepare(ctx context.Context, req service.PredictionRequest) (service.Outcome, error)
	Decide(ctx context.Context, req service.PredictionRequest) (service.Outcome, error)
	History(ctx context.Context, market domain.MarketReference, opts domain.ListOpts) ([]domain.AttestationRecord, error)
}

// AttestationHandler serves the attestation endpoints.
type AttestationHandler struct {
	svc    AttestationService
	logger *slog.Logger
}

// NewAttestationHandler creates an AttestationHandler.
func NewAttestationHandler(svc AttestationService, logger *slog.Logger) *AttestationHandler {
	return &AttestationHandler{svc: svc, logger: logger.With(slog.String("handler", "attestation"))}
}

type predictionBody struct {
	MarketAddress string    `json:"market_address"`
	MarketID      bigNumber `json:"market_id"`
	QuestionID    string    `json:"question_id"`
	Probability   *float64  `json:"probability"`
	Reasoning     string    `json:"reasoning"`
	ChainID       uint64    `json:"chain_id"`
}

// toRequest converts the body; Probability must be non-nil.
func (b predictionBody) toRequest() (service.PredictionRequest, error) {
	addr, err := parseAddress("market_address", b.MarketAddress)
	if err != nil {
		return service.PredictionRequest{}, err
	}
	qid, err := parseHash("question_id", b.QuestionID)
	if err != nil {
		return service.PredictionRequest{}, err
	}
	return service.PredictionRequest{
		Market:      domain.MarketReference{Address: addr, MarketID: b.MarketID.value(), QuestionID: qid},
		Probability: *b.Probability,
		Reasoning:   b.Reasoning,
		ChainID:     b.ChainID,
	}, nil
}

func (h *AttestationHandler) readRequest(w http.ResponseWriter, r *http.Request) (service.PredictionRequest, bool) {
	var body predictionBody
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return service.PredictionRequest{}, false
	}
	if body.Probability == nil {
		writeError(w, http.StatusBadRequest, "probability is required")
		return service.PredictionRequest{}, false
	}
	req, err := body.toRequest()
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return service.PredictionRequest{}, false
	}
	return req, true
}

// Prepare builds calldata for a prediction unless it is within the
// re-attestation threshold of the market's last attestation.
// POST /api/attestations
func (h *AttestationHandler) Prepare(w http.ResponseWriter, r *http.Request) {
	req, ok := h.readRequest(w, r)
	if !ok {
		return
	}
	out, err := h.svc.Prepare(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, h.logger, "prepare attestation", err)
		return
	}
	status := http.StatusOK
	if out.Calldata != nil {
		status = http.StatusCreated
	}
	writeJSON(w, status, out)
}

// Decide reports whether a prediction would be attested.
// POST /api/attestations/decide
func (h *AttestationHandler) Decide(w http.ResponseWriter, r *http.Request) {
	req, ok := h.readRequest(w, r)
	if !ok {
		return
	}
	out, err := h.svc.Decide(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, h.logger, "decide attestation", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type recordView struct {
	ID               string        `json:"id"`
	ChainID          uint64        `json:"chain_id"`
	MarketAddress    string        `json:"market_address"`
	MarketID         string        `json:"market_id"`
	QuestionID       string        `json:"question_id"`
	Probability      float64       `json:"probability"`
	EncodedPrice     string        `json:"encoded_price"`
	PreviousEncoded  string        `json:"previous_encoded,omitempty"`
	Comment          string        `json:"comment"`
	Target           string        `json:"target"`
	Calldata         hexutil.Bytes `json:"calldata"`
	HumanDescription string        `json:"human_description"`
	Decision         string        `json:"decision"`
	CreatedAt        time.Time     `json:"created_at"`
}

func newRecordView(rec domain.AttestationRecord) recordView {
	v := recordView{
		ID:               rec.ID,
		ChainID:          rec.ChainID,
		MarketAddress:    rec.Market.Address.Hex(),
		QuestionID:       rec.Market.QuestionID.Hex(),
		Probability:      rec.Probability,
		Comment:          rec.Comment,
		Target:           rec.Target.Hex(),
		Calldata:         rec.Calldata,
		HumanDescription: rec.HumanDescription,
		Decision:         string(rec.Decision),
		CreatedAt:        rec.CreatedAt,
	}
	if rec.Market.MarketID != nil {
		v.MarketID = rec.Market.MarketID.String()
	}
	if rec.EncodedPrice != nil {
		v.EncodedPrice = rec.EncodedPrice.String()
	}
	if rec.PreviousEncoded != nil {
		v.PreviousEncoded = rec.PreviousEncoded.String()
	}
	return v
}

// List returns stored attestations for one market, newest first.
// GET /api/attestations?market_address=0x..&market_id=147&limit=50&offset=0
func (h *AttestationHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	addr, err := parseAddress("market_address", q.Get("market_address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var id bigNumber
	if err := id.UnmarshalJSON([]byte(q.Get("market_id"))); err != nil || id.value() == nil {
		writeError(w, http.StatusBadRequest, "market_id must be an integer")
		return
	}
	opts := parseListOpts(r)

	recs, err := h.svc.History(r.Context(), domain.MarketReference{Address: addr, MarketID: id.value()}, opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list attestations", err)
		return
	}
	views := make([]recordView, len(recs))
	for i, rec := range recs {
		views[i] = newRecordView(rec)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"attestations": views,
		"limit":        opts.Limit,
		"offset":       opts.Offset,
	})
}
