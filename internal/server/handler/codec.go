package handler

import (
	"net/http"

	"github.com/alanyoungcy/predictattest/internal/attest"
)

// CodecHandler exposes the probability <-> sqrt-price conversion.
type CodecHandler struct{}

// NewCodecHandler creates a CodecHandler.
func NewCodecHandler() *CodecHandler {
	return &CodecHandler{}
}

type encodeRequest struct {
	Probability *float64 `json:"probability"`
}

type priceResponse struct {
	Probability  float64 `json:"probability"`
	EncodedPrice string  `json:"encoded_price"`
}

// Encode converts a probability percentage into its encoded price.
// POST /api/codec/encode {"probability": 65}
func (h *CodecHandler) Encode(w http.ResponseWriter, r *http.Request) {
	var req encodeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Probability == nil {
		writeError(w, http.StatusBadRequest, "probability is required")
		return
	}
	enc, err := attest.EncodePrice(*req.Probability)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, priceResponse{Probability: *req.Probability, EncodedPrice: enc.String()})
}

type decodeRequest struct {
	EncodedPrice bigNumber `json:"encoded_price"`
}

// Decode converts an encoded price back into a probability percentage.
// POST /api/codec/decode {"encoded_price": "79228162514264337593543950336"}
func (h *CodecHandler) Decode(w http.ResponseWriter, r *http.Request) {
	var req decodeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.EncodedPrice.value() == nil {
		writeError(w, http.StatusBadRequest, "encoded_price is required")
		return
	}
	p, err := attest.DecodePrice(req.EncodedPrice.value())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, priceResponse{Probability: p, EncodedPrice: req.EncodedPrice.String()})
}
