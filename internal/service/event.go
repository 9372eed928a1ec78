package service

import (
	"strconv"
	"time"
)

// Event is the JSON message published on the signal bus and relayed to
// websocket clients.
type Event struct {
	Type          string    `json:"type"`
	ChainID       uint64    `json:"chain_id"`
	MarketAddress string    `json:"market_address"`
	MarketID      string    `json:"market_id"`
	Probability   float64   `json:"probability"`
	Decision      string    `json:"decision"`
	EncodedPrice  string    `json:"encoded_price,omitempty"`
	Target        string    `json:"target,omitempty"`
	Description   string    `json:"description,omitempty"`
	RecordID      string    `json:"record_id,omitempty"`
	At            time.Time `json:"at"`
}

func newEvent(out Outcome, req PredictionRequest) Event {
	ev := Event{
		Type:          ChannelAttestationSkipped,
		ChainID:       out.ChainID,
		MarketAddress: req.Market.Address.Hex(),
		Probability:   req.Probability,
		Decision:      string(out.Decision),
		RecordID:      out.RecordID,
		At:            time.Now().UTC(),
	}
	if req.Market.MarketID != nil {
		ev.MarketID = req.Market.MarketID.String()
	}
	if cd := out.Calldata; cd != nil {
		ev.Type = ChannelAttestationBuilt
		ev.EncodedPrice = cd.EncodedPrice.String()
		ev.Target = cd.Target.Hex()
		ev.Description = cd.HumanDescription
	}
	return ev
}

func formatPercent(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}
