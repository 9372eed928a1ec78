package domain

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// MarketReference identifies the market an attestation pertains to.
type MarketReference struct {
	Address    common.Address `json:"market_address"`
	MarketID   *big.Int       `json:"market_id"`
	QuestionID common.Hash    `json:"question_id"`
}

// Key returns a stable cache/lock key for the market on the given chain.
func (m MarketReference) Key(chainID uint64) string {
	id := "nil"
	if m.MarketID != nil {
		id = m.MarketID.String()
	}
	return strconv.FormatUint(chainID, 10) + ":" + m.Address.Hex() + ":" + id
}

// MarshalJSON writes market_id as a decimal string.
func (m MarketReference) MarshalJSON() ([]byte, error) {
	type alias MarketReference
	return json.Marshal(struct {
		alias
		MarketID decimal `json:"market_id"`
	}{alias(m), decimal{&m.MarketID}})
}

// UnmarshalJSON accepts market_id as a decimal string or a JSON number.
func (m *MarketReference) UnmarshalJSON(data []byte) error {
	type alias MarketReference
	aux := struct {
		*alias
		MarketID decimal `json:"market_id"`
	}{(*alias)(m), decimal{&m.MarketID}}
	return json.Unmarshal(data, &aux)
}

// AttestationCalldata is a ready-to-send call description. It is consumed by
// an external signer/broadcaster and is never mutated after Build returns it.
type AttestationCalldata struct {
	Target           common.Address  `json:"target"`
	Data             hexutil.Bytes   `json:"data"`
	ValueWei         *big.Int        `json:"value_wei"`
	ChainID          uint64          `json:"chain_id"`
	HumanDescription string          `json:"human_description"`
	EncodedPrice     *big.Int        `json:"encoded_price"`
	Probability      float64         `json:"probability"`
	Market           MarketReference `json:"market"`
}

// MarshalJSON writes value_wei and encoded_price as decimal strings.
func (c AttestationCalldata) MarshalJSON() ([]byte, error) {
	type alias AttestationCalldata
	return json.Marshal(struct {
		alias
		ValueWei     decimal `json:"value_wei"`
		EncodedPrice decimal `json:"encoded_price"`
	}{alias(c), decimal{&c.ValueWei}, decimal{&c.EncodedPrice}})
}

// UnmarshalJSON is the inverse of MarshalJSON; JSON numbers are accepted too.
func (c *AttestationCalldata) UnmarshalJSON(data []byte) error {
	type alias AttestationCalldata
	aux := struct {
		*alias
		ValueWei     decimal `json:"value_wei"`
		EncodedPrice decimal `json:"encoded_price"`
	}{(*alias)(c), decimal{&c.ValueWei}, decimal{&c.EncodedPrice}}
	return json.Unmarshal(data, &aux)
}

// decimal carries a *big.Int through JSON as a quoted base-10 string. Encoded
// prices exceed 2^53 and do not survive float64 JSON decoders as numbers.
type decimal struct {
	v **big.Int
}

func (d decimal) MarshalJSON() ([]byte, error) {
	if *d.v == nil {
		return []byte("null"), nil
	}
	return strconv.AppendQuote(nil, (*d.v).String()), nil
}

func (d decimal) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" {
		*d.v = nil
		return nil
	}
	if unq, err := strconv.Unquote(s); err == nil {
		s = unq
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return fmt.Errorf("domain: %q is not a decimal integer", s)
	}
	*d.v = v
	return nil
}

// Decision is the outcome of a re-attestation check.
type Decision string

const (
	DecisionFirst     Decision = "first"     // no prior attestation known
	DecisionReattest  Decision = "reattest"  // change exceeded the threshold
	DecisionAmbiguous Decision = "ambiguous" // prior value unreadable; attesting conservatively
	DecisionSkipped   Decision = "skipped"   // change below the threshold
)

// AttestationRecord is a persisted, built attestation.
type AttestationRecord struct {
	ID               string
	ChainID          uint64
	Market           MarketReference
	Probability      float64
	EncodedPrice     *big.Int
	PreviousEncoded  *big.Int // nil on first attestation
	Comment          string
	Target           common.Address
	Calldata         []byte
	HumanDescription string
	Decision         Decision
	CreatedAt        time.Time
}
