package attest

import (
	"bytes"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/predictattest/internal/domain"
)

// easABI is the attest entry point of the EAS contract.
const easABI = `[{
	"name": "attest",
	"type": "function",
	"stateMutability": "payable",
	"inputs": [{
		"name": "request",
		"type": "tuple",
		"components": [
			{"name": "schema", "type": "bytes32"},
			{"name": "data", "type": "tuple", "components": [
				{"name": "recipient", "type": "address"},
				{"name": "expirationTime", "type": "uint64"},
				{"name": "revocable", "type": "bool"},
				{"name": "refUID", "type": "bytes32"},
				{"name": "data", "type": "bytes"},
				{"name": "value", "type": "uint256"}
			]}
		]
	}],
	"outputs": [{"name": "", "type": "bytes32"}]
}]`

var easContract = mustParseABI(easABI)

// AttestationRequest is the EAS AttestationRequest struct.
type AttestationRequest struct {
	Schema [32]byte
	Data   AttestationRequestData
}

// AttestationRequestData is the EAS AttestationRequestData struct.
type AttestationRequestData struct {
	Recipient      common.Address
	ExpirationTime uint64
	Revocable      bool
	RefUID         [32]byte
	Data           []byte
	Value          *big.Int
}

// Builder assembles attest calldata for a registered chain.
type Builder struct {
	registry *ChainRegistry
}

// NewBuilder creates a Builder. A nil registry means DefaultChainRegistry.
func NewBuilder(registry *ChainRegistry) *Builder {
	if registry == nil {
		registry = DefaultChainRegistry()
	}
	return &Builder{registry: registry}
}

// Registry returns the builder's chain registry.
func (b *Builder) Registry() *ChainRegistry {
	return b.registry
}

// Build encodes probability, packs the payload with reasoning as the comment
// and wraps it in an EAS attest call for chainID. Attestations never expire,
// are not revocable, have no recipient, no refUID and carry no value.
//
// An unregistered chain yields a nil calldata and an error wrapping
// domain.ErrUnsupportedChain; the caller may retry with another chain.
func (b *Builder) Build(market domain.MarketReference, probability float64, reasoning string, chainID uint64) (*domain.AttestationCalldata, error) {
	encoded, err := EncodePrice(probability)
	if err != nil {
		return nil, err
	}

	payload, err := EncodePayload(market, encoded, reasoning)
	if err != nil {
		return nil, err
	}

	entry, err := b.registry.Lookup(chainID)
	if err != nil {
		return nil, err
	}

	req := AttestationRequest{
		Schema: entry.SchemaUID,
		Data: AttestationRequestData{
			Recipient:      common.Address{},
			ExpirationTime: 0,
			Revocable:      false,
			RefUID:         [32]byte{},
			Data:           payload,
			Value:          new(big.Int),
		},
	}
	data, err := easContract.Pack("attest", req)
	if err != nil {
		return nil, fmt.Errorf("attest: pack attest call: %w: %w", domain.ErrEncoding, err)
	}

	return &domain.AttestationCalldata{
		Target:           entry.Contract,
		Data:             data,
		ValueWei:         new(big.Int),
		ChainID:          chainID,
		HumanDescription: Describe(probability, market.MarketID),
		EncodedPrice:     encoded,
		Probability:      probability,
		Market:           market,
	}, nil
}

// Describe formats the display line shown next to a calldata.
func Describe(probability float64, marketID *big.Int) string {
	return fmt.Sprintf("Attest: %s%% YES for market %s",
		strconv.FormatFloat(probability, 'f', -1, 64), marketID)
}

// DecodeAttestCall unpacks calldata produced by Build.
func DecodeAttestCall(data []byte) (AttestationRequest, error) {
	method := easContract.Methods["attest"]
	if len(data) < 4 || !bytes.Equal(data[:4], method.ID) {
		return AttestationRequest{}, fmt.Errorf("attest: not an attest call: %w", domain.ErrDecodeAmbiguous)
	}
	values, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return AttestationRequest{}, fmt.Errorf("attest: unpack attest call: %w: %w", domain.ErrDecodeAmbiguous, err)
	}
	if len(values) != 1 {
		return AttestationRequest{}, fmt.Errorf("attest: unpack attest call: got %d args: %w", len(values), domain.ErrDecodeAmbiguous)
	}
	req := *abi.ConvertType(values[0], new(AttestationRequest)).(*AttestationRequest)
	return req, nil
}

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("attest: parse abi: %v", err))
	}
	return parsed
}
