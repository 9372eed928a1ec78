package attest

import (
	"fmt"
	"math/big"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/predictattest/internal/domain"
)

const (
	// MaxCommentLength is the longest comment, in characters, stored as-is.
	MaxCommentLength = 180

	// EllipsisMarker replaces the tail of an over-long comment.
	EllipsisMarker = "..."

	// SchemaDefinition is the EAS schema string of the attestation payload.
	// Field order and types are fixed by the verifier contract.
	SchemaDefinition = "address marketAddress,uint256 marketId,bytes32 questionId,uint160 prediction,string comment"
)

var uint256Bound = new(big.Int).Lsh(big.NewInt(1), 256)

// payloadArgs mirrors SchemaDefinition.
var payloadArgs = abi.Arguments{
	{Name: "marketAddress", Type: mustType("address")},
	{Name: "marketId", Type: mustType("uint256")},
	{Name: "questionId", Type: mustType("bytes32")},
	{Name: "prediction", Type: mustType("uint160")},
	{Name: "comment", Type: mustType("string")},
}

// Payload is a decoded attestation payload.
type Payload struct {
	Market       domain.MarketReference
	EncodedPrice *big.Int
	Comment      string
}

// TruncateComment shortens comments longer than MaxCommentLength characters
// to exactly MaxCommentLength, the last three being EllipsisMarker.
func TruncateComment(comment string) string {
	if utf8.RuneCountInString(comment) <= MaxCommentLength {
		return comment
	}
	keep := MaxCommentLength - utf8.RuneCountInString(EllipsisMarker)
	// Cut on the byte offset of the keep-th character so invalid UTF-8 in
	// the kept prefix survives unchanged.
	end := 0
	for i := 0; i < keep; i++ {
		_, size := utf8.DecodeRuneInString(comment[end:])
		end += size
	}
	return comment[:end] + EllipsisMarker
}

// EncodePayload ABI-encodes (marketAddress, marketId, questionId, prediction,
// comment). The comment is truncated before encoding.
func EncodePayload(market domain.MarketReference, encodedPrice *big.Int, comment string) ([]byte, error) {
	if market.MarketID == nil {
		return nil, fmt.Errorf("attest: market id is nil: %w", domain.ErrEncoding)
	}
	if market.MarketID.Sign() < 0 {
		return nil, fmt.Errorf("attest: market id %s is negative: %w", market.MarketID, domain.ErrEncoding)
	}
	if market.MarketID.Cmp(uint256Bound) >= 0 {
		return nil, fmt.Errorf("attest: market id %s exceeds 256 bits: %w", market.MarketID, domain.ErrEncoding)
	}
	if err := ValidateEncodedPrice(encodedPrice); err != nil {
		return nil, fmt.Errorf("attest: payload prediction: %w: %w", domain.ErrEncoding, err)
	}

	data, err := payloadArgs.Pack(
		market.Address,
		market.MarketID,
		[32]byte(market.QuestionID),
		encodedPrice,
		TruncateComment(comment),
	)
	if err != nil {
		return nil, fmt.Errorf("attest: pack payload: %w: %w", domain.ErrEncoding, err)
	}
	return data, nil
}

// DecodePayload is the inverse of EncodePayload. Data that does not unpack
// into the schema is reported as domain.ErrDecodeAmbiguous.
func DecodePayload(data []byte) (Payload, error) {
	values, err := payloadArgs.Unpack(data)
	if err != nil {
		return Payload{}, fmt.Errorf("attest: unpack payload: %w: %w", domain.ErrDecodeAmbiguous, err)
	}
	if len(values) != len(payloadArgs) {
		return Payload{}, fmt.Errorf("attest: unpack payload: got %d fields: %w", len(values), domain.ErrDecodeAmbiguous)
	}

	addr, ok1 := values[0].(common.Address)
	marketID, ok2 := values[1].(*big.Int)
	questionID, ok3 := values[2].([32]byte)
	prediction, ok4 := values[3].(*big.Int)
	comment, ok5 := values[4].(string)
	if !(ok1 && ok2 && ok3 && ok4 && ok5) {
		return Payload{}, fmt.Errorf("attest: unpack payload: unexpected field types: %w", domain.ErrDecodeAmbiguous)
	}

	return Payload{
		Market: domain.MarketReference{
			Address:    addr,
			MarketID:   marketID,
			QuestionID: common.Hash(questionID),
		},
		EncodedPrice: prediction,
		Comment:      comment,
	}, nil
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(fmt.Sprintf("attest: abi type %s: %v", t, err))
	}
	return typ
}
