package attest

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictattest/internal/domain"
)

func TestBuild_Base(t *testing.T) {
	b := NewBuilder(nil)

	cd, err := b.Build(testMarket(), 68, "btc momentum strong", 8453)
	require.NoError(t, err)
	require.NotNil(t, cd)

	base, err := DefaultChainRegistry().Lookup(8453)
	require.NoError(t, err)

	assert.Equal(t, "Attest: 68% YES for market 147", cd.HumanDescription)
	assert.Equal(t, base.Contract, cd.Target)
	assert.Equal(t, common.HexToAddress("0x4200000000000000000000000000000000000021"), cd.Target)
	assert.Equal(t, uint64(8453), cd.ChainID)
	assert.Equal(t, 0, cd.ValueWei.Sign())

	wantSelector := ethcrypto.Keccak256([]byte("attest((bytes32,(address,uint64,bool,bytes32,bytes,uint256)))"))[:4]
	assert.Equal(t, wantSelector, []byte(cd.Data[:4]))

	req, err := DecodeAttestCall(cd.Data)
	require.NoError(t, err)
	assert.Equal(t, [32]byte(base.SchemaUID), req.Schema)
	assert.Equal(t, common.Address{}, req.Data.Recipient)
	assert.Zero(t, req.Data.ExpirationTime)
	assert.False(t, req.Data.Revocable)
	assert.Equal(t, [32]byte{}, req.Data.RefUID)
	assert.Equal(t, 0, req.Data.Value.Sign())

	payload, err := DecodePayload(req.Data.Data)
	require.NoError(t, err)
	assert.Equal(t, "btc momentum strong", payload.Comment)
	assert.Equal(t, 0, payload.EncodedPrice.Cmp(cd.EncodedPrice))
	assert.Equal(t, testMarket().Address, payload.Market.Address)
}

func TestBuild_UnsupportedChain(t *testing.T) {
	cd, err := NewBuilder(nil).Build(testMarket(), 68, "btc momentum strong", 999999)
	assert.Nil(t, cd)
	assert.ErrorIs(t, err, domain.ErrUnsupportedChain)
	assert.NotErrorIs(t, err, domain.ErrEncoding)
}

func TestBuild_PropagatesInputErrors(t *testing.T) {
	b := NewBuilder(nil)

	_, err := b.Build(testMarket(), 101, "", 8453)
	assert.ErrorIs(t, err, domain.ErrDomain)

	bad := testMarket()
	bad.MarketID = big.NewInt(-5)
	_, err = b.Build(bad, 50, "", 8453)
	assert.ErrorIs(t, err, domain.ErrEncoding)
}

func TestBuild_Deterministic(t *testing.T) {
	b := NewBuilder(nil)
	a, err := b.Build(testMarket(), 33.3, "same", 10)
	require.NoError(t, err)
	c, err := b.Build(testMarket(), 33.3, "same", 10)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(a.Data, c.Data))
	assert.Equal(t, a.HumanDescription, c.HumanDescription)
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "Attest: 68% YES for market 147", Describe(68, big.NewInt(147)))
	assert.Equal(t, "Attest: 12.5% YES for market 3", Describe(12.5, big.NewInt(3)))
	assert.Equal(t, "Attest: 0% YES for market 0", Describe(0, big.NewInt(0)))
}

func TestChainRegistry(t *testing.T) {
	reg := DefaultChainRegistry()

	_, err := reg.Lookup(999999)
	assert.ErrorIs(t, err, domain.ErrUnsupportedChain)

	custom := common.HexToAddress("0x00000000000000000000000000000000000000ff")
	uid := common.HexToHash("0xbeef")
	merged := reg.With(ChainEntry{ChainID: 999999, Name: "devnet", Contract: custom, SchemaUID: uid})

	e, err := merged.Lookup(999999)
	require.NoError(t, err)
	assert.Equal(t, custom, e.Contract)
	assert.Equal(t, uid, e.SchemaUID)

	// The original registry is untouched.
	_, err = reg.Lookup(999999)
	assert.ErrorIs(t, err, domain.ErrUnsupportedChain)

	entries := merged.Entries()
	for i := 1; i < len(entries); i++ {
		assert.Less(t, entries[i-1].ChainID, entries[i].ChainID)
	}
}

func TestSchemaUID(t *testing.T) {
	want := ethcrypto.Keccak256Hash(
		append(append([]byte(SchemaDefinition), make([]byte, 20)...), 0x00),
	)
	assert.Equal(t, want, DefaultSchemaUID)
	assert.NotEqual(t, DefaultSchemaUID, SchemaUID(SchemaDefinition, common.Address{}, true))
}

func TestDecodeAttestCall_RejectsForeignSelector(t *testing.T) {
	_, err := DecodeAttestCall([]byte{0xde, 0xad, 0xbe, 0xef})
	assert.ErrorIs(t, err, domain.ErrDecodeAmbiguous)
}
