package app

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictattest/internal/attest"
	"github.com/alanyoungcy/predictattest/internal/config"
	"github.com/alanyoungcy/predictattest/internal/domain"
)

func TestChainRegistry_Defaults(t *testing.T) {
	cfg := config.Defaults()
	reg, err := ChainRegistry(&cfg)
	require.NoError(t, err)

	e, err := reg.Lookup(8453)
	require.NoError(t, err)
	assert.Equal(t, attest.DefaultSchemaUID, e.SchemaUID)

	_, err = reg.Lookup(5)
	assert.ErrorIs(t, err, domain.ErrUnsupportedChain)
}

func TestChainRegistry_Overrides(t *testing.T) {
	schema := "0x" + strings.Repeat("ab", 32)
	cfg := config.Defaults()
	cfg.Attest.Chains = []config.ChainConfig{
		{ChainID: 8453, Name: "base-custom", Contract: "0x00000000000000000000000000000000000000c1", SchemaUID: schema},
		{ChainID: 31337, Name: "anvil", Contract: "0x00000000000000000000000000000000000000c2"},
	}

	reg, err := ChainRegistry(&cfg)
	require.NoError(t, err)

	base, err := reg.Lookup(8453)
	require.NoError(t, err)
	assert.Equal(t, "base-custom", base.Name)
	assert.Equal(t, common.HexToHash(schema), base.SchemaUID)

	anvil, err := reg.Lookup(31337)
	require.NoError(t, err)
	assert.Equal(t, attest.DefaultSchemaUID, anvil.SchemaUID)

	// untouched defaults survive
	_, err = reg.Lookup(1)
	assert.NoError(t, err)
}

func TestChainRegistry_BadContract(t *testing.T) {
	cfg := config.Defaults()
	cfg.Attest.Chains = []config.ChainConfig{{ChainID: 7, Contract: "not-an-address"}}

	_, err := ChainRegistry(&cfg)
	assert.Error(t, err)
}

func TestChainRegistry_BadSchemaUID(t *testing.T) {
	tests := []struct {
		name string
		uid  string
	}{
		{"33 bytes", "0xff" + strings.Repeat("00", 31) + "01"},
		{"31 bytes", "0x" + strings.Repeat("ab", 31)},
		{"no prefix", strings.Repeat("ab", 32)},
		{"not hex", "0x" + strings.Repeat("zz", 32)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Defaults()
			cfg.Attest.Chains = []config.ChainConfig{{
				ChainID:   31337,
				Contract:  "0x00000000000000000000000000000000000000c2",
				SchemaUID: tt.uid,
			}}

			_, err := ChainRegistry(&cfg)
			assert.ErrorContains(t, err, "schema uid")
		})
	}
}
