package app

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/alanyoungcy/predictattest/internal/attest"
	"github.com/alanyoungcy/predictattest/internal/config"
)

// ChainRegistry returns the built-in deployments overlaid with the
// [[attest.chains]] entries from cfg.
func ChainRegistry(cfg *config.Config) (*attest.ChainRegistry, error) {
	reg := attest.DefaultChainRegistry()
	if len(cfg.Attest.Chains) == 0 {
		return reg, nil
	}

	entries := make([]attest.ChainEntry, 0, len(cfg.Attest.Chains))
	for _, ch := range cfg.Attest.Chains {
		if !common.IsHexAddress(ch.Contract) {
			return nil, fmt.Errorf("app: chain %d: contract %q is not a hex address", ch.ChainID, ch.Contract)
		}
		e := attest.ChainEntry{
			ChainID:  ch.ChainID,
			Name:     ch.Name,
			Contract: common.HexToAddress(ch.Contract),
		}
		if ch.SchemaUID != "" {
			uid, err := hexutil.Decode(ch.SchemaUID)
			if err != nil || len(uid) != common.HashLength {
				return nil, fmt.Errorf("app: chain %d: schema uid %q is not 0x-prefixed 32-byte hex", ch.ChainID, ch.SchemaUID)
			}
			e.SchemaUID = common.BytesToHash(uid)
		}
		entries = append(entries, e)
	}
	return reg.With(entries...), nil
}
