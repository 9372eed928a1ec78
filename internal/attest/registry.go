package attest

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/predictattest/internal/domain"
)

// ChainEntry describes the EAS deployment used on one chain.
type ChainEntry struct {
	ChainID   uint64
	Name      string
	Contract  common.Address
	SchemaUID common.Hash
}

// ChainRegistry maps chain ids to attestation contracts. It is immutable once
// built and safe for concurrent use.
type ChainRegistry struct {
	entries map[uint64]ChainEntry
}

// DefaultSchemaUID is the EAS schema UID of SchemaDefinition registered
// without a resolver and as non-revocable:
//
//	keccak256(abi.encodePacked(schema, resolver, revocable))
var DefaultSchemaUID = SchemaUID(SchemaDefinition, common.Address{}, false)

// predeploy address of EAS on OP-stack chains.
var opStackEAS = common.HexToAddress("0x4200000000000000000000000000000000000021")

var defaultChains = []ChainEntry{
	{ChainID: 1, Name: "ethereum", Contract: common.HexToAddress("0xA1207F3BBa224E2c9c3c6D5aF63D0eb1582Ce587")},
	{ChainID: 10, Name: "optimism", Contract: opStackEAS},
	{ChainID: 8453, Name: "base", Contract: opStackEAS},
	{ChainID: 42161, Name: "arbitrum", Contract: common.HexToAddress("0xbD75f629A22Dc1ceD33dDA0b68c546A1c035c458")},
	{ChainID: 84532, Name: "base-sepolia", Contract: opStackEAS},
	{ChainID: 11155111, Name: "sepolia", Contract: common.HexToAddress("0xC2679fBD37d54388Ce493F1DB75320D236e1815e")},
}

// SchemaUID computes the EAS schema registry UID for a schema string.
func SchemaUID(schema string, resolver common.Address, revocable bool) common.Hash {
	flag := byte(0)
	if revocable {
		flag = 1
	}
	return ethcrypto.Keccak256Hash([]byte(schema), resolver.Bytes(), []byte{flag})
}

// NewChainRegistry builds a registry from the given entries. Later entries
// replace earlier ones with the same chain id; a zero SchemaUID is filled in
// with DefaultSchemaUID.
func NewChainRegistry(entries ...ChainEntry) *ChainRegistry {
	r := &ChainRegistry{entries: make(map[uint64]ChainEntry, len(entries))}
	for _, e := range entries {
		if e.SchemaUID == (common.Hash{}) {
			e.SchemaUID = DefaultSchemaUID
		}
		r.entries[e.ChainID] = e
	}
	return r
}

// DefaultChainRegistry returns the built-in EAS deployments.
func DefaultChainRegistry() *ChainRegistry {
	return NewChainRegistry(defaultChains...)
}

// With returns a copy of r with the given entries added or replaced.
func (r *ChainRegistry) With(entries ...ChainEntry) *ChainRegistry {
	merged := make([]ChainEntry, 0, len(r.entries)+len(entries))
	merged = append(merged, r.Entries()...)
	merged = append(merged, entries...)
	return NewChainRegistry(merged...)
}

// Lookup returns the deployment for chainID or domain.ErrUnsupportedChain.
func (r *ChainRegistry) Lookup(chainID uint64) (ChainEntry, error) {
	e, ok := r.entries[chainID]
	if !ok {
		return ChainEntry{}, fmt.Errorf("attest: chain %d: %w", chainID, domain.ErrUnsupportedChain)
	}
	return e, nil
}

// Entries returns all deployments ordered by chain id.
func (r *ChainRegistry) Entries() []ChainEntry {
	out := make([]ChainEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChainID < out[j].ChainID })
	return out
}
