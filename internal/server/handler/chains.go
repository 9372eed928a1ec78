package handler

import (
	"net/http"

	"github.com/alanyoungcy/predictattest/internal/attest"
)

// ChainHandler lists the chains calldata can be built for.
type ChainHandler struct {
	registry       *attest.ChainRegistry
	defaultChainID uint64
}

// NewChainHandler creates a ChainHandler.
func NewChainHandler(registry *attest.ChainRegistry, defaultChainID uint64) *ChainHandler {
	return &ChainHandler{registry: registry, defaultChainID: defaultChainID}
}

type chainView struct {
	ChainID   uint64 `json:"chain_id"`
	Name      string `json:"name"`
	Contract  string `json:"contract"`
	SchemaUID string `json:"schema_uid"`
	Default   bool   `json:"default,omitempty"`
}

// ListChains returns every registered chain ordered by id.
// GET /api/chains
func (h *ChainHandler) ListChains(w http.ResponseWriter, _ *http.Request) {
	entries := h.registry.Entries()
	out := make([]chainView, len(entries))
	for i, e := range entries {
		out[i] = chainView{
			ChainID:   e.ChainID,
			Name:      e.Name,
			Contract:  e.Contract.Hex(),
			SchemaUID: e.SchemaUID.Hex(),
			Default:   e.ChainID == h.defaultChainID,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"schema": attest.SchemaDefinition,
		"chains": out,
	})
}
