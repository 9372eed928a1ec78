// Package eas queries an EAS GraphQL indexer (easscan.org or a self-hosted
// instance) for attestations previously made against the prediction schema.
package eas

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/alanyoungcy/predictattest/internal/attest"
	"github.com/alanyoungcy/predictattest/internal/domain"
)

const (
	defaultTimeout  = 30 * time.Second
	defaultLookback = 500
	maxPageSize     = 100
)

// Client is a GraphQL client for an EAS indexer endpoint, e.g.
// "https://base.easscan.org/graphql".
type Client struct {
	graphqlURL string
	apiKey     string
	lookback   int
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates an indexer client. lookback bounds how many of the
// newest schema attestations are scanned per lookup; they are fetched in
// pages of at most 100.
func NewClient(graphqlURL, apiKey string, lookback int, logger *slog.Logger) *Client {
	if lookback < 1 {
		lookback = defaultLookback
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		graphqlURL: graphqlURL,
		apiKey:     strings.TrimSpace(apiKey),
		lookback:   lookback,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger.With(slog.String("component", "eas")),
	}
}

// Filter narrows an attestation query. Zero fields match anything.
type Filter struct {
	SchemaUID common.Hash
	Attester  common.Address
	// Market restricts results to payloads whose first two ABI words are
	// the market address and id.
	Market *domain.MarketReference
}

// Attestation is one indexed attestation.
type Attestation struct {
	UID         common.Hash
	Attester    common.Address
	Data        []byte
	TimeCreated time.Time
	Revoked     bool
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

const attestationsQuery = `
	query Attestations($where: AttestationWhereInput, $take: Int!, $skip: Int!) {
		attestations(where: $where, orderBy: [{ timeCreated: desc }], take: $take, skip: $skip) {
			id
			attester
			data
			timeCreated
			revoked
		}
	}
`

// FetchAttestations returns one page of attestations matching f, newest
// first.
func (c *Client) FetchAttestations(ctx context.Context, f Filter, skip, take int) ([]Attestation, error) {
	where := map[string]any{
		"schemaId": map[string]any{"equals": f.SchemaUID.Hex()},
	}
	if f.Attester != (common.Address{}) {
		where["attester"] = map[string]any{"equals": f.Attester.Hex()}
	}
	if f.Market != nil {
		if head, ok := marketHead(*f.Market); ok {
			where["data"] = map[string]any{"startsWith": hexutil.Encode(head)}
		}
	}

	data, err := c.doQuery(ctx, attestationsQuery, map[string]any{
		"where": where,
		"take":  take,
		"skip":  skip,
	})
	if err != nil {
		return nil, fmt.Errorf("eas: fetch attestations: %w", err)
	}

	var result struct {
		Attestations []struct {
			ID          string `json:"id"`
			Attester    string `json:"attester"`
			Data        string `json:"data"`
			TimeCreated int64  `json:"timeCreated"`
			Revoked     bool   `json:"revoked"`
		} `json:"attestations"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("eas: decode attestations: %w", err)
	}

	out := make([]Attestation, 0, len(result.Attestations))
	for _, a := range result.Attestations {
		raw, err := hexutil.Decode(a.Data)
		if err != nil {
			// Kept with empty data so the caller can tell it apart from a miss.
			raw = nil
		}
		out = append(out, Attestation{
			UID:         common.HexToHash(a.ID),
			Attester:    common.HexToAddress(a.Attester),
			Data:        raw,
			TimeCreated: time.Unix(a.TimeCreated, 0).UTC(),
			Revoked:     a.Revoked,
		})
	}
	return out, nil
}

// LatestPrediction returns the encoded price of the newest non-revoked
// attestation about market, paging back through at most lookback
// attestations. Undecodable entries are skipped. It returns
// domain.ErrDecodeAmbiguous only when no well-formed match exists and an
// undecodable entry carries the market's address and id in its head, and
// domain.ErrNotFound otherwise.
func (c *Client) LatestPrediction(ctx context.Context, schemaUID common.Hash, attester common.Address, market domain.MarketReference) (*big.Int, time.Time, error) {
	head, _ := marketHead(market)
	f := Filter{SchemaUID: schemaUID, Attester: attester, Market: &market}

	var skipped, suspect int
	for scanned := 0; scanned < c.lookback; {
		take := min(maxPageSize, c.lookback-scanned)
		atts, err := c.FetchAttestations(ctx, f, scanned, take)
		if err != nil {
			return nil, time.Time{}, err
		}
		scanned += len(atts)

		for _, a := range atts {
			if a.Revoked {
				continue
			}
			p, err := attest.DecodePayload(a.Data)
			if err != nil {
				skipped++
				if head != nil && bytes.HasPrefix(a.Data, head) {
					suspect++
				}
				continue
			}
			if p.Market.Address != market.Address || market.MarketID == nil || p.Market.MarketID.Cmp(market.MarketID) != 0 {
				continue
			}
			if skipped > 0 {
				c.logger.Debug("skipped undecodable attestations",
					slog.Int("count", skipped), slog.String("schema", schemaUID.Hex()))
			}
			return p.EncodedPrice, a.TimeCreated, nil
		}
		if len(atts) < take {
			break
		}
	}

	if skipped > 0 {
		c.logger.Warn("undecodable attestations skipped",
			slog.Int("count", skipped),
			slog.Int("for_market", suspect),
			slog.String("schema", schemaUID.Hex()),
			slog.String("market", market.Address.Hex()),
		)
	}
	if suspect > 0 {
		return nil, time.Time{}, fmt.Errorf("eas: %d undecodable attestations for market %s: %w", suspect, market.Address.Hex(), domain.ErrDecodeAmbiguous)
	}
	return nil, time.Time{}, domain.ErrNotFound
}

// marketHead is the 64-byte ABI prefix every payload about market starts
// with: the left-padded address followed by the uint256 market id.
func marketHead(market domain.MarketReference) ([]byte, bool) {
	id := market.MarketID
	if id == nil || id.Sign() < 0 || id.BitLen() > 256 {
		return nil, false
	}
	head := make([]byte, 0, 2*common.HashLength)
	head = append(head, common.LeftPadBytes(market.Address.Bytes(), common.HashLength)...)
	head = append(head, common.LeftPadBytes(id.Bytes(), common.HashLength)...)
	return head, true
}

// doQuery posts a GraphQL request and returns the raw "data" field.
func (c *Client) doQuery(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return nil, fmt.Errorf("marshal graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphqlURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var gql graphqlResponse
	if err := json.Unmarshal(respBody, &gql); err != nil {
		return nil, fmt.Errorf("decode graphql response: %w", err)
	}
	if len(gql.Errors) > 0 {
		msgs := make([]error, len(gql.Errors))
		for i, e := range gql.Errors {
			msgs[i] = errors.New(e.Message)
		}
		return nil, fmt.Errorf("graphql: %w", errors.Join(msgs...))
	}
	return gql.Data, nil
}
