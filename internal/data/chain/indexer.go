package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"supravault/internal/core/errors"
	"supravault/internal/engine/model"

	"github.com/spf13/cast"
)

const accountTransactionsQuery = `query AccountTransactions($address: String!, $limit: Int!) {
  account_transactions(
    where: {account_address: {_eq: $address}}
    order_by: {transaction_version: desc}
    limit: $limit
  ) {
    hash
    transaction_version
    timestamp
    entry_function_id_str
  }
}`

const assetFactsQuery = `query AssetFacts($asset: String!) {
  fungible_asset_metadata(where: {asset_type: {_eq: $asset}}) {
    asset_type
    creator_address
    supply_v2
    maximum_v2
    mint_capability
  }
}`

// IndexerClient queries a GraphQL indexer for transactions and independent
// asset facts.
type IndexerClient struct {
	endpoint string
	name     string
	t        *transport
}

func NewIndexerClient(endpoint, name string, opts TransportOptions) (*IndexerClient, error) {
	endpoint = strings.TrimSpace(endpoint)
	if u, err := url.Parse(endpoint); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.Newf(errors.CodeValidationError, "invalid indexer url %q", endpoint)
	}
	if name == "" {
		name = "indexer"
	}
	return &IndexerClient{endpoint: endpoint, name: name, t: newTransport(opts)}, nil
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphqlError struct {
	Message string `json:"message"`
}

func (c *IndexerClient) query(ctx context.Context, op, query string, vars map[string]any) ([]byte, error) {
	payload, err := json.Marshal(graphqlRequest{Query: query, Variables: vars})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "encode graphql request")
	}
	body, err := c.t.do(ctx, "indexer_"+op, http.MethodPost, c.endpoint, payload)
	if err != nil {
		return nil, err
	}
	var envelope struct {
		Errors []graphqlError `json:"errors"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, errors.Wrap(err, errors.CodeDecode, "decode graphql response")
	}
	if len(envelope.Errors) > 0 {
		msgs := make([]string, 0, len(envelope.Errors))
		for _, e := range envelope.Errors {
			msgs = append(msgs, e.Message)
		}
		return nil, errors.Newf(errors.CodeUpstream, "graphql: %s", strings.Join(msgs, "; "))
	}
	return body, nil
}

// IndexerTransactions returns the raw GraphQL body; the sampler's envelope
// decoder unwraps data.account_transactions.
func (c *IndexerClient) IndexerTransactions(ctx context.Context, address string, limit int) ([]byte, error) {
	if limit <= 0 {
		limit = 25
	}
	body, err := c.query(ctx, "transactions", accountTransactionsQuery, map[string]any{
		"address": model.PadAddress(address),
		"limit":   limit,
	})
	if err != nil {
		return nil, errors.AddContext(err, errors.CtxAddress, address)
	}
	return body, nil
}

// AssetFacts reports the indexer's owner, supply and mint capability view.
// Fields the indexer leaves null stay nil.
func (c *IndexerClient) AssetFacts(ctx context.Context, kind model.AssetKind, assetID string) (model.IndexerFacts, error) {
	asset := strings.TrimSpace(assetID)
	if kind == model.KindFA {
		asset = model.PadAddress(asset)
	}
	body, err := c.query(ctx, "asset_facts", assetFactsQuery, map[string]any{"asset": asset})
	if err != nil {
		return model.IndexerFacts{}, errors.AddContext(err, errors.CtxAddress, assetID)
	}
	var resp struct {
		Data struct {
			Metadata []map[string]any `json:"fungible_asset_metadata"`
		} `json:"data"`
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&resp); err != nil {
		return model.IndexerFacts{}, errors.Wrap(err, errors.CodeDecode, "decode asset facts")
	}
	if len(resp.Data.Metadata) == 0 {
		return model.IndexerFacts{}, errors.Newf(errors.CodeNotFound, "indexer has no metadata for %s", assetID)
	}
	row := resp.Data.Metadata[0]
	facts := model.IndexerFacts{Source: c.name}
	if owner := cast.ToString(row["creator_address"]); owner != "" {
		facts.Owner = &owner
	}
	if supply, err := cast.ToStringE(row["supply_v2"]); err == nil && supply != "" {
		facts.Supply = &supply
	}
	if v, ok := row["mint_capability"]; ok && v != nil {
		if b, err := cast.ToBoolE(v); err == nil {
			facts.HasMintCap = &b
		}
	}
	return facts, nil
}
