// Package aggregator talks to the third-party liquidity-routing API and
// adapts it into a Provider.
package aggregator

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	clierr "github.com/ggonzalez94/defi-tokens/internal/errors"
	"github.com/ggonzalez94/defi-tokens/internal/httpx"
	"github.com/ggonzalez94/defi-tokens/internal/id"
	"github.com/ggonzalez94/defi-tokens/internal/model"
	"github.com/ggonzalez94/defi-tokens/internal/registry"
)

const DefaultProtocol = "yearn"

type Client struct {
	http    *httpx.Client
	baseURL string
	apiKey  string
	network string
	chainID int64
	now     func() time.Time
}

func New(httpClient *httpx.Client, baseURL, apiKey string, chainID int64) (*Client, error) {
	network, ok := registry.AggregatorNetwork(chainID)
	if !ok {
		return nil, clierr.UnsupportedNetwork(chainID)
	}
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = registry.AggregatorBaseURL
	}
	if !registry.IsAllowedEndpoint(base) {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("aggregator url %q must use https", base))
	}
	return &Client{
		http:    httpClient,
		baseURL: base,
		apiKey:  strings.TrimSpace(apiKey),
		network: network,
		chainID: chainID,
		now:     time.Now,
	}, nil
}

type priceResp struct {
	Address  string          `json:"address"`
	Symbol   string          `json:"symbol"`
	Name     string          `json:"name"`
	Decimals int             `json:"decimals"`
	Price    decimal.Decimal `json:"price"`
	Hide     bool            `json:"hide"`
}

// SupportedTokens lists every token the router can trade, with prices.
func (c *Client) SupportedTokens(ctx context.Context) ([]model.Token, error) {
	var resp []priceResp
	if err := c.get(ctx, "/v1/prices", nil, &resp); err != nil {
		return nil, err
	}
	out := make([]model.Token, 0, len(resp))
	for _, item := range resp {
		if item.Hide || !id.IsAddress(item.Address) {
			continue
		}
		name := item.Name
		if name == "" {
			name = item.Symbol
		}
		token := model.Token{
			Address:     id.NormalizeAddress(item.Address),
			Symbol:      item.Symbol,
			Name:        name,
			Decimals:    item.Decimals,
			DataSources: []model.DataSource{model.SourceAggregator},
		}
		if !item.Price.IsZero() {
			token.PriceUSD = item.Price.String()
		}
		out = append(out, token)
	}
	return out, nil
}

// PriceOf returns the router's USD price for one token.
func (c *Client) PriceOf(ctx context.Context, address string) (string, error) {
	tokens, err := c.SupportedTokens(ctx)
	if err != nil {
		return "", err
	}
	addr := id.NormalizeAddress(address)
	for _, t := range tokens {
		if t.Address == addr && t.PriceUSD != "" {
			return t.PriceUSD, nil
		}
	}
	return "", clierr.New(clierr.CodeUnsupported, fmt.Sprintf("aggregator has no price for %s", addr))
}

type balanceAsset struct {
	Address    string `json:"address"`
	BalanceRaw string `json:"balanceRaw"`
}

type balanceProduct struct {
	Label  string         `json:"label"`
	Assets []balanceAsset `json:"assets"`
}

type balanceResp map[string]struct {
	Products []balanceProduct `json:"products"`
}

// Balances returns the wallet token balances the router sees for account.
func (c *Client) Balances(ctx context.Context, account string) ([]model.RawBalance, error) {
	owner := id.NormalizeAddress(account)
	var resp balanceResp
	q := url.Values{"addresses[]": {owner}}
	if err := c.get(ctx, "/v1/protocols/tokens/balances", q, &resp); err != nil {
		return nil, err
	}
	out := []model.RawBalance{}
	for addr, entry := range resp {
		if id.NormalizeAddress(addr) != owner {
			continue
		}
		for _, product := range entry.Products {
			for _, asset := range product.Assets {
				if !id.IsAddress(asset.Address) {
					continue
				}
				amount := strings.TrimSpace(asset.BalanceRaw)
				if amount == "" {
					amount = "0"
				}
				out = append(out, model.RawBalance{Address: id.NormalizeAddress(asset.Address), Owner: owner, Amount: amount})
			}
		}
	}
	return out, nil
}

type gasResp struct {
	Standard decimal.Decimal `json:"standard"`
	Instant  decimal.Decimal `json:"instant"`
	Fast     decimal.Decimal `json:"fast"`
}

// GasPrice returns the router's gas tiers in gwei.
func (c *Client) GasPrice(ctx context.Context) (model.GasPrice, error) {
	var resp gasResp
	if err := c.get(ctx, "/v1/gas-price", nil, &resp); err != nil {
		return model.GasPrice{}, err
	}
	return model.GasPrice{Standard: resp.Standard.String(), Instant: resp.Instant.String(), Fast: resp.Fast.String()}, nil
}

type approvalStateResp struct {
	IsApproved     bool   `json:"isApproved"`
	OwnerAddress   string `json:"ownerAddress"`
	SpenderAddress string `json:"spenderAddress"`
	TokenAddress   string `json:"tokenAddress"`
	Allowance      string `json:"allowance"`
}

func (r approvalStateResp) model() model.ApprovalState {
	return model.ApprovalState{
		IsApproved: r.IsApproved,
		Owner:      id.NormalizeAddress(r.OwnerAddress),
		Spender:    id.NormalizeAddress(r.SpenderAddress),
		TokenAddr:  id.NormalizeAddress(r.TokenAddress),
		Allowance:  r.Allowance,
	}
}

type txResp struct {
	Data     string          `json:"data"`
	To       string          `json:"to"`
	From     string          `json:"from"`
	Value    string          `json:"value"`
	GasPrice decimal.Decimal `json:"gasPrice"`
}

func (r txResp) model() model.RawTx {
	tx := model.RawTx{From: id.NormalizeAddress(r.From), To: id.NormalizeAddress(r.To), Data: r.Data, Value: r.Value}
	if !r.GasPrice.IsZero() {
		tx.GasPrice = r.GasPrice.String()
	}
	return tx
}

// ZapInApprovalState reports whether the router may already spend token
// for account.
func (c *Client) ZapInApprovalState(ctx context.Context, account, token, protocol string) (model.ApprovalState, error) {
	var resp approvalStateResp
	q := url.Values{"ownerAddress": {id.NormalizeAddress(account)}, "sellTokenAddress": {id.NormalizeAddress(token)}}
	if err := c.get(ctx, "/v1/zap-in/"+protocolPath(protocol)+"/approval-state", q, &resp); err != nil {
		return model.ApprovalState{}, err
	}
	return resp.model(), nil
}

// ZapInApprovalTransaction builds the router approval transaction. gasPriceWei
// is an integer wei string.
func (c *Client) ZapInApprovalTransaction(ctx context.Context, account, token, gasPriceWei, protocol string) (model.RawTx, error) {
	var resp txResp
	q := url.Values{
		"ownerAddress":     {id.NormalizeAddress(account)},
		"sellTokenAddress": {id.NormalizeAddress(token)},
		"gasPrice":         {gasPriceWei},
	}
	if err := c.get(ctx, "/v1/zap-in/"+protocolPath(protocol)+"/approval-transaction", q, &resp); err != nil {
		return model.RawTx{}, err
	}
	return resp.model(), nil
}

// ZapOutApprovalState reports whether the router may spend vault shares.
func (c *Client) ZapOutApprovalState(ctx context.Context, account, vault, protocol string) (model.ApprovalState, error) {
	var resp approvalStateResp
	q := url.Values{"ownerAddress": {id.NormalizeAddress(account)}, "sellTokenAddress": {id.NormalizeAddress(vault)}}
	if err := c.get(ctx, "/v1/zap-out/"+protocolPath(protocol)+"/approval-state", q, &resp); err != nil {
		return model.ApprovalState{}, err
	}
	return resp.model(), nil
}

func (c *Client) ZapOutApprovalTransaction(ctx context.Context, account, vault, gasPriceWei, protocol string) (model.RawTx, error) {
	var resp txResp
	q := url.Values{
		"ownerAddress":     {id.NormalizeAddress(account)},
		"sellTokenAddress": {id.NormalizeAddress(vault)},
		"gasPrice":         {gasPriceWei},
	}
	if err := c.get(ctx, "/v1/zap-out/"+protocolPath(protocol)+"/approval-transaction", q, &resp); err != nil {
		return model.RawTx{}, err
	}
	return resp.model(), nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	if q == nil {
		q = url.Values{}
	}
	q.Set("network", c.network)
	if c.apiKey != "" {
		q.Set("api_key", c.apiKey)
	}
	return c.http.GetJSON(ctx, c.baseURL+path, q, nil, out)
}

func protocolPath(protocol string) string {
	p := strings.ToLower(strings.TrimSpace(protocol))
	if p == "" {
		p = DefaultProtocol
	}
	return url.PathEscape(p)
}
