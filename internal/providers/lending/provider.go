// Package lending adapts the lending-market lens into a Provider and joins
// its static and dynamic market records.
package lending

import (
	"context"

	clierr "github.com/ggonzalez94/defi-tokens/internal/errors"
	"github.com/ggonzalez94/defi-tokens/internal/model"
	"github.com/ggonzalez94/defi-tokens/internal/providers"
)

type Provider struct {
	lens   providers.MarketLens
	tokens providers.TokenReader
	oracle providers.Oracle
}

func New(lens providers.MarketLens, tokens providers.TokenReader, oracle providers.Oracle) *Provider {
	return &Provider{lens: lens, tokens: tokens, oracle: oracle}
}

func (p *Provider) Kind() model.DataSource { return model.SourceLendingMarket }

func (p *Provider) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:        "lendingMarket",
		Kind:        string(model.SourceLendingMarket),
		RequiresKey: false,
		Capabilities: []string{
			"tokens.supported",
			"tokens.balances",
			"tokens.price",
			"markets.list",
		},
	}
}

// ListEntities returns the underlying token of every market.
func (p *Provider) ListEntities(ctx context.Context) ([]model.Token, error) {
	addresses, err := p.lens.MarketTokenAddresses(ctx)
	if err != nil {
		return nil, err
	}
	erc20s, err := p.tokens.Tokens(ctx, addresses)
	if err != nil {
		return nil, err
	}
	return providers.TokensFromERC20(erc20s, model.SourceLendingMarket), nil
}

func (p *Provider) BalancesOf(ctx context.Context, account string) ([]model.RawBalance, error) {
	addresses, err := p.lens.MarketTokenAddresses(ctx)
	if err != nil {
		return nil, err
	}
	return p.tokens.BalancesOf(ctx, account, addresses)
}

func (p *Provider) PriceOf(ctx context.Context, address string) (string, error) {
	if p.oracle == nil {
		return "", clierr.New(clierr.CodeUnsupported, "lending provider has no price oracle")
	}
	return providers.OraclePriceOf(ctx, p.oracle, address)
}
