// Package vaults adapts the automated-vault registry into a Provider.
package vaults

import (
	"context"

	clierr "github.com/ggonzalez94/defi-tokens/internal/errors"
	"github.com/ggonzalez94/defi-tokens/internal/model"
	"github.com/ggonzalez94/defi-tokens/internal/providers"
)

type Provider struct {
	registry providers.VaultRegistry
	tokens   providers.TokenReader
	oracle   providers.Oracle
}

// New builds the adapter. oracle may be nil, in which case PriceOf is
// unsupported.
func New(registry providers.VaultRegistry, tokens providers.TokenReader, oracle providers.Oracle) *Provider {
	return &Provider{registry: registry, tokens: tokens, oracle: oracle}
}

func (p *Provider) Kind() model.DataSource { return model.SourceVaults }

func (p *Provider) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:        "vaults",
		Kind:        string(model.SourceVaults),
		RequiresKey: false,
		Capabilities: []string{
			"tokens.supported",
			"tokens.balances",
			"tokens.price",
		},
	}
}

func (p *Provider) ListEntities(ctx context.Context) ([]model.Token, error) {
	addresses, err := p.registry.VaultTokenAddresses(ctx)
	if err != nil {
		return nil, err
	}
	erc20s, err := p.tokens.Tokens(ctx, addresses)
	if err != nil {
		return nil, err
	}
	return providers.TokensFromERC20(erc20s, model.SourceVaults), nil
}

func (p *Provider) BalancesOf(ctx context.Context, account string) ([]model.RawBalance, error) {
	addresses, err := p.registry.VaultTokenAddresses(ctx)
	if err != nil {
		return nil, err
	}
	return p.tokens.BalancesOf(ctx, account, addresses)
}

func (p *Provider) PriceOf(ctx context.Context, address string) (string, error) {
	if p.oracle == nil {
		return "", clierr.New(clierr.CodeUnsupported, "vaults provider has no price oracle")
	}
	return providers.OraclePriceOf(ctx, p.oracle, address)
}
