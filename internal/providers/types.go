package providers

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/ggonzalez94/defi-tokens/internal/model"
)

// Provider is one upstream source of token and balance records. Every call is
// independently resolvable; implementations hold no shared mutable state.
type Provider interface {
	Kind() model.DataSource
	Info() model.ProviderInfo
	ListEntities(ctx context.Context) ([]model.Token, error)
	BalancesOf(ctx context.Context, account string) ([]model.RawBalance, error)
}

// PriceProvider is implemented by providers that can quote a USD price.
type PriceProvider interface {
	Provider
	PriceOf(ctx context.Context, address string) (string, error)
}

// TokenReader reads ERC20 metadata and balances.
type TokenReader interface {
	Tokens(ctx context.Context, addresses []string) ([]model.ERC20, error)
	BalancesOf(ctx context.Context, account string, tokens []string) ([]model.RawBalance, error)
}

// VaultRegistry lists the tokens reachable through automated vaults.
type VaultRegistry interface {
	VaultTokenAddresses(ctx context.Context) ([]string, error)
}

// MarketLens reads lending-market records.
type MarketLens interface {
	MarketTokenAddresses(ctx context.Context) ([]string, error)
	MarketsStatic(ctx context.Context, filter []string) ([]model.MarketStatic, error)
	MarketsDynamic(ctx context.Context, filter []string) ([]model.MarketDynamic, error)
}

// AccountLens reads one account's standing in the lending markets.
type AccountLens interface {
	PositionsOf(ctx context.Context, account string, filter []string) ([]model.Position, error)
	SummaryOf(ctx context.Context, account string) (model.LendingSummary, error)
	UserMetadataOf(ctx context.Context, account string, filter []string) ([]model.MarketUserMetadata, error)
}

// Oracle quotes USD prices.
type Oracle interface {
	OraclePrice(ctx context.Context, token string) (decimal.Decimal, error)
}

// TokensFromERC20 tags on-chain metadata with source.
func TokensFromERC20(erc20s []model.ERC20, source model.DataSource) []model.Token {
	out := make([]model.Token, 0, len(erc20s))
	for _, t := range erc20s {
		out = append(out, model.Token{
			Address:     t.Address,
			Symbol:      t.Symbol,
			Name:        t.Name,
			Decimals:    t.Decimals,
			DataSources: []model.DataSource{source},
		})
	}
	return out
}

// OraclePriceOf formats an oracle quote for a token.
func OraclePriceOf(ctx context.Context, oracle Oracle, address string) (string, error) {
	price, err := oracle.OraclePrice(ctx, address)
	if err != nil {
		return "", err
	}
	return price.String(), nil
}
