package aggregator

import (
	"context"

	"github.com/ggonzalez94/defi-tokens/internal/model"
	"github.com/ggonzalez94/defi-tokens/internal/registry"
)

// Provider exposes the router's token universe to the aggregation engine.
type Provider struct {
	client *Client
}

func NewProvider(client *Client) *Provider {
	return &Provider{client: client}
}

func (p *Provider) Kind() model.DataSource { return model.SourceAggregator }

func (p *Provider) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:        "aggregator",
		Kind:        string(model.SourceAggregator),
		RequiresKey: true,
		KeyEnvVar:   registry.AggregatorAPIKeyEnv,
		Capabilities: []string{
			"tokens.supported",
			"tokens.balances",
			"tokens.price",
			"approvals.router",
		},
	}
}

func (p *Provider) ListEntities(ctx context.Context) ([]model.Token, error) {
	return p.client.SupportedTokens(ctx)
}

func (p *Provider) BalancesOf(ctx context.Context, account string) ([]model.RawBalance, error) {
	return p.client.Balances(ctx, account)
}

func (p *Provider) PriceOf(ctx context.Context, address string) (string, error) {
	return p.client.PriceOf(ctx, address)
}
