package lending

import (
	"context"
	"fmt"
	"time"

	"github.com/ggonzalez94/defi-tokens/internal/cache"
	clierr "github.com/ggonzalez94/defi-tokens/internal/errors"
	"github.com/ggonzalez94/defi-tokens/internal/id"
	"github.com/ggonzalez94/defi-tokens/internal/model"
	"github.com/ggonzalez94/defi-tokens/internal/providers"
)

const (
	getNamespace        = "lendingMarket/get"
	getDynamicNamespace = "lendingMarket/getDynamic"
)

// Markets serves joined lending-market records for one network.
type Markets struct {
	lens    providers.MarketLens
	chainID int64
	ttl     time.Duration
	merged  *cache.Store[[]model.Market]
	dynamic *cache.Store[[]model.MarketDynamic]
}

func NewMarkets(lens providers.MarketLens, chainID int64, ttl time.Duration, opts ...cache.Option) *Markets {
	return &Markets{
		lens:    lens,
		chainID: chainID,
		ttl:     ttl,
		merged:  cache.New[[]model.Market]("lending_markets", opts...),
		dynamic: cache.New[[]model.MarketDynamic]("lending_markets_dynamic", opts...),
	}
}

// Get joins every static market record with its dynamic counterpart. A
// static record without one fails the call.
func (m *Markets) Get(ctx context.Context, filter []string) ([]model.Market, error) {
	all, err := m.merged.Fetch(ctx, cache.Key(getNamespace, m.chainID), m.ttl, func(ctx context.Context) ([]model.Market, error) {
		statics, err := m.lens.MarketsStatic(ctx, nil)
		if err != nil {
			return nil, err
		}
		dynamics, err := m.dynamic.Fetch(ctx, cache.Key(getDynamicNamespace, m.chainID), m.ttl, func(ctx context.Context) ([]model.MarketDynamic, error) {
			return m.lens.MarketsDynamic(ctx, nil)
		})
		if err != nil {
			return nil, err
		}
		return Merge(statics, dynamics)
	})
	if err != nil {
		return nil, err
	}
	return filterByAddress(all, filter, func(mk model.Market) string { return mk.Address }), nil
}

// GetStatic reads static records straight from the lens.
func (m *Markets) GetStatic(ctx context.Context, filter []string) ([]model.MarketStatic, error) {
	return m.lens.MarketsStatic(ctx, filter)
}

// GetDynamic serves cached dynamic records when present and otherwise reads
// the lens directly without populating the cache.
func (m *Markets) GetDynamic(ctx context.Context, filter []string) ([]model.MarketDynamic, error) {
	if cached, ok := m.dynamic.Peek(cache.Key(getDynamicNamespace, m.chainID)); ok {
		return filterByAddress(cached, filter, func(d model.MarketDynamic) string { return d.Address }), nil
	}
	return m.lens.MarketsDynamic(ctx, filter)
}

// PositionsOf reads account's positions, restricted to the markets in filter
// when set. Account reads are never cached.
func (m *Markets) PositionsOf(ctx context.Context, account string, filter []string) ([]model.Position, error) {
	lens, owner, err := m.accountLens(account)
	if err != nil {
		return nil, err
	}
	return lens.PositionsOf(ctx, owner, filter)
}

// SummaryOf reads account's aggregate position across every market.
func (m *Markets) SummaryOf(ctx context.Context, account string) (model.LendingSummary, error) {
	lens, owner, err := m.accountLens(account)
	if err != nil {
		return model.LendingSummary{}, err
	}
	return lens.SummaryOf(ctx, owner)
}

// MetadataOf reads account's per-market standing, restricted to filter when
// set.
func (m *Markets) MetadataOf(ctx context.Context, account string, filter []string) ([]model.MarketUserMetadata, error) {
	lens, owner, err := m.accountLens(account)
	if err != nil {
		return nil, err
	}
	return lens.UserMetadataOf(ctx, owner, filter)
}

func (m *Markets) accountLens(account string) (providers.AccountLens, string, error) {
	owner, err := id.ParseAddress(account, "account")
	if err != nil {
		return nil, "", err
	}
	lens, ok := m.lens.(providers.AccountLens)
	if !ok {
		return nil, "", clierr.New(clierr.CodeUnsupported, "market lens cannot read account positions")
	}
	return lens, owner, nil
}

// Merge joins records by address.
func Merge(statics []model.MarketStatic, dynamics []model.MarketDynamic) ([]model.Market, error) {
	byAddress := make(map[string]model.MarketDynamic, len(dynamics))
	for _, d := range dynamics {
		byAddress[id.NormalizeAddress(d.Address)] = d
	}
	out := make([]model.Market, 0, len(statics))
	for _, s := range statics {
		d, ok := byAddress[id.NormalizeAddress(s.Address)]
		if !ok {
			return nil, clierr.Consistency(fmt.Sprintf("Dynamic asset does not exist for %s", s.Address))
		}
		out = append(out, model.Market{MarketStatic: s, Metadata: d})
	}
	return out, nil
}

func filterByAddress[T any](items []T, filter []string, address func(T) string) []T {
	if len(filter) == 0 {
		return items
	}
	keep := make(map[string]struct{}, len(filter))
	for _, f := range filter {
		keep[id.NormalizeAddress(f)] = struct{}{}
	}
	out := make([]T, 0, len(items))
	for _, item := range items {
		if _, ok := keep[id.NormalizeAddress(address(item))]; ok {
			out = append(out, item)
		}
	}
	return out
}
