// Package engine merges token and balance records from every provider
// active on a network into one deduplicated view.
package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ggonzalez94/defi-tokens/internal/cache"
	"github.com/ggonzalez94/defi-tokens/internal/capability"
	clierr "github.com/ggonzalez94/defi-tokens/internal/errors"
	"github.com/ggonzalez94/defi-tokens/internal/id"
	"github.com/ggonzalez94/defi-tokens/internal/metrics"
	"github.com/ggonzalez94/defi-tokens/internal/model"
	"github.com/ggonzalez94/defi-tokens/internal/providers"
)

const (
	supportedNamespace = "tokens/supported"
	listNamespace      = "tokens/list/"

	defaultPartialTTL = 15 * time.Second
)

// IconResolver looks up token icons. Missing icons are not errors.
type IconResolver interface {
	Icons(ctx context.Context, addresses []string) (map[string]string, error)
}

// Pricer resolves USD prices, returning whatever subset it could.
type Pricer interface {
	PriceOfMany(ctx context.Context, addresses []string) (map[string]string, error)
}

type Config struct {
	ChainID   int64
	Matrix    capability.Matrix
	Providers []providers.Provider
	Icons     IconResolver
	Prices    Pricer
	TTL       time.Duration
	// PartialTTL bounds how long a result missing a failed provider is
	// reused. Defaults to 15s, never longer than TTL.
	PartialTTL time.Duration
	Logger     zerolog.Logger
	Metrics    *metrics.Recorder
	CacheOpts  []cache.Option
}

// Report describes how a result was assembled.
type Report struct {
	Providers []model.ProviderStatus
	Partial   bool
	Cached    bool
	Age       time.Duration
}

type snapshot struct {
	tokens   []model.Token
	statuses []model.ProviderStatus
	partial  bool
}

type Engine struct {
	chainID    int64
	matrix     capability.Matrix
	providers  map[model.DataSource]providers.Provider
	icons      IconResolver
	prices     Pricer
	ttl        time.Duration
	partialTTL time.Duration
	log        zerolog.Logger
	metrics    *metrics.Recorder

	lists     *cache.Store[[]model.Token]
	supported *cache.Store[snapshot]
}

func New(cfg Config) *Engine {
	byKind := make(map[model.DataSource]providers.Provider, len(cfg.Providers))
	for _, p := range cfg.Providers {
		if p != nil {
			byKind[p.Kind()] = p
		}
	}
	partial := cfg.PartialTTL
	if partial <= 0 {
		partial = defaultPartialTTL
	}
	opts := cfg.CacheOpts
	if cfg.Metrics != nil {
		opts = append(append([]cache.Option{}, opts...), cache.WithObserver(cfg.Metrics))
	}
	return &Engine{
		chainID:    cfg.ChainID,
		matrix:     cfg.Matrix,
		providers:  byKind,
		icons:      cfg.Icons,
		prices:     cfg.Prices,
		ttl:        cfg.TTL,
		partialTTL: partial,
		log:        cfg.Logger.With().Str("component", "engine").Int64("chain_id", cfg.ChainID).Logger(),
		metrics:    cfg.Metrics,
		lists:      cache.New[[]model.Token]("provider_tokens", opts...),
		supported:  cache.New[snapshot]("supported_tokens", opts...),
	}
}

func (e *Engine) ChainID() int64 { return e.chainID }

// ActiveKinds returns the matrix-ordered kinds that have a registered
// adapter on this network.
func (e *Engine) ActiveKinds() []model.DataSource {
	out := []model.DataSource{}
	for _, kind := range e.matrix.ProvidersFor(e.chainID) {
		if _, ok := e.providers[kind]; ok {
			out = append(out, kind)
		}
	}
	return out
}

// SupportedEntities returns every token reachable through an active provider.
// Provider failures shrink the result instead of failing it; only context
// cancellation is returned as an error.
func (e *Engine) SupportedEntities(ctx context.Context) ([]model.Token, error) {
	tokens, _, err := e.SupportedEntitiesReport(ctx)
	return tokens, err
}

func (e *Engine) SupportedEntitiesReport(ctx context.Context) ([]model.Token, Report, error) {
	kinds := e.ActiveKinds()
	if len(kinds) == 0 {
		e.log.Error().Msg(clierr.UnsupportedNetwork(e.chainID).Message)
		return []model.Token{}, Report{}, nil
	}
	key := cache.Key(supportedNamespace, e.chainID)
	entry, cached := e.supported.Entry(key)

	snap, err := e.supported.Fetch(ctx, key, e.ttl, func(ctx context.Context) (snapshot, error) {
		return e.collectSupported(ctx, kinds)
	})
	if err != nil {
		return nil, Report{}, err
	}
	report := Report{Providers: snap.statuses, Partial: snap.partial, Cached: cached}
	if cached {
		report.Age = entry.Age(e.supported.Now())
	}
	return cloneTokens(snap.tokens), report, nil
}

func (e *Engine) collectSupported(ctx context.Context, kinds []model.DataSource) (snapshot, error) {
	results := make([][]model.Token, len(kinds))
	statuses := make([]model.ProviderStatus, len(kinds))
	var g errgroup.Group
	for i, kind := range kinds {
		g.Go(func() error {
			started := time.Now()
			tokens, err := e.listEntities(ctx, kind)
			statuses[i] = status(kind, started, err)
			if err != nil {
				e.log.Error().Err(clierr.ProviderFailure(string(kind), err)).Str("provider", string(kind)).Msg("list supported tokens failed")
				return nil
			}
			results[i] = tokens
			return nil
		})
	}
	_ = g.Wait()

	merged := mergeTokens(kinds, results)
	e.enrich(ctx, merged)

	snap := snapshot{tokens: merged, statuses: statuses}
	for _, s := range statuses {
		if s.Status != "ok" {
			snap.partial = true
		}
	}
	if snap.partial {
		return snap, cache.StoreFor(e.partialTTL)
	}
	return snap, nil
}

func (e *Engine) listEntities(ctx context.Context, kind model.DataSource) ([]model.Token, error) {
	provider := e.providers[kind]
	return e.lists.Fetch(ctx, cache.Key(listNamespace+string(kind), e.chainID), e.ttl, func(ctx context.Context) ([]model.Token, error) {
		started := time.Now()
		tokens, err := provider.ListEntities(ctx)
		e.metrics.ObserveProvider(string(kind), "list", started, err)
		if err != nil {
			return nil, err
		}
		for i := range tokens {
			tokens[i].Address = id.NormalizeAddress(tokens[i].Address)
		}
		return tokens, nil
	})
}

// mergeTokens folds results in precedence order. The first provider to report
// an address owns its fields; later ones only add their source tag and fill
// an empty icon or price.
func mergeTokens(kinds []model.DataSource, results [][]model.Token) []model.Token {
	index := map[string]int{}
	out := []model.Token{}
	for i, kind := range kinds {
		for _, t := range results[i] {
			addr := id.NormalizeAddress(t.Address)
			if addr == "" {
				continue
			}
			if at, ok := index[addr]; ok {
				existing := &out[at]
				if !existing.HasSource(kind) {
					existing.DataSources = append(existing.DataSources, kind)
				}
				if existing.Icon == "" {
					existing.Icon = t.Icon
				}
				if existing.PriceUSD == "" {
					existing.PriceUSD = t.PriceUSD
				}
				continue
			}
			t.Address = addr
			t.DataSources = []model.DataSource{kind}
			index[addr] = len(out)
			out = append(out, t)
		}
	}
	return out
}

// enrich fills missing icons and prices in place, best effort.
func (e *Engine) enrich(ctx context.Context, tokens []model.Token) {
	if e.icons != nil {
		missing := addressesWhere(tokens, func(t model.Token) bool { return t.Icon == "" })
		if len(missing) > 0 {
			icons, err := e.icons.Icons(ctx, missing)
			if err != nil {
				e.log.Warn().Err(err).Msg("icon lookup failed")
			}
			for i := range tokens {
				if tokens[i].Icon == "" {
					tokens[i].Icon = icons[tokens[i].Address]
				}
			}
		}
	}
	if e.prices != nil {
		missing := addressesWhere(tokens, func(t model.Token) bool { return t.PriceUSD == "" })
		if len(missing) > 0 {
			prices, err := e.prices.PriceOfMany(ctx, missing)
			if err != nil {
				e.log.Debug().Err(err).Int("unpriced", len(missing)-len(prices)).Msg("price enrichment incomplete")
			}
			for i := range tokens {
				if tokens[i].PriceUSD == "" {
					tokens[i].PriceUSD = prices[tokens[i].Address]
				}
			}
		}
	}
}

// BalancesOf returns account's non-zero balances of supported tokens,
// optionally restricted to filter. An unsupported network yields an empty
// list. Only context cancellation is returned as an error.
func (e *Engine) BalancesOf(ctx context.Context, account string, filter []string) ([]model.Balance, error) {
	balances, _, err := e.BalancesReport(ctx, account, filter)
	return balances, err
}

func (e *Engine) BalancesReport(ctx context.Context, account string, filter []string) ([]model.Balance, Report, error) {
	kinds := e.ActiveKinds()
	if len(kinds) == 0 {
		e.log.Error().Msg(clierr.UnsupportedNetwork(e.chainID).Message)
		return []model.Balance{}, Report{}, nil
	}
	supported, err := e.SupportedEntities(ctx)
	if err != nil {
		return nil, Report{}, err
	}
	byAddress := make(map[string]model.Token, len(supported))
	for _, t := range supported {
		byAddress[t.Address] = t
	}

	queried := []model.DataSource{}
	for _, kind := range kinds {
		for _, t := range supported {
			if t.HasSource(kind) {
				queried = append(queried, kind)
				break
			}
		}
	}

	type fanOut struct {
		results  [][]model.RawBalance
		statuses []model.ProviderStatus
	}
	done := make(chan fanOut, 1)
	pctx := context.WithoutCancel(ctx)
	go func() {
		res := fanOut{results: make([][]model.RawBalance, len(queried)), statuses: make([]model.ProviderStatus, len(queried))}
		var g errgroup.Group
		for i, kind := range queried {
			g.Go(func() error {
				started := time.Now()
				raw, err := e.providers[kind].BalancesOf(pctx, account)
				e.metrics.ObserveProvider(string(kind), "balances", started, err)
				res.statuses[i] = status(kind, started, err)
				if err != nil {
					e.log.Error().Err(clierr.ProviderFailure(string(kind), err)).Str("provider", string(kind)).Msg("balances query failed")
					return nil
				}
				res.results[i] = raw
				return nil
			})
		}
		_ = g.Wait()
		done <- res
	}()

	var res fanOut
	select {
	case <-ctx.Done():
		return nil, Report{}, ctx.Err()
	case res = <-done:
	}

	owner := id.NormalizeAddress(account)
	seen := map[string]struct{}{}
	out := []model.Balance{}
	for i, kind := range queried {
		for _, raw := range res.results[i] {
			addr := id.NormalizeAddress(raw.Address)
			if id.IsZeroAmount(raw.Amount) {
				continue
			}
			token, ok := byAddress[addr]
			if !ok {
				e.log.Debug().Str("provider", string(kind)).Str("address", addr).Msg("dropping balance for unsupported token")
				continue
			}
			if _, dup := seen[addr]; dup {
				continue
			}
			seen[addr] = struct{}{}
			out = append(out, model.Balance{
				Address:       addr,
				Owner:         owner,
				Amount:        raw.Amount,
				AmountDecimal: id.FormatUnits(raw.Amount, token.Decimals),
				Source:        kind,
				Token:         token,
			})
		}
	}

	report := Report{Providers: res.statuses}
	for _, s := range res.statuses {
		if s.Status != "ok" {
			report.Partial = true
		}
	}
	return filterBalances(out, filter), report, nil
}

func filterBalances(balances []model.Balance, filter []string) []model.Balance {
	if len(filter) == 0 {
		return balances
	}
	keep := make(map[string]struct{}, len(filter))
	for _, f := range filter {
		keep[id.NormalizeAddress(f)] = struct{}{}
	}
	out := make([]model.Balance, 0, len(balances))
	for _, b := range balances {
		if _, ok := keep[b.Address]; ok {
			out = append(out, b)
		}
	}
	return out
}

func status(kind model.DataSource, started time.Time, err error) model.ProviderStatus {
	s := model.ProviderStatus{Name: string(kind), Status: "ok", LatencyMS: time.Since(started).Milliseconds()}
	if err != nil {
		s.Status = "error"
	}
	return s
}

func addressesWhere(tokens []model.Token, pred func(model.Token) bool) []string {
	out := []string{}
	for _, t := range tokens {
		if pred(t) {
			out = append(out, t.Address)
		}
	}
	return out
}

func cloneTokens(in []model.Token) []model.Token {
	out := make([]model.Token, len(in))
	for i, t := range in {
		t.DataSources = append([]model.DataSource(nil), t.DataSources...)
		out[i] = t
	}
	return out
}
