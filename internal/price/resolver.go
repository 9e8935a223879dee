// Package price resolves USD prices for tokens, preferring a router quote
// against the network's USD numeraire, then a price oracle, then any active
// provider that can quote prices itself.
package price

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/ggonzalez94/defi-tokens/internal/capability"
	clierr "github.com/ggonzalez94/defi-tokens/internal/errors"
	"github.com/ggonzalez94/defi-tokens/internal/id"
	"github.com/ggonzalez94/defi-tokens/internal/metrics"
	"github.com/ggonzalez94/defi-tokens/internal/model"
	"github.com/ggonzalez94/defi-tokens/internal/providers"
)

const defaultConcurrency = 8

// Router quotes how much of `to` amountIn of `from` buys.
type Router interface {
	Quote(ctx context.Context, from, to string, amountIn *big.Int) (*big.Int, error)
}

// Metadata reads token decimals.
type Metadata interface {
	Tokens(ctx context.Context, addresses []string) ([]model.ERC20, error)
}

type Config struct {
	ChainID  int64
	Matrix   capability.Matrix
	Router   Router
	Oracle   providers.Oracle
	Metadata Metadata
	// Providers are consulted last, in matrix order, when they implement
	// providers.PriceProvider.
	Providers   []providers.Provider
	Concurrency int
	Logger      zerolog.Logger
	Metrics     *metrics.Recorder
}

type Resolver struct {
	chainID     int64
	matrix      capability.Matrix
	router      Router
	oracle      providers.Oracle
	metadata    Metadata
	fallbacks   []providers.PriceProvider
	concurrency int
	log         zerolog.Logger
	metrics     *metrics.Recorder
}

func New(cfg Config) *Resolver {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Resolver{
		chainID:     cfg.ChainID,
		matrix:      cfg.Matrix,
		router:      cfg.Router,
		oracle:      cfg.Oracle,
		metadata:    cfg.Metadata,
		fallbacks:   priceProviders(cfg.Matrix, cfg.ChainID, cfg.Providers),
		concurrency: concurrency,
		log:         cfg.Logger.With().Str("component", "price").Int64("chain_id", cfg.ChainID).Logger(),
		metrics:     cfg.Metrics,
	}
}

// PriceOf returns the USD price of one token as a decimal string.
func (r *Resolver) PriceOf(ctx context.Context, address string) (string, error) {
	if !r.matrix.Supports(r.chainID) {
		return "", clierr.UnsupportedNetwork(r.chainID)
	}
	addr := id.NormalizeAddress(address)
	numeraire, ok := id.Numeraire(r.chainID)
	if !ok {
		return "", clierr.UnsupportedNetwork(r.chainID)
	}
	if addr == numeraire.Address {
		return "1", nil
	}

	price, routerErr := r.routerPrice(ctx, addr, numeraire)
	if routerErr == nil {
		return price, nil
	}
	r.log.Debug().Err(routerErr).Str("token", addr).Msg("router quote unavailable, trying oracle")

	errs := []error{routerErr}
	if r.oracle != nil {
		started := time.Now()
		quoted, err := r.oracle.OraclePrice(ctx, addr)
		r.metrics.ObserveProvider("oracle", "price", started, err)
		if err == nil {
			return quoted.String(), nil
		}
		errs = append(errs, err)
	}

	for _, p := range r.fallbacks {
		started := time.Now()
		quoted, err := p.PriceOf(ctx, addr)
		r.metrics.ObserveProvider(string(p.Kind()), "price", started, err)
		if err == nil && quoted != "" {
			return quoted, nil
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Kind(), err))
		}
	}
	return "", clierr.Wrap(clierr.CodeUnavailable, fmt.Sprintf("no price for %s", addr), errors.Join(errs...))
}

// priceProviders keeps the adapters that quote prices, ordered by the
// matrix and restricted to kinds active on chainID.
func priceProviders(matrix capability.Matrix, chainID int64, all []providers.Provider) []providers.PriceProvider {
	byKind := make(map[model.DataSource]providers.PriceProvider, len(all))
	for _, p := range all {
		if pp, ok := p.(providers.PriceProvider); ok {
			byKind[p.Kind()] = pp
		}
	}
	out := []providers.PriceProvider{}
	for _, kind := range matrix.ProvidersFor(chainID) {
		if pp, ok := byKind[kind]; ok {
			out = append(out, pp)
		}
	}
	return out
}

func (r *Resolver) routerPrice(ctx context.Context, addr string, numeraire id.Token) (string, error) {
	if r.router == nil {
		return "", clierr.New(clierr.CodeUnsupported, "no router configured")
	}
	decimals, err := r.decimals(ctx, addr)
	if err != nil {
		return "", err
	}
	started := time.Now()
	out, err := r.router.Quote(ctx, addr, numeraire.Address, unit(decimals))
	r.metrics.ObserveProvider("router", "quote", started, err)
	if err != nil {
		return "", err
	}
	if out.Sign() <= 0 {
		return "", clierr.New(clierr.CodeUnavailable, "router quoted zero")
	}
	return decimal.NewFromBigInt(out, -int32(numeraire.Decimals)).String(), nil
}

// PriceOfMany resolves each address independently. The map holds every price
// that resolved; failures are joined into the returned error.
func (r *Resolver) PriceOfMany(ctx context.Context, addresses []string) (map[string]string, error) {
	unique := make([]string, 0, len(addresses))
	seen := map[string]struct{}{}
	for _, a := range addresses {
		addr := id.NormalizeAddress(a)
		if _, ok := seen[addr]; ok || addr == "" {
			continue
		}
		seen[addr] = struct{}{}
		unique = append(unique, addr)
	}

	var (
		mu     sync.Mutex
		prices = make(map[string]string, len(unique))
		errs   = make([]error, len(unique))
	)
	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, addr := range unique {
		g.Go(func() error {
			price, err := r.PriceOf(ctx, addr)
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", addr, err)
				return nil
			}
			mu.Lock()
			prices[addr] = price
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return prices, errors.Join(errs...)
}

// ExchangeRate returns how many units of `to` one unit of `from` buys.
func (r *Resolver) ExchangeRate(ctx context.Context, from, to string) (string, error) {
	if !r.matrix.Supports(r.chainID) {
		return "", clierr.UnsupportedNetwork(r.chainID)
	}
	if r.router == nil {
		return "", clierr.New(clierr.CodeUnsupported, "no router configured")
	}
	from, to = id.NormalizeAddress(from), id.NormalizeAddress(to)
	if from == to {
		return "1", nil
	}
	fromDecimals, err := r.decimals(ctx, from)
	if err != nil {
		return "", err
	}
	toDecimals, err := r.decimals(ctx, to)
	if err != nil {
		return "", err
	}
	out, err := r.router.Quote(ctx, from, to, unit(fromDecimals))
	if err != nil {
		return "", err
	}
	return decimal.NewFromBigInt(out, -int32(toDecimals)).String(), nil
}

func (r *Resolver) decimals(ctx context.Context, addr string) (int, error) {
	if known, ok := id.LookupByAddress(r.chainID, addr); ok {
		return known.Decimals, nil
	}
	if id.IsNative(addr) {
		return 18, nil
	}
	if r.metadata == nil {
		return 0, clierr.New(clierr.CodeUnsupported, "token metadata reader not configured")
	}
	tokens, err := r.metadata.Tokens(ctx, []string{addr})
	if err != nil {
		return 0, err
	}
	if len(tokens) == 0 {
		return 0, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("no metadata for %s", addr))
	}
	return tokens[0].Decimals, nil
}

func unit(decimals int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}
