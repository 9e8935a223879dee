package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ggonzalez94/defi-tokens/internal/approval"
	"github.com/ggonzalez94/defi-tokens/internal/assets"
	"github.com/ggonzalez94/defi-tokens/internal/cache"
	"github.com/ggonzalez94/defi-tokens/internal/capability"
	"github.com/ggonzalez94/defi-tokens/internal/chain"
	"github.com/ggonzalez94/defi-tokens/internal/config"
	"github.com/ggonzalez94/defi-tokens/internal/engine"
	clierr "github.com/ggonzalez94/defi-tokens/internal/errors"
	"github.com/ggonzalez94/defi-tokens/internal/execution"
	execsigner "github.com/ggonzalez94/defi-tokens/internal/execution/signer"
	"github.com/ggonzalez94/defi-tokens/internal/httpx"
	"github.com/ggonzalez94/defi-tokens/internal/id"
	"github.com/ggonzalez94/defi-tokens/internal/logging"
	"github.com/ggonzalez94/defi-tokens/internal/metrics"
	"github.com/ggonzalez94/defi-tokens/internal/model"
	"github.com/ggonzalez94/defi-tokens/internal/price"
	"github.com/ggonzalez94/defi-tokens/internal/providers"
	"github.com/ggonzalez94/defi-tokens/internal/providers/aggregator"
	"github.com/ggonzalez94/defi-tokens/internal/providers/lending"
	"github.com/ggonzalez94/defi-tokens/internal/providers/vaults"
	"github.com/ggonzalez94/defi-tokens/internal/registry"
)

const priceConcurrency = 8

// senderOptions configure transaction submission for mutating commands.
type senderOptions struct {
	keySource          string
	privateKey         string
	gasMultiplier      float64
	maxFeeGwei         string
	maxPriorityFeeGwei string
}

// services is the component graph for one network.
type services struct {
	chainID   int64
	matrix    capability.Matrix
	chain     *chain.Client
	engine    *engine.Engine
	prices    *price.Resolver
	markets   *lending.Markets
	metadata  *assets.MetadataService
	approvals *approval.Workflow
	sender    *execution.Submitter
	closers   []func()
}

func (s *services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

func buildServices(ctx context.Context, settings config.Settings, log zerolog.Logger, rec *metrics.Recorder, sender *senderOptions) (*services, error) {
	network, err := id.ParseChain(settings.Chain)
	if err != nil {
		return nil, err
	}
	chainID := network.EVMChainID
	matrix, err := matrixFrom(settings)
	if err != nil {
		return nil, err
	}
	svc := &services{chainID: chainID, matrix: matrix}
	tokensTTL, marketsTTL, iconsTTL := settings.TokensTTL, settings.MarketsTTL, settings.IconsTTL
	if !settings.CacheEnabled {
		tokensTTL, marketsTTL, iconsTTL = 0, 0, 0
	}
	var cacheOpts []cache.Option
	if rec != nil {
		cacheOpts = append(cacheOpts, cache.WithObserver(rec))
	}

	// Unknown networks never touch an RPC endpoint; every aggregation call
	// degrades to an empty result and mandatory paths report the network.
	if !matrix.Supports(chainID) {
		svc.engine = engine.New(engine.Config{ChainID: chainID, Matrix: matrix, TTL: tokensTTL, Logger: log, Metrics: rec})
		svc.prices = price.New(price.Config{ChainID: chainID, Matrix: matrix, Logger: log, Metrics: rec})
		svc.approvals = approval.New(approval.Config{ChainID: chainID, Matrix: matrix, Protocol: settings.Aggregator.Protocol, Logger: log})
		return svc, nil
	}

	rpcURL, err := registry.ResolveRPCURL(settings.RPCURL, chainID)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "resolve rpc url", err)
	}
	contracts := settings.ContractsFor(chainID)
	client, closeClient, err := chain.Dial(ctx, rpcURL, chainID, contracts)
	if err != nil {
		return nil, err
	}
	svc.chain = client
	svc.closers = append(svc.closers, closeClient)

	httpClient := httpx.New(settings.Timeout, settings.Retries, httpx.WithLogger(logging.Component(log, "httpx")))
	svc.metadata = assets.NewMetadata(httpClient, settings.MetadataURL, chainID, tokensTTL, cacheOpts...)

	var (
		adapters []providers.Provider
		router   approval.Router
	)
	for _, kind := range matrix.ProvidersFor(chainID) {
		switch kind {
		case model.SourceVaults:
			adapters = append(adapters, vaults.New(client, client, client))
		case model.SourceLendingMarket:
			adapters = append(adapters, lending.New(client, client, client))
			svc.markets = lending.NewMarkets(client, chainID, marketsTTL, cacheOpts...)
		case model.SourceAggregator:
			limited := httpx.New(settings.Timeout, settings.Retries,
				httpx.WithLogger(logging.Component(log, "aggregator")),
				httpx.WithRateLimit(settings.Aggregator.RPS, 1),
			)
			agg, err := aggregator.New(limited, settings.Aggregator.BaseURL, settings.Aggregator.APIKey, chainID)
			if err != nil {
				log.Warn().Err(err).Str("provider", string(kind)).Msg("aggregator disabled")
				continue
			}
			adapters = append(adapters, aggregator.NewProvider(agg))
			router = agg
		}
	}

	var (
		quoter price.Router
		oracle providers.Oracle
	)
	if contracts.Router != "" {
		quoter = client
	}
	if contracts.Oracle != "" {
		oracle = client
	}
	svc.prices = price.New(price.Config{
		ChainID:     chainID,
		Matrix:      matrix,
		Router:      quoter,
		Oracle:      oracle,
		Metadata:    client,
		Providers:   adapters,
		Concurrency: priceConcurrency,
		Logger:      log,
		Metrics:     rec,
	})
	svc.engine = engine.New(engine.Config{
		ChainID:   chainID,
		Matrix:    matrix,
		Providers: adapters,
		Icons:     assets.New(httpClient, settings.TokenListURL, chainID, iconsTTL, cacheOpts...),
		Prices:    svc.prices,
		TTL:       tokensTTL,
		Logger:    log,
		Metrics:   rec,
		CacheOpts: cacheOpts,
	})

	var txSender approval.Sender
	if sender != nil {
		submitter, err := newSubmitter(ctx, svc, settings, rpcURL, log, *sender)
		if err != nil {
			svc.Close()
			return nil, err
		}
		svc.sender = submitter
		txSender = submitter
	}
	svc.approvals = approval.New(approval.Config{
		ChainID:    chainID,
		Matrix:     matrix,
		Allowances: client,
		Router:     router,
		Sender:     txSender,
		Partner:    settings.Partner.Address,
		Protocol:   settings.Aggregator.Protocol,
		Logger:     log,
	})
	return svc, nil
}

func newSubmitter(ctx context.Context, svc *services, settings config.Settings, rpcURL string, log zerolog.Logger, opts senderOptions) (*execution.Submitter, error) {
	txSigner, err := execsigner.NewLocalSignerFromInputs(opts.keySource, opts.privateKey)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeSigner, "load signer", err)
	}
	backend, err := execution.Dial(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	svc.closers = append(svc.closers, backend.Close)

	journal, err := execution.OpenJournal(settings.JournalPath, settings.JournalLockPath)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "open submission journal", err)
	}
	svc.closers = append(svc.closers, func() { _ = journal.Close() })

	return execution.NewSubmitter(execution.SubmitterConfig{
		Backend:            backend,
		Signer:             txSigner,
		Journal:            journal,
		ChainID:            svc.chainID,
		Kind:               "approval",
		GasMultiplier:      opts.gasMultiplier,
		MaxFeeGwei:         opts.maxFeeGwei,
		MaxPriorityFeeGwei: opts.maxPriorityFeeGwei,
		Logger:             log,
	}), nil
}

func matrixFrom(settings config.Settings) (capability.Matrix, error) {
	if len(settings.Networks) == 0 {
		return capability.Default(), nil
	}
	matrix, err := capability.New(settings.Networks)
	if err != nil {
		return capability.Matrix{}, clierr.Wrap(clierr.CodeUsage, "invalid networks configuration", err)
	}
	return matrix, nil
}

func providerInfos() []model.ProviderInfo {
	return []model.ProviderInfo{
		vaults.New(nil, nil, nil).Info(),
		lending.New(nil, nil, nil).Info(),
		aggregator.NewProvider(nil).Info(),
	}
}

func networkList(matrix capability.Matrix) []model.Network {
	out := make([]model.Network, 0, len(matrix.Networks()))
	for _, chainID := range matrix.Networks() {
		out = append(out, model.Network{
			ChainID:   chainID,
			Name:      id.ChainByID(chainID).Name,
			Providers: matrix.ProvidersFor(chainID),
		})
	}
	return out
}

func requireMarkets(svc *services) (*lending.Markets, error) {
	if svc.markets == nil {
		if !svc.matrix.Supports(svc.chainID) {
			return nil, clierr.UnsupportedNetwork(svc.chainID)
		}
		return nil, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("lending markets are not enabled on chain %d", svc.chainID))
	}
	return svc.markets, nil
}

func requireMetadata(svc *services) (*assets.MetadataService, error) {
	if svc.metadata == nil {
		return nil, clierr.UnsupportedNetwork(svc.chainID)
	}
	return svc.metadata, nil
}
