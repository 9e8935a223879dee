package app

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	clierr "github.com/ggonzalez94/defi-tokens/internal/errors"
	"github.com/ggonzalez94/defi-tokens/internal/id"
	"github.com/ggonzalez94/defi-tokens/internal/model"
	"github.com/ggonzalez94/defi-tokens/internal/providers/lending"
)

type priceQuote struct {
	Address  string `json:"address"`
	PriceUSD string `json:"price_usd"`
}

type rateQuote struct {
	From string `json:"from"`
	To   string `json:"to"`
	Rate string `json:"rate"`
}

func (s *runtimeState) newTokensCommand() *cobra.Command {
	root := &cobra.Command{Use: "tokens", Short: "Supported tokens, balances and prices"}

	supportedCmd := &cobra.Command{
		Use:   "supported",
		Short: "List every token reachable through an enabled provider",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := s.commandContext(cmd)
			defer cancel()
			svc, err := s.services(ctx, nil)
			if err != nil {
				return err
			}
			tokens, report, err := svc.engine.SupportedEntitiesReport(ctx)
			if err != nil {
				return clierr.Wrap(clierr.CodeUnavailable, "list supported tokens", err)
			}
			return s.emitReport(trimRootPath(cmd.CommandPath()), tokens, report)
		},
	}

	var balancesAccount, balancesTokens string
	balancesCmd := &cobra.Command{
		Use:   "balances",
		Short: "List non-zero balances of supported tokens held by an account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			account, err := id.ParseAddress(balancesAccount, "--account")
			if err != nil {
				return err
			}
			filter, err := parseAddresses(balancesTokens, "--tokens")
			if err != nil {
				return err
			}
			ctx, cancel := s.commandContext(cmd)
			defer cancel()
			svc, err := s.services(ctx, nil)
			if err != nil {
				return err
			}
			balances, report, err := svc.engine.BalancesReport(ctx, account, filter)
			if err != nil {
				return clierr.Wrap(clierr.CodeUnavailable, "list balances", err)
			}
			return s.emitReport(trimRootPath(cmd.CommandPath()), balances, report)
		},
	}
	balancesCmd.Flags().StringVar(&balancesAccount, "account", "", "Account address")
	balancesCmd.Flags().StringVar(&balancesTokens, "tokens", "", "Restrict to these token addresses (comma-separated)")
	_ = balancesCmd.MarkFlagRequired("account")

	var priceTokens string
	priceCmd := &cobra.Command{
		Use:   "price",
		Short: "Quote USD prices for tokens",
		RunE: func(cmd *cobra.Command, _ []string) error {
			addrs, err := parseAddresses(priceTokens, "--tokens")
			if err != nil {
				return err
			}
			if len(addrs) == 0 {
				return clierr.New(clierr.CodeUsage, "--tokens is required")
			}
			ctx, cancel := s.commandContext(cmd)
			defer cancel()
			svc, err := s.services(ctx, nil)
			if err != nil {
				return err
			}
			start := time.Now()
			prices, err := svc.prices.PriceOfMany(ctx, addrs)
			status := []model.ProviderStatus{{Name: "price", Status: statusFromErr(err), LatencyMS: time.Since(start).Milliseconds()}}
			if err != nil && len(prices) == 0 {
				s.captureCommandDiagnostics(nil, status, false)
				return err
			}
			quotes := make([]priceQuote, 0, len(addrs))
			for _, addr := range addrs {
				if p, ok := prices[addr]; ok {
					quotes = append(quotes, priceQuote{Address: addr, PriceUSD: p})
				}
			}
			var warnings []string
			partial := err != nil
			if partial {
				warnings = splitLines(err.Error())
				if s.settings.Strict {
					s.captureCommandDiagnostics(warnings, status, true)
					return clierr.Wrap(clierr.CodeProvider, "partial results returned in strict mode", err)
				}
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), quotes, warnings, cacheMetaBypass(), status, partial)
		},
	}
	priceCmd.Flags().StringVar(&priceTokens, "tokens", "", "Token addresses (comma-separated)")
	_ = priceCmd.MarkFlagRequired("tokens")

	var rateFrom, rateTo string
	rateCmd := &cobra.Command{
		Use:   "rate",
		Short: "Quote how many units of one token another buys through the router",
		RunE: func(cmd *cobra.Command, _ []string) error {
			from, err := id.ParseAddress(rateFrom, "--from")
			if err != nil {
				return err
			}
			to, err := id.ParseAddress(rateTo, "--to")
			if err != nil {
				return err
			}
			ctx, cancel := s.commandContext(cmd)
			defer cancel()
			svc, err := s.services(ctx, nil)
			if err != nil {
				return err
			}
			start := time.Now()
			rate, err := svc.prices.ExchangeRate(ctx, from, to)
			status := []model.ProviderStatus{{Name: "router", Status: statusFromErr(err), LatencyMS: time.Since(start).Milliseconds()}}
			s.captureCommandDiagnostics(nil, status, false)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), rateQuote{From: from, To: to, Rate: rate}, nil, cacheMetaBypass(), status, false)
		},
	}
	rateCmd.Flags().StringVar(&rateFrom, "from", "", "Input token address")
	rateCmd.Flags().StringVar(&rateTo, "to", "", "Output token address")
	_ = rateCmd.MarkFlagRequired("from")
	_ = rateCmd.MarkFlagRequired("to")

	var metadataAddresses string
	metadataCmd := &cobra.Command{
		Use:   "metadata",
		Short: "Show descriptive token metadata",
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter, err := parseAddresses(metadataAddresses, "--addresses")
			if err != nil {
				return err
			}
			ctx, cancel := s.commandContext(cmd)
			defer cancel()
			svc, err := s.services(ctx, nil)
			if err != nil {
				return err
			}
			metadata, err := requireMetadata(svc)
			if err != nil {
				return err
			}
			data, err := metadata.Metadata(ctx, filter)
			if err != nil {
				return clierr.Wrap(clierr.CodeUnavailable, "fetch token metadata", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, nil, cacheMetaMiss(), nil, false)
		},
	}
	metadataCmd.Flags().StringVar(&metadataAddresses, "addresses", "", "Restrict to these token addresses (comma-separated)")

	root.AddCommand(supportedCmd, balancesCmd, priceCmd, rateCmd, metadataCmd)
	return root
}

func (s *runtimeState) newMarketsCommand() *cobra.Command {
	root := &cobra.Command{Use: "markets", Short: "Lending market commands"}

	var addresses string
	var dynamicOnly, staticOnly bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List lending markets with their current rates",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dynamicOnly && staticOnly {
				return clierr.New(clierr.CodeUsage, "--static and --dynamic are mutually exclusive")
			}
			filter, err := parseAddresses(addresses, "--addresses")
			if err != nil {
				return err
			}
			ctx, cancel := s.commandContext(cmd)
			defer cancel()
			svc, err := s.services(ctx, nil)
			if err != nil {
				return err
			}
			markets, err := requireMarkets(svc)
			if err != nil {
				return err
			}

			start := time.Now()
			var data any
			switch {
			case staticOnly:
				data, err = markets.GetStatic(ctx, filter)
			case dynamicOnly:
				data, err = markets.GetDynamic(ctx, filter)
			default:
				data, err = markets.Get(ctx, filter)
			}
			status := []model.ProviderStatus{{Name: string(model.SourceLendingMarket), Status: statusFromErr(err), LatencyMS: time.Since(start).Milliseconds()}}
			s.captureCommandDiagnostics(nil, status, false)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, nil, cacheMetaMiss(), status, false)
		},
	}
	listCmd.Flags().StringVar(&addresses, "addresses", "", "Restrict to these market addresses (comma-separated)")
	listCmd.Flags().BoolVar(&staticOnly, "static", false, "Only static market attributes")
	listCmd.Flags().BoolVar(&dynamicOnly, "dynamic", false, "Only dynamic market attributes")

	var positionsAccount, positionsAddresses string
	positionsCmd := &cobra.Command{
		Use:   "positions",
		Short: "List an account's lend and borrow positions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter, err := parseAddresses(positionsAddresses, "--addresses")
			if err != nil {
				return err
			}
			return s.runAccountRead(cmd, positionsAccount, func(ctx context.Context, markets *lending.Markets, account string) (any, error) {
				return markets.PositionsOf(ctx, account, filter)
			})
		},
	}
	positionsCmd.Flags().StringVar(&positionsAccount, "account", "", "Account address")
	positionsCmd.Flags().StringVar(&positionsAddresses, "addresses", "", "Restrict to these market addresses (comma-separated)")
	_ = positionsCmd.MarkFlagRequired("account")

	var summaryAccount string
	summaryCmd := &cobra.Command{
		Use:   "summary",
		Short: "Summarize an account's lending position in USDC",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return s.runAccountRead(cmd, summaryAccount, func(ctx context.Context, markets *lending.Markets, account string) (any, error) {
				return markets.SummaryOf(ctx, account)
			})
		},
	}
	summaryCmd.Flags().StringVar(&summaryAccount, "account", "", "Account address")
	_ = summaryCmd.MarkFlagRequired("account")

	var userAccount, userAddresses string
	userMetadataCmd := &cobra.Command{
		Use:   "user-metadata",
		Short: "Show per-market collateral state for an account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter, err := parseAddresses(userAddresses, "--addresses")
			if err != nil {
				return err
			}
			return s.runAccountRead(cmd, userAccount, func(ctx context.Context, markets *lending.Markets, account string) (any, error) {
				return markets.MetadataOf(ctx, account, filter)
			})
		},
	}
	userMetadataCmd.Flags().StringVar(&userAccount, "account", "", "Account address")
	userMetadataCmd.Flags().StringVar(&userAddresses, "addresses", "", "Restrict to these market addresses (comma-separated)")
	_ = userMetadataCmd.MarkFlagRequired("account")

	root.AddCommand(listCmd, positionsCmd, summaryCmd, userMetadataCmd)
	return root
}

func (s *runtimeState) runAccountRead(cmd *cobra.Command, rawAccount string, read func(context.Context, *lending.Markets, string) (any, error)) error {
	account, err := id.ParseAddress(rawAccount, "--account")
	if err != nil {
		return err
	}
	ctx, cancel := s.commandContext(cmd)
	defer cancel()
	svc, err := s.services(ctx, nil)
	if err != nil {
		return err
	}
	markets, err := requireMarkets(svc)
	if err != nil {
		return err
	}
	start := time.Now()
	data, err := read(ctx, markets, account)
	status := []model.ProviderStatus{{Name: string(model.SourceLendingMarket), Status: statusFromErr(err), LatencyMS: time.Since(start).Milliseconds()}}
	s.captureCommandDiagnostics(nil, status, false)
	if err != nil {
		return err
	}
	return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, nil, cacheMetaMiss(), status, false)
}
