package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ggonzalez94/defi-tokens/internal/api"
	"github.com/ggonzalez94/defi-tokens/internal/metrics"
)

func (s *runtimeState) newServeCommand() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(backgroundContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rec := metrics.New()
			svc, err := buildServices(ctx, s.settings, s.log, rec, nil)
			if err != nil {
				return err
			}
			s.svc = svc

			addr := s.settings.ListenAddr
			if listen != "" {
				addr = listen
			}
			return api.New(apiConfig(svc, s, rec)).ListenAndServe(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (overrides serve.listen)")
	return cmd
}

func apiConfig(svc *services, s *runtimeState, rec *metrics.Recorder) api.Config {
	cfg := api.Config{
		ChainID:    svc.chainID,
		Tokens:     svc.engine,
		Prices:     svc.prices,
		Allowances: svc.approvals,
		Metrics:    rec,
		Logger:     s.log,
		Timeout:    3 * s.settings.Timeout,
	}
	if svc.markets != nil {
		cfg.Markets = svc.markets
	}
	return cfg
}

// backgroundContext is used when cobra did not attach a context.
func backgroundContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
