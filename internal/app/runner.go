package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ggonzalez94/defi-tokens/internal/api"
	"github.com/ggonzalez94/defi-tokens/internal/config"
	"github.com/ggonzalez94/defi-tokens/internal/engine"
	clierr "github.com/ggonzalez94/defi-tokens/internal/errors"
	"github.com/ggonzalez94/defi-tokens/internal/id"
	"github.com/ggonzalez94/defi-tokens/internal/logging"
	"github.com/ggonzalez94/defi-tokens/internal/model"
	"github.com/ggonzalez94/defi-tokens/internal/out"
	"github.com/ggonzalez94/defi-tokens/internal/policy"
	"github.com/ggonzalez94/defi-tokens/internal/schema"
	"github.com/ggonzalez94/defi-tokens/internal/version"
)

type Runner struct {
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{
		stdout: stdout,
		stderr: stderr,
		now:    time.Now,
	}
}

type runtimeState struct {
	runner        *Runner
	flags         config.GlobalFlags
	settings      config.Settings
	log           zerolog.Logger
	svc           *services
	root          *cobra.Command
	lastCommand   string
	lastWarnings  []string
	lastProviders []model.ProviderStatus
	lastPartial   bool
}

func (r *Runner) Run(args []string) int {
	state := &runtimeState{runner: r, log: zerolog.Nop()}
	root := state.newRootCommand()
	state.root = root
	state.resetCommandDiagnostics()
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := root.Execute()
	err = normalizeRunError(err)
	if state.svc != nil {
		state.svc.Close()
	}
	if err == nil {
		return 0
	}
	state.renderError("", err, state.lastWarnings, state.lastProviders, state.lastPartial)
	return clierr.ExitCode(err)
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "Multi-provider token aggregation and approval CLI",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			settings, err := config.Load(s.flags)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "load configuration", err)
			}
			s.settings = settings

			log, err := logging.New(logging.Options{Level: settings.LogLevel, Format: settings.LogFormat, Writer: s.runner.stderr})
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "configure logging", err)
			}
			s.log = log

			path := trimRootPath(cmd.CommandPath())
			s.lastCommand = path
			return policy.CheckCommandAllowed(settings.EnableCommands, path)
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return clierr.Wrap(clierr.CodeUsage, "parse flags", err)
	})
	config.BindFlags(cmd.PersistentFlags(), &s.flags)

	cmd.AddCommand(s.newSchemaCommand())
	cmd.AddCommand(s.newProvidersCommand())
	cmd.AddCommand(s.newNetworksCommand())
	cmd.AddCommand(s.newTokensCommand())
	cmd.AddCommand(s.newMarketsCommand())
	cmd.AddCommand(s.newApprovalsCommand())
	cmd.AddCommand(s.newSubmissionsCommand())
	cmd.AddCommand(s.newServeCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Long())
				return
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.CLIVersion)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}

func (s *runtimeState) newSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema [command path]",
		Short: "Print machine-readable command schema",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := schema.Build(s.root, strings.Join(args, " "))
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "build schema", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, nil, cacheMetaBypass(), nil, false)
		},
	}
}

func (s *runtimeState) newProvidersCommand() *cobra.Command {
	root := &cobra.Command{Use: "providers", Short: "Provider commands"}
	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List provider kinds and API key metadata (no keys required)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), providerInfos(), nil, cacheMetaBypass(), nil, false)
		},
	})
	return root
}

func (s *runtimeState) newNetworksCommand() *cobra.Command {
	root := &cobra.Command{Use: "networks", Short: "Network commands"}
	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List networks and the provider kinds enabled on each",
		RunE: func(cmd *cobra.Command, args []string) error {
			matrix, err := matrixFrom(s.settings)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), networkList(matrix), nil, cacheMetaBypass(), nil, false)
		},
	})
	return root
}

// services connects the on-chain and HTTP collaborators on first use. A
// non-nil sender also wires transaction signing and submission.
func (s *runtimeState) services(ctx context.Context, sender *senderOptions) (*services, error) {
	if s.svc != nil && (sender == nil || s.svc.sender != nil) {
		return s.svc, nil
	}
	if s.svc != nil {
		s.svc.Close()
		s.svc = nil
	}
	svc, err := buildServices(ctx, s.settings, s.log, nil, sender)
	if err != nil {
		return nil, err
	}
	s.svc = svc
	return svc, nil
}

func (s *runtimeState) commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := backgroundContext(cmd)
	if s.settings.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	// Each provider call gets Timeout; the command as a whole gets a few.
	return context.WithTimeout(ctx, 3*s.settings.Timeout)
}

// emitReport renders an aggregation result with its provider diagnostics,
// failing in strict mode when any provider degraded.
func (s *runtimeState) emitReport(commandPath string, data any, report engine.Report) error {
	s.captureCommandDiagnostics(nil, report.Providers, report.Partial)
	if report.Partial && s.settings.Strict {
		return clierr.New(clierr.CodeProvider, "partial results returned in strict mode")
	}
	cacheStatus := cacheMetaMiss()
	if report.Cached {
		cacheStatus = model.CacheStatus{Status: "hit", AgeMS: report.Age.Milliseconds()}
	}
	if !s.settings.CacheEnabled {
		cacheStatus = cacheMetaBypass()
	}
	return s.emitSuccess(commandPath, data, nil, cacheStatus, report.Providers, report.Partial)
}

func (s *runtimeState) emitSuccess(commandPath string, data any, warnings []string, cacheStatus model.CacheStatus, providers []model.ProviderStatus, partial bool) error {
	env := model.Envelope{
		Version:  model.EnvelopeVersion,
		Success:  true,
		Data:     data,
		Error:    nil,
		Warnings: warnings,
		Meta: model.EnvelopeMeta{
			RequestID: uuid.NewString(),
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
			ChainID:   s.chainID(),
			Providers: providers,
			Cache:     cacheStatus,
			Partial:   partial,
		},
	}
	return out.Render(s.runner.stdout, env, out.OptionsFrom(s.settings))
}

func (s *runtimeState) renderError(commandPath string, err error, warnings []string, providers []model.ProviderStatus, partial bool) {
	if strings.TrimSpace(commandPath) == "" {
		commandPath = s.lastCommand
		if commandPath == "" {
			commandPath = version.CLIName
		}
	}
	message := err.Error()
	if cErr, ok := clierr.As(err); ok {
		message = cErr.Message
		if cErr.Cause != nil {
			message = fmt.Sprintf("%s: %v", cErr.Message, cErr.Cause)
		}
	}

	opts := out.OptionsFrom(s.settings)
	if opts.Mode == "" {
		opts.Mode = "json"
	}
	opts.ResultsOnly = false
	opts.SelectFields = nil
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: false,
		Data:    []any{},
		Error: &model.ErrorBody{
			Code:    clierr.ExitCode(err),
			Type:    api.ErrorType(err),
			Message: message,
		},
		Warnings: warnings,
		Meta: model.EnvelopeMeta{
			RequestID: uuid.NewString(),
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
			ChainID:   s.chainID(),
			Providers: providers,
			Cache:     cacheMetaBypass(),
			Partial:   partial,
		},
	}
	_ = out.Render(s.runner.stderr, env, opts)
}

func (s *runtimeState) chainID() int64 {
	if s.svc != nil {
		return s.svc.chainID
	}
	return 0
}

func trimRootPath(path string) string {
	parts := strings.Fields(path)
	if len(parts) <= 1 {
		return path
	}
	return strings.Join(parts[1:], " ")
}

func splitCSV(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		norm := strings.ToLower(strings.TrimSpace(part))
		if norm != "" {
			out = append(out, norm)
		}
	}
	return out
}

// parseAddresses validates a comma-separated address list.
func parseAddresses(raw, field string) ([]string, error) {
	parts := splitCSV(raw)
	if len(parts) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		addr, err := id.ParseAddress(part, field)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}

func splitLines(v string) []string {
	var out []string
	for _, line := range strings.Split(v, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

func statusFromErr(err error) string {
	if err == nil {
		return "ok"
	}
	if cErr, ok := clierr.As(err); ok {
		switch cErr.Code {
		case clierr.CodeAuth:
			return "auth_error"
		case clierr.CodeRateLimited:
			return "rate_limited"
		case clierr.CodeUnavailable:
			return "unavailable"
		case clierr.CodeUnsupportedNetwork:
			return "unsupported_network"
		default:
			return "error"
		}
	}
	return "error"
}

func cacheMetaBypass() model.CacheStatus {
	return model.CacheStatus{Status: "bypass"}
}

func cacheMetaMiss() model.CacheStatus {
	return model.CacheStatus{Status: "miss"}
}

func normalizeRunError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := clierr.As(err); ok {
		return err
	}
	if isLikelyUsageError(err) {
		return clierr.Wrap(clierr.CodeUsage, "invalid command input", err)
	}
	return clierr.Wrap(clierr.CodeInternal, "execute command", err)
}

func isLikelyUsageError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	patterns := []string{
		"unknown command",
		"unknown flag",
		"required flag(s)",
		"flag needs an argument",
		"requires at least",
		"requires exactly",
		"accepts ",
		"invalid argument",
		"invalid args",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

func (s *runtimeState) resetCommandDiagnostics() {
	s.lastWarnings = nil
	s.lastProviders = nil
	s.lastPartial = false
}

func (s *runtimeState) captureCommandDiagnostics(warnings []string, providers []model.ProviderStatus, partial bool) {
	if len(warnings) == 0 {
		s.lastWarnings = nil
	} else {
		s.lastWarnings = append([]string(nil), warnings...)
	}
	if len(providers) == 0 {
		s.lastProviders = nil
	} else {
		s.lastProviders = append([]model.ProviderStatus(nil), providers...)
	}
	s.lastPartial = partial
}
