package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ggonzalez94/defi-tokens/internal/approval"
	"github.com/ggonzalez94/defi-tokens/internal/engine"
	clierr "github.com/ggonzalez94/defi-tokens/internal/errors"
	"github.com/ggonzalez94/defi-tokens/internal/id"
	"github.com/ggonzalez94/defi-tokens/internal/metrics"
	"github.com/ggonzalez94/defi-tokens/internal/model"
)

// Tokens is the aggregation surface served under /v1/tokens and /v1/balances.
type Tokens interface {
	SupportedEntitiesReport(ctx context.Context) ([]model.Token, engine.Report, error)
	BalancesReport(ctx context.Context, account string, filter []string) ([]model.Balance, engine.Report, error)
}

type Prices interface {
	PriceOfMany(ctx context.Context, addresses []string) (map[string]string, error)
}

type Allowances interface {
	Allowance(ctx context.Context, q approval.AllowanceQuery) (model.Allowance, error)
}

type Markets interface {
	Get(ctx context.Context, filter []string) ([]model.Market, error)
}

// Config captures the dependencies of the read-only API. Nil collaborators
// answer with an unsupported error.
type Config struct {
	ChainID    int64
	Tokens     Tokens
	Prices     Prices
	Allowances Allowances
	Markets    Markets
	Metrics    *metrics.Recorder
	Logger     zerolog.Logger
	Timeout    time.Duration
}

type Server struct {
	cfg    Config
	log    zerolog.Logger
	now    func() time.Time
	router http.Handler
}

func New(cfg Config) *Server {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	s := &Server{
		cfg: cfg,
		log: cfg.Logger.With().Str("component", "api").Int64("chain_id", cfg.ChainID).Logger(),
		now: time.Now,
	}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("api listening")
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return clierr.Wrap(clierr.CodeInternal, "serve api", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return clierr.Wrap(clierr.CodeInternal, "shutdown api", err)
		}
		return nil
	}
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(s.accessLog)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", s.cfg.Metrics.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Get("/tokens", s.handleTokens)
		v1.Get("/balances/{account}", s.handleBalances)
		v1.Get("/prices", s.handlePrices)
		v1.Get("/allowance", s.handleAllowance)
		v1.Get("/markets", s.handleMarkets)
	})
	return r
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := s.now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(started)).
			Msg("request")
	})
}

func (s *Server) context(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.cfg.Timeout)
}

func (s *Server) handleTokens(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Tokens == nil {
		s.writeError(w, r, unavailable("tokens"))
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()

	tokens, report, err := s.cfg.Tokens.SupportedEntitiesReport(ctx)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeReport(w, r, tokens, report)
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Tokens == nil {
		s.writeError(w, r, unavailable("balances"))
		return
	}
	account, err := id.ParseAddress(chi.URLParam(r, "account"), "account")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	filter, err := parseAddressList(r.URL.Query().Get("tokens"), "tokens")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()

	balances, report, err := s.cfg.Tokens.BalancesReport(ctx, account, filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeReport(w, r, balances, report)
}

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Prices == nil {
		s.writeError(w, r, unavailable("prices"))
		return
	}
	addrs, err := parseAddressList(r.URL.Query().Get("tokens"), "tokens")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(addrs) == 0 {
		s.writeError(w, r, clierr.New(clierr.CodeUsage, "tokens query parameter is required"))
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()

	prices, err := s.cfg.Prices.PriceOfMany(ctx, addrs)
	if err != nil && len(prices) == 0 {
		s.writeError(w, r, err)
		return
	}
	var warnings []string
	if err != nil {
		warnings = splitJoined(err)
	}
	s.write(w, r, http.StatusOK, s.envelope(r, prices, warnings, nil, err != nil))
}

func (s *Server) handleAllowance(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Allowances == nil {
		s.writeError(w, r, unavailable("allowance"))
		return
	}
	q := r.URL.Query()
	var query approval.AllowanceQuery
	for _, field := range []struct {
		name string
		dst  *string
	}{
		{"account", &query.Account},
		{"vault", &query.Vault},
		{"vault_token", &query.VaultToken},
		{"token", &query.Token},
	} {
		addr, err := id.ParseAddress(q.Get(field.name), field.name)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		*field.dst = addr
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()

	allowance, err := s.cfg.Allowances.Allowance(ctx, query)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.write(w, r, http.StatusOK, s.envelope(r, allowance, nil, nil, false))
}

func (s *Server) handleMarkets(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Markets == nil {
		s.writeError(w, r, unavailable("markets"))
		return
	}
	filter, err := parseAddressList(r.URL.Query().Get("addresses"), "addresses")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()

	markets, err := s.cfg.Markets.Get(ctx, filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.write(w, r, http.StatusOK, s.envelope(r, markets, nil, nil, false))
}

func (s *Server) writeReport(w http.ResponseWriter, r *http.Request, data any, report engine.Report) {
	env := s.envelope(r, data, nil, report.Providers, report.Partial)
	if report.Cached {
		env.Meta.Cache = model.CacheStatus{Status: "hit", AgeMS: report.Age.Milliseconds()}
	} else {
		env.Meta.Cache = model.CacheStatus{Status: "miss"}
	}
	s.write(w, r, http.StatusOK, env)
}

func (s *Server) envelope(r *http.Request, data any, warnings []string, providers []model.ProviderStatus, partial bool) model.Envelope {
	return model.Envelope{
		Version:  model.EnvelopeVersion,
		Success:  true,
		Data:     data,
		Warnings: warnings,
		Meta: model.EnvelopeMeta{
			RequestID: requestID(r),
			Timestamp: s.now().UTC(),
			Command:   r.URL.Path,
			ChainID:   s.cfg.ChainID,
			Providers: providers,
			Cache:     model.CacheStatus{Status: "bypass"},
			Partial:   partial,
		},
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := clierr.ExitCode(err)
	message := err.Error()
	if cErr, ok := clierr.As(err); ok {
		message = cErr.Error()
	}
	env := s.envelope(r, []any{}, nil, nil, false)
	env.Success = false
	env.Error = &model.ErrorBody{Code: code, Type: ErrorType(err), Message: message}
	if code == int(clierr.CodeInternal) {
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	s.write(w, r, httpStatus(err), env)
}

func (s *Server) write(w http.ResponseWriter, _ *http.Request, status int, env model.Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		s.log.Warn().Err(err).Msg("encode response")
	}
}

// ErrorType maps an error to the stable envelope error type.
func ErrorType(err error) string {
	cErr, ok := clierr.As(err)
	if !ok {
		return "internal_error"
	}
	switch cErr.Code {
	case clierr.CodeUsage:
		return "usage_error"
	case clierr.CodeAuth:
		return "auth_error"
	case clierr.CodeRateLimited:
		return "rate_limited"
	case clierr.CodeUnavailable:
		return "provider_unavailable"
	case clierr.CodeUnsupported:
		return "unsupported"
	case clierr.CodeUnsupportedNetwork:
		return "unsupported_network"
	case clierr.CodeProvider:
		return "provider_failure"
	case clierr.CodeConsistency:
		return "merge_consistency"
	case clierr.CodeTransaction:
		return "transaction_error"
	case clierr.CodeSigner:
		return "signer_error"
	case clierr.CodeBlocked:
		return "command_blocked"
	default:
		return "internal_error"
	}
}

func httpStatus(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	cErr, ok := clierr.As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch cErr.Code {
	case clierr.CodeUsage:
		return http.StatusBadRequest
	case clierr.CodeAuth:
		return http.StatusUnauthorized
	case clierr.CodeRateLimited:
		return http.StatusTooManyRequests
	case clierr.CodeUnsupported, clierr.CodeUnsupportedNetwork:
		return http.StatusNotImplemented
	case clierr.CodeUnavailable, clierr.CodeProvider, clierr.CodeConsistency:
		return http.StatusBadGateway
	case clierr.CodeBlocked:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func unavailable(what string) error {
	return clierr.New(clierr.CodeUnsupported, what+" is not available on this network")
}

func requestID(r *http.Request) string {
	if v := chimw.GetReqID(r.Context()); v != "" {
		return v
	}
	return uuid.NewString()
}

func parseAddressList(raw, field string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		addr, err := id.ParseAddress(part, field)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}

func splitJoined(err error) []string {
	var out []string
	for _, line := range strings.Split(err.Error(), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
