package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/ggonzalez94/defi-tokens/internal/approval"
	"github.com/ggonzalez94/defi-tokens/internal/engine"
	clierr "github.com/ggonzalez94/defi-tokens/internal/errors"
	"github.com/ggonzalez94/defi-tokens/internal/metrics"
	"github.com/ggonzalez94/defi-tokens/internal/model"
)

const (
	account = "0x1111111111111111111111111111111111111111"
	usdc    = "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
	dai     = "0x6b175474e89094c44da98b954eedeac495271d0f"
)

type stubTokens struct {
	tokens     []model.Token
	balances   []model.Balance
	report     engine.Report
	gotAccount string
	gotFilter  []string
}

func (s *stubTokens) SupportedEntitiesReport(context.Context) ([]model.Token, engine.Report, error) {
	return s.tokens, s.report, nil
}

func (s *stubTokens) BalancesReport(_ context.Context, account string, filter []string) ([]model.Balance, engine.Report, error) {
	s.gotAccount = account
	s.gotFilter = filter
	return s.balances, s.report, nil
}

type stubPrices struct {
	prices map[string]string
	err    error
}

func (s stubPrices) PriceOfMany(context.Context, []string) (map[string]string, error) {
	return s.prices, s.err
}

type stubAllowances struct {
	got approval.AllowanceQuery
	err error
}

func (s *stubAllowances) Allowance(_ context.Context, q approval.AllowanceQuery) (model.Allowance, error) {
	s.got = q
	if s.err != nil {
		return model.Allowance{}, s.err
	}
	return model.Allowance{Owner: q.Account, Spender: q.Vault, Token: q.Token, Amount: "42"}, nil
}

type stubMarkets struct {
	err error
}

func (s stubMarkets) Get(context.Context, []string) ([]model.Market, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []model.Market{{MarketStatic: model.MarketStatic{Address: usdc, Symbol: "iUSDC"}}}, nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code int    `json:"code"`
		Type string `json:"type"`
	} `json:"error"`
	Warnings []string `json:"warnings"`
	Meta     struct {
		ChainID   int64                  `json:"chain_id"`
		Providers []model.ProviderStatus `json:"providers"`
		Partial   bool                   `json:"partial"`
		Cache     model.CacheStatus      `json:"cache"`
	} `json:"meta"`
}

func newTestServer(cfg Config) *httptest.Server {
	cfg.ChainID = 1
	cfg.Logger = zerolog.Nop()
	return httptest.NewServer(New(cfg).Handler())
}

func get(t *testing.T, srv *httptest.Server, path string) (int, envelope) {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(Config{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTokensCarriesProviderStatuses(t *testing.T) {
	tokens := &stubTokens{
		tokens: []model.Token{{Address: usdc, Symbol: "USDC", DataSources: []model.DataSource{model.SourceVaults}}},
		report: engine.Report{
			Providers: []model.ProviderStatus{{Name: "vaults", Status: "ok"}, {Name: "aggregator", Status: "error"}},
			Partial:   true,
		},
	}
	srv := newTestServer(Config{Tokens: tokens})
	defer srv.Close()

	status, env := get(t, srv, "/v1/tokens")
	require.Equal(t, http.StatusOK, status)
	require.True(t, env.Success)
	require.True(t, env.Meta.Partial)
	require.Equal(t, int64(1), env.Meta.ChainID)
	require.Len(t, env.Meta.Providers, 2)
	require.Equal(t, "miss", env.Meta.Cache.Status)

	var got []model.Token
	require.NoError(t, json.Unmarshal(env.Data, &got))
	require.Len(t, got, 1)
	require.Equal(t, "USDC", got[0].Symbol)
}

func TestBalancesNormalizesInputs(t *testing.T) {
	tokens := &stubTokens{balances: []model.Balance{{Address: usdc, Owner: account, Amount: "100"}}}
	srv := newTestServer(Config{Tokens: tokens})
	defer srv.Close()

	status, env := get(t, srv, "/v1/balances/"+account+"?tokens=nope")
	require.Equal(t, http.StatusBadRequest, status)
	require.False(t, env.Success)
	require.Equal(t, "usage_error", env.Error.Type)

	status, env = get(t, srv, "/v1/balances/"+account+"?tokens=0x"+strings.ToUpper(usdc[2:])+","+dai)
	require.Equal(t, http.StatusOK, status)
	require.True(t, env.Success)
	require.Equal(t, account, tokens.gotAccount)
	require.Equal(t, []string{usdc, dai}, tokens.gotFilter)
}

func TestBalancesRejectsBadAccount(t *testing.T) {
	srv := newTestServer(Config{Tokens: &stubTokens{}})
	defer srv.Close()

	status, env := get(t, srv, "/v1/balances/not-an-address")
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, int(clierr.CodeUsage), env.Error.Code)
}

func TestPricesPartialFailureBecomesWarning(t *testing.T) {
	prices := stubPrices{
		prices: map[string]string{usdc: "1"},
		err:    errors.Join(fmt.Errorf("%s: %w", dai, clierr.New(clierr.CodeUnavailable, "no quote"))),
	}
	srv := newTestServer(Config{Prices: prices})
	defer srv.Close()

	status, env := get(t, srv, "/v1/prices?tokens="+usdc+","+dai)
	require.Equal(t, http.StatusOK, status)
	require.True(t, env.Meta.Partial)
	require.Len(t, env.Warnings, 1)
	require.Contains(t, env.Warnings[0], dai)

	var got map[string]string
	require.NoError(t, json.Unmarshal(env.Data, &got))
	require.Equal(t, "1", got[usdc])
}

func TestPricesRequiresTokens(t *testing.T) {
	srv := newTestServer(Config{Prices: stubPrices{}})
	defer srv.Close()

	status, _ := get(t, srv, "/v1/prices")
	require.Equal(t, http.StatusBadRequest, status)
}

func TestAllowance(t *testing.T) {
	allowances := &stubAllowances{}
	srv := newTestServer(Config{Allowances: allowances})
	defer srv.Close()

	status, env := get(t, srv, "/v1/allowance?account="+account+"&vault="+dai+"&vault_token="+dai+"&token="+usdc)
	require.Equal(t, http.StatusOK, status)
	require.True(t, env.Success)
	require.Equal(t, approval.AllowanceQuery{Account: account, Vault: dai, VaultToken: dai, Token: usdc}, allowances.got)

	status, env = get(t, srv, "/v1/allowance?account="+account+"&vault="+dai+"&token="+usdc)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "usage_error", env.Error.Type)
}

func TestAllowanceUnsupportedNetwork(t *testing.T) {
	srv := newTestServer(Config{Allowances: &stubAllowances{err: clierr.UnsupportedNetwork(42)}})
	defer srv.Close()

	status, env := get(t, srv, "/v1/allowance?account="+account+"&vault="+dai+"&vault_token="+dai+"&token="+usdc)
	require.Equal(t, http.StatusNotImplemented, status)
	require.Equal(t, "unsupported_network", env.Error.Type)
}

func TestMarketsConsistencyError(t *testing.T) {
	srv := newTestServer(Config{Markets: stubMarkets{err: clierr.Consistency("missing dynamic record")}})
	defer srv.Close()

	status, env := get(t, srv, "/v1/markets")
	require.Equal(t, http.StatusBadGateway, status)
	require.Equal(t, "merge_consistency", env.Error.Type)
}

func TestMissingCollaboratorIsUnsupported(t *testing.T) {
	srv := newTestServer(Config{})
	defer srv.Close()

	status, env := get(t, srv, "/v1/markets")
	require.Equal(t, http.StatusNotImplemented, status)
	require.Equal(t, "unsupported", env.Error.Type)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := metrics.New()
	rec.CacheLookup("tokens", "hit")
	srv := newTestServer(Config{Metrics: rec})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
