package model

import "time"

const EnvelopeVersion = "v1"

type Envelope struct {
	Version  string       `json:"version"`
	Success  bool         `json:"success"`
	Data     any          `json:"data,omitempty"`
	Error    *ErrorBody   `json:"error"`
	Warnings []string     `json:"warnings,omitempty"`
	Meta     EnvelopeMeta `json:"meta"`
}

type ErrorBody struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

type EnvelopeMeta struct {
	RequestID string           `json:"request_id"`
	Timestamp time.Time        `json:"timestamp"`
	Command   string           `json:"command"`
	ChainID   int64            `json:"chain_id,omitempty"`
	Providers []ProviderStatus `json:"providers,omitempty"`
	Cache     CacheStatus      `json:"cache"`
	Partial   bool             `json:"partial"`
}

type ProviderStatus struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
}

type CacheStatus struct {
	Status string `json:"status"`
	AgeMS  int64  `json:"age_ms"`
}

// DataSource tags the upstream that contributed a record.
type DataSource string

const (
	SourceVaults        DataSource = "vaults"
	SourceLendingMarket DataSource = "lendingMarket"
	SourceAggregator    DataSource = "aggregator"
)

// AllSources lists every provider kind in default precedence order.
var AllSources = []DataSource{SourceVaults, SourceLendingMarket, SourceAggregator}

func (s DataSource) Valid() bool {
	switch s {
	case SourceVaults, SourceLendingMarket, SourceAggregator:
		return true
	}
	return false
}

type ProviderInfo struct {
	Name         string   `json:"name"`
	Kind         string   `json:"kind"`
	RequiresKey  bool     `json:"requires_key"`
	Capabilities []string `json:"capabilities"`
	KeyEnvVar    string   `json:"key_env_var,omitempty"`
}

// Token is an entity record keyed by its lowercase address.
type Token struct {
	Address     string       `json:"address"`
	Symbol      string       `json:"symbol"`
	Name        string       `json:"name"`
	Decimals    int          `json:"decimals"`
	Icon        string       `json:"icon,omitempty"`
	PriceUSD    string       `json:"price_usd,omitempty"`
	DataSources []DataSource `json:"data_sources"`
}

func (t Token) HasSource(source DataSource) bool {
	for _, s := range t.DataSources {
		if s == source {
			return true
		}
	}
	return false
}

// Balance pairs a token with an owner and a base-unit integer amount.
type Balance struct {
	Address string `json:"address"`
	Owner   string `json:"owner"`
	Amount  string `json:"amount"`
	// AmountDecimal is Amount scaled by the token's decimals.
	AmountDecimal string     `json:"amount_decimal,omitempty"`
	Source        DataSource `json:"source"`
	Token         Token      `json:"token"`
}

// RawBalance is a balance as reported by one provider before it is joined
// with the supported token set.
type RawBalance struct {
	Address string
	Owner   string
	Amount  string
}

// ERC20 is on-chain token metadata.
type ERC20 struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals int    `json:"decimals"`
}

// MarketStatic holds the slow-changing attributes of a lending market.
type MarketStatic struct {
	Address         string `json:"address"`
	Name            string `json:"name"`
	Symbol          string `json:"symbol"`
	Decimals        int    `json:"decimals"`
	UnderlyingToken string `json:"underlying_token"`
}

// MarketDynamic holds the fast-changing attributes of a lending market.
type MarketDynamic struct {
	Address                 string `json:"address"`
	UnderlyingTokenAddress  string `json:"underlying_token_address"`
	LendAPY                 string `json:"lend_apy"`
	BorrowAPY               string `json:"borrow_apy"`
	TotalSuppliedUSDC       string `json:"total_supplied_usdc"`
	TotalBorrowedUSDC       string `json:"total_borrowed_usdc"`
	LiquidityUSDC           string `json:"liquidity_usdc"`
	CollateralFactor        string `json:"collateral_factor"`
	ExchangeRate            string `json:"exchange_rate"`
	IsActive                bool   `json:"is_active"`
	UnderlyingTokenPriceUSD string `json:"underlying_token_price_usdc"`
}

// Market is a static record joined with its dynamic counterpart.
type Market struct {
	MarketStatic
	Metadata MarketDynamic `json:"metadata"`
}

// Position is one account's supply or borrow in a lending market.
type Position struct {
	AssetAddress string `json:"asset_address"`
	TokenAddress string `json:"token_address"`
	// Type is "LEND" or "BORROW" as reported by the lens.
	Type        string `json:"type"`
	Balance     string `json:"balance"`
	BalanceUSDC string `json:"balance_usdc"`
}

// LendingSummary aggregates an account's positions across every market.
type LendingSummary struct {
	Account           string `json:"account"`
	SupplyBalanceUSDC string `json:"supply_balance_usdc"`
	BorrowBalanceUSDC string `json:"borrow_balance_usdc"`
	BorrowLimitUSDC   string `json:"borrow_limit_usdc"`
	UtilizationRatio  string `json:"utilization_ratio"`
}

// MarketUserMetadata is an account's standing in one lending market.
type MarketUserMetadata struct {
	AssetAddress          string `json:"asset_address"`
	EnteredMarket         bool   `json:"entered_market"`
	SupplyBalanceUSDC     string `json:"supply_balance_usdc"`
	BorrowBalanceUSDC     string `json:"borrow_balance_usdc"`
	CollateralBalanceUSDC string `json:"collateral_balance_usdc"`
	BorrowLimitUSDC       string `json:"borrow_limit_usdc"`
}

// TokenMetadata is descriptive token data from the metadata service.
type TokenMetadata struct {
	Address     string   `json:"address"`
	Description string   `json:"description"`
	Website     string   `json:"website,omitempty"`
	Categories  []string `json:"categories,omitempty"`
}

type Allowance struct {
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
	Token   string `json:"token"`
	Amount  string `json:"amount"`
}

// GasPrice tiers as quoted by the liquidity router, in gwei.
type GasPrice struct {
	Standard string `json:"standard"`
	Instant  string `json:"instant"`
	Fast     string `json:"fast"`
}

type ApprovalState struct {
	IsApproved bool   `json:"is_approved"`
	Owner      string `json:"owner"`
	Spender    string `json:"spender"`
	TokenAddr  string `json:"token_address"`
	Allowance  string `json:"allowance"`
}

// RawTx is an unsigned transaction request. Value and GasPrice are wei
// integer strings.
type RawTx struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Data     string `json:"data"`
	Value    string `json:"value,omitempty"`
	GasPrice string `json:"gas_price,omitempty"`
}

// Submission is the result of broadcasting a RawTx.
type Submission struct {
	ID          string    `json:"id"`
	ChainID     int64     `json:"chain_id"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Hash        string    `json:"hash"`
	Nonce       uint64    `json:"nonce"`
	Gas         uint64    `json:"gas"`
	SubmittedAt time.Time `json:"submitted_at"`
}

type Network struct {
	ChainID   int64        `json:"chain_id"`
	Name      string       `json:"name"`
	Providers []DataSource `json:"providers"`
}
