// Package approval decides whether spending a token through a vault needs
// an ERC20 approval first, and submits the approval when it does.
package approval

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ggonzalez94/defi-tokens/internal/capability"
	clierr "github.com/ggonzalez94/defi-tokens/internal/errors"
	"github.com/ggonzalez94/defi-tokens/internal/id"
	"github.com/ggonzalez94/defi-tokens/internal/model"
	"github.com/ggonzalez94/defi-tokens/internal/registry"
)

const defaultProtocol = "yearn"

// Path names how an approval is granted.
const (
	PathNone   = "none"
	PathDirect = "direct"
	PathRouter = "router"
)

// maxAllowance is reported for assets that never need approval.
var maxAllowance = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

var erc20ABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(registry.ERC20ABI))
	if err != nil {
		panic(err)
	}
	return parsed
}()

// AllowanceReader reads ERC20 allowances on chain.
type AllowanceReader interface {
	Allowance(ctx context.Context, token, owner, spender string) (*big.Int, error)
}

// Router is the liquidity router's approval surface.
type Router interface {
	GasPrice(ctx context.Context) (model.GasPrice, error)
	ZapInApprovalState(ctx context.Context, account, token, protocol string) (model.ApprovalState, error)
	ZapInApprovalTransaction(ctx context.Context, account, token, gasPriceWei, protocol string) (model.RawTx, error)
	ZapOutApprovalState(ctx context.Context, account, vault, protocol string) (model.ApprovalState, error)
	ZapOutApprovalTransaction(ctx context.Context, account, vault, gasPriceWei, protocol string) (model.RawTx, error)
}

// Sender signs and broadcasts a transaction.
type Sender interface {
	SendTransaction(ctx context.Context, tx model.RawTx) (model.Submission, error)
}

type Config struct {
	ChainID    int64
	Matrix     capability.Matrix
	Allowances AllowanceReader
	Router     Router
	Sender     Sender
	// Partner routes direct deposits through a partner contract when set.
	Partner  string
	Protocol string
	Logger   zerolog.Logger
}

// DepositIntent asks to let Vault spend Amount of Token from Account.
// VaultToken is the underlying token the vault accepts directly.
type DepositIntent struct {
	Account    string
	Vault      string
	VaultToken string
	Token      string
	Amount     *big.Int
}

// WithdrawalIntent asks to withdraw Vault shares into Token.
type WithdrawalIntent struct {
	Account string
	Vault   string
	Token   string
}

type AllowanceQuery struct {
	Account    string
	Vault      string
	VaultToken string
	Token      string
}

// Outcome is the terminal result of one evaluation.
type Outcome struct {
	State      State             `json:"state"`
	Path       string            `json:"path"`
	Spender    string            `json:"spender,omitempty"`
	Required   bool              `json:"required"`
	Submission *model.Submission `json:"submission,omitempty"`
	Trace      []State           `json:"trace"`
}

type Workflow struct {
	chainID    int64
	matrix     capability.Matrix
	allowances AllowanceReader
	router     Router
	sender     Sender
	partner    string
	protocol   string
	log        zerolog.Logger
}

func New(cfg Config) *Workflow {
	protocol := strings.TrimSpace(cfg.Protocol)
	if protocol == "" {
		protocol = defaultProtocol
	}
	return &Workflow{
		chainID:    cfg.ChainID,
		matrix:     cfg.Matrix,
		allowances: cfg.Allowances,
		router:     cfg.Router,
		sender:     cfg.Sender,
		partner:    id.NormalizeAddress(cfg.Partner),
		protocol:   protocol,
		log:        cfg.Logger.With().Str("component", "approval").Int64("chain_id", cfg.ChainID).Logger(),
	}
}

// ApproveDeposit ensures intent.Vault (or the partner contract) may spend
// intent.Amount of intent.Token. It approves exactly the requested amount and
// never resets an existing allowance first.
func (w *Workflow) ApproveDeposit(ctx context.Context, intent DepositIntent) (Outcome, error) {
	m := newMachine()
	if err := m.to(StateEvaluating); err != nil {
		return Outcome{}, err
	}
	account, err := id.ParseAddress(intent.Account, "account")
	if err != nil {
		return Outcome{}, err
	}
	vault, err := id.ParseAddress(intent.Vault, "vault")
	if err != nil {
		return Outcome{}, err
	}
	token, err := id.ParseAddress(intent.Token, "token")
	if err != nil {
		return Outcome{}, err
	}
	if intent.Amount == nil || intent.Amount.Sign() <= 0 {
		return Outcome{}, clierr.New(clierr.CodeUsage, "amount must be greater than zero")
	}

	if id.IsNative(token) {
		return w.settle(m, PathNone, "")
	}

	if token == id.NormalizeAddress(intent.VaultToken) {
		spender := w.spender(vault)
		current, err := w.readAllowance(ctx, token, account, spender)
		if err != nil {
			return Outcome{}, err
		}
		if current.Cmp(intent.Amount) >= 0 {
			return w.settle(m, PathDirect, spender)
		}
		if err := m.to(StateDirectApprovalNeeded); err != nil {
			return Outcome{}, err
		}
		data, err := erc20ABI.Pack("approve", common.HexToAddress(spender), intent.Amount)
		if err != nil {
			return Outcome{}, clierr.Transaction("build approve transaction", err)
		}
		tx := model.RawTx{From: account, To: token, Data: hexutil.Encode(data), Value: "0"}
		return w.submit(ctx, m, PathDirect, spender, tx)
	}

	if err := w.requireRouter(); err != nil {
		return Outcome{}, err
	}
	state, err := w.router.ZapInApprovalState(ctx, account, token, w.protocol)
	if err != nil {
		return Outcome{}, clierr.Transaction("read router approval state", err)
	}
	if state.IsApproved {
		return w.settle(m, PathRouter, state.Spender)
	}
	if err := m.to(StateRouterApprovalNeeded); err != nil {
		return Outcome{}, err
	}
	gasPrice, err := w.fastGasPrice(ctx)
	if err != nil {
		return Outcome{}, err
	}
	tx, err := w.router.ZapInApprovalTransaction(ctx, account, token, gasPrice, w.protocol)
	if err != nil {
		return Outcome{}, clierr.Transaction("build router approval transaction", err)
	}
	return w.submit(ctx, m, PathRouter, state.Spender, tx)
}

// Allowance reports what the relevant spender may currently spend without
// changing anything. Native assets never need approval and report the
// maximal allowance.
func (w *Workflow) Allowance(ctx context.Context, q AllowanceQuery) (model.Allowance, error) {
	account, err := id.ParseAddress(q.Account, "account")
	if err != nil {
		return model.Allowance{}, err
	}
	vault, err := id.ParseAddress(q.Vault, "vault")
	if err != nil {
		return model.Allowance{}, err
	}
	token, err := id.ParseAddress(q.Token, "token")
	if err != nil {
		return model.Allowance{}, err
	}
	spender := w.spender(vault)

	if id.IsNative(token) {
		return model.Allowance{Owner: account, Spender: spender, Token: token, Amount: maxAllowance.String()}, nil
	}
	if token == id.NormalizeAddress(q.VaultToken) {
		current, err := w.readAllowance(ctx, token, account, spender)
		if err != nil {
			return model.Allowance{}, err
		}
		return model.Allowance{Owner: account, Spender: spender, Token: token, Amount: current.String()}, nil
	}

	if err := w.requireRouter(); err != nil {
		return model.Allowance{}, err
	}
	state, err := w.router.ZapInApprovalState(ctx, account, token, w.protocol)
	if err != nil {
		return model.Allowance{}, clierr.Transaction("read router approval state", err)
	}
	amount := state.Allowance
	if amount == "" {
		amount = "0"
	}
	owner := account
	if state.Owner != "" {
		owner = id.NormalizeAddress(state.Owner)
	}
	return model.Allowance{
		Owner:   owner,
		Spender: id.NormalizeAddress(state.Spender),
		Token:   token,
		Amount:  amount,
	}, nil
}

// ApproveZapOut approves the router to pull vault shares when withdrawing
// into a token other than the vault's own share token.
func (w *Workflow) ApproveZapOut(ctx context.Context, intent WithdrawalIntent) (Outcome, error) {
	m := newMachine()
	if err := m.to(StateEvaluating); err != nil {
		return Outcome{}, err
	}
	account, err := id.ParseAddress(intent.Account, "account")
	if err != nil {
		return Outcome{}, err
	}
	vault, err := id.ParseAddress(intent.Vault, "vault")
	if err != nil {
		return Outcome{}, err
	}
	token, err := id.ParseAddress(intent.Token, "token")
	if err != nil {
		return Outcome{}, err
	}
	if token == vault {
		return w.settle(m, PathNone, "")
	}

	if err := w.requireRouter(); err != nil {
		return Outcome{}, err
	}
	state, err := w.router.ZapOutApprovalState(ctx, account, vault, w.protocol)
	if err != nil {
		return Outcome{}, clierr.Transaction("read router zap-out approval state", err)
	}
	if state.IsApproved {
		return w.settle(m, PathRouter, state.Spender)
	}
	if err := m.to(StateRouterApprovalNeeded); err != nil {
		return Outcome{}, err
	}
	gasPrice, err := w.fastGasPrice(ctx)
	if err != nil {
		return Outcome{}, err
	}
	tx, err := w.router.ZapOutApprovalTransaction(ctx, account, vault, gasPrice, w.protocol)
	if err != nil {
		return Outcome{}, clierr.Transaction("build router zap-out approval transaction", err)
	}
	return w.submit(ctx, m, PathRouter, state.Spender, tx)
}

func (w *Workflow) spender(vault string) string {
	if w.partner != "" {
		return w.partner
	}
	return vault
}

func (w *Workflow) readAllowance(ctx context.Context, token, owner, spender string) (*big.Int, error) {
	if w.allowances == nil {
		if !w.matrix.Supports(w.chainID) {
			return nil, clierr.UnsupportedNetwork(w.chainID)
		}
		return nil, clierr.New(clierr.CodeUnsupported, "allowance reader not configured")
	}
	current, err := w.allowances.Allowance(ctx, token, owner, spender)
	if err != nil {
		return nil, clierr.Transaction("read allowance", err)
	}
	if current == nil {
		return new(big.Int), nil
	}
	return current, nil
}

func (w *Workflow) requireRouter() error {
	if !w.matrix.Supports(w.chainID) {
		return clierr.UnsupportedNetwork(w.chainID)
	}
	if w.router == nil || w.matrix.Rank(w.chainID, model.SourceAggregator) < 0 {
		return clierr.New(clierr.CodeUnsupported, fmt.Sprintf("router approvals are not available on chain %d", w.chainID))
	}
	return nil
}

// fastGasPrice returns the router's fast gas tier converted from gwei to wei.
func (w *Workflow) fastGasPrice(ctx context.Context) (string, error) {
	prices, err := w.router.GasPrice(ctx)
	if err != nil {
		return "", clierr.Transaction("read gas price", err)
	}
	return GweiToWei(prices.Fast)
}

func GweiToWei(gwei string) (string, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(gwei))
	if err != nil {
		return "", clierr.Transaction(fmt.Sprintf("invalid gas price %q", gwei), err)
	}
	if value.IsNegative() {
		return "", clierr.New(clierr.CodeTransaction, fmt.Sprintf("invalid gas price %q", gwei))
	}
	return value.Shift(9).BigInt().String(), nil
}

func (w *Workflow) settle(m *machine, path, spender string) (Outcome, error) {
	if err := m.to(StateAlreadySufficient); err != nil {
		return Outcome{}, err
	}
	return Outcome{State: m.state, Path: path, Spender: id.NormalizeAddress(spender), Trace: m.trace}, nil
}

func (w *Workflow) submit(ctx context.Context, m *machine, path, spender string, tx model.RawTx) (Outcome, error) {
	if w.sender == nil {
		return Outcome{}, clierr.New(clierr.CodeSigner, "no transaction sender configured")
	}
	submission, err := w.sender.SendTransaction(ctx, tx)
	if err != nil {
		if _, ok := clierr.As(err); ok {
			return Outcome{}, err
		}
		return Outcome{}, clierr.Transaction("submit approval transaction", err)
	}
	if err := m.to(StateCompleted); err != nil {
		return Outcome{}, err
	}
	w.log.Info().Str("path", path).Str("spender", spender).Str("hash", submission.Hash).Msg("approval submitted")
	return Outcome{
		State:      m.state,
		Path:       path,
		Spender:    id.NormalizeAddress(spender),
		Required:   true,
		Submission: &submission,
		Trace:      m.trace,
	}, nil
}
