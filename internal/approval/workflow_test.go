package approval

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/ggonzalez94/defi-tokens/internal/capability"
	clierr "github.com/ggonzalez94/defi-tokens/internal/errors"
	"github.com/ggonzalez94/defi-tokens/internal/id"
	"github.com/ggonzalez94/defi-tokens/internal/model"
)

const (
	account    = "0x1111111111111111111111111111111111111111"
	vault      = "0x2222222222222222222222222222222222222222"
	underlying = "0x3333333333333333333333333333333333333333"
	other      = "0x4444444444444444444444444444444444444444"
	partner    = "0x5555555555555555555555555555555555555555"
	zapper     = "0x6666666666666666666666666666666666666666"
)

type fakeAllowances struct {
	amount *big.Int
	err    error
	calls  []string
}

func (f *fakeAllowances) Allowance(_ context.Context, token, owner, spender string) (*big.Int, error) {
	f.calls = append(f.calls, token+"|"+owner+"|"+spender)
	return f.amount, f.err
}

type fakeRouter struct {
	approved bool
	fast     string
	owner    string

	stateCalls, zapOutStateCalls, gasCalls int
	gasPriceWei                            string
}

func (f *fakeRouter) GasPrice(context.Context) (model.GasPrice, error) {
	f.gasCalls++
	return model.GasPrice{Standard: "1", Instant: "2", Fast: f.fast}, nil
}

func (f *fakeRouter) ZapInApprovalState(_ context.Context, acct, token, protocol string) (model.ApprovalState, error) {
	f.stateCalls++
	owner := acct
	if f.owner != "" {
		owner = f.owner
	}
	return model.ApprovalState{IsApproved: f.approved, Owner: owner, Spender: zapper, TokenAddr: token, Allowance: "12"}, nil
}

func (f *fakeRouter) ZapInApprovalTransaction(_ context.Context, acct, token, gasPriceWei, protocol string) (model.RawTx, error) {
	f.gasPriceWei = gasPriceWei
	return model.RawTx{From: acct, To: token, Data: "0x095ea7b3", GasPrice: gasPriceWei}, nil
}

func (f *fakeRouter) ZapOutApprovalState(_ context.Context, acct, v, protocol string) (model.ApprovalState, error) {
	f.zapOutStateCalls++
	return model.ApprovalState{IsApproved: f.approved, Owner: acct, Spender: zapper, TokenAddr: v}, nil
}

func (f *fakeRouter) ZapOutApprovalTransaction(_ context.Context, acct, v, gasPriceWei, protocol string) (model.RawTx, error) {
	f.gasPriceWei = gasPriceWei
	return model.RawTx{From: acct, To: v, Data: "0x095ea7b3", GasPrice: gasPriceWei}, nil
}

type fakeSender struct {
	sent []model.RawTx
	err  error
}

func (f *fakeSender) SendTransaction(_ context.Context, tx model.RawTx) (model.Submission, error) {
	if f.err != nil {
		return model.Submission{}, f.err
	}
	f.sent = append(f.sent, tx)
	return model.Submission{ID: "sub-1", ChainID: 1, From: tx.From, To: tx.To, Hash: "0xabc"}, nil
}

func newWorkflow(chainID int64, allowances *fakeAllowances, router *fakeRouter, sender *fakeSender, partnerAddr string) *Workflow {
	cfg := Config{
		ChainID:    chainID,
		Matrix:     capability.Default(),
		Allowances: allowances,
		Sender:     sender,
		Partner:    partnerAddr,
		Logger:     zerolog.Nop(),
	}
	if router != nil {
		cfg.Router = router
	}
	return New(cfg)
}

func TestApproveDepositNativeAssetNeedsNothing(t *testing.T) {
	allowances := &fakeAllowances{}
	router := &fakeRouter{}
	w := newWorkflow(1, allowances, router, &fakeSender{}, "")

	out, err := w.ApproveDeposit(context.Background(), DepositIntent{
		Account: account, Vault: vault, VaultToken: underlying, Token: id.NativeAssetAddress, Amount: big.NewInt(1),
	})
	require.NoError(t, err)
	require.Equal(t, StateAlreadySufficient, out.State)
	require.False(t, out.Required)
	require.Empty(t, allowances.calls)
	require.Zero(t, router.stateCalls)
}

func TestApproveDepositDirectSufficientAllowance(t *testing.T) {
	allowances := &fakeAllowances{amount: big.NewInt(100)}
	sender := &fakeSender{}
	w := newWorkflow(1, allowances, &fakeRouter{}, sender, "")

	out, err := w.ApproveDeposit(context.Background(), DepositIntent{
		Account: account, Vault: vault, VaultToken: underlying, Token: underlying, Amount: big.NewInt(50),
	})
	require.NoError(t, err)
	require.Equal(t, StateAlreadySufficient, out.State)
	require.Equal(t, PathDirect, out.Path)
	require.Equal(t, vault, out.Spender)
	require.Equal(t, []string{underlying + "|" + account + "|" + vault}, allowances.calls)
	require.Empty(t, sender.sent)
}

func TestApproveDepositDirectApprovesExactAmountToPartner(t *testing.T) {
	allowances := &fakeAllowances{amount: big.NewInt(10)}
	sender := &fakeSender{}
	w := newWorkflow(1, allowances, &fakeRouter{}, sender, partner)

	out, err := w.ApproveDeposit(context.Background(), DepositIntent{
		Account: account, Vault: vault, VaultToken: underlying, Token: underlying, Amount: big.NewInt(500),
	})
	require.NoError(t, err)
	require.Equal(t, StateCompleted, out.State)
	require.True(t, out.Required)
	require.Equal(t, partner, out.Spender)
	require.Equal(t, []State{StateNotStarted, StateEvaluating, StateDirectApprovalNeeded, StateCompleted}, out.Trace)
	require.Len(t, sender.sent, 1)

	tx := sender.sent[0]
	require.Equal(t, underlying, tx.To)
	data, err := hexutil.Decode(tx.Data)
	require.NoError(t, err)
	method := erc20ABI.Methods["approve"]
	require.Equal(t, method.ID, data[:4])
	args, err := method.Inputs.Unpack(data[4:])
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress(partner), args[0])
	require.Equal(t, big.NewInt(500), args[1])
}

func TestApproveDepositRouterPathUsesFastGasInWei(t *testing.T) {
	router := &fakeRouter{fast: "3"}
	sender := &fakeSender{}
	w := newWorkflow(1, &fakeAllowances{}, router, sender, "")

	out, err := w.ApproveDeposit(context.Background(), DepositIntent{
		Account: account, Vault: vault, VaultToken: underlying, Token: other, Amount: big.NewInt(1),
	})
	require.NoError(t, err)
	require.Equal(t, StateCompleted, out.State)
	require.Equal(t, PathRouter, out.Path)
	require.Equal(t, "3000000000", router.gasPriceWei)
	require.Equal(t, []State{StateNotStarted, StateEvaluating, StateRouterApprovalNeeded, StateCompleted}, out.Trace)
	require.Len(t, sender.sent, 1)
	require.Equal(t, "3000000000", sender.sent[0].GasPrice)
}

func TestApproveDepositRouterAlreadyApproved(t *testing.T) {
	router := &fakeRouter{approved: true}
	sender := &fakeSender{}
	w := newWorkflow(1, &fakeAllowances{}, router, sender, "")

	out, err := w.ApproveDeposit(context.Background(), DepositIntent{
		Account: account, Vault: vault, VaultToken: underlying, Token: other, Amount: big.NewInt(1),
	})
	require.NoError(t, err)
	require.Equal(t, StateAlreadySufficient, out.State)
	require.Equal(t, zapper, out.Spender)
	require.Zero(t, router.gasCalls)
	require.Empty(t, sender.sent)
}

func TestApproveDepositRouterUnavailableOffMainnet(t *testing.T) {
	w := newWorkflow(250, &fakeAllowances{}, &fakeRouter{}, &fakeSender{}, "")
	_, err := w.ApproveDeposit(context.Background(), DepositIntent{
		Account: account, Vault: vault, VaultToken: underlying, Token: other, Amount: big.NewInt(1),
	})
	require.True(t, clierr.HasCode(err, clierr.CodeUnsupported))

	w = newWorkflow(42, &fakeAllowances{}, &fakeRouter{}, &fakeSender{}, "")
	_, err = w.ApproveDeposit(context.Background(), DepositIntent{
		Account: account, Vault: vault, VaultToken: underlying, Token: other, Amount: big.NewInt(1),
	})
	require.True(t, clierr.HasCode(err, clierr.CodeUnsupportedNetwork))
}

func TestApproveDepositSubmissionFailureIsTransactionError(t *testing.T) {
	sender := &fakeSender{err: errors.New("nonce too low")}
	w := newWorkflow(1, &fakeAllowances{amount: big.NewInt(0)}, &fakeRouter{}, sender, "")
	_, err := w.ApproveDeposit(context.Background(), DepositIntent{
		Account: account, Vault: vault, VaultToken: underlying, Token: underlying, Amount: big.NewInt(1),
	})
	require.True(t, clierr.HasCode(err, clierr.CodeTransaction))
}

func TestApproveDepositRejectsBadInput(t *testing.T) {
	w := newWorkflow(1, &fakeAllowances{}, &fakeRouter{}, &fakeSender{}, "")
	_, err := w.ApproveDeposit(context.Background(), DepositIntent{Account: "nope", Vault: vault, Token: underlying, Amount: big.NewInt(1)})
	require.True(t, clierr.HasCode(err, clierr.CodeUsage))
	_, err = w.ApproveDeposit(context.Background(), DepositIntent{Account: account, Vault: vault, Token: underlying, Amount: big.NewInt(0)})
	require.True(t, clierr.HasCode(err, clierr.CodeUsage))
}

func TestApproveZapOutShortCircuitsOnShareToken(t *testing.T) {
	router := &fakeRouter{}
	w := newWorkflow(1, &fakeAllowances{}, router, &fakeSender{}, "")

	out, err := w.ApproveZapOut(context.Background(), WithdrawalIntent{Account: account, Vault: vault, Token: vault})
	require.NoError(t, err)
	require.False(t, out.Required)
	require.Equal(t, PathNone, out.Path)
	require.Zero(t, router.zapOutStateCalls)
}

func TestApproveZapOutThroughRouter(t *testing.T) {
	router := &fakeRouter{fast: "1.5"}
	sender := &fakeSender{}
	w := newWorkflow(1, &fakeAllowances{}, router, sender, "")

	out, err := w.ApproveZapOut(context.Background(), WithdrawalIntent{Account: account, Vault: vault, Token: other})
	require.NoError(t, err)
	require.True(t, out.Required)
	require.Equal(t, 1, router.zapOutStateCalls)
	require.Equal(t, "1500000000", router.gasPriceWei)
	require.Equal(t, vault, sender.sent[0].To)
}

func TestAllowance(t *testing.T) {
	allowances := &fakeAllowances{amount: big.NewInt(77)}
	w := newWorkflow(1, allowances, &fakeRouter{}, &fakeSender{}, partner)
	ctx := context.Background()

	native, err := w.Allowance(ctx, AllowanceQuery{Account: account, Vault: vault, VaultToken: underlying, Token: id.NativeAssetAddress})
	require.NoError(t, err)
	require.Equal(t, maxAllowance.String(), native.Amount)
	require.Empty(t, allowances.calls)

	direct, err := w.Allowance(ctx, AllowanceQuery{Account: account, Vault: vault, VaultToken: underlying, Token: underlying})
	require.NoError(t, err)
	require.Equal(t, "77", direct.Amount)
	require.Equal(t, partner, direct.Spender)

	routed, err := w.Allowance(ctx, AllowanceQuery{Account: account, Vault: vault, VaultToken: underlying, Token: other})
	require.NoError(t, err)
	require.Equal(t, "12", routed.Amount)
	require.Equal(t, zapper, routed.Spender)
}

func TestAllowanceRouterPathReportsRouterOwner(t *testing.T) {
	routerOwner := "0x7777777777777777777777777777777777777777"
	router := &fakeRouter{owner: routerOwner}
	w := newWorkflow(1, &fakeAllowances{}, router, &fakeSender{}, "")

	routed, err := w.Allowance(context.Background(), AllowanceQuery{Account: account, Vault: vault, VaultToken: underlying, Token: other})
	require.NoError(t, err)
	require.Equal(t, routerOwner, routed.Owner)
	require.Equal(t, 1, router.stateCalls)

	router.owner = ""
	routed, err = w.Allowance(context.Background(), AllowanceQuery{Account: account, Vault: vault, VaultToken: underlying, Token: other})
	require.NoError(t, err)
	require.Equal(t, account, routed.Owner)
}

func TestStateMachineRejectsInvalidTransitions(t *testing.T) {
	m := newMachine()
	require.ErrorIs(t, m.to(StateCompleted), ErrInvalidTransition)
	require.NoError(t, m.to(StateEvaluating))
	require.NoError(t, m.to(StateAlreadySufficient))
	require.True(t, m.state.Terminal())
	require.ErrorIs(t, m.to(StateCompleted), ErrInvalidTransition)
	require.Equal(t, "already_sufficient", m.state.String())
}

func TestGweiToWei(t *testing.T) {
	tests := map[string]string{"3": "3000000000", "1.5": "1500000000", "0.0000000001": "0"}
	for in, want := range tests {
		got, err := GweiToWei(in)
		require.NoError(t, err)
		require.Equal(t, want, got, in)
	}
	_, err := GweiToWei("fast")
	require.True(t, clierr.HasCode(err, clierr.CodeTransaction))
}
