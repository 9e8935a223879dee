package app

import (
	"context"
	"math/big"
	"time"

	"github.com/spf13/cobra"

	"github.com/ggonzalez94/defi-tokens/internal/approval"
	clierr "github.com/ggonzalez94/defi-tokens/internal/errors"
	execsigner "github.com/ggonzalez94/defi-tokens/internal/execution/signer"
	"github.com/ggonzalez94/defi-tokens/internal/id"
	"github.com/ggonzalez94/defi-tokens/internal/model"
	"github.com/ggonzalez94/defi-tokens/internal/policy"
)

func (s *runtimeState) newApprovalsCommand() *cobra.Command {
	root := &cobra.Command{Use: "approvals", Short: "Allowance checks and approval transactions"}

	type approvalArgs struct {
		account    string
		vault      string
		vaultToken string
		token      string
	}
	bindApprovalFlags := func(cmd *cobra.Command, args *approvalArgs, withVaultToken bool) {
		cmd.Flags().StringVar(&args.account, "account", "", "Owner account address")
		cmd.Flags().StringVar(&args.vault, "vault", "", "Vault address")
		cmd.Flags().StringVar(&args.token, "token", "", "Token address or registry symbol")
		_ = cmd.MarkFlagRequired("account")
		_ = cmd.MarkFlagRequired("vault")
		_ = cmd.MarkFlagRequired("token")
		if withVaultToken {
			cmd.Flags().StringVar(&args.vaultToken, "vault-token", "", "The vault's own underlying token address")
			_ = cmd.MarkFlagRequired("vault-token")
		}
	}
	bindSenderFlags := func(cmd *cobra.Command, opts *senderOptions) {
		cmd.Flags().StringVar(&opts.keySource, "key-source", execsigner.KeySourceAuto, "Signing key source (auto|env|file|keystore)")
		cmd.Flags().StringVar(&opts.privateKey, "private-key", "", "Hex private key override (prefer env or key file)")
		cmd.Flags().Float64Var(&opts.gasMultiplier, "gas-multiplier", 1.2, "Multiplier applied to estimated gas")
		cmd.Flags().StringVar(&opts.maxFeeGwei, "max-fee-gwei", "", "Cap on the EIP-1559 max fee in gwei")
		cmd.Flags().StringVar(&opts.maxPriorityFeeGwei, "max-priority-fee-gwei", "", "Override the EIP-1559 priority fee in gwei")
	}

	var allowanceArgs approvalArgs
	allowanceCmd := &cobra.Command{
		Use:   "allowance",
		Short: "Show what the relevant spender may currently spend",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := s.commandContext(cmd)
			defer cancel()
			svc, err := s.services(ctx, nil)
			if err != nil {
				return err
			}
			token, err := s.resolveToken(allowanceArgs.token, svc.chainID)
			if err != nil {
				return err
			}
			start := time.Now()
			allowance, err := svc.approvals.Allowance(ctx, approval.AllowanceQuery{
				Account:    allowanceArgs.account,
				Vault:      allowanceArgs.vault,
				VaultToken: allowanceArgs.vaultToken,
				Token:      token.Address,
			})
			status := []model.ProviderStatus{{Name: "allowance", Status: statusFromErr(err), LatencyMS: time.Since(start).Milliseconds()}}
			s.captureCommandDiagnostics(nil, status, false)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), allowance, nil, cacheMetaBypass(), status, false)
		},
	}
	bindApprovalFlags(allowanceCmd, &allowanceArgs, true)

	var depositArgs approvalArgs
	var depositAmount, depositAmountDecimal string
	var depositConfirmed bool
	var depositSender senderOptions
	depositCmd := &cobra.Command{
		Use:   "deposit",
		Short: "Approve the spender for a vault deposit, submitting a transaction when needed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := trimRootPath(cmd.CommandPath())
			if err := policy.CheckConfirmed(path, depositConfirmed); err != nil {
				return err
			}
			ctx, cancel := s.commandContext(cmd)
			defer cancel()
			svc, err := s.services(ctx, &depositSender)
			if err != nil {
				return err
			}
			token, err := s.resolveToken(depositArgs.token, svc.chainID)
			if err != nil {
				return err
			}
			decimals, err := tokenDecimals(ctx, svc, token)
			if err != nil {
				return err
			}
			base, _, err := id.NormalizeAmount(depositAmount, depositAmountDecimal, decimals)
			if err != nil {
				return err
			}
			amount, _ := new(big.Int).SetString(base, 10)

			start := time.Now()
			outcome, err := svc.approvals.ApproveDeposit(ctx, approval.DepositIntent{
				Account:    depositArgs.account,
				Vault:      depositArgs.vault,
				VaultToken: depositArgs.vaultToken,
				Token:      token.Address,
				Amount:     amount,
			})
			return s.emitOutcome(path, outcome, start, err)
		},
	}
	bindApprovalFlags(depositCmd, &depositArgs, true)
	depositCmd.Flags().StringVar(&depositAmount, "amount", "", "Amount in base units")
	depositCmd.Flags().StringVar(&depositAmountDecimal, "amount-decimal", "", "Amount in decimal units")
	depositCmd.Flags().BoolVar(&depositConfirmed, "yes", false, "Confirm transaction submission")
	bindSenderFlags(depositCmd, &depositSender)

	var zapOutArgs approvalArgs
	var zapOutConfirmed bool
	var zapOutSender senderOptions
	zapOutCmd := &cobra.Command{
		Use:   "zap-out",
		Short: "Approve the router to pull vault shares for a withdrawal into another token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := trimRootPath(cmd.CommandPath())
			if err := policy.CheckConfirmed(path, zapOutConfirmed); err != nil {
				return err
			}
			ctx, cancel := s.commandContext(cmd)
			defer cancel()
			svc, err := s.services(ctx, &zapOutSender)
			if err != nil {
				return err
			}
			token, err := s.resolveToken(zapOutArgs.token, svc.chainID)
			if err != nil {
				return err
			}
			start := time.Now()
			outcome, err := svc.approvals.ApproveZapOut(ctx, approval.WithdrawalIntent{
				Account: zapOutArgs.account,
				Vault:   zapOutArgs.vault,
				Token:   token.Address,
			})
			return s.emitOutcome(path, outcome, start, err)
		},
	}
	bindApprovalFlags(zapOutCmd, &zapOutArgs, false)
	zapOutCmd.Flags().BoolVar(&zapOutConfirmed, "yes", false, "Confirm transaction submission")
	bindSenderFlags(zapOutCmd, &zapOutSender)

	root.AddCommand(allowanceCmd, depositCmd, zapOutCmd)
	return root
}

func (s *runtimeState) emitOutcome(path string, outcome approval.Outcome, start time.Time, err error) error {
	status := []model.ProviderStatus{{Name: "approval", Status: statusFromErr(err), LatencyMS: time.Since(start).Milliseconds()}}
	s.captureCommandDiagnostics(nil, status, false)
	if err != nil {
		return err
	}
	return s.emitSuccess(path, outcome, nil, cacheMetaBypass(), status, false)
}

func (s *runtimeState) resolveToken(input string, chainID int64) (id.Token, error) {
	return id.ParseToken(input, id.ChainByID(chainID))
}

// tokenDecimals prefers the bootstrap registry and falls back to reading
// the token contract.
func tokenDecimals(ctx context.Context, svc *services, token id.Token) (int, error) {
	if token.Decimals > 0 {
		return token.Decimals, nil
	}
	if id.IsNative(token.Address) {
		return 18, nil
	}
	if svc.chain == nil {
		return 0, clierr.UnsupportedNetwork(svc.chainID)
	}
	meta, err := svc.chain.Tokens(ctx, []string{token.Address})
	if err != nil {
		return 0, clierr.Wrap(clierr.CodeUnavailable, "read token decimals", err)
	}
	if len(meta) == 0 {
		return 0, clierr.New(clierr.CodeUsage, "unknown token "+token.Address)
	}
	return meta[0].Decimals, nil
}
