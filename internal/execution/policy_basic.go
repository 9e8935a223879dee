package execution

import (
	"bytes"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	clierr "github.com/ggonzalez94/defi-tokens/internal/errors"
	"github.com/ggonzalez94/defi-tokens/internal/registry"
)

var (
	policyERC20ABI        = mustPolicyABI(registry.ERC20ABI)
	policyApproveSelector = policyERC20ABI.Methods["approve"].ID
)

// validateApprovalCalldata accepts only ERC20 approve(spender, amount) calls
// to a non-zero spender. A zero amount is allowed so allowances can be reset.
func validateApprovalCalldata(data []byte) error {
	if len(data) < 4 || !bytes.Equal(data[:4], policyApproveSelector) {
		return clierr.New(clierr.CodeBlocked, "only ERC20 approve(spender,amount) transactions can be submitted")
	}
	args, err := policyERC20ABI.Methods["approve"].Inputs.Unpack(data[4:])
	if err != nil || len(args) != 2 {
		return clierr.New(clierr.CodeBlocked, "approval calldata is invalid")
	}
	spender, ok := args[0].(common.Address)
	if !ok || spender == (common.Address{}) {
		return clierr.New(clierr.CodeBlocked, "approval has invalid spender")
	}
	amount, ok := args[1].(*big.Int)
	if !ok || amount.Sign() < 0 {
		return clierr.New(clierr.CodeBlocked, "approval has invalid amount")
	}
	return nil
}

func mustPolicyABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
