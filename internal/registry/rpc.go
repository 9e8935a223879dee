package registry

import (
	"fmt"
	"strings"
)

// Default EVM RPC endpoints by chain ID, used when --rpc-url is not set.
var defaultRPCByChainID = map[int64]string{
	1:     "https://eth.llamarpc.com",
	250:   "https://rpc.ftm.tools",
	1337:  "http://127.0.0.1:8545",
	42161: "https://arb1.arbitrum.io/rpc",
}

func DefaultRPCURL(chainID int64) (string, bool) {
	value, ok := defaultRPCByChainID[chainID]
	return value, ok
}

func ResolveRPCURL(override string, chainID int64) (string, error) {
	if strings.TrimSpace(override) != "" {
		return strings.TrimSpace(override), nil
	}
	if value, ok := DefaultRPCURL(chainID); ok {
		return value, nil
	}
	return "", fmt.Errorf("no default rpc configured for chain id %d; provide --rpc-url", chainID)
}
