package registry

import "strings"

// Contracts are the on-chain collaborators read on one network. Empty
// fields mean the deployment is unknown and must come from configuration.
type Contracts struct {
	VaultRegistry string
	MarketLens    string
	Router        string
	Oracle        string
}

var defaultContractsByChainID = map[int64]Contracts{
	1: {
		Router: "0xd9e1cE17f2641f24aE83637ab66a2cca9C378B9F",
		Oracle: "0x83d95e0D5f402511dB06817Aff3f9eA88224B030",
	},
}

func init() {
	// A local fork mirrors mainnet deployments.
	defaultContractsByChainID[1337] = defaultContractsByChainID[1]
}

// DefaultContracts returns the built-in deployments for chainID.
func DefaultContracts(chainID int64) Contracts {
	return defaultContractsByChainID[chainID]
}

// Merge fills empty fields of c from fallback.
func (c Contracts) Merge(fallback Contracts) Contracts {
	pick := func(a, b string) string {
		if strings.TrimSpace(a) != "" {
			return strings.TrimSpace(a)
		}
		return strings.TrimSpace(b)
	}
	return Contracts{
		VaultRegistry: pick(c.VaultRegistry, fallback.VaultRegistry),
		MarketLens:    pick(c.MarketLens, fallback.MarketLens),
		Router:        pick(c.Router, fallback.Router),
		Oracle:        pick(c.Oracle, fallback.Oracle),
	}
}
