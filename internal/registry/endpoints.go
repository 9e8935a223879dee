package registry

import (
	"net"
	"net/url"
	"strings"
)

const (
	// AggregatorBaseURL is the liquidity-routing API.
	AggregatorBaseURL = "https://api.zapper.fi"
	// AggregatorAPIKeyEnv names the env var holding the router API key.
	AggregatorAPIKeyEnv = "DEFI_TOKENS_AGGREGATOR_API_KEY"
	// TokenListURL serves a Uniswap-format token list used for icons.
	TokenListURL = "https://tokens.coingecko.com/uniswap/all.json"
	// TokenMetadataURL serves descriptive token metadata. {chain_id} is
	// replaced with the network id.
	TokenMetadataURL = "https://meta.yearn.network/tokens/{chain_id}/all"
)

// AggregatorNetwork maps a chain id to the router's network slug.
func AggregatorNetwork(chainID int64) (string, bool) {
	switch chainID {
	case 1, 1337:
		return "ethereum", true
	case 250:
		return "fantom", true
	case 42161:
		return "arbitrum", true
	default:
		return "", false
	}
}

// IsAllowedEndpoint accepts https URLs and plain http only for loopback
// hosts, so API keys are never sent in clear text to a remote host.
func IsAllowedEndpoint(endpoint string) bool {
	parsed, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil || strings.TrimSpace(parsed.Hostname()) == "" {
		return false
	}
	scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
	if isLoopbackHost(parsed.Hostname()) {
		return scheme == "http" || scheme == "https"
	}
	return scheme == "https"
}

func isLoopbackHost(host string) bool {
	h := strings.TrimSpace(strings.ToLower(host))
	if h == "localhost" {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
