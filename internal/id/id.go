package id

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	clierr "github.com/ggonzalez94/defi-tokens/internal/errors"
)

var (
	eip155ChainPattern = regexp.MustCompile(`^eip155:[0-9]+$`)
	evmAddressPattern  = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
)

// NativeAssetAddress is the sentinel address used for a network's native asset.
const NativeAssetAddress = "0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee"

// Network identifiers recognised by the capability matrix.
const (
	ChainEthereum  int64 = 1
	ChainFantom    int64 = 250
	ChainLocalFork int64 = 1337
	ChainArbitrum  int64 = 42161
)

type Chain struct {
	Name       string
	Slug       string
	CAIP2      string
	EVMChainID int64
}

type Token struct {
	Symbol   string
	Address  string
	Decimals int
}

var chainBySlug = map[string]Chain{
	"ethereum": {Name: "Ethereum", Slug: "ethereum", CAIP2: "eip155:1", EVMChainID: ChainEthereum},
	"mainnet":  {Name: "Ethereum", Slug: "ethereum", CAIP2: "eip155:1", EVMChainID: ChainEthereum},
	"fantom":   {Name: "Fantom", Slug: "fantom", CAIP2: "eip155:250", EVMChainID: ChainFantom},
	"arbitrum": {Name: "Arbitrum", Slug: "arbitrum", CAIP2: "eip155:42161", EVMChainID: ChainArbitrum},
	"fork":     {Name: "Local Fork", Slug: "fork", CAIP2: "eip155:1337", EVMChainID: ChainLocalFork},
	"kovan":    {Name: "Kovan", Slug: "kovan", CAIP2: "eip155:42", EVMChainID: 42},
}

var chainByID = map[int64]Chain{
	ChainEthereum:  chainBySlug["ethereum"],
	ChainFantom:    chainBySlug["fantom"],
	ChainLocalFork: chainBySlug["fork"],
	ChainArbitrum:  chainBySlug["arbitrum"],
	42:             chainBySlug["kovan"],
}

// Small bootstrap registry used for symbol lookup and the USD numeraire.
// A local fork mirrors mainnet state, so it shares the Ethereum entries.
var tokenRegistry = map[int64][]Token{
	ChainEthereum: {
		{Symbol: "USDC", Address: "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", Decimals: 6},
		{Symbol: "USDT", Address: "0xdac17f958d2ee523a2206206994597c13d831ec7", Decimals: 6},
		{Symbol: "DAI", Address: "0x6b175474e89094c44da98b954eedeac495271d0f", Decimals: 18},
		{Symbol: "WETH", Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", Decimals: 18},
	},
	ChainFantom: {
		{Symbol: "USDC", Address: "0x04068DA6C83AFCFA0e13ba15A6696662335D5B75", Decimals: 6},
		{Symbol: "DAI", Address: "0x8D11eC38a3EB5E956B052f67Da8Bdc9bef8Abf3E", Decimals: 18},
		{Symbol: "WFTM", Address: "0x21be370D5312f44cB42ce377BC9b8a0cEF1A4C83", Decimals: 18},
	},
	ChainArbitrum: {
		{Symbol: "USDC", Address: "0xaf88d065e77c8cC2239327C5EDb3A432268e5831", Decimals: 6},
		{Symbol: "USDT", Address: "0xFd086bC7CD5C481DCC9C85ebe478A1C0b69FCbb9", Decimals: 6},
		{Symbol: "DAI", Address: "0xDA10009cBd5D07dd0CeCc66161FC93D7c9000da1", Decimals: 18},
		{Symbol: "WETH", Address: "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1", Decimals: 18},
	},
}

func init() {
	tokenRegistry[ChainLocalFork] = tokenRegistry[ChainEthereum]
}

func ParseChain(input string) (Chain, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return Chain{}, clierr.New(clierr.CodeUsage, "chain is required")
	}
	norm := strings.ToLower(raw)

	if chain, ok := chainBySlug[norm]; ok {
		return chain, nil
	}

	if eip155ChainPattern.MatchString(norm) {
		norm = strings.TrimPrefix(norm, "eip155:")
	}

	if id, err := strconv.ParseInt(norm, 10, 64); err == nil && id > 0 {
		return ChainByID(id), nil
	}

	return Chain{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("unsupported chain input: %s", input))
}

// ChainByID returns the known chain for id or a generic EVM descriptor.
func ChainByID(id int64) Chain {
	if chain, ok := chainByID[id]; ok {
		return chain
	}
	return Chain{Name: fmt.Sprintf("EVM-%d", id), Slug: fmt.Sprintf("evm-%d", id), CAIP2: fmt.Sprintf("eip155:%d", id), EVMChainID: id}
}

// NormalizeAddress is the canonical form used for every address comparison.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

func IsAddress(address string) bool {
	return evmAddressPattern.MatchString(strings.TrimSpace(address))
}

// ParseAddress validates and normalizes an account or token address.
func ParseAddress(input, field string) (string, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return "", clierr.New(clierr.CodeUsage, fmt.Sprintf("%s is required", field))
	}
	if !IsAddress(raw) {
		return "", clierr.New(clierr.CodeUsage, fmt.Sprintf("%s must be a 0x-prefixed 20-byte address", field))
	}
	return NormalizeAddress(raw), nil
}

func IsNative(address string) bool {
	return NormalizeAddress(address) == NativeAssetAddress
}

// ParseToken resolves a token given either an address or a registry symbol.
func ParseToken(input string, chain Chain) (Token, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return Token{}, clierr.New(clierr.CodeUsage, "token is required")
	}
	if IsAddress(raw) {
		addr := NormalizeAddress(raw)
		if t, ok := LookupByAddress(chain.EVMChainID, addr); ok {
			return t, nil
		}
		return Token{Address: addr}, nil
	}

	matches := findTokensBySymbol(chain.EVMChainID, raw)
	if len(matches) == 0 {
		return Token{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("symbol %s not found in registry for chain %s", input, chain.CAIP2))
	}
	if len(matches) > 1 {
		addresses := make([]string, 0, len(matches))
		for _, m := range matches {
			addresses = append(addresses, m.Address)
		}
		sort.Strings(addresses)
		return Token{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("symbol %s is ambiguous on chain %s, use address (%s)", input, chain.CAIP2, strings.Join(addresses, ", ")))
	}
	return matches[0], nil
}

// Numeraire returns the USD stablecoin prices are quoted against on chainID.
func Numeraire(chainID int64) (Token, bool) {
	return KnownToken(chainID, "USDC")
}

func findTokensBySymbol(chainID int64, symbol string) []Token {
	matches := []Token{}
	for _, t := range tokenRegistry[chainID] {
		if strings.EqualFold(t.Symbol, symbol) {
			matches = append(matches, Token{
				Symbol:   strings.ToUpper(t.Symbol),
				Address:  NormalizeAddress(t.Address),
				Decimals: t.Decimals,
			})
		}
	}
	return matches
}

func KnownToken(chainID int64, symbol string) (Token, bool) {
	matches := findTokensBySymbol(chainID, symbol)
	if len(matches) != 1 {
		return Token{}, false
	}
	return matches[0], true
}

func LookupByAddress(chainID int64, address string) (Token, bool) {
	addr := NormalizeAddress(address)
	for _, t := range tokenRegistry[chainID] {
		if NormalizeAddress(t.Address) == addr {
			return Token{Symbol: strings.ToUpper(t.Symbol), Address: addr, Decimals: t.Decimals}, true
		}
	}
	return Token{}, false
}
