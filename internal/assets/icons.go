// Package assets resolves token icons from a Uniswap-format token list.
package assets

import (
	"context"
	"time"

	"github.com/ggonzalez94/defi-tokens/internal/cache"
	"github.com/ggonzalez94/defi-tokens/internal/httpx"
	"github.com/ggonzalez94/defi-tokens/internal/id"
	"github.com/ggonzalez94/defi-tokens/internal/registry"
)

const iconsNamespace = "assets/icons"

type Service struct {
	http    *httpx.Client
	listURL string
	chainID int64
	ttl     time.Duration
	icons   *cache.Store[map[string]string]
}

func New(httpClient *httpx.Client, listURL string, chainID int64, ttl time.Duration, opts ...cache.Option) *Service {
	if listURL == "" {
		listURL = registry.TokenListURL
	}
	return &Service{
		http:    httpClient,
		listURL: listURL,
		chainID: chainID,
		ttl:     ttl,
		icons:   cache.New[map[string]string]("asset_icons", opts...),
	}
}

type tokenList struct {
	Tokens []struct {
		ChainID int64  `json:"chainId"`
		Address string `json:"address"`
		LogoURI string `json:"logoURI"`
	} `json:"tokens"`
}

// Icons returns the icon URL for each address the list knows. Unknown
// addresses are simply absent from the result.
func (s *Service) Icons(ctx context.Context, addresses []string) (map[string]string, error) {
	all, err := s.icons.Fetch(ctx, cache.Key(iconsNamespace, s.chainID), s.ttl, s.load)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(addresses))
	for _, a := range addresses {
		addr := id.NormalizeAddress(a)
		if icon, ok := all[addr]; ok {
			out[addr] = icon
		}
	}
	return out, nil
}

func (s *Service) load(ctx context.Context) (map[string]string, error) {
	var list tokenList
	if err := s.http.GetJSON(ctx, s.listURL, nil, nil, &list); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(list.Tokens))
	for _, t := range list.Tokens {
		if t.ChainID != s.chainID || t.LogoURI == "" {
			continue
		}
		out[id.NormalizeAddress(t.Address)] = t.LogoURI
	}
	return out, nil
}
