package assets

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/ggonzalez94/defi-tokens/internal/cache"
	"github.com/ggonzalez94/defi-tokens/internal/httpx"
	"github.com/ggonzalez94/defi-tokens/internal/id"
	"github.com/ggonzalez94/defi-tokens/internal/model"
	"github.com/ggonzalez94/defi-tokens/internal/registry"
)

const metadataNamespace = "tokens/metadata"

// MetadataService reads descriptive token metadata for one network.
type MetadataService struct {
	http    *httpx.Client
	url     string
	chainID int64
	ttl     time.Duration
	store   *cache.Store[[]model.TokenMetadata]
}

func NewMetadata(httpClient *httpx.Client, urlTemplate string, chainID int64, ttl time.Duration, opts ...cache.Option) *MetadataService {
	if urlTemplate == "" {
		urlTemplate = registry.TokenMetadataURL
	}
	return &MetadataService{
		http:    httpClient,
		url:     strings.ReplaceAll(urlTemplate, "{chain_id}", strconv.FormatInt(chainID, 10)),
		chainID: chainID,
		ttl:     ttl,
		store:   cache.New[[]model.TokenMetadata]("token_metadata", opts...),
	}
}

// Metadata returns every record, or only those whose address is in filter.
func (s *MetadataService) Metadata(ctx context.Context, filter []string) ([]model.TokenMetadata, error) {
	all, err := s.store.Fetch(ctx, cache.Key(metadataNamespace, s.chainID), s.ttl, s.load)
	if err != nil {
		return nil, err
	}
	if len(filter) == 0 {
		return all, nil
	}
	wanted := make(map[string]struct{}, len(filter))
	for _, a := range filter {
		wanted[id.NormalizeAddress(a)] = struct{}{}
	}
	out := make([]model.TokenMetadata, 0, len(filter))
	for _, m := range all {
		if _, ok := wanted[m.Address]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *MetadataService) load(ctx context.Context) ([]model.TokenMetadata, error) {
	var records []model.TokenMetadata
	if err := s.http.GetJSON(ctx, s.url, nil, nil, &records); err != nil {
		return nil, err
	}
	for i := range records {
		records[i].Address = id.NormalizeAddress(records[i].Address)
	}
	return records, nil
}
