// Package capability maps networks to the provider kinds active on them.
package capability

import (
	"fmt"
	"sort"

	"github.com/ggonzalez94/defi-tokens/internal/id"
	"github.com/ggonzalez94/defi-tokens/internal/model"
)

// Matrix is an immutable network -> ordered provider kinds table. Order is
// merge precedence: the first listed kind wins on field conflicts.
type Matrix struct {
	entries map[int64][]model.DataSource
}

// Default is the built-in allowlist. The aggregator only covers Ethereum
// and its local fork.
func Default() Matrix {
	full := []model.DataSource{model.SourceVaults, model.SourceLendingMarket, model.SourceAggregator}
	onchain := []model.DataSource{model.SourceVaults, model.SourceLendingMarket}
	m, _ := New(map[int64][]model.DataSource{
		id.ChainEthereum:  full,
		id.ChainLocalFork: full,
		id.ChainFantom:    onchain,
		id.ChainArbitrum:  onchain,
	})
	return m
}

// New validates and copies entries.
func New(entries map[int64][]model.DataSource) (Matrix, error) {
	out := make(map[int64][]model.DataSource, len(entries))
	for chainID, kinds := range entries {
		seen := map[model.DataSource]struct{}{}
		list := make([]model.DataSource, 0, len(kinds))
		for _, kind := range kinds {
			if !kind.Valid() {
				return Matrix{}, fmt.Errorf("chain %d: unknown provider kind %q", chainID, kind)
			}
			if _, dup := seen[kind]; dup {
				return Matrix{}, fmt.Errorf("chain %d: provider kind %q listed twice", chainID, kind)
			}
			seen[kind] = struct{}{}
			list = append(list, kind)
		}
		out[chainID] = list
	}
	return Matrix{entries: out}, nil
}

// ProvidersFor returns the ordered kinds for chainID. Unknown networks yield
// an empty list.
func (m Matrix) ProvidersFor(chainID int64) []model.DataSource {
	kinds := m.entries[chainID]
	out := make([]model.DataSource, len(kinds))
	copy(out, kinds)
	return out
}

func (m Matrix) Supports(chainID int64) bool {
	return len(m.entries[chainID]) > 0
}

// Networks lists configured chain ids in ascending order.
func (m Matrix) Networks() []int64 {
	out := make([]int64, 0, len(m.entries))
	for chainID, kinds := range m.entries {
		if len(kinds) > 0 {
			out = append(out, chainID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Rank returns the precedence of kind on chainID, or -1 when inactive.
func (m Matrix) Rank(chainID int64, kind model.DataSource) int {
	for i, k := range m.entries[chainID] {
		if k == kind {
			return i
		}
	}
	return -1
}
