package capability

import (
	"reflect"
	"testing"

	"github.com/ggonzalez94/defi-tokens/internal/model"
)

func TestDefaultMatrix(t *testing.T) {
	m := Default()
	full := []model.DataSource{model.SourceVaults, model.SourceLendingMarket, model.SourceAggregator}
	onchain := []model.DataSource{model.SourceVaults, model.SourceLendingMarket}

	for _, chainID := range []int64{1, 1337} {
		if got := m.ProvidersFor(chainID); !reflect.DeepEqual(got, full) {
			t.Fatalf("chain %d: unexpected providers %v", chainID, got)
		}
	}
	for _, chainID := range []int64{250, 42161} {
		if got := m.ProvidersFor(chainID); !reflect.DeepEqual(got, onchain) {
			t.Fatalf("chain %d: unexpected providers %v", chainID, got)
		}
	}
	if got := m.ProvidersFor(42); len(got) != 0 {
		t.Fatalf("expected empty providers for unknown network, got %v", got)
	}
	if m.Supports(42) || !m.Supports(250) {
		t.Fatal("unexpected Supports result")
	}
	if got := m.Networks(); !reflect.DeepEqual(got, []int64{1, 250, 1337, 42161}) {
		t.Fatalf("unexpected networks %v", got)
	}
	if m.Rank(1, model.SourceAggregator) != 2 || m.Rank(250, model.SourceAggregator) != -1 {
		t.Fatal("unexpected rank")
	}
}

func TestProvidersForReturnsCopy(t *testing.T) {
	m := Default()
	got := m.ProvidersFor(1)
	got[0] = model.SourceAggregator
	if m.ProvidersFor(1)[0] != model.SourceVaults {
		t.Fatal("matrix must be immutable through returned slices")
	}
}

func TestNewValidates(t *testing.T) {
	if _, err := New(map[int64][]model.DataSource{1: {"subgraph"}}); err == nil {
		t.Fatal("expected unknown kind error")
	}
	if _, err := New(map[int64][]model.DataSource{1: {model.SourceVaults, model.SourceVaults}}); err == nil {
		t.Fatal("expected duplicate kind error")
	}
}
