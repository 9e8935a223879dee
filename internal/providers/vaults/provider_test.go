package vaults

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/ggonzalez94/defi-tokens/internal/model"
)

type fakeRegistry struct {
	addresses []string
	err       error
}

func (f fakeRegistry) VaultTokenAddresses(context.Context) ([]string, error) {
	return f.addresses, f.err
}

type fakeTokens struct {
	seen []string
}

func (f *fakeTokens) Tokens(_ context.Context, addresses []string) ([]model.ERC20, error) {
	out := make([]model.ERC20, 0, len(addresses))
	for _, a := range addresses {
		out = append(out, model.ERC20{Address: a, Symbol: "yv", Name: "Vault " + a, Decimals: 18})
	}
	return out, nil
}

func (f *fakeTokens) BalancesOf(_ context.Context, account string, tokens []string) ([]model.RawBalance, error) {
	f.seen = tokens
	return []model.RawBalance{{Address: tokens[0], Owner: account, Amount: "100"}}, nil
}

type fixedOracle string

func (o fixedOracle) OraclePrice(context.Context, string) (decimal.Decimal, error) {
	return decimal.RequireFromString(string(o)), nil
}

func TestListEntitiesTagsVaultSource(t *testing.T) {
	p := New(fakeRegistry{addresses: []string{"0x01", "0x02"}}, &fakeTokens{}, nil)
	if p.Kind() != model.SourceVaults {
		t.Fatalf("unexpected kind %s", p.Kind())
	}
	tokens, err := p.ListEntities(context.Background())
	if err != nil {
		t.Fatalf("ListEntities failed: %v", err)
	}
	if len(tokens) != 2 || tokens[1].Name != "Vault 0x02" {
		t.Fatalf("unexpected tokens %+v", tokens)
	}
	if len(tokens[0].DataSources) != 1 || tokens[0].DataSources[0] != model.SourceVaults {
		t.Fatalf("unexpected data sources %+v", tokens[0].DataSources)
	}
}

func TestBalancesOfQueriesRegistryTokens(t *testing.T) {
	reader := &fakeTokens{}
	p := New(fakeRegistry{addresses: []string{"0x01", "0x02"}}, reader, fixedOracle("2.5"))
	balances, err := p.BalancesOf(context.Background(), "0xacc")
	if err != nil {
		t.Fatalf("BalancesOf failed: %v", err)
	}
	if len(balances) != 1 || balances[0].Amount != "100" || len(reader.seen) != 2 {
		t.Fatalf("unexpected balances %+v seen=%v", balances, reader.seen)
	}
	price, err := p.PriceOf(context.Background(), "0x01")
	if err != nil || price != "2.5" {
		t.Fatalf("unexpected price %q err=%v", price, err)
	}
}

func TestRegistryFailureSurfaces(t *testing.T) {
	p := New(fakeRegistry{err: errors.New("rpc down")}, &fakeTokens{}, nil)
	if _, err := p.ListEntities(context.Background()); err == nil {
		t.Fatal("expected registry failure")
	}
	if _, err := p.PriceOf(context.Background(), "0x01"); err == nil {
		t.Fatal("expected missing oracle error")
	}
}
