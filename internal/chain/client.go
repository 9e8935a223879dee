// Package chain reads token, vault and lending-market state from EVM
// contracts.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	clierr "github.com/ggonzalez94/defi-tokens/internal/errors"
	"github.com/ggonzalez94/defi-tokens/internal/id"
	"github.com/ggonzalez94/defi-tokens/internal/model"
	"github.com/ggonzalez94/defi-tokens/internal/registry"
)

var (
	erc20ABI  = mustABI(registry.ERC20ABI)
	vaultsABI = mustABI(registry.VaultRegistryABI)
	lensABI   = mustABI(registry.MarketLensABI)
	routerABI = mustABI(registry.RouterABI)
	oracleABI = mustABI(registry.PriceOracleABI)
)

const defaultConcurrency = 8

type Client struct {
	caller      ethereum.ContractCaller
	chainID     int64
	contracts   registry.Contracts
	concurrency int
}

func New(caller ethereum.ContractCaller, chainID int64, contracts registry.Contracts) *Client {
	return &Client{caller: caller, chainID: chainID, contracts: contracts, concurrency: defaultConcurrency}
}

// Dial connects to rpcURL. The returned close func releases the connection.
func Dial(ctx context.Context, rpcURL string, chainID int64, contracts registry.Contracts) (*Client, func(), error) {
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, func() {}, clierr.Wrap(clierr.CodeUnavailable, "connect rpc", err)
	}
	return New(ec, chainID, contracts), ec.Close, nil
}

func (c *Client) ChainID() int64 { return c.chainID }

func (c *Client) Contracts() registry.Contracts { return c.contracts }

// Tokens reads ERC20 metadata for every address. The native sentinel is
// answered locally.
func (c *Client) Tokens(ctx context.Context, addresses []string) ([]model.ERC20, error) {
	out := make([]model.ERC20, len(addresses))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, addr := range addresses {
		g.Go(func() error {
			token, err := c.token(gctx, addr)
			if err != nil {
				return err
			}
			out[i] = token
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) token(ctx context.Context, address string) (model.ERC20, error) {
	addr := id.NormalizeAddress(address)
	if id.IsNative(addr) {
		return nativeToken(c.chainID), nil
	}
	target := common.HexToAddress(addr)
	var symbol, name string
	var decimals uint8
	if err := c.call(ctx, erc20ABI, target, "symbol", []any{&symbol}); err != nil {
		return model.ERC20{}, err
	}
	if err := c.call(ctx, erc20ABI, target, "name", []any{&name}); err != nil {
		return model.ERC20{}, err
	}
	if err := c.call(ctx, erc20ABI, target, "decimals", []any{&decimals}); err != nil {
		return model.ERC20{}, err
	}
	return model.ERC20{Address: addr, Symbol: symbol, Name: name, Decimals: int(decimals)}, nil
}

func nativeToken(chainID int64) model.ERC20 {
	if chainID == id.ChainFantom {
		return model.ERC20{Address: id.NativeAssetAddress, Symbol: "FTM", Name: "Fantom", Decimals: 18}
	}
	return model.ERC20{Address: id.NativeAssetAddress, Symbol: "ETH", Name: "Ether", Decimals: 18}
}

// BalancesOf reads account's balance of every token.
func (c *Client) BalancesOf(ctx context.Context, account string, tokens []string) ([]model.RawBalance, error) {
	owner := common.HexToAddress(account)
	out := make([]model.RawBalance, len(tokens))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, token := range tokens {
		g.Go(func() error {
			var amount *big.Int
			if err := c.call(gctx, erc20ABI, common.HexToAddress(token), "balanceOf", []any{&amount}, owner); err != nil {
				return err
			}
			out[i] = model.RawBalance{Address: id.NormalizeAddress(token), Owner: id.NormalizeAddress(account), Amount: amount.String()}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Allowance(ctx context.Context, token, owner, spender string) (*big.Int, error) {
	var amount *big.Int
	err := c.call(ctx, erc20ABI, common.HexToAddress(token), "allowance", []any{&amount}, common.HexToAddress(owner), common.HexToAddress(spender))
	if err != nil {
		return nil, err
	}
	return amount, nil
}

// VaultTokenAddresses lists every token the vault registry exposes.
func (c *Client) VaultTokenAddresses(ctx context.Context) ([]string, error) {
	target, err := c.contract("vault registry", c.contracts.VaultRegistry)
	if err != nil {
		return nil, err
	}
	var addrs []common.Address
	if err := c.call(ctx, vaultsABI, target, "assetsTokensAddresses", []any{&addrs}); err != nil {
		return nil, err
	}
	return normalizeAll(addrs), nil
}

// MarketTokenAddresses lists the underlying tokens of every lending market.
func (c *Client) MarketTokenAddresses(ctx context.Context) ([]string, error) {
	target, err := c.contract("market lens", c.contracts.MarketLens)
	if err != nil {
		return nil, err
	}
	var addrs []common.Address
	if err := c.call(ctx, lensABI, target, "assetsTokensAddresses", []any{&addrs}); err != nil {
		return nil, err
	}
	return normalizeAll(addrs), nil
}

type lensStatic struct {
	Id                     common.Address
	Name                   string
	Symbol                 string
	Decimals               uint8
	UnderlyingTokenAddress common.Address
}

type lensDynamic struct {
	Id                       common.Address
	UnderlyingTokenAddress   common.Address
	LendApyBips              *big.Int
	BorrowApyBips            *big.Int
	TotalSuppliedUsdc        *big.Int
	TotalBorrowedUsdc        *big.Int
	LiquidityUsdc            *big.Int
	CollateralFactor         *big.Int
	ExchangeRate             *big.Int
	IsActive                 bool
	UnderlyingTokenPriceUsdc *big.Int
}

// MarketsStatic reads static market records, restricted to filter when set.
func (c *Client) MarketsStatic(ctx context.Context, filter []string) ([]model.MarketStatic, error) {
	target, err := c.contract("market lens", c.contracts.MarketLens)
	if err != nil {
		return nil, err
	}
	raw, err := c.rawCall(ctx, lensABI, target, "assetsStatic")
	if err != nil {
		return nil, err
	}
	values, err := lensABI.Unpack("assetsStatic", raw)
	if err != nil || len(values) == 0 {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "decode assetsStatic", err)
	}
	assets := *abi.ConvertType(values[0], new([]lensStatic)).(*[]lensStatic)
	keep := addressSet(filter)
	out := make([]model.MarketStatic, 0, len(assets))
	for _, a := range assets {
		addr := id.NormalizeAddress(a.Id.Hex())
		if !keep.has(addr) {
			continue
		}
		out = append(out, model.MarketStatic{
			Address:         addr,
			Name:            a.Name,
			Symbol:          a.Symbol,
			Decimals:        int(a.Decimals),
			UnderlyingToken: id.NormalizeAddress(a.UnderlyingTokenAddress.Hex()),
		})
	}
	return out, nil
}

// MarketsDynamic reads dynamic market records, restricted to filter when set.
func (c *Client) MarketsDynamic(ctx context.Context, filter []string) ([]model.MarketDynamic, error) {
	target, err := c.contract("market lens", c.contracts.MarketLens)
	if err != nil {
		return nil, err
	}
	raw, err := c.rawCall(ctx, lensABI, target, "assetsDynamic")
	if err != nil {
		return nil, err
	}
	values, err := lensABI.Unpack("assetsDynamic", raw)
	if err != nil || len(values) == 0 {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "decode assetsDynamic", err)
	}
	assets := *abi.ConvertType(values[0], new([]lensDynamic)).(*[]lensDynamic)
	keep := addressSet(filter)
	out := make([]model.MarketDynamic, 0, len(assets))
	for _, a := range assets {
		addr := id.NormalizeAddress(a.Id.Hex())
		if !keep.has(addr) {
			continue
		}
		out = append(out, model.MarketDynamic{
			Address:                 addr,
			UnderlyingTokenAddress:  id.NormalizeAddress(a.UnderlyingTokenAddress.Hex()),
			LendAPY:                 bipsToPercent(a.LendApyBips),
			BorrowAPY:               bipsToPercent(a.BorrowApyBips),
			TotalSuppliedUSDC:       usdc(a.TotalSuppliedUsdc),
			TotalBorrowedUSDC:       usdc(a.TotalBorrowedUsdc),
			LiquidityUSDC:           usdc(a.LiquidityUsdc),
			CollateralFactor:        bigString(a.CollateralFactor),
			ExchangeRate:            bigString(a.ExchangeRate),
			IsActive:                a.IsActive,
			UnderlyingTokenPriceUSD: usdc(a.UnderlyingTokenPriceUsdc),
		})
	}
	return out, nil
}

type lensPosition struct {
	AssetId     common.Address
	TokenId     common.Address
	TypeId      string
	Balance     *big.Int
	BalanceUsdc *big.Int
}

type lensSummary struct {
	SupplyBalanceUsdc    *big.Int
	BorrowBalanceUsdc    *big.Int
	BorrowLimitUsdc      *big.Int
	UtilizationRatioBips *big.Int
}

type lensUserMetadata struct {
	AssetId               common.Address
	EnteredMarket         bool
	SupplyBalanceUsdc     *big.Int
	BorrowBalanceUsdc     *big.Int
	CollateralBalanceUsdc *big.Int
	BorrowLimitUsdc       *big.Int
}

// PositionsOf reads account's lending positions, restricted to markets in
// filter when set.
func (c *Client) PositionsOf(ctx context.Context, account string, filter []string) ([]model.Position, error) {
	value, err := c.lensAccountCall(ctx, "positionsOf", account)
	if err != nil {
		return nil, err
	}
	positions := *abi.ConvertType(value, new([]lensPosition)).(*[]lensPosition)
	keep := addressSet(filter)
	out := make([]model.Position, 0, len(positions))
	for _, p := range positions {
		addr := id.NormalizeAddress(p.AssetId.Hex())
		if !keep.has(addr) {
			continue
		}
		out = append(out, model.Position{
			AssetAddress: addr,
			TokenAddress: id.NormalizeAddress(p.TokenId.Hex()),
			Type:         p.TypeId,
			Balance:      bigString(p.Balance),
			BalanceUSDC:  usdc(p.BalanceUsdc),
		})
	}
	return out, nil
}

// SummaryOf reads account's aggregate lending position.
func (c *Client) SummaryOf(ctx context.Context, account string) (model.LendingSummary, error) {
	value, err := c.lensAccountCall(ctx, "adapterPositionOf", account)
	if err != nil {
		return model.LendingSummary{}, err
	}
	sum := *abi.ConvertType(value, new(lensSummary)).(*lensSummary)
	return model.LendingSummary{
		Account:           id.NormalizeAddress(account),
		SupplyBalanceUSDC: usdc(sum.SupplyBalanceUsdc),
		BorrowBalanceUSDC: usdc(sum.BorrowBalanceUsdc),
		BorrowLimitUSDC:   usdc(sum.BorrowLimitUsdc),
		UtilizationRatio:  bipsToPercent(sum.UtilizationRatioBips),
	}, nil
}

// UserMetadataOf reads account's standing in every market, restricted to
// filter when set.
func (c *Client) UserMetadataOf(ctx context.Context, account string, filter []string) ([]model.MarketUserMetadata, error) {
	value, err := c.lensAccountCall(ctx, "assetsUserMetadata", account)
	if err != nil {
		return nil, err
	}
	records := *abi.ConvertType(value, new([]lensUserMetadata)).(*[]lensUserMetadata)
	keep := addressSet(filter)
	out := make([]model.MarketUserMetadata, 0, len(records))
	for _, r := range records {
		addr := id.NormalizeAddress(r.AssetId.Hex())
		if !keep.has(addr) {
			continue
		}
		out = append(out, model.MarketUserMetadata{
			AssetAddress:          addr,
			EnteredMarket:         r.EnteredMarket,
			SupplyBalanceUSDC:     usdc(r.SupplyBalanceUsdc),
			BorrowBalanceUSDC:     usdc(r.BorrowBalanceUsdc),
			CollateralBalanceUSDC: usdc(r.CollateralBalanceUsdc),
			BorrowLimitUSDC:       usdc(r.BorrowLimitUsdc),
		})
	}
	return out, nil
}

// lensAccountCall runs a single-output lens method keyed by account.
func (c *Client) lensAccountCall(ctx context.Context, method, account string) (any, error) {
	target, err := c.contract("market lens", c.contracts.MarketLens)
	if err != nil {
		return nil, err
	}
	raw, err := c.rawCall(ctx, lensABI, target, method, common.HexToAddress(account))
	if err != nil {
		return nil, err
	}
	values, err := lensABI.Unpack(method, raw)
	if err != nil || len(values) == 0 {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "decode "+method, err)
	}
	return values[0], nil
}

// Quote asks the router how much of `to` amountIn of `from` buys.
func (c *Client) Quote(ctx context.Context, from, to string, amountIn *big.Int) (*big.Int, error) {
	target, err := c.contract("router", c.contracts.Router)
	if err != nil {
		return nil, err
	}
	path := []common.Address{common.HexToAddress(from), common.HexToAddress(to)}
	var amounts []*big.Int
	if err := c.call(ctx, routerABI, target, "getAmountsOut", []any{&amounts}, amountIn, path); err != nil {
		return nil, err
	}
	if len(amounts) < 2 || amounts[len(amounts)-1] == nil {
		return nil, clierr.New(clierr.CodeUnavailable, "router returned no amounts")
	}
	return amounts[len(amounts)-1], nil
}

// OraclePrice returns the oracle's USD price for token.
func (c *Client) OraclePrice(ctx context.Context, token string) (decimal.Decimal, error) {
	target, err := c.contract("price oracle", c.contracts.Oracle)
	if err != nil {
		return decimal.Decimal{}, err
	}
	var price *big.Int
	if err := c.call(ctx, oracleABI, target, "getPriceUsdcRecommended", []any{&price}, common.HexToAddress(token)); err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromBigInt(price, -registry.OraclePriceDecimals), nil
}

func (c *Client) contract(label, address string) (common.Address, error) {
	if !common.IsHexAddress(strings.TrimSpace(address)) {
		return common.Address{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("no %s configured for chain %d", label, c.chainID))
	}
	return common.HexToAddress(address), nil
}

func (c *Client) rawCall(ctx context.Context, contractABI abi.ABI, target common.Address, method string, args ...any) ([]byte, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "pack "+method+" call", err)
	}
	out, err := c.caller.CallContract(ctx, ethereum.CallMsg{To: &target, Data: data}, nil)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "call "+method, err)
	}
	return out, nil
}

func (c *Client) call(ctx context.Context, contractABI abi.ABI, target common.Address, method string, outs []any, args ...any) error {
	raw, err := c.rawCall(ctx, contractABI, target, method, args...)
	if err != nil {
		return err
	}
	values, err := contractABI.Unpack(method, raw)
	if err != nil {
		return clierr.Wrap(clierr.CodeUnavailable, "decode "+method, err)
	}
	if len(values) < len(outs) {
		return clierr.New(clierr.CodeUnavailable, "short "+method+" response")
	}
	for i, dst := range outs {
		if err := assign(dst, values[i]); err != nil {
			return clierr.Wrap(clierr.CodeUnavailable, "decode "+method, err)
		}
	}
	return nil
}

func assign(dst, value any) error {
	switch d := dst.(type) {
	case *string:
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", value)
		}
		*d = v
	case *uint8:
		v, ok := value.(uint8)
		if !ok {
			return fmt.Errorf("expected uint8, got %T", value)
		}
		*d = v
	case **big.Int:
		v, ok := value.(*big.Int)
		if !ok || v == nil {
			return fmt.Errorf("expected uint256, got %T", value)
		}
		*d = v
	case *[]*big.Int:
		v, ok := value.([]*big.Int)
		if !ok {
			return fmt.Errorf("expected uint256[], got %T", value)
		}
		*d = v
	case *[]common.Address:
		v, ok := value.([]common.Address)
		if !ok {
			return fmt.Errorf("expected address[], got %T", value)
		}
		*d = v
	default:
		return fmt.Errorf("unsupported destination %T", dst)
	}
	return nil
}

type addrFilter map[string]struct{}

func addressSet(addresses []string) addrFilter {
	if len(addresses) == 0 {
		return nil
	}
	out := make(addrFilter, len(addresses))
	for _, a := range addresses {
		out[id.NormalizeAddress(a)] = struct{}{}
	}
	return out
}

// has reports membership; a nil filter admits everything.
func (f addrFilter) has(addr string) bool {
	if f == nil {
		return true
	}
	_, ok := f[addr]
	return ok
}

func normalizeAll(addrs []common.Address) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, id.NormalizeAddress(a.Hex()))
	}
	return out
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func usdc(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -registry.OraclePriceDecimals).String()
}

func bipsToPercent(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -2).String()
}

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
