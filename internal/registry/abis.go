package registry

// ABI fragments for the contracts the chain collaborator reads and the
// approval workflow writes.
const (
	ERC20ABI = `[
		{"name":"name","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
		{"name":"symbol","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
		{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
		{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
	]`

	// VaultRegistryABI is the vault registry adapter: every vault's share
	// token and underlying token addresses.
	VaultRegistryABI = `[
		{"name":"assetsTokensAddresses","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address[]"}]}
	]`

	// MarketLensABI is the lending-market lens adapter.
	MarketLensABI = `[
		{"name":"assetsStatic","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"tuple[]","components":[
			{"name":"id","type":"address"},
			{"name":"name","type":"string"},
			{"name":"symbol","type":"string"},
			{"name":"decimals","type":"uint8"},
			{"name":"underlyingTokenAddress","type":"address"}
		]}]},
		{"name":"assetsDynamic","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"tuple[]","components":[
			{"name":"id","type":"address"},
			{"name":"underlyingTokenAddress","type":"address"},
			{"name":"lendApyBips","type":"uint256"},
			{"name":"borrowApyBips","type":"uint256"},
			{"name":"totalSuppliedUsdc","type":"uint256"},
			{"name":"totalBorrowedUsdc","type":"uint256"},
			{"name":"liquidityUsdc","type":"uint256"},
			{"name":"collateralFactor","type":"uint256"},
			{"name":"exchangeRate","type":"uint256"},
			{"name":"isActive","type":"bool"},
			{"name":"underlyingTokenPriceUsdc","type":"uint256"}
		]}]},
		{"name":"assetsTokensAddresses","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address[]"}]},
		{"name":"positionsOf","type":"function","stateMutability":"view","inputs":[{"name":"accountAddress","type":"address"}],"outputs":[{"name":"","type":"tuple[]","components":[
			{"name":"assetId","type":"address"},
			{"name":"tokenId","type":"address"},
			{"name":"typeId","type":"string"},
			{"name":"balance","type":"uint256"},
			{"name":"balanceUsdc","type":"uint256"}
		]}]},
		{"name":"adapterPositionOf","type":"function","stateMutability":"view","inputs":[{"name":"accountAddress","type":"address"}],"outputs":[{"name":"","type":"tuple","components":[
			{"name":"supplyBalanceUsdc","type":"uint256"},
			{"name":"borrowBalanceUsdc","type":"uint256"},
			{"name":"borrowLimitUsdc","type":"uint256"},
			{"name":"utilizationRatioBips","type":"uint256"}
		]}]},
		{"name":"assetsUserMetadata","type":"function","stateMutability":"view","inputs":[{"name":"accountAddress","type":"address"}],"outputs":[{"name":"","type":"tuple[]","components":[
			{"name":"assetId","type":"address"},
			{"name":"enteredMarket","type":"bool"},
			{"name":"supplyBalanceUsdc","type":"uint256"},
			{"name":"borrowBalanceUsdc","type":"uint256"},
			{"name":"collateralBalanceUsdc","type":"uint256"},
			{"name":"borrowLimitUsdc","type":"uint256"}
		]}]}
	]`

	// RouterABI is the UniswapV2-style router used for price quotes.
	RouterABI = `[
		{"name":"getAmountsOut","type":"function","stateMutability":"view","inputs":[{"name":"amountIn","type":"uint256"},{"name":"path","type":"address[]"}],"outputs":[{"name":"amounts","type":"uint256[]"}]}
	]`

	// PriceOracleABI returns USDC-denominated prices with 6 decimals.
	PriceOracleABI = `[
		{"name":"getPriceUsdcRecommended","type":"function","stateMutability":"view","inputs":[{"name":"tokenAddress","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
	]`
)

// OraclePriceDecimals is the fixed precision of PriceOracleABI results.
const OraclePriceDecimals = 6
