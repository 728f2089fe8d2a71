package registry

import "github.com/x402labs/facilitator/types"

// builtin is the shipped catalog. Fee assets are the official USDC
// deployments per network; domain parameters match each deployment's
// EIP-712 domain.
var builtin = []Entry{
	// EVM mainnets
	{
		Network:  types.NetworkBase,
		Family:   types.FamilyEVM,
		ChainRef: "eip155:8453",
		ChainID:  8453,
		FeeAsset: FeeAssetDeployment{
			Asset:         "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
			Decimals:      6,
			DomainName:    "USD Coin",
			DomainVersion: "2",
		},
	},
	{
		Network:  types.NetworkPolygon,
		Family:   types.FamilyEVM,
		ChainRef: "eip155:137",
		ChainID:  137,
		FeeAsset: FeeAssetDeployment{
			Asset:         "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359",
			Decimals:      6,
			DomainName:    "USD Coin",
			DomainVersion: "2",
		},
	},
	{
		Network:  types.NetworkAvalanche,
		Family:   types.FamilyEVM,
		ChainRef: "eip155:43114",
		ChainID:  43114,
		FeeAsset: FeeAssetDeployment{
			Asset:         "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E",
			Decimals:      6,
			DomainName:    "USD Coin",
			DomainVersion: "2",
		},
	},

	// EVM testnets
	{
		Network:  types.NetworkBaseSepolia,
		Family:   types.FamilyEVM,
		Testnet:  true,
		ChainRef: "eip155:84532",
		ChainID:  84532,
		FeeAsset: FeeAssetDeployment{
			Asset:         "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
			Decimals:      6,
			DomainName:    "USDC",
			DomainVersion: "2",
		},
	},
	{
		Network:  types.NetworkPolygonAmoy,
		Family:   types.FamilyEVM,
		Testnet:  true,
		ChainRef: "eip155:80002",
		ChainID:  80002,
		FeeAsset: FeeAssetDeployment{
			Asset:         "0x41E94Eb019C0762f9Bfcf9Fb1E58725BfB0e7582",
			Decimals:      6,
			DomainName:    "USDC",
			DomainVersion: "2",
		},
	},
	{
		Network:  types.NetworkAvalancheFuji,
		Family:   types.FamilyEVM,
		Testnet:  true,
		ChainRef: "eip155:43113",
		ChainID:  43113,
		FeeAsset: FeeAssetDeployment{
			Asset:         "0x5425890298aed601595a70AB815c96711a31Bc65",
			Decimals:      6,
			DomainName:    "USD Coin",
			DomainVersion: "2",
		},
	},

	// Solana
	{
		Network:  types.NetworkSolana,
		Family:   types.FamilySolana,
		ChainRef: "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp",
		FeeAsset: FeeAssetDeployment{
			Asset:    "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
			Decimals: 6,
		},
	},
	{
		Network:  types.NetworkSolanaDevnet,
		Family:   types.FamilySolana,
		Testnet:  true,
		ChainRef: "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1",
		FeeAsset: FeeAssetDeployment{
			Asset:    "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU",
			Decimals: 6,
		},
	},

	// NEAR
	{
		Network:  types.NetworkNear,
		Family:   types.FamilyNear,
		ChainRef: "near:mainnet",
		FeeAsset: FeeAssetDeployment{
			Asset:    "17208628f84f5d6ad33f0da3bbbeb27ffcb398eac501a31bd6ad2011e36133a1",
			Decimals: 6,
		},
	},
	{
		Network:  types.NetworkNearTestnet,
		Family:   types.FamilyNear,
		Testnet:  true,
		ChainRef: "near:testnet",
		FeeAsset: FeeAssetDeployment{
			Asset:    "usdc.fakes.testnet",
			Decimals: 6,
		},
	},

	// Stellar
	{
		Network:  types.NetworkStellar,
		Family:   types.FamilyStellar,
		ChainRef: "stellar:pubnet",
		FeeAsset: FeeAssetDeployment{
			Asset:    "CCW67TSZV3SSS2HXMBQ5JFGCKJNXKZM7UQUWUZPUTHXSTZLEO7SJMI75",
			Decimals: 7,
		},
	},
	{
		Network:  types.NetworkStellarTestnet,
		Family:   types.FamilyStellar,
		Testnet:  true,
		ChainRef: "stellar:testnet",
		FeeAsset: FeeAssetDeployment{
			Asset:    "CBIELTK6YBZJU5UP2WWQEUCYKLPU6AUNZ2BQ4WWFEIE3USCIHMXQDAMA",
			Decimals: 7,
		},
	},

	// Algorand (asset reference is the ASA id)
	{
		Network:  types.NetworkAlgorand,
		Family:   types.FamilyAlgorand,
		ChainRef: "algorand:mainnet",
		FeeAsset: FeeAssetDeployment{
			Asset:    "31566704",
			Decimals: 6,
		},
	},
	{
		Network:  types.NetworkAlgorandTestnet,
		Family:   types.FamilyAlgorand,
		Testnet:  true,
		ChainRef: "algorand:testnet",
		FeeAsset: FeeAssetDeployment{
			Asset:    "10458941",
			Decimals: 6,
		},
	},

	// Sui (asset reference is the coin type)
	{
		Network:  types.NetworkSui,
		Family:   types.FamilySui,
		ChainRef: "sui:mainnet",
		FeeAsset: FeeAssetDeployment{
			Asset:    "0xdba34672e30cb065b1f93e3ab55318768fd6fef66c15942c9f7cb846e2f900e7::usdc::USDC",
			Decimals: 6,
		},
	},
	{
		Network:  types.NetworkSuiTestnet,
		Family:   types.FamilySui,
		Testnet:  true,
		ChainRef: "sui:testnet",
		FeeAsset: FeeAssetDeployment{
			Asset:    "0xa1ec7fc00a6f40db9693ad1415d0c193ad3906494428cf252621037bd7117e29::usdc::USDC",
			Decimals: 6,
		},
	},
}
