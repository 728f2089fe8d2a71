package types

// Network identifies a supported ledger network (e.g. "base", "solana-devnet").
type Network string

const (
	// EVM networks
	NetworkBase          Network = "base"
	NetworkBaseSepolia   Network = "base-sepolia" // testnet
	NetworkPolygon       Network = "polygon"
	NetworkPolygonAmoy   Network = "polygon-amoy" // testnet
	NetworkAvalanche     Network = "avalanche"
	NetworkAvalancheFuji Network = "avalanche-fuji" // testnet

	// Solana networks
	NetworkSolana       Network = "solana"
	NetworkSolanaDevnet Network = "solana-devnet" // testnet

	// NEAR networks
	NetworkNear        Network = "near"
	NetworkNearTestnet Network = "near-testnet"

	// Stellar networks
	NetworkStellar        Network = "stellar"
	NetworkStellarTestnet Network = "stellar-testnet"

	// Algorand networks
	NetworkAlgorand        Network = "algorand"
	NetworkAlgorandTestnet Network = "algorand-testnet"

	// Sui networks
	NetworkSui        Network = "sui"
	NetworkSuiTestnet Network = "sui-testnet"
)

// NetworkFamily classifies a network into a ledger family. The set is
// closed: every dispatch site switches exhaustively over these values,
// so adding a family is a code change, not configuration.
type NetworkFamily string

const (
	FamilyEVM      NetworkFamily = "evm"
	FamilySolana   NetworkFamily = "solana"
	FamilyNear     NetworkFamily = "near"
	FamilyStellar  NetworkFamily = "stellar"
	FamilyAlgorand NetworkFamily = "algorand"
	FamilySui      NetworkFamily = "sui"
)

// Families lists every ledger family in dispatch order.
func Families() []NetworkFamily {
	return []NetworkFamily{
		FamilyEVM,
		FamilySolana,
		FamilyNear,
		FamilyStellar,
		FamilyAlgorand,
		FamilySui,
	}
}

func (n Network) String() string { return string(n) }

func (f NetworkFamily) String() string { return string(f) }

// PaymentScheme represents different payment schemes.
type PaymentScheme string

const (
	SchemeExact PaymentScheme = "exact"
)
