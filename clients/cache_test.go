package clients

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/x402labs/facilitator/types"
)

func TestCacheMissingEndpoint(t *testing.T) {
	c := NewCache(nil)

	_, err := c.Solana(types.NetworkSolanaDevnet)
	require.Error(t, err)
	require.Equal(t, types.ErrProviderUnavailable, types.KindOf(err))
}

func TestCacheReusesHandles(t *testing.T) {
	c := NewCache(Endpoints{
		types.NetworkSolanaDevnet: {URL: "http://localhost:8899"},
	})

	// solrpc.New never dials, so construction is offline.
	first, err := c.Solana(types.NetworkSolanaDevnet)
	require.NoError(t, err)
	second, err := c.Solana(types.NetworkSolanaDevnet)
	require.NoError(t, err)
	require.Same(t, first, second)
}

func TestCacheStellarHandleReadyForConcurrentUse(t *testing.T) {
	c := NewCache(Endpoints{
		types.NetworkStellarTestnet: {
			URL:        "https://horizon-testnet.stellar.org",
			SorobanURL: "https://soroban-testnet.stellar.org",
		},
	})

	// The shared handle must come out of construction fully initialized;
	// late field population would race once the handle is cached.
	client, err := c.Stellar(types.NetworkStellarTestnet)
	require.NoError(t, err)
	require.NotNil(t, client.Horizon)
	require.NotNil(t, client.http)
}

func TestCacheStellarRequiresSorobanURL(t *testing.T) {
	c := NewCache(Endpoints{
		types.NetworkStellarTestnet: {URL: "https://horizon-testnet.stellar.org"},
	})

	_, err := c.Stellar(types.NetworkStellarTestnet)
	require.Error(t, err)
	require.Equal(t, types.ErrProviderUnavailable, types.KindOf(err))

	// Failures are not cached: a corrected endpoint set would succeed, so
	// verify the failure repeats rather than returning a stale handle.
	_, err = c.Stellar(types.NetworkStellarTestnet)
	require.Error(t, err)
}
