package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/x402labs/facilitator/types"
)

func TestResolveBuiltin(t *testing.T) {
	reg, err := New()
	require.NoError(t, err)

	entry, err := reg.Resolve(types.NetworkBase)
	require.NoError(t, err)
	require.Equal(t, types.FamilyEVM, entry.Family)
	require.EqualValues(t, 8453, entry.ChainID)
	require.False(t, entry.Testnet)

	entry, err = reg.Resolve(types.NetworkSolanaDevnet)
	require.NoError(t, err)
	require.Equal(t, types.FamilySolana, entry.Family)
	require.True(t, entry.Testnet)
}

func TestResolveUnknownNetwork(t *testing.T) {
	reg, err := New()
	require.NoError(t, err)

	_, err = reg.Resolve("dogecoin")
	require.Error(t, err)
	require.Equal(t, types.ErrUnsupportedNetwork, types.KindOf(err))
}

func TestExtraEntriesOverrideBuiltins(t *testing.T) {
	custom := Entry{
		Network:  types.NetworkBase,
		Family:   types.FamilyEVM,
		ChainID:  8453,
		ChainRef: "eip155:8453",
		FeeAsset: FeeAssetDeployment{Asset: "0x00000000000000000000000000000000000000aa", Decimals: 18},
	}
	reg, err := New(custom)
	require.NoError(t, err)

	entry, err := reg.Resolve(types.NetworkBase)
	require.NoError(t, err)
	require.Equal(t, custom.FeeAsset.Asset, entry.FeeAsset.Asset)
}

func TestExtraEntryValidation(t *testing.T) {
	_, err := New(Entry{Network: "x", Family: "cosmos", FeeAsset: FeeAssetDeployment{Asset: "a"}})
	require.Error(t, err)

	_, err = New(Entry{Network: "x", Family: types.FamilyEVM, FeeAsset: FeeAssetDeployment{Asset: "a"}})
	require.Error(t, err) // EVM entry without chain id
}

type staticQuerier struct {
	domain SigningDomain
	err    error
	calls  int
}

func (q *staticQuerier) QueryDomain(context.Context, types.Network, string) (SigningDomain, error) {
	q.calls++
	return q.domain, q.err
}

func TestResolveSigningDomainPriority(t *testing.T) {
	reg, err := New()
	require.NoError(t, err)
	entry, err := reg.Resolve(types.NetworkBase)
	require.NoError(t, err)

	querier := &staticQuerier{domain: SigningDomain{Name: "OnChain", Version: "9"}}

	// Caller-declared extras win over everything.
	req := &types.PaymentRequirements{Extra: map[string]any{"name": "Custom Token", "version": "3"}}
	domain, err := reg.ResolveSigningDomain(context.Background(), req, entry, querier)
	require.NoError(t, err)
	require.Equal(t, SigningDomain{Name: "Custom Token", Version: "3"}, domain)
	require.Zero(t, querier.calls)

	// Static registry entry comes next.
	domain, err = reg.ResolveSigningDomain(context.Background(), &types.PaymentRequirements{}, entry, querier)
	require.NoError(t, err)
	require.Equal(t, entry.FeeAsset.DomainName, domain.Name)
	require.Zero(t, querier.calls)

	// Live query is the last resort.
	bare := entry
	bare.FeeAsset.DomainName = ""
	domain, err = reg.ResolveSigningDomain(context.Background(), &types.PaymentRequirements{}, bare, querier)
	require.NoError(t, err)
	require.Equal(t, "OnChain", domain.Name)
	require.Equal(t, 1, querier.calls)

	querier.err = errors.New("rpc down")
	_, err = reg.ResolveSigningDomain(context.Background(), &types.PaymentRequirements{}, bare, querier)
	require.Error(t, err)
	require.Equal(t, types.ErrProviderUnavailable, types.KindOf(err))
}
