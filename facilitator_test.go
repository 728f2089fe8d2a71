package facilitator

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/x402labs/facilitator/adapters"
	"github.com/x402labs/facilitator/compliance"
	"github.com/x402labs/facilitator/noncestore"
	"github.com/x402labs/facilitator/registry"
	"github.com/x402labs/facilitator/types"
)

// fakeAdapter answers for a whole family with canned results, standing in
// for the chain-specific adapters.
type fakeAdapter struct {
	family    types.NetworkFamily
	payer     string
	sponsor   string
	verifyErr error
	settleErr error
}

func (a *fakeAdapter) Family() types.NetworkFamily { return a.family }
func (a *fakeAdapter) FeeSponsor() string          { return a.sponsor }

func (a *fakeAdapter) Verify(ctx context.Context, req *types.VerifyRequest, entry registry.Entry) (*types.VerifyResponse, error) {
	if a.verifyErr != nil {
		if kind := types.KindOf(a.verifyErr); kind != "" && kind != types.ErrProviderUnavailable {
			return types.Invalid(kind, a.verifyErr.Error()), nil
		}
		return nil, a.verifyErr
	}
	return types.Valid(a.payer), nil
}

func (a *fakeAdapter) Settle(ctx context.Context, req *types.VerifyRequest, entry registry.Entry) (*types.SettleResponse, error) {
	if a.settleErr != nil {
		return nil, a.settleErr
	}
	return &types.SettleResponse{
		Success:     true,
		Transaction: "0xf00d",
		Network:     entry.Network,
		Payer:       a.payer,
	}, nil
}

const testPayer = "0x9965507d1a55bcc2695c58ba16fb37d819b0a4dc"

func newFacilitator(t *testing.T, fake *fakeAdapter, screen *compliance.Screen) *Facilitator {
	t.Helper()
	reg, err := registry.New()
	require.NoError(t, err)
	f, err := New(reg, screen, []adapters.Adapter{fake})
	require.NoError(t, err)
	return f
}

func testRequest(t *testing.T, network string) *types.VerifyRequest {
	t.Helper()
	payload, err := types.EncodePayload(types.Network(network), types.EVMPayload{})
	require.NoError(t, err)
	return &types.VerifyRequest{
		X402Version:    1,
		PaymentPayload: payload,
		PaymentRequirements: types.PaymentRequirements{
			Scheme:            "exact",
			Network:           network,
			MaxAmountRequired: "10000",
			PayTo:             "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
			Asset:             "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		},
	}
}

func blockingScreen(t *testing.T, addrs ...string) *compliance.Screen {
	t.Helper()
	screen, err := compliance.New(context.Background(),
		&compliance.StaticSource{ListName: "sanctioned", Addresses: addrs},
		&compliance.StaticSource{ListName: "blocklist"},
		nil)
	require.NoError(t, err)
	return screen
}

func TestVerifyDispatchesToFamilyAdapter(t *testing.T) {
	fake := &fakeAdapter{family: types.FamilyEVM, payer: testPayer}
	f := newFacilitator(t, fake, blockingScreen(t))

	resp, err := f.Verify(context.Background(), testRequest(t, "base"))
	require.NoError(t, err)
	require.True(t, resp.IsValid)
	require.Equal(t, testPayer, resp.Payer)
}

func TestVerifyUnknownNetwork(t *testing.T) {
	fake := &fakeAdapter{family: types.FamilyEVM, payer: testPayer}
	f := newFacilitator(t, fake, nil)

	resp, err := f.Verify(context.Background(), testRequest(t, "dogecoin"))
	require.NoError(t, err)
	require.False(t, resp.IsValid)
	require.Contains(t, resp.InvalidReason, string(types.ErrUnsupportedNetwork))
}

func TestVerifyNetworkWithoutAdapter(t *testing.T) {
	// The registry knows solana-devnet but only an EVM adapter is wired.
	fake := &fakeAdapter{family: types.FamilyEVM, payer: testPayer}
	f := newFacilitator(t, fake, nil)

	req := testRequest(t, "solana-devnet")
	resp, err := f.Verify(context.Background(), req)
	require.NoError(t, err)
	require.False(t, resp.IsValid)
	require.Contains(t, resp.InvalidReason, string(types.ErrUnsupportedNetwork))
}

func TestVerifyScreensRecoveredPayer(t *testing.T) {
	fake := &fakeAdapter{family: types.FamilyEVM, payer: testPayer}
	f := newFacilitator(t, fake, blockingScreen(t, testPayer))

	resp, err := f.Verify(context.Background(), testRequest(t, "base"))
	require.NoError(t, err)
	require.False(t, resp.IsValid)
	require.Contains(t, resp.InvalidReason, string(types.ErrBlocklisted))
}

func TestVerifyBadEnvelope(t *testing.T) {
	fake := &fakeAdapter{family: types.FamilyEVM, payer: testPayer}
	f := newFacilitator(t, fake, nil)

	req := testRequest(t, "base")
	req.X402Version = 2
	resp, err := f.Verify(context.Background(), req)
	require.NoError(t, err)
	require.False(t, resp.IsValid)
	require.Contains(t, resp.InvalidReason, string(types.ErrDecoding))
}

func TestSettleHappyPath(t *testing.T) {
	fake := &fakeAdapter{family: types.FamilyEVM, payer: testPayer, sponsor: "0xfee"}
	f := newFacilitator(t, fake, blockingScreen(t))

	receipt, err := f.Settle(context.Background(), testRequest(t, "base"))
	require.NoError(t, err)
	require.True(t, receipt.Success)
	require.Equal(t, "0xf00d", receipt.Transaction)
	require.Equal(t, testPayer, receipt.Payer)
	require.Empty(t, receipt.ErrorReason)
}

func TestSettleReportsErrorKind(t *testing.T) {
	fake := &fakeAdapter{
		family:    types.FamilyEVM,
		payer:     testPayer,
		settleErr: types.NewError(types.ErrOnChainRejected, "reverted"),
	}
	f := newFacilitator(t, fake, nil)

	receipt, err := f.Settle(context.Background(), testRequest(t, "base"))
	require.NoError(t, err)
	require.False(t, receipt.Success)
	require.Empty(t, receipt.Transaction)
	require.Equal(t, string(types.ErrOnChainRejected), receipt.ErrorReason)
	require.Equal(t, testPayer, receipt.Payer)
}

func TestSettleBlocksSanctionedPayer(t *testing.T) {
	fake := &fakeAdapter{family: types.FamilyEVM, payer: testPayer}
	f := newFacilitator(t, fake, blockingScreen(t, testPayer))

	receipt, err := f.Settle(context.Background(), testRequest(t, "base"))
	require.NoError(t, err)
	require.False(t, receipt.Success)
	require.Equal(t, string(types.ErrBlocklisted), receipt.ErrorReason)
}

func TestSettleFailsVerificationFirst(t *testing.T) {
	fake := &fakeAdapter{
		family:    types.FamilyEVM,
		verifyErr: types.NewError(types.ErrSignatureInvalid, "bad signature"),
	}
	f := newFacilitator(t, fake, nil)

	receipt, err := f.Settle(context.Background(), testRequest(t, "base"))
	require.NoError(t, err)
	require.False(t, receipt.Success)
	// Rejections surface through the failed verification verdict.
	require.NotEmpty(t, receipt.ErrorReason)
}

func TestSettlePreservesVerifyErrorKind(t *testing.T) {
	// The receipt carries the kind the verification rejected with, not a
	// generic decoding error.
	for _, kind := range []types.ErrorKind{
		types.ErrAmountOrPartyMismatch,
		types.ErrSignatureInvalid,
		types.ErrAuthorizationExpired,
	} {
		fake := &fakeAdapter{
			family:    types.FamilyEVM,
			verifyErr: types.NewError(kind, "rejected"),
		}
		f := newFacilitator(t, fake, nil)

		receipt, err := f.Settle(context.Background(), testRequest(t, "base"))
		require.NoError(t, err)
		require.False(t, receipt.Success)
		require.Equal(t, string(kind), receipt.ErrorReason)
	}
}

func TestSettleUnknownNetwork(t *testing.T) {
	fake := &fakeAdapter{family: types.FamilyEVM, payer: testPayer}
	f := newFacilitator(t, fake, nil)

	receipt, err := f.Settle(context.Background(), testRequest(t, "dogecoin"))
	require.NoError(t, err)
	require.False(t, receipt.Success)
	require.Equal(t, string(types.ErrUnsupportedNetwork), receipt.ErrorReason)
}

func TestDuplicateFamilyAdaptersRejected(t *testing.T) {
	reg, err := registry.New()
	require.NoError(t, err)
	_, err = New(reg, nil, []adapters.Adapter{
		&fakeAdapter{family: types.FamilyEVM},
		&fakeAdapter{family: types.FamilyEVM},
	})
	require.Error(t, err)
}

func TestSupportedListsWiredFamilies(t *testing.T) {
	fake := &fakeAdapter{family: types.FamilyEVM, sponsor: "0xfee"}
	f := newFacilitator(t, fake, nil)

	resp := f.Supported()
	require.NotEmpty(t, resp.Kinds)
	for i, kind := range resp.Kinds {
		require.Equal(t, "exact", kind.Scheme)
		require.Equal(t, "0xfee", kind.Extra["feePayer"])
		// Only EVM networks: no other family has an adapter.
		require.False(t, strings.HasPrefix(kind.Network, "solana"))
		if i > 0 {
			require.Less(t, resp.Kinds[i-1].Network, kind.Network)
		}
	}
}

func TestStoreAndRefreshOptions(t *testing.T) {
	reg, err := registry.New()
	require.NoError(t, err)

	store := noncestore.NewMemoryStore()
	f, err := New(reg, nil, []adapters.Adapter{&fakeAdapter{family: types.FamilyEVM}},
		WithNonceStore(store),
		WithComplianceRefresh(5*time.Minute),
	)
	require.NoError(t, err)
	require.Same(t, store, f.nonces)
	require.Equal(t, 5*time.Minute, f.complianceRefresh)

	// Nil and non-positive values keep the defaults.
	f, err = New(reg, nil, []adapters.Adapter{&fakeAdapter{family: types.FamilyEVM}},
		WithNonceStore(nil),
		WithComplianceRefresh(0),
	)
	require.NoError(t, err)
	require.Nil(t, f.nonces)
	require.Zero(t, f.complianceRefresh)
}

func TestSupportedSkipsSponsorlessFamilies(t *testing.T) {
	// A family without a configured fee sponsor cannot settle, so it is
	// not advertised.
	fake := &fakeAdapter{family: types.FamilyEVM}
	f := newFacilitator(t, fake, nil)

	require.Empty(t, f.Supported().Kinds)
}
