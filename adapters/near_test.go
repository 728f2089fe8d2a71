package adapters

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"math/big"
	"testing"

	"github.com/near/borsh-go"
	"github.com/stretchr/testify/require"

	"github.com/x402labs/facilitator/clients"
	"github.com/x402labs/facilitator/noncestore"
	"github.com/x402labs/facilitator/registry"
	"github.com/x402labs/facilitator/types"
)

func bigOne() *big.Int { return big.NewInt(1) }

func sampleDelegateAction(t *testing.T) (*nearDelegateAction, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	action := &nearDelegateAction{
		SenderID:   "payer.near",
		ReceiverID: "usdc.near",
		Actions: []nearInnerAction{{
			Enum: borsh.Enum(nearActionFunctionCall),
			FunctionCall: nearFunctionCall{
				MethodName: "ft_transfer",
				Args:       []byte(`{"receiver_id":"merchant.near","amount":"10000"}`),
				Gas:        ftTransferGas,
				Deposit:    *bigOne(),
			},
		}},
		Nonce:          77,
		MaxBlockHeight: 120_000_000,
	}
	action.PublicKey.KeyType = 0
	copy(action.PublicKey.Data[:], pub)
	return action, priv
}

func TestSignedDelegateActionRoundTrip(t *testing.T) {
	action, priv := sampleDelegateAction(t)

	hash, err := nep461Hash(action)
	require.NoError(t, err)

	signed := nearSignedDelegateAction{DelegateAction: *action}
	copy(signed.Signature.Data[:], ed25519.Sign(priv, hash[:]))

	raw, err := borsh.Serialize(signed)
	require.NoError(t, err)

	var decoded nearSignedDelegateAction
	require.NoError(t, borsh.Deserialize(&decoded, raw))
	require.Equal(t, signed.DelegateAction.SenderID, decoded.DelegateAction.SenderID)
	require.Equal(t, signed.DelegateAction.Nonce, decoded.DelegateAction.Nonce)
	require.Len(t, decoded.DelegateAction.Actions, 1)
	require.Equal(t, "ft_transfer", decoded.DelegateAction.Actions[0].FunctionCall.MethodName)

	// The signature verifies against the hash of the decoded form.
	rehash, err := nep461Hash(&decoded.DelegateAction)
	require.NoError(t, err)
	require.Equal(t, hash, rehash)
	require.True(t, ed25519.Verify(decoded.DelegateAction.PublicKey.Data[:], rehash[:], decoded.Signature.Data[:]))
}

func TestNep461HashBindsEveryField(t *testing.T) {
	action, _ := sampleDelegateAction(t)
	base, err := nep461Hash(action)
	require.NoError(t, err)

	tampered := *action
	tampered.Nonce++
	altered, err := nep461Hash(&tampered)
	require.NoError(t, err)
	require.NotEqual(t, base, altered)

	tampered = *action
	tampered.SenderID = "attacker.near"
	altered, err = nep461Hash(&tampered)
	require.NoError(t, err)
	require.NotEqual(t, base, altered)
}

type nearFixture struct {
	adapter *Near
	entry   registry.Entry
}

func newNearFixture(t *testing.T) *nearFixture {
	t.Helper()
	reg, err := registry.New()
	require.NoError(t, err)
	entry, err := reg.Resolve(types.NetworkNearTestnet)
	require.NoError(t, err)

	deps := Deps{
		// No endpoints configured: a fully valid action fails at the
		// block-height query with provider_unavailable, proving the
		// offline checks all passed.
		Cache:  clients.NewCache(nil),
		Reg:    reg,
		Nonces: noncestore.NewMemoryStore(),
	}
	return &nearFixture{adapter: NewNear(deps, nil), entry: entry}
}

// signedNearRequest builds a signed ft_transfer delegate action for amount
// against the testnet fee asset.
func (fx *nearFixture) signedNearRequest(t *testing.T, amount uint64) *types.VerifyRequest {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	action := nearDelegateAction{
		SenderID:   "payer.testnet",
		ReceiverID: fx.entry.FeeAsset.Asset,
		Actions: []nearInnerAction{{
			Enum: borsh.Enum(nearActionFunctionCall),
			FunctionCall: nearFunctionCall{
				MethodName: "ft_transfer",
				Args:       []byte(fmt.Sprintf(`{"receiver_id":"merchant.testnet","amount":"%d"}`, amount)),
				Gas:        ftTransferGas,
				Deposit:    *bigOne(),
			},
		}},
		Nonce:          77,
		MaxBlockHeight: 120_000_000,
	}
	copy(action.PublicKey.Data[:], pub)

	hash, err := nep461Hash(&action)
	require.NoError(t, err)
	signed := nearSignedDelegateAction{DelegateAction: action}
	copy(signed.Signature.Data[:], ed25519.Sign(priv, hash[:]))
	raw, err := borsh.Serialize(signed)
	require.NoError(t, err)

	payload, err := types.EncodePayload(types.NetworkNearTestnet, types.NearPayload{
		SignedDelegateAction: base64.StdEncoding.EncodeToString(raw),
	})
	require.NoError(t, err)
	return &types.VerifyRequest{
		X402Version:    1,
		PaymentPayload: payload,
		PaymentRequirements: types.PaymentRequirements{
			Scheme:            "exact",
			Network:           "near-testnet",
			MaxAmountRequired: "10000",
			PayTo:             "merchant.testnet",
			Asset:             fx.entry.FeeAsset.Asset,
		},
	}
}

func TestNearStaticChecksPass(t *testing.T) {
	fx := newNearFixture(t)
	req := fx.signedNearRequest(t, 10000)

	_, err := fx.adapter.check(context.Background(), req, fx.entry)
	require.Error(t, err)
	require.Equal(t, types.ErrProviderUnavailable, types.KindOf(err))
}

func TestNearRejectsAmountMismatch(t *testing.T) {
	fx := newNearFixture(t)

	for _, amount := range []uint64{9999, 10001} {
		req := fx.signedNearRequest(t, amount)
		_, err := fx.adapter.check(context.Background(), req, fx.entry)
		require.Equal(t, types.ErrAmountOrPartyMismatch, types.KindOf(err), "amount %d", amount)
	}
}

func TestPublicKeyRendering(t *testing.T) {
	var key nearPublicKey
	key.Data[31] = 1
	rendered := key.String()
	require.Contains(t, rendered, "ed25519:")
}
