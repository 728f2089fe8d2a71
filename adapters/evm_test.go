package adapters

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/x402labs/facilitator/registry"
	"github.com/x402labs/facilitator/types"
)

func testAdapter(t *testing.T) *EVM {
	t.Helper()
	reg, err := registry.New()
	require.NoError(t, err)
	return NewEVM(Deps{Reg: reg}, nil)
}

func signedEVMRequest(t *testing.T, mutate func(*types.EVMAuthorization)) (*types.VerifyRequest, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	from := crypto.PubkeyToAddress(key.PublicKey)

	now := time.Now().Unix()
	auth := types.EVMAuthorization{
		From:        from.Hex(),
		To:          "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
		Value:       "10000",
		ValidAfter:  "0",
		ValidBefore: big.NewInt(now + 600).String(),
		Nonce:       "0x0000000000000000000000000000000000000000000000000000000000000001",
	}

	req := &types.VerifyRequest{
		X402Version: 1,
		PaymentRequirements: types.PaymentRequirements{
			Scheme:            "exact",
			Network:           "base-sepolia",
			MaxAmountRequired: "10000",
			PayTo:             "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
			Asset:             "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		},
	}

	parsed := &evmAuth{
		token:       common.HexToAddress(req.PaymentRequirements.Asset),
		from:        common.HexToAddress(auth.From),
		to:          common.HexToAddress(auth.To),
		value:       mustBig(auth.Value),
		validAfter:  mustBig(auth.ValidAfter),
		validBefore: mustBig(auth.ValidBefore),
		nonceHex:    auth.Nonce,
	}
	copy(parsed.nonce[:], hexutil.MustDecode(auth.Nonce))

	digest, err := eip3009Digest(registry.SigningDomain{Name: "USDC", Version: "2"}, 84532, parsed)
	require.NoError(t, err)
	sig, err := crypto.Sign(digest, key)
	require.NoError(t, err)

	// Mutations land after signing, so malformed fields reach the decoder
	// exactly as a tampering client would send them.
	if mutate != nil {
		mutate(&auth)
	}

	payload, err := types.EncodePayload(types.NetworkBaseSepolia, types.EVMPayload{
		Signature:     hexutil.Encode(sig),
		Authorization: auth,
	})
	require.NoError(t, err)
	req.PaymentPayload = payload
	return req, from
}

func mustBig(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad big.Int literal " + s)
	}
	return n
}

func TestParsePayloadAcceptsSignedAuthorization(t *testing.T) {
	a := testAdapter(t)
	req, from := signedEVMRequest(t, nil)

	auth, err := a.parsePayload(req)
	require.NoError(t, err)
	require.Equal(t, from, auth.from)
	require.Equal(t, big.NewInt(10000), auth.value)
	require.Len(t, auth.sig, 65)
	require.LessOrEqual(t, auth.sig[64], byte(1))
	require.Contains(t, []uint8{27, 28}, auth.sigV)
}

func TestParsePayloadRejections(t *testing.T) {
	a := testAdapter(t)

	req, _ := signedEVMRequest(t, nil)
	req.PaymentPayload.Payload = "!!!"
	_, err := a.parsePayload(req)
	require.Equal(t, types.ErrDecoding, types.KindOf(err))

	req, _ = signedEVMRequest(t, func(auth *types.EVMAuthorization) {
		auth.From = "not-an-address"
	})
	_, err = a.parsePayload(req)
	require.Equal(t, types.ErrDecoding, types.KindOf(err))

	req, _ = signedEVMRequest(t, func(auth *types.EVMAuthorization) {
		auth.Value = "-1"
	})
	_, err = a.parsePayload(req)
	require.Equal(t, types.ErrDecoding, types.KindOf(err))

	req, _ = signedEVMRequest(t, func(auth *types.EVMAuthorization) {
		auth.Nonce = "0x01"
	})
	_, err = a.parsePayload(req)
	require.Equal(t, types.ErrDecoding, types.KindOf(err))
}

func TestCheckRejectsAmountMismatch(t *testing.T) {
	a := testAdapter(t)
	reg, err := registry.New()
	require.NoError(t, err)
	entry, err := reg.Resolve(types.NetworkBaseSepolia)
	require.NoError(t, err)

	// Authorized amounts must equal the requirement exactly, in both
	// directions.
	for _, value := range []string{"9999", "10001"} {
		req, _ := signedEVMRequest(t, func(auth *types.EVMAuthorization) {
			auth.Value = value
		})
		_, err := a.check(context.Background(), req, entry)
		require.Equal(t, types.ErrAmountOrPartyMismatch, types.KindOf(err), "value %s", value)
	}
}

func TestReplayTTLClamped(t *testing.T) {
	now := time.Now()

	require.Equal(t, 10*time.Minute, replayTTL(big.NewInt(now.Unix()+600), now))
	require.Equal(t, time.Duration(0), replayTTL(big.NewInt(now.Unix()-5), now))

	farFuture := new(big.Int).Lsh(big.NewInt(1), 80)
	require.Equal(t, evmReplayTTLCap, replayTTL(farFuture, now))
	require.Equal(t, evmReplayTTLCap, replayTTL(big.NewInt(now.Unix()+int64(365*24*time.Hour/time.Second)), now))
}

func TestDigestRecoversSigner(t *testing.T) {
	a := testAdapter(t)
	req, from := signedEVMRequest(t, nil)

	auth, err := a.parsePayload(req)
	require.NoError(t, err)

	digest, err := eip3009Digest(registry.SigningDomain{Name: "USDC", Version: "2"}, 84532, auth)
	require.NoError(t, err)
	pub, err := crypto.SigToPub(digest, auth.sig)
	require.NoError(t, err)
	require.Equal(t, from, crypto.PubkeyToAddress(*pub))

	// A different signing domain yields a different digest, so the
	// recovered address cannot match.
	other, err := eip3009Digest(registry.SigningDomain{Name: "USDC", Version: "1"}, 84532, auth)
	require.NoError(t, err)
	require.NotEqual(t, digest, other)
}

func TestVerdictShaping(t *testing.T) {
	resp, err := verdict("0xpayer", nil)
	require.NoError(t, err)
	require.True(t, resp.IsValid)
	require.Equal(t, "0xpayer", resp.Payer)

	resp, err = verdict("", types.NewError(types.ErrAmountOrPartyMismatch, "recipient mismatch"))
	require.NoError(t, err)
	require.False(t, resp.IsValid)
	require.Contains(t, resp.InvalidReason, "recipient mismatch")

	_, err = verdict("", types.NewError(types.ErrProviderUnavailable, "rpc down"))
	require.Error(t, err)
}
