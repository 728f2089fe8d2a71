package adapters

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/block-vision/sui-go-sdk/models"
	"golang.org/x/crypto/blake2b"

	"github.com/x402labs/facilitator/noncestore"
	"github.com/x402labs/facilitator/registry"
	"github.com/x402labs/facilitator/signer"
	"github.com/x402labs/facilitator/types"
)

// DefaultSuiGasCeiling caps the gas a sponsored transaction may burn,
// in MIST. A malicious payload cannot drain the sponsor through gas.
const DefaultSuiGasCeiling = 50_000_000

const suiReplayTTL = 30 * time.Minute

// Sui settles sponsored programmable transactions. The payer signs
// transaction bytes naming the facilitator as gas owner; the facilitator
// co-signs and executes, paying gas from its own coin objects.
type Sui struct {
	deps       Deps
	sponsor    *signer.Sui
	gasCeiling uint64
}

func NewSui(deps Deps, sponsor *signer.Sui, gasCeiling uint64) *Sui {
	deps.fill()
	if gasCeiling == 0 {
		gasCeiling = DefaultSuiGasCeiling
	}
	return &Sui{deps: deps, sponsor: sponsor, gasCeiling: gasCeiling}
}

func (a *Sui) Family() types.NetworkFamily { return types.FamilySui }

func (a *Sui) FeeSponsor() string {
	if a.sponsor == nil {
		return ""
	}
	return a.sponsor.Address()
}

type suiPayment struct {
	txBytes    []byte
	txBytesB64 string
	payerSig   string
	payer      string
	digestHex  string
}

// verifyPayerSignature checks the serialized signature against the
// transaction intent digest and returns the signer's derived address.
func verifyPayerSignature(txBytes []byte, serialized string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(serialized)
	if err != nil {
		return "", types.WrapError(types.ErrDecoding, err, "signature is not valid base64")
	}
	// flag || signature(64) || pubkey(32)
	if len(raw) != 1+ed25519.SignatureSize+ed25519.PublicKeySize {
		return "", types.NewError(types.ErrDecoding, "signature serialization has length %d", len(raw))
	}
	if raw[0] != 0x00 {
		return "", types.NewError(types.ErrSignatureInvalid, "only ed25519 payer signatures are supported")
	}
	sig := raw[1 : 1+ed25519.SignatureSize]
	pubkey := raw[1+ed25519.SignatureSize:]

	// TransactionData intent scope, version 0, app id 0.
	intent := append([]byte{0, 0, 0}, txBytes...)
	digest := blake2b.Sum256(intent)
	if !ed25519.Verify(pubkey, digest[:], sig) {
		return "", types.NewError(types.ErrSignatureInvalid, "payer signature does not verify")
	}

	addrInput := append([]byte{raw[0]}, pubkey...)
	addr := blake2b.Sum256(addrInput)
	return "0x" + hex.EncodeToString(addr[:]), nil
}

func (a *Sui) check(ctx context.Context, req *types.VerifyRequest, entry registry.Entry) (*suiPayment, error) {
	if a.sponsor == nil {
		return nil, types.NewError(types.ErrProviderUnavailable, "no Sui sponsor configured")
	}
	var payload types.SuiPayload
	if err := types.DecodePayload(&req.PaymentPayload, &payload); err != nil {
		return nil, err
	}
	txBytes, err := base64.StdEncoding.DecodeString(payload.TxBytes)
	if err != nil {
		return nil, types.WrapError(types.ErrDecoding, err, "txBytes is not valid base64")
	}

	payer, err := verifyPayerSignature(txBytes, payload.Signature)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(payer, a.sponsor.Address()) {
		return nil, types.NewError(types.ErrAmountOrPartyMismatch, "payer must not be the gas sponsor")
	}

	client, err := a.deps.Cache.Sui(entry.Network)
	if err != nil {
		return nil, err
	}
	dry, err := client.SuiDryRunTransactionBlock(ctx, models.SuiDryRunTransactionBlockRequest{
		TxBytes: payload.TxBytes,
	})
	if err != nil {
		return nil, types.WrapError(types.ErrProviderUnavailable, err, "dry run failed")
	}
	if dry.Effects.Status.Status != "success" {
		return nil, types.NewError(types.ErrOnChainRejected, "transaction would fail: %s", dry.Effects.Status.Error)
	}

	gas, err := gasTotal(dry.Effects.GasUsed)
	if err != nil {
		return nil, types.WrapError(types.ErrProviderUnavailable, err, "dry run returned bad gas summary")
	}
	if gas > a.gasCeiling {
		return nil, types.NewError(types.ErrAmountOrPartyMismatch, "gas cost %d exceeds sponsor ceiling %d", gas, a.gasCeiling)
	}

	required, err := req.PaymentRequirements.Amount()
	if err != nil {
		return nil, err
	}
	if !creditsRecipient(dry.BalanceChanges, req.PaymentRequirements.PayTo, req.PaymentRequirements.Asset, required) {
		return nil, types.NewError(types.ErrAmountOrPartyMismatch, "transaction does not pay payTo the required amount of the fee asset")
	}

	digest := blake2b.Sum256(txBytes)
	digestHex := hex.EncodeToString(digest[:])
	seen, err := replayTokenUsed(ctx, a.deps.Nonces, noncestore.DigestKey(entry.Network.String(), digestHex))
	if err != nil {
		return nil, types.WrapError(types.ErrProviderUnavailable, err, "replay store query failed")
	}
	if seen {
		return nil, types.NewError(types.ErrReplayed, "transaction already executed by this facilitator")
	}

	return &suiPayment{
		txBytes:    txBytes,
		txBytesB64: payload.TxBytes,
		payerSig:   payload.Signature,
		payer:      payer,
		digestHex:  digestHex,
	}, nil
}

// creditsRecipient scans dry-run balance changes for a credit of exactly
// required units of coinType to recipient.
func creditsRecipient(changes []models.BalanceChanges, recipient, coinType string, required *big.Int) bool {
	for _, ch := range changes {
		if !strings.EqualFold(ch.Owner.AddressOwner, recipient) {
			continue
		}
		if ch.CoinType != coinType {
			continue
		}
		amount, ok := new(big.Int).SetString(ch.Amount, 10)
		if !ok {
			continue
		}
		if amount.Cmp(required) == 0 {
			return true
		}
	}
	return false
}

func gasTotal(summary models.GasCostSummary) (uint64, error) {
	computation, err := strconv.ParseUint(summary.ComputationCost, 10, 64)
	if err != nil {
		return 0, err
	}
	storage, err := strconv.ParseUint(summary.StorageCost, 10, 64)
	if err != nil {
		return 0, err
	}
	return computation + storage, nil
}

func (a *Sui) Verify(ctx context.Context, req *types.VerifyRequest, entry registry.Entry) (*types.VerifyResponse, error) {
	payment, err := a.check(ctx, req, entry)
	if err != nil {
		return verdict("", err)
	}
	return verdict(payment.payer, nil)
}

func (a *Sui) Settle(ctx context.Context, req *types.VerifyRequest, entry registry.Entry) (*types.SettleResponse, error) {
	payment, err := a.check(ctx, req, entry)
	if err != nil {
		return nil, err
	}
	client, err := a.deps.Cache.Sui(entry.Network)
	if err != nil {
		return nil, err
	}

	key := noncestore.DigestKey(entry.Network.String(), payment.digestHex)
	if err := markReplayToken(ctx, a.deps.Nonces, key, suiReplayTTL); err != nil {
		return nil, err
	}

	sponsorSig := a.sponsor.SignTxBytes(payment.txBytes)

	ctx, cancel := context.WithTimeout(ctx, a.deps.ConfirmTimeout)
	defer cancel()
	resp, err := client.SuiExecuteTransactionBlock(ctx, models.SuiExecuteTransactionBlockRequest{
		TxBytes:   payment.txBytesB64,
		Signature: []string{payment.payerSig, sponsorSig},
		Options: models.SuiTransactionBlockOptions{
			ShowEffects: true,
		},
		RequestType: "WaitForLocalExecution",
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, types.WrapError(types.ErrSubmissionTimeout, err, "no execution result within %s", a.deps.ConfirmTimeout)
		}
		return nil, types.WrapError(types.ErrOnChainRejected, err, "execution rejected")
	}
	if resp.Effects.Status.Status != "success" {
		return nil, types.NewError(types.ErrOnChainRejected, "transaction %s failed: %s", resp.Digest, resp.Effects.Status.Error)
	}

	a.deps.Log.Info("sui settlement confirmed", map[string]any{
		"network": entry.Network.String(),
		"tx":      resp.Digest,
		"payer":   payment.payer,
	})
	return settled(entry.Network, resp.Digest, payment.payer), nil
}
