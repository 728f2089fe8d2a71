package adapters

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/algorand/go-algorand-sdk/v2/client/v2/algod"
	algocrypto "github.com/algorand/go-algorand-sdk/v2/crypto"
	"github.com/algorand/go-algorand-sdk/v2/encoding/msgpack"
	algotypes "github.com/algorand/go-algorand-sdk/v2/types"

	"github.com/x402labs/facilitator/noncestore"
	"github.com/x402labs/facilitator/registry"
	"github.com/x402labs/facilitator/signer"
	"github.com/x402labs/facilitator/types"
)

// algorandMinFee is the protocol minimum per-transaction fee in microAlgos.
const algorandMinFee = 1000

const algorandReplayTTL = 15 * time.Minute

// Algorand settles ASA payments carried as two-transaction atomic groups:
// an unsigned fee transaction from the facilitator and a client-signed
// zero-fee asset transfer. The fee transaction carries the whole group's
// fees, so the payer never spends Algos.
type Algorand struct {
	deps    Deps
	sponsor *signer.Algorand
}

func NewAlgorand(deps Deps, sponsor *signer.Algorand) *Algorand {
	deps.fill()
	return &Algorand{deps: deps, sponsor: sponsor}
}

func (a *Algorand) Family() types.NetworkFamily { return types.FamilyAlgorand }

func (a *Algorand) FeeSponsor() string {
	if a.sponsor == nil {
		return ""
	}
	return a.sponsor.Address().String()
}

type algorandGroup struct {
	feeTxn     algotypes.Transaction
	paymentStx algotypes.SignedTxn
	feeFirst   bool // fee transaction sits at group index 0
	payer      algotypes.Address
	groupHex   string
}

func (a *Algorand) check(ctx context.Context, req *types.VerifyRequest, entry registry.Entry) (*algorandGroup, error) {
	if a.sponsor == nil {
		return nil, types.NewError(types.ErrProviderUnavailable, "no Algorand sponsor configured")
	}
	var payload types.AlgorandPayload
	if err := types.DecodePayload(&req.PaymentPayload, &payload); err != nil {
		return nil, err
	}
	if len(payload.PaymentGroup) != 2 {
		return nil, types.NewError(types.ErrDecoding, "payment group must hold exactly 2 transactions, found %d", len(payload.PaymentGroup))
	}
	if payload.PaymentIndex < 0 || payload.PaymentIndex > 1 {
		return nil, types.NewError(types.ErrDecoding, "payment index %d out of range", payload.PaymentIndex)
	}

	stxs := make([]algotypes.SignedTxn, 2)
	for i, enc := range payload.PaymentGroup {
		raw, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			return nil, types.WrapError(types.ErrDecoding, err, "group entry %d is not valid base64", i)
		}
		if err := msgpack.Decode(raw, &stxs[i]); err != nil {
			return nil, types.WrapError(types.ErrDecoding, err, "group entry %d does not deserialize", i)
		}
	}
	feeIndex := 1 - payload.PaymentIndex
	feeStx := stxs[feeIndex]
	payStx := stxs[payload.PaymentIndex]

	var zeroAddr algotypes.Address
	var zeroSig algotypes.Signature

	// Fee transaction: facilitator-owned, zero amount, and unable to drain
	// or rekey the sponsor account.
	fee := feeStx.Txn
	if fee.Type != algotypes.PaymentTx {
		return nil, types.NewError(types.ErrAmountOrPartyMismatch, "fee transaction is not a payment")
	}
	if fee.Sender != a.sponsor.Address() {
		return nil, types.NewError(types.ErrAmountOrPartyMismatch, "fee transaction sender is not the facilitator")
	}
	if fee.Amount != 0 {
		return nil, types.NewError(types.ErrAmountOrPartyMismatch, "fee transaction must move zero microAlgos")
	}
	if fee.CloseRemainderTo != zeroAddr {
		return nil, types.NewError(types.ErrAmountOrPartyMismatch, "fee transaction sets close-remainder-to")
	}
	if fee.RekeyTo != zeroAddr {
		return nil, types.NewError(types.ErrAmountOrPartyMismatch, "fee transaction sets rekey-to")
	}
	if feeStx.Sig != zeroSig {
		return nil, types.NewError(types.ErrDecoding, "fee transaction must arrive unsigned")
	}
	if uint64(fee.Fee) < 2*algorandMinFee {
		return nil, types.NewError(types.ErrAmountOrPartyMismatch, "fee transaction does not cover the group's fees")
	}

	// Payment transaction: zero-fee ASA transfer to payTo.
	pay := payStx.Txn
	if pay.Type != algotypes.AssetTransferTx {
		return nil, types.NewError(types.ErrAmountOrPartyMismatch, "payment transaction is not an asset transfer")
	}
	if pay.Fee != 0 {
		return nil, types.NewError(types.ErrAmountOrPartyMismatch, "payment transaction must carry zero fee")
	}
	asaID, err := strconv.ParseUint(req.PaymentRequirements.Asset, 10, 64)
	if err != nil {
		return nil, types.WrapError(types.ErrDecoding, err, "asset is not an ASA id")
	}
	if uint64(pay.XferAsset) != asaID {
		return nil, types.NewError(types.ErrAmountOrPartyMismatch, "transferred asset does not match the fee asset")
	}
	payTo, err := algotypes.DecodeAddress(req.PaymentRequirements.PayTo)
	if err != nil {
		return nil, types.WrapError(types.ErrDecoding, err, "payTo is not an Algorand address")
	}
	if pay.AssetReceiver != payTo {
		return nil, types.NewError(types.ErrAmountOrPartyMismatch, "asset receiver does not match payTo")
	}
	required, err := req.PaymentRequirements.Amount()
	if err != nil {
		return nil, err
	}
	if !required.IsUint64() || pay.AssetAmount != required.Uint64() {
		return nil, types.NewError(types.ErrAmountOrPartyMismatch, "asset amount does not match required amount")
	}
	if pay.AssetCloseTo != zeroAddr {
		return nil, types.NewError(types.ErrAmountOrPartyMismatch, "payment transaction sets asset-close-to")
	}
	if pay.RekeyTo != zeroAddr {
		return nil, types.NewError(types.ErrAmountOrPartyMismatch, "payment transaction sets rekey-to")
	}

	// Group binding: both entries declare the same group id and it must be
	// the id of this exact pair in this exact order.
	var zeroDigest algotypes.Digest
	if fee.Group == zeroDigest || fee.Group != pay.Group {
		return nil, types.NewError(types.ErrDecoding, "group ids are missing or inconsistent")
	}
	ordered := make([]algotypes.Transaction, 2)
	ordered[feeIndex] = fee
	ordered[payload.PaymentIndex] = pay
	// ComputeGroupID refuses transactions that already carry a group id,
	// so recompute over copies with the field cleared.
	ordered[0].Group = zeroDigest
	ordered[1].Group = zeroDigest
	gid, err := algocrypto.ComputeGroupID(ordered)
	if err != nil {
		return nil, types.WrapError(types.ErrDecoding, err, "recomputing group id")
	}
	if !bytes.Equal(gid[:], fee.Group[:]) {
		return nil, types.NewError(types.ErrDecoding, "declared group id does not match the transactions")
	}

	// The payer's signature covers the group id, so it authorizes the
	// whole pairing.
	toSign := append([]byte("TX"), msgpack.Encode(&pay)...)
	if !ed25519.Verify(pay.Sender[:], toSign, payStx.Sig[:]) {
		return nil, types.NewError(types.ErrSignatureInvalid, "payment signature does not verify for sender")
	}

	client, err := a.deps.Cache.Algorand(entry.Network)
	if err != nil {
		return nil, err
	}
	status, err := client.Status().Do(ctx)
	if err != nil {
		return nil, types.WrapError(types.ErrProviderUnavailable, err, "fetching node status")
	}
	if uint64(pay.LastValid) < status.LastRound {
		return nil, types.NewError(types.ErrAuthorizationExpired,
			"payment valid through round %d, chain is at %d", pay.LastValid, status.LastRound)
	}

	groupHex := hex.EncodeToString(gid[:])
	seen, err := replayTokenUsed(ctx, a.deps.Nonces, noncestore.GroupKey(entry.Network.String(), groupHex))
	if err != nil {
		return nil, types.WrapError(types.ErrProviderUnavailable, err, "replay store query failed")
	}
	if seen {
		return nil, types.NewError(types.ErrReplayed, "transaction group already submitted by this facilitator")
	}

	return &algorandGroup{
		feeTxn:     fee,
		paymentStx: payStx,
		feeFirst:   feeIndex == 0,
		payer:      pay.Sender,
		groupHex:   groupHex,
	}, nil
}

func (a *Algorand) Verify(ctx context.Context, req *types.VerifyRequest, entry registry.Entry) (*types.VerifyResponse, error) {
	group, err := a.check(ctx, req, entry)
	if err != nil {
		return verdict("", err)
	}
	return verdict(group.payer.String(), nil)
}

func (a *Algorand) Settle(ctx context.Context, req *types.VerifyRequest, entry registry.Entry) (*types.SettleResponse, error) {
	group, err := a.check(ctx, req, entry)
	if err != nil {
		return nil, err
	}
	client, err := a.deps.Cache.Algorand(entry.Network)
	if err != nil {
		return nil, err
	}

	key := noncestore.GroupKey(entry.Network.String(), group.groupHex)
	if err := markReplayToken(ctx, a.deps.Nonces, key, algorandReplayTTL); err != nil {
		return nil, err
	}

	_, signedFee, err := a.sponsor.SignTransaction(group.feeTxn)
	if err != nil {
		return nil, types.WrapError(types.ErrProviderUnavailable, err, "signing fee transaction")
	}
	signedPay := msgpack.Encode(&group.paymentStx)

	var groupBytes []byte
	if group.feeFirst {
		groupBytes = append(signedFee, signedPay...)
	} else {
		groupBytes = append(signedPay, signedFee...)
	}

	txid, err := client.SendRawTransaction(groupBytes).Do(ctx)
	if err != nil {
		return nil, types.WrapError(types.ErrOnChainRejected, err, "broadcast rejected")
	}
	if err := a.waitConfirmed(ctx, client, txid); err != nil {
		return nil, err
	}

	a.deps.Log.Info("algorand settlement confirmed", map[string]any{
		"network": entry.Network.String(),
		"tx":      txid,
		"payer":   group.payer.String(),
	})
	return settled(entry.Network, txid, group.payer.String()), nil
}

func (a *Algorand) waitConfirmed(ctx context.Context, client *algod.Client, txid string) error {
	ctx, cancel := context.WithTimeout(ctx, a.deps.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		info, _, err := client.PendingTransactionInformation(txid).Do(ctx)
		if err == nil {
			if info.PoolError != "" {
				return types.NewError(types.ErrOnChainRejected, "transaction %s rejected: %s", txid, info.PoolError)
			}
			if info.ConfirmedRound > 0 {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return types.WrapError(types.ErrSubmissionTimeout, ctx.Err(),
				"no confirmation for %s within %s", txid, a.deps.ConfirmTimeout)
		case <-ticker.C:
		}
	}
}
