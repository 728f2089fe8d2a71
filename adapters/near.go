package adapters

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/mr-tron/base58"
	"github.com/near/borsh-go"

	"github.com/x402labs/facilitator/noncestore"
	"github.com/x402labs/facilitator/registry"
	"github.com/x402labs/facilitator/signer"
	"github.com/x402labs/facilitator/types"
)

// ftTransferGas is the gas attached to the relayed ft_transfer call,
// 30 Tgas per NEP-141 convention.
const ftTransferGas = 30_000_000_000_000

const nearReplayTTL = 10 * time.Minute

// Near settles NEP-141 token payments carried as NEP-366 signed delegate
// actions. The payer signs the delegate action; the facilitator wraps it
// in a relayed transaction and pays gas.
type Near struct {
	deps    Deps
	relayer *signer.Near
}

func NewNear(deps Deps, relayer *signer.Near) *Near {
	deps.fill()
	return &Near{deps: deps, relayer: relayer}
}

func (a *Near) Family() types.NetworkFamily { return types.FamilyNear }

func (a *Near) FeeSponsor() string {
	if a.relayer == nil {
		return ""
	}
	return a.relayer.AccountID()
}

// ftTransferArgs is the JSON argument shape of NEP-141 ft_transfer.
type ftTransferArgs struct {
	ReceiverID string `json:"receiver_id"`
	Amount     string `json:"amount"`
	Memo       string `json:"memo,omitempty"`
}

func (a *Near) check(ctx context.Context, req *types.VerifyRequest, entry registry.Entry) (*nearSignedDelegateAction, error) {
	var payload types.NearPayload
	if err := types.DecodePayload(&req.PaymentPayload, &payload); err != nil {
		return nil, err
	}
	raw, err := base64.StdEncoding.DecodeString(payload.SignedDelegateAction)
	if err != nil {
		return nil, types.WrapError(types.ErrDecoding, err, "signed delegate action is not valid base64")
	}
	var signed nearSignedDelegateAction
	if err := borsh.Deserialize(&signed, raw); err != nil {
		return nil, types.WrapError(types.ErrDecoding, err, "signed delegate action does not deserialize")
	}
	action := &signed.DelegateAction

	if signed.Signature.KeyType != 0 || action.PublicKey.KeyType != 0 {
		return nil, types.NewError(types.ErrSignatureInvalid, "only ed25519 delegate signatures are supported")
	}
	hash, err := nep461Hash(action)
	if err != nil {
		return nil, types.WrapError(types.ErrDecoding, err, "hashing delegate action")
	}
	if !ed25519.Verify(action.PublicKey.Data[:], hash[:], signed.Signature.Data[:]) {
		return nil, types.NewError(types.ErrSignatureInvalid, "delegate signature does not verify")
	}

	if action.ReceiverID != req.PaymentRequirements.Asset {
		return nil, types.NewError(types.ErrAmountOrPartyMismatch, "delegate receiver is not the fee-asset contract")
	}
	if len(action.Actions) != 1 {
		return nil, types.NewError(types.ErrAmountOrPartyMismatch, "expected exactly one delegated action, found %d", len(action.Actions))
	}
	inner := action.Actions[0]
	if uint8(inner.Enum) != nearActionFunctionCall {
		return nil, types.NewError(types.ErrAmountOrPartyMismatch, "delegated action is not a function call")
	}
	call := inner.FunctionCall
	if call.MethodName != "ft_transfer" {
		return nil, types.NewError(types.ErrAmountOrPartyMismatch, "delegated call is %q, want ft_transfer", call.MethodName)
	}
	// ft_transfer requires exactly one yoctoNEAR attached.
	if call.Deposit.Cmp(big.NewInt(1)) != 0 {
		return nil, types.NewError(types.ErrAmountOrPartyMismatch, "ft_transfer deposit must be 1 yoctoNEAR")
	}

	var args ftTransferArgs
	if err := json.Unmarshal(call.Args, &args); err != nil {
		return nil, types.WrapError(types.ErrDecoding, err, "ft_transfer arguments are not valid JSON")
	}
	if args.ReceiverID != req.PaymentRequirements.PayTo {
		return nil, types.NewError(types.ErrAmountOrPartyMismatch, "ft_transfer receiver does not match payTo")
	}
	amount, ok := new(big.Int).SetString(args.Amount, 10)
	if !ok {
		return nil, types.NewError(types.ErrDecoding, "bad ft_transfer amount %q", args.Amount)
	}
	required, err := req.PaymentRequirements.Amount()
	if err != nil {
		return nil, err
	}
	if amount.Cmp(required) != 0 {
		return nil, types.NewError(types.ErrAmountOrPartyMismatch, "ft_transfer amount does not match required amount")
	}

	client, err := a.deps.Cache.Near(entry.Network)
	if err != nil {
		return nil, err
	}
	_, height, err := client.LatestBlock(ctx)
	if err != nil {
		return nil, types.WrapError(types.ErrProviderUnavailable, err, "fetching latest block")
	}
	if action.MaxBlockHeight < height {
		return nil, types.NewError(types.ErrAuthorizationExpired, "delegate action expired at block %d, chain is at %d", action.MaxBlockHeight, height)
	}
	accessKey, err := client.ViewAccessKey(ctx, action.SenderID, action.PublicKey.String())
	if err != nil {
		return nil, types.WrapError(types.ErrProviderUnavailable, err, "access key lookup for %s failed", action.SenderID)
	}
	if action.Nonce <= accessKey.Nonce {
		return nil, types.NewError(types.ErrReplayed, "delegate nonce %d is not ahead of access-key nonce %d", action.Nonce, accessKey.Nonce)
	}

	seen, err := replayTokenUsed(ctx, a.deps.Nonces, noncestore.Key(entry.Network.String(), action.SenderID, fmt.Sprint(action.Nonce)))
	if err != nil {
		return nil, types.WrapError(types.ErrProviderUnavailable, err, "replay store query failed")
	}
	if seen {
		return nil, types.NewError(types.ErrReplayed, "delegate action already relayed by this facilitator")
	}

	return &signed, nil
}

func (a *Near) Verify(ctx context.Context, req *types.VerifyRequest, entry registry.Entry) (*types.VerifyResponse, error) {
	signed, err := a.check(ctx, req, entry)
	if err != nil {
		return verdict("", err)
	}
	return verdict(signed.DelegateAction.SenderID, nil)
}

func (a *Near) Settle(ctx context.Context, req *types.VerifyRequest, entry registry.Entry) (*types.SettleResponse, error) {
	if a.relayer == nil {
		return nil, types.NewError(types.ErrProviderUnavailable, "no NEAR relayer configured")
	}
	signed, err := a.check(ctx, req, entry)
	if err != nil {
		return nil, err
	}
	action := &signed.DelegateAction

	client, err := a.deps.Cache.Near(entry.Network)
	if err != nil {
		return nil, err
	}

	key := noncestore.Key(entry.Network.String(), action.SenderID, fmt.Sprint(action.Nonce))
	if err := markReplayToken(ctx, a.deps.Nonces, key, nearReplayTTL); err != nil {
		return nil, err
	}

	var relayerKey nearPublicKey
	copy(relayerKey.Data[:], a.relayer.PublicKey())
	accessKey, err := client.ViewAccessKey(ctx, a.relayer.AccountID(), relayerKey.String())
	if err != nil {
		return nil, types.WrapError(types.ErrProviderUnavailable, err, "relayer access key lookup failed")
	}
	blockHashB58, _, err := client.LatestBlock(ctx)
	if err != nil {
		return nil, types.WrapError(types.ErrProviderUnavailable, err, "fetching latest block")
	}
	blockHash, err := base58.Decode(blockHashB58)
	if err != nil || len(blockHash) != 32 {
		return nil, types.NewError(types.ErrProviderUnavailable, "node returned malformed block hash %q", blockHashB58)
	}

	tx := nearTransaction{
		SignerID:   a.relayer.AccountID(),
		PublicKey:  relayerKey,
		Nonce:      accessKey.Nonce + 1,
		ReceiverID: action.SenderID,
		Actions: []nearOuterAction{{
			Enum:     borsh.Enum(nearActionDelegate),
			Delegate: *signed,
		}},
	}
	copy(tx.BlockHash[:], blockHash)

	digest, txHash, err := tx.txHash()
	if err != nil {
		return nil, types.WrapError(types.ErrDecoding, err, "serializing relayed transaction")
	}
	var sig nearSignature
	copy(sig.Data[:], a.relayer.Sign(digest[:]))
	signedTx := nearSignedTransaction{Transaction: tx, Signature: sig}
	rawTx, err := borsh.Serialize(signedTx)
	if err != nil {
		return nil, types.WrapError(types.ErrDecoding, err, "serializing signed transaction")
	}

	ctx, cancel := context.WithTimeout(ctx, a.deps.ConfirmTimeout)
	defer cancel()
	outcome, err := client.SendTransaction(ctx, base64.StdEncoding.EncodeToString(rawTx))
	if err != nil {
		if ctx.Err() != nil {
			return nil, types.WrapError(types.ErrSubmissionTimeout, err, "no outcome for %s within %s", txHash, a.deps.ConfirmTimeout)
		}
		return nil, types.WrapError(types.ErrOnChainRejected, err, "broadcast rejected")
	}
	if !outcome.Succeeded() {
		return nil, types.NewError(types.ErrOnChainRejected, "relayed transaction %s failed: %s", outcome.Transaction.Hash, string(outcome.Status.Failure))
	}

	a.deps.Log.Info("near settlement confirmed", map[string]any{
		"network": entry.Network.String(),
		"tx":      outcome.Transaction.Hash,
		"payer":   action.SenderID,
	})
	return settled(entry.Network, outcome.Transaction.Hash, action.SenderID), nil
}
