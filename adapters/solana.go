package adapters

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/binary"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	solrpc "github.com/gagliardetto/solana-go/rpc"

	"github.com/x402labs/facilitator/noncestore"
	"github.com/x402labs/facilitator/registry"
	"github.com/x402labs/facilitator/signer"
	"github.com/x402labs/facilitator/types"
)

var computeBudgetProgram = solana.MustPublicKeyFromBase58("ComputeBudget111111111111111111111111111111")

// splTransferChecked is the SPL token program's TransferChecked
// instruction tag.
const splTransferChecked = 12

// Replay tracking only needs to outlive the recent-blockhash window.
const solanaReplayTTL = 3 * time.Minute

// Solana settles partially-signed SPL token transfers. The payer signs a
// transaction naming the facilitator as fee payer; the facilitator must be
// the sole missing signer and adds its signature before broadcast.
type Solana struct {
	deps    Deps
	sponsor *signer.Solana
}

func NewSolana(deps Deps, sponsor *signer.Solana) *Solana {
	deps.fill()
	return &Solana{deps: deps, sponsor: sponsor}
}

func (a *Solana) Family() types.NetworkFamily { return types.FamilySolana }

func (a *Solana) FeeSponsor() string {
	if a.sponsor == nil {
		return ""
	}
	return a.sponsor.PublicKey().String()
}

// solanaTransfer is the outcome of the static checks: the decoded
// transaction plus the payer identity and replay key material.
type solanaTransfer struct {
	tx       *solana.Transaction
	payer    solana.PublicKey
	payerSig solana.Signature
}

func (a *Solana) check(ctx context.Context, req *types.VerifyRequest, entry registry.Entry) (*solanaTransfer, error) {
	if a.sponsor == nil {
		return nil, types.NewError(types.ErrProviderUnavailable, "no Solana fee sponsor configured")
	}
	var payload types.SolanaPayload
	if err := types.DecodePayload(&req.PaymentPayload, &payload); err != nil {
		return nil, err
	}
	raw, err := base64.StdEncoding.DecodeString(payload.Transaction)
	if err != nil {
		return nil, types.WrapError(types.ErrDecoding, err, "transaction is not valid base64")
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, types.WrapError(types.ErrDecoding, err, "transaction does not deserialize")
	}

	msg := &tx.Message
	numSigners := int(msg.Header.NumRequiredSignatures)
	if numSigners < 2 || len(msg.AccountKeys) < numSigners || len(tx.Signatures) != numSigners {
		return nil, types.NewError(types.ErrDecoding, "transaction signer layout is malformed")
	}
	// Fee payer is always the first required signer.
	if !msg.AccountKeys[0].Equals(a.sponsor.PublicKey()) {
		return nil, types.NewError(types.ErrAmountOrPartyMismatch, "fee payer is not the facilitator sponsor")
	}

	msgBytes, err := msg.MarshalBinary()
	if err != nil {
		return nil, types.WrapError(types.ErrDecoding, err, "serializing message for signature checks")
	}
	if !tx.Signatures[0].IsZero() {
		return nil, types.NewError(types.ErrSignatureInvalid, "sponsor signature slot must be empty")
	}
	for i := 1; i < numSigners; i++ {
		key := msg.AccountKeys[i]
		sig := tx.Signatures[i]
		if sig.IsZero() || !ed25519.Verify(ed25519.PublicKey(key[:]), msgBytes, sig[:]) {
			return nil, types.NewError(types.ErrSignatureInvalid, "signature %d does not verify for %s", i, key)
		}
	}

	mint, err := solana.PublicKeyFromBase58(req.PaymentRequirements.Asset)
	if err != nil {
		return nil, types.WrapError(types.ErrDecoding, err, "asset is not a valid mint address")
	}
	payTo, err := solana.PublicKeyFromBase58(req.PaymentRequirements.PayTo)
	if err != nil {
		return nil, types.WrapError(types.ErrDecoding, err, "payTo is not a valid address")
	}
	expectedDest, _, err := solana.FindAssociatedTokenAddress(payTo, mint)
	if err != nil {
		return nil, types.WrapError(types.ErrDecoding, err, "deriving recipient token account")
	}
	required, err := req.PaymentRequirements.Amount()
	if err != nil {
		return nil, err
	}
	if !required.IsUint64() {
		return nil, types.NewError(types.ErrDecoding, "required amount exceeds u64")
	}

	var owner solana.PublicKey
	transfers := 0
	for _, ix := range msg.Instructions {
		if int(ix.ProgramIDIndex) >= len(msg.AccountKeys) {
			return nil, types.NewError(types.ErrDecoding, "instruction references missing program account")
		}
		program := msg.AccountKeys[ix.ProgramIDIndex]
		switch {
		case program.Equals(computeBudgetProgram):
			// Priority fee tuning is allowed alongside the transfer.
		case program.Equals(solana.TokenProgramID):
			if len(ix.Data) != 10 || ix.Data[0] != splTransferChecked {
				return nil, types.NewError(types.ErrAmountOrPartyMismatch, "token instruction is not TransferChecked")
			}
			if len(ix.Accounts) < 4 {
				return nil, types.NewError(types.ErrDecoding, "TransferChecked account list is short")
			}
			accounts := make([]solana.PublicKey, 0, 4)
			for _, idx := range ix.Accounts[:4] {
				if int(idx) >= len(msg.AccountKeys) {
					return nil, types.NewError(types.ErrDecoding, "instruction references missing account")
				}
				accounts = append(accounts, msg.AccountKeys[idx])
			}
			if !accounts[1].Equals(mint) {
				return nil, types.NewError(types.ErrAmountOrPartyMismatch, "transfer mint does not match fee asset")
			}
			if !accounts[2].Equals(expectedDest) {
				return nil, types.NewError(types.ErrAmountOrPartyMismatch, "transfer destination is not payTo's token account")
			}
			amount := binary.LittleEndian.Uint64(ix.Data[1:9])
			if amount != required.Uint64() {
				return nil, types.NewError(types.ErrAmountOrPartyMismatch, "transfer amount does not match required amount")
			}
			if ix.Data[9] != entry.FeeAsset.Decimals {
				return nil, types.NewError(types.ErrAmountOrPartyMismatch, "transfer decimals do not match fee asset")
			}
			owner = accounts[3]
			transfers++
		default:
			return nil, types.NewError(types.ErrAmountOrPartyMismatch, "unexpected program %s in payment transaction", program)
		}
	}
	if transfers != 1 {
		return nil, types.NewError(types.ErrAmountOrPartyMismatch, "expected exactly one token transfer, found %d", transfers)
	}

	// The transfer authority must be one of the verified signers; its
	// signature doubles as the replay token.
	var payerSig solana.Signature
	found := false
	for i := 1; i < numSigners; i++ {
		if msg.AccountKeys[i].Equals(owner) {
			payerSig = tx.Signatures[i]
			found = true
			break
		}
	}
	if !found {
		return nil, types.NewError(types.ErrSignatureInvalid, "transfer authority did not sign the transaction")
	}

	seen, err := replayTokenUsed(ctx, a.deps.Nonces, noncestore.DigestKey(entry.Network.String(), payerSig.String()))
	if err != nil {
		return nil, types.WrapError(types.ErrProviderUnavailable, err, "replay store query failed")
	}
	if seen {
		return nil, types.NewError(types.ErrReplayed, "transaction already submitted by this facilitator")
	}

	return &solanaTransfer{tx: tx, payer: owner, payerSig: payerSig}, nil
}

func (a *Solana) Verify(ctx context.Context, req *types.VerifyRequest, entry registry.Entry) (*types.VerifyResponse, error) {
	transfer, err := a.check(ctx, req, entry)
	if err != nil {
		return verdict("", err)
	}
	return verdict(transfer.payer.String(), nil)
}

func (a *Solana) Settle(ctx context.Context, req *types.VerifyRequest, entry registry.Entry) (*types.SettleResponse, error) {
	transfer, err := a.check(ctx, req, entry)
	if err != nil {
		return nil, err
	}
	client, err := a.deps.Cache.Solana(entry.Network)
	if err != nil {
		return nil, err
	}

	key := noncestore.DigestKey(entry.Network.String(), transfer.payerSig.String())
	if err := markReplayToken(ctx, a.deps.Nonces, key, solanaReplayTTL); err != nil {
		return nil, err
	}

	msgBytes, err := transfer.tx.Message.MarshalBinary()
	if err != nil {
		return nil, types.WrapError(types.ErrDecoding, err, "serializing message for sponsor signature")
	}
	sponsorSig, err := a.sponsor.Sign(msgBytes)
	if err != nil {
		return nil, types.WrapError(types.ErrProviderUnavailable, err, "sponsor signing failed")
	}
	transfer.tx.Signatures[0] = sponsorSig

	sig, err := client.SendTransactionWithOpts(ctx, transfer.tx, solrpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: solrpc.CommitmentConfirmed,
	})
	if err != nil {
		return nil, types.WrapError(types.ErrOnChainRejected, err, "broadcast rejected")
	}

	if err := a.waitConfirmed(ctx, client, sig); err != nil {
		return nil, err
	}
	a.deps.Log.Info("solana settlement confirmed", map[string]any{
		"network":   entry.Network.String(),
		"signature": sig.String(),
		"payer":     transfer.payer.String(),
	})
	return settled(entry.Network, sig.String(), transfer.payer.String()), nil
}

func (a *Solana) waitConfirmed(ctx context.Context, client *solrpc.Client, sig solana.Signature) error {
	ctx, cancel := context.WithTimeout(ctx, a.deps.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		statuses, err := client.GetSignatureStatuses(ctx, true, sig)
		if err == nil && statuses != nil && len(statuses.Value) > 0 && statuses.Value[0] != nil {
			st := statuses.Value[0]
			if st.Err != nil {
				return types.NewError(types.ErrOnChainRejected, "transaction %s failed: %v", sig, st.Err)
			}
			if st.ConfirmationStatus == solrpc.ConfirmationStatusConfirmed ||
				st.ConfirmationStatus == solrpc.ConfirmationStatusFinalized {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return types.WrapError(types.ErrSubmissionTimeout, ctx.Err(),
				"no confirmation for %s within %s", sig, a.deps.ConfirmTimeout)
		case <-ticker.C:
		}
	}
}
