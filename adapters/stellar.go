package adapters

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/stellar/go/clients/horizonclient"
	stellarnet "github.com/stellar/go/network"
	"github.com/stellar/go/txnbuild"
	"github.com/stellar/go/xdr"

	"github.com/x402labs/facilitator/noncestore"
	"github.com/x402labs/facilitator/registry"
	"github.com/x402labs/facilitator/signer"
	"github.com/x402labs/facilitator/types"
)

const stellarReplayTTL = 30 * time.Minute

// Stellar settles Soroban token payments. The payer signs a contract
// authorization entry for transfer(from, to, amount); the facilitator
// wraps it in an InvokeHostFunction transaction from its own account and
// pays the fee.
type Stellar struct {
	deps    Deps
	sponsor *signer.Stellar
}

func NewStellar(deps Deps, sponsor *signer.Stellar) *Stellar {
	deps.fill()
	return &Stellar{deps: deps, sponsor: sponsor}
}

func (a *Stellar) Family() types.NetworkFamily { return types.FamilyStellar }

func (a *Stellar) FeeSponsor() string {
	if a.sponsor == nil {
		return ""
	}
	return a.sponsor.Address()
}

// stellarAuth is the decoded and vetted authorization entry.
type stellarAuth struct {
	entry xdr.SorobanAuthorizationEntry
	fn    xdr.InvokeContractArgs
	payer string
	nonce int64
}

func (a *Stellar) check(ctx context.Context, req *types.VerifyRequest, entry registry.Entry) (*stellarAuth, error) {
	var payload types.StellarPayload
	if err := types.DecodePayload(&req.PaymentPayload, &payload); err != nil {
		return nil, err
	}
	var authEntry xdr.SorobanAuthorizationEntry
	if err := xdr.SafeUnmarshalBase64(payload.AuthorizationEntry, &authEntry); err != nil {
		return nil, types.WrapError(types.ErrDecoding, err, "authorization entry is not valid XDR")
	}

	if authEntry.Credentials.Type != xdr.SorobanCredentialsTypeSorobanCredentialsAddress {
		return nil, types.NewError(types.ErrSignatureInvalid, "authorization entry lacks address credentials")
	}
	creds := authEntry.Credentials.Address
	payer, err := creds.Address.String()
	if err != nil {
		return nil, types.WrapError(types.ErrDecoding, err, "credential address does not render")
	}

	inv := authEntry.RootInvocation
	if inv.Function.Type != xdr.SorobanAuthorizedFunctionTypeSorobanAuthorizedFunctionTypeContractFn {
		return nil, types.NewError(types.ErrAmountOrPartyMismatch, "authorized function is not a contract call")
	}
	fn := inv.Function.MustContractFn()
	if len(inv.SubInvocations) != 0 {
		return nil, types.NewError(types.ErrAmountOrPartyMismatch, "authorization must not carry sub-invocations")
	}

	contract, err := fn.ContractAddress.String()
	if err != nil {
		return nil, types.WrapError(types.ErrDecoding, err, "contract address does not render")
	}
	if contract != req.PaymentRequirements.Asset {
		return nil, types.NewError(types.ErrAmountOrPartyMismatch, "authorized contract is not the fee asset")
	}
	if string(fn.FunctionName) != "transfer" {
		return nil, types.NewError(types.ErrAmountOrPartyMismatch, "authorized function is %q, want transfer", fn.FunctionName)
	}
	if len(fn.Args) != 3 {
		return nil, types.NewError(types.ErrAmountOrPartyMismatch, "transfer expects 3 arguments, found %d", len(fn.Args))
	}

	fromAddr, ok := fn.Args[0].GetAddress()
	if !ok {
		return nil, types.NewError(types.ErrDecoding, "transfer from argument is not an address")
	}
	from, err := fromAddr.String()
	if err != nil || from != payer {
		return nil, types.NewError(types.ErrAmountOrPartyMismatch, "transfer source does not match the credential address")
	}
	toAddr, ok := fn.Args[1].GetAddress()
	if !ok {
		return nil, types.NewError(types.ErrDecoding, "transfer to argument is not an address")
	}
	to, err := toAddr.String()
	if err != nil || to != req.PaymentRequirements.PayTo {
		return nil, types.NewError(types.ErrAmountOrPartyMismatch, "transfer destination does not match payTo")
	}
	amountParts, ok := fn.Args[2].GetI128()
	if !ok {
		return nil, types.NewError(types.ErrDecoding, "transfer amount is not an i128")
	}
	amount := i128ToBig(amountParts)
	required, err := req.PaymentRequirements.Amount()
	if err != nil {
		return nil, err
	}
	if amount.Sign() < 0 || amount.Cmp(required) != 0 {
		return nil, types.NewError(types.ErrAmountOrPartyMismatch, "transfer amount does not match required amount")
	}

	if err := verifyAuthSignature(authEntry, passphraseFor(entry)); err != nil {
		return nil, err
	}

	client, err := a.deps.Cache.Stellar(entry.Network)
	if err != nil {
		return nil, err
	}
	root, err := client.Horizon.Root()
	if err != nil {
		return nil, types.WrapError(types.ErrProviderUnavailable, err, "fetching ledger head")
	}
	if uint32(creds.SignatureExpirationLedger) <= uint32(root.HorizonSequence) {
		return nil, types.NewError(types.ErrAuthorizationExpired,
			"authorization expired at ledger %d, chain is at %d", creds.SignatureExpirationLedger, root.HorizonSequence)
	}

	seen, err := replayTokenUsed(ctx, a.deps.Nonces, noncestore.Key(entry.Network.String(), payer, fmt.Sprint(creds.Nonce)))
	if err != nil {
		return nil, types.WrapError(types.ErrProviderUnavailable, err, "replay store query failed")
	}
	if seen {
		return nil, types.NewError(types.ErrReplayed, "authorization nonce already submitted by this facilitator")
	}

	return &stellarAuth{
		entry: authEntry,
		fn:    fn,
		payer: payer,
		nonce: int64(creds.Nonce),
	}, nil
}

func (a *Stellar) Verify(ctx context.Context, req *types.VerifyRequest, entry registry.Entry) (*types.VerifyResponse, error) {
	auth, err := a.check(ctx, req, entry)
	if err != nil {
		return verdict("", err)
	}
	return verdict(auth.payer, nil)
}

func (a *Stellar) Settle(ctx context.Context, req *types.VerifyRequest, entry registry.Entry) (*types.SettleResponse, error) {
	if a.sponsor == nil {
		return nil, types.NewError(types.ErrProviderUnavailable, "no Stellar sponsor configured")
	}
	auth, err := a.check(ctx, req, entry)
	if err != nil {
		return nil, err
	}
	client, err := a.deps.Cache.Stellar(entry.Network)
	if err != nil {
		return nil, err
	}

	key := noncestore.Key(entry.Network.String(), auth.payer, fmt.Sprint(auth.nonce))
	if err := markReplayToken(ctx, a.deps.Nonces, key, stellarReplayTTL); err != nil {
		return nil, err
	}

	account, err := client.Horizon.AccountDetail(horizonclient.AccountRequest{AccountID: a.sponsor.Address()})
	if err != nil {
		return nil, types.WrapError(types.ErrProviderUnavailable, err, "loading sponsor account")
	}

	invoke := &txnbuild.InvokeHostFunction{
		HostFunction: xdr.HostFunction{
			Type:           xdr.HostFunctionTypeHostFunctionTypeInvokeContract,
			InvokeContract: &auth.fn,
		},
		Auth:          []xdr.SorobanAuthorizationEntry{auth.entry},
		SourceAccount: a.sponsor.Address(),
	}
	params := txnbuild.TransactionParams{
		SourceAccount:        &account,
		IncrementSequenceNum: true,
		Operations:           []txnbuild.Operation{invoke},
		BaseFee:              txnbuild.MinBaseFee,
		Preconditions:        txnbuild.Preconditions{TimeBounds: txnbuild.NewTimeout(300)},
	}
	tx, err := txnbuild.NewTransaction(params)
	if err != nil {
		return nil, types.WrapError(types.ErrDecoding, err, "building invocation transaction")
	}
	envelope, err := tx.Base64()
	if err != nil {
		return nil, types.WrapError(types.ErrDecoding, err, "encoding invocation transaction")
	}

	sim, err := client.SimulateTransaction(ctx, envelope)
	if err != nil {
		return nil, types.WrapError(types.ErrProviderUnavailable, err, "soroban simulation failed")
	}
	if sim.Error != "" {
		return nil, types.NewError(types.ErrOnChainRejected, "invocation simulation rejected: %s", sim.Error)
	}
	var sorobanData xdr.SorobanTransactionData
	if err := xdr.SafeUnmarshalBase64(sim.TransactionData, &sorobanData); err != nil {
		return nil, types.WrapError(types.ErrProviderUnavailable, err, "simulation returned bad transaction data")
	}
	resourceFee, err := strconv.ParseInt(sim.MinResourceFee, 10, 64)
	if err != nil {
		return nil, types.WrapError(types.ErrProviderUnavailable, err, "simulation returned bad resource fee %q", sim.MinResourceFee)
	}

	// Rebuild with the simulated footprint and fee attached.
	invoke.Ext = xdr.TransactionExt{V: 1, SorobanData: &sorobanData}
	params.BaseFee = txnbuild.MinBaseFee + resourceFee
	tx, err = txnbuild.NewTransaction(params)
	if err != nil {
		return nil, types.WrapError(types.ErrDecoding, err, "rebuilding invocation transaction")
	}

	tx, err = tx.Sign(passphraseFor(entry), a.sponsor.Keypair())
	if err != nil {
		return nil, types.WrapError(types.ErrProviderUnavailable, err, "signing invocation transaction")
	}

	resp, err := client.Horizon.SubmitTransaction(tx)
	if err != nil {
		return nil, types.WrapError(types.ErrOnChainRejected, err, "submission rejected")
	}
	if !resp.Successful {
		return nil, types.NewError(types.ErrOnChainRejected, "transaction %s failed: %s", resp.Hash, resp.ResultXdr)
	}

	a.deps.Log.Info("stellar settlement confirmed", map[string]any{
		"network": entry.Network.String(),
		"tx":      resp.Hash,
		"payer":   auth.payer,
	})
	return settled(entry.Network, resp.Hash, auth.payer), nil
}

func passphraseFor(entry registry.Entry) string {
	if entry.Testnet {
		return stellarnet.TestNetworkPassphrase
	}
	return stellarnet.PublicNetworkPassphrase
}

// verifyAuthSignature checks the credential signature over the Soroban
// authorization preimage. Only classic account credentials are accepted;
// the signature payload is sha256 of the HashIdPreimage binding network,
// nonce, expiration ledger, and the invocation tree.
func verifyAuthSignature(authEntry xdr.SorobanAuthorizationEntry, passphrase string) error {
	creds := authEntry.Credentials.Address
	aid, ok := creds.Address.GetAccountId()
	if !ok {
		return types.NewError(types.ErrSignatureInvalid, "only account credentials are supported")
	}
	key, ok := aid.GetEd25519()
	if !ok {
		return types.NewError(types.ErrSignatureInvalid, "credential account has no ed25519 key")
	}

	preimage := xdr.HashIdPreimage{
		Type: xdr.EnvelopeTypeEnvelopeTypeSorobanAuthorization,
		SorobanAuthorization: &xdr.HashIdPreimageSorobanAuthorization{
			NetworkId:                 xdr.Hash(stellarnet.ID(passphrase)),
			Nonce:                     creds.Nonce,
			SignatureExpirationLedger: creds.SignatureExpirationLedger,
			Invocation:                authEntry.RootInvocation,
		},
	}
	payload, err := preimage.MarshalBinary()
	if err != nil {
		return types.WrapError(types.ErrDecoding, err, "serializing authorization preimage")
	}
	digest := sha256.Sum256(payload)

	sigs, ok := creds.Signature.GetVec()
	if !ok || sigs == nil || len(*sigs) == 0 {
		return types.NewError(types.ErrSignatureInvalid, "authorization carries no signatures")
	}
	for _, sv := range *sigs {
		m, ok := sv.GetMap()
		if !ok || m == nil {
			continue
		}
		var pub, sig []byte
		for _, kv := range *m {
			sym, ok := kv.Key.GetSym()
			if !ok {
				continue
			}
			b, ok := kv.Val.GetBytes()
			if !ok {
				continue
			}
			switch string(sym) {
			case "public_key":
				pub = b
			case "signature":
				sig = b
			}
		}
		if len(pub) == ed25519.PublicKeySize && bytes.Equal(pub, key[:]) &&
			ed25519.Verify(ed25519.PublicKey(pub), digest[:], sig) {
			return nil
		}
	}
	return types.NewError(types.ErrSignatureInvalid, "no signature verifies for the credential account")
}

func i128ToBig(p xdr.Int128Parts) *big.Int {
	hi := new(big.Int).SetInt64(int64(p.Hi))
	hi.Lsh(hi, 64)
	return hi.Add(hi, new(big.Int).SetUint64(uint64(p.Lo)))
}
