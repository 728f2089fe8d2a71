package adapters

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/x402labs/facilitator/clients"
	"github.com/x402labs/facilitator/noncestore"
	"github.com/x402labs/facilitator/registry"
	"github.com/x402labs/facilitator/signer"
	"github.com/x402labs/facilitator/types"
)

// settleGrace is the minimum remaining validity an authorization must have
// at verification time. An authorization expiring mid-broadcast wastes a
// submission slot and sponsor gas.
const settleGrace = 6 * time.Second

// EVM settles EIP-3009 TransferWithAuthorization payments. The payer signs
// typed data off-chain; the facilitator submits transferWithAuthorization
// from its sponsor account and pays gas.
type EVM struct {
	deps    Deps
	sponsor *signer.EVM
}

// NewEVM builds the EVM adapter. sponsor may be nil for verify-only use;
// Settle then fails on every request.
func NewEVM(deps Deps, sponsor *signer.EVM) *EVM {
	deps.fill()
	return &EVM{deps: deps, sponsor: sponsor}
}

func (a *EVM) Family() types.NetworkFamily { return types.FamilyEVM }

func (a *EVM) FeeSponsor() string {
	if a.sponsor == nil {
		return ""
	}
	return a.sponsor.Address().Hex()
}

// evmAuth is a fully parsed and range-checked authorization.
type evmAuth struct {
	token       common.Address
	from        common.Address
	to          common.Address
	value       *big.Int
	validAfter  *big.Int
	validBefore *big.Int
	nonce       [32]byte
	nonceHex    string
	sig         []byte // 65 bytes, v normalized to 0/1 for recovery
	sigV        uint8  // 27/28, as the contract expects
}

func (auth *evmAuth) replayKey(network types.Network) string {
	return noncestore.Key(network.String(), strings.ToLower(auth.from.Hex()), auth.nonceHex)
}

// parsePayload decodes and shape-checks the payload without touching the
// network.
func (a *EVM) parsePayload(req *types.VerifyRequest) (*evmAuth, error) {
	var payload types.EVMPayload
	if err := types.DecodePayload(&req.PaymentPayload, &payload); err != nil {
		return nil, err
	}
	auth := payload.Authorization

	if !common.IsHexAddress(auth.From) || !common.IsHexAddress(auth.To) {
		return nil, types.NewError(types.ErrDecoding, "authorization from/to is not a hex address")
	}
	if !common.IsHexAddress(req.PaymentRequirements.Asset) {
		return nil, types.NewError(types.ErrDecoding, "asset is not a hex address")
	}
	if !common.IsHexAddress(req.PaymentRequirements.PayTo) {
		return nil, types.NewError(types.ErrDecoding, "payTo is not a hex address")
	}

	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok || value.Sign() < 0 {
		return nil, types.NewError(types.ErrDecoding, "bad authorization value %q", auth.Value)
	}
	validAfter, ok := new(big.Int).SetString(auth.ValidAfter, 10)
	if !ok {
		return nil, types.NewError(types.ErrDecoding, "bad validAfter %q", auth.ValidAfter)
	}
	validBefore, ok := new(big.Int).SetString(auth.ValidBefore, 10)
	if !ok {
		return nil, types.NewError(types.ErrDecoding, "bad validBefore %q", auth.ValidBefore)
	}

	nonceBytes, err := hexutil.Decode(ensureHexPrefix(auth.Nonce))
	if err != nil || len(nonceBytes) != 32 {
		return nil, types.NewError(types.ErrDecoding, "authorization nonce is not 32 bytes of hex")
	}
	var nonce [32]byte
	copy(nonce[:], nonceBytes)

	sig, err := hexutil.Decode(ensureHexPrefix(payload.Signature))
	if err != nil || len(sig) != 65 {
		return nil, types.NewError(types.ErrDecoding, "signature is not 65 bytes of hex")
	}
	// Contracts want v as 27/28, Ecrecover wants 0/1.
	sigV := sig[64]
	if sigV == 27 || sigV == 28 {
		sig = append(append([]byte{}, sig[:64]...), sigV-27)
	} else if sigV <= 1 {
		sigV += 27
	} else {
		return nil, types.NewError(types.ErrDecoding, "signature v byte %d out of range", sigV)
	}

	return &evmAuth{
		token:       common.HexToAddress(req.PaymentRequirements.Asset),
		from:        common.HexToAddress(auth.From),
		to:          common.HexToAddress(auth.To),
		value:       value,
		validAfter:  validAfter,
		validBefore: validBefore,
		nonce:       nonce,
		nonceHex:    hexutil.Encode(nonce[:]),
		sig:         sig,
		sigV:        sigV,
	}, nil
}

// check runs the full verification ladder. Both Verify and Settle call it;
// verify and settle arrive over separate trust boundaries, so nothing is
// carried over between the two.
func (a *EVM) check(ctx context.Context, req *types.VerifyRequest, entry registry.Entry) (*evmAuth, error) {
	auth, err := a.parsePayload(req)
	if err != nil {
		return nil, err
	}

	now := big.NewInt(time.Now().Unix())
	if now.Cmp(auth.validAfter) < 0 {
		return nil, types.NewError(types.ErrAuthorizationExpired, "authorization not yet valid")
	}
	deadline := new(big.Int).Add(now, big.NewInt(int64(settleGrace/time.Second)))
	if deadline.Cmp(auth.validBefore) >= 0 {
		return nil, types.NewError(types.ErrAuthorizationExpired, "authorization expires before settlement could land")
	}

	required, err := req.PaymentRequirements.Amount()
	if err != nil {
		return nil, err
	}
	if auth.to != common.HexToAddress(req.PaymentRequirements.PayTo) {
		return nil, types.NewError(types.ErrAmountOrPartyMismatch, "authorization recipient does not match payTo")
	}
	if auth.value.Cmp(required) != 0 {
		return nil, types.NewError(types.ErrAmountOrPartyMismatch, "authorization value does not match required amount")
	}

	domain, err := a.deps.Reg.ResolveSigningDomain(ctx, &req.PaymentRequirements, entry, a)
	if err != nil {
		return nil, err
	}
	digest, err := eip3009Digest(domain, entry.ChainID, auth)
	if err != nil {
		return nil, types.WrapError(types.ErrDecoding, err, "building typed-data digest")
	}
	pub, err := crypto.SigToPub(digest, auth.sig)
	if err != nil {
		return nil, types.WrapError(types.ErrSignatureInvalid, err, "signature recovery failed")
	}
	if crypto.PubkeyToAddress(*pub) != auth.from {
		return nil, types.NewError(types.ErrSignatureInvalid, "signature does not recover to the authorization signer")
	}

	eth, err := a.deps.Cache.EVM(ctx, entry.Network)
	if err != nil {
		return nil, err
	}
	token := clients.NewERC20(eth, auth.token)

	used, err := token.AuthorizationState(ctx, auth.from, auth.nonce)
	if err != nil {
		return nil, types.WrapError(types.ErrProviderUnavailable, err, "authorizationState query failed")
	}
	if used {
		return nil, types.NewError(types.ErrReplayed, "authorization nonce already consumed on-chain")
	}
	seen, err := replayTokenUsed(ctx, a.deps.Nonces, auth.replayKey(entry.Network))
	if err != nil {
		return nil, types.WrapError(types.ErrProviderUnavailable, err, "replay store query failed")
	}
	if seen {
		return nil, types.NewError(types.ErrReplayed, "authorization already submitted by this facilitator")
	}

	balance, err := token.BalanceOf(ctx, auth.from)
	if err != nil {
		return nil, types.WrapError(types.ErrProviderUnavailable, err, "balanceOf query failed")
	}
	if balance.Cmp(auth.value) < 0 {
		return nil, types.NewError(types.ErrOnChainRejected, "payer balance below authorized value")
	}

	return auth, nil
}

func (a *EVM) Verify(ctx context.Context, req *types.VerifyRequest, entry registry.Entry) (*types.VerifyResponse, error) {
	auth, err := a.check(ctx, req, entry)
	if err != nil {
		return verdict("", err)
	}
	return verdict(auth.from.Hex(), nil)
}

func (a *EVM) Settle(ctx context.Context, req *types.VerifyRequest, entry registry.Entry) (*types.SettleResponse, error) {
	if a.sponsor == nil {
		return nil, types.NewError(types.ErrProviderUnavailable, "no EVM fee sponsor configured")
	}
	auth, err := a.check(ctx, req, entry)
	if err != nil {
		return nil, err
	}

	eth, err := a.deps.Cache.EVM(ctx, entry.Network)
	if err != nil {
		return nil, err
	}
	token := clients.NewERC20(eth, auth.token)

	var r, s [32]byte
	copy(r[:], auth.sig[0:32])
	copy(s[:], auth.sig[32:64])
	calldata, err := token.PackTransferWithAuthorization(
		auth.from, auth.to, auth.value, auth.validAfter, auth.validBefore, auth.nonce, auth.sigV, r, s)
	if err != nil {
		return nil, types.WrapError(types.ErrDecoding, err, "packing transferWithAuthorization")
	}
	if err := token.SimulateTransferWithAuthorization(ctx, a.sponsor.Address(), calldata); err != nil {
		return nil, types.WrapError(types.ErrOnChainRejected, err, "transferWithAuthorization simulation reverted")
	}

	// The token contract enforces nonce uniqueness on-chain; the local
	// mark stops this facilitator racing itself between simulation and
	// landing.
	ttl := replayTTL(auth.validBefore, time.Now())
	if err := markReplayToken(ctx, a.deps.Nonces, auth.replayKey(entry.Network), ttl); err != nil {
		return nil, err
	}

	txHash, err := a.broadcast(ctx, eth, entry, auth.token, calldata)
	if err != nil {
		return nil, err
	}
	receipt, err := a.waitReceipt(ctx, eth, txHash)
	if err != nil {
		return nil, err
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return nil, types.NewError(types.ErrOnChainRejected, "transaction %s reverted", txHash.Hex())
	}

	a.deps.Log.Info("evm settlement confirmed", map[string]any{
		"network": entry.Network.String(),
		"tx":      txHash.Hex(),
		"payer":   auth.from.Hex(),
	})
	return settled(entry.Network, txHash.Hex(), auth.from.Hex()), nil
}

func (a *EVM) broadcast(ctx context.Context, eth *ethclient.Client, entry registry.Entry, token common.Address, calldata []byte) (common.Hash, error) {
	nonce, err := eth.PendingNonceAt(ctx, a.sponsor.Address())
	if err != nil {
		return common.Hash{}, types.WrapError(types.ErrProviderUnavailable, err, "fetching sponsor nonce")
	}
	gasPrice, err := eth.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, types.WrapError(types.ErrProviderUnavailable, err, "fetching gas price")
	}
	gas, err := eth.EstimateGas(ctx, ethereum.CallMsg{
		From: a.sponsor.Address(),
		To:   &token,
		Data: calldata,
	})
	if err != nil {
		return common.Hash{}, types.WrapError(types.ErrOnChainRejected, err, "gas estimation failed")
	}
	gas += gas / 5 // headroom over the estimate

	tx := ethtypes.NewTransaction(nonce, token, big.NewInt(0), gas, gasPrice, calldata)
	signed, err := a.sponsor.SignTx(tx, big.NewInt(entry.ChainID))
	if err != nil {
		return common.Hash{}, types.WrapError(types.ErrProviderUnavailable, err, "signing sponsor transaction")
	}
	if err := eth.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, types.WrapError(types.ErrOnChainRejected, err, "broadcast rejected")
	}
	return signed.Hash(), nil
}

func (a *EVM) waitReceipt(ctx context.Context, eth *ethclient.Client, txHash common.Hash) (*ethtypes.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, a.deps.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		receipt, err := eth.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, types.WrapError(types.ErrSubmissionTimeout, ctx.Err(),
				"no receipt for %s within %s", txHash.Hex(), a.deps.ConfirmTimeout)
		case <-ticker.C:
		}
	}
}

// QueryDomain reads the token's own name and version, the last resort of
// signing-domain resolution.
func (a *EVM) QueryDomain(ctx context.Context, network types.Network, asset string) (registry.SigningDomain, error) {
	eth, err := a.deps.Cache.EVM(ctx, network)
	if err != nil {
		return registry.SigningDomain{}, err
	}
	token := clients.NewERC20(eth, common.HexToAddress(asset))
	name, err := token.Name(ctx)
	if err != nil {
		return registry.SigningDomain{}, err
	}
	version, err := token.Version(ctx)
	if err != nil {
		// USDC-family tokens expose version(); most others mean "1".
		version = "1"
	}
	return registry.SigningDomain{Name: name, Version: version}, nil
}

// eip3009Digest builds the EIP-712 digest the payer signed.
func eip3009Digest(domain registry.SigningDomain, chainID int64, auth *evmAuth) ([]byte, error) {
	typed := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"TransferWithAuthorization": []apitypes.Type{
				{Name: "from", Type: "address"},
				{Name: "to", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "validAfter", Type: "uint256"},
				{Name: "validBefore", Type: "uint256"},
				{Name: "nonce", Type: "bytes32"},
			},
		},
		PrimaryType: "TransferWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           math.NewHexOrDecimal256(chainID),
			VerifyingContract: auth.token.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"from":        auth.from.Hex(),
			"to":          auth.to.Hex(),
			"value":       (*math.HexOrDecimal256)(auth.value),
			"validAfter":  (*math.HexOrDecimal256)(auth.validAfter),
			"validBefore": (*math.HexOrDecimal256)(auth.validBefore),
			"nonce":       auth.nonceHex,
		},
	}

	domainSep, err := typed.HashStruct("EIP712Domain", typed.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("hashing signing domain: %w", err)
	}
	msgHash, err := typed.HashStruct(typed.PrimaryType, typed.Message)
	if err != nil {
		return nil, fmt.Errorf("hashing authorization: %w", err)
	}
	raw := append([]byte{0x19, 0x01}, domainSep...)
	raw = append(raw, msgHash...)
	return crypto.Keccak256(raw), nil
}

// evmReplayTTLCap bounds the local replay mark. validBefore is attacker
// chosen; a far-future value must not overflow the duration math or pin a
// store entry forever.
const evmReplayTTLCap = 24 * time.Hour

// replayTTL returns how long the replay mark for an authorization expiring
// at validBefore (unix seconds) should live, capped at evmReplayTTLCap.
func replayTTL(validBefore *big.Int, now time.Time) time.Duration {
	remaining := new(big.Int).Sub(validBefore, big.NewInt(now.Unix()))
	if !remaining.IsInt64() {
		return evmReplayTTLCap
	}
	secs := remaining.Int64()
	if secs <= 0 {
		return 0
	}
	if secs > int64(evmReplayTTLCap/time.Second) {
		return evmReplayTTLCap
	}
	return time.Duration(secs) * time.Second
}

func ensureHexPrefix(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s
	}
	return "0x" + s
}
