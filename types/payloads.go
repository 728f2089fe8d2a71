package types

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Family-specific authorization payload shapes. Every shape commits to
// payer, payee, amount, a validity window, and a replay-prevention token;
// the encoding of each differs per family.

// EVMAuthorization is the EIP-3009 TransferWithAuthorization struct the
// payer signed as EIP-712 typed data.
type EVMAuthorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`       // uint256, atomic units
	ValidAfter  string `json:"validAfter"`  // unix seconds
	ValidBefore string `json:"validBefore"` // unix seconds
	Nonce       string `json:"nonce"`       // bytes32, single use
}

// EVMPayload carries the signed EIP-3009 authorization.
type EVMPayload struct {
	Signature     string           `json:"signature"` // 65-byte ECDSA, hex
	Authorization EVMAuthorization `json:"authorization"`
}

// SolanaPayload carries a partially-signed transfer transaction. The
// facilitator must be the sole missing signer (the fee payer). Replay is
// bounded by the transaction's recent-blockhash expiry.
type SolanaPayload struct {
	// Transaction is the base64-encoded serialized transaction.
	Transaction string `json:"transaction"`
}

// NearPayload carries a NEP-366 signed delegate action which the
// facilitator wraps in a relayed transaction, paying gas.
type NearPayload struct {
	// SignedDelegateAction is the base64-encoded borsh serialization.
	SignedDelegateAction string `json:"signedDelegateAction"`
}

// StellarPayload carries a signed Soroban contract-authorization entry.
type StellarPayload struct {
	// AuthorizationEntry is the base64-encoded XDR of the signed
	// SorobanAuthorizationEntry.
	AuthorizationEntry string `json:"authorizationEntry"`
}

// AlgorandPayload carries an atomic transaction group: an unsigned
// zero-amount fee transaction at index 0 and a client-signed zero-fee
// asset transfer at PaymentIndex. Group membership is the replay token.
type AlgorandPayload struct {
	// PaymentGroup holds base64-encoded msgpack transactions in group order.
	PaymentGroup []string `json:"paymentGroup"`

	// PaymentIndex locates the client-signed asset transfer in the group.
	PaymentIndex int `json:"paymentIndex"`
}

// SuiPayload carries a full signed programmable transaction block. The
// facilitator adds its own signature as gas sponsor; both signatures are
// required for execution.
type SuiPayload struct {
	// TxBytes is the base64-encoded BCS transaction data.
	TxBytes string `json:"txBytes"`

	// Signature is the payer's serialized signature, base64.
	Signature string `json:"signature"`
}

// DecodePayload base64-decodes and unmarshals a family payload into dst.
// Any decode failure is a DecodingError, never a default.
func DecodePayload(p *PaymentPayload, dst any) error {
	raw, err := base64.StdEncoding.DecodeString(p.Payload)
	if err != nil {
		return WrapError(ErrDecoding, err, "payload is not valid base64")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return WrapError(ErrDecoding, err, "payload is not valid %T JSON", dst)
	}
	return nil
}

// EncodePayload is the inverse of DecodePayload, used by clients and tests.
func EncodePayload(network Network, v any) (PaymentPayload, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return PaymentPayload{}, fmt.Errorf("marshal payload: %w", err)
	}
	return PaymentPayload{
		X402Version: int(X402Version1),
		Scheme:      string(SchemeExact),
		Network:     network.String(),
		Payload:     base64.StdEncoding.EncodeToString(raw),
	}, nil
}
