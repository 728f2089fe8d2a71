package types

import (
	"fmt"
	"math/big"

	"github.com/go-playground/validator/v10"
)

// X402Version is the protocol version carried by every request.
type X402Version int

const X402Version1 X402Version = 1

var validate = validator.New()

// PaymentRequirements defines the payment a resource server accepts.
// Produced by the resource server and carried unmodified through verify
// and settle; the facilitator never mutates it.
type PaymentRequirements struct {
	// Scheme of the payment protocol to use. Only "exact" is defined.
	Scheme string `json:"scheme" validate:"required,eq=exact"`

	// Network of the ledger to settle on (e.g. "base-sepolia").
	Network string `json:"network" validate:"required"`

	// MaxAmountRequired is the required amount in atomic units of the
	// asset. A string because Go has no uint256.
	MaxAmountRequired string `json:"maxAmountRequired" validate:"required"`

	// Resource is the URL of the resource being paid for.
	Resource string `json:"resource,omitempty"`

	// Description of the resource being purchased.
	Description string `json:"description,omitempty"`

	// MimeType of the resource response.
	MimeType string `json:"mimeType,omitempty"`

	// PayTo is the address the payment must be sent to.
	PayTo string `json:"payTo" validate:"required"`

	// MaxTimeoutSeconds bounds how long settlement may take.
	MaxTimeoutSeconds int `json:"maxTimeoutSeconds,omitempty"`

	// Asset references the fee asset: an ERC-20 contract, SPL mint,
	// NEP-141 account, Soroban contract, ASA id, or Sui coin type.
	Asset string `json:"asset" validate:"required"`

	// Extra carries scheme-specific hints. For EVM "exact" this may
	// include the signing-domain "name" and "version".
	Extra map[string]any `json:"extra,omitempty"`
}

// Validate checks that the requirements carry every mandatory field.
func (pr *PaymentRequirements) Validate() error {
	if err := validate.Struct(pr); err != nil {
		return fmt.Errorf("invalid payment requirements: %w", err)
	}
	if _, ok := new(big.Int).SetString(pr.MaxAmountRequired, 10); !ok {
		return fmt.Errorf("maxAmountRequired is not a base-10 integer: %q", pr.MaxAmountRequired)
	}
	return nil
}

// Amount parses MaxAmountRequired into atomic units.
func (pr *PaymentRequirements) Amount() (*big.Int, error) {
	n, ok := new(big.Int).SetString(pr.MaxAmountRequired, 10)
	if !ok || n.Sign() < 0 {
		return nil, NewError(ErrDecoding, "bad amount %q", pr.MaxAmountRequired)
	}
	return n, nil
}

// ExtraString reads a string-valued key from Extra, empty if absent.
func (pr *PaymentRequirements) ExtraString(key string) string {
	if pr.Extra == nil {
		return ""
	}
	s, _ := pr.Extra[key].(string)
	return s
}

// PaymentPayload is the client-signed authorization envelope. The Payload
// field holds the family-specific shape; adapters decode it.
type PaymentPayload struct {
	X402Version int    `json:"x402Version"`
	Scheme      string `json:"scheme"`
	Network     string `json:"network"`

	// Payload is the base64-encoded, family-specific authorization JSON.
	Payload string `json:"payload"`
}

// VerifyRequest is the inbound contract for both verify and settle.
type VerifyRequest struct {
	X402Version         int                 `json:"x402Version"`
	PaymentPayload      PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// Validate checks request envelope invariants common to every family.
func (v *VerifyRequest) Validate() error {
	if v.X402Version != int(X402Version1) {
		return fmt.Errorf("unsupported x402Version %d", v.X402Version)
	}
	if v.PaymentPayload.Payload == "" {
		return fmt.Errorf("paymentPayload.payload is required")
	}
	if v.PaymentPayload.Network != v.PaymentRequirements.Network {
		return fmt.Errorf("payload network %q does not match requirements network %q",
			v.PaymentPayload.Network, v.PaymentRequirements.Network)
	}
	if v.PaymentPayload.Scheme != "" && v.PaymentPayload.Scheme != v.PaymentRequirements.Scheme {
		return fmt.Errorf("payload scheme %q does not match requirements scheme %q",
			v.PaymentPayload.Scheme, v.PaymentRequirements.Scheme)
	}
	return v.PaymentRequirements.Validate()
}

// VerifyResponse is the facilitator's verification decision.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`

	// Payer is the address recovered from the authorization signature,
	// never the client-declared one.
	Payer string `json:"payer,omitempty"`

	// kind is the machine-readable rejection cause. Kept off the wire;
	// InvalidReason carries it textually.
	kind ErrorKind
}

// Kind returns the rejection kind, empty for a valid response or one that
// arrived over the wire.
func (r *VerifyResponse) Kind() ErrorKind { return r.kind }

// Valid builds a passing verification result for payer.
func Valid(payer string) *VerifyResponse {
	return &VerifyResponse{IsValid: true, Payer: payer}
}

// Invalid builds a failing verification result.
func Invalid(kind ErrorKind, reason string) *VerifyResponse {
	return &VerifyResponse{IsValid: false, InvalidReason: fmt.Sprintf("%s: %s", kind, reason), kind: kind}
}

// SettleResponse is the settlement receipt. Immutable once returned;
// Success is never true unless on-chain state changed.
type SettleResponse struct {
	Success bool `json:"success"`

	// Transaction is the family-specific transaction reference
	// (hash, signature, digest, or id). Empty on failure.
	Transaction string `json:"transaction,omitempty"`

	Network Network `json:"network"`
	Payer   string  `json:"payer,omitempty"`

	// ErrorReason distinguishes failure causes so a caller can tell
	// "funds never moved" from "the chain rejected it".
	ErrorReason string `json:"errorReason,omitempty"`
}

// SupportedKind describes one (network, scheme) pair the facilitator
// serves, with the fee-sponsor address clients must route fees through.
type SupportedKind struct {
	X402Version int            `json:"x402Version"`
	Scheme      string         `json:"scheme"`
	Network     string         `json:"network"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// SupportedResponse lists every supported payment kind.
type SupportedResponse struct {
	Kinds []SupportedKind `json:"kinds"`
}
