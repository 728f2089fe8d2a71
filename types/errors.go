package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a facilitator failure. Kinds are surfaced to the
// caller verbatim and never downgraded to a generic failure.
type ErrorKind string

const (
	// ErrDecoding indicates a malformed or unparseable authorization payload.
	ErrDecoding ErrorKind = "decoding_error"

	// ErrSignatureInvalid indicates the payload signature does not recover
	// to the claimed payer.
	ErrSignatureInvalid ErrorKind = "signature_invalid"

	// ErrAuthorizationExpired indicates the authorization is outside its
	// validity window.
	ErrAuthorizationExpired ErrorKind = "authorization_expired"

	// ErrAmountOrPartyMismatch indicates the payload disagrees with the
	// payment requirements on amount, payee, or asset.
	ErrAmountOrPartyMismatch ErrorKind = "amount_or_party_mismatch"

	// ErrUnsupportedNetwork indicates the declared network is not in the
	// registry or has no configured adapter.
	ErrUnsupportedNetwork ErrorKind = "unsupported_network"

	// ErrBlocklisted indicates the payer failed the compliance screen.
	ErrBlocklisted ErrorKind = "blocklisted"

	// ErrReplayed indicates the authorization's replay-prevention token has
	// already been consumed by a prior settlement.
	ErrReplayed ErrorKind = "authorization_replayed"

	// ErrProviderUnavailable indicates a transient RPC or node failure.
	// Retryable at the caller's discretion; never retried internally.
	ErrProviderUnavailable ErrorKind = "provider_unavailable"

	// ErrOnChainRejected indicates the ledger rejected or reverted the
	// transaction. Fatal; never retried automatically.
	ErrOnChainRejected ErrorKind = "onchain_rejected"

	// ErrSubmissionTimeout indicates confirmation was not observed within
	// the deadline. The outcome is ambiguous: the transaction may still
	// confirm later, so callers must reconcile rather than resubmit.
	ErrSubmissionTimeout ErrorKind = "submission_timeout"
)

// FacilitatorError is the error type returned by every facilitator
// operation. The Kind is stable across all ledger families.
type FacilitatorError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *FacilitatorError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *FacilitatorError) Unwrap() error { return e.Err }

// NewError builds a FacilitatorError with a formatted message.
func NewError(kind ErrorKind, format string, args ...any) *FacilitatorError {
	return &FacilitatorError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError builds a FacilitatorError around an underlying cause.
func WrapError(kind ErrorKind, err error, format string, args ...any) *FacilitatorError {
	return &FacilitatorError{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the ErrorKind from err, or empty if err is not a
// FacilitatorError.
func KindOf(err error) ErrorKind {
	var fe *FacilitatorError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}
