// Package adapters implements per-family verification and settlement.
// Each adapter owns the payload decoding, signature checks, and broadcast
// mechanics of one ledger family; the engine owns compliance screening
// and submission slotting.
package adapters

import (
	"context"
	"errors"
	"time"

	"github.com/x402labs/facilitator/clients"
	"github.com/x402labs/facilitator/logger"
	"github.com/x402labs/facilitator/metrics"
	"github.com/x402labs/facilitator/noncestore"
	"github.com/x402labs/facilitator/registry"
	"github.com/x402labs/facilitator/types"
)

// DefaultConfirmTimeout bounds how long an adapter waits for on-chain
// confirmation before reporting the outcome as ambiguous.
const DefaultConfirmTimeout = 60 * time.Second

// Adapter is one ledger family's verification and settlement engine.
//
// Verify never mutates ledger state. A rejection comes back as an invalid
// VerifyResponse; the error return is reserved for infrastructure
// failures (provider down, registry miss).
//
// Settle re-runs every verification check before broadcasting; verify and
// settle arrive over separate trust boundaries and nothing from a prior
// verify is assumed.
type Adapter interface {
	Family() types.NetworkFamily

	Verify(ctx context.Context, req *types.VerifyRequest, entry registry.Entry) (*types.VerifyResponse, error)

	Settle(ctx context.Context, req *types.VerifyRequest, entry registry.Entry) (*types.SettleResponse, error)

	// FeeSponsor returns the sponsor address whose key signs fee-bearing
	// transactions for this family. Used for submission slotting and for
	// supported() listings.
	FeeSponsor() string
}

// Deps carries the shared wiring every adapter needs.
type Deps struct {
	Cache  *clients.Cache
	Reg    *registry.Registry
	Nonces noncestore.Store
	Log    logger.Logger
	Rec    metrics.Recorder

	// ConfirmTimeout bounds confirmation waits. Zero means
	// DefaultConfirmTimeout.
	ConfirmTimeout time.Duration
}

func (d *Deps) fill() {
	if d.Log == nil {
		d.Log = logger.NoopLogger{}
	}
	if d.Rec == nil {
		d.Rec = metrics.NoopRecorder{}
	}
	if d.ConfirmTimeout <= 0 {
		d.ConfirmTimeout = DefaultConfirmTimeout
	}
}

// markReplayToken consumes a replay token, translating a duplicate into
// ErrReplayed. A nil store disables off-ledger replay tracking; the
// ledger's own replay protection still applies.
func markReplayToken(ctx context.Context, store noncestore.Store, key string, ttl time.Duration) error {
	if store == nil {
		return nil
	}
	if err := store.CheckAndMarkUsed(ctx, key, ttl); err != nil {
		var dup noncestore.ErrAlreadyUsed
		if errors.As(err, &dup) {
			return types.WrapError(types.ErrReplayed, err, "authorization already settled")
		}
		return types.WrapError(types.ErrProviderUnavailable, err, "replay token store failed")
	}
	return nil
}

// replayTokenUsed reports whether a token is already consumed, without
// consuming it. Used on the read-only verify path.
func replayTokenUsed(ctx context.Context, store noncestore.Store, key string) (bool, error) {
	if store == nil {
		return false, nil
	}
	return store.IsUsed(ctx, key)
}

// rejection reports whether err is attributable to the payment itself
// rather than to infrastructure. Rejections become invalid verify
// responses; infrastructure faults propagate as errors.
func rejection(err error) bool {
	switch types.KindOf(err) {
	case types.ErrDecoding, types.ErrSignatureInvalid, types.ErrAuthorizationExpired,
		types.ErrAmountOrPartyMismatch, types.ErrBlocklisted, types.ErrReplayed,
		types.ErrOnChainRejected:
		return true
	}
	return false
}

// verdict shapes a check outcome into the verify contract.
func verdict(payer string, err error) (*types.VerifyResponse, error) {
	if err == nil {
		return types.Valid(payer), nil
	}
	if rejection(err) {
		return types.Invalid(types.KindOf(err), messageOf(err)), nil
	}
	return nil, err
}

func messageOf(err error) string {
	var fe *types.FacilitatorError
	if errors.As(err, &fe) {
		if fe.Err != nil {
			return fe.Message + ": " + fe.Err.Error()
		}
		return fe.Message
	}
	return err.Error()
}

// settled builds a success receipt.
func settled(network types.Network, txRef, payer string) *types.SettleResponse {
	return &types.SettleResponse{
		Success:     true,
		Transaction: txRef,
		Network:     network,
		Payer:       payer,
	}
}
