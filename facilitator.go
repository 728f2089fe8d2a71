// Package facilitator verifies and settles x402 payments across ledger
// families. It exposes the three facilitator operations: verify a signed
// payment authorization against payment requirements, settle it on-chain
// with the facilitator paying fees, and list the supported (network,
// scheme) pairs.
package facilitator

import (
	"context"
	"sort"
	"time"

	"github.com/x402labs/facilitator/adapters"
	"github.com/x402labs/facilitator/compliance"
	"github.com/x402labs/facilitator/coordinator"
	"github.com/x402labs/facilitator/logger"
	"github.com/x402labs/facilitator/metrics"
	"github.com/x402labs/facilitator/noncestore"
	"github.com/x402labs/facilitator/registry"
	"github.com/x402labs/facilitator/types"
)

// Facilitator dispatches requests to per-family adapters. The adapter set
// is fixed at construction; a network whose family has no adapter is
// unsupported even when the registry knows it.
type Facilitator struct {
	reg      *registry.Registry
	screen   *compliance.Screen
	coord    *coordinator.Coordinator
	adapters map[types.NetworkFamily]adapters.Adapter

	log logger.Logger
	rec metrics.Recorder

	settleTimeout time.Duration
	holdTimeout   time.Duration

	// nonces and complianceRefresh are consumed by NewFromConfig when it
	// assembles the adapter set and compliance screen.
	nonces            noncestore.Store
	complianceRefresh time.Duration
}

// New builds a facilitator over the given registry, compliance screen,
// and adapters. screen may be nil only when compliance screening is
// deliberately disabled.
func New(reg *registry.Registry, screen *compliance.Screen, adapterList []adapters.Adapter, opts ...Option) (*Facilitator, error) {
	f := &Facilitator{
		reg:           reg,
		screen:        screen,
		adapters:      make(map[types.NetworkFamily]adapters.Adapter, len(adapterList)),
		log:           logger.NoopLogger{},
		rec:           metrics.NoopRecorder{},
		settleTimeout: 90 * time.Second,
		holdTimeout:   coordinator.DefaultHoldTimeout,
	}
	for _, opt := range opts {
		opt(f)
	}
	for _, a := range adapterList {
		if _, dup := f.adapters[a.Family()]; dup {
			return nil, types.NewError(types.ErrUnsupportedNetwork, "duplicate adapter for family %s", a.Family())
		}
		f.adapters[a.Family()] = a
	}
	f.coord = coordinator.New(f.holdTimeout, f.log, f.rec)
	return f, nil
}

// resolve maps the request's network to a registry entry and its adapter.
func (f *Facilitator) resolve(req *types.VerifyRequest) (registry.Entry, adapters.Adapter, error) {
	entry, err := f.reg.Resolve(types.Network(req.PaymentRequirements.Network))
	if err != nil {
		return registry.Entry{}, nil, err
	}
	adapter, ok := f.adapters[entry.Family]
	if !ok {
		return registry.Entry{}, nil, types.NewError(types.ErrUnsupportedNetwork,
			"no adapter configured for family %s", entry.Family)
	}
	return entry, adapter, nil
}

// screenPayer applies the compliance decision for payer. Fail closed: a
// nil screen passes only when screening was explicitly disabled at
// construction.
func (f *Facilitator) screenPayer(payer string, network types.Network) error {
	if f.screen == nil {
		return nil
	}
	decision := f.screen.Check(payer, network)
	if !decision.Allowed {
		f.rec.IncCounter(metrics.EventBlocklistHit, map[string]string{"network": network.String()})
		return types.NewError(types.ErrBlocklisted, "payer is not eligible: %s", decision.Reason)
	}
	return nil
}

// Verify checks a payment authorization without touching ledger state.
// The returned payer is always the address recovered from the signature.
func (f *Facilitator) Verify(ctx context.Context, req *types.VerifyRequest) (*types.VerifyResponse, error) {
	start := time.Now()
	defer func() {
		f.rec.ObserveLatency("verify", time.Since(start), map[string]string{"network": req.PaymentRequirements.Network})
	}()

	if err := req.Validate(); err != nil {
		f.rec.IncCounter(metrics.EventVerifyRejected, nil)
		return types.Invalid(types.ErrDecoding, err.Error()), nil
	}
	entry, adapter, err := f.resolve(req)
	if err != nil {
		if types.KindOf(err) == types.ErrUnsupportedNetwork {
			f.rec.IncCounter(metrics.EventVerifyRejected, nil)
			return types.Invalid(types.ErrUnsupportedNetwork, err.Error()), nil
		}
		return nil, err
	}

	resp, err := adapter.Verify(ctx, req, entry)
	if err != nil {
		f.rec.IncCounter(metrics.EventProviderFailure, map[string]string{"network": entry.Network.String()})
		return nil, err
	}
	if resp.IsValid {
		if err := f.screenPayer(resp.Payer, entry.Network); err != nil {
			resp = types.Invalid(types.ErrBlocklisted, err.Error())
		}
	}

	if resp.IsValid {
		f.rec.IncCounter(metrics.EventVerifyOK, map[string]string{"network": entry.Network.String()})
	} else {
		f.rec.IncCounter(metrics.EventVerifyRejected, map[string]string{"network": entry.Network.String()})
		f.log.Debug("verification rejected", map[string]any{
			"network": entry.Network.String(),
			"reason":  resp.InvalidReason,
		})
	}
	return resp, nil
}

// Settle verifies the authorization from scratch and executes it on-chain.
// Nothing carries over from any earlier Verify call; verify and settle
// arrive over separate trust boundaries.
//
// Success in the receipt means on-chain state changed. A settlement
// timeout is reported as such, never as failure, because the transaction
// may still land.
func (f *Facilitator) Settle(ctx context.Context, req *types.VerifyRequest) (*types.SettleResponse, error) {
	start := time.Now()
	defer func() {
		f.rec.ObserveLatency("settle", time.Since(start), map[string]string{"network": req.PaymentRequirements.Network})
	}()

	network := types.Network(req.PaymentRequirements.Network)
	if err := req.Validate(); err != nil {
		return f.settleFailure(network, "", types.WrapError(types.ErrDecoding, err, "invalid settle request")), nil
	}
	entry, adapter, err := f.resolve(req)
	if err != nil {
		return f.settleFailure(network, "", err), nil
	}

	ctx, cancel := context.WithTimeout(ctx, f.settleTimeout)
	defer cancel()

	// Adapter verification recovers the payer for the compliance screen;
	// the adapter re-runs the same checks again inside Settle.
	verdict, err := adapter.Verify(ctx, req, entry)
	if err != nil {
		return f.settleFailure(entry.Network, "", err), nil
	}
	if !verdict.IsValid {
		// A payload failing verify fails settle with the same kind.
		kind := verdict.Kind()
		if kind == "" {
			kind = types.ErrDecoding
		}
		return f.settleFailure(entry.Network, "", types.NewError(kind, "%s", verdict.InvalidReason)), nil
	}
	if err := f.screenPayer(verdict.Payer, entry.Network); err != nil {
		return f.settleFailure(entry.Network, verdict.Payer, err), nil
	}

	slot, err := f.coord.Acquire(ctx, entry.Network, adapter.FeeSponsor())
	if err != nil {
		return f.settleFailure(entry.Network, verdict.Payer, err), nil
	}
	defer slot.Release()

	receipt, err := adapter.Settle(ctx, req, entry)
	if err != nil {
		return f.settleFailure(entry.Network, verdict.Payer, err), nil
	}

	f.rec.IncCounter(metrics.EventSettleOK, map[string]string{"network": entry.Network.String()})
	if amount, aerr := req.PaymentRequirements.Amount(); aerr == nil {
		f.log.Info("settlement complete", map[string]any{
			"network": entry.Network.String(),
			"tx":      receipt.Transaction,
			"payer":   receipt.Payer,
			"amount":  types.FormatAtomic(amount, entry.FeeAsset.Decimals),
		})
	}
	return receipt, nil
}

// settleFailure shapes an error into a failure receipt. The error kind is
// the stable machine-readable reason.
func (f *Facilitator) settleFailure(network types.Network, payer string, err error) *types.SettleResponse {
	kind := types.KindOf(err)
	if kind == "" {
		kind = types.ErrProviderUnavailable
	}
	switch kind {
	case types.ErrReplayed:
		f.rec.IncCounter(metrics.EventReplayRejected, map[string]string{"network": network.String()})
	case types.ErrProviderUnavailable:
		f.rec.IncCounter(metrics.EventProviderFailure, map[string]string{"network": network.String()})
	}
	f.rec.IncCounter(metrics.EventSettleFailed, map[string]string{"network": network.String(), "reason": string(kind)})
	f.log.Warn("settlement failed", map[string]any{
		"network": network.String(),
		"payer":   payer,
		"kind":    string(kind),
		"error":   err.Error(),
	})
	return &types.SettleResponse{
		Success:     false,
		Network:     network,
		Payer:       payer,
		ErrorReason: string(kind),
	}
}

// Supported lists every (network, scheme) pair the facilitator can settle,
// with the fee-sponsor address clients must route fee payment through.
func (f *Facilitator) Supported() *types.SupportedResponse {
	resp := &types.SupportedResponse{}
	for _, entry := range f.reg.Networks() {
		adapter, ok := f.adapters[entry.Family]
		if !ok {
			continue
		}
		// A family without sponsor key material can verify but never
		// settle, so it is not advertised.
		sponsor := adapter.FeeSponsor()
		if sponsor == "" {
			continue
		}
		resp.Kinds = append(resp.Kinds, types.SupportedKind{
			X402Version: int(types.X402Version1),
			Scheme:      string(types.SchemeExact),
			Network:     entry.Network.String(),
			Extra:       map[string]any{"feePayer": sponsor},
		})
	}
	sort.Slice(resp.Kinds, func(i, j int) bool { return resp.Kinds[i].Network < resp.Kinds[j].Network })
	return resp
}
