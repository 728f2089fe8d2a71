package facilitator

import (
	"context"

	"github.com/x402labs/facilitator/adapters"
	"github.com/x402labs/facilitator/clients"
	"github.com/x402labs/facilitator/compliance"
	"github.com/x402labs/facilitator/config"
	"github.com/x402labs/facilitator/logger"
	"github.com/x402labs/facilitator/metrics"
	"github.com/x402labs/facilitator/noncestore"
	"github.com/x402labs/facilitator/registry"
	"github.com/x402labs/facilitator/signer"
	"github.com/x402labs/facilitator/types"
)

// NewFromConfig wires a facilitator from configuration: provider cache,
// replay store, compliance screen, and one adapter per family that has
// sponsor key material. Construction fails if the compliance lists cannot
// be loaded; a facilitator never starts unscreened by accident.
func NewFromConfig(ctx context.Context, cfg *config.Config, opts ...Option) (*Facilitator, error) {
	probe := &Facilitator{log: logger.NoopLogger{}, rec: metrics.NoopRecorder{}}
	for _, opt := range opts {
		opt(probe)
	}
	log, rec := probe.log, probe.rec

	reg, err := registry.New()
	if err != nil {
		return nil, err
	}
	cache := clients.NewCache(cfg.Endpoints())
	var nonces noncestore.Store = noncestore.NewMemoryStore()
	if probe.nonces != nil {
		nonces = probe.nonces
	}

	var screen *compliance.Screen
	if !cfg.Compliance.Disabled {
		screen, err = compliance.New(ctx,
			compliance.FileSource{ListName: "sanctioned", Path: cfg.Compliance.SanctionedPath},
			compliance.FileSource{ListName: "blocklist", Path: cfg.Compliance.BlocklistPath},
			log,
		)
		if err != nil {
			return nil, err
		}
		refresh := cfg.Compliance.RefreshInterval
		if probe.complianceRefresh > 0 {
			refresh = probe.complianceRefresh
		}
		if refresh > 0 {
			screen.StartRefresher(ctx, refresh)
		}
	}

	deps := adapters.Deps{
		Cache:          cache,
		Reg:            reg,
		Nonces:         nonces,
		Log:            log,
		Rec:            rec,
		ConfirmTimeout: cfg.ConfirmTimeout,
	}

	var adapterList []adapters.Adapter

	var evmSponsor *signer.EVM
	if cfg.Signers.EVMPrivateKey != "" {
		if evmSponsor, err = signer.NewEVM(cfg.Signers.EVMPrivateKey); err != nil {
			return nil, types.WrapError(types.ErrProviderUnavailable, err, "loading EVM sponsor key")
		}
	}
	adapterList = append(adapterList, adapters.NewEVM(deps, evmSponsor))

	if cfg.Signers.SolanaPrivateKey != "" {
		sponsor, err := signer.NewSolana(cfg.Signers.SolanaPrivateKey)
		if err != nil {
			return nil, types.WrapError(types.ErrProviderUnavailable, err, "loading Solana sponsor key")
		}
		adapterList = append(adapterList, adapters.NewSolana(deps, sponsor))
	}
	if cfg.Signers.NearAccountID != "" && cfg.Signers.NearSeed != "" {
		relayer, err := signer.NewNear(cfg.Signers.NearAccountID, cfg.Signers.NearSeed)
		if err != nil {
			return nil, types.WrapError(types.ErrProviderUnavailable, err, "loading NEAR relayer key")
		}
		adapterList = append(adapterList, adapters.NewNear(deps, relayer))
	}
	if cfg.Signers.StellarSeed != "" {
		sponsor, err := signer.NewStellar(cfg.Signers.StellarSeed)
		if err != nil {
			return nil, types.WrapError(types.ErrProviderUnavailable, err, "loading Stellar sponsor key")
		}
		adapterList = append(adapterList, adapters.NewStellar(deps, sponsor))
	}
	if cfg.Signers.AlgorandMnemonic != "" {
		sponsor, err := signer.NewAlgorand(cfg.Signers.AlgorandMnemonic)
		if err != nil {
			return nil, types.WrapError(types.ErrProviderUnavailable, err, "loading Algorand sponsor key")
		}
		adapterList = append(adapterList, adapters.NewAlgorand(deps, sponsor))
	}
	if cfg.Signers.SuiSeed != "" {
		sponsor, err := signer.NewSui(cfg.Signers.SuiSeed)
		if err != nil {
			return nil, types.WrapError(types.ErrProviderUnavailable, err, "loading Sui sponsor key")
		}
		adapterList = append(adapterList, adapters.NewSui(deps, sponsor, cfg.SuiGasCeiling))
	}

	engineOpts := append([]Option{}, opts...)
	if cfg.SettleTimeout > 0 {
		engineOpts = append(engineOpts, WithSettleTimeout(cfg.SettleTimeout))
	}
	if cfg.HoldTimeout > 0 {
		engineOpts = append(engineOpts, WithHoldTimeout(cfg.HoldTimeout))
	}
	return New(reg, screen, adapterList, engineOpts...)
}
