// Package registry is the static catalog of supported networks: family
// classification, fee-asset deployment metadata, and chain identifiers.
// Loaded once at startup and read-only thereafter.
package registry

import (
	"context"
	"fmt"

	"github.com/x402labs/facilitator/types"
)

// FeeAssetDeployment describes the fee asset on one network: where it
// lives, its precision, and (for typed-data families) the signing-domain
// parameters baked into the asset contract.
type FeeAssetDeployment struct {
	// Asset is the family-specific asset reference: ERC-20 contract,
	// SPL mint, NEP-141 account, Soroban contract id, ASA id, or Sui
	// coin type.
	Asset string `yaml:"asset"`

	// Decimals is the asset's atomic-unit precision.
	Decimals uint8 `yaml:"decimals"`

	// DomainName and DomainVersion parameterize the EIP-712 signing
	// domain. Only meaningful for typed-data families; empty otherwise.
	DomainName    string `yaml:"domainName,omitempty"`
	DomainVersion string `yaml:"domainVersion,omitempty"`
}

// Entry is one network's immutable registry record.
type Entry struct {
	Network types.Network       `yaml:"network"`
	Family  types.NetworkFamily `yaml:"family"`
	Testnet bool                `yaml:"testnet"`

	// ChainRef is the canonical chain-scoped identifier, unique across
	// families (CAIP-2 style, e.g. "eip155:8453").
	ChainRef string `yaml:"chainRef"`

	// ChainID is the numeric chain id for EVM networks, zero otherwise.
	ChainID int64 `yaml:"chainID,omitempty"`

	FeeAsset FeeAssetDeployment `yaml:"feeAsset"`
}

// Registry resolves network identifiers to entries. Immutable after New.
type Registry struct {
	entries map[types.Network]Entry
}

// New builds a registry from the built-in catalog plus extra entries.
// Extra entries override built-ins on identifier collision.
func New(extra ...Entry) (*Registry, error) {
	entries := make(map[types.Network]Entry, len(builtin)+len(extra))
	for _, e := range builtin {
		entries[e.Network] = e
	}
	for _, e := range extra {
		if err := validateEntry(e); err != nil {
			return nil, err
		}
		entries[e.Network] = e
	}
	return &Registry{entries: entries}, nil
}

func validateEntry(e Entry) error {
	if e.Network == "" {
		return fmt.Errorf("registry entry with empty network identifier")
	}
	switch e.Family {
	case types.FamilyEVM, types.FamilySolana, types.FamilyNear,
		types.FamilyStellar, types.FamilyAlgorand, types.FamilySui:
	default:
		return fmt.Errorf("registry entry %s: unknown family %q", e.Network, e.Family)
	}
	if e.FeeAsset.Asset == "" {
		return fmt.Errorf("registry entry %s: missing fee asset", e.Network)
	}
	if e.Family == types.FamilyEVM && e.ChainID == 0 {
		return fmt.Errorf("registry entry %s: EVM entry requires chainID", e.Network)
	}
	return nil
}

// Resolve returns the entry for a network identifier.
func (r *Registry) Resolve(network types.Network) (Entry, error) {
	e, ok := r.entries[network]
	if !ok {
		return Entry{}, types.NewError(types.ErrUnsupportedNetwork, "network %q not in registry", network)
	}
	return e, nil
}

// Networks returns every registered network, for supported() listings.
func (r *Registry) Networks() []Entry {
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}

// SigningDomain is the resolved EIP-712 domain for a typed-data network.
type SigningDomain struct {
	Name    string
	Version string
}

// DomainQuerier reads the asset contract's own name/version on-chain.
// Used only as the last resort because it adds latency and a failure point.
type DomainQuerier interface {
	QueryDomain(ctx context.Context, network types.Network, asset string) (SigningDomain, error)
}

// ResolveSigningDomain resolves the signing-domain parameters with
// three-tier priority: caller-declared extras, then the static entry,
// then a live on-chain query of the asset contract.
func (r *Registry) ResolveSigningDomain(
	ctx context.Context,
	req *types.PaymentRequirements,
	entry Entry,
	querier DomainQuerier,
) (SigningDomain, error) {
	if name := req.ExtraString("name"); name != "" {
		version := req.ExtraString("version")
		if version == "" {
			version = entry.FeeAsset.DomainVersion
		}
		return SigningDomain{Name: name, Version: version}, nil
	}
	if entry.FeeAsset.DomainName != "" {
		return SigningDomain{
			Name:    entry.FeeAsset.DomainName,
			Version: entry.FeeAsset.DomainVersion,
		}, nil
	}
	if querier == nil {
		return SigningDomain{}, types.NewError(types.ErrDecoding,
			"no signing domain for %s and no on-chain querier", entry.Network)
	}
	domain, err := querier.QueryDomain(ctx, entry.Network, req.Asset)
	if err != nil {
		return SigningDomain{}, types.WrapError(types.ErrProviderUnavailable, err,
			"on-chain signing-domain lookup failed for %s", entry.Network)
	}
	return domain, nil
}
