// Package clients constructs and caches per-network RPC handles. Handles are
// built lazily on first use and shared for the lifetime of the cache; a
// construction failure is returned to every concurrent caller but is not
// cached, so the next request retries the endpoint.
package clients

import (
	"context"
	"fmt"
	"sync"

	"github.com/algorand/go-algorand-sdk/v2/client/v2/algod"
	"github.com/block-vision/sui-go-sdk/sui"
	"github.com/ethereum/go-ethereum/ethclient"
	solrpc "github.com/gagliardetto/solana-go/rpc"
	"golang.org/x/sync/singleflight"

	"github.com/x402labs/facilitator/types"
)

// Endpoint holds the connection material for one network.
type Endpoint struct {
	// URL is the RPC (or Horizon) endpoint.
	URL string
	// AuthToken is sent as an API token where the backend wants one
	// (Algorand algod). Empty for public endpoints.
	AuthToken string
	// SorobanURL is the Soroban RPC endpoint for Stellar networks.
	// Horizon alone cannot simulate contract invocations.
	SorobanURL string
}

// Endpoints maps networks to their connection material.
type Endpoints map[types.Network]Endpoint

// Cache builds RPC handles on demand and reuses them. Safe for concurrent
// use; duplicate construction for the same network is collapsed.
type Cache struct {
	endpoints Endpoints

	group   singleflight.Group
	mu      sync.RWMutex
	handles map[types.Network]any
}

// NewCache returns a cache over the given endpoint set. Networks absent from
// the set resolve to ErrProviderUnavailable at first use.
func NewCache(endpoints Endpoints) *Cache {
	return &Cache{
		endpoints: endpoints,
		handles:   make(map[types.Network]any),
	}
}

func (c *Cache) endpoint(network types.Network) (Endpoint, error) {
	ep, ok := c.endpoints[network]
	if !ok || ep.URL == "" {
		return Endpoint{}, types.NewError(types.ErrProviderUnavailable,
			"no endpoint configured for network %s", network)
	}
	return ep, nil
}

// get returns the cached handle for network, constructing it via build if
// absent. Only successful constructions are stored.
func (c *Cache) get(network types.Network, build func(Endpoint) (any, error)) (any, error) {
	c.mu.RLock()
	h, ok := c.handles[network]
	c.mu.RUnlock()
	if ok {
		return h, nil
	}

	v, err, _ := c.group.Do(string(network), func() (any, error) {
		c.mu.RLock()
		h, ok := c.handles[network]
		c.mu.RUnlock()
		if ok {
			return h, nil
		}
		ep, err := c.endpoint(network)
		if err != nil {
			return nil, err
		}
		h, err = build(ep)
		if err != nil {
			return nil, types.WrapError(types.ErrProviderUnavailable, err,
				"building provider for %s", network)
		}
		c.mu.Lock()
		c.handles[network] = h
		c.mu.Unlock()
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// EVM returns an ethclient for an EVM network.
func (c *Cache) EVM(ctx context.Context, network types.Network) (*ethclient.Client, error) {
	h, err := c.get(network, func(ep Endpoint) (any, error) {
		return ethclient.DialContext(ctx, ep.URL)
	})
	if err != nil {
		return nil, err
	}
	return h.(*ethclient.Client), nil
}

// Solana returns a Solana JSON-RPC client.
func (c *Cache) Solana(network types.Network) (*solrpc.Client, error) {
	h, err := c.get(network, func(ep Endpoint) (any, error) {
		return solrpc.New(ep.URL), nil
	})
	if err != nil {
		return nil, err
	}
	return h.(*solrpc.Client), nil
}

// Near returns a NEAR JSON-RPC client.
func (c *Cache) Near(network types.Network) (*NearClient, error) {
	h, err := c.get(network, func(ep Endpoint) (any, error) {
		return NewNearClient(ep.URL), nil
	})
	if err != nil {
		return nil, err
	}
	return h.(*NearClient), nil
}

// Stellar returns a Horizon client paired with its Soroban RPC endpoint.
func (c *Cache) Stellar(network types.Network) (*StellarClient, error) {
	h, err := c.get(network, func(ep Endpoint) (any, error) {
		if ep.SorobanURL == "" {
			return nil, fmt.Errorf("stellar endpoint %s has no soroban rpc url", ep.URL)
		}
		return NewStellarClient(ep.URL, ep.SorobanURL), nil
	})
	if err != nil {
		return nil, err
	}
	return h.(*StellarClient), nil
}

// Algorand returns an algod client.
func (c *Cache) Algorand(network types.Network) (*algod.Client, error) {
	h, err := c.get(network, func(ep Endpoint) (any, error) {
		return algod.MakeClient(ep.URL, ep.AuthToken)
	})
	if err != nil {
		return nil, err
	}
	return h.(*algod.Client), nil
}

// Sui returns a Sui JSON-RPC client.
func (c *Cache) Sui(network types.Network) (sui.ISuiAPI, error) {
	h, err := c.get(network, func(ep Endpoint) (any, error) {
		return sui.NewSuiClient(ep.URL), nil
	})
	if err != nil {
		return nil, err
	}
	return h.(sui.ISuiAPI), nil
}
