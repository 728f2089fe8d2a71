// Package compliance screens payer addresses against a sanctioned-entity
// list and an operator blocklist. Decisions fail closed: a missing or
// indeterminate snapshot yields Block, never Allow.
package compliance

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/x402labs/facilitator/logger"
	"github.com/x402labs/facilitator/types"
)

// Decision is the outcome of a compliance check.
type Decision struct {
	Allowed bool
	Reason  string
}

// Allow is the passing decision.
var Allow = Decision{Allowed: true}

// Block builds a blocking decision with a reason.
func Block(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// Source supplies one address list. Implementations load from file,
// embedded data, or a remote feed.
type Source interface {
	// Name identifies the list in logs ("ofac-sdn", "operator-blocklist").
	Name() string

	// Load returns the full address list. A returned error aborts the
	// refresh; the previous snapshot stays in effect.
	Load(ctx context.Context) ([]string, error)
}

// snapshot is one immutable generation of threat data. Readers always see
// either the old or the new generation in its entirety.
type snapshot struct {
	sanctioned map[string]struct{}
	blocklist  map[string]struct{}
	loadedAt   time.Time
}

// Screen checks addresses against the current list snapshot.
type Screen struct {
	sanctionedSrc Source
	blocklistSrc  Source

	snap atomic.Pointer[snapshot]
	log  logger.Logger
}

// New loads both lists and returns a ready Screen. If either initial load
// fails the error is returned and the process must refuse to start rather
// than run with partial threat data.
func New(ctx context.Context, sanctioned, blocklist Source, log logger.Logger) (*Screen, error) {
	if log == nil {
		log = logger.NoopLogger{}
	}
	s := &Screen{
		sanctionedSrc: sanctioned,
		blocklistSrc:  blocklist,
		log:           log,
	}
	if err := s.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("initial compliance load: %w", err)
	}
	return s, nil
}

// Refresh loads both sources and atomically swaps in the new snapshot.
// On any load failure the current snapshot is left untouched.
func (s *Screen) Refresh(ctx context.Context) error {
	next := &snapshot{
		sanctioned: make(map[string]struct{}),
		blocklist:  make(map[string]struct{}),
		loadedAt:   time.Now().UTC(),
	}

	if s.sanctionedSrc != nil {
		addrs, err := s.sanctionedSrc.Load(ctx)
		if err != nil {
			return fmt.Errorf("load %s: %w", s.sanctionedSrc.Name(), err)
		}
		for _, a := range addrs {
			next.sanctioned[normalize(a)] = struct{}{}
		}
	}
	if s.blocklistSrc != nil {
		addrs, err := s.blocklistSrc.Load(ctx)
		if err != nil {
			return fmt.Errorf("load %s: %w", s.blocklistSrc.Name(), err)
		}
		for _, a := range addrs {
			next.blocklist[normalize(a)] = struct{}{}
		}
	}

	s.snap.Store(next)
	s.log.Info("compliance snapshot refreshed", map[string]any{
		"sanctioned": len(next.sanctioned),
		"blocklist":  len(next.blocklist),
		"loaded_at":  next.loadedAt,
	})
	return nil
}

// StartRefresher refreshes the snapshot every interval until ctx is done.
// Refresh failures are logged and the previous snapshot stays live.
func (s *Screen) StartRefresher(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.Refresh(ctx); err != nil {
					s.log.Error("compliance refresh failed", map[string]any{"error": err.Error()})
				}
			}
		}
	}()
}

// Check screens an address on a network. Pure function of
// (address, network, current snapshot); every Block is audit-logged.
func (s *Screen) Check(address string, network types.Network) Decision {
	snap := s.snap.Load()
	if snap == nil {
		return s.audit(address, network, Block("compliance snapshot unavailable"))
	}
	if address == "" {
		return s.audit(address, network, Block("empty payer address"))
	}

	key := normalize(address)
	if _, hit := snap.sanctioned[key]; hit {
		return s.audit(address, network, Block("address on sanctioned-entity list"))
	}
	if _, hit := snap.blocklist[key]; hit {
		return s.audit(address, network, Block("address on operator blocklist"))
	}
	return Allow
}

// audit records every Block decision with a unique event id.
func (s *Screen) audit(address string, network types.Network, d Decision) Decision {
	if !d.Allowed {
		s.log.Warn("compliance block", map[string]any{
			"event_id": uuid.NewString(),
			"address":  address,
			"network":  network.String(),
			"reason":   d.Reason,
		})
	}
	return d
}

// LoadedAt reports when the live snapshot was taken, zero if none.
func (s *Screen) LoadedAt() time.Time {
	if snap := s.snap.Load(); snap != nil {
		return snap.loadedAt
	}
	return time.Time{}
}

// normalize canonicalizes addresses for set membership. EVM hex addresses
// are case-insensitive; other families compare verbatim.
func normalize(address string) string {
	if strings.HasPrefix(address, "0x") || strings.HasPrefix(address, "0X") {
		return strings.ToLower(address)
	}
	return address
}
