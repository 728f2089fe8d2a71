// Package coordinator serializes fee-sponsor transaction submission per
// (network, signer) pair. Most ledger families assign a strictly
// increasing sequence number per sending account, so two concurrent
// broadcasts from the same sponsor can collide; at most one slot is live
// per key at any instant.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/x402labs/facilitator/logger"
	"github.com/x402labs/facilitator/metrics"
	"github.com/x402labs/facilitator/types"
)

// DefaultHoldTimeout bounds how long an unreleased slot may block a key.
const DefaultHoldTimeout = 2 * time.Minute

type slotKey struct {
	network types.Network
	signer  string
}

// Slot is an ephemeral reservation for one broadcast. Release exactly
// once, on confirmation or any terminal failure.
type Slot struct {
	key     slotKey
	c       *Coordinator
	timer   *time.Timer
	release sync.Once
}

// Coordinator hands out submission slots. Zero value is not usable; use New.
type Coordinator struct {
	mu    sync.Mutex
	gates map[slotKey]chan struct{}

	holdTimeout time.Duration
	log         logger.Logger
	rec         metrics.Recorder
}

func New(holdTimeout time.Duration, log logger.Logger, rec metrics.Recorder) *Coordinator {
	if holdTimeout <= 0 {
		holdTimeout = DefaultHoldTimeout
	}
	if log == nil {
		log = logger.NoopLogger{}
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Coordinator{
		gates:       make(map[slotKey]chan struct{}),
		holdTimeout: holdTimeout,
		log:         log,
		rec:         rec,
	}
}

// gate returns the capacity-1 channel guarding a key.
func (c *Coordinator) gate(key slotKey) chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.gates[key]
	if !ok {
		g = make(chan struct{}, 1)
		c.gates[key] = g
	}
	return g
}

// Acquire blocks until the (network, signer) slot is free or ctx is done.
// Slots for different keys are fully independent.
func (c *Coordinator) Acquire(ctx context.Context, network types.Network, signer string) (*Slot, error) {
	key := slotKey{network: network, signer: signer}
	g := c.gate(key)

	select {
	case g <- struct{}{}:
	case <-ctx.Done():
		return nil, types.WrapError(types.ErrSubmissionTimeout, ctx.Err(),
			"waiting for submission slot on %s", network)
	}

	slot := &Slot{key: key, c: c}
	// A stuck broadcast must not hold the key forever. The forced release
	// is logged as an anomaly; the adapter owns any resulting sequence-gap
	// recovery.
	slot.timer = time.AfterFunc(c.holdTimeout, func() {
		c.log.Error("submission slot held past timeout, forcing release", map[string]any{
			"network": network.String(),
			"signer":  signer,
			"timeout": c.holdTimeout.String(),
		})
		c.rec.IncCounter(metrics.EventSlotTimeout, map[string]string{"network": network.String()})
		slot.doRelease()
	})
	return slot, nil
}

// Release frees the slot. Safe to call more than once.
func (s *Slot) Release() {
	if s == nil {
		return
	}
	s.timer.Stop()
	s.doRelease()
}

func (s *Slot) doRelease() {
	s.release.Do(func() {
		g := s.c.gate(s.key)
		select {
		case <-g:
		default:
		}
	})
}
