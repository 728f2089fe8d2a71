package metrics

import "time"

// Recorder counts facilitator events and observes operation latency.
type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}

// Event names recorded by the facilitator core.
const (
	EventVerifyOK        = "verify_ok"
	EventVerifyRejected  = "verify_rejected"
	EventSettleOK        = "settle_ok"
	EventSettleFailed    = "settle_failed"
	EventBlocklistHit    = "blocklist_hit"
	EventSlotTimeout     = "slot_forced_release"
	EventReplayRejected  = "replay_rejected"
	EventProviderFailure = "provider_failure"
)
