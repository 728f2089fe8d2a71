package facilitator

import (
	"time"

	"github.com/x402labs/facilitator/logger"
	"github.com/x402labs/facilitator/metrics"
	"github.com/x402labs/facilitator/noncestore"
)

// Option customizes a Facilitator at construction.
type Option func(*Facilitator)

// WithLogger installs a structured logger. Default is no logging.
func WithLogger(log logger.Logger) Option {
	return func(f *Facilitator) {
		if log != nil {
			f.log = log
		}
	}
}

// WithMetrics installs a metrics recorder. Default is no recording.
func WithMetrics(rec metrics.Recorder) Option {
	return func(f *Facilitator) {
		if rec != nil {
			f.rec = rec
		}
	}
}

// WithSettleTimeout bounds a whole settle call, slot wait included.
func WithSettleTimeout(d time.Duration) Option {
	return func(f *Facilitator) {
		if d > 0 {
			f.settleTimeout = d
		}
	}
}

// WithHoldTimeout bounds how long a submission slot may stay held before
// it is forcibly released.
func WithHoldTimeout(d time.Duration) Option {
	return func(f *Facilitator) {
		if d > 0 {
			f.holdTimeout = d
		}
	}
}

// WithNonceStore installs the replay-token store shared by every adapter.
// NewFromConfig defaults to the in-process MemoryStore; a persistent store
// survives restarts.
func WithNonceStore(s noncestore.Store) Option {
	return func(f *Facilitator) {
		if s != nil {
			f.nonces = s
		}
	}
}

// WithComplianceRefresh overrides the configured compliance-list refresh
// interval.
func WithComplianceRefresh(d time.Duration) Option {
	return func(f *Facilitator) {
		if d > 0 {
			f.complianceRefresh = d
		}
	}
}
