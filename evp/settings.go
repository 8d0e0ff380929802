package evp

import (
	"time"
)

const (
	defaultRelayInterval  time.Duration = time.Second
	defaultRelayBatchSize int           = 100
	defaultClaimTTL       time.Duration = time.Second * 30
	defaultHandlerTimeout time.Duration = time.Second * 10
	defaultQueueCapacity  int           = 100
)

// Settings holds the general pipeline configuration.
type Settings struct {
	EnableRelay    bool          // enables the outbox relay job
	RelayInterval  time.Duration // interval between relay cycles
	RelayBatchSize int           // maximum number of outbox records claimed per cycle
	ClaimTTL       time.Duration // how long a claimed record is reserved for a relay
	HandlerTimeout time.Duration // deadline of the relay handlers of one record, always below ClaimTTL
	QueueCapacity  int           // capacity of the in-process event queue
}

// validateSettings validates the stablished settings and sets defaults if needed.
func validateSettings(s *Settings) {
	if s.QueueCapacity <= 0 {
		s.QueueCapacity = defaultQueueCapacity
	}
	if s.EnableRelay {
		if s.RelayInterval <= 0 {
			s.RelayInterval = defaultRelayInterval
		}
		if s.RelayBatchSize <= 0 {
			s.RelayBatchSize = defaultRelayBatchSize
		}
		if s.ClaimTTL <= 0 {
			s.ClaimTTL = defaultClaimTTL
		}
		if s.HandlerTimeout <= 0 {
			s.HandlerTimeout = min(defaultHandlerTimeout, s.ClaimTTL/2)
		}
		// a record must be handled before its claim can be taken over.
		if s.HandlerTimeout >= s.ClaimTTL {
			s.ClaimTTL = 2 * s.HandlerTimeout
		}
	}
}
