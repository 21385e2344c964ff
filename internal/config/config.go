// Package config holds the single typed Config struct populated at startup
// and threaded by reference through every component (spec §9: "module-level
// mutable config dicts" -> "a single typed Config struct ... propagated by
// reference; never mutated after init except through a ConfigService").
//
// The shape mirrors how the teacher repo (core/autonomous/autonomous_consciousness.go,
// AutonomousConfig/DefaultAutonomousConfig) keeps one config struct per
// subsystem with a Default constructor; we generalize that to one struct for
// the whole runtime, per spec §6's recognized-options list.
package config

import "time"

// Config is the runtime-wide configuration. Every field corresponds to a
// recognized option in spec §6. Unset struct literals should use Default(),
// never be constructed field-by-field against zero values, since a zero
// MaxDepth or MaxActiveTasks silently disables the runtime.
type Config struct {
	// MaxActiveTasks bounds concurrently-active Tasks per occurrence.
	MaxActiveTasks int
	// MaxActiveThoughts bounds Thoughts popped per processor round.
	MaxActiveThoughts int
	// MaxDepth is the hard ceiling on Thought.Depth (spec invariant).
	MaxDepth int
	// ConscienceRetryLimit bounds recursive ASPDMA re-invocations per
	// conscience failure before the thought is forced to DEFER.
	ConscienceRetryLimit int
	// DMARetryLimit bounds retries of a failing DMA call before the thought
	// is force-DEFERRED.
	DMARetryLimit int
	// DMATimeout bounds a single DMA invocation.
	DMATimeout time.Duration
	// ConscienceTimeout bounds a single conscience faculty invocation.
	ConscienceTimeout time.Duration
	// EntropyThreshold: conscience Entropy faculty fails above this.
	EntropyThreshold float64
	// CoherenceThreshold: conscience Coherence faculty fails below this.
	CoherenceThreshold float64
	// OccurrenceID identifies this runtime instance among others sharing
	// storage; every persisted record and query is stamped/filtered by it.
	OccurrenceID string
	// RoundDelay is the pause between processor rounds when the queue is
	// empty.
	RoundDelay time.Duration
	// ConsolidationWindow is the graph-store consolidation period (spec §9
	// open question: expose as config, don't hard-code; default 6h).
	ConsolidationWindow time.Duration
	// IncidentAnalysisWindow is the DREAM-state incident-grouping window
	// (spec §4.8; default 24h).
	IncidentAnalysisWindow time.Duration
	// CircuitBreakerFailureThreshold (F): consecutive failures before a
	// provider's breaker opens.
	CircuitBreakerFailureThreshold int
	// CircuitBreakerCooldown (C): time before an open breaker half-opens.
	CircuitBreakerCooldown time.Duration
	// ShutdownGrace bounds the drain window before emergency termination.
	ShutdownGrace time.Duration
	// EmergencyShutdownTimeout records the OS-level kill bound. It is not
	// read by lifecycle.ShutdownCoordinator, whose EmergencyShutdown always
	// waits a fixed 5s.
	EmergencyShutdownTimeout time.Duration
}

// Default returns the spec §6 default configuration.
func Default() *Config {
	return &Config{
		MaxActiveTasks:                  10,
		MaxActiveThoughts:               50,
		MaxDepth:                        20,
		ConscienceRetryLimit:            2,
		DMARetryLimit:                   3,
		DMATimeout:                      30 * time.Second,
		ConscienceTimeout:               10 * time.Second,
		EntropyThreshold:                0.40,
		CoherenceThreshold:              0.60,
		OccurrenceID:                    "default",
		RoundDelay:                      1 * time.Second,
		ConsolidationWindow:             6 * time.Hour,
		IncidentAnalysisWindow:          24 * time.Hour,
		CircuitBreakerFailureThreshold:  3,
		CircuitBreakerCooldown:          60 * time.Second,
		ShutdownGrace:                   30 * time.Second,
		EmergencyShutdownTimeout:        5 * time.Second,
	}
}

// Clone returns a deep copy; callers that need a per-occurrence variant take
// a clone and mutate it before freezing it into their component, rather than
// mutating the shared Default().
func (c *Config) Clone() *Config {
	cp := *c
	return &cp
}
