package config

import (
	"fmt"
	"time"
)

// configFieldSetters maps every overridable Config field name to a setter
// that applies a decoded JSON value onto cfg. Numeric values round-trip
// through the graph store's JSON Attributes as float64 (per
// encoding/json's default number decoding into interface{}), so every
// numeric setter accepts float64 and converts; this is the same
// consideration the Override validation exists to catch at the edge
// rather than downstream.
var configFieldSetters = map[string]func(cfg *Config, v any) error{
	"MaxActiveTasks":                 intSetter(func(c *Config, n int) { c.MaxActiveTasks = n }),
	"MaxActiveThoughts":              intSetter(func(c *Config, n int) { c.MaxActiveThoughts = n }),
	"MaxDepth":                       intSetter(func(c *Config, n int) { c.MaxDepth = n }),
	"ConscienceRetryLimit":           intSetter(func(c *Config, n int) { c.ConscienceRetryLimit = n }),
	"DMARetryLimit":                  intSetter(func(c *Config, n int) { c.DMARetryLimit = n }),
	"DMATimeout":                     durationSetter(func(c *Config, d time.Duration) { c.DMATimeout = d }),
	"ConscienceTimeout":              durationSetter(func(c *Config, d time.Duration) { c.ConscienceTimeout = d }),
	"EntropyThreshold":               floatSetter(func(c *Config, f float64) { c.EntropyThreshold = f }),
	"CoherenceThreshold":             floatSetter(func(c *Config, f float64) { c.CoherenceThreshold = f }),
	"OccurrenceID":                   stringSetter(func(c *Config, s string) { c.OccurrenceID = s }),
	"RoundDelay":                     durationSetter(func(c *Config, d time.Duration) { c.RoundDelay = d }),
	"ConsolidationWindow":            durationSetter(func(c *Config, d time.Duration) { c.ConsolidationWindow = d }),
	"IncidentAnalysisWindow":         durationSetter(func(c *Config, d time.Duration) { c.IncidentAnalysisWindow = d }),
	"CircuitBreakerFailureThreshold": intSetter(func(c *Config, n int) { c.CircuitBreakerFailureThreshold = n }),
	"CircuitBreakerCooldown":         durationSetter(func(c *Config, d time.Duration) { c.CircuitBreakerCooldown = d }),
	"ShutdownGrace":                  durationSetter(func(c *Config, d time.Duration) { c.ShutdownGrace = d }),
	"EmergencyShutdownTimeout":       durationSetter(func(c *Config, d time.Duration) { c.EmergencyShutdownTimeout = d }),
}

func asFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func intSetter(apply func(*Config, int)) func(*Config, any) error {
	return func(c *Config, v any) error {
		f, ok := asFloat64(v)
		if !ok {
			return fmt.Errorf("expected a number, got %T", v)
		}
		apply(c, int(f))
		return nil
	}
}

func floatSetter(apply func(*Config, float64)) func(*Config, any) error {
	return func(c *Config, v any) error {
		f, ok := asFloat64(v)
		if !ok {
			return fmt.Errorf("expected a number, got %T", v)
		}
		apply(c, f)
		return nil
	}
}

// durationSetter accepts either a pre-encoded time.Duration nanosecond
// count (as a number) or a Go duration string ("30s"), so overrides
// authored by a human operator don't need to hand-compute nanoseconds.
func durationSetter(apply func(*Config, time.Duration)) func(*Config, any) error {
	return func(c *Config, v any) error {
		if s, ok := v.(string); ok {
			d, err := time.ParseDuration(s)
			if err != nil {
				return fmt.Errorf("invalid duration %q: %w", s, err)
			}
			apply(c, d)
			return nil
		}
		f, ok := asFloat64(v)
		if !ok {
			return fmt.Errorf("expected a duration string or nanosecond count, got %T", v)
		}
		apply(c, time.Duration(f))
		return nil
	}
}

func stringSetter(apply func(*Config, string)) func(*Config, any) error {
	return func(c *Config, v any) error {
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("expected a string, got %T", v)
		}
		apply(c, s)
		return nil
	}
}
