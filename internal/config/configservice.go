// ConfigService persists config overrides into the graph store (spec §9:
// "a single typed Config struct ... never mutated after init except through
// a ConfigService"). Grounded on the teacher's core/persistence.go pattern
// of a thin service wrapping reads/writes with an in-process snapshot, here
// adapted to the graph.Store's node/version model instead of a flat file.
package config

import (
	"context"
	"fmt"

	"github.com/CIRISAI/CIRISAgent/internal/ciriserr"
	"github.com/CIRISAI/CIRISAgent/internal/clockid"
	"github.com/CIRISAI/CIRISAgent/internal/graph"
)

const configNodeIDPrefix = "config"

// ConfigService owns the one live Config for an occurrence: it loads any
// persisted overrides over Default() at startup and durably records every
// subsequent override as a new graph.Node version, so a restart resumes
// from the last applied override rather than silently reverting to
// Default().
type ConfigService struct {
	store        graph.Store
	ids          *clockid.IDGenerator
	occurrenceID string
}

// NewConfigService builds a ConfigService scoped to occurrenceID.
func NewConfigService(store graph.Store, ids *clockid.IDGenerator, occurrenceID string) *ConfigService {
	return &ConfigService{store: store, ids: ids, occurrenceID: occurrenceID}
}

// nodeID is fixed per occurrence: there is exactly one live config node, and
// Put's optimistic-version check is what guards it against the
// lost-update race between two concurrent Override calls (spec §5).
func (s *ConfigService) nodeID() string {
	return configNodeIDPrefix + "-" + s.occurrenceID
}

// Load returns the effective Config: Default() with any persisted
// overrides from a prior Override call applied on top. A fresh occurrence
// with no config node yet simply gets Default().
func (s *ConfigService) Load(ctx context.Context) (*Config, error) {
	cfg := Default()

	node, err := s.store.Get(ctx, s.occurrenceID, s.nodeID())
	if err != nil {
		if err == graph.ErrNotFound {
			return cfg, nil
		}
		return nil, ciriserr.New(ciriserr.KindConfiguration, "config.Load", err)
	}
	if err := applyOverrides(cfg, node.Attributes); err != nil {
		return nil, ciriserr.New(ciriserr.KindConfiguration, "config.Load", err)
	}
	return cfg, nil
}

// Override persists a partial set of field overrides (keyed by the Config
// field name, e.g. "MaxActiveTasks") on top of whatever is currently
// stored, then returns the resulting effective Config. Unrecognized keys
// are rejected rather than silently ignored, since a typo'd override name
// should fail loudly at the point it's set, not be discovered later as a
// config value that never took effect.
func (s *ConfigService) Override(ctx context.Context, overrides map[string]any) (*Config, error) {
	if err := validateOverrideKeys(overrides); err != nil {
		return nil, ciriserr.New(ciriserr.KindValidation, "config.Override", err)
	}

	node, err := s.store.Get(ctx, s.occurrenceID, s.nodeID())
	merged := map[string]any{}
	version := int64(0)
	switch {
	case err == nil:
		for k, v := range node.Attributes {
			merged[k] = v
		}
		version = node.Version
	case err == graph.ErrNotFound:
		// first override for this occurrence; node created with Version 0
	default:
		return nil, ciriserr.New(ciriserr.KindConfiguration, "config.Override", err)
	}
	for k, v := range overrides {
		merged[k] = v
	}

	cfg := Default()
	if err := applyOverrides(cfg, merged); err != nil {
		return nil, ciriserr.New(ciriserr.KindConfiguration, "config.Override", err)
	}

	put := &graph.Node{
		ID:           s.nodeID(),
		NodeType:     graph.NodeTypeConfig,
		Scope:        graph.ScopeEnvironment,
		Attributes:   merged,
		Version:      version,
		OccurrenceID: s.occurrenceID,
	}
	if _, err := s.store.Put(ctx, put); err != nil {
		return nil, ciriserr.New(ciriserr.KindConfiguration, "config.Override", err)
	}
	return cfg, nil
}

func validateOverrideKeys(overrides map[string]any) error {
	for k := range overrides {
		if _, ok := configFieldSetters[k]; !ok {
			return fmt.Errorf("config: unrecognized override field %q", k)
		}
	}
	return nil
}

func applyOverrides(cfg *Config, attrs map[string]any) error {
	for k, v := range attrs {
		setter, ok := configFieldSetters[k]
		if !ok {
			continue // field removed in a later version of the schema
		}
		if err := setter(cfg, v); err != nil {
			return fmt.Errorf("config: field %q: %w", k, err)
		}
	}
	return nil
}
