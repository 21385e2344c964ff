package bus

import (
	"context"
	"time"

	"github.com/CIRISAI/CIRISAgent/internal/registry"
)

// GenerateOptions mirrors the teacher's core/llm GenerateOptions: the small
// set of knobs every model call needs regardless of backend.
type GenerateOptions struct {
	MaxTokens   int
	Temperature float64
	System      string
}

// LanguageModelProvider is the registry-facing contract grounded on the
// teacher's core/llm.Provider interface (Generate/Name/Available/MaxTokens),
// generalized to carry a context and satisfy registry.Provider directly
// instead of a separate Available() bool check.
type LanguageModelProvider interface {
	registry.Provider
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
	MaxTokens() int
}

// LanguageModelBus fronts the DMAs' and ASPDMA's underlying model calls
// (spec §4.4), grounded on the teacher's core/llm/multi_provider.go
// MultiProviderLLM.Generate: try the highest-priority healthy provider,
// fall back via the registry's breaker bookkeeping rather than a manual
// lastErr loop over a fixed slice.
type LanguageModelBus struct {
	registry *registry.Registry
	timeout  time.Duration
}

func NewLanguageModelBus(r *registry.Registry, timeout time.Duration) *LanguageModelBus {
	return &LanguageModelBus{registry: r, timeout: timeout}
}

func (b *LanguageModelBus) Generate(ctx context.Context, capability, prompt string, opts GenerateOptions) (string, error) {
	return call(ctx, b.registry, registry.KindLanguageModel, capability, registry.StrategyFirst, b.timeout,
		func(cctx context.Context, p registry.Provider) (string, error) {
			return p.(LanguageModelProvider).Generate(cctx, prompt, opts)
		})
}
