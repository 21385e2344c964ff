package bus

import (
	"context"
	"time"

	"github.com/CIRISAI/CIRISAgent/internal/registry"
)

// ToolResult is the outcome of one TOOL invocation (spec §4.7).
type ToolResult struct {
	Output   map[string]any
	ExitCode int
}

// ToolProvider is the registry-facing contract an executable capability
// implements (shell commands, HTTP calls to external APIs, and so on).
type ToolProvider interface {
	registry.Provider
	Capabilities() []string
	Invoke(ctx context.Context, name string, args map[string]any) (ToolResult, error)
}

// ToolBus fronts the TOOL verb (spec §4.4, §4.7).
type ToolBus struct {
	registry *registry.Registry
	timeout  time.Duration
}

func NewToolBus(r *registry.Registry, timeout time.Duration) *ToolBus {
	return &ToolBus{registry: r, timeout: timeout}
}

func (b *ToolBus) Invoke(ctx context.Context, name string, args map[string]any) (ToolResult, error) {
	return call(ctx, b.registry, registry.KindTool, name, registry.StrategyFirst, b.timeout,
		func(cctx context.Context, p registry.Provider) (ToolResult, error) {
			return p.(ToolProvider).Invoke(cctx, name, args)
		})
}
