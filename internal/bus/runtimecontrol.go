package bus

import (
	"context"
	"time"

	"github.com/CIRISAI/CIRISAgent/internal/registry"
)

// RuntimeControlProvider is the registry-facing contract the running agent
// itself registers under (spec §4.4 runtime_control: pause/resume/shutdown
// signaling to and from the processor loop), grounded on the teacher's
// core/autonomous/autonomous_controller.go start/stop/pause control surface.
type RuntimeControlProvider interface {
	registry.Provider
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	RequestShutdown(ctx context.Context, reason string) error
}

// RuntimeControlBus fronts process-control signals (spec §4.4, §4.10). It
// always targets the single registered runtime (StrategyFirst), since a
// deployment runs exactly one processor loop per occurrence.
type RuntimeControlBus struct {
	registry *registry.Registry
	timeout  time.Duration
}

func NewRuntimeControlBus(r *registry.Registry, timeout time.Duration) *RuntimeControlBus {
	return &RuntimeControlBus{registry: r, timeout: timeout}
}

func (b *RuntimeControlBus) Pause(ctx context.Context) error {
	_, err := call(ctx, b.registry, registry.KindRuntimeControl, "", registry.StrategyFirst, b.timeout,
		func(cctx context.Context, p registry.Provider) (struct{}, error) {
			return struct{}{}, p.(RuntimeControlProvider).Pause(cctx)
		})
	return err
}

func (b *RuntimeControlBus) Resume(ctx context.Context) error {
	_, err := call(ctx, b.registry, registry.KindRuntimeControl, "", registry.StrategyFirst, b.timeout,
		func(cctx context.Context, p registry.Provider) (struct{}, error) {
			return struct{}{}, p.(RuntimeControlProvider).Resume(cctx)
		})
	return err
}

func (b *RuntimeControlBus) RequestShutdown(ctx context.Context, reason string) error {
	_, err := call(ctx, b.registry, registry.KindRuntimeControl, "", registry.StrategyFirst, b.timeout,
		func(cctx context.Context, p registry.Provider) (struct{}, error) {
			return struct{}{}, p.(RuntimeControlProvider).RequestShutdown(cctx, reason)
		})
	return err
}
