package bus

import (
	"context"
	"time"

	"github.com/CIRISAI/CIRISAgent/internal/registry"
)

// OutgoingMessage is what SPEAK sends to a channel (spec §4.7).
type OutgoingMessage struct {
	ChannelRef string
	Content    string
}

// CommunicationProvider is the registry-facing contract a channel adapter
// implements (a chat platform, email, a CLI terminal).
type CommunicationProvider interface {
	registry.Provider
	ChannelRefs() []string
	Send(ctx context.Context, msg OutgoingMessage) error
}

// CommunicationBus fronts the SPEAK verb (spec §4.4, §4.7).
type CommunicationBus struct {
	registry *registry.Registry
	timeout  time.Duration
}

func NewCommunicationBus(r *registry.Registry, timeout time.Duration) *CommunicationBus {
	return &CommunicationBus{registry: r, timeout: timeout}
}

// Send routes to a provider registered with msg.ChannelRef as a capability
// when there is one, and otherwise to any communication provider.
func (b *CommunicationBus) Send(ctx context.Context, msg OutgoingMessage) error {
	capability := msg.ChannelRef
	if _, err := b.registry.Get(ctx, registry.KindCommunication, capability, registry.StrategyFirst); err != nil {
		capability = ""
	}
	_, err := call(ctx, b.registry, registry.KindCommunication, capability, registry.StrategyFirst, b.timeout,
		func(cctx context.Context, p registry.Provider) (struct{}, error) {
			return struct{}{}, p.(CommunicationProvider).Send(cctx, msg)
		})
	return err
}
