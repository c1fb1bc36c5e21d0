package bus

import (
	"context"
	"sync"

	"github.com/yungbote/guildsense-backend/internal/realtime"
)

type Bus interface {
	Publish(ctx context.Context, msg realtime.Event) error
	StartForwarder(ctx context.Context, onMsg func(m realtime.Event)) error
	Close() error
}

// MemoryBus delivers events in-process. It backs single-node
// deployments and tests; multi-node setups use the redis bus.
type MemoryBus struct {
	mu        sync.RWMutex
	listeners []func(m realtime.Event)
	events    []realtime.Event
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{}
}

func (b *MemoryBus) Publish(_ context.Context, msg realtime.Event) error {
	b.mu.Lock()
	b.events = append(b.events, msg)
	listeners := append([]func(m realtime.Event){}, b.listeners...)
	b.mu.Unlock()
	for _, fn := range listeners {
		fn(msg)
	}
	return nil
}

func (b *MemoryBus) StartForwarder(_ context.Context, onMsg func(m realtime.Event)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, onMsg)
	return nil
}

func (b *MemoryBus) Close() error { return nil }

// Events returns a copy of everything published so far.
func (b *MemoryBus) Events() []realtime.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]realtime.Event{}, b.events...)
}
