package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/maieulabs/maieutic-backend/internal/realtime"
)

// localBus is the single-process Bus: Publish hands the message straight to
// the registered forwarder. Used when REDIS_ADDR is not set.
type localBus struct {
	mu    sync.RWMutex
	onMsg func(m realtime.SSEMessage)
}

func NewLocalBus() Bus {
	return &localBus{}
}

func (b *localBus) Publish(ctx context.Context, msg realtime.SSEMessage) error {
	b.mu.RLock()
	onMsg := b.onMsg
	b.mu.RUnlock()
	if onMsg == nil {
		return nil
	}
	onMsg(msg)
	return nil
}

func (b *localBus) StartForwarder(ctx context.Context, onMsg func(m realtime.SSEMessage)) error {
	if onMsg == nil {
		return fmt.Errorf("onMsg callback required")
	}
	b.mu.Lock()
	b.onMsg = onMsg
	b.mu.Unlock()
	return nil
}

func (b *localBus) Close() error {
	b.mu.Lock()
	b.onMsg = nil
	b.mu.Unlock()
	return nil
}
