package bus

import (
	"context"

	"github.com/maieulabs/maieutic-backend/internal/realtime"
)

// Bus decouples publishers (the worker, the services) from the hub that holds
// client connections, so delivery works the same with one API process or many.
type Bus interface {
	Publish(ctx context.Context, msg realtime.SSEMessage) error
	StartForwarder(ctx context.Context, onMsg func(m realtime.SSEMessage)) error
	Close() error
}
