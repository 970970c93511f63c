package dispatcher

import (
	"context"

	"github.com/danyuan/approvalflow/internal/domain/event"
)

// Handler processes a domain event
type Handler func(ctx context.Context, evt *event.Event) error

// HandlerInfo pairs a handler with its registration metadata
type HandlerInfo struct {
	Name      string
	EventType event.Type
	Handler   Handler
}
