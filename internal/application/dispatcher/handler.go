package dispatcher

import (
	"context"

	"github.com/garyjia/expense-workflow/internal/domain/event"
)

// Handler processes domain events
type Handler func(ctx context.Context, evt *event.Event) error

// HandlerInfo describes a registered handler
type HandlerInfo struct {
	Name        string
	EventType   event.Type
	Handler     Handler
	Description string
}

// Observer is told about every handler run, e.g. to count failures
type Observer func(eventType event.Type, handlerName string, err error)
