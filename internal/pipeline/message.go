// Package pipeline applies the ordered inbound safety stages (Shield,
// Sanitizer, Anti-Spam, Dispatcher) to every message the session delivers,
// plus the first-contact greeter that runs beside the pipeline.
package pipeline

import (
	"context"
	"time"

	"github.com/danmuck/courierd/internal/protocol"
	"github.com/danmuck/courierd/internal/ratelimit"
)

// SanitizedMessage is an inbound message that passed Shield, carrying the
// cleaned payload and the names of any fields the Sanitizer stripped.
type SanitizedMessage struct {
	protocol.InboundMessage
	Body          string
	RemovedFields []string
}

// Result is what a business-logic handler produces for one message. A
// non-empty Reply is sent back to the conversation by the Dispatcher.
type Result struct {
	Reply string
}

// Handler is one business-logic callable. Handler failures are contained by
// the Dispatcher; they never reach the session controller.
type Handler interface {
	Name() string
	Handle(ctx context.Context, msg SanitizedMessage) (Result, error)
}

// Registry is the read-only lookup of loaded handlers.
type Registry interface {
	Handlers() []Handler
}

// Sender delivers an outbound message to a conversation. The session
// controller provides an implementation bound to the currently open session.
type Sender interface {
	Send(ctx context.Context, conversationID string, content string) error
}

// Limiter is the flood-counter collaborator consulted by the Anti-Spam stage.
type Limiter interface {
	Record(remoteID string, at time.Time) ratelimit.Decision
}
