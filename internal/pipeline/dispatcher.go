package pipeline

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/courierd/internal/observability"
)

// Dispatcher hands a fully vetted message to every loaded handler. One
// message is self-contained: a handler error or panic is logged and counted,
// never propagated.
type Dispatcher struct {
	registry Registry
	sender   Sender
}

func NewDispatcher(registry Registry, sender Sender) *Dispatcher {
	return &Dispatcher{registry: registry, sender: sender}
}

// Dispatch routes msg to the registry. Broadcast/status conversations are
// dropped here; no handler should act on ephemeral status updates.
func (d *Dispatcher) Dispatch(ctx context.Context, msg SanitizedMessage) {
	if msg.IsBroadcastStatus {
		log.Debug().Str("remote_id", msg.RemoteID).Str("message_id", msg.ID).Msg("pipeline.Dispatcher broadcast status dropped")
		return
	}
	for _, handler := range d.registry.Handlers() {
		d.invoke(ctx, handler, msg)
	}
}

func (d *Dispatcher) invoke(ctx context.Context, handler Handler, msg SanitizedMessage) {
	defer func() {
		if r := recover(); r != nil {
			observability.RecordPluginFailure(handler.Name())
			log.Error().
				Str("handler", handler.Name()).
				Str("message_id", msg.ID).
				Any("panic", r).
				Msg("pipeline.Dispatcher handler panic")
		}
	}()

	result, err := handler.Handle(ctx, msg)
	if err != nil {
		observability.RecordPluginFailure(handler.Name())
		log.Warn().
			Str("handler", handler.Name()).
			Str("message_id", msg.ID).
			Err(err).
			Msg("pipeline.Dispatcher handler failed")
		return
	}
	if result.Reply == "" {
		return
	}
	if err := d.sender.Send(ctx, msg.RemoteID, result.Reply); err != nil {
		log.Warn().
			Str("handler", handler.Name()).
			Str("remote_id", msg.RemoteID).
			Err(err).
			Msg("pipeline.Dispatcher reply send failed")
	}
}
