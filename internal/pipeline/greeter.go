package pipeline

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/courierd/internal/observability"
	"github.com/danmuck/courierd/internal/protocol"
	"github.com/danmuck/courierd/internal/store"
)

// DefaultInviteText greets a conversation the first time it is seen.
const DefaultInviteText = "Hello! This number is handled by an automated assistant."

// Greeter is the first-contact side channel: a second subscriber to the
// inbound stream, not a pipeline stage. For a direct conversation not yet in
// the ledger it records the contact, persists the ledger, then sends one
// invitation. The persist-before-send order makes replays after a durable
// write idempotent; a crash between persist and send loses at most the one
// invite.
type Greeter struct {
	ledger *store.Ledger
	sender Sender
	invite string
}

func NewGreeter(ledger *store.Ledger, sender Sender, invite string) *Greeter {
	if invite == "" {
		invite = DefaultInviteText
	}
	return &Greeter{ledger: ledger, sender: sender, invite: invite}
}

// Observe inspects one inbound message and greets unseen direct contacts.
func (g *Greeter) Observe(ctx context.Context, msg protocol.InboundMessage) {
	if msg.IsGroup || msg.IsBroadcastStatus {
		return
	}
	added, err := g.ledger.Upsert(msg.RemoteID, msg.TimestampReceived)
	if err != nil {
		log.Warn().Str("remote_id", msg.RemoteID).Err(err).Msg("pipeline.Greeter ledger write failed")
		return
	}
	if !added {
		return
	}
	observability.RecordInviteSent()
	if err := g.sender.Send(ctx, msg.RemoteID, g.invite); err != nil {
		log.Warn().Str("remote_id", msg.RemoteID).Err(err).Msg("pipeline.Greeter invite send failed")
		return
	}
	log.Info().Str("remote_id", msg.RemoteID).Msg("pipeline.Greeter first contact recorded")
}
