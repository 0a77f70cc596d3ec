package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/courierd/internal/observability"
)

// DefaultSpamWarning is sent once to a conversation that crosses the flood
// threshold.
const DefaultSpamWarning = "You are sending messages too quickly. Please slow down."

// AntiSpam is the rate/flood stage. It is the only stage permitted to send a
// message as a direct side effect of rejecting one.
type AntiSpam struct {
	limiter Limiter
	sender  Sender
	warning string
	now     func() time.Time
}

func NewAntiSpam(limiter Limiter, sender Sender, warning string) *AntiSpam {
	if warning == "" {
		warning = DefaultSpamWarning
	}
	return &AntiSpam{
		limiter: limiter,
		sender:  sender,
		warning: warning,
		now:     time.Now,
	}
}

// Check records the message against its conversation's window and reports
// whether the pipeline may continue. The first over-threshold message in a
// window triggers exactly one warning reply; later ones drop silently.
func (a *AntiSpam) Check(ctx context.Context, msg SanitizedMessage) bool {
	decision := a.limiter.Record(msg.RemoteID, a.now())
	if decision.Allowed {
		return true
	}
	if decision.FirstViolation {
		observability.RecordSpamWarning()
		if err := a.sender.Send(ctx, msg.RemoteID, a.warning); err != nil {
			log.Warn().Str("remote_id", msg.RemoteID).Err(err).Msg("pipeline.AntiSpam warning send failed")
		}
	}
	log.Debug().Str("remote_id", msg.RemoteID).Str("message_id", msg.ID).Msg("pipeline.AntiSpam dropped")
	return false
}
