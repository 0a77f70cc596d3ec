package pipeline

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/courierd/internal/observability"
	"github.com/danmuck/courierd/internal/protocol"
)

const (
	stageShield     = "shield"
	stageSanitizer  = "sanitizer"
	stageAntiSpam   = "antispam"
	stageDispatcher = "dispatcher"

	outcomePass    = "pass"
	outcomeBlocked = "blocked"
	outcomeDropped = "dropped"
)

// Config tunes the stage parameters.
type Config struct {
	MaxPayloadBytes int
	MaxBodyRunes    int
	SpamWarning     string
}

// Pipeline runs the four stages strictly in order; a reject at any stage
// short-circuits the remainder (fail-closed).
type Pipeline struct {
	shield     Shield
	sanitizer  Sanitizer
	antispam   *AntiSpam
	dispatcher *Dispatcher
}

func New(cfg Config, limiter Limiter, registry Registry, sender Sender) *Pipeline {
	return &Pipeline{
		shield:     NewShield(cfg.MaxPayloadBytes),
		sanitizer:  NewSanitizer(cfg.MaxBodyRunes),
		antispam:   NewAntiSpam(limiter, sender, cfg.SpamWarning),
		dispatcher: NewDispatcher(registry, sender),
	}
}

// Process pushes one inbound message through the stages. Nothing escapes to
// the caller: every failure is contained and logged here.
func (p *Pipeline) Process(ctx context.Context, msg protocol.InboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("message_id", msg.ID).Any("panic", r).Msg("pipeline.Process contained panic")
		}
	}()

	if err := p.shield.Check(msg); err != nil {
		observability.RecordPipelineMessage(stageShield, outcomeBlocked)
		log.Warn().
			Str("remote_id", msg.RemoteID).
			Str("message_id", msg.ID).
			Err(err).
			Msg("pipeline.Shield blocked")
		return
	}
	observability.RecordPipelineMessage(stageShield, outcomePass)

	sanitized := p.sanitizer.Sanitize(msg)
	observability.RecordPipelineMessage(stageSanitizer, outcomePass)

	if !p.antispam.Check(ctx, sanitized) {
		observability.RecordPipelineMessage(stageAntiSpam, outcomeDropped)
		return
	}
	observability.RecordPipelineMessage(stageAntiSpam, outcomePass)

	p.dispatcher.Dispatch(ctx, sanitized)
	observability.RecordPipelineMessage(stageDispatcher, outcomePass)
}
