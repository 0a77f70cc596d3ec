package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/courierd/internal/observability"
	"github.com/danmuck/courierd/internal/protocol"
	"github.com/danmuck/courierd/internal/store"
)

var (
	ErrLoggedOut      = errors.New("client: logged out by server, re-pairing required")
	ErrConnectionLost = errors.New("client: connection lost")
	ErrNoOpenSession  = errors.New("client: no open session")
)

// ControllerConfig tunes the session lifecycle.
type ControllerConfig struct {
	Version        string
	PairingEnabled bool
	Backoff        BackoffConfig
}

// MessageSink consumes one inbound message. The controller fans each message
// out to every sink in order, on the event-delivery goroutine.
type MessageSink func(ctx context.Context, msg protocol.InboundMessage)

// Controller owns the connection state machine. It holds the single active
// session handle; all transitions are serialized by the supervisor loop, so
// at most one session is ever open.
type Controller struct {
	cfg    ControllerConfig
	client protocol.Client
	creds  *store.CredentialStore
	prompt PairingPrompt
	sinks  []MessageSink

	mu      sync.RWMutex
	current *Session
}

func NewController(cfg ControllerConfig, client protocol.Client, creds *store.CredentialStore, prompt PairingPrompt, sinks ...MessageSink) *Controller {
	if cfg.Backoff.InitialDelay <= 0 {
		cfg.Backoff = DefaultBackoffConfig()
	}
	return &Controller{
		cfg:    cfg,
		client: client,
		creds:  creds,
		prompt: prompt,
		sinks:  sinks,
	}
}

// AddSink registers another message consumer. Must be called before Run.
func (c *Controller) AddSink(sink MessageSink) {
	c.sinks = append(c.sinks, sink)
}

// Run supervises sessions until ctx is canceled or a terminal logout is
// observed. Recoverable failures re-enter with a fresh session after a
// bounded exponential backoff; the attempt counter restarts once a session
// reaches open.
func (c *Controller) Run(ctx context.Context) error {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		sess := newSession(attempt + 1)
		opened, err := c.runSession(ctx, sess)
		c.clearSessionIf(sess)
		if ctx.Err() != nil {
			log.Info().Msg("client.Controller shutdown")
			return nil
		}
		if errors.Is(err, ErrLoggedOut) {
			log.Error().Str("session_id", sess.ID).Err(err).Msg("client.Controller terminal close, not reconnecting")
			return err
		}
		if opened {
			attempt = 0
		}
		attempt++
		observability.RecordReconnect()
		log.Warn().
			Str("session_id", sess.ID).
			Int("attempt", attempt).
			Err(err).
			Msg("client.Controller session ended, scheduling reconnect")
		if err := c.waitReconnectBackoff(ctx, attempt); err != nil {
			return nil
		}
	}
}

// runSession drives one session from connect to close. It reports whether
// the session reached open.
func (c *Controller) runSession(ctx context.Context, sess *Session) (bool, error) {
	bundle := c.creds.Load()
	handle, err := c.client.Connect(ctx, bundle, c.cfg.Version)
	if err != nil {
		return false, err
	}
	sess.Handle = handle
	defer func() { _ = handle.Close() }()

	// Once the bundle is registered the pairing flow must never run again.
	if !bundle.Registered && c.cfg.PairingEnabled && c.prompt != nil {
		c.setState(sess, StateAwaitingPairing)
		c.runPairing(ctx, handle)
	}

	closeCh := make(chan protocol.ConnectionUpdate, 1)
	var closeOnce sync.Once
	handlers := protocol.Handlers{
		OnMessage: func(msg protocol.InboundMessage) {
			for _, sink := range c.sinks {
				sink(ctx, msg)
			}
		},
		OnPresence: func(p protocol.PresenceUpdate) {
			log.Debug().Str("remote_id", p.RemoteID).Str("status", p.Status).Msg("client.Controller presence")
		},
		OnConnectionUpdate: func(upd protocol.ConnectionUpdate) {
			if upd.State != protocol.ConnStateClosed {
				return
			}
			// Latch: one reconnect decision per session, no matter how many
			// close events a failure cascade produces.
			closeOnce.Do(func() { closeCh <- upd })
		},
		OnCredentials: func(updated protocol.CredentialBundle) {
			if err := c.creds.Save(updated); err != nil {
				log.Warn().Err(err).Msg("client.Controller credential persist failed")
			}
		},
	}
	// Publish before Subscribe: the transport may have buffered events during
	// the handshake and delivers them as soon as Subscribe returns, and sinks
	// must be able to Send through the session from the very first message.
	c.publish(sess)
	if err := handle.Subscribe(handlers); err != nil {
		return false, err
	}
	log.Info().Str("session_id", sess.ID).Int("attempt", sess.Attempt).Msg("client.Controller session open")

	select {
	case <-ctx.Done():
		return true, nil
	case upd := <-closeCh:
		if upd.CloseReason.Terminal() {
			c.setState(sess, StateClosedTerminal)
			return true, fmt.Errorf("%w: reason=%s", ErrLoggedOut, upd.CloseReason)
		}
		c.setState(sess, StateClosedRecoverable)
		return true, fmt.Errorf("%w: reason=%s", ErrConnectionLost, upd.CloseReason)
	}
}

// runPairing is best-effort: the underlying connection may still complete
// via a previously linked device, so failures log and continue.
func (c *Controller) runPairing(ctx context.Context, handle protocol.SessionHandle) {
	raw, err := c.prompt.Identifier(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("client.Controller pairing prompt failed")
		return
	}
	normalized, err := NormalizeIdentifier(raw)
	if err != nil {
		log.Warn().Err(err).Msg("client.Controller pairing identifier invalid")
		return
	}
	code, err := handle.RequestPairingCode(ctx, normalized)
	if err != nil {
		log.Warn().Err(err).Msg("client.Controller pairing code request failed")
		return
	}
	log.Info().Str("code", code).Msg("client.Controller enter this pairing code on your primary device")
}

// Send delivers content through the currently open session. It implements
// the pipeline's Sender contract.
func (c *Controller) Send(ctx context.Context, conversationID string, content string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil || c.current.State != StateOpen || c.current.Handle == nil {
		return ErrNoOpenSession
	}
	return c.current.Handle.Send(ctx, conversationID, content)
}

// State reports the current session state, StateIdle when none is active.
func (c *Controller) State() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return StateIdle
	}
	return c.current.State
}

func (c *Controller) IsConnected() bool {
	return c.State() == StateOpen
}

func (c *Controller) publish(sess *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil && c.current != sess {
		if c.current.Handle != nil {
			_ = c.current.Handle.Close()
		}
		c.current.State = StateClosedRecoverable
	}
	sess.State = StateOpen
	sess.Authenticated = true
	c.current = sess
}

func (c *Controller) setState(sess *Session, state ConnectionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess.State = state
}

func (c *Controller) clearSessionIf(target *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != target {
		return
	}
	if c.current.Handle != nil {
		_ = c.current.Handle.Close()
	}
	c.current = nil
}

// waitReconnectBackoff sleeps the bounded exponential delay for attempt N,
// deterministic (no jitter) so reconnect spacing is predictable.
func (c *Controller) waitReconnectBackoff(ctx context.Context, attempt int) error {
	backoffCfg := c.cfg.Backoff
	backoffCfg.Jitter = false
	delay := backoffCfg.NextDelay(attempt, nil)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
