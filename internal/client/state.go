// Package client owns the session lifecycle: connect, authenticate via the
// out-of-band pairing flow, maintain, and recover with bounded backoff.
package client

import (
	"github.com/google/uuid"

	"github.com/danmuck/courierd/internal/protocol"
)

// ConnectionState is the session controller's state machine position.
type ConnectionState int

const (
	StateIdle ConnectionState = iota
	StateConnecting
	StateAwaitingPairing
	StateOpen
	StateClosedRecoverable
	StateClosedTerminal
)

func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAwaitingPairing:
		return "awaiting_pairing"
	case StateOpen:
		return "open"
	case StateClosedRecoverable:
		return "closed_recoverable"
	case StateClosedTerminal:
		return "closed_terminal"
	default:
		return "unknown"
	}
}

// Session is one logical connection attempt. A Session is never reused: a
// reconnect decision supersedes it with a fresh one, and the attempt counter
// starts over.
type Session struct {
	ID            string
	State         ConnectionState
	Handle        protocol.SessionHandle
	Attempt       int
	Authenticated bool
}

func newSession(attempt int) *Session {
	return &Session{
		ID:      uuid.NewString(),
		State:   StateConnecting,
		Attempt: attempt,
	}
}
