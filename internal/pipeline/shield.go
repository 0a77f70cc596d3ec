package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/courierd/internal/protocol"
)

var (
	ErrShieldMissingRemote   = errors.New("pipeline: missing conversation identifier")
	ErrShieldMissingID       = errors.New("pipeline: missing message id")
	ErrShieldEmptyPayload    = errors.New("pipeline: empty payload")
	ErrShieldPayloadTooLarge = errors.New("pipeline: payload too large")
	ErrShieldBinaryPayload   = errors.New("pipeline: binary payload")
)

// DefaultMaxPayloadBytes caps one inbound payload. Oversized envelopes are a
// known crash vector for naive clients and are dropped outright.
const DefaultMaxPayloadBytes = 64 * 1024

// Shield performs structural validation on raw inbound messages. It only
// decides pass or block; it never transforms content and never replies, so a
// probing sender learns nothing from a blocked message.
type Shield struct {
	maxPayload int
}

func NewShield(maxPayload int) Shield {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayloadBytes
	}
	return Shield{maxPayload: maxPayload}
}

// Check returns nil for a structurally sound message and a sentinel reason
// otherwise.
func (s Shield) Check(msg protocol.InboundMessage) error {
	if strings.TrimSpace(msg.RemoteID) == "" {
		return ErrShieldMissingRemote
	}
	if strings.TrimSpace(msg.ID) == "" {
		return ErrShieldMissingID
	}
	if len(bytes.TrimSpace(msg.RawPayload)) == 0 {
		return ErrShieldEmptyPayload
	}
	if len(msg.RawPayload) > s.maxPayload {
		return fmt.Errorf("%w: %d bytes", ErrShieldPayloadTooLarge, len(msg.RawPayload))
	}
	if bytes.IndexByte(msg.RawPayload, 0x00) >= 0 {
		return ErrShieldBinaryPayload
	}
	return nil
}
