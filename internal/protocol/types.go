package protocol

import "time"

// ConnState is the coarse connection state reported by the transport.
type ConnState string

const (
	ConnStateOpen   ConnState = "open"
	ConnStateClosed ConnState = "closed"
)

// CloseReason classifies why a session ended.
type CloseReason string

const (
	CloseReasonNone           CloseReason = ""
	CloseReasonLoggedOut      CloseReason = "logged_out"
	CloseReasonConnectionLost CloseReason = "connection_lost"
	CloseReasonServerShutdown CloseReason = "server_shutdown"
)

// Terminal reports whether a close reason rules out automatic reconnection.
func (r CloseReason) Terminal() bool {
	return r == CloseReasonLoggedOut
}

// InboundMessage is one message delivered by the messaging network.
// Values are immutable once delivered; pipeline stages never mutate them.
type InboundMessage struct {
	ID                string    `json:"id"`
	RemoteID          string    `json:"remote_id"`
	IsGroup           bool      `json:"is_group"`
	IsBroadcastStatus bool      `json:"is_broadcast_status"`
	RawPayload        []byte    `json:"raw_payload"`
	TimestampReceived time.Time `json:"timestamp_received"`
}

// PresenceUpdate is a lightweight presence notification for one conversation.
type PresenceUpdate struct {
	RemoteID string    `json:"remote_id"`
	Status   string    `json:"status"`
	At       time.Time `json:"at"`
}

// ConnectionUpdate reports a transport state change.
type ConnectionUpdate struct {
	State       ConnState   `json:"state"`
	CloseReason CloseReason `json:"close_reason,omitempty"`
}

// CredentialBundle is the opaque authentication material needed to resume a
// connection without re-pairing. The blob is owned by the messaging network's
// protocol layer; courier only stores and forwards it.
type CredentialBundle struct {
	Blob       []byte `json:"blob"`
	Registered bool   `json:"registered"`
}

// Clone returns an independent copy of the bundle.
func (b CredentialBundle) Clone() CredentialBundle {
	out := CredentialBundle{Registered: b.Registered}
	if len(b.Blob) > 0 {
		out.Blob = make([]byte, len(b.Blob))
		copy(out.Blob, b.Blob)
	}
	return out
}
