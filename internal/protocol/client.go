package protocol

import "context"

// Handlers receives events from an open session. The transport delivers
// callbacks sequentially, one event at a time; a nil handler drops its events.
type Handlers struct {
	OnMessage          func(InboundMessage)
	OnPresence         func(PresenceUpdate)
	OnConnectionUpdate func(ConnectionUpdate)
	OnCredentials      func(CredentialBundle)
}

// Client establishes sessions against the messaging network.
type Client interface {
	Connect(ctx context.Context, creds CredentialBundle, version string) (SessionHandle, error)
}

// SessionHandle is one live connection. Subscribe starts event delivery and
// may be called at most once; Close releases the connection.
type SessionHandle interface {
	Subscribe(h Handlers) error
	RequestPairingCode(ctx context.Context, identifier string) (string, error)
	Send(ctx context.Context, conversationID string, content string) error
	Close() error
}
