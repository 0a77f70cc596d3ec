package wire

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/courierd/internal/protocol"
)

var ErrAddressRequired = errors.New("wire: address required")

// Config defines transport reliability defaults for the courier wire client.
type Config struct {
	Address          string
	TLS              TLSConfig
	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PairingTimeout   time.Duration
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout:   5 * time.Second,
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     15 * time.Second,
		PairingTimeout:   30 * time.Second,
	}
}

// WithDefaults fills unset duration fields.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.PairingTimeout <= 0 {
		c.PairingTimeout = def.PairingTimeout
	}
	return c
}

// Client dials the messaging backend and performs the hello handshake.
type Client struct {
	cfg Config
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, ErrAddressRequired
	}
	if err := cfg.TLS.Validate(); err != nil {
		return nil, err
	}
	return &Client{cfg: cfg.WithDefaults()}, nil
}

// Connect dials, handshakes, and returns a live session handle. The server's
// hello ack reports whether the credential bundle is registered.
func (c *Client) Connect(ctx context.Context, creds protocol.CredentialBundle, version string) (protocol.SessionHandle, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}

	_ = conn.SetDeadline(time.Now().Add(c.cfg.HandshakeTimeout))
	reader := bufio.NewReader(conn)
	if err := WriteHello(conn, Hello{Version: version, Credentials: creds}); err != nil {
		_ = conn.Close()
		return nil, err
	}
	ack, err := ReadHelloAck(reader)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if ack.Status != AckStatusAccepted {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: code=%d message=%q", protocol.ErrConnectRejected, ack.Code, ack.Message)
	}
	_ = conn.SetDeadline(time.Time{})

	s := &Session{
		conn:   conn,
		reader: reader,
		cfg:    c.cfg,
		queue:  make(chan envelope, 256),
		pairCh: make(chan PairCode, 1),
	}
	if ack.Registered && !creds.Registered {
		// The server recognizes the bundle (pairing completed on an earlier
		// session); surface that as a credential update so the caller persists
		// the registered flag and skips pairing on the next connect.
		confirmed := creds.Clone()
		confirmed.Registered = true
		s.queue <- envelope{Type: envTypeCredentials, Credentials: &confirmed}
	}
	go s.readLoop()
	return s, nil
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Timeout: c.cfg.ConnectTimeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", c.cfg.Address)
	if err != nil {
		return nil, err
	}
	if !c.cfg.TLS.Enabled {
		return rawConn, nil
	}

	tlsCfg, err := c.cfg.TLS.clientConfig(c.cfg.Address)
	if err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	conn := tls.Client(rawConn, tlsCfg)
	handshakeCtx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	defer cancel()
	if err := conn.HandshakeContext(handshakeCtx); err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	return conn, nil
}

// Session is one live wire connection. The read loop delivers server
// envelopes into a queue; Subscribe drains the queue sequentially, so event
// handlers never overlap.
type Session struct {
	conn   net.Conn
	reader *bufio.Reader
	cfg    Config

	writeMu sync.Mutex
	queue   chan envelope
	pairCh  chan PairCode

	subscribed atomic.Bool
	closeSent  atomic.Bool
	userClosed atomic.Bool
}

// Subscribe starts event delivery. It may be called at most once.
func (s *Session) Subscribe(h protocol.Handlers) error {
	if s.subscribed.Swap(true) {
		return protocol.ErrAlreadySubscribed
	}
	go func() {
		for env := range s.queue {
			dispatchEnvelope(h, env)
		}
	}()
	return nil
}

func dispatchEnvelope(h protocol.Handlers, env envelope) {
	switch env.Type {
	case envTypeMessage:
		if h.OnMessage != nil && env.Message != nil {
			h.OnMessage(*env.Message)
		}
	case envTypePresence:
		if h.OnPresence != nil && env.Presence != nil {
			h.OnPresence(*env.Presence)
		}
	case envTypeConnection:
		if h.OnConnectionUpdate != nil && env.Connection != nil {
			h.OnConnectionUpdate(*env.Connection)
		}
	case envTypeCredentials:
		if h.OnCredentials != nil && env.Credentials != nil {
			h.OnCredentials(*env.Credentials)
		}
	default:
		log.Debug().Str("type", env.Type).Msg("wire.Session ignoring envelope")
	}
}

func (s *Session) readLoop() {
	defer close(s.queue)
	for {
		env, err := readEnvelope(s.reader)
		if err != nil {
			if !s.userClosed.Load() && !s.closeSent.Swap(true) {
				s.queue <- envelope{
					Type: envTypeConnection,
					Connection: &protocol.ConnectionUpdate{
						State:       protocol.ConnStateClosed,
						CloseReason: protocol.CloseReasonConnectionLost,
					},
				}
			}
			return
		}

		switch env.Type {
		case envTypePairCode:
			if env.PairCode != nil {
				select {
				case s.pairCh <- *env.PairCode:
				default:
				}
			}
		case envTypeConnection:
			if env.Connection != nil && env.Connection.State == protocol.ConnStateClosed {
				s.closeSent.Store(true)
			}
			s.queue <- env
		default:
			s.queue <- env
		}
	}
}

// RequestPairingCode asks the server to issue a pairing code for the
// normalized identifier. An empty code in the response means the server
// declined.
func (s *Session) RequestPairingCode(ctx context.Context, identifier string) (string, error) {
	identifier = strings.TrimSpace(identifier)
	if err := s.write(envelope{Type: envTypePairRequest, PairRequest: &PairRequest{Identifier: identifier}}); err != nil {
		return "", err
	}

	timer := time.NewTimer(s.cfg.PairingTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-timer.C:
		return "", protocol.ErrPairingUnavailable
	case code := <-s.pairCh:
		if strings.TrimSpace(code.Code) == "" {
			return "", fmt.Errorf("%w: %s", protocol.ErrPairingUnavailable, code.Message)
		}
		return code.Code, nil
	}
}

// Send delivers one outbound message to a conversation.
func (s *Session) Send(_ context.Context, conversationID string, content string) error {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return fmt.Errorf("wire: missing conversation id")
	}
	return s.write(envelope{Type: envTypeSend, Send: &SendRequest{
		ConversationID: conversationID,
		Content:        content,
	}})
}

// Close releases the connection. Safe to call more than once.
func (s *Session) Close() error {
	if s.userClosed.Swap(true) {
		return nil
	}
	return s.conn.Close()
}

func (s *Session) write(env envelope) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.userClosed.Load() {
		return protocol.ErrSessionClosed
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return writeEnvelope(s.conn, env)
}
