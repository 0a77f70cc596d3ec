// Package wire is the concrete transport behind the protocol contracts: a
// TCP/TLS connection carrying newline-delimited JSON envelopes. It owns
// framing and the hello/pairing handshake; message semantics live upstream.
package wire

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/danmuck/courierd/internal/protocol"
)

const (
	envTypeHello       = "client.hello"
	envTypeHelloAck    = "client.hello.ack"
	envTypePairRequest = "pair.request"
	envTypePairCode    = "pair.code"
	envTypeSend        = "message.send"
	envTypeMessage     = "message"
	envTypePresence    = "presence"
	envTypeConnection  = "connection"
	envTypeCredentials = "credentials"

	AckStatusAccepted = "accepted"
	AckStatusRejected = "rejected"

	maxEnvelopeBytes = 128 * 1024
)

var (
	ErrInvalidHello     = errors.New("wire: invalid hello")
	ErrInvalidHelloAck  = errors.New("wire: invalid hello ack")
	ErrEnvelopeTooLarge = errors.New("wire: envelope too large")
	ErrUnexpectedType   = errors.New("wire: unexpected envelope type")
)

// Hello is the client->server session-start payload.
type Hello struct {
	Version     string                    `json:"version"`
	Credentials protocol.CredentialBundle `json:"credentials"`
}

func (h Hello) Validate() error {
	if strings.TrimSpace(h.Version) == "" {
		return fmt.Errorf("%w: missing version", ErrInvalidHello)
	}
	return nil
}

// HelloAck is the server->client session-start response.
type HelloAck struct {
	Status      string `json:"status"`
	Code        uint32 `json:"code"`
	Message     string `json:"message"`
	Registered  bool   `json:"registered"`
	TimestampMS uint64 `json:"timestamp_ms"`
}

func (a HelloAck) Validate() error {
	status := strings.TrimSpace(a.Status)
	if status != AckStatusAccepted && status != AckStatusRejected {
		return fmt.Errorf("%w: invalid status", ErrInvalidHelloAck)
	}
	if a.TimestampMS == 0 {
		return fmt.Errorf("%w: missing timestamp_ms", ErrInvalidHelloAck)
	}
	return nil
}

// PairRequest asks the server for a pairing code for a normalized identifier.
type PairRequest struct {
	Identifier string `json:"identifier"`
}

// PairCode is the server's pairing response; an empty code means the server
// declined to issue one.
type PairCode struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// SendRequest carries one outbound message.
type SendRequest struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
}

type envelope struct {
	Type        string                     `json:"type"`
	Hello       *Hello                     `json:"hello,omitempty"`
	HelloAck    *HelloAck                  `json:"hello_ack,omitempty"`
	PairRequest *PairRequest               `json:"pair_request,omitempty"`
	PairCode    *PairCode                  `json:"pair_code,omitempty"`
	Send        *SendRequest               `json:"send,omitempty"`
	Message     *protocol.InboundMessage   `json:"message,omitempty"`
	Presence    *protocol.PresenceUpdate   `json:"presence,omitempty"`
	Connection  *protocol.ConnectionUpdate `json:"connection,omitempty"`
	Credentials *protocol.CredentialBundle `json:"credentials,omitempty"`
}

func writeEnvelope(w io.Writer, env envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	payload = append(payload, '\n')
	if _, err := w.Write(payload); err != nil {
		return err
	}
	return nil
}

func readEnvelope(r *bufio.Reader) (envelope, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		return envelope{}, err
	}
	if len(line) > maxEnvelopeBytes {
		return envelope{}, ErrEnvelopeTooLarge
	}
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return envelope{}, err
	}
	return env, nil
}

// WriteHello sends the session-start envelope.
func WriteHello(w io.Writer, hello Hello) error {
	if err := hello.Validate(); err != nil {
		return err
	}
	return writeEnvelope(w, envelope{Type: envTypeHello, Hello: &hello})
}

// ReadHello parses a session-start envelope; used by test servers.
func ReadHello(r *bufio.Reader) (Hello, error) {
	env, err := readEnvelope(r)
	if err != nil {
		return Hello{}, err
	}
	if env.Type != envTypeHello || env.Hello == nil {
		return Hello{}, fmt.Errorf("%w: %q", ErrUnexpectedType, env.Type)
	}
	if err := env.Hello.Validate(); err != nil {
		return Hello{}, err
	}
	return *env.Hello, nil
}

// WriteHelloAck sends the session-start response.
func WriteHelloAck(w io.Writer, ack HelloAck) error {
	if err := ack.Validate(); err != nil {
		return err
	}
	return writeEnvelope(w, envelope{Type: envTypeHelloAck, HelloAck: &ack})
}

// ReadHelloAck parses the session-start response.
func ReadHelloAck(r *bufio.Reader) (HelloAck, error) {
	env, err := readEnvelope(r)
	if err != nil {
		return HelloAck{}, err
	}
	if env.Type != envTypeHelloAck || env.HelloAck == nil {
		return HelloAck{}, fmt.Errorf("%w: %q", ErrUnexpectedType, env.Type)
	}
	if err := env.HelloAck.Validate(); err != nil {
		return HelloAck{}, err
	}
	return *env.HelloAck, nil
}
