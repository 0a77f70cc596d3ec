package wire

import (
	"bufio"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/danmuck/courierd/internal/protocol"
	"github.com/danmuck/courierd/internal/testutil/testlog"
)

// startServer runs a one-connection scripted server and returns its address.
func startServer(t *testing.T, script func(conn net.Conn, r *bufio.Reader)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		script(conn, bufio.NewReader(conn))
	}()
	return ln.Addr().String()
}

func acceptHello(t *testing.T, conn net.Conn, r *bufio.Reader) Hello {
	t.Helper()
	hello, err := ReadHello(r)
	if err != nil {
		t.Errorf("server read hello: %v", err)
		return Hello{}
	}
	ack := HelloAck{
		Status:      AckStatusAccepted,
		Registered:  hello.Credentials.Registered,
		TimestampMS: uint64(time.Now().UnixMilli()),
	}
	if err := WriteHelloAck(conn, ack); err != nil {
		t.Errorf("server write ack: %v", err)
	}
	return hello
}

func dialTest(t *testing.T, addr string) (*Client, protocol.SessionHandle) {
	t.Helper()
	client, err := NewClient(Config{Address: addr})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	handle, err := client.Connect(context.Background(), protocol.CredentialBundle{}, "courier/1.0")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = handle.Close() })
	return client, handle
}

func TestNewClientRequiresAddress(t *testing.T) {
	testlog.Start(t)

	if _, err := NewClient(Config{}); !errors.Is(err, ErrAddressRequired) {
		t.Fatalf("expected ErrAddressRequired, got %v", err)
	}
}

func TestConnectHandshake(t *testing.T) {
	testlog.Start(t)

	helloCh := make(chan Hello, 1)
	addr := startServer(t, func(conn net.Conn, r *bufio.Reader) {
		helloCh <- acceptHello(t, conn, r)
		time.Sleep(100 * time.Millisecond)
	})

	client, err := NewClient(Config{Address: addr})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	creds := protocol.CredentialBundle{Blob: []byte("resume"), Registered: true}
	handle, err := client.Connect(context.Background(), creds, "courier/1.0")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer handle.Close()

	hello := <-helloCh
	if hello.Version != "courier/1.0" {
		t.Fatalf("unexpected hello version: %q", hello.Version)
	}
	if string(hello.Credentials.Blob) != "resume" || !hello.Credentials.Registered {
		t.Fatalf("unexpected hello credentials: %+v", hello.Credentials)
	}
}

func TestConnectRejected(t *testing.T) {
	testlog.Start(t)

	addr := startServer(t, func(conn net.Conn, r *bufio.Reader) {
		if _, err := ReadHello(r); err != nil {
			t.Errorf("server read hello: %v", err)
			return
		}
		ack := HelloAck{
			Status:      AckStatusRejected,
			Code:        401,
			Message:     "unknown device",
			TimestampMS: uint64(time.Now().UnixMilli()),
		}
		_ = WriteHelloAck(conn, ack)
	})

	client, err := NewClient(Config{Address: addr})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.Connect(context.Background(), protocol.CredentialBundle{}, "courier/1.0"); !errors.Is(err, protocol.ErrConnectRejected) {
		t.Fatalf("expected ErrConnectRejected, got %v", err)
	}
}

func TestSessionDeliversEventsInOrder(t *testing.T) {
	testlog.Start(t)

	addr := startServer(t, func(conn net.Conn, r *bufio.Reader) {
		acceptHello(t, conn, r)
		msg := protocol.InboundMessage{ID: "m1", RemoteID: "a@s", RawPayload: []byte("hi")}
		_ = writeEnvelope(conn, envelope{Type: envTypeMessage, Message: &msg})
		pres := protocol.PresenceUpdate{RemoteID: "a@s", Status: "online"}
		_ = writeEnvelope(conn, envelope{Type: envTypePresence, Presence: &pres})
		creds := protocol.CredentialBundle{Blob: []byte("rotated"), Registered: true}
		_ = writeEnvelope(conn, envelope{Type: envTypeCredentials, Credentials: &creds})
		time.Sleep(200 * time.Millisecond)
	})

	_, handle := dialTest(t, addr)

	events := make(chan string, 8)
	err := handle.Subscribe(protocol.Handlers{
		OnMessage: func(m protocol.InboundMessage) {
			events <- "message:" + m.ID
		},
		OnPresence: func(p protocol.PresenceUpdate) {
			events <- "presence:" + p.Status
		},
		OnCredentials: func(b protocol.CredentialBundle) {
			events <- "credentials:" + string(b.Blob)
		},
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	want := []string{"message:m1", "presence:online", "credentials:rotated"}
	for _, expected := range want {
		select {
		case got := <-events:
			if got != expected {
				t.Fatalf("expected %q, got %q", expected, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q", expected)
		}
	}
}

func TestConnectRegisteredAckUpdatesCredentials(t *testing.T) {
	testlog.Start(t)

	addr := startServer(t, func(conn net.Conn, r *bufio.Reader) {
		if _, err := ReadHello(r); err != nil {
			t.Errorf("server read hello: %v", err)
			return
		}
		ack := HelloAck{
			Status:      AckStatusAccepted,
			Registered:  true,
			TimestampMS: uint64(time.Now().UnixMilli()),
		}
		_ = WriteHelloAck(conn, ack)
		time.Sleep(200 * time.Millisecond)
	})

	client, err := NewClient(Config{Address: addr})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	handle, err := client.Connect(context.Background(), protocol.CredentialBundle{Blob: []byte("paired-elsewhere")}, "courier/1.0")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer handle.Close()

	updates := make(chan protocol.CredentialBundle, 1)
	err = handle.Subscribe(protocol.Handlers{
		OnCredentials: func(b protocol.CredentialBundle) { updates <- b },
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	select {
	case bundle := <-updates:
		if !bundle.Registered {
			t.Fatalf("expected registered bundle")
		}
		if string(bundle.Blob) != "paired-elsewhere" {
			t.Fatalf("unexpected blob: %s", bundle.Blob)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for credential update")
	}
}

func TestSessionSubscribeOnce(t *testing.T) {
	testlog.Start(t)

	addr := startServer(t, func(conn net.Conn, r *bufio.Reader) {
		acceptHello(t, conn, r)
		time.Sleep(100 * time.Millisecond)
	})

	_, handle := dialTest(t, addr)
	if err := handle.Subscribe(protocol.Handlers{}); err != nil {
		t.Fatalf("first subscribe: %v", err)
	}
	if err := handle.Subscribe(protocol.Handlers{}); !errors.Is(err, protocol.ErrAlreadySubscribed) {
		t.Fatalf("expected ErrAlreadySubscribed, got %v", err)
	}
}

func TestSessionSynthesizesConnectionLost(t *testing.T) {
	testlog.Start(t)

	addr := startServer(t, func(conn net.Conn, r *bufio.Reader) {
		acceptHello(t, conn, r)
		// Returning closes the connection without a close envelope.
	})

	_, handle := dialTest(t, addr)

	updates := make(chan protocol.ConnectionUpdate, 4)
	err := handle.Subscribe(protocol.Handlers{
		OnConnectionUpdate: func(u protocol.ConnectionUpdate) { updates <- u },
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	select {
	case upd := <-updates:
		if upd.State != protocol.ConnStateClosed {
			t.Fatalf("unexpected state: %v", upd.State)
		}
		if upd.CloseReason != protocol.CloseReasonConnectionLost {
			t.Fatalf("unexpected reason: %v", upd.CloseReason)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for synthesized close")
	}
}

func TestSessionServerCloseNotDuplicated(t *testing.T) {
	testlog.Start(t)

	addr := startServer(t, func(conn net.Conn, r *bufio.Reader) {
		acceptHello(t, conn, r)
		upd := protocol.ConnectionUpdate{State: protocol.ConnStateClosed, CloseReason: protocol.CloseReasonLoggedOut}
		_ = writeEnvelope(conn, envelope{Type: envTypeConnection, Connection: &upd})
	})

	_, handle := dialTest(t, addr)

	updates := make(chan protocol.ConnectionUpdate, 4)
	err := handle.Subscribe(protocol.Handlers{
		OnConnectionUpdate: func(u protocol.ConnectionUpdate) { updates <- u },
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	select {
	case upd := <-updates:
		if upd.CloseReason != protocol.CloseReasonLoggedOut {
			t.Fatalf("unexpected reason: %v", upd.CloseReason)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for server close")
	}

	// The socket teardown that follows must not synthesize a second close.
	select {
	case upd := <-updates:
		t.Fatalf("unexpected extra close: %+v", upd)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSessionPairingCode(t *testing.T) {
	testlog.Start(t)

	addr := startServer(t, func(conn net.Conn, r *bufio.Reader) {
		acceptHello(t, conn, r)
		env, err := readEnvelope(r)
		if err != nil {
			t.Errorf("server read pair request: %v", err)
			return
		}
		if env.Type != envTypePairRequest || env.PairRequest == nil {
			t.Errorf("unexpected envelope: %+v", env)
			return
		}
		if env.PairRequest.Identifier != "24177000000" {
			t.Errorf("unexpected identifier: %q", env.PairRequest.Identifier)
		}
		_ = writeEnvelope(conn, envelope{Type: envTypePairCode, PairCode: &PairCode{Code: "WXYZ-9876"}})
		time.Sleep(100 * time.Millisecond)
	})

	_, handle := dialTest(t, addr)

	code, err := handle.RequestPairingCode(context.Background(), "24177000000")
	if err != nil {
		t.Fatalf("request pairing code: %v", err)
	}
	if code != "WXYZ-9876" {
		t.Fatalf("unexpected code: %q", code)
	}
}

func TestSessionPairingDeclined(t *testing.T) {
	testlog.Start(t)

	addr := startServer(t, func(conn net.Conn, r *bufio.Reader) {
		acceptHello(t, conn, r)
		if _, err := readEnvelope(r); err != nil {
			return
		}
		_ = writeEnvelope(conn, envelope{Type: envTypePairCode, PairCode: &PairCode{Message: "pairing disabled"}})
		time.Sleep(100 * time.Millisecond)
	})

	_, handle := dialTest(t, addr)

	if _, err := handle.RequestPairingCode(context.Background(), "24177000000"); !errors.Is(err, protocol.ErrPairingUnavailable) {
		t.Fatalf("expected ErrPairingUnavailable, got %v", err)
	}
}

func TestSessionSend(t *testing.T) {
	testlog.Start(t)

	sends := make(chan SendRequest, 1)
	addr := startServer(t, func(conn net.Conn, r *bufio.Reader) {
		acceptHello(t, conn, r)
		env, err := readEnvelope(r)
		if err != nil {
			t.Errorf("server read send: %v", err)
			return
		}
		if env.Type != envTypeSend || env.Send == nil {
			t.Errorf("unexpected envelope: %+v", env)
			return
		}
		sends <- *env.Send
	})

	_, handle := dialTest(t, addr)

	if err := handle.Send(context.Background(), "a@s", "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case req := <-sends:
		if req.ConversationID != "a@s" || req.Content != "hello" {
			t.Fatalf("unexpected send: %+v", req)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for send")
	}
}

func TestSessionSendAfterClose(t *testing.T) {
	testlog.Start(t)

	addr := startServer(t, func(conn net.Conn, r *bufio.Reader) {
		acceptHello(t, conn, r)
		time.Sleep(100 * time.Millisecond)
	})

	_, handle := dialTest(t, addr)
	if err := handle.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := handle.Send(context.Background(), "a@s", "hello"); !errors.Is(err, protocol.ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
	// Close is idempotent.
	if err := handle.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
