package session

import (
	"net"
	"strings"
	"testing"
	"time"

	"voidrunner/protocol"
	"voidrunner/wire"
)

func pipePair() (*Session, *Session) {
	a, b := net.Pipe()
	return New(a), New(b)
}

func TestSendAndReadLoop(t *testing.T) {
	s1, s2 := pipePair()
	defer s1.Close("test done")
	defer s2.Close("test done")

	got := make(chan map[string]any, 1)
	go s2.ReadLoop(func(msg map[string]any) { got <- msg })

	if err := s1.Send(map[string]any{"type": protocol.MsgChat, "message": "hi"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case msg := <-got:
		if wire.GetString(msg, "message", "") != "hi" {
			t.Fatalf("wrong message: %#v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestHandshakeAccept(t *testing.T) {
	cliSess, srvSess := pipePair()
	defer cliSess.Close("test done")
	defer srvSess.Close("test done")

	go func() {
		name, err := srvSess.ReadRequest()
		if err != nil || name != "Harry" {
			t.Errorf("read request: name=%q err=%v", name, err)
			return
		}
		_ = srvSess.Accept(1, "Juan's game", []any{
			map[string]any{"id": 0, "name": "Juan", "isHost": true},
		})
	}()

	resp, err := cliSess.Handshake("Harry")
	if err != nil {
		t.Fatalf("handshake: %v", err)
	}
	if wire.GetInt(resp, "playerId", -1) != 1 {
		t.Fatalf("playerId: %#v", resp)
	}
	if wire.GetString(resp, "serverName", "") != "Juan's game" {
		t.Fatalf("serverName: %#v", resp)
	}
	if cliSess.State() != StateEstablished {
		t.Fatalf("client state: %v", cliSess.State())
	}
	if srvSess.State() != StateEstablished {
		t.Fatalf("server state: %v", srvSess.State())
	}
}

func TestHandshakeReject(t *testing.T) {
	cliSess, srvSess := pipePair()
	defer cliSess.Close("test done")

	go func() {
		_, _ = srvSess.ReadRequest()
		srvSess.Reject("room is full")
	}()

	_, err := cliSess.Handshake("Harry")
	if err == nil {
		t.Fatal("expected rejection error")
	}
	if !strings.Contains(err.Error(), "room is full") {
		t.Fatalf("reason not surfaced: %v", err)
	}
	if cliSess.State() != StateClosed || srvSess.State() != StateClosed {
		t.Fatalf("states after reject: %v / %v", cliSess.State(), srvSess.State())
	}
}

func TestCloseIsTerminalAndIdempotent(t *testing.T) {
	s1, s2 := pipePair()
	defer s2.Close("test done")

	reasons := make(chan string, 2)
	s1.OnClose(func(reason string) { reasons <- reason })

	s1.Close("first")
	s1.Close("second")

	select {
	case r := <-reasons:
		if r != "first" {
			t.Fatalf("reason: %q", r)
		}
	case <-time.After(time.Second):
		t.Fatal("no close callback")
	}
	select {
	case r := <-reasons:
		t.Fatalf("duplicate close callback: %q", r)
	default:
	}

	if s1.State() != StateClosed {
		t.Fatalf("state: %v", s1.State())
	}
	if err := s1.Send(map[string]any{"type": "PING"}); err == nil {
		t.Fatal("send after close must fail")
	}
}

func TestReadLoopClosesOnPeerDisconnect(t *testing.T) {
	s1, s2 := pipePair()

	closed := make(chan string, 1)
	s2.OnClose(func(reason string) { closed <- reason })
	go s2.ReadLoop(func(map[string]any) {})

	s1.Close("going away")

	select {
	case reason := <-closed:
		if reason == "" {
			t.Fatal("empty close reason")
		}
	case <-time.After(time.Second):
		t.Fatal("read loop did not observe close")
	}
	if s2.State() != StateClosed {
		t.Fatalf("state: %v", s2.State())
	}
}

func TestSendTimesOutOnStalledPeer(t *testing.T) {
	old := writeTimeout
	writeTimeout = 50 * time.Millisecond
	defer func() { writeTimeout = old }()

	s1, s2 := pipePair()
	defer s1.Close("test done")
	defer s2.Close("test done")

	// 对端不读：写在超时后返回错误而不是永远阻塞
	start := time.Now()
	err := s1.Send(map[string]any{"type": protocol.MsgPing})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("send blocked too long: %v", time.Since(start))
	}
}

func TestMalformedLineIsDispatchedAsPartialMap(t *testing.T) {
	// 分帧层不校验内容：坏行解码成尽力而为的 map，由上层按字段丢弃
	s1, s2 := pipePair()
	defer s1.Close("test done")
	defer s2.Close("test done")

	got := make(chan map[string]any, 1)
	go s2.ReadLoop(func(msg map[string]any) { got <- msg })

	go func() {
		_, _ = s1.conn.Write([]byte("this is not json\n"))
	}()

	select {
	case msg := <-got:
		if wire.GetString(msg, "type", "") != "" {
			t.Fatalf("expected no type field: %#v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout")
	}
}
