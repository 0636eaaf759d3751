// Package session 封装一条可靠通道连接：一个 TCP socket、
// 按行分帧的消息收发，以及 OPEN → HANDSHAKING → ESTABLISHED → CLOSED 状态机。
// 服务端对每个接入方持有一个 Session，客户端对服务端持有一个；两侧行为一致。
// CLOSED 是终态，本层不做重连——重连意味着一条带新握手的新 Session。
package session

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"time"

	"voidrunner/logging"
	"voidrunner/protocol"
	"voidrunner/wire"
)

// writeTimeout 单次写出的上限：对端接收窗口长期不动时放弃这次发送，
// 不让一条堵死的连接拖住广播路径和 Close
var writeTimeout = 5 * time.Second

// State 会话状态
type State int

const (
	StateOpen State = iota
	StateHandshaking
	StateEstablished
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateHandshaking:
		return "HANDSHAKING"
	case StateEstablished:
		return "ESTABLISHED"
	case StateClosed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

// Session 一条可靠通道连接
type Session struct {
	conn   net.Conn
	reader *bufio.Reader

	mu      sync.Mutex // 保护 state 与写路径
	state   State
	onClose func(reason string)
	closed  bool
}

// New 基于已建立的连接创建会话
func New(conn net.Conn) *Session {
	return &Session{
		conn:   conn,
		reader: bufio.NewReader(conn),
		state:  StateOpen,
	}
}

// State 当前状态
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// OnClose 注册断开回调，收到一个人类可读的原因
func (s *Session) OnClose(fn func(reason string)) {
	s.mu.Lock()
	s.onClose = fn
	s.mu.Unlock()
}

// RemoteAddr 对端地址
func (s *Session) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// Send 同步序列化并写出一条消息（一行一条）
func (s *Session) Send(msg map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return fmt.Errorf("session closed")
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err := s.conn.Write(append([]byte(wire.Encode(msg)), '\n'))
	return err
}

// readLine 读取一行并解码；连接断开返回错误
func (s *Session) readLine() (map[string]any, error) {
	line, err := s.reader.ReadString('\n')
	if err != nil {
		return nil, err
	}
	return wire.Decode(line), nil
}

// ReadLoop 阻塞读取消息并派发给 handler，连接断开后以给定原因收尾。
// 只应在 ESTABLISHED 之后由单个 goroutine 调用
func (s *Session) ReadLoop(handler func(msg map[string]any)) {
	for {
		msg, err := s.readLine()
		if err != nil {
			s.Close("connection lost")
			return
		}
		handler(msg)
	}
}

// Close 关闭连接并进入终态；断开回调只触发一次
func (s *Session) Close(reason string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.state = StateClosed
	fn := s.onClose
	s.mu.Unlock()

	_ = s.conn.Close()
	if fn != nil {
		fn(reason)
	}
}

// ==================== 握手：发起方 ====================

// Handshake 发送加入请求并等待应答。接受时返回应答消息；
// 拒绝或 I/O 失败返回错误（拒绝原因在错误文本里）
func (s *Session) Handshake(playerName string) (map[string]any, error) {
	s.setState(StateHandshaking)

	err := s.Send(map[string]any{
		"type":       protocol.MsgConnectRequest,
		"playerName": playerName,
		"version":    protocol.Version,
	})
	if err != nil {
		s.Close("handshake write failed")
		return nil, err
	}

	resp, err := s.readLine()
	if err != nil {
		s.Close("handshake read failed")
		return nil, fmt.Errorf("no handshake reply: %w", err)
	}

	switch wire.GetString(resp, "type", "") {
	case protocol.MsgConnectAccept:
		s.setState(StateEstablished)
		return resp, nil
	case protocol.MsgConnectReject:
		reason := wire.GetString(resp, "reason", "connection refused")
		s.Close(reason)
		return nil, fmt.Errorf("%s", reason)
	default:
		s.Close("unexpected handshake reply")
		return nil, fmt.Errorf("unexpected handshake reply")
	}
}

// ==================== 握手：应答方 ====================

// ReadRequest 读取并校验加入请求，返回玩家名
func (s *Session) ReadRequest() (string, error) {
	s.setState(StateHandshaking)

	req, err := s.readLine()
	if err != nil {
		return "", err
	}
	if wire.GetString(req, "type", "") != protocol.MsgConnectRequest {
		return "", fmt.Errorf("not a connect request")
	}
	name := wire.GetString(req, "playerName", "Player")
	logging.Log.Debugf("connect request from %s (%s)", name, s.conn.RemoteAddr())
	return name, nil
}

// Accept 发送接受应答（分配的 id、服务器名、当前名单）并进入 ESTABLISHED
func (s *Session) Accept(playerID int, serverName string, players []any) error {
	err := s.Send(map[string]any{
		"type":       protocol.MsgConnectAccept,
		"playerId":   playerID,
		"serverName": serverName,
		"players":    players,
	})
	if err != nil {
		s.Close("handshake write failed")
		return err
	}
	s.setState(StateEstablished)
	return nil
}

// Reject 发送带原因的拒绝并立即关闭连接
func (s *Session) Reject(reason string) {
	_ = s.Send(map[string]any{
		"type":   protocol.MsgConnectReject,
		"reason": reason,
	})
	s.Close(reason)
}
