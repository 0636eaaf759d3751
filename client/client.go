// Package client 实现参与者节点：TCP 握手加入、UDP 发送输入、
// 接收并镜像服务器的权威快照。连上之后客户端不做任何模拟，
// 只渲染服务器状态的一份拷贝。
package client

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"voidrunner/logging"
	"voidrunner/protocol"
	"voidrunner/session"
	"voidrunner/wire"
)

// Listener 客户端事件回调
type Listener interface {
	OnConnected(playerID int, serverName string)
	OnDisconnected(reason string)
	OnPlayerListUpdate(players []PlayerInfo)
	OnChatMessage(playerID int, name, message string)
	OnGameStart(seed int64)
	OnReturnToLobby()
	OnGameStateUpdate()
	OnPingUpdate(pingMs int)
}

// PlayerInfo 大厅名单条目（来自 PLAYER_LIST / CONNECT_ACCEPT）
type PlayerInfo struct {
	ID     int
	Name   string
	Color  string
	Ready  bool
	IsHost bool
}

// PlayerMirror 快照镜像中的玩家状态
type PlayerMirror struct {
	ID      int
	X       int
	Y       int
	VY      float64
	Gravity string
	Alive   bool
	Score   int
}

// HoleMirror 快照镜像中的缺口
type HoleMirror struct {
	X     int
	Width int
}

// ObstacleMirror 快照镜像中的障碍物
type ObstacleMirror struct {
	X      int
	Y      int
	Width  int
	Height int
}

// GameClient 参与者节点
type GameClient struct {
	playerName string
	listener   Listener

	sess       *session.Session
	udpConn    *net.UDPConn
	serverAddr *net.UDPAddr // 服务器不可靠通道地址

	playerID  int32
	connected int32
	inputSeq  int64

	pingMu   sync.Mutex
	lastPing int // 毫秒

	// 快照镜像：唯一写者是 UDP 读循环，渲染路径经拷贝读取
	mirrorMu  sync.Mutex
	lastTick  int64
	players   []PlayerMirror
	holes     []HoleMirror
	obstacles []ObstacleMirror

	closeOnce sync.Once
}

// New 创建未连接的客户端
func New(playerName string, l Listener) *GameClient {
	return &GameClient{
		playerName: playerName,
		listener:   l,
		playerID:   -1,
	}
}

// ==================== 连接 ====================

// Connect 建立 TCP 会话并握手；成功后启动三个循环
// （可靠读、不可靠读、周期 ping）。udpPort 是服务器的不可靠通道端口
func (c *GameClient) Connect(address string, tcpPort, udpPort int) error {
	conn, err := net.DialTimeout("tcp",
		fmt.Sprintf("%s:%d", address, tcpPort), protocol.ConnectionTimeout)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	sess := session.New(conn)
	resp, err := sess.Handshake(c.playerName)
	if err != nil {
		return err
	}

	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		sess.Close("udp socket failed")
		return fmt.Errorf("udp socket: %w", err)
	}
	serverIP := conn.RemoteAddr().(*net.TCPAddr).IP

	c.sess = sess
	c.udpConn = udpConn
	c.serverAddr = &net.UDPAddr{IP: serverIP, Port: udpPort}
	atomic.StoreInt32(&c.playerID, int32(wire.GetInt(resp, "playerId", -1)))
	atomic.StoreInt32(&c.connected, 1)

	serverName := wire.GetString(resp, "serverName", "Server")

	sess.OnClose(func(reason string) {
		c.cleanup(reason)
	})
	go sess.ReadLoop(c.handleTCPMessage)
	go c.udpReadLoop()
	go c.pingLoop()

	// 立刻发一个空输入，让服务器学到我们的 UDP 回程地址
	c.SendInput(protocol.ActionNone)

	if c.listener != nil {
		c.listener.OnConnected(c.PlayerID(), serverName)
		c.listener.OnPlayerListUpdate(parsePlayerList(resp))
	}
	logging.Log.Infof("connected to %s (id=%d)", serverName, c.PlayerID())
	return nil
}

// Disconnect 主动断开：发送 DISCONNECT 后关闭两个套接字
func (c *GameClient) Disconnect() {
	if !c.IsConnected() {
		return
	}
	_ = c.sess.Send(map[string]any{"type": protocol.MsgDisconnect})
	c.sess.Close("disconnected")
}

// cleanup 两类断开（本地请求/对端失联）共用的收尾，只执行一次
func (c *GameClient) cleanup(reason string) {
	c.closeOnce.Do(func() {
		atomic.StoreInt32(&c.connected, 0)
		if c.udpConn != nil {
			_ = c.udpConn.Close()
		}
		if c.listener != nil {
			c.listener.OnDisconnected(reason)
		}
		logging.Log.Infof("disconnected: %s", reason)
	})
}

// IsConnected 是否处于已连接状态
func (c *GameClient) IsConnected() bool {
	return atomic.LoadInt32(&c.connected) == 1
}

// PlayerID 服务器分配的 id，未连接时为 -1
func (c *GameClient) PlayerID() int {
	return int(atomic.LoadInt32(&c.playerID))
}

// Ping 最近一次测得的往返延迟（毫秒）
func (c *GameClient) Ping() int {
	c.pingMu.Lock()
	defer c.pingMu.Unlock()
	return c.lastPing
}

// ==================== 可靠通道 ====================

func (c *GameClient) handleTCPMessage(msg map[string]any) {
	switch wire.GetString(msg, "type", "") {
	case protocol.MsgPlayerList:
		if c.listener != nil {
			c.listener.OnPlayerListUpdate(parsePlayerList(msg))
		}

	case protocol.MsgChat:
		if c.listener != nil {
			c.listener.OnChatMessage(
				wire.GetInt(msg, "playerId", -1),
				wire.GetString(msg, "playerName", ""),
				wire.GetString(msg, "message", ""))
		}

	case protocol.MsgGameStart:
		if c.listener != nil {
			c.listener.OnGameStart(wire.GetInt64(msg, "seed", 0))
		}

	case protocol.MsgReturnToLobby:
		if c.listener != nil {
			c.listener.OnReturnToLobby()
		}

	case protocol.MsgPong:
		sent := wire.GetInt64(msg, "timestamp", 0)
		ping := int(time.Now().UnixMilli() - sent)
		if ping < 0 {
			ping = 0
		}
		c.pingMu.Lock()
		c.lastPing = ping
		c.pingMu.Unlock()
		if c.listener != nil {
			c.listener.OnPingUpdate(ping)
		}

	case protocol.MsgDisconnect:
		reason := wire.GetString(msg, "reason", "server disconnected")
		c.sess.Close(reason)
	}
}

func (c *GameClient) pingLoop() {
	for c.IsConnected() {
		time.Sleep(time.Second)
		if !c.IsConnected() {
			return
		}
		_ = c.sess.Send(map[string]any{
			"type":      protocol.MsgPing,
			"timestamp": time.Now().UnixMilli(),
		})
	}
}

// SendChat 通过可靠通道发送聊天
func (c *GameClient) SendChat(message string) {
	if !c.IsConnected() {
		return
	}
	_ = c.sess.Send(map[string]any{
		"type":    protocol.MsgChat,
		"message": message,
	})
}

// SetReady 切换准备状态
func (c *GameClient) SetReady(ready bool) {
	if !c.IsConnected() {
		return
	}
	_ = c.sess.Send(map[string]any{
		"type":  protocol.MsgPlayerReady,
		"ready": ready,
	})
}

// ==================== 不可靠通道 ====================

// SendInput 发送一次输入动作，序列号严格递增。
// 序列号只为可观测性传输，服务器当前并不校验它
func (c *GameClient) SendInput(action string) {
	if !c.IsConnected() || c.udpConn == nil {
		return
	}
	seq := atomic.AddInt64(&c.inputSeq, 1)
	data := []byte(wire.Encode(map[string]any{
		"type":      protocol.MsgInput,
		"playerId":  c.PlayerID(),
		"sequence":  seq,
		"action":    action,
		"timestamp": time.Now().UnixMilli(),
	}))
	_, _ = c.udpConn.WriteToUDP(data, c.serverAddr)
}

// SendGravitySwitch 发送重力切换动作
func (c *GameClient) SendGravitySwitch() {
	c.SendInput(protocol.ActionGravitySwitch)
}

func (c *GameClient) udpReadLoop() {
	buf := make([]byte, 4096)
	for c.IsConnected() {
		_ = c.udpConn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, _, err := c.udpConn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}
		c.processGameState(string(buf[:n]))
	}
}

// processGameState 摄入一帧快照；tick 不大于已应用值的帧静默丢弃，
// 这样乱序/重复的 UDP 包永远不会让镜像倒退
func (c *GameClient) processGameState(payload string) {
	msg := wire.Decode(payload)
	if wire.GetString(msg, "type", "") != protocol.MsgGameState {
		return
	}

	tick := wire.GetInt64(msg, "tick", 0)

	c.mirrorMu.Lock()
	if tick <= c.lastTick {
		c.mirrorMu.Unlock()
		return
	}
	c.lastTick = tick

	c.players = c.players[:0]
	for _, obj := range wire.GetArray(msg, "players") {
		ps, ok := obj.(map[string]any)
		if !ok {
			continue
		}
		c.players = append(c.players, PlayerMirror{
			ID:      wire.GetInt(ps, "id", 0),
			X:       wire.GetInt(ps, "x", 0),
			Y:       wire.GetInt(ps, "y", 0),
			VY:      wire.GetFloat(ps, "vy", 0),
			Gravity: wire.GetString(ps, "gravity", protocol.GravityDown),
			Alive:   wire.GetBool(ps, "alive", true),
			Score:   wire.GetInt(ps, "score", 0),
		})
	}

	c.holes = c.holes[:0]
	for _, obj := range wire.GetArray(msg, "holes") {
		hs, ok := obj.(map[string]any)
		if !ok {
			continue
		}
		c.holes = append(c.holes, HoleMirror{
			X:     wire.GetInt(hs, "x", 0),
			Width: wire.GetInt(hs, "width", 80),
		})
	}

	c.obstacles = c.obstacles[:0]
	for _, obj := range wire.GetArray(msg, "obstacles") {
		os, ok := obj.(map[string]any)
		if !ok {
			continue
		}
		c.obstacles = append(c.obstacles, ObstacleMirror{
			X:      wire.GetInt(os, "x", 0),
			Y:      wire.GetInt(os, "y", 0),
			Width:  wire.GetInt(os, "width", 40),
			Height: wire.GetInt(os, "height", 100),
		})
	}
	c.mirrorMu.Unlock()

	if c.listener != nil {
		c.listener.OnGameStateUpdate()
	}
}

// ==================== 镜像读取（拷贝返回） ====================

// Players 当前镜像中的玩家状态
func (c *GameClient) Players() []PlayerMirror {
	c.mirrorMu.Lock()
	defer c.mirrorMu.Unlock()
	return append([]PlayerMirror(nil), c.players...)
}

// Holes 当前镜像中的缺口
func (c *GameClient) Holes() []HoleMirror {
	c.mirrorMu.Lock()
	defer c.mirrorMu.Unlock()
	return append([]HoleMirror(nil), c.holes...)
}

// Obstacles 当前镜像中的障碍物
func (c *GameClient) Obstacles() []ObstacleMirror {
	c.mirrorMu.Lock()
	defer c.mirrorMu.Unlock()
	return append([]ObstacleMirror(nil), c.obstacles...)
}

// LastTick 最近应用的快照 tick
func (c *GameClient) LastTick() int64 {
	c.mirrorMu.Lock()
	defer c.mirrorMu.Unlock()
	return c.lastTick
}

func parsePlayerList(msg map[string]any) []PlayerInfo {
	var out []PlayerInfo
	for _, obj := range wire.GetArray(msg, "players") {
		pm, ok := obj.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, PlayerInfo{
			ID:     wire.GetInt(pm, "id", 0),
			Name:   wire.GetString(pm, "name", "Player"),
			Color:  wire.GetString(pm, "color", "#FFFFFF"),
			Ready:  wire.GetBool(pm, "ready", false),
			IsHost: wire.GetBool(pm, "isHost", false),
		})
	}
	return out
}
