// Package network 提供联机门面 Manager：在主机/客户端两种角色之间
// 做统一入口，给上层一套聚合回调。
// Manager 由调用方显式构造并持有——“每进程一条活动网络会话”
// 是调用方约定，不靠全局单例保证。
package network

import (
	"sync"

	"voidrunner/client"
	"voidrunner/discovery"
	"voidrunner/logging"
	"voidrunner/server"
)

// Mode 当前联机角色
type Mode int

const (
	ModeNone Mode = iota
	ModeHost
	ModeClient
)

func (m Mode) String() string {
	switch m {
	case ModeHost:
		return "HOST"
	case ModeClient:
		return "CLIENT"
	}
	return "NONE"
}

// Listener 聚合的联机事件回调
type Listener interface {
	OnModeChanged(mode Mode)
	OnPlayerListUpdate(players []client.PlayerInfo)
	OnChatMessage(name, message string, system bool)
	OnGameStart(seed int64)
	OnReturnToLobby()
	OnDisconnected(reason string)
	OnError(msg string)
	OnPingUpdate(pingMs int)
	OnServerFound(info discovery.ServerInfo)
	OnServerLost(key string)
}

// Manager 联机门面
type Manager struct {
	mu       sync.Mutex
	mode     Mode
	listener Listener

	srv    *server.GameServer
	cli    *client.GameClient
	beacon *discovery.Beacon

	cfg server.Config
}

// NewManager 创建门面；cfg 的端口字段同时用于主机和发现
func NewManager(cfg server.Config, l Listener) *Manager {
	return &Manager{cfg: cfg, listener: l}
}

// Mode 当前角色
func (m *Manager) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// IsHost 是否为主机
func (m *Manager) IsHost() bool { return m.Mode() == ModeHost }

// IsClient 是否为客户端
func (m *Manager) IsClient() bool { return m.Mode() == ModeClient }

// ==================== 主机 ====================

// HostGame 启动服务器并成为主机；已有角色时先停掉
func (m *Manager) HostGame(playerName string) error {
	m.StopNetwork()

	cfg := m.cfg
	cfg.HostName = playerName
	if cfg.ServerName == "" {
		cfg.ServerName = playerName + "'s game"
	}
	srv := server.New(cfg, &serverEvents{m: m})
	if err := srv.Start(); err != nil {
		if m.listener != nil {
			m.listener.OnError("cannot start server: " + err.Error())
		}
		return err
	}

	m.mu.Lock()
	m.srv = srv
	m.mode = ModeHost
	m.mu.Unlock()

	if m.listener != nil {
		m.listener.OnModeChanged(ModeHost)
		m.listener.OnPlayerListUpdate(rosterToInfos(srv.Roster()))
	}
	logging.Log.Info("host mode active")
	return nil
}

// ==================== 客户端 ====================

// JoinGame 连接到指定服务器
func (m *Manager) JoinGame(playerName, address string, tcpPort, udpPort int) error {
	m.StopNetwork()

	cli := client.New(playerName, &clientEvents{m: m})
	if err := cli.Connect(address, tcpPort, udpPort); err != nil {
		if m.listener != nil {
			m.listener.OnError("connection failed: " + err.Error())
		}
		return err
	}

	m.mu.Lock()
	m.cli = cli
	m.mode = ModeClient
	m.mu.Unlock()

	if m.listener != nil {
		m.listener.OnModeChanged(ModeClient)
	}
	return nil
}

// ==================== 发现 ====================

// StartServerSearch 开始监听 LAN 服务器公告
func (m *Manager) StartServerSearch() error {
	m.StopServerSearch()

	b := discovery.New()
	b.SetPort(m.cfg.DiscoveryPort)
	if err := b.StartListen(&discoveryEvents{m: m}); err != nil {
		if m.listener != nil {
			m.listener.OnError("discovery failed: " + err.Error())
		}
		return err
	}
	m.mu.Lock()
	m.beacon = b
	m.mu.Unlock()
	return nil
}

// StopServerSearch 停止监听
func (m *Manager) StopServerSearch() {
	m.mu.Lock()
	b := m.beacon
	m.beacon = nil
	m.mu.Unlock()
	if b != nil {
		b.Stop()
	}
}

// DiscoveredServers 当前已知服务器快照
func (m *Manager) DiscoveredServers() []discovery.ServerInfo {
	m.mu.Lock()
	b := m.beacon
	m.mu.Unlock()
	if b == nil {
		return nil
	}
	return b.Servers()
}

// ==================== 动作 ====================

// SendChat 按角色走对应通道
func (m *Manager) SendChat(message string) {
	m.mu.Lock()
	srv, cli, mode := m.srv, m.cli, m.mode
	m.mu.Unlock()
	switch mode {
	case ModeHost:
		srv.SendHostChat(message)
	case ModeClient:
		cli.SendChat(message)
	}
}

// SendGravitySwitch 客户端经 UDP 发送；主机侧由本地模拟直接处理
func (m *Manager) SendGravitySwitch() {
	m.mu.Lock()
	cli, mode := m.cli, m.mode
	m.mu.Unlock()
	if mode == ModeClient {
		cli.SendGravitySwitch()
	}
}

// SetReady 客户端切换准备状态
func (m *Manager) SetReady(ready bool) {
	m.mu.Lock()
	cli, mode := m.cli, m.mode
	m.mu.Unlock()
	if mode == ModeClient {
		cli.SetReady(ready)
	}
}

// StartGame 开局（仅主机）
func (m *Manager) StartGame() {
	m.mu.Lock()
	srv, mode := m.srv, m.mode
	m.mu.Unlock()
	if mode == ModeHost {
		srv.StartGame()
	}
}

// ReturnToLobby 全员回大厅（仅主机）
func (m *Manager) ReturnToLobby() {
	m.mu.Lock()
	srv, mode := m.srv, m.mode
	m.mu.Unlock()
	if mode == ModeHost {
		srv.ReturnToLobby()
	}
}

// SyncHostState 主机每 tick 调用：写入权威状态并广播快照
func (m *Manager) SyncHostState(players []server.PlayerState, holes []server.HoleState, obstacles []server.ObstacleState) {
	m.mu.Lock()
	srv, mode := m.srv, m.mode
	m.mu.Unlock()
	if mode != ModeHost {
		return
	}
	srv.UpdateAuthoritativeState(players, holes, obstacles)
	srv.BroadcastGameState()
}

// Server 主机角色下的服务端句柄（其余角色为 nil）
func (m *Manager) Server() *server.GameServer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.srv
}

// Client 客户端角色下的客户端句柄（其余角色为 nil）
func (m *Manager) Client() *client.GameClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cli
}

// StopNetwork 停掉当前角色的一切网络活动
func (m *Manager) StopNetwork() {
	m.StopServerSearch()

	m.mu.Lock()
	srv, cli := m.srv, m.cli
	m.srv, m.cli = nil, nil
	changed := m.mode != ModeNone
	m.mode = ModeNone
	m.mu.Unlock()

	if srv != nil {
		srv.Stop()
	}
	if cli != nil {
		cli.Disconnect()
	}
	if changed && m.listener != nil {
		m.listener.OnModeChanged(ModeNone)
	}
}

// ==================== 回调适配 ====================

type serverEvents struct{ m *Manager }

func (e *serverEvents) OnPlayerConnected(playerID int, name string) {
	if l := e.m.listener; l != nil {
		if srv := e.m.Server(); srv != nil {
			l.OnPlayerListUpdate(rosterToInfos(srv.Roster()))
		}
		l.OnChatMessage(name, "joined the game", true)
	}
}

func (e *serverEvents) OnPlayerDisconnected(playerID int) {
	if l := e.m.listener; l != nil {
		if srv := e.m.Server(); srv != nil {
			l.OnPlayerListUpdate(rosterToInfos(srv.Roster()))
		}
	}
}

func (e *serverEvents) OnChatMessage(playerID int, name, message string) {
	if l := e.m.listener; l != nil {
		l.OnChatMessage(name, message, false)
	}
}

func (e *serverEvents) OnPlayerAction(playerID int, action string) {
	// 动作由外部模拟层消费；门面不拦截
}

func (e *serverEvents) OnGameStart(seed int64) {
	if l := e.m.listener; l != nil {
		l.OnGameStart(seed)
	}
}

func (e *serverEvents) OnReturnToLobby() {
	if l := e.m.listener; l != nil {
		l.OnReturnToLobby()
	}
}

func (e *serverEvents) OnError(msg string) {
	if l := e.m.listener; l != nil {
		l.OnError(msg)
	}
}

type clientEvents struct{ m *Manager }

func (e *clientEvents) OnConnected(playerID int, serverName string) {
	if l := e.m.listener; l != nil {
		l.OnChatMessage("system", "connected to "+serverName, true)
	}
}

func (e *clientEvents) OnDisconnected(reason string) {
	e.m.mu.Lock()
	e.m.cli = nil
	// StopNetwork 主动断开时角色已被重置，这里不再重复通知
	changed := e.m.mode != ModeNone
	e.m.mode = ModeNone
	e.m.mu.Unlock()
	if l := e.m.listener; l != nil {
		l.OnDisconnected(reason)
		if changed {
			l.OnModeChanged(ModeNone)
		}
	}
}

func (e *clientEvents) OnPlayerListUpdate(players []client.PlayerInfo) {
	if l := e.m.listener; l != nil {
		l.OnPlayerListUpdate(players)
	}
}

func (e *clientEvents) OnChatMessage(playerID int, name, message string) {
	if l := e.m.listener; l != nil {
		l.OnChatMessage(name, message, false)
	}
}

func (e *clientEvents) OnGameStart(seed int64) {
	if l := e.m.listener; l != nil {
		l.OnGameStart(seed)
	}
}

func (e *clientEvents) OnReturnToLobby() {
	if l := e.m.listener; l != nil {
		l.OnReturnToLobby()
	}
}

func (e *clientEvents) OnGameStateUpdate() {
	// 渲染路径主动经 Client().Players() 等读取镜像
}

func (e *clientEvents) OnPingUpdate(pingMs int) {
	if l := e.m.listener; l != nil {
		l.OnPingUpdate(pingMs)
	}
}

type discoveryEvents struct{ m *Manager }

func (e *discoveryEvents) OnServerFound(info discovery.ServerInfo) {
	if l := e.m.listener; l != nil {
		l.OnServerFound(info)
	}
}

func (e *discoveryEvents) OnServerLost(key string) {
	if l := e.m.listener; l != nil {
		l.OnServerLost(key)
	}
}

func rosterToInfos(roster []server.PlayerRecord) []client.PlayerInfo {
	out := make([]client.PlayerInfo, 0, len(roster))
	for _, r := range roster {
		out = append(out, client.PlayerInfo{
			ID:     r.ID,
			Name:   r.Name,
			Color:  r.Color,
			Ready:  r.Ready,
			IsHost: r.IsHost,
		})
	}
	return out
}
