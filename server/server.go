// Package server 实现权威游戏服务端：接收 TCP 会话、维护大厅名单、
// 接收 UDP 输入、向所有客户端单播世界快照。
// 模拟本身在外部：外部驱动每 tick 写入权威状态并调用广播。
package server

import (
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"voidrunner/discovery"
	"voidrunner/logging"
	"voidrunner/protocol"
	"voidrunner/session"
	"voidrunner/wire"
)

// Phase 服务器所处阶段
type Phase int

const (
	PhaseLobby Phase = iota
	PhaseInGame
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseLobby:
		return "LOBBY"
	case PhaseInGame:
		return "IN_GAME"
	case PhaseStopped:
		return "STOPPED"
	}
	return "UNKNOWN"
}

// Listener 服务端事件回调，由上层（模拟/UI）实现
type Listener interface {
	OnPlayerConnected(playerID int, name string)
	OnPlayerDisconnected(playerID int)
	OnChatMessage(playerID int, name, message string)
	OnPlayerAction(playerID int, action string) // 已接受的远端输入动作
	OnGameStart(seed int64)
	OnReturnToLobby()
	OnError(msg string)
}

// Config 服务端配置；端口为 0 时由系统分配（测试用）
type Config struct {
	ServerName    string
	HostName      string
	TCPPort       int
	UDPPort       int
	DiscoveryPort int
	AdminAddr     string // 为空则不启动管理接口
	MaxPlayers    int
}

// DefaultConfig 按协议默认值构造配置
func DefaultConfig(hostName string) Config {
	return Config{
		ServerName:    hostName + "'s game",
		HostName:      hostName,
		TCPPort:       protocol.TCPPort,
		UDPPort:       protocol.UDPPort,
		DiscoveryPort: protocol.DiscoveryPort,
		MaxPlayers:    protocol.MaxPlayers,
	}
}

// GameServer 权威服务端节点
type GameServer struct {
	cfg      Config
	listener Listener
	metrics  *Metrics
	beacon   *discovery.Beacon
	specs    *spectatorHub
	adminSrv *http.Server

	tcpLn   *net.TCPListener
	udpConn *net.UDPConn

	mu      sync.Mutex
	running bool
	phase   Phase
	clients map[int]*remotePlayer // 按玩家 id；不含主机
	nextID  int
	host    PlayerRecord
	tick    int64
	seed    int64

	// 权威世界状态，外部模拟层每 tick 覆盖
	stateMu   sync.Mutex
	players   []PlayerState
	holes     []HoleState
	obstacles []ObstacleState
}

// New 创建未启动的服务端
func New(cfg Config, l Listener) *GameServer {
	if cfg.MaxPlayers <= 0 {
		cfg.MaxPlayers = protocol.MaxPlayers
	}
	return &GameServer{
		cfg:      cfg,
		listener: l,
		metrics:  &Metrics{},
		beacon:   discovery.New(),
		specs:    newSpectatorHub(),
		clients:  make(map[int]*remotePlayer),
		phase:    PhaseLobby,
	}
}

// Metrics 运行指标
func (s *GameServer) Metrics() *Metrics { return s.metrics }

// ==================== 启动/停止 ====================

// Start 绑定两个端口并启动各循环；任一端口绑定失败则整体失败，
// 不留下半开的服务器
func (s *GameServer) Start() error {
	tcpLn, err := net.ListenTCP("tcp", &net.TCPAddr{Port: s.cfg.TCPPort})
	if err != nil {
		return fmt.Errorf("tcp port %d: %w", s.cfg.TCPPort, err)
	}
	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: s.cfg.UDPPort})
	if err != nil {
		_ = tcpLn.Close()
		return fmt.Errorf("udp port %d: %w", s.cfg.UDPPort, err)
	}

	s.mu.Lock()
	s.tcpLn = tcpLn
	s.udpConn = udpConn
	s.running = true
	s.phase = PhaseLobby
	s.nextID = 0
	// 主机占用 id 0，始终处于准备状态
	s.host = PlayerRecord{
		ID:     0,
		Name:   s.cfg.HostName,
		Color:  protocol.ColorFor(0),
		Ready:  true,
		IsHost: true,
	}
	s.mu.Unlock()

	go s.acceptLoop()
	go s.udpReceiveLoop()

	s.beacon.SetPort(s.cfg.DiscoveryPort)
	if err := s.beacon.StartBroadcast(s.cfg.ServerName, s.TCPAddr().Port); err != nil {
		logging.Log.Warnf("beacon start failed: %v", err)
	}

	if s.cfg.AdminAddr != "" {
		s.startAdmin()
	}

	logging.Log.Infof("server started on tcp=%d udp=%d", s.TCPAddr().Port, s.UDPAddr().Port)
	return nil
}

// Stop 广播断开原因、关闭全部连接与套接字、停掉信标
func (s *GameServer) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.phase = PhaseStopped
	sessions := make([]*session.Session, 0, len(s.clients))
	for _, c := range s.clients {
		sessions = append(sessions, c.sess)
	}
	s.clients = make(map[int]*remotePlayer)
	tcpLn, udpConn := s.tcpLn, s.udpConn
	s.mu.Unlock()

	for _, sess := range sessions {
		_ = sess.Send(map[string]any{
			"type":   protocol.MsgDisconnect,
			"reason": "server closed",
		})
		sess.Close("server closed")
	}

	if tcpLn != nil {
		_ = tcpLn.Close()
	}
	if udpConn != nil {
		_ = udpConn.Close()
	}
	s.beacon.Stop()
	s.specs.closeAll()
	s.stopAdmin()

	logging.Log.Info("server stopped")
}

func (s *GameServer) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Phase 当前阶段
func (s *GameServer) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// TCPAddr 实际监听的 TCP 地址
func (s *GameServer) TCPAddr() *net.TCPAddr {
	return s.tcpLn.Addr().(*net.TCPAddr)
}

// UDPAddr 实际监听的 UDP 地址
func (s *GameServer) UDPAddr() *net.UDPAddr {
	return s.udpConn.LocalAddr().(*net.UDPAddr)
}

// PlayerCount 含主机的在线人数
func (s *GameServer) PlayerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients) + 1
}

// Roster 名单快照：主机在前，其余按 id 升序
func (s *GameServer) Roster() []PlayerRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rosterLocked()
}

func (s *GameServer) rosterLocked() []PlayerRecord {
	out := []PlayerRecord{s.host}
	ids := make([]int, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		out = append(out, s.clients[id].rec)
	}
	return out
}

// ==================== TCP 接入 ====================

func (s *GameServer) acceptLoop() {
	for s.isRunning() {
		// 短超时，保证停止标志能被及时观察到
		_ = s.tcpLn.SetDeadline(time.Now().Add(time.Second))
		conn, err := s.tcpLn.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if s.isRunning() {
				logging.Log.Errorf("accept: %v", err)
			}
			return
		}
		go s.handleNewConnection(conn)
	}
}

func (s *GameServer) handleNewConnection(conn net.Conn) {
	sess := session.New(conn)
	name, err := sess.ReadRequest()
	if err != nil {
		sess.Close("bad handshake")
		return
	}

	s.mu.Lock()
	// 准入：满员或开局后一律给出带原因的拒绝，不做静默丢弃
	if len(s.clients) >= s.cfg.MaxPlayers-1 { // -1：主机也占名额
		s.mu.Unlock()
		s.metrics.IncRejects()
		logging.Log.Infof("reject %s: room is full", name)
		sess.Reject("room is full")
		return
	}
	if s.phase == PhaseInGame {
		s.mu.Unlock()
		s.metrics.IncRejects()
		logging.Log.Infof("reject %s: game already started", name)
		sess.Reject("game already started")
		return
	}

	// 加入者 id 从 1 起单调递增，进程内不复用
	s.nextID++
	id := s.nextID
	rp := newRemotePlayer(id, name, sess)
	s.clients[id] = rp
	roster := s.rosterLocked()
	s.mu.Unlock()

	if err := sess.Accept(id, s.cfg.ServerName, rosterToWire(roster)); err != nil {
		s.mu.Lock()
		delete(s.clients, id)
		s.mu.Unlock()
		return
	}

	sess.OnClose(func(reason string) {
		s.disconnectClient(id, reason)
	})
	go sess.ReadLoop(func(msg map[string]any) {
		s.handleClientMessage(rp, msg)
	})

	s.metrics.IncConnects()
	s.broadcastRoster()
	s.refreshBeacon()
	if s.listener != nil {
		s.listener.OnPlayerConnected(id, name)
	}
	logging.Log.Infof("player connected: %s (id=%d)", name, id)
}

func (s *GameServer) handleClientMessage(rp *remotePlayer, msg map[string]any) {
	switch wire.GetString(msg, "type", "") {
	case protocol.MsgChat:
		if !rp.chatLim.Allow() {
			s.metrics.IncChatRateLimited()
			return
		}
		text := wire.GetString(msg, "message", "")
		s.metrics.IncChatMessages()
		s.broadcastChat(rp.rec.ID, rp.rec.Name, text)
		if s.listener != nil {
			s.listener.OnChatMessage(rp.rec.ID, rp.rec.Name, text)
		}

	case protocol.MsgPlayerReady:
		ready := wire.GetBool(msg, "ready", false)
		s.mu.Lock()
		if c, ok := s.clients[rp.rec.ID]; ok {
			c.rec.Ready = ready
		}
		s.mu.Unlock()
		s.broadcastRoster()

	case protocol.MsgPing:
		// 回显请求时间戳，RTT 由客户端计算
		_ = rp.sess.Send(map[string]any{
			"type":      protocol.MsgPong,
			"timestamp": wire.GetInt64(msg, "timestamp", 0),
		})

	case protocol.MsgDisconnect:
		rp.sess.Close("client left")
	}
}

func (s *GameServer) disconnectClient(playerID int, reason string) {
	s.mu.Lock()
	rp, ok := s.clients[playerID]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.clients, playerID)
	inGame := s.phase == PhaseInGame
	empty := len(s.clients) == 0
	s.mu.Unlock()

	rp.sess.Close(reason)
	s.metrics.IncDisconnects()
	s.broadcastRoster()
	s.refreshBeacon()
	if s.listener != nil {
		s.listener.OnPlayerDisconnected(playerID)
	}
	logging.Log.Infof("player disconnected: %s (id=%d): %s", rp.rec.Name, playerID, reason)

	// 只剩主机时对局无法继续，上报错误但不强行切阶段——那是上层的决定
	if inGame && empty {
		logging.Log.Warn("no remote players left while in game")
		if s.listener != nil {
			s.listener.OnError("all players left the game")
		}
	}
}

// ==================== UDP 输入 ====================

func (s *GameServer) udpReceiveLoop() {
	buf := make([]byte, 2048)
	for s.isRunning() {
		_ = s.udpConn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, src, err := s.udpConn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if s.isRunning() {
				logging.Log.Errorf("udp read: %v", err)
			}
			return
		}
		s.processInput(string(buf[:n]), src)
	}
}

func (s *GameServer) processInput(payload string, src *net.UDPAddr) {
	msg := wire.Decode(payload)
	if wire.GetString(msg, "type", "") != protocol.MsgInput {
		return
	}

	playerID := wire.GetInt(msg, "playerId", -1)
	action := wire.GetString(msg, "action", protocol.ActionNone)

	s.mu.Lock()
	rp, ok := s.clients[playerID]
	if !ok {
		s.mu.Unlock()
		s.metrics.IncInputsIgnored()
		return
	}
	// 顺带学习/刷新回程地址——无需单独的注册消息
	rp.udpAddr = src
	rp.lastSeq = wire.GetInt64(msg, "sequence", rp.lastSeq)
	s.mu.Unlock()

	s.metrics.IncInputsAccepted()

	// 只有存活玩家的动作才交给模拟层
	if action == protocol.ActionGravitySwitch && s.playerAlive(playerID) {
		if s.listener != nil {
			s.listener.OnPlayerAction(playerID, action)
		}
	}
}

func (s *GameServer) playerAlive(playerID int) bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	for _, p := range s.players {
		if p.ID == playerID {
			return p.Alive
		}
	}
	// 状态里找不到这名玩家（含尚未写入任何权威状态）：动作丢弃
	return false
}

// ==================== 权威状态与快照广播 ====================

// UpdateAuthoritativeState 外部模拟层每 tick 写入当前世界状态
func (s *GameServer) UpdateAuthoritativeState(players []PlayerState, holes []HoleState, obstacles []ObstacleState) {
	s.stateMu.Lock()
	s.players = append(s.players[:0], players...)
	s.holes = append(s.holes[:0], holes...)
	s.obstacles = append(s.obstacles[:0], obstacles...)
	s.stateMu.Unlock()
}

// BroadcastGameState 构建一帧快照并单播给每个已学到回程地址的客户端。
// 非 IN_GAME 阶段整体跳过；没有地址的会话跳过而不是报错
func (s *GameServer) BroadcastGameState() {
	s.mu.Lock()
	if !s.running || s.phase != PhaseInGame {
		s.mu.Unlock()
		return
	}
	s.tick++
	tick := s.tick
	targets := make([]*net.UDPAddr, 0, len(s.clients))
	for _, c := range s.clients {
		if c.udpAddr != nil {
			targets = append(targets, c.udpAddr)
		}
	}
	udpConn := s.udpConn
	s.mu.Unlock()

	s.stateMu.Lock()
	players := make([]any, 0, len(s.players))
	for _, p := range s.players {
		players = append(players, p.toWire())
	}
	holes := make([]any, 0, len(s.holes))
	for _, h := range s.holes {
		holes = append(holes, h.toWire())
	}
	obstacles := make([]any, 0, len(s.obstacles))
	for _, o := range s.obstacles {
		obstacles = append(obstacles, o.toWire())
	}
	s.stateMu.Unlock()

	data := []byte(wire.Encode(map[string]any{
		"type":      protocol.MsgGameState,
		"tick":      tick,
		"players":   players,
		"holes":     holes,
		"obstacles": obstacles,
	}))

	for _, addr := range targets {
		_, _ = udpConn.WriteToUDP(data, addr)
	}
	s.metrics.AddSnapshots(len(targets))
	s.specs.broadcast(data)
}

// ==================== 阶段控制 ====================

// StartGame 进入对局：广播共享随机种子，客户端据此生成一致的非网络随机量
func (s *GameServer) StartGame() {
	s.mu.Lock()
	if !s.running || s.phase == PhaseInGame {
		s.mu.Unlock()
		return
	}
	s.phase = PhaseInGame
	s.seed = time.Now().UnixMilli()
	seed := s.seed
	s.mu.Unlock()

	s.broadcastTCP(map[string]any{
		"type":      protocol.MsgGameStart,
		"seed":      seed,
		"countdown": 3,
	})
	s.refreshBeacon()
	if s.listener != nil {
		s.listener.OnGameStart(seed)
	}
	logging.Log.Infof("game started (seed=%d)", seed)
}

// ReturnToLobby 清掉临时世界状态、重置准备标记、重新广播名单
func (s *GameServer) ReturnToLobby() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.phase = PhaseLobby
	for _, c := range s.clients {
		c.rec.Ready = false
	}
	s.mu.Unlock()

	s.stateMu.Lock()
	s.players = nil
	s.holes = nil
	s.obstacles = nil
	s.stateMu.Unlock()

	s.broadcastTCP(map[string]any{
		"type":    protocol.MsgReturnToLobby,
		"message": "host returned everyone to the lobby",
	})
	s.broadcastRoster()
	s.refreshBeacon()
	if s.listener != nil {
		s.listener.OnReturnToLobby()
	}
	logging.Log.Info("returned to lobby")
}

// ==================== TCP 广播 ====================

func (s *GameServer) broadcastTCP(msg map[string]any) {
	s.mu.Lock()
	sessions := make([]*session.Session, 0, len(s.clients))
	for _, c := range s.clients {
		sessions = append(sessions, c.sess)
	}
	s.mu.Unlock()
	for _, sess := range sessions {
		_ = sess.Send(msg)
	}
}

func (s *GameServer) broadcastRoster() {
	s.broadcastTCP(map[string]any{
		"type":    protocol.MsgPlayerList,
		"players": rosterToWire(s.Roster()),
	})
}

func (s *GameServer) broadcastChat(senderID int, senderName, message string) {
	s.broadcastTCP(map[string]any{
		"type":       protocol.MsgChat,
		"playerId":   senderID,
		"playerName": senderName,
		"message":    message,
		"timestamp":  time.Now().UnixMilli(),
	})
}

// SendHostChat 主机发言（主机不走网络，直接进广播）
func (s *GameServer) SendHostChat(message string) {
	s.broadcastChat(0, s.cfg.HostName, message)
	if s.listener != nil {
		s.listener.OnChatMessage(0, s.cfg.HostName, message)
	}
}

func (s *GameServer) refreshBeacon() {
	s.beacon.UpdateServerInfo(s.PlayerCount(), s.Phase() == PhaseInGame)
	s.metrics.IncBeaconUpdates()
}

func rosterToWire(roster []PlayerRecord) []any {
	out := make([]any, 0, len(roster))
	for _, r := range roster {
		out = append(out, map[string]any{
			"id":     r.ID,
			"name":   r.Name,
			"color":  r.Color,
			"ready":  r.Ready,
			"isHost": r.IsHost,
		})
	}
	return out
}
