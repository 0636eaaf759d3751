// Package discovery 实现 LAN 服务发现：服务端周期性 UDP 广播自己的存在，
// 客户端监听并维护已发现服务器表，超时未见则剔除。
// 广播没有送达保证，服务器也可能不告而别，所以表必须能自愈。
package discovery

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"voidrunner/logging"
	"voidrunner/protocol"
	"voidrunner/wire"
)

// ServerInfo 一条已发现的服务器记录
type ServerInfo struct {
	Address     string // 来源 IP
	TCPPort     int    // 公布的可靠通道端口
	ServerName  string
	PlayerCount int
	MaxPlayers  int
	InGame      bool
	LastSeen    time.Time // 本地观察时间，不随包传输
}

// Key 记录的去重键：来源地址 + 公布端口
func (s ServerInfo) Key() string {
	return s.Address + ":" + strconv.Itoa(s.TCPPort)
}

func (s ServerInfo) String() string {
	state := "waiting"
	if s.InGame {
		state = "in game"
	}
	return fmt.Sprintf("%s (%d/%d) [%s]", s.ServerName, s.PlayerCount, s.MaxPlayers, state)
}

// Listener 发现事件回调
type Listener interface {
	OnServerFound(info ServerInfo)
	OnServerLost(key string)
}

// Beacon 单实例只承担一种角色：广播（服务端）或监听（客户端）
type Beacon struct {
	mu      sync.Mutex
	running bool
	conn    *net.UDPConn
	port    int // 发现端口，测试可覆盖

	// 广播角色的公告字段，UpdateServerInfo 直接覆写（咨询性数据，后写覆盖）
	serverName  string
	tcpPort     int
	playerCount int
	maxPlayers  int
	inGame      bool

	// 监听角色
	servers  map[string]ServerInfo
	listener Listener
}

// New 创建未启动的 Beacon
func New() *Beacon {
	return &Beacon{
		port:       protocol.DiscoveryPort,
		maxPlayers: protocol.MaxPlayers,
		servers:    make(map[string]ServerInfo),
	}
}

// SetPort 覆盖发现端口（测试用）
func (b *Beacon) SetPort(port int) { b.port = port }

// ==================== 广播角色 ====================

// StartBroadcast 开始周期性公告本服务器
func (b *Beacon) StartBroadcast(serverName string, tcpPort int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return fmt.Errorf("beacon already running")
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return fmt.Errorf("beacon socket: %w", err)
	}
	b.conn = conn
	b.running = true
	b.serverName = serverName
	b.tcpPort = tcpPort
	b.playerCount = 1
	b.inGame = false

	go b.broadcastLoop()
	logging.Log.Infof("LAN broadcast started: %s", serverName)
	return nil
}

func (b *Beacon) broadcastLoop() {
	for {
		b.mu.Lock()
		if !b.running {
			b.mu.Unlock()
			return
		}
		data := []byte(wire.Encode(b.announcement()))
		conn := b.conn
		port := b.port
		b.mu.Unlock()

		// 全网广播 + 每个网卡的广播地址（覆盖多网卡/虚拟网卡主机）
		sendTo(conn, data, &net.UDPAddr{IP: net.IPv4bcast, Port: port})
		for _, addr := range interfaceBroadcastAddrs() {
			sendTo(conn, data, &net.UDPAddr{IP: addr, Port: port})
		}

		time.Sleep(protocol.DiscoveryInterval)
	}
}

func (b *Beacon) announcement() map[string]any {
	return map[string]any{
		"magic":       protocol.DiscoveryMagic,
		"serverName":  b.serverName,
		"playerCount": b.playerCount,
		"maxPlayers":  b.maxPlayers,
		"tcpPort":     b.tcpPort,
		"inGame":      b.inGame,
	}
}

func sendTo(conn *net.UDPConn, data []byte, addr *net.UDPAddr) {
	if conn == nil {
		return
	}
	_, _ = conn.WriteToUDP(data, addr)
}

// interfaceBroadcastAddrs 收集所有活动网卡的 IPv4 广播地址
func interfaceBroadcastAddrs() []net.IP {
	var out []net.IP
	ifaces, err := net.Interfaces()
	if err != nil {
		return out
	}
	for _, ni := range ifaces {
		if ni.Flags&net.FlagLoopback != 0 || ni.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := ni.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipnet.IP.To4()
			if ip4 == nil {
				continue
			}
			mask := ipnet.Mask
			if len(mask) == 16 {
				mask = mask[12:]
			}
			bcast := make(net.IP, 4)
			for i := 0; i < 4; i++ {
				bcast[i] = ip4[i] | ^mask[i]
			}
			out = append(out, bcast)
		}
	}
	return out
}

// UpdateServerInfo 更新下一次公告使用的字段，不与广播循环协调
func (b *Beacon) UpdateServerInfo(playerCount int, inGame bool) {
	b.mu.Lock()
	b.playerCount = playerCount
	b.inGame = inGame
	b.mu.Unlock()
}

// ==================== 监听角色 ====================

// StartListen 绑定发现端口并开始收集服务器公告
func (b *Beacon) StartListen(listener Listener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return fmt.Errorf("beacon already running")
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: b.port})
	if err != nil {
		return fmt.Errorf("discovery port %d: %w", b.port, err)
	}
	b.conn = conn
	b.running = true
	b.listener = listener

	go b.listenLoop()
	logging.Log.Info("LAN discovery started")
	return nil
}

func (b *Beacon) listenLoop() {
	buf := make([]byte, 1024)
	for {
		b.mu.Lock()
		running := b.running
		conn := b.conn
		b.mu.Unlock()
		if !running {
			return
		}

		// 短超时：既能及时看到停止标志，也顺带触发过期清扫
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				b.sweep(time.Now())
				continue
			}
			return
		}
		b.handlePacket(string(buf[:n]), src.IP.String(), time.Now())
	}
}

// handlePacket 校验魔数后登记/刷新记录；新记录触发 found 回调
func (b *Beacon) handlePacket(payload, sourceAddr string, now time.Time) {
	msg := wire.Decode(payload)
	if wire.GetString(msg, "magic", "") != protocol.DiscoveryMagic {
		return // 不是我们的协议
	}

	info := ServerInfo{
		Address:     sourceAddr,
		TCPPort:     wire.GetInt(msg, "tcpPort", protocol.TCPPort),
		ServerName:  wire.GetString(msg, "serverName", "Unknown"),
		PlayerCount: wire.GetInt(msg, "playerCount", 1),
		MaxPlayers:  wire.GetInt(msg, "maxPlayers", protocol.MaxPlayers),
		InGame:      wire.GetBool(msg, "inGame", false),
		LastSeen:    now,
	}

	b.mu.Lock()
	_, known := b.servers[info.Key()]
	b.servers[info.Key()] = info
	l := b.listener
	b.mu.Unlock()

	if !known && l != nil {
		logging.Log.Infof("server found: %s at %s", info.ServerName, info.Key())
		l.OnServerFound(info)
	}
}

// sweep 剔除超过 3 个广播周期未刷新的记录，每条恰好通知一次
func (b *Beacon) sweep(now time.Time) {
	timeout := 3 * protocol.DiscoveryInterval

	b.mu.Lock()
	var lost []string
	for key, info := range b.servers {
		if now.Sub(info.LastSeen) >= timeout {
			delete(b.servers, key)
			lost = append(lost, key)
		}
	}
	l := b.listener
	b.mu.Unlock()

	for _, key := range lost {
		logging.Log.Infof("server lost: %s", key)
		if l != nil {
			l.OnServerLost(key)
		}
	}
}

// Servers 返回当前已知服务器的快照副本
func (b *Beacon) Servers() []ServerInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]ServerInfo, 0, len(b.servers))
	for _, info := range b.servers {
		out = append(out, info)
	}
	return out
}

// ==================== 公共 ====================

// Stop 关闭套接字并清空状态；广播与监听循环随之退出
func (b *Beacon) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	if b.conn != nil {
		_ = b.conn.Close()
	}
	b.servers = make(map[string]ServerInfo)
	b.mu.Unlock()
	logging.Log.Info("LAN discovery stopped")
}

// IsRunning 当前是否有循环在跑
func (b *Beacon) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}
