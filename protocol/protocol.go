// Package protocol 定义网络协议共享常量：端口、消息类型、发现魔数等。
// 本包只有词汇表，没有行为；其余组件都依赖它。
package protocol

import "time"

// === 网络配置 ===

const (
	TCPPort       = 25565 // 可靠通道（握手/大厅/聊天）
	UDPPort       = 25566 // 不可靠通道（输入/世界状态）
	DiscoveryPort = 25567 // LAN 发现广播

	TickRate     = 60 // 每秒世界快照数
	TickInterval = time.Second / TickRate

	DiscoveryMagic    = "VOIDRUNNER_LAN_V1"
	DiscoveryInterval = 2 * time.Second

	ConnectionTimeout = 5 * time.Second

	MaxPlayers = 4

	Version = "v2.0"
)

// === TCP 消息类型（可靠通道） ===

const (
	// 连接
	MsgConnectRequest = "CONNECT_REQUEST" // 客户端 → 服务端：请求加入
	MsgConnectAccept  = "CONNECT_ACCEPT"  // 服务端 → 客户端：接受
	MsgConnectReject  = "CONNECT_REJECT"  // 服务端 → 客户端：拒绝（带原因）
	MsgDisconnect     = "DISCONNECT"      // 双向：带原因断开

	// 大厅
	MsgPlayerList    = "PLAYER_LIST"     // 服务端 → 客户端：完整玩家列表
	MsgPlayerReady   = "PLAYER_READY"    // 客户端 → 服务端：切换准备状态
	MsgGameStart     = "GAME_START"      // 服务端 → 客户端：开局（带 seed）
	MsgReturnToLobby = "RETURN_TO_LOBBY" // 服务端 → 客户端：回到大厅

	// 聊天
	MsgChat = "CHAT_MESSAGE"

	// 延迟测量
	MsgPing = "PING"
	MsgPong = "PONG" // 回显请求里的 timestamp
)

// === UDP 消息类型（不可靠通道） ===

const (
	MsgInput       = "INPUT"        // 客户端 → 服务端：玩家动作
	MsgGameState   = "GAME_STATE"   // 服务端 → 客户端：完整世界快照
	MsgPlayerState = "PLAYER_STATE" // 预留的增量类型，当前不产生也不消费
)

// === 玩家动作 ===

const (
	ActionGravitySwitch = "GRAVITY_SWITCH"
	ActionNone          = "NONE"
)

// === 重力方向 ===

const (
	GravityDown = "DOWN"
	GravityUp   = "UP"
)

// PlayerColors 固定霓虹配色，按 id % len 分配
var PlayerColors = []string{
	"#00FFFF", // 青
	"#FF0080", // 粉
	"#8A2BE2", // 紫
	"#00FF7F", // 绿
}

// ColorFor 返回玩家 id 对应的颜色
func ColorFor(id int) string {
	if id < 0 {
		id = -id
	}
	return PlayerColors[id%len(PlayerColors)]
}
