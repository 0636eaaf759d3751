package server

import (
	"net"
	"time"

	"golang.org/x/time/rate"

	"voidrunner/protocol"
	"voidrunner/session"
)

// PlayerRecord 名单里的一名参与者（服务端权威数据）
type PlayerRecord struct {
	ID     int
	Name   string
	Color  string // 调色板十六进制颜色
	Ready  bool
	IsHost bool
}

// remotePlayer 一条已接入的远端连接及其运行期状态。
// UDP 回程地址从第一个输入包惰性学习，之后每个包都会刷新
type remotePlayer struct {
	rec     PlayerRecord
	sess    *session.Session
	udpAddr *net.UDPAddr
	lastSeq int64 // 输入序列号，仅记录不校验
	chatLim *rate.Limiter
}

func newRemotePlayer(id int, name string, sess *session.Session) *remotePlayer {
	return &remotePlayer{
		rec: PlayerRecord{
			ID:    id,
			Name:  name,
			Color: protocol.ColorFor(id),
		},
		sess: sess,
		// 聊天限流：稳态每 500ms 一条，突发 5 条
		chatLim: rate.NewLimiter(rate.Every(500*time.Millisecond), 5),
	}
}

// PlayerState 快照中的单个玩家状态，由外部模拟层每 tick 提供
type PlayerState struct {
	ID      int
	X       int
	Y       int
	VY      float64
	Gravity string // DOWN / UP
	Alive   bool
	Score   int
}

// HoleState 地面/天花板缺口
type HoleState struct {
	X     int
	Width int
}

// ObstacleState 障碍物
type ObstacleState struct {
	X      int
	Y      int
	Width  int
	Height int
}

func (p PlayerState) toWire() map[string]any {
	return map[string]any{
		"id":      p.ID,
		"x":       p.X,
		"y":       p.Y,
		"vy":      p.VY,
		"gravity": p.Gravity,
		"alive":   p.Alive,
		"score":   p.Score,
	}
}

func (h HoleState) toWire() map[string]any {
	return map[string]any{"x": h.X, "width": h.Width}
}

func (o ObstacleState) toWire() map[string]any {
	return map[string]any{"x": o.X, "y": o.Y, "width": o.Width, "height": o.Height}
}
