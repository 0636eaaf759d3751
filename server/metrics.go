package server

import "sync/atomic"

// Metrics 记录服务器运行期的关键指标（用于监控与调试）
type Metrics struct {
	Connects        int64 // 成功握手数
	Rejects         int64 // 被拒绝的握手数
	Disconnects     int64 // 断开数
	SnapshotsSent   int64 // 已发出的世界快照数
	InputsAccepted  int64 // 被接受的输入包数
	InputsIgnored   int64 // 因未知/过期玩家 id 被忽略的输入包数
	ChatMessages    int64 // 转发的聊天消息数
	ChatRateLimited int64 // 因限流被丢弃的聊天消息数
	BeaconUpdates   int64 // 发现公告字段更新次数
}

func (m *Metrics) IncConnects()        { atomic.AddInt64(&m.Connects, 1) }
func (m *Metrics) IncRejects()         { atomic.AddInt64(&m.Rejects, 1) }
func (m *Metrics) IncDisconnects()     { atomic.AddInt64(&m.Disconnects, 1) }
func (m *Metrics) AddSnapshots(n int)  { atomic.AddInt64(&m.SnapshotsSent, int64(n)) }
func (m *Metrics) IncInputsAccepted()  { atomic.AddInt64(&m.InputsAccepted, 1) }
func (m *Metrics) IncInputsIgnored()   { atomic.AddInt64(&m.InputsIgnored, 1) }
func (m *Metrics) IncChatMessages()    { atomic.AddInt64(&m.ChatMessages, 1) }
func (m *Metrics) IncChatRateLimited() { atomic.AddInt64(&m.ChatRateLimited, 1) }
func (m *Metrics) IncBeaconUpdates()   { atomic.AddInt64(&m.BeaconUpdates, 1) }

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *Metrics) Snapshot() map[string]any {
	return map[string]any{
		"connects":          atomic.LoadInt64(&m.Connects),
		"rejects":           atomic.LoadInt64(&m.Rejects),
		"disconnects":       atomic.LoadInt64(&m.Disconnects),
		"snapshots_sent":    atomic.LoadInt64(&m.SnapshotsSent),
		"inputs_accepted":   atomic.LoadInt64(&m.InputsAccepted),
		"inputs_ignored":    atomic.LoadInt64(&m.InputsIgnored),
		"chat_messages":     atomic.LoadInt64(&m.ChatMessages),
		"chat_rate_limited": atomic.LoadInt64(&m.ChatRateLimited),
		"beacon_updates":    atomic.LoadInt64(&m.BeaconUpdates),
	}
}
