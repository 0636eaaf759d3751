package discovery

import (
	"testing"
	"time"

	"voidrunner/protocol"
	"voidrunner/wire"
)

type recordingListener struct {
	found []ServerInfo
	lost  []string
}

func (r *recordingListener) OnServerFound(info ServerInfo) { r.found = append(r.found, info) }
func (r *recordingListener) OnServerLost(key string)       { r.lost = append(r.lost, key) }

func announcement(name string, tcpPort int) string {
	return wire.Encode(map[string]any{
		"magic":       protocol.DiscoveryMagic,
		"serverName":  name,
		"playerCount": 2,
		"maxPlayers":  4,
		"tcpPort":     tcpPort,
		"inGame":      false,
	})
}

func TestHandlePacketRejectsBadMagic(t *testing.T) {
	b := New()
	l := &recordingListener{}
	b.listener = l

	bad := wire.Encode(map[string]any{"magic": "SOMETHING_ELSE", "serverName": "x"})
	b.handlePacket(bad, "10.0.0.5", time.Now())
	b.handlePacket("not json at all", "10.0.0.5", time.Now())

	if len(b.Servers()) != 0 || len(l.found) != 0 {
		t.Fatalf("bad magic must be discarded: %v", b.Servers())
	}
}

func TestHandlePacketFoundOncePerKey(t *testing.T) {
	b := New()
	l := &recordingListener{}
	b.listener = l

	now := time.Now()
	b.handlePacket(announcement("Juan's game", 25565), "10.0.0.5", now)
	b.handlePacket(announcement("Juan's game", 25565), "10.0.0.5", now.Add(time.Second))

	if len(l.found) != 1 {
		t.Fatalf("found callbacks = %d, want 1", len(l.found))
	}
	servers := b.Servers()
	if len(servers) != 1 {
		t.Fatalf("servers = %d, want 1", len(servers))
	}
	got := servers[0]
	if got.ServerName != "Juan's game" || got.Address != "10.0.0.5" || got.TCPPort != 25565 {
		t.Fatalf("record fields: %+v", got)
	}
	if got.Key() != "10.0.0.5:25565" {
		t.Fatalf("key: %s", got.Key())
	}
	// 刷新要更新 LastSeen
	if !got.LastSeen.Equal(now.Add(time.Second)) {
		t.Fatalf("lastSeen not refreshed: %v", got.LastSeen)
	}
}

func TestSamePortDifferentHostsAreDistinct(t *testing.T) {
	b := New()
	b.listener = &recordingListener{}

	now := time.Now()
	b.handlePacket(announcement("a", 25565), "10.0.0.5", now)
	b.handlePacket(announcement("b", 25565), "10.0.0.6", now)

	if len(b.Servers()) != 2 {
		t.Fatalf("servers = %d, want 2", len(b.Servers()))
	}
}

func TestSweepEvictsAfterThreeIntervals(t *testing.T) {
	b := New()
	l := &recordingListener{}
	b.listener = l

	start := time.Now()
	b.handlePacket(announcement("stale", 25565), "10.0.0.5", start)

	// 不足 3 个广播周期：保留
	b.sweep(start.Add(3*protocol.DiscoveryInterval - time.Millisecond))
	if len(b.Servers()) != 1 || len(l.lost) != 0 {
		t.Fatalf("evicted too early: lost=%v", l.lost)
	}

	// 到期：剔除且恰好通知一次
	b.sweep(start.Add(3 * protocol.DiscoveryInterval))
	if len(b.Servers()) != 0 {
		t.Fatal("expected eviction")
	}
	if len(l.lost) != 1 || l.lost[0] != "10.0.0.5:25565" {
		t.Fatalf("lost notifications: %v", l.lost)
	}

	b.sweep(start.Add(4 * protocol.DiscoveryInterval))
	if len(l.lost) != 1 {
		t.Fatalf("duplicate lost notification: %v", l.lost)
	}
}

func TestAnnouncementFields(t *testing.T) {
	b := New()
	b.serverName = "test server"
	b.tcpPort = 4242
	b.playerCount = 3
	b.maxPlayers = 4
	b.inGame = true

	msg := b.announcement()
	if msg["magic"] != protocol.DiscoveryMagic {
		t.Fatal("magic missing")
	}
	if msg["serverName"] != "test server" || msg["tcpPort"] != 4242 {
		t.Fatalf("announcement fields: %#v", msg)
	}
	if msg["playerCount"] != 3 || msg["inGame"] != true {
		t.Fatalf("advisory fields: %#v", msg)
	}
}

func TestUpdateServerInfo(t *testing.T) {
	b := New()
	b.UpdateServerInfo(4, true)
	if b.playerCount != 4 || !b.inGame {
		t.Fatal("update not applied")
	}
}
