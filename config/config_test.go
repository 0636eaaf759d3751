package config

import (
	"testing"

	"voidrunner/protocol"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("VOIDRUNNER_PLAYER_NAME", "")
	t.Setenv("VOIDRUNNER_TCP_PORT", "")
	t.Setenv("VOIDRUNNER_UDP_PORT", "")
	t.Setenv("VOIDRUNNER_DISCOVERY_PORT", "")

	cfg := Load()
	if cfg.PlayerName != "Runner" {
		t.Fatalf("player name: %q", cfg.PlayerName)
	}
	if cfg.TCPPort != protocol.TCPPort || cfg.UDPPort != protocol.UDPPort || cfg.DiscoveryPort != protocol.DiscoveryPort {
		t.Fatalf("ports: %d/%d/%d", cfg.TCPPort, cfg.UDPPort, cfg.DiscoveryPort)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("VOIDRUNNER_PLAYER_NAME", "Harry")
	t.Setenv("VOIDRUNNER_TCP_PORT", "30000")
	t.Setenv("VOIDRUNNER_ADMIN_ADDR", "127.0.0.1:8080")

	cfg := Load()
	if cfg.PlayerName != "Harry" || cfg.TCPPort != 30000 || cfg.AdminAddr != "127.0.0.1:8080" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestBadIntFallsBack(t *testing.T) {
	t.Setenv("VOIDRUNNER_UDP_PORT", "not-a-port")
	cfg := Load()
	if cfg.UDPPort != protocol.UDPPort {
		t.Fatalf("bad value should fall back: %d", cfg.UDPPort)
	}
}
