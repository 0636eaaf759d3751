// VoidRunner 联机入口：以主机/客户端/发现三种模式运行网络子系统。
// 模拟与渲染在真正的游戏里由上层驱动，这里只承载网络侧。
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"voidrunner/client"
	"voidrunner/config"
	"voidrunner/discovery"
	"voidrunner/logging"
	"voidrunner/network"
	"voidrunner/server"
)

func main() {
	var (
		mode  string
		name  string
		addr  string
		admin string
		logTo string
	)
	flag.StringVar(&mode, "mode", "host", "run mode: host | join | discover")
	flag.StringVar(&name, "name", "", "player name")
	flag.StringVar(&addr, "addr", "", "server address for join mode, e.g. 192.168.1.10")
	flag.StringVar(&admin, "admin", "", "admin listen address for host mode, e.g. :8080")
	flag.StringVar(&logTo, "log", "", "log file path")
	flag.Parse()

	cfg := config.Load()
	if name != "" {
		cfg.PlayerName = name
	}
	if admin != "" {
		cfg.AdminAddr = admin
	}
	if logTo != "" {
		cfg.LogPath = logTo
	}

	if err := logging.Init(cfg.LogPath); err != nil {
		panic(err)
	}
	defer logging.Sync()

	srvCfg := server.Config{
		ServerName:    cfg.ServerName,
		HostName:      cfg.PlayerName,
		TCPPort:       cfg.TCPPort,
		UDPPort:       cfg.UDPPort,
		DiscoveryPort: cfg.DiscoveryPort,
		AdminAddr:     cfg.AdminAddr,
	}
	mgr := network.NewManager(srvCfg, &consoleEvents{})
	defer mgr.StopNetwork()

	switch mode {
	case "host":
		if err := mgr.HostGame(cfg.PlayerName); err != nil {
			fmt.Fprintf(os.Stderr, "host failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("hosting on tcp=%d udp=%d, Ctrl+C to stop\n", cfg.TCPPort, cfg.UDPPort)
		waitForSignal()

	case "join":
		if addr == "" {
			fmt.Fprintln(os.Stderr, "join mode needs -addr")
			os.Exit(1)
		}
		if err := mgr.JoinGame(cfg.PlayerName, addr, cfg.TCPPort, cfg.UDPPort); err != nil {
			fmt.Fprintf(os.Stderr, "join failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("connected, Ctrl+C to leave")
		waitForSignal()

	case "discover":
		if err := mgr.StartServerSearch(); err != nil {
			fmt.Fprintf(os.Stderr, "discover failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("listening for servers, Ctrl+C to stop")
		waitForSignal()

	default:
		fmt.Fprintf(os.Stderr, "unknown mode %q\n", mode)
		os.Exit(1)
	}

	logging.Log.Info("shutting down...")
}

// 优雅退出（Ctrl+C）
func waitForSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
}

// consoleEvents 把联机事件打到终端
type consoleEvents struct{}

func (consoleEvents) OnModeChanged(mode network.Mode) {
	fmt.Printf("* mode: %s\n", mode)
}

func (consoleEvents) OnPlayerListUpdate(players []client.PlayerInfo) {
	fmt.Println("* players:")
	for _, p := range players {
		tag := ""
		if p.IsHost {
			tag = " (host)"
		}
		ready := ""
		if p.Ready {
			ready = " [ready]"
		}
		fmt.Printf("    #%d %s%s%s\n", p.ID, p.Name, tag, ready)
	}
}

func (consoleEvents) OnChatMessage(name, message string, system bool) {
	if system {
		fmt.Printf("* %s %s\n", name, message)
		return
	}
	fmt.Printf("<%s> %s\n", name, message)
}

func (consoleEvents) OnGameStart(seed int64) {
	fmt.Printf("* game started (seed=%d)\n", seed)
}

func (consoleEvents) OnReturnToLobby() {
	fmt.Println("* back to lobby")
}

func (consoleEvents) OnDisconnected(reason string) {
	fmt.Printf("* disconnected: %s\n", reason)
}

func (consoleEvents) OnError(msg string) {
	fmt.Printf("* error: %s\n", msg)
}

func (consoleEvents) OnPingUpdate(pingMs int) {
	// 每秒刷新，终端里不刷屏
}

func (consoleEvents) OnServerFound(info discovery.ServerInfo) {
	fmt.Printf("* found %s at %s\n", info, info.Key())
}

func (consoleEvents) OnServerLost(key string) {
	fmt.Printf("* lost %s\n", key)
}
