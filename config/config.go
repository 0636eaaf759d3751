// Package config 从环境变量（可选 .env 文件）加载运行配置。
// 缺省值全部取自协议常量，env 只做覆盖。
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"voidrunner/logging"
	"voidrunner/protocol"
)

// Config 运行配置
type Config struct {
	PlayerName    string
	ServerName    string
	TCPPort       int
	UDPPort       int
	DiscoveryPort int
	AdminAddr     string
	LogPath       string
}

// Load 读取 .env（存在时）与环境变量，返回带默认值的配置
func Load() Config {
	if err := godotenv.Load(); err == nil {
		logging.Log.Debug("loaded .env")
	}

	return Config{
		PlayerName:    envString("VOIDRUNNER_PLAYER_NAME", "Runner"),
		ServerName:    envString("VOIDRUNNER_SERVER_NAME", ""),
		TCPPort:       envInt("VOIDRUNNER_TCP_PORT", protocol.TCPPort),
		UDPPort:       envInt("VOIDRUNNER_UDP_PORT", protocol.UDPPort),
		DiscoveryPort: envInt("VOIDRUNNER_DISCOVERY_PORT", protocol.DiscoveryPort),
		AdminAddr:     envString("VOIDRUNNER_ADMIN_ADDR", ""),
		LogPath:       envString("VOIDRUNNER_LOG", "voidrunner.log"),
	}
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logging.Log.Warnf("bad %s=%q, using %d", key, v, def)
		return def
	}
	return n
}
