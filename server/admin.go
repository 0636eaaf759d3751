package server

import (
	"encoding/json"
	"net/http"

	"voidrunner/logging"
)

// 管理与监控接口（仅限运维，不参与游戏协议）：
// GET /healthz       存活检查
// GET /metrics       运行指标 JSON
// GET /admin/status  名单与阶段
// GET /watch         WebSocket 旁观快照流

func (s *GameServer) startAdmin() {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/admin/status", s.handleStatus)
	mux.HandleFunc("/watch", s.specs.handleWatch)

	s.adminSrv = &http.Server{Addr: s.cfg.AdminAddr, Handler: mux}
	go func() {
		logging.Log.Infof("admin listening on %s", s.cfg.AdminAddr)
		if err := s.adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Log.Errorf("admin listen: %v", err)
		}
	}()
}

func (s *GameServer) stopAdmin() {
	if s.adminSrv != nil {
		_ = s.adminSrv.Close()
	}
}

func (s *GameServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"server":  s.cfg.ServerName,
		"phase":   s.Phase().String(),
		"players": s.PlayerCount(),
		"metrics": s.metrics.Snapshot(),
	})
}

func (s *GameServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	type entry struct {
		ID     int    `json:"id"`
		Name   string `json:"name"`
		Color  string `json:"color"`
		Ready  bool   `json:"ready"`
		IsHost bool   `json:"isHost"`
	}
	roster := s.Roster()
	out := make([]entry, 0, len(roster))
	for _, p := range roster {
		out = append(out, entry{p.ID, p.Name, p.Color, p.Ready, p.IsHost})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"phase":   s.Phase().String(),
		"players": out,
	})
}
