package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"voidrunner/logging"
)

// spectator 旁观连接：只收不发，收到的是服务器广播的原始快照载荷
type spectator struct {
	ws   *websocket.Conn
	send chan []byte
}

// enqueue 非阻塞入队，满则丢弃——旁观不允许拖慢广播路径
func (sp *spectator) enqueue(b []byte) {
	select {
	case sp.send <- b:
	default:
	}
}

// writePump 独立协程，从队列写出到 WS
func (sp *spectator) writePump(hub *spectatorHub) {
	defer func() {
		hub.remove(sp)
		_ = sp.ws.Close()
	}()
	for msg := range sp.send {
		_ = sp.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := sp.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

type spectatorHub struct {
	mu    sync.Mutex
	specs map[*spectator]struct{}
}

func newSpectatorHub() *spectatorHub {
	return &spectatorHub{specs: make(map[*spectator]struct{})}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 仅限局域网运维使用，放开来源检查
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (h *spectatorHub) handleWatch(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Log.Warnf("spectator upgrade: %v", err)
		return
	}
	sp := &spectator{ws: ws, send: make(chan []byte, 64)}
	h.mu.Lock()
	h.specs[sp] = struct{}{}
	h.mu.Unlock()
	go sp.writePump(h)

	// 读协程只为感知对端关闭
	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				h.remove(sp)
				return
			}
		}
	}()
	logging.Log.Info("spectator attached")
}

func (h *spectatorHub) broadcast(data []byte) {
	h.mu.Lock()
	for sp := range h.specs {
		sp.enqueue(data)
	}
	h.mu.Unlock()
}

func (h *spectatorHub) remove(sp *spectator) {
	h.mu.Lock()
	if _, ok := h.specs[sp]; ok {
		delete(h.specs, sp)
		close(sp.send)
	}
	h.mu.Unlock()
}

func (h *spectatorHub) closeAll() {
	h.mu.Lock()
	for sp := range h.specs {
		delete(h.specs, sp)
		close(sp.send)
	}
	h.mu.Unlock()
}
