package platformtest

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type frame struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
	JoinRef string          `json:"join_ref,omitempty"`
}

type rtConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	// topic -> table
	joined map[string]string
}

func (c *rtConn) write(f frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(2 * time.Second))
	return c.ws.WriteJSON(f)
}

type realtimeHub struct {
	mu    sync.Mutex
	conns map[*rtConn]struct{}
}

func newRealtimeHub() *realtimeHub {
	return &realtimeHub{conns: map[*rtConn]struct{}{}}
}

func (h *realtimeHub) count(table string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for c := range h.conns {
		for _, t := range c.joined {
			if t == table {
				n++
			}
		}
	}
	return n
}

// broadcast pushes a row change to every channel joined on table.
func (h *realtimeHub) broadcast(table, kind string, row Row) {
	type target struct {
		conn  *rtConn
		topic string
	}
	h.mu.Lock()
	var targets []target
	for c := range h.conns {
		for topic, t := range c.joined {
			if t == table {
				targets = append(targets, target{conn: c, topic: topic})
			}
		}
	}
	h.mu.Unlock()
	if len(targets) == 0 {
		return
	}
	payload, _ := json.Marshal(map[string]any{
		"data": map[string]any{
			"type":             kind,
			"schema":           "public",
			"table":            table,
			"record":           row,
			"old_record":       nil,
			"commit_timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		},
		"ids": []int{1},
	})
	for _, t := range targets {
		_ = t.conn.write(frame{Topic: t.topic, Event: "postgres_changes", Payload: payload})
	}
}

func (h *realtimeHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		_ = c.ws.Close()
	}
}

func (s *Server) handleRealtime(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn := &rtConn{ws: ws, joined: map[string]string{}}
	hub := s.rt
	hub.mu.Lock()
	hub.conns[conn] = struct{}{}
	hub.mu.Unlock()
	defer func() {
		hub.mu.Lock()
		delete(hub.conns, conn)
		hub.mu.Unlock()
		_ = ws.Close()
	}()

	for {
		var f frame
		if err := ws.ReadJSON(&f); err != nil {
			return
		}
		switch f.Event {
		case "heartbeat":
			_ = conn.write(reply(f, "ok"))
		case "phx_join":
			var join struct {
				Config struct {
					PostgresChanges []struct {
						Table string `json:"table"`
					} `json:"postgres_changes"`
				} `json:"config"`
			}
			if err := json.Unmarshal(f.Payload, &join); err != nil || len(join.Config.PostgresChanges) == 0 {
				_ = conn.write(reply(f, "error"))
				continue
			}
			hub.mu.Lock()
			conn.joined[f.Topic] = join.Config.PostgresChanges[0].Table
			hub.mu.Unlock()
			_ = conn.write(reply(f, "ok"))
		case "phx_leave":
			hub.mu.Lock()
			delete(conn.joined, f.Topic)
			hub.mu.Unlock()
			_ = conn.write(reply(f, "ok"))
		default:
			if !strings.HasPrefix(f.Topic, "realtime:") {
				_ = conn.write(reply(f, "error"))
			}
		}
	}
}

func reply(f frame, status string) frame {
	payload, _ := json.Marshal(map[string]any{"status": status, "response": map[string]any{}})
	return frame{Topic: f.Topic, Event: "phx_reply", Payload: payload, Ref: f.Ref, JoinRef: f.JoinRef}
}
