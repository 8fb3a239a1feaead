package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"supashowcase/pkg/domain"
	"supashowcase/services/demo/internal/app"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = 50 * time.Second
)

const errFeedLost = "live updates interrupted"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

func (s *Server) handleRecipients(w http.ResponseWriter, r *http.Request, v app.Viewer) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	list := s.app.Recipients
	if refreshing(r) {
		list = s.app.RefreshRecipients
	}
	contacts, err := list(r.Context(), v)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": contacts,
		"count": len(contacts),
	})
}

// /api/chat/participants?ids=a,b
func (s *Server) handleParticipants(w http.ResponseWriter, r *http.Request, v app.Viewer) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	ids := strings.Split(r.URL.Query().Get("ids"), ",")
	people, err := s.app.Participants(r.Context(), v, ids)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": people})
}

type sendRequest struct {
	Body string `json:"body"`
}

// /api/chat/messages: GET ?recipient= opens a conversation (without it the
// open one is returned), POST sends to the open conversation. ?refresh=true
// refetches instead of serving the cache.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request, v app.Viewer) {
	switch r.Method {
	case http.MethodGet:
		refresh := refreshing(r)
		if recipient := strings.TrimSpace(r.URL.Query().Get("recipient")); recipient != "" {
			open := s.app.OpenConversation
			if refresh {
				open = s.app.RefreshConversation
			}
			conv, err := open(r.Context(), v, recipient)
			if err != nil {
				writeAppError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, conv)
			return
		}
		load := s.app.Messages
		if refresh {
			load = s.app.RefreshMessages
		}
		msgs, err := load(r.Context(), v)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"recipient": s.app.Room(v).Recipient(),
			"messages":  msgs,
		})
	case http.MethodPost:
		var req sendRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		msg, err := s.app.SendMessage(r.Context(), v, req.Body)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, msg)
	default:
		methodNotAllowed(w)
	}
}

// streamFrame is one server-to-client websocket message.
type streamFrame struct {
	Type      string           `json:"type"`
	Recipient string           `json:"recipient,omitempty"`
	Messages  []domain.Message `json:"messages,omitempty"`
	Message   *domain.Message  `json:"message,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// handleStream pushes the open conversation over a websocket whenever a
// message arrives. Clients send {"body": "..."} frames to post. The stream
// ends when the viewer's room closes, e.g. on sign-out. When the platform
// feed drops the client gets an error frame followed by a fresh history
// once the conversation is subscribed again.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, v app.Viewer) {
	recipient := strings.TrimSpace(r.URL.Query().Get("recipient"))
	if recipient == "" {
		writeError(w, http.StatusBadRequest, "recipient is required")
		return
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger(r).Warn("websocket upgrade failed", "err", err)
		return
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	room := s.app.Room(v)
	conv, err := s.app.OpenConversation(ctx, v, recipient)
	if err != nil {
		_ = writeFrame(ws, streamFrame{Type: "error", Error: err.Error()})
		return
	}
	if err := writeFrame(ws, streamFrame{Type: "history", Recipient: conv.Recipient, Messages: conv.Messages}); err != nil {
		return
	}

	sendErrs := make(chan error, 1)
	go s.readStream(ctx, cancel, ws, v, sendErrs)

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-sendErrs:
			if err := writeFrame(ws, streamFrame{Type: "error", Error: err.Error()}); err != nil {
				return
			}
		case <-ping.C:
			_ = ws.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-room.Lost():
			logger(r).Warn("conversation feed lost; resubscribing", "user_id", v.ID, "recipient", recipient)
			if err := writeFrame(ws, streamFrame{Type: "error", Error: errFeedLost}); err != nil {
				return
			}
			conv, err := s.app.OpenConversation(ctx, v, recipient)
			if err != nil {
				_ = writeFrame(ws, streamFrame{Type: "error", Error: err.Error()})
				return
			}
			if err := writeFrame(ws, streamFrame{Type: "history", Recipient: conv.Recipient, Messages: conv.Messages}); err != nil {
				return
			}
		case _, ok := <-room.Updates():
			if !ok {
				_ = writeFrame(ws, streamFrame{Type: "closed"})
				return
			}
			msgs, err := room.Messages(ctx)
			if err != nil {
				logger(r).Warn("stream refresh failed", "user_id", v.ID, "err", err)
				continue
			}
			if err := writeFrame(ws, streamFrame{Type: "messages", Recipient: room.Recipient(), Messages: msgs}); err != nil {
				return
			}
		}
	}
}

// readStream handles client frames until the connection drops. Sent
// messages come back through the room's update feed; failures go to errs.
func (s *Server) readStream(ctx context.Context, cancel context.CancelFunc, ws *websocket.Conn, v app.Viewer, errs chan<- error) {
	defer cancel()
	ws.SetReadLimit(maxJSONBytes)
	_ = ws.SetReadDeadline(time.Now().Add(streamPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	for {
		var req sendRequest
		if err := ws.ReadJSON(&req); err != nil {
			return
		}
		if _, err := s.app.SendMessage(ctx, v, req.Body); err != nil {
			select {
			case errs <- err:
			default:
			}
		}
	}
}

func writeFrame(ws *websocket.Conn, f streamFrame) error {
	_ = ws.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return ws.WriteJSON(f)
}
