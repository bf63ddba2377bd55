package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pocketping/hub/pkg/broadcast"
	"github.com/pocketping/hub/pkg/chat"
	"github.com/pocketping/hub/pkg/hub"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
	wsMaxMsgSize = 64 * 1024
)

// wsClient adapts a gorilla connection to broadcast.Conn. Writes are
// funneled through the send channel so only the write pump touches the
// socket.
type wsClient struct {
	conn *websocket.Conn
	send chan broadcast.Event
}

var _ broadcast.Conn = (*wsClient)(nil)

func (c *wsClient) WriteJSON(v interface{}) error {
	event, ok := v.(broadcast.Event)
	if !ok {
		return errors.New("unexpected payload type")
	}
	select {
	case c.send <- event:
		return nil
	default:
		return errors.New("client send buffer full")
	}
}

func (c *wsClient) Close() error {
	return c.conn.Close()
}

func (s *Server) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, allowed := range s.origins {
				if allowed == "*" || allowed == origin {
					return true
				}
			}
			return false
		},
	}
}

// handleWebSocket attaches a widget to its session's event stream. Inbound
// frames mirror the REST surface so the widget can run entirely over the
// socket once connected.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session query parameter is required")
		return
	}
	if _, err := s.hub.Session(r.Context(), sessionID); err != nil {
		s.writeHubError(w, err)
		return
	}

	up := s.upgrader()
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &wsClient{conn: conn, send: make(chan broadcast.Event, 64)}
	s.hub.Broadcaster().Register(sessionID, client)

	go s.writePump(client)
	s.readPump(r, client, sessionID)
}

func (s *Server) writePump(c *wsClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// wsFrame is one inbound widget frame.
type wsFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (s *Server) readPump(r *http.Request, c *wsClient, sessionID string) {
	defer func() {
		s.hub.Broadcaster().Unregister(sessionID, c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(wsMaxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		var frame wsFrame
		if err := c.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket closed unexpectedly",
					zap.String("session_id", sessionID),
					zap.Error(err))
			}
			return
		}
		s.handleFrame(r, c, sessionID, frame)
	}
}

func (s *Server) handleFrame(r *http.Request, c *wsClient, sessionID string, frame wsFrame) {
	ctx := r.Context()

	switch frame.Type {
	case "message":
		var req sendMessageRequest
		if err := json.Unmarshal(frame.Data, &req); err != nil {
			return
		}
		if req.Sender == "" {
			req.Sender = chat.SenderVisitor
		}
		if _, err := s.hub.SendMessage(ctx, hub.SendMessageParams{
			SessionID:   sessionID,
			Content:     req.Content,
			Sender:      req.Sender,
			SenderName:  req.SenderName,
			ReplyTo:     req.ReplyTo,
			Attachments: req.Attachments,
		}); err != nil {
			c.WriteJSON(broadcast.Event{Type: "error", Data: err.Error()})
		}

	case "typing":
		var req typingRequest
		if err := json.Unmarshal(frame.Data, &req); err != nil {
			return
		}
		if req.Sender == "" {
			req.Sender = chat.SenderVisitor
		}
		s.hub.SetTyping(ctx, hub.TypingParams{
			SessionID: sessionID,
			Sender:    req.Sender,
			IsTyping:  req.IsTyping,
		})

	case "read":
		var req readStatusRequest
		if err := json.Unmarshal(frame.Data, &req); err != nil {
			return
		}
		s.hub.UpdateReadStatus(ctx, sessionID, req.MessageIDs, req.Status)

	case "event":
		var req customEventRequest
		if err := json.Unmarshal(frame.Data, &req); err != nil || req.Name == "" {
			return
		}
		s.hub.DispatchCustomEvent(ctx, chat.CustomEvent{
			Name:      req.Name,
			SessionID: sessionID,
			Data:      req.Data,
			Timestamp: time.Now().UTC(),
		})
	}
}
