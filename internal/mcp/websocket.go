package mcp

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Same policy as the CORS middleware.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// MessageType is the kind of a websocket frame.
type MessageType string

const (
	MsgTypeCommand      MessageType = "COMMAND"
	MsgTypeResult       MessageType = "RESULT"
	MsgTypeStatusUpdate MessageType = "STATUS_UPDATE"
	MsgTypeSystemError  MessageType = "SYSTEM_ERROR"
)

// WSMessage is the frame exchanged on /ws/v1/command. A COMMAND carries a
// CommandRequest in Data ("command", "params"); the reply reuses its
// request_id.
type WSMessage struct {
	Type      MessageType            `json:"type"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp string                 `json:"timestamp"`
	RequestID string                 `json:"request_id,omitempty"`
}

const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
	maxMessageSize  = 1 << 20
	sendChannelSize = 64
)

// wsClient is one websocket connection. Commands run concurrently; the
// write pump serialises their replies.
type wsClient struct {
	server *Server
	conn   *websocket.Conn
	send   chan WSMessage
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (s *Server) handleCommandStream() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Warn("Failed to upgrade connection to WebSocket", zap.Error(err))
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		client := &wsClient{
			server: s,
			conn:   conn,
			send:   make(chan WSMessage, sendChannelSize),
			logger: s.logger.With(zap.String("remote_addr", r.RemoteAddr), zap.String("request_id", middleware.GetReqID(r.Context()))),
			ctx:    ctx,
			cancel: cancel,
		}
		client.logger.Debug("WebSocket connection established.")

		pumpDone := make(chan struct{})
		go func() {
			defer close(pumpDone)
			client.writePump()
		}()
		client.readPump()

		// Stop in-flight commands, let them finish, then stop the writer.
		cancel()
		client.wg.Wait()
		close(client.send)
		<-pumpDone
		client.logger.Debug("WebSocket connection finished.")
	}
}

func (c *wsClient) readPump() {
	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("WebSocket closed unexpectedly", zap.Error(err))
			}
			return
		}
		c.processMessage(msg)
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				c.logger.Warn("Error writing WebSocket message", zap.Error(err))
				// Unblock the reader so the handler can unwind.
				c.conn.Close()
				c.drain()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.conn.Close()
				c.drain()
				return
			}
		}
	}
}

// drain discards queued replies after the connection broke, until the
// handler closes send.
func (c *wsClient) drain() {
	for range c.send {
	}
}

func (c *wsClient) processMessage(msg WSMessage) {
	switch msg.Type {
	case MsgTypeCommand:
		if msg.RequestID == "" {
			c.sendError(msg.RequestID, "COMMAND message requires a request_id.", "VALIDATION_ERROR")
			return
		}
		command, _ := msg.Data["command"].(string)
		params, _ := msg.Data["params"].(map[string]interface{})

		c.sendMessage(MsgTypeStatusUpdate, msg.RequestID, map[string]interface{}{"status": "accepted", "command": command})

		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.runCommand(msg.RequestID, CommandRequest{Command: command, Params: params})
		}()
	default:
		c.sendError(msg.RequestID, "unsupported message type: "+string(msg.Type), "VALIDATION_ERROR")
	}
}

func (c *wsClient) runCommand(requestID string, req CommandRequest) {
	data, err := c.server.handlers.Dispatch(c.ctx, req)
	if err != nil {
		resp := errorEnvelope(err)
		c.sendError(requestID, resp.Error, resp.Kind)
		return
	}
	c.sendMessage(MsgTypeResult, requestID, map[string]interface{}{"command": req.Command, "result": data})
}

func (c *wsClient) sendMessage(msgType MessageType, requestID string, data map[string]interface{}) {
	msg := WSMessage{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RequestID: requestID,
	}
	select {
	case c.send <- msg:
	case <-c.ctx.Done():
	}
}

func (c *wsClient) sendError(requestID, message, kind string) {
	c.sendMessage(MsgTypeSystemError, requestID, map[string]interface{}{"error": message, "kind": kind})
}
