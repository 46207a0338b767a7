// File: internal/server/websocket.go
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/inspectbridge/api/schemas"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024
	// Buffered outgoing frames per client.
	sendChannelSize = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Callers are local tools; the listener binds to loopback by default.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsClient is one websocket connection. Its id is the cancel channel of every
// inspection it starts, so a client can only cancel its own requests.
type wsClient struct {
	id      string
	service Service
	logger  *zap.Logger
	conn    *websocket.Conn
	send    chan WSMessage

	ctx      context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup
}

// handleWebSocket upgrades the connection and serves inspect and cancel frames until
// the peer goes away. Inspections still running at that point are cancelled.
func (s *Server) handleWebSocket() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Error("Failed to upgrade connection to WebSocket.", zap.Error(err))
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		client := &wsClient{
			id:      uuid.NewString(),
			service: s.service,
			conn:    conn,
			send:    make(chan WSMessage, sendChannelSize),
			ctx:     ctx,
			cancel:  cancel,
		}
		client.logger = s.logger.With(zap.String("client", client.id))
		client.logger.Info("WebSocket connection established.", zap.String("remoteAddr", r.RemoteAddr))

		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			client.writePump()
		}()
		client.readPump()

		cancel()
		client.inflight.Wait()
		close(client.send)
		<-writerDone
		client.logger.Debug("WebSocket handler finished.")
	}
}

func (c *wsClient) readPump() {
	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error("Failed to set initial read deadline.", zap.Error(err))
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("WebSocket closed unexpectedly.", zap.Error(err))
			} else {
				c.logger.Info("WebSocket connection closed.")
			}
			return
		}
		var msg WSMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.sendError("", http.StatusBadRequest, fmt.Sprintf("Invalid frame: %v", err))
			continue
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
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Error("Failed to set write deadline.", zap.Error(err))
				return
			}
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			payload, err := json.Marshal(message)
			if err != nil {
				c.logger.Error("Failed to encode WebSocket frame.", zap.Error(err))
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.logger.Error("Error writing WebSocket frame.", zap.Error(err))
				c.cancel()
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Error("Failed to set write deadline for PING.", zap.Error(err))
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Error("Error sending PING message.", zap.Error(err))
				c.cancel()
				return
			}
		}
	}
}

func (c *wsClient) processMessage(msg WSMessage) {
	switch msg.Type {
	case MsgInspect:
		var req schemas.InspectRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			c.sendError(msg.RequestID, http.StatusBadRequest, fmt.Sprintf("Invalid inspect payload: %v", err))
			return
		}
		req.Channel = c.id
		if req.Token == "" {
			req.Token = msg.RequestID
		}
		if req.Token == "" {
			req.Token = uuid.NewString()
		}
		c.inflight.Add(1)
		go c.inspect(req)

	case MsgCancel:
		token := msg.RequestID
		if len(msg.Data) > 0 {
			var req schemas.CancelRequest
			if err := json.Unmarshal(msg.Data, &req); err == nil && req.Token != "" {
				token = req.Token
			}
		}
		if !c.service.Cancel(c.id, token) {
			c.logger.Debug("Cancel matched no inspection.", zap.String("token", token))
		}

	default:
		c.logger.Warn("Received unknown message type.", zap.String("type", string(msg.Type)))
		c.sendError(msg.RequestID, http.StatusBadRequest, fmt.Sprintf("Unknown message type: %s", msg.Type))
	}
}

// inspect runs on its own goroutine so the read pump keeps serving cancels.
func (c *wsClient) inspect(req schemas.InspectRequest) {
	defer c.inflight.Done()

	data, err := c.service.Inspect(c.ctx, req)
	if err != nil {
		c.sendError(req.Token, StatusFor(err), err.Error())
		return
	}
	// A nil result (no selection) is sent as a null payload.
	payload, err := json.Marshal(data)
	if err != nil {
		c.sendError(req.Token, http.StatusInternalServerError, err.Error())
		return
	}
	c.sendMessage(MsgResult, req.Token, payload)
}

func (c *wsClient) sendMessage(msgType MessageType, requestID string, data jsoniter.RawMessage) {
	msg := WSMessage{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RequestID: requestID,
	}
	select {
	case c.send <- msg:
	default:
		c.logger.Error("WebSocket send buffer full, dropping message.",
			zap.String("requestID", requestID), zap.String("type", string(msgType)))
	}
}

func (c *wsClient) sendError(requestID string, status int, message string) {
	payload, _ := json.Marshal(WSError{Error: message, Status: status})
	c.sendMessage(MsgError, requestID, payload)
}
