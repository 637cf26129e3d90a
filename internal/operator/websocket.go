// internal/operator/websocket.go
package operator

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/webpilot/api/schemas"
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
	// Outbound buffer per client; events beyond this are dropped, not blocked on.
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The server binds to loopback by default; origin is not checked.
		return true
	},
}

// taskRequest is what a connected operator sends to start or resume a task.
type taskRequest struct {
	Objective string `json:"objective"`
	StartURL  string `json:"start_url,omitempty"`
	// TaskID with resume set picks up a previously persisted task.
	TaskID string `json:"task_id,omitempty"`
	Resume bool   `json:"resume,omitempty"`
}

// event is the envelope for every outbound frame.
type event struct {
	Type    string             `json:"type"`
	TaskID  string             `json:"task_id"`
	Message *schemas.UIMessage `json:"message,omitempty"`
	// Messages carries the exact outgoing prompt for prompt_debug events.
	Messages     []schemas.ChatMessage `json:"messages,omitempty"`
	Error        string                `json:"error,omitempty"`
	Success      bool                  `json:"success,omitempty"`
	FinalMessage string                `json:"final_message,omitempty"`
}

// Submission is one task request paired with the operator channel bound to
// the connection that sent it. When that connection drops, the channel's
// Closed fires and the loop cancels between actions.
type Submission struct {
	Request taskRequest
	Channel schemas.OperatorChannel
}

func (s Submission) Objective() string { return s.Request.Objective }
func (s Submission) StartURL() string  { return s.Request.StartURL }
func (s Submission) TaskID() string    { return s.Request.TaskID }
func (s Submission) Resume() bool      { return s.Request.Resume }

// Client is a middleman between one websocket connection and the hub.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	// Buffered channel of outbound messages.
	send chan []byte
	// done is closed on unregister and backs OperatorChannel.Closed.
	done chan struct{}
}

// channel is the per-connection OperatorChannel view handed to the loop.
type channel struct {
	client *Client
}

var _ schemas.OperatorChannel = (*channel)(nil)

func (ch *channel) EmitUIMessage(msg schemas.UIMessage) {
	ch.client.sendEvent(event{Type: "ui_message", TaskID: msg.TaskID, Message: &msg})
}

func (ch *channel) EmitPromptDebug(taskID string, messages []schemas.ChatMessage) {
	ch.client.sendEvent(event{Type: "prompt_debug", TaskID: taskID, Messages: messages})
}

func (ch *channel) EmitError(taskID string, errMsg string) {
	ch.client.sendEvent(event{Type: "error", TaskID: taskID, Error: errMsg})
}

func (ch *channel) EmitDone(taskID string, success bool, finalMessage string) {
	ch.client.sendEvent(event{Type: "done", TaskID: taskID, Success: success, FinalMessage: finalMessage})
}

func (ch *channel) Closed() <-chan struct{} { return ch.client.done }

func (c *Client) sendEvent(evt event) {
	frame, err := json.Marshal(evt)
	if err != nil {
		c.hub.logger.Error("Failed to marshal outbound event", zap.Error(err))
		return
	}
	select {
	case <-c.done:
	case c.send <- frame:
	default:
		c.hub.logger.Warn("Dropping event for slow client.",
			zap.String("client_id", c.id), zap.String("type", evt.Type))
	}
}

// readPump pumps task requests from the websocket connection to the hub.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("Websocket client read error", zap.Error(err))
			}
			break
		}

		var req taskRequest
		if err := json.Unmarshal(message, &req); err != nil {
			c.hub.logger.Error("Failed to unmarshal task request", zap.Error(err), zap.ByteString("message", message))
			c.sendEvent(event{Type: "error", Error: "malformed task request"})
			continue
		}
		if req.Objective == "" && !req.Resume {
			c.sendEvent(event{Type: "error", Error: "objective is required"})
			continue
		}

		c.hub.logger.Info("Received task request from operator.",
			zap.String("client_id", c.id),
			zap.String("objective", req.Objective),
			zap.Bool("resume", req.Resume),
		)
		select {
		case c.hub.submissions <- Submission{Request: req, Channel: &channel{client: c}}:
		case <-c.done:
			return
		}
	}
}

// writePump pumps events from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case <-c.done:
			// The hub dropped the client.
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Hub manages websocket operator connections and surfaces their task
// submissions to the serve command.
type Hub struct {
	logger      *zap.Logger
	clients     map[*Client]bool
	register    chan *Client
	unregister  chan *Client
	submissions chan Submission
	// done is closed when Run returns; registers and unregisters racing the
	// shutdown select against it instead of blocking forever.
	done chan struct{}
	mu   sync.RWMutex
}

// NewHub creates a connection hub. Submissions are consumed via Submissions.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:      logger.Named("operator_hub"),
		clients:     make(map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		submissions: make(chan Submission, 8),
		done:        make(chan struct{}),
	}
}

// Submissions delivers task requests from connected operators.
func (h *Hub) Submissions() <-chan Submission { return h.submissions }

// Run owns the client set until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("Operator hub started.")
	defer h.logger.Info("Operator hub stopped.")

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.done)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			close(h.done)
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.logger.Info("Operator connected.", zap.String("client_id", client.id))
			h.mu.Unlock()
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.done)
				h.logger.Info("Operator disconnected.", zap.String("client_id", client.id))
			}
			h.mu.Unlock()
		}
	}
}

// HandleWS upgrades an operator connection and starts its pumps.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}
	client := &Client{
		id:   uuid.New().String(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}
	select {
	case h.register <- client:
	case <-h.done:
		// The hub is gone; there is nobody to track this connection.
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
