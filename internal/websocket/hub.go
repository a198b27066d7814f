package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/gofiber/contrib/websocket"

	"github.com/moodremix/api/internal/model"
)

// Client is one websocket subscriber of a task
type Client struct {
	TaskID string
	Conn   *websocket.Conn
	Send   chan []byte
}

// Hub fans task transitions out to subscribers
type Hub struct {
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage
	quit       chan struct{}

	mu   sync.RWMutex
	stop sync.Once
}

// BroadcastMessage is an encoded message for one task's subscribers
type BroadcastMessage struct {
	TaskID  string          `json:"task_id"`
	Message json.RawMessage `json:"message"`
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
		quit:       make(chan struct{}),
	}
}

// Run is the hub's main loop. It returns after Stop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.TaskID] == nil {
				h.clients[client.TaskID] = make(map[*Client]bool)
			}
			h.clients[client.TaskID][client] = true
			h.mu.Unlock()
			log.WithField("task_id", client.TaskID).Debug("websocket client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()
			log.WithField("task_id", client.TaskID).Debug("websocket client unregistered")

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients[msg.TaskID] {
				select {
				case client.Send <- msg.Message:
				default:
					// slow consumer
					h.remove(client)
				}
			}
			h.mu.Unlock()

		case <-h.quit:
			h.mu.Lock()
			for _, clients := range h.clients {
				for client := range clients {
					h.remove(client)
				}
			}
			h.mu.Unlock()
			return
		}
	}
}

// remove must be called with mu held.
func (h *Hub) remove(client *Client) {
	clients, ok := h.clients[client.TaskID]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	close(client.Send)
	if len(clients) == 0 {
		delete(h.clients, client.TaskID)
	}
}

// Stop ends Run and closes every client. It is safe to call more than once.
func (h *Hub) Stop() {
	h.stop.Do(func() { close(h.quit) })
}

// Subscribers returns how many clients follow taskID.
func (h *Hub) Subscribers(taskID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[taskID])
}

func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.quit:
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.quit:
	}
}

// Publish queues an already encoded message for taskID's subscribers.
func (h *Hub) Publish(msg *BroadcastMessage) {
	select {
	case h.broadcast <- msg:
	case <-h.quit:
	}
}

func (h *Hub) send(taskID string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.WithError(err).Error("failed to marshal websocket message")
		return
	}
	h.Publish(&BroadcastMessage{TaskID: taskID, Message: data})
}

// BroadcastProgress sends a progress update to all task subscribers
func (h *Hub) BroadcastProgress(taskID string, progress int, status model.TaskStatus) {
	h.send(taskID, ProgressMessage(taskID, progress, status))
}

// BroadcastComplete sends the finished task to all its subscribers
func (h *Hub) BroadcastComplete(t *model.Task) {
	h.send(t.ID, CompleteMessage(t))
}

// BroadcastError sends a failure to all task subscribers
func (h *Hub) BroadcastError(taskID string, code, message string) {
	h.send(taskID, ErrorMessage(taskID, code, message))
}

func ProgressMessage(taskID string, progress int, status model.TaskStatus) model.WSProgressMessage {
	return model.WSProgressMessage{
		Type:     model.WSMessageTypeProgress,
		TaskID:   taskID,
		Progress: progress,
		Status:   status,
	}
}

func CompleteMessage(t *model.Task) model.WSCompleteMessage {
	return model.WSCompleteMessage{Type: model.WSMessageTypeComplete, Task: t}
}

func ErrorMessage(taskID, code, message string) model.WSErrorMessage {
	return model.WSErrorMessage{
		Type:   model.WSMessageTypeError,
		TaskID: taskID,
		Error:  model.WSError{Code: code, Message: message},
	}
}

// HandleConnection serves one subscriber until it disconnects. snapshot,
// when non-nil, is written first so late subscribers see the current state.
func (h *Hub) HandleConnection(c *websocket.Conn, taskID string, snapshot interface{}) {
	client := &Client{
		TaskID: taskID,
		Conn:   c,
		Send:   make(chan []byte, 256),
	}

	h.Register(client)
	defer h.Unregister(client)

	if snapshot != nil {
		if data, err := json.Marshal(snapshot); err == nil {
			if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}

	pongs := make(chan struct{}, 1)
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-client.Send:
				if !ok {
					_ = c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-pongs:
				pong, _ := json.Marshal(model.WSMessage{Type: model.WSMessageTypePong})
				if err := c.WriteMessage(websocket.TextMessage, pong); err != nil {
					return
				}

			case <-ticker.C:
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.WithError(err).WithField("task_id", taskID).Warn("websocket error")
			}
			break
		}

		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == model.WSMessageTypePing {
			select {
			case pongs <- struct{}{}:
			default:
			}
		}
	}
}
