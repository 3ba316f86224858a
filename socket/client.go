package socket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"codesync/middleware"
	"codesync/pkg/logger"
	"codesync/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CheckOrigin allows connections from the dev front end
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Client struct {
	Hub      *Hub
	Conn     *websocket.Conn
	DocID    string
	Identity middleware.Identity
	Role     store.Role
	Title    string
	Send     chan []byte

	docSub  store.Subscription
	chatSub store.Subscription

	mu     sync.Mutex
	closed bool
}

// ServeWs upgrades the connection and joins the client to the document's
// room. Callers must have authenticated the request already.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request, identity middleware.Identity) {
	docID := r.URL.Query().Get("docId")
	if docID == "" {
		http.Error(w, "Missing docId parameter", http.StatusBadRequest)
		return
	}

	role, err := hub.docs.RoleOf(r.Context(), docID, identity.UserID)
	if err != nil {
		logger.Sugar.Warnf("Connection rejected: %s has no access to doc %s: %v", identity.UserID, docID, err)
		http.Error(w, "Unauthorized or document not found", http.StatusForbidden)
		return
	}
	doc, err := hub.docs.Docs.Get(r.Context(), docID)
	if err != nil {
		logger.Sugar.Warnf("Connection rejected: document %s not found: %v", docID, err)
		http.Error(w, "Document not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Sugar.Error(err)
		return
	}

	client := &Client{
		Hub:      hub,
		Conn:     conn,
		DocID:    docID,
		Identity: identity,
		Role:     role,
		Title:    doc.Title,
		Send:     make(chan []byte, 256),
	}

	client.Hub.Register <- client

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.Hub.Unregister <- c
		c.Conn.Close()
	}()

	for {
		_, rawMessage, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Sugar.Errorf("error: %v", err)
			}
			break
		}

		var msg WSMessage
		if err := json.Unmarshal(rawMessage, &msg); err != nil {
			logger.Sugar.Errorf("Error unmarshalling message: %v", err)
			continue
		}

		// Overwrite with the server-authoritative values to prevent
		// spoofing.
		msg.DocID = c.DocID
		msg.UserID = c.Identity.UserID

		if msg.Type == UpdateType && !c.Role.CanWrite() {
			logger.Sugar.Warnf("Permission denied: user %s (role %s) tried to edit doc %s", c.Identity.UserID, c.Role, c.DocID)
			c.sendError("permission denied: only writers can edit")
			continue
		}

		c.Hub.handle(c, msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second) // ping to detect dead peers
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-c.Send:
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.Conn.WriteMessage(websocket.TextMessage, message)
		case <-ticker.C:
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue serializes msg onto the send channel. A client whose buffer is
// full is lagging badly; the message is dropped rather than blocking the
// fan-out path.
func (c *Client) enqueue(msg WSMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		logger.Sugar.Errorf("Error marshalling message for %s: %v", c.Identity.UserID, err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.Send <- payload:
	default:
		logger.Sugar.Warnf("Client %s's send buffer is full, dropping %s", c.Identity.UserID, msg.Type)
	}
}

func (c *Client) sendError(detail string) {
	payload, _ := json.Marshal(map[string]string{"error": detail})
	c.enqueue(WSMessage{Type: ErrorType, DocID: c.DocID, Payload: payload})
}

func (c *Client) markClosed() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}
