// Package socket mounts the document, chat, and presence cores behind a
// WebSocket transport. The hub owns room membership; all durable state and
// change fan-out live in the stores, so the hub is purely a delivery layer.
package socket

import (
	"context"
	"encoding/json"
	"sync"

	chatservice "codesync/internal/chat/service"
	"codesync/internal/document/model"
	docservice "codesync/internal/document/service"
	"codesync/internal/presence"
	"codesync/pkg/logger"
	"codesync/store"
)

const (
	UpdateType         = "UPDATE"          // full document state after a committed write
	RemovedType        = "REMOVED"         // document was deleted; terminal
	CursorType         = "CURSOR"          // ephemeral cursor position, not persisted
	ChatType           = "CHAT"            // client appends a chat message
	ChatSyncType       = "CHAT_SYNC"       // full ordered message list
	PresenceUpdateType = "PRESENCE_UPDATE" // who is in the room
	MetadataType       = "METADATA"        // document title/info on join
	ErrorType          = "ERROR"           // operation failure surfaced to the sender
)

type WSMessage struct {
	Type    string          `json:"type"`
	DocID   string          `json:"document_id"`
	UserID  string          `json:"user_id"`
	Payload json.RawMessage `json:"payload"`
}

type UpdatePayload struct {
	Content     string `json:"content"`
	ContentType string `json:"content_type,omitempty"`
}

type ChatPayload struct {
	Body string `json:"body"`
}

type Hub struct {
	Register   chan *Client
	Unregister chan *Client
	Broadcast  chan WSMessage // ephemeral room traffic (cursors)

	docs     *docservice.DocumentService
	chat     *chatservice.ChatService
	presence *presence.Tracker

	mu    sync.Mutex
	rooms map[string]map[*Client]bool
}

func NewHub(docs *docservice.DocumentService, chat *chatservice.ChatService, tracker *presence.Tracker) *Hub {
	h := &Hub{
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Broadcast:  make(chan WSMessage),
		docs:       docs,
		chat:       chat,
		presence:   tracker,
		rooms:      make(map[string]map[*Client]bool),
	}
	tracker.OnExpire(h.broadcastPresenceUpdate)
	return h
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.register(client)
		case client := <-h.Unregister:
			h.unregister(client)
		case msg := <-h.Broadcast:
			h.broadcast(msg)
		}
	}
}

func (h *Hub) register(client *Client) {
	h.mu.Lock()
	if h.rooms[client.DocID] == nil {
		h.rooms[client.DocID] = make(map[*Client]bool)
	}
	h.rooms[client.DocID][client] = true
	h.mu.Unlock()

	// Bind this connection to the document's change feed. The initial
	// snapshot arrives through the same path as later updates, and the
	// writer's own commits echo back by design.
	docSub, err := h.docs.Docs.Subscribe(client.DocID, func(ev store.Event) {
		switch ev.Type {
		case store.EventUpdated:
			payload, _ := json.Marshal(ev.Doc)
			client.enqueue(WSMessage{Type: UpdateType, DocID: client.DocID, Payload: payload})
		case store.EventRemoved:
			client.enqueue(WSMessage{Type: RemovedType, DocID: client.DocID})
		}
	})
	if err != nil {
		logger.Sugar.Errorf("Failed to subscribe %s to doc %s: %v", client.Identity.UserID, client.DocID, err)
	}
	client.docSub = docSub

	chatSub, err := h.chat.Watch(client.DocID, func(list []store.ChatMessage) {
		payload, _ := json.Marshal(list)
		client.enqueue(WSMessage{Type: ChatSyncType, DocID: client.DocID, Payload: payload})
	})
	if err != nil {
		logger.Sugar.Errorf("Failed to watch chat %s for %s: %v", client.DocID, client.Identity.UserID, err)
	}
	client.chatSub = chatSub

	metaPayload, _ := json.Marshal(map[string]string{"title": client.Title, "role": string(client.Role)})
	client.enqueue(WSMessage{Type: MetadataType, DocID: client.DocID, UserID: client.Identity.UserID, Payload: metaPayload})

	h.presence.Join(client.DocID, client.Identity.UserID, client.Identity.DisplayName)
	h.broadcastPresenceUpdate(client.DocID)
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	room, ok := h.rooms[client.DocID]
	if ok {
		if _, in := room[client]; !in {
			h.mu.Unlock()
			return
		}
		delete(room, client)
		if len(room) == 0 {
			delete(h.rooms, client.DocID)
		}
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	if client.docSub != nil {
		client.docSub.Cancel()
	}
	if client.chatSub != nil {
		client.chatSub.Cancel()
	}
	client.markClosed()
	close(client.Send)

	h.presence.Leave(client.DocID, client.Identity.UserID)
	h.broadcastPresenceUpdate(client.DocID)
}

// handle processes a message read from a client connection. Durable
// operations go through the services; their fan-out reaches the room via
// the store subscriptions.
func (h *Hub) handle(client *Client, msg WSMessage) {
	ctx := context.Background()

	switch msg.Type {
	case UpdateType:
		var p UpdatePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			client.sendError("invalid update payload")
			return
		}
		_, err := h.docs.SaveDocument(ctx, client.Identity, model.SaveDocRequest{
			DocID:       client.DocID,
			Content:     p.Content,
			ContentType: p.ContentType,
		})
		if err != nil {
			logger.Sugar.Warnf("Save over websocket rejected for %s on %s: %v", client.Identity.UserID, client.DocID, err)
			client.sendError(err.Error())
		}
	case ChatType:
		var p ChatPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			client.sendError("invalid chat payload")
			return
		}
		if _, err := h.chat.Append(ctx, client.Identity, client.DocID, p.Body); err != nil {
			client.sendError(err.Error())
		}
	case CursorType:
		// refresh the heartbeat; cursor motion is proof of life
		h.presence.Join(client.DocID, client.Identity.UserID, client.Identity.DisplayName)
		h.Broadcast <- msg
	default:
		logger.Sugar.Debugf("Ignoring message type %s from %s", msg.Type, client.Identity.UserID)
	}
}

// broadcast delivers an ephemeral message to everyone in the room except
// the sender.
func (h *Hub) broadcast(msg WSMessage) {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.rooms[msg.DocID]))
	for client := range h.rooms[msg.DocID] {
		if client.Identity.UserID != msg.UserID {
			clients = append(clients, client)
		}
	}
	h.mu.Unlock()

	for _, client := range clients {
		client.enqueue(msg)
	}
}

func (h *Hub) broadcastPresenceUpdate(docID string) {
	entries := h.presence.List(docID)
	payload, err := json.Marshal(entries)
	if err != nil {
		logger.Sugar.Errorf("Error marshalling presence broadcast: %v", err)
		return
	}
	msg := WSMessage{Type: PresenceUpdateType, DocID: docID, Payload: payload}

	h.mu.Lock()
	clients := make([]*Client, 0, len(h.rooms[docID]))
	for client := range h.rooms[docID] {
		clients = append(clients, client)
	}
	h.mu.Unlock()

	for _, client := range clients {
		client.enqueue(msg)
	}
}
