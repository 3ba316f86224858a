package socket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chatservice "codesync/internal/chat/service"
	"codesync/internal/document/model"
	docservice "codesync/internal/document/service"
	"codesync/internal/presence"
	"codesync/middleware"
	consolemail "codesync/services/email/console"
	"codesync/store"
)

type wsFixture struct {
	hub   *Hub
	docs  *docservice.DocumentService
	srv   *httptest.Server
	docID string
}

func newWsFixture(t *testing.T) *wsFixture {
	t.Helper()

	mem := store.NewMemoryStore()
	docs := docservice.NewDocumentService(mem, mem, mem, consolemail.NewService())
	chat := chatservice.NewChatService(mem, mem)
	tracker := presence.NewTracker(time.Minute)

	hub := NewHub(docs, chat, tracker)
	go hub.Run()

	ctx := context.Background()
	owner := middleware.Identity{UserID: "owner-1", DisplayName: "Olive"}
	docID, err := docs.CreateDocument(ctx, owner, model.CreateDocRequest{Title: "Shared Doc"})
	require.NoError(t, err)
	require.NoError(t, docs.InviteCollaborator(ctx, owner, model.InviteRequest{DocID: docID, UserID: "writer-1", Role: store.RoleWriter}))
	require.NoError(t, docs.InviteCollaborator(ctx, owner, model.InviteRequest{DocID: docID, UserID: "reader-1", Role: store.RoleReader}))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := middleware.Identity{
			UserID:      r.URL.Query().Get("user"),
			DisplayName: r.URL.Query().Get("name"),
		}
		ServeWs(hub, w, r, identity)
	}))
	t.Cleanup(srv.Close)

	return &wsFixture{hub: hub, docs: docs, srv: srv, docID: docID}
}

func (f *wsFixture) dial(t *testing.T, userID, name string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") +
		"?docId=" + f.docID + "&user=" + userID + "&name=" + name
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads messages off conn until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, msgType string) WSMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var msg WSMessage
		require.NoError(t, conn.ReadJSON(&msg), "waiting for %s", msgType)
		if msg.Type == msgType {
			return msg
		}
	}
}

func TestJoinDeliversSnapshotAndMetadata(t *testing.T) {
	f := newWsFixture(t)
	conn := f.dial(t, "writer-1", "Walt")

	update := readUntil(t, conn, UpdateType)
	var doc store.Document
	require.NoError(t, json.Unmarshal(update.Payload, &doc))
	assert.Equal(t, f.docID, doc.ID)

	readUntil(t, conn, ChatSyncType)

	meta := readUntil(t, conn, MetadataType)
	var info map[string]string
	require.NoError(t, json.Unmarshal(meta.Payload, &info))
	assert.Equal(t, "Shared Doc", info["title"])
	assert.Equal(t, "writer", info["role"])

	pres := readUntil(t, conn, PresenceUpdateType)
	var entries []store.PresenceEntry
	require.NoError(t, json.Unmarshal(pres.Payload, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "writer-1", entries[0].UserID)
}

func TestUpdateFansOutToWholeRoom(t *testing.T) {
	f := newWsFixture(t)
	writer := f.dial(t, "writer-1", "Walt")
	observer := f.dial(t, "owner-1", "Olive")
	readUntil(t, writer, MetadataType)
	readUntil(t, observer, MetadataType)

	payload, _ := json.Marshal(UpdatePayload{Content: "hello room"})
	require.NoError(t, writer.WriteJSON(WSMessage{Type: UpdateType, Payload: payload}))

	for _, conn := range []*websocket.Conn{writer, observer} {
		var doc store.Document
		for {
			msg := readUntil(t, conn, UpdateType)
			require.NoError(t, json.Unmarshal(msg.Payload, &doc))
			if doc.Content != "" {
				break
			}
		}
		assert.Equal(t, "hello room", doc.Content)
		assert.Equal(t, int64(2), doc.Version)
	}
}

func TestChatMessageSyncsFullList(t *testing.T) {
	f := newWsFixture(t)
	sender := f.dial(t, "writer-1", "Walt")
	receiver := f.dial(t, "owner-1", "Olive")
	readUntil(t, sender, MetadataType)
	readUntil(t, receiver, MetadataType)

	payload, _ := json.Marshal(ChatPayload{Body: "anyone here?"})
	require.NoError(t, sender.WriteJSON(WSMessage{Type: ChatType, Payload: payload}))

	for _, conn := range []*websocket.Conn{sender, receiver} {
		var list []store.ChatMessage
		for {
			msg := readUntil(t, conn, ChatSyncType)
			require.NoError(t, json.Unmarshal(msg.Payload, &list))
			if len(list) > 0 {
				break
			}
		}
		require.Len(t, list, 1)
		assert.Equal(t, "anyone here?", list[0].Body)
		assert.Equal(t, "writer-1", list[0].SenderID)
	}
}

func TestReaderCannotEdit(t *testing.T) {
	f := newWsFixture(t)
	reader := f.dial(t, "reader-1", "Rita")
	readUntil(t, reader, MetadataType)

	payload, _ := json.Marshal(UpdatePayload{Content: "sneaky edit"})
	require.NoError(t, reader.WriteJSON(WSMessage{Type: UpdateType, Payload: payload}))

	errMsg := readUntil(t, reader, ErrorType)
	var detail map[string]string
	require.NoError(t, json.Unmarshal(errMsg.Payload, &detail))
	assert.Contains(t, detail["error"], "permission denied")

	doc, err := f.docs.Docs.Get(context.Background(), f.docID)
	require.NoError(t, err)
	assert.Empty(t, doc.Content)
}

func TestStrangerIsRejectedBeforeUpgrade(t *testing.T) {
	f := newWsFixture(t)

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "?docId=" + f.docID + "&user=stranger-1"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestCursorBroadcastExcludesSender(t *testing.T) {
	f := newWsFixture(t)
	mover := f.dial(t, "writer-1", "Walt")
	watcher := f.dial(t, "owner-1", "Olive")
	readUntil(t, mover, PresenceUpdateType)
	readUntil(t, watcher, PresenceUpdateType)

	payload, _ := json.Marshal(map[string]int{"line": 4, "col": 2})
	require.NoError(t, mover.WriteJSON(WSMessage{Type: CursorType, Payload: payload}))

	msg := readUntil(t, watcher, CursorType)
	assert.Equal(t, "writer-1", msg.UserID)

	// The sender must not receive its own cursor back; the next message it
	// sees is presence traffic or nothing at all.
	mover.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	for {
		var echo WSMessage
		if err := mover.ReadJSON(&echo); err != nil {
			break // deadline hit, no echo arrived
		}
		require.NotEqual(t, CursorType, echo.Type)
	}
}

func TestLeaveUpdatesPresence(t *testing.T) {
	f := newWsFixture(t)
	leaver := f.dial(t, "writer-1", "Walt")
	stayer := f.dial(t, "owner-1", "Olive")
	readUntil(t, leaver, PresenceUpdateType)

	// Wait until the stayer has seen both participants.
	for {
		msg := readUntil(t, stayer, PresenceUpdateType)
		var entries []store.PresenceEntry
		require.NoError(t, json.Unmarshal(msg.Payload, &entries))
		if len(entries) == 2 {
			break
		}
	}

	leaver.Close()

	for {
		msg := readUntil(t, stayer, PresenceUpdateType)
		var entries []store.PresenceEntry
		require.NoError(t, json.Unmarshal(msg.Payload, &entries))
		if len(entries) == 1 {
			assert.Equal(t, "owner-1", entries[0].UserID)
			break
		}
	}
}
