package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"codesync/pkg/logger"
)

// Key layout:
//
//	doc:<id>                          -> Document JSON
//	chat:<channel>:msg:<ts>-<seq>     -> ChatMessage JSON, timestamp-sorted
//	role:<docID>:<userID>             -> Membership JSON
//	member:<userID>:<docID>           -> docID, reverse index for DocsOf
type PebbleStore struct {
	db   *pebble.DB
	path string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	seq   int64

	docEvents  *Broker[Event]
	chatEvents *Broker[[]ChatMessage]

	now func() time.Time
}

var _ Backend = (*PebbleStore)(nil)

// OpenPebble opens (or creates) a pebble database at path. The returned
// store owns the handle; Close releases it.
func OpenPebble(path string) (*PebbleStore, error) {
	logger.Log.Info("opening pebble store", zap.String("path", path))
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Log.Error("pebble open failed", zap.String("path", path), zap.Error(err))
		return nil, err
	}
	return &PebbleStore{
		db:         db,
		path:       path,
		locks:      make(map[string]*sync.Mutex),
		docEvents:  NewBroker[Event](),
		chatEvents: NewBroker[[]ChatMessage](),
		now:        time.Now,
	}, nil
}

func (s *PebbleStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	logger.Log.Info("pebble store closed", zap.String("path", s.path))
	return err
}

func (s *PebbleStore) lockFor(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

func docKey(id string) []byte { return []byte("doc:" + id) }

func (s *PebbleStore) getDoc(id string) (Document, error) {
	v, closer, err := s.db.Get(docKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, &ReadError{Key: id, Err: err}
	}
	defer closer.Close()
	var doc Document
	if err := json.Unmarshal(v, &doc); err != nil {
		return Document{}, &ReadError{Key: id, Err: err}
	}
	return doc, nil
}

func (s *PebbleStore) setJSON(key []byte, v any, id string) error {
	data, err := json.Marshal(v)
	if err != nil {
		return &WriteError{Key: id, Err: err}
	}
	if err := s.db.Set(key, data, pebble.Sync); err != nil {
		logger.Log.Error("pebble set failed", zap.ByteString("key", key), zap.Error(err))
		return &WriteError{Key: id, Err: err}
	}
	return nil
}

func (s *PebbleStore) Get(ctx context.Context, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, &ReadError{Key: id, Err: err}
	}
	return s.getDoc(id)
}

func (s *PebbleStore) Put(ctx context.Context, id, content, contentType string) (Document, error) {
	return s.put(ctx, id, content, contentType, -1)
}

func (s *PebbleStore) PutVersion(ctx context.Context, id, content, contentType string, expect int64) (Document, error) {
	return s.put(ctx, id, content, contentType, expect)
}

func (s *PebbleStore) put(ctx context.Context, id, content, contentType string, expect int64) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, &WriteError{Key: id, Err: err}
	}
	l := s.lockFor("doc:" + id)
	l.Lock()
	defer l.Unlock()

	cur, err := s.getDoc(id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Document{}, err
	}
	if expect >= 0 && cur.Version != expect {
		return Document{}, ErrConflict
	}
	doc := Document{
		ID:          id,
		Title:       cur.Title,
		Content:     content,
		ContentType: contentType,
		Version:     cur.Version + 1,
		OwnerID:     cur.OwnerID,
		UpdatedAt:   s.now(),
	}
	if contentType == "" {
		doc.ContentType = cur.ContentType
	}
	if err := s.setJSON(docKey(id), doc, id); err != nil {
		return Document{}, err
	}
	documentPuts.Inc()
	s.docEvents.Publish(id, Event{Type: EventUpdated, Doc: doc})
	return doc, nil
}

func (s *PebbleStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return &WriteError{Key: id, Err: err}
	}
	l := s.lockFor("doc:" + id)
	l.Lock()
	defer l.Unlock()

	if _, err := s.getDoc(id); err != nil {
		return err
	}
	if err := s.db.Delete(docKey(id), pebble.Sync); err != nil {
		return &WriteError{Key: id, Err: err}
	}
	// drop role rows for the document
	prefix := []byte("role:" + id + ":")
	if err := s.deletePrefix(prefix, id); err != nil {
		return err
	}
	documentDeletes.Inc()
	s.docEvents.Publish(id, Event{Type: EventRemoved, Doc: Document{ID: id}})
	return nil
}

func (s *PebbleStore) deletePrefix(prefix []byte, id string) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return &WriteError{Key: id, Err: err}
	}
	var keys [][]byte
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		keys = append(keys, append([]byte(nil), iter.Key()...))
	}
	if err := iter.Close(); err != nil {
		return &WriteError{Key: id, Err: err}
	}
	for _, k := range keys {
		if err := s.db.Delete(k, pebble.Sync); err != nil {
			return &WriteError{Key: id, Err: err}
		}
	}
	return nil
}

func (s *PebbleStore) Subscribe(id string, h Handler) (Subscription, error) {
	l := s.lockFor("doc:" + id)
	l.Lock()
	defer l.Unlock()

	sub := s.docEvents.Subscribe(id, h)
	if doc, err := s.getDoc(id); err == nil {
		h(Event{Type: EventUpdated, Doc: doc})
	} else if !errors.Is(err, ErrNotFound) {
		sub.Cancel()
		return nil, err
	}
	return sub, nil
}

func (s *PebbleStore) SetMeta(ctx context.Context, id, title, ownerID string) error {
	if err := ctx.Err(); err != nil {
		return &WriteError{Key: id, Err: err}
	}
	l := s.lockFor("doc:" + id)
	l.Lock()
	defer l.Unlock()

	doc, err := s.getDoc(id)
	if err != nil {
		return err
	}
	if title != "" {
		doc.Title = title
	}
	if ownerID != "" {
		doc.OwnerID = ownerID
	}
	return s.setJSON(docKey(id), doc, id)
}

func (s *PebbleStore) Append(ctx context.Context, channelID, senderID, senderName, body string) (ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return ChatMessage{}, &WriteError{Key: channelID, Err: err}
	}
	l := s.lockFor("chat:" + channelID)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	now := s.now().UTC()
	msg := ChatMessage{
		ID:         uuid.NewString(),
		ChannelID:  channelID,
		SenderID:   senderID,
		SenderName: senderName,
		Body:       body,
		SentAt:     now,
		Sequence:   seq,
	}
	key := fmt.Sprintf("chat:%s:msg:%020d-%06d", channelID, now.UnixNano(), seq)
	if err := s.setJSON([]byte(key), msg, channelID); err != nil {
		return ChatMessage{}, err
	}
	chatAppends.Inc()
	list, err := s.listChat(channelID)
	if err != nil {
		return ChatMessage{}, err
	}
	s.chatEvents.Publish(channelID, list)
	return msg, nil
}

func (s *PebbleStore) List(ctx context.Context, channelID string) ([]ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ReadError{Key: channelID, Err: err}
	}
	return s.listChat(channelID)
}

func (s *PebbleStore) listChat(channelID string) ([]ChatMessage, error) {
	prefix := []byte("chat:" + channelID + ":msg:")
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, &ReadError{Key: channelID, Err: err}
	}
	defer iter.Close()

	out := []ChatMessage{}
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var msg ChatMessage
		if err := json.Unmarshal(iter.Value(), &msg); err != nil {
			return nil, &ReadError{Key: channelID, Err: err}
		}
		out = append(out, msg)
	}
	if err := iter.Error(); err != nil {
		return nil, &ReadError{Key: channelID, Err: err}
	}
	return out, nil
}

func (s *PebbleStore) Watch(channelID string, h func([]ChatMessage)) (Subscription, error) {
	l := s.lockFor("chat:" + channelID)
	l.Lock()
	defer l.Unlock()

	sub := s.chatEvents.Subscribe(channelID, h)
	list, err := s.listChat(channelID)
	if err != nil {
		sub.Cancel()
		return nil, err
	}
	h(list)
	return sub, nil
}

func roleKey(docID, userID string) []byte   { return []byte("role:" + docID + ":" + userID) }
func memberKey(userID, docID string) []byte { return []byte("member:" + userID + ":" + docID) }

func (s *PebbleStore) Grant(ctx context.Context, docID, userID string, role Role) error {
	if err := ctx.Err(); err != nil {
		return &WriteError{Key: docID, Err: err}
	}
	m := Membership{DocID: docID, UserID: userID, Role: role}
	if err := s.setJSON(roleKey(docID, userID), m, docID); err != nil {
		return err
	}
	if err := s.db.Set(memberKey(userID, docID), []byte(docID), pebble.Sync); err != nil {
		return &WriteError{Key: docID, Err: err}
	}
	return nil
}

func (s *PebbleStore) RoleOf(ctx context.Context, docID, userID string) (Role, error) {
	if err := ctx.Err(); err != nil {
		return "", &ReadError{Key: docID, Err: err}
	}
	v, closer, err := s.db.Get(roleKey(docID, userID))
	if errors.Is(err, pebble.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", &ReadError{Key: docID, Err: err}
	}
	defer closer.Close()
	var m Membership
	if err := json.Unmarshal(v, &m); err != nil {
		return "", &ReadError{Key: docID, Err: err}
	}
	return m.Role, nil
}

func (s *PebbleStore) Members(ctx context.Context, docID string) ([]Membership, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ReadError{Key: docID, Err: err}
	}
	prefix := []byte("role:" + docID + ":")
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, &ReadError{Key: docID, Err: err}
	}
	defer iter.Close()

	var members []Membership
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var m Membership
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			return nil, &ReadError{Key: docID, Err: err}
		}
		members = append(members, m)
	}
	return members, iter.Error()
}

func (s *PebbleStore) DocsOf(ctx context.Context, userID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ReadError{Key: userID, Err: err}
	}
	prefix := "member:" + userID + ":"
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, &ReadError{Key: userID, Err: err}
	}
	defer iter.Close()

	var ids []string
	for iter.SeekGE([]byte(prefix)); iter.Valid(); iter.Next() {
		if !strings.HasPrefix(string(iter.Key()), prefix) {
			break
		}
		ids = append(ids, string(iter.Value()))
	}
	return ids, iter.Error()
}
