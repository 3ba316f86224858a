package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is the in-process Backend. It backs tests and single-node
// deployments that need no durability, and is the reference implementation
// of the fan-out and ordering contracts.
type MemoryStore struct {
	mu     sync.Mutex
	docs   map[string]Document
	grants map[string]map[string]Membership // docID -> userID
	chats  map[string][]ChatMessage
	locks  map[string]*sync.Mutex
	seq    int64

	docEvents  *Broker[Event]
	chatEvents *Broker[[]ChatMessage]

	// now is swappable in tests.
	now func() time.Time
}

var _ Backend = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:       make(map[string]Document),
		grants:     make(map[string]map[string]Membership),
		chats:      make(map[string][]ChatMessage),
		locks:      make(map[string]*sync.Mutex),
		docEvents:  NewBroker[Event](),
		chatEvents: NewBroker[[]ChatMessage](),
		now:        time.Now,
	}
}

// lockFor serializes commit plus fan-out per key so subscribers observe
// writes in commit order.
func (s *MemoryStore) lockFor(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, &ReadError{Key: id, Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return doc, nil
}

func (s *MemoryStore) Put(ctx context.Context, id, content, contentType string) (Document, error) {
	return s.put(ctx, id, content, contentType, -1)
}

func (s *MemoryStore) PutVersion(ctx context.Context, id, content, contentType string, expect int64) (Document, error) {
	return s.put(ctx, id, content, contentType, expect)
}

func (s *MemoryStore) put(ctx context.Context, id, content, contentType string, expect int64) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, &WriteError{Key: id, Err: err}
	}
	l := s.lockFor("doc:" + id)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	cur := s.docs[id]
	if expect >= 0 && cur.Version != expect {
		s.mu.Unlock()
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
	s.docs[id] = doc
	s.mu.Unlock()

	documentPuts.Inc()
	s.docEvents.Publish(id, Event{Type: EventUpdated, Doc: doc})
	return doc, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return &WriteError{Key: id, Err: err}
	}
	l := s.lockFor("doc:" + id)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	_, ok := s.docs[id]
	delete(s.docs, id)
	delete(s.grants, id)
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	documentDeletes.Inc()
	s.docEvents.Publish(id, Event{Type: EventRemoved, Doc: Document{ID: id}})
	return nil
}

func (s *MemoryStore) Subscribe(id string, h Handler) (Subscription, error) {
	l := s.lockFor("doc:" + id)
	l.Lock()
	defer l.Unlock()

	sub := s.docEvents.Subscribe(id, h)
	s.mu.Lock()
	doc, ok := s.docs[id]
	s.mu.Unlock()
	if ok {
		h(Event{Type: EventUpdated, Doc: doc})
	}
	return sub, nil
}

func (s *MemoryStore) SetMeta(ctx context.Context, id, title, ownerID string) error {
	if err := ctx.Err(); err != nil {
		return &WriteError{Key: id, Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return ErrNotFound
	}
	if title != "" {
		doc.Title = title
	}
	if ownerID != "" {
		doc.OwnerID = ownerID
	}
	s.docs[id] = doc
	return nil
}

func (s *MemoryStore) Append(ctx context.Context, channelID, senderID, senderName, body string) (ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return ChatMessage{}, &WriteError{Key: channelID, Err: err}
	}
	l := s.lockFor("chat:" + channelID)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	s.seq++
	msg := ChatMessage{
		ID:         uuid.NewString(),
		ChannelID:  channelID,
		SenderID:   senderID,
		SenderName: senderName,
		Body:       body,
		SentAt:     s.now(),
		Sequence:   s.seq,
	}
	s.chats[channelID] = append(s.chats[channelID], msg)
	list := s.snapshotLocked(channelID)
	s.mu.Unlock()

	chatAppends.Inc()
	s.chatEvents.Publish(channelID, list)
	return msg, nil
}

func (s *MemoryStore) List(ctx context.Context, channelID string) ([]ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ReadError{Key: channelID, Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(channelID), nil
}

func (s *MemoryStore) snapshotLocked(channelID string) []ChatMessage {
	src := s.chats[channelID]
	list := make([]ChatMessage, len(src))
	copy(list, src)
	return list
}

func (s *MemoryStore) Watch(channelID string, h func([]ChatMessage)) (Subscription, error) {
	l := s.lockFor("chat:" + channelID)
	l.Lock()
	defer l.Unlock()

	sub := s.chatEvents.Subscribe(channelID, h)
	s.mu.Lock()
	list := s.snapshotLocked(channelID)
	s.mu.Unlock()
	h(list)
	return sub, nil
}

func (s *MemoryStore) Grant(ctx context.Context, docID, userID string, role Role) error {
	if err := ctx.Err(); err != nil {
		return &WriteError{Key: docID, Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grants[docID] == nil {
		s.grants[docID] = make(map[string]Membership)
	}
	s.grants[docID][userID] = Membership{DocID: docID, UserID: userID, Role: role}
	return nil
}

func (s *MemoryStore) RoleOf(ctx context.Context, docID, userID string) (Role, error) {
	if err := ctx.Err(); err != nil {
		return "", &ReadError{Key: docID, Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.grants[docID][userID]
	if !ok {
		return "", ErrNotFound
	}
	return m.Role, nil
}

func (s *MemoryStore) Members(ctx context.Context, docID string) ([]Membership, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ReadError{Key: docID, Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	members := make([]Membership, 0, len(s.grants[docID]))
	for _, m := range s.grants[docID] {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].UserID < members[j].UserID })
	return members, nil
}

func (s *MemoryStore) DocsOf(ctx context.Context, userID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ReadError{Key: userID, Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for docID, users := range s.grants {
		if _, ok := users[userID]; ok {
			ids = append(ids, docID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
