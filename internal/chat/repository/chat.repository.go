// Package repository is the Postgres implementation of the chat log. The
// database assigns sent_at; a bigserial sequence breaks timestamp ties so
// the displayed order matches insertion order.
package repository

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"

	"codesync/pkg/logger"
	"codesync/store"
)

type ChatRepository struct {
	DB      *sql.DB
	timeout time.Duration

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	events *store.Broker[[]store.ChatMessage]
}

var _ store.ChatLog = (*ChatRepository)(nil)

func NewChatRepository(db *sql.DB, timeout time.Duration) *ChatRepository {
	return &ChatRepository{
		DB:      db,
		timeout: timeout,
		locks:   make(map[string]*sync.Mutex),
		events:  store.NewBroker[[]store.ChatMessage](),
	}
}

func (r *ChatRepository) lockFor(channelID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[channelID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[channelID] = l
	}
	return l
}

func (r *ChatRepository) Append(ctx context.Context, channelID, senderID, senderName, body string) (store.ChatMessage, error) {
	l := r.lockFor(channelID)
	l.Lock()
	defer l.Unlock()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	msg := store.ChatMessage{
		ID:         uuid.NewString(),
		ChannelID:  channelID,
		SenderID:   senderID,
		SenderName: senderName,
		Body:       body,
	}
	err := r.DB.QueryRowContext(ctx, `
		INSERT INTO messages (id, channel_id, sender_id, sender_name, body, sent_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING sent_at, sequence`,
		msg.ID, channelID, senderID, senderName, body,
	).Scan(&msg.SentAt, &msg.Sequence)
	if err != nil {
		logger.Sugar.Errorf("Failed to append message to channel %s: %v", channelID, err)
		return store.ChatMessage{}, &store.WriteError{Key: channelID, Err: err}
	}

	list, err := r.list(ctx, channelID)
	if err != nil {
		return store.ChatMessage{}, err
	}
	r.events.Publish(channelID, list)
	return msg, nil
}

func (r *ChatRepository) List(ctx context.Context, channelID string) ([]store.ChatMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.list(ctx, channelID)
}

func (r *ChatRepository) list(ctx context.Context, channelID string) ([]store.ChatMessage, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, channel_id, sender_id, sender_name, body, sent_at, sequence
		FROM messages WHERE channel_id = $1
		ORDER BY sent_at ASC, sequence ASC`, channelID)
	if err != nil {
		logger.Sugar.Errorf("Failed to list messages of channel %s: %v", channelID, err)
		return nil, &store.ReadError{Key: channelID, Err: err}
	}
	defer rows.Close()

	out := []store.ChatMessage{}
	for rows.Next() {
		var m store.ChatMessage
		if err := rows.Scan(&m.ID, &m.ChannelID, &m.SenderID, &m.SenderName, &m.Body, &m.SentAt, &m.Sequence); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *ChatRepository) Watch(channelID string, h func([]store.ChatMessage)) (store.Subscription, error) {
	l := r.lockFor(channelID)
	l.Lock()
	defer l.Unlock()

	sub := r.events.Subscribe(channelID, h)
	list, err := r.List(context.Background(), channelID)
	if err != nil {
		sub.Cancel()
		return nil, err
	}
	h(list)
	return sub, nil
}
