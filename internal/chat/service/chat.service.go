package service

import (
	"context"
	"errors"
	"strings"

	"codesync/middleware"
	"codesync/store"
)

// ChatService validates and forwards chat traffic to the underlying log.
// A channel is keyed by its document id; any member of the document may
// read and post, non-members get ErrPermissionDenied.
type ChatService struct {
	Log   store.ChatLog
	Roles store.RoleStore
}

func NewChatService(log store.ChatLog, roles store.RoleStore) *ChatService {
	return &ChatService{Log: log, Roles: roles}
}

// Append stores a message in the channel. The caller may re-submit on a
// WriteError; the log itself never retries.
func (s *ChatService) Append(ctx context.Context, actor middleware.Identity, channelID, body string) (store.ChatMessage, error) {
	if channelID == "" {
		return store.ChatMessage{}, errors.New("channel id is required")
	}
	if strings.TrimSpace(body) == "" {
		return store.ChatMessage{}, errors.New("message body cannot be empty")
	}
	if err := s.requireMember(ctx, channelID, actor.UserID); err != nil {
		return store.ChatMessage{}, err
	}
	return s.Log.Append(ctx, channelID, actor.UserID, actor.DisplayName, body)
}

// List returns the channel's full ordered history.
func (s *ChatService) List(ctx context.Context, actor middleware.Identity, channelID string) ([]store.ChatMessage, error) {
	if err := s.requireMember(ctx, channelID, actor.UserID); err != nil {
		return nil, err
	}
	return s.Log.List(ctx, channelID)
}

// Watch registers h for the channel's full list on every change. Callers
// must have checked the subscriber's membership already; the websocket
// layer does so before the connection is upgraded.
func (s *ChatService) Watch(channelID string, h func([]store.ChatMessage)) (store.Subscription, error) {
	return s.Log.Watch(channelID, h)
}

func (s *ChatService) requireMember(ctx context.Context, channelID, userID string) error {
	_, err := s.Roles.RoleOf(ctx, channelID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return store.ErrPermissionDenied
	}
	return err
}
