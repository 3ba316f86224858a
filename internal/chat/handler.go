package chat

import (
	"encoding/json"
	"errors"
	"net/http"

	"codesync/internal/chat/model"
	"codesync/internal/chat/service"
	"codesync/middleware"
	"codesync/pkg/logger"
	"codesync/store"
)

type ChatHandler struct {
	Service *service.ChatService
}

func NewChatHandler(service *service.ChatService) *ChatHandler {
	return &ChatHandler{Service: service}
}

func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req model.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	actor, _ := middleware.IdentityFrom(r.Context())
	msg, err := h.Service.Append(r.Context(), actor, req.ChannelID, req.Body)
	if err != nil {
		logger.Sugar.Errorf("Handler: Failed to append chat message: %v", err)
		chatError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(msg)
}

func (h *ChatHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	channelID := r.URL.Query().Get("channelId")
	if channelID == "" {
		http.Error(w, "Missing channelId parameter", http.StatusBadRequest)
		return
	}

	actor, _ := middleware.IdentityFrom(r.Context())
	msgs, err := h.Service.List(r.Context(), actor, channelID)
	if err != nil {
		logger.Sugar.Errorf("Handler: Failed to list chat messages: %v", err)
		chatError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(msgs)
}

func chatError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	case errors.Is(err, store.ErrPermissionDenied):
		http.Error(w, "Permission denied", http.StatusForbidden)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
