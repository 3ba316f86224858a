package assistant

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"codesync/pkg/logger"
)

type askRequest struct {
	Prompt string `json:"prompt"`
}

type askResponse struct {
	Answer string `json:"answer"`
}

type Handler struct {
	Client *Client
}

func NewHandler(client *Client) *Handler {
	return &Handler{Client: client}
}

func (h *Handler) Ask(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Prompt) == "" {
		http.Error(w, "Prompt is required", http.StatusBadRequest)
		return
	}

	answer, err := h.Client.Ask(r.Context(), req.Prompt)
	if err != nil {
		logger.Sugar.Errorf("Handler: Assistant request failed: %v", err)
		if errors.Is(err, ErrEmptyResponse) {
			http.Error(w, "Assistant returned no answer", http.StatusBadGateway)
			return
		}
		http.Error(w, "Assistant request failed", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(askResponse{Answer: answer})
}
