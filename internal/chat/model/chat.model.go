package model

type SendMessageRequest struct {
	ChannelID string `json:"channel_id"`
	Body      string `json:"body"`
}
