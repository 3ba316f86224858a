package model

import (
	"time"

	"codesync/store"
)

type CreateDocRequest struct {
	Title       string `json:"title"`
	ContentType string `json:"content_type"`
}

type CreateDocResponse struct {
	DocID string `json:"document_id"`
}

type SaveDocRequest struct {
	DocID       string `json:"document_id"`
	Content     string `json:"content"`
	ContentType string `json:"content_type"`
	// ExpectVersion enables the optimistic concurrency check; zero means
	// last-write-wins.
	ExpectVersion int64 `json:"expect_version,omitempty"`
}

type SaveDocResponse struct {
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

type UpdateDocRequest struct {
	Title string `json:"title"`
}

type InviteRequest struct {
	DocID       string     `json:"document_id"`
	UserID      string     `json:"user_id"`
	Email       string     `json:"email"`
	DisplayName string     `json:"display_name"`
	Role        store.Role `json:"role"`
}

type DocumentMetadata struct {
	ID          string             `json:"id"`
	Title       string             `json:"title"`
	ContentType string             `json:"content_type"`
	Version     int64              `json:"version"`
	UpdatedAt   time.Time          `json:"updated_at"`
	Snippet     string             `json:"snippet"`
	IsOwner     bool               `json:"is_owner"`
	Members     []store.Membership `json:"members"`
}
