package store

import "time"

// Document is a named, whole-replace text blob. Content is always the value
// of the most recently committed write; there is no merge.
type Document struct {
	ID          string    `json:"id"`
	Title       string    `json:"title,omitempty"`
	Content     string    `json:"content"`
	ContentType string    `json:"content_type,omitempty"`
	Version     int64     `json:"version"`
	OwnerID     string    `json:"owner_id,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ChatMessage is immutable once appended. SentAt is assigned by the store;
// Sequence breaks ties between messages sharing a timestamp.
type ChatMessage struct {
	ID         string    `json:"id"`
	ChannelID  string    `json:"channel_id"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Body       string    `json:"body"`
	SentAt     time.Time `json:"sent_at"`
	Sequence   int64     `json:"sequence"`
}

// PresenceEntry records that a user is currently viewing a channel or
// document. Entries are ephemeral and carry no durability guarantee.
type PresenceEntry struct {
	ChannelID   string    `json:"channel_id"`
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}

// Role grades what a member may do with a document.
type Role string

const (
	RoleOwner    Role = "owner"
	RoleWriter   Role = "writer"
	RoleReviewer Role = "reviewer"
	RoleReader   Role = "reader"
)

// CanWrite reports whether the role is allowed to replace document content.
func (r Role) CanWrite() bool { return r == RoleOwner || r == RoleWriter }

// Membership binds a user to a document with a role.
type Membership struct {
	DocID       string `json:"document_id"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
	Role        Role   `json:"role"`
}
