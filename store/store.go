package store

import "context"

// EventType classifies a document change notification.
type EventType string

const (
	// EventUpdated carries the full document after a committed write,
	// including the initial snapshot sent on subscribe.
	EventUpdated EventType = "updated"
	// EventRemoved is the terminal notification after a delete. The Doc
	// field holds only the ID.
	EventRemoved EventType = "removed"
)

// Event is a single document change notification. Delivery is at-least-once
// and follows the store's commit order for the document; handlers must be
// idempotent to repeated identical payloads.
type Event struct {
	Type EventType
	Doc  Document
}

// Handler receives document events. It is invoked on the store's dispatch
// goroutine for the key and must not block indefinitely.
type Handler func(Event)

// Subscription is the handle returned by Subscribe. Cancel stops further
// invocations; an in-flight notification may still be delivered.
type Subscription interface {
	Cancel()
}

// DocumentStore is a durable key to text mapping with change notification.
//
// Writes fully replace content and are serialized per document; the last
// committed write wins. Every committed write fans out to all subscribers of
// the document, the writer's own subscription included.
type DocumentStore interface {
	// Get returns the current document or ErrNotFound.
	Get(ctx context.Context, id string) (Document, error)

	// Put replaces the document's content wholesale, creating it on first
	// write. The store assigns a monotonically increasing version.
	Put(ctx context.Context, id, content, contentType string) (Document, error)

	// PutVersion is Put with an optimistic concurrency check: the write is
	// rejected with ErrConflict unless the document's current version equals
	// expect. An expect of zero requires the document to not exist yet.
	PutVersion(ctx context.Context, id, content, contentType string, expect int64) (Document, error)

	// Delete removes the document. Subscribers receive a terminal
	// EventRemoved notification.
	Delete(ctx context.Context, id string) error

	// Subscribe registers h for id. If the document exists, h is invoked
	// with the latest snapshot before Subscribe returns, and again after
	// every subsequent committed write by any writer.
	Subscribe(id string, h Handler) (Subscription, error)
}

// ChatLog is an append-only ordered message stream per channel. Subscribers
// receive the full ordered list on every change; acceptable for bounded
// channel sizes.
type ChatLog interface {
	// Append stores a message, assigning SentAt and Sequence.
	Append(ctx context.Context, channelID, senderID, senderName, body string) (ChatMessage, error)

	// List returns all messages of the channel in non-decreasing SentAt
	// order, ties broken by insertion order.
	List(ctx context.Context, channelID string) ([]ChatMessage, error)

	// Watch registers h for the channel. h receives the current full list
	// immediately and again after every successful Append.
	Watch(channelID string, h func([]ChatMessage)) (Subscription, error)
}

// MetaStore updates document metadata outside the content write path.
// Empty title or ownerID fields leave the current value unchanged.
type MetaStore interface {
	SetMeta(ctx context.Context, id, title, ownerID string) error
}

// Backend bundles the full persistence surface a single store
// implementation provides.
type Backend interface {
	DocumentStore
	ChatLog
	RoleStore
	MetaStore
}

// Bundle assembles a Backend from independently implemented parts, for
// deployments where documents and chat live in separate repositories.
type Bundle struct {
	DocumentStore
	ChatLog
	RoleStore
	MetaStore
}

// RoleStore tracks per-document role grants. The creator is granted RoleOwner
// when the document is created; invited collaborators get lesser roles.
type RoleStore interface {
	// Grant upserts a collaborator role on a document.
	Grant(ctx context.Context, docID, userID string, role Role) error

	// RoleOf returns the granted role, or ErrNotFound when none exists.
	RoleOf(ctx context.Context, docID, userID string) (Role, error)

	// Members lists every grant on a document, the owner's included.
	Members(ctx context.Context, docID string) ([]Membership, error)

	// DocsOf lists the ids of documents the user was granted a role on.
	DocsOf(ctx context.Context, userID string) ([]string, error)
}
