// Package repository is the Postgres implementation of the document store
// contracts. Writes are serialized per document and fanned out to
// subscribers in commit order.
package repository

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"codesync/pkg/logger"
	"codesync/store"
)

type DocumentRepository struct {
	DB      *sql.DB
	timeout time.Duration

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	events *store.Broker[store.Event]
}

var (
	_ store.DocumentStore = (*DocumentRepository)(nil)
	_ store.RoleStore     = (*DocumentRepository)(nil)
	_ store.MetaStore     = (*DocumentRepository)(nil)
)

func NewDocumentRepository(db *sql.DB, timeout time.Duration) *DocumentRepository {
	return &DocumentRepository{
		DB:      db,
		timeout: timeout,
		locks:   make(map[string]*sync.Mutex),
		events:  store.NewBroker[store.Event](),
	}
}

// bound converts a hung backend request into an error instead of hanging
// indefinitely.
func (r *DocumentRepository) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

func (r *DocumentRepository) lockFor(docID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[docID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[docID] = l
	}
	return l
}

const docColumns = "id, title, content, content_type, version, owner_id, updated_at"

func scanDoc(row *sql.Row) (store.Document, error) {
	var doc store.Document
	err := row.Scan(&doc.ID, &doc.Title, &doc.Content, &doc.ContentType, &doc.Version, &doc.OwnerID, &doc.UpdatedAt)
	return doc, err
}

func (r *DocumentRepository) Get(ctx context.Context, id string) (store.Document, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	doc, err := scanDoc(r.DB.QueryRowContext(ctx,
		"SELECT "+docColumns+" FROM documents WHERE id = $1", id))
	if err == sql.ErrNoRows {
		return store.Document{}, store.ErrNotFound
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to get document %s: %v", id, err)
		return store.Document{}, &store.ReadError{Key: id, Err: err}
	}
	return doc, nil
}

func (r *DocumentRepository) Put(ctx context.Context, id, content, contentType string) (store.Document, error) {
	return r.put(ctx, id, content, contentType, -1)
}

func (r *DocumentRepository) PutVersion(ctx context.Context, id, content, contentType string, expect int64) (store.Document, error) {
	return r.put(ctx, id, content, contentType, expect)
}

func (r *DocumentRepository) put(ctx context.Context, id, content, contentType string, expect int64) (store.Document, error) {
	l := r.lockFor(id)
	l.Lock()
	defer l.Unlock()

	ctx, cancel := r.bound(ctx)
	defer cancel()

	var row *sql.Row
	if expect < 0 {
		row = r.DB.QueryRowContext(ctx, `
			INSERT INTO documents (id, title, content, content_type, version, owner_id, updated_at)
			VALUES ($1, '', $2, $3, 1, '', NOW())
			ON CONFLICT (id) DO UPDATE SET
				content = $2,
				content_type = CASE WHEN $3 = '' THEN documents.content_type ELSE $3 END,
				version = documents.version + 1,
				updated_at = NOW()
			RETURNING `+docColumns, id, content, contentType)
	} else if expect == 0 {
		// must not exist yet; an existing row makes the insert a no-op
		row = r.DB.QueryRowContext(ctx, `
			INSERT INTO documents (id, title, content, content_type, version, owner_id, updated_at)
			VALUES ($1, '', $2, $3, 1, '', NOW())
			ON CONFLICT (id) DO NOTHING
			RETURNING `+docColumns, id, content, contentType)
	} else {
		// a positive expected version requires the row to exist at exactly
		// that version; a missing row is as stale as a moved-on one
		row = r.DB.QueryRowContext(ctx, `
			UPDATE documents SET
				content = $2,
				content_type = CASE WHEN $3 = '' THEN content_type ELSE $3 END,
				version = version + 1,
				updated_at = NOW()
			WHERE id = $1 AND version = $4
			RETURNING `+docColumns, id, content, contentType, expect)
	}

	doc, err := scanDoc(row)
	if err == sql.ErrNoRows {
		return store.Document{}, store.ErrConflict
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to save document %s: %v", id, err)
		return store.Document{}, &store.WriteError{Key: id, Err: err}
	}
	r.events.Publish(id, store.Event{Type: store.EventUpdated, Doc: doc})
	return doc, nil
}

func (r *DocumentRepository) Delete(ctx context.Context, id string) error {
	l := r.lockFor(id)
	l.Lock()
	defer l.Unlock()

	ctx, cancel := r.bound(ctx)
	defer cancel()

	res, err := r.DB.ExecContext(ctx, "DELETE FROM documents WHERE id = $1", id)
	if err != nil {
		logger.Sugar.Errorf("Failed to delete document %s: %v", id, err)
		return &store.WriteError{Key: id, Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	if _, err := r.DB.ExecContext(ctx, "DELETE FROM collaborators WHERE document_id = $1", id); err != nil {
		logger.Sugar.Errorf("Failed to delete collaborators of %s: %v", id, err)
	}
	r.events.Publish(id, store.Event{Type: store.EventRemoved, Doc: store.Document{ID: id}})
	return nil
}

func (r *DocumentRepository) Subscribe(id string, h store.Handler) (store.Subscription, error) {
	l := r.lockFor(id)
	l.Lock()
	defer l.Unlock()

	sub := r.events.Subscribe(id, h)
	doc, err := r.Get(context.Background(), id)
	if err == nil {
		h(store.Event{Type: store.EventUpdated, Doc: doc})
	} else if err != store.ErrNotFound {
		sub.Cancel()
		return nil, err
	}
	return sub, nil
}

func (r *DocumentRepository) SetMeta(ctx context.Context, id, title, ownerID string) error {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	res, err := r.DB.ExecContext(ctx, `
		UPDATE documents SET
			title = CASE WHEN $2 = '' THEN title ELSE $2 END,
			owner_id = CASE WHEN $3 = '' THEN owner_id ELSE $3 END
		WHERE id = $1`, id, title, ownerID)
	if err != nil {
		logger.Sugar.Errorf("Failed to update metadata for doc %s: %v", id, err)
		return &store.WriteError{Key: id, Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *DocumentRepository) Grant(ctx context.Context, docID, userID string, role store.Role) error {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO collaborators (document_id, user_id, role) VALUES ($1, $2, $3)
		ON CONFLICT (document_id, user_id) DO UPDATE SET role = $3`, docID, userID, string(role))
	if err != nil {
		logger.Sugar.Errorf("Failed to grant %s on doc %s to %s: %v", role, docID, userID, err)
		return &store.WriteError{Key: docID, Err: err}
	}
	return nil
}

func (r *DocumentRepository) RoleOf(ctx context.Context, docID, userID string) (store.Role, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	var role string
	err := r.DB.QueryRowContext(ctx,
		"SELECT role FROM collaborators WHERE document_id = $1 AND user_id = $2",
		docID, userID).Scan(&role)
	if err == sql.ErrNoRows {
		return "", store.ErrNotFound
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to get role of %s on doc %s: %v", userID, docID, err)
		return "", &store.ReadError{Key: docID, Err: err}
	}
	return store.Role(role), nil
}

func (r *DocumentRepository) Members(ctx context.Context, docID string) ([]store.Membership, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	rows, err := r.DB.QueryContext(ctx,
		"SELECT document_id, user_id, role FROM collaborators WHERE document_id = $1 ORDER BY user_id",
		docID)
	if err != nil {
		logger.Sugar.Errorf("Failed to list members of doc %s: %v", docID, err)
		return nil, &store.ReadError{Key: docID, Err: err}
	}
	defer rows.Close()

	var members []store.Membership
	for rows.Next() {
		var m store.Membership
		var role string
		if err := rows.Scan(&m.DocID, &m.UserID, &role); err != nil {
			continue
		}
		m.Role = store.Role(role)
		members = append(members, m)
	}
	return members, rows.Err()
}

func (r *DocumentRepository) DocsOf(ctx context.Context, userID string) ([]string, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	rows, err := r.DB.QueryContext(ctx,
		"SELECT document_id FROM collaborators WHERE user_id = $1 ORDER BY document_id",
		userID)
	if err != nil {
		logger.Sugar.Errorf("Failed to list documents of user %s: %v", userID, err)
		return nil, &store.ReadError{Key: userID, Err: err}
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
