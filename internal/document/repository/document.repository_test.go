package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codesync/store"
)

func newTestRepo(t *testing.T) (*DocumentRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewDocumentRepository(db, 5*time.Second), mock
}

func docRows(id, content string, version int64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "title", "content", "content_type", "version", "owner_id", "updated_at"}).
		AddRow(id, "Title", content, "markdown", version, "owner-1", time.Now())
}

func TestGetReturnsDocument(t *testing.T) {
	repo, mock := newTestRepo(t)

	mock.ExpectQuery("SELECT (.+) FROM documents WHERE id =").
		WithArgs("doc-1").
		WillReturnRows(docRows("doc-1", "hello", 3))

	doc, err := repo.Get(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "hello", doc.Content)
	assert.Equal(t, int64(3), doc.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	repo, mock := newTestRepo(t)

	mock.ExpectQuery("SELECT (.+) FROM documents WHERE id =").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPutUpsertsAndNotifies(t *testing.T) {
	repo, mock := newTestRepo(t)

	mock.ExpectQuery("INSERT INTO documents (.+) ON CONFLICT \\(id\\) DO UPDATE").
		WithArgs("doc-1", "new content", "markdown").
		WillReturnRows(docRows("doc-1", "new content", 4))

	var events []store.Event
	sub := repo.events.Subscribe("doc-1", func(e store.Event) { events = append(events, e) })
	defer sub.Cancel()

	doc, err := repo.Put(context.Background(), "doc-1", "new content", "markdown")
	require.NoError(t, err)
	assert.Equal(t, int64(4), doc.Version)

	require.Len(t, events, 1)
	assert.Equal(t, store.EventUpdated, events[0].Type)
	assert.Equal(t, "new content", events[0].Doc.Content)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPutVersionUpdatesMatchingRow(t *testing.T) {
	repo, mock := newTestRepo(t)

	mock.ExpectQuery("UPDATE documents SET (.+) WHERE id = \\$1 AND version = \\$4").
		WithArgs("doc-1", "v3", "", int64(2)).
		WillReturnRows(docRows("doc-1", "v3", 3))

	doc, err := repo.PutVersion(context.Background(), "doc-1", "v3", "", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), doc.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPutVersionStaleIsConflict(t *testing.T) {
	repo, mock := newTestRepo(t)

	mock.ExpectQuery("UPDATE documents SET (.+) WHERE id = \\$1 AND version = \\$4").
		WithArgs("doc-1", "stale", "", int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.PutVersion(context.Background(), "doc-1", "stale", "", 2)
	assert.ErrorIs(t, err, store.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPutVersionMissingRowIsConflict(t *testing.T) {
	repo, mock := newTestRepo(t)

	// No INSERT may fire for a positive expected version; a deleted
	// document is not resurrected by a checked save.
	mock.ExpectQuery("UPDATE documents SET (.+) WHERE id = \\$1 AND version = \\$4").
		WithArgs("ghost", "content", "", int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.PutVersion(context.Background(), "ghost", "content", "", 3)
	assert.ErrorIs(t, err, store.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPutVersionZeroCreates(t *testing.T) {
	repo, mock := newTestRepo(t)

	mock.ExpectQuery("INSERT INTO documents (.+) ON CONFLICT \\(id\\) DO NOTHING").
		WithArgs("doc-1", "first", "markdown").
		WillReturnRows(docRows("doc-1", "first", 1))

	doc, err := repo.PutVersion(context.Background(), "doc-1", "first", "markdown", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), doc.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPutVersionZeroExistingIsConflict(t *testing.T) {
	repo, mock := newTestRepo(t)

	mock.ExpectQuery("INSERT INTO documents (.+) ON CONFLICT \\(id\\) DO NOTHING").
		WithArgs("doc-1", "first", "").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.PutVersion(context.Background(), "doc-1", "first", "", 0)
	assert.ErrorIs(t, err, store.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPutWrapsDriverError(t *testing.T) {
	repo, mock := newTestRepo(t)

	mock.ExpectQuery("INSERT INTO documents").
		WillReturnError(errors.New("connection reset"))

	_, err := repo.Put(context.Background(), "doc-1", "x", "")
	var we *store.WriteError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, "doc-1", we.Key)
}

func TestDeleteNotifiesRemoved(t *testing.T) {
	repo, mock := newTestRepo(t)

	mock.ExpectExec("DELETE FROM documents WHERE id =").
		WithArgs("doc-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM collaborators WHERE document_id =").
		WithArgs("doc-1").
		WillReturnResult(sqlmock.NewResult(0, 2))

	var events []store.Event
	sub := repo.events.Subscribe("doc-1", func(e store.Event) { events = append(events, e) })
	defer sub.Cancel()

	require.NoError(t, repo.Delete(context.Background(), "doc-1"))
	require.Len(t, events, 1)
	assert.Equal(t, store.EventRemoved, events[0].Type)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteMissingReturnsNotFound(t *testing.T) {
	repo, mock := newTestRepo(t)

	mock.ExpectExec("DELETE FROM documents WHERE id =").
		WithArgs("ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, repo.Delete(context.Background(), "ghost"), store.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscribeDeliversSnapshot(t *testing.T) {
	repo, mock := newTestRepo(t)

	mock.ExpectQuery("SELECT (.+) FROM documents WHERE id =").
		WithArgs("doc-1").
		WillReturnRows(docRows("doc-1", "snapshot", 1))

	var events []store.Event
	sub, err := repo.Subscribe("doc-1", func(e store.Event) { events = append(events, e) })
	require.NoError(t, err)
	defer sub.Cancel()

	require.Len(t, events, 1)
	assert.Equal(t, "snapshot", events[0].Doc.Content)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRoleLifecycle(t *testing.T) {
	repo, mock := newTestRepo(t)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO collaborators (.+) ON CONFLICT").
		WithArgs("doc-1", "u1", "writer").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Grant(ctx, "doc-1", "u1", store.RoleWriter))

	mock.ExpectQuery("SELECT role FROM collaborators").
		WithArgs("doc-1", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("writer"))
	role, err := repo.RoleOf(ctx, "doc-1", "u1")
	require.NoError(t, err)
	assert.Equal(t, store.RoleWriter, role)

	mock.ExpectQuery("SELECT role FROM collaborators").
		WithArgs("doc-1", "nobody").
		WillReturnRows(sqlmock.NewRows([]string{"role"}))
	_, err = repo.RoleOf(ctx, "doc-1", "nobody")
	assert.ErrorIs(t, err, store.ErrNotFound)

	mock.ExpectQuery("SELECT document_id, user_id, role FROM collaborators").
		WithArgs("doc-1").
		WillReturnRows(sqlmock.NewRows([]string{"document_id", "user_id", "role"}).
			AddRow("doc-1", "u1", "writer").
			AddRow("doc-1", "u2", "reader"))
	members, err := repo.Members(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, store.RoleReader, members[1].Role)

	mock.ExpectQuery("SELECT document_id FROM collaborators WHERE user_id =").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"document_id"}).AddRow("doc-1"))
	ids, err := repo.DocsOf(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"doc-1"}, ids)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetMeta(t *testing.T) {
	repo, mock := newTestRepo(t)
	ctx := context.Background()

	mock.ExpectExec("UPDATE documents SET").
		WithArgs("doc-1", "New Title", "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.SetMeta(ctx, "doc-1", "New Title", ""))

	mock.ExpectExec("UPDATE documents SET").
		WithArgs("ghost", "t", "").
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.SetMeta(ctx, "ghost", "t", ""), store.ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}
