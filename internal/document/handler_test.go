package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codesync/internal/document/model"
	"codesync/internal/document/service"
	"codesync/middleware"
	consolemail "codesync/services/email/console"
	"codesync/store"
)

var owner = middleware.Identity{UserID: "owner-1", DisplayName: "Olive"}

func newTestHandler(t *testing.T) (*DocumentHandler, *service.DocumentService) {
	t.Helper()
	mem := store.NewMemoryStore()
	svc := service.NewDocumentService(mem, mem, mem, consolemail.NewService())
	return NewDocumentHandler(svc), svc
}

func doRequest(h http.HandlerFunc, method, target string, body any, id middleware.Identity) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	req = req.WithContext(middleware.WithIdentity(req.Context(), id))
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestCreateThenSaveRoundTrip(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := doRequest(h.CreateDocument, http.MethodPost, "/api/documents/create",
		model.CreateDocRequest{Title: "Notes"}, owner)
	require.Equal(t, http.StatusOK, rec.Code)

	var created model.CreateDocResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.DocID)

	rec = doRequest(h.SaveDocument, http.MethodPost, "/api/documents/save",
		model.SaveDocRequest{DocID: created.DocID, Content: "draft"}, owner)
	require.Equal(t, http.StatusOK, rec.Code)

	var saved model.SaveDocResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &saved))
	assert.Equal(t, int64(2), saved.Version)

	rec = doRequest(h.GetDocument, http.MethodGet, "/api/documents/detail?docId="+created.DocID, nil, owner)
	require.Equal(t, http.StatusOK, rec.Code)
	var doc store.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "draft", doc.Content)
}

func TestSaveWithoutAccessIsForbidden(t *testing.T) {
	h, svc := newTestHandler(t)
	docID, err := svc.CreateDocument(context.Background(), owner, model.CreateDocRequest{})
	require.NoError(t, err)

	stranger := middleware.Identity{UserID: "stranger-1"}
	rec := doRequest(h.SaveDocument, http.MethodPost, "/api/documents/save",
		model.SaveDocRequest{DocID: docID, Content: "nope"}, stranger)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSaveConflictMapsTo409(t *testing.T) {
	h, svc := newTestHandler(t)
	docID, err := svc.CreateDocument(context.Background(), owner, model.CreateDocRequest{})
	require.NoError(t, err)

	rec := doRequest(h.SaveDocument, http.MethodPost, "/api/documents/save",
		model.SaveDocRequest{DocID: docID, Content: "stale", ExpectVersion: 99}, owner)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSaveMissingBodyIsBadRequest(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := doRequest(h.SaveDocument, http.MethodPost, "/api/documents/save",
		model.SaveDocRequest{Content: "no doc id"}, owner)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteMissingDocumentIs404(t *testing.T) {
	h, svc := newTestHandler(t)
	docID, err := svc.CreateDocument(context.Background(), owner, model.CreateDocRequest{})
	require.NoError(t, err)

	rec := doRequest(h.DeleteDocument, http.MethodDelete, "/api/documents/delete?docId="+docID, nil, owner)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(h.GetDocument, http.MethodGet, "/api/documents/detail?docId="+docID, nil, owner)
	assert.Equal(t, http.StatusForbidden, rec.Code) // the grant went with the document
}

func TestGetDocumentsReturnsList(t *testing.T) {
	h, svc := newTestHandler(t)
	_, err := svc.CreateDocument(context.Background(), owner, model.CreateDocRequest{Title: "Mine"})
	require.NoError(t, err)

	rec := doRequest(h.GetDocuments, http.MethodGet, "/api/documents", nil, owner)
	require.Equal(t, http.StatusOK, rec.Code)

	var docs []model.DocumentMetadata
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &docs))
	require.Len(t, docs, 1)
	assert.Equal(t, "Mine", docs[0].Title)
	assert.True(t, docs[0].IsOwner)
}

func TestInviteValidation(t *testing.T) {
	h, svc := newTestHandler(t)
	docID, err := svc.CreateDocument(context.Background(), owner, model.CreateDocRequest{})
	require.NoError(t, err)

	rec := doRequest(h.AddCollaborator, http.MethodPost, "/api/documents/invite",
		model.InviteRequest{DocID: docID, Role: store.RoleWriter}, owner)
	assert.Equal(t, http.StatusBadRequest, rec.Code) // user id missing

	rec = doRequest(h.AddCollaborator, http.MethodPost, "/api/documents/invite",
		model.InviteRequest{DocID: docID, UserID: "writer-1", Role: store.RoleWriter}, owner)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(h.GetDocumentMembers, http.MethodGet, "/api/documents/members?docId="+docID, nil, owner)
	require.Equal(t, http.StatusOK, rec.Code)
	var members []store.Membership
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &members))
	assert.Len(t, members, 2)
}
