package service

import (
	"context"
	"errors"
	"net/mail"
	"sort"
	"strings"

	"github.com/google/uuid"

	"codesync/internal/document/model"
	"codesync/middleware"
	"codesync/pkg/logger"
	"codesync/services/email"
	"codesync/store"
)

// DocumentService enforces the permission model on top of the persistence
// contracts: the owner is an implicit writer, only writers save, only the
// owner deletes, renames, or invites.
type DocumentService struct {
	Docs  store.DocumentStore
	Meta  store.MetaStore
	Roles store.RoleStore
	Mail  email.Service
}

func NewDocumentService(docs store.DocumentStore, meta store.MetaStore, roles store.RoleStore, mailer email.Service) *DocumentService {
	return &DocumentService{Docs: docs, Meta: meta, Roles: roles, Mail: mailer}
}

// CreateDocument creates an empty document owned by the actor.
func (s *DocumentService) CreateDocument(ctx context.Context, actor middleware.Identity, req model.CreateDocRequest) (string, error) {
	docID := uuid.NewString()
	title := req.Title
	if title == "" {
		title = "Untitled Document"
	}

	if _, err := s.Docs.Put(ctx, docID, "", req.ContentType); err != nil {
		return "", err
	}
	if err := s.Meta.SetMeta(ctx, docID, title, actor.UserID); err != nil {
		return "", err
	}
	if err := s.Roles.Grant(ctx, docID, actor.UserID, store.RoleOwner); err != nil {
		return "", err
	}
	logger.Sugar.Infof("Document %s created by %s", docID, actor.UserID)
	return docID, nil
}

// SaveDocument replaces content after a write-permission check. A non-zero
// ExpectVersion turns on the optimistic concurrency check.
func (s *DocumentService) SaveDocument(ctx context.Context, actor middleware.Identity, req model.SaveDocRequest) (store.Document, error) {
	role, err := s.roleOf(ctx, req.DocID, actor.UserID)
	if err != nil {
		return store.Document{}, err
	}
	if !role.CanWrite() {
		return store.Document{}, store.ErrPermissionDenied
	}

	if req.ExpectVersion > 0 {
		return s.Docs.PutVersion(ctx, req.DocID, req.Content, req.ContentType, req.ExpectVersion)
	}
	return s.Docs.Put(ctx, req.DocID, req.Content, req.ContentType)
}

// DeleteDocument removes a document. Owner only.
func (s *DocumentService) DeleteDocument(ctx context.Context, actor middleware.Identity, docID string) error {
	if err := s.requireOwner(ctx, docID, actor.UserID); err != nil {
		return err
	}
	return s.Docs.Delete(ctx, docID)
}

// UpdateTitle renames a document. Owner only.
func (s *DocumentService) UpdateTitle(ctx context.Context, actor middleware.Identity, docID, title string) error {
	if err := s.requireOwner(ctx, docID, actor.UserID); err != nil {
		return err
	}
	return s.Meta.SetMeta(ctx, docID, title, "")
}

// InviteCollaborator grants a role and sends a fire-and-forget invite email.
func (s *DocumentService) InviteCollaborator(ctx context.Context, actor middleware.Identity, req model.InviteRequest) error {
	switch req.Role {
	case store.RoleWriter, store.RoleReviewer, store.RoleReader:
	default:
		return errors.New("invalid role: must be writer, reviewer, or reader")
	}
	if err := s.requireOwner(ctx, req.DocID, actor.UserID); err != nil {
		return err
	}
	if err := s.Roles.Grant(ctx, req.DocID, req.UserID, req.Role); err != nil {
		return err
	}

	if s.Mail != nil && req.Email != "" {
		doc, _ := s.Docs.Get(ctx, req.DocID)
		s.Mail.Send(email.Message{
			To:      mail.Address{Name: req.DisplayName, Address: req.Email},
			Subject: "You were invited to collaborate",
			Body: "Hi " + req.DisplayName + ",\n\n" +
				actor.DisplayName + " invited you to \"" + doc.Title + "\" as " + string(req.Role) + ".\n",
		})
	}
	return nil
}

// GetDocument returns the document after an access check.
func (s *DocumentService) GetDocument(ctx context.Context, actor middleware.Identity, docID string) (store.Document, error) {
	if _, err := s.roleOf(ctx, docID, actor.UserID); err != nil {
		return store.Document{}, err
	}
	return s.Docs.Get(ctx, docID)
}

// GetDocuments lists the metadata of every document the actor can access,
// most recently updated first.
func (s *DocumentService) GetDocuments(ctx context.Context, actor middleware.Identity) ([]model.DocumentMetadata, error) {
	ids, err := s.Roles.DocsOf(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}

	docs := []model.DocumentMetadata{}
	for _, id := range ids {
		doc, err := s.Docs.Get(ctx, id)
		if err != nil {
			// a stale grant pointing at a removed document
			continue
		}
		members, _ := s.Roles.Members(ctx, id)
		if members == nil {
			members = []store.Membership{}
		}
		docs = append(docs, model.DocumentMetadata{
			ID:          doc.ID,
			Title:       doc.Title,
			ContentType: doc.ContentType,
			Version:     doc.Version,
			UpdatedAt:   doc.UpdatedAt,
			Snippet:     snippet(doc.Content),
			IsOwner:     doc.OwnerID == actor.UserID,
			Members:     members,
		})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].UpdatedAt.After(docs[j].UpdatedAt) })
	return docs, nil
}

// GetDocumentMembers lists the members of a document after an access check.
func (s *DocumentService) GetDocumentMembers(ctx context.Context, actor middleware.Identity, docID string) ([]store.Membership, error) {
	if _, err := s.roleOf(ctx, docID, actor.UserID); err != nil {
		return nil, err
	}
	members, err := s.Roles.Members(ctx, docID)
	if err != nil {
		return nil, err
	}
	if members == nil {
		members = []store.Membership{}
	}
	return members, nil
}

// RoleOf resolves the actor's effective role on a document.
func (s *DocumentService) RoleOf(ctx context.Context, docID, userID string) (store.Role, error) {
	return s.roleOf(ctx, docID, userID)
}

func (s *DocumentService) roleOf(ctx context.Context, docID, userID string) (store.Role, error) {
	role, err := s.Roles.RoleOf(ctx, docID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return "", store.ErrPermissionDenied
	}
	if err != nil {
		return "", err
	}
	return role, nil
}

func (s *DocumentService) requireOwner(ctx context.Context, docID, userID string) error {
	role, err := s.roleOf(ctx, docID, userID)
	if err != nil {
		return err
	}
	if role != store.RoleOwner {
		return store.ErrPermissionDenied
	}
	return nil
}

func snippet(content string) string {
	res := strings.TrimSpace(strings.ReplaceAll(content, "\n", " "))
	if r := []rune(res); len(r) > 100 {
		return string(r[:100]) + "..."
	}
	return res
}
