// Package session binds a local edit buffer to a remote document held in a
// store.DocumentStore. It decides when remote updates may replace the local
// buffer: never while the buffer holds unsaved edits.
package session

import (
	"context"
	"errors"
	"sync"

	"codesync/pkg/logger"
	"codesync/store"
)

// State is the session's position in its lifecycle.
type State string

const (
	StateIdle       State = "idle"
	StateLoading    State = "loading"
	StateSynced     State = "synced"
	StateDirty      State = "dirty"
	StateSaving     State = "saving"
	StateSaveFailed State = "save_failed"
	StateClosed     State = "closed"
)

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("session closed")

// Session is a client-side binding between an editable buffer and a remote
// document. All methods are safe for concurrent use.
type Session struct {
	docs store.DocumentStore
	id   string

	mu          sync.Mutex
	state       State
	contentType string
	buffer      string
	remote      store.Document    // last known remote state
	pending     *store.Document   // remote update parked while the buffer is dirty
	removed     bool              // remote document was deleted
	sub         store.Subscription
	onRemote    func(store.Document)
}

// Open fetches the current document and subscribes to its changes. A
// missing document yields an empty buffer in the Synced state; it is
// created on the first save.
func Open(ctx context.Context, docs store.DocumentStore, id, contentType string) (*Session, error) {
	s := &Session{
		docs:        docs,
		id:          id,
		state:       StateLoading,
		contentType: contentType,
	}

	doc, err := docs.Get(ctx, id)
	switch {
	case err == nil:
		s.buffer = doc.Content
		s.remote = doc
		if doc.ContentType != "" {
			s.contentType = doc.ContentType
		}
	case errors.Is(err, store.ErrNotFound):
		// implicit "not yet created" state
	default:
		return nil, err
	}
	s.state = StateSynced

	sub, err := docs.Subscribe(id, s.handleEvent)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()
	return s, nil
}

// OnRemoteUpdate registers fn to run whenever a remote update replaces the
// buffer. fn is invoked without the session lock held.
func (s *Session) OnRemoteUpdate(fn func(store.Document)) {
	s.mu.Lock()
	s.onRemote = fn
	s.mu.Unlock()
}

func (s *Session) handleEvent(ev store.Event) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}

	if ev.Type == store.EventRemoved {
		s.removed = true
		if s.state == StateSynced {
			s.buffer = ""
			s.remote = store.Document{ID: s.id}
			s.pending = nil
		} else {
			doc := store.Document{ID: s.id}
			s.pending = &doc
		}
		s.mu.Unlock()
		return
	}

	switch s.state {
	case StateSynced:
		s.remote = ev.Doc
		changed := s.buffer != ev.Doc.Content
		s.buffer = ev.Doc.Content
		fn := s.onRemote
		s.mu.Unlock()
		if changed && fn != nil {
			fn(ev.Doc)
		}
	default:
		// Dirty, Saving, SaveFailed: park the update, never clobber the
		// buffer mid-edit.
		doc := ev.Doc
		if s.pending == nil || doc.Version >= s.pending.Version {
			s.pending = &doc
		}
		s.mu.Unlock()
	}
}

// Edit replaces the buffer. Pure local; no I/O.
func (s *Session) Edit(newContent string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateClosed:
		return ErrClosed
	case StateSynced, StateDirty, StateSaveFailed:
		s.buffer = newContent
		if s.buffer != s.remote.Content || s.removed {
			s.state = StateDirty
		} else {
			s.state = StateSynced
		}
	case StateSaving:
		// keep typing while a save is in flight; the save result handler
		// notices the buffer moved on
		s.buffer = newContent
	}
	return nil
}

// Save pushes the buffer with last-write-wins semantics. On failure the
// buffer is retained unchanged and the error surfaces to the caller; no
// automatic retry.
func (s *Session) Save(ctx context.Context) error {
	return s.save(ctx, false)
}

// SaveChecked is Save with an optimistic concurrency check against the last
// version this session observed. It fails with store.ErrConflict when
// another writer committed in between; the conflicting remote state is then
// available via PendingRemote.
func (s *Session) SaveChecked(ctx context.Context) error {
	return s.save(ctx, true)
}

func (s *Session) save(ctx context.Context, checked bool) error {
	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return ErrClosed
	case StateSynced, StateLoading, StateSaving:
		s.mu.Unlock()
		return nil
	}
	content := s.buffer
	contentType := s.contentType
	expect := s.remote.Version
	s.state = StateSaving
	s.mu.Unlock()

	var doc store.Document
	var err error
	if checked {
		doc, err = s.docs.PutVersion(ctx, s.id, content, contentType, expect)
	} else {
		doc, err = s.docs.Put(ctx, s.id, content, contentType)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return err
	}
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			s.state = StateDirty
			return err
		}
		s.state = StateSaveFailed
		logger.Sugar.Errorf("Failed to save document %s: %v", s.id, err)
		return err
	}

	s.remote = doc
	s.removed = false
	if s.pending != nil && s.pending.Version <= doc.Version {
		s.pending = nil
	}
	if s.buffer != content {
		// edited while the save was in flight
		s.state = StateDirty
		return nil
	}
	s.state = StateSynced
	if s.pending != nil {
		// a later commit arrived during the save; now that we are in sync
		// it may apply
		s.remote = *s.pending
		s.buffer = s.pending.Content
		s.pending = nil
	}
	return nil
}

// Discard drops unsaved edits and adopts the latest known remote state.
func (s *Session) Discard() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return ErrClosed
	}
	if s.pending != nil {
		s.remote = *s.pending
		s.pending = nil
	}
	s.buffer = s.remote.Content
	s.state = StateSynced
	return nil
}

// Close unsubscribes. Terminal.
func (s *Session) Close() {
	s.mu.Lock()
	sub := s.sub
	s.state = StateClosed
	s.sub = nil
	s.mu.Unlock()
	if sub != nil {
		sub.Cancel()
	}
}

// State reports the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Buffer returns the local editable content.
func (s *Session) Buffer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffer
}

// Version returns the version of the last remote state this session
// observed or produced.
func (s *Session) Version() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote.Version
}

// PendingRemote returns the remote update parked while the buffer was
// dirty, if any.
func (s *Session) PendingRemote() (store.Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return store.Document{}, false
	}
	return *s.pending, true
}

// Removed reports whether the remote document was deleted while the session
// was open.
func (s *Session) Removed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removed
}
