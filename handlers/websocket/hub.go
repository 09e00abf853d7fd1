package websocket

import (
	"context"
	"fmt"
	"onlinejson-server/collab"
	"onlinejson-server/core"
	"slices"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Operations clients invoke.
const (
	OpJoin                  = "Join"
	OpRequestInitialContent = "RequestInitialContent"
	OpResetDocument         = "ResetDocument"
	OpEdit                  = "Edit"
	OpDownloadDocument      = "DownloadDocument"
	OpListCollaborators     = "ListCollaborators"
	OpListDocuments         = "ListDocuments"
	OpLeaveRoom             = "LeaveRoom"
)

// Events the server emits.
const (
	EventParticipantJoined = "ParticipantJoined"
	EventRosterUpdated     = "RosterUpdated"
	EventContentUpdated    = "ContentUpdated"
	EventDownloadReady     = "DownloadReady"
	EventParticipantLeft   = "ParticipantLeft"
	EventOperationFailed   = "OperationFailed"
)

type (
	// Conn is one live client connection as seen by the hub.
	Conn interface {
		ID() string
		Emit(event string, args ...any) error
		JoinGroup(group string)
		LeaveGroup(group string)
	}

	// Broadcaster delivers an event to every connection in a group.
	Broadcaster interface {
		BroadcastToGroup(group, event string, args ...any) error
	}
)

// GroupName is the transport group that carries a document's broadcasts.
func GroupName(docID string) string {
	return "doc:" + docID
}

// Hub turns client operations into registry and room calls and issues the
// resulting broadcasts. One Hub serves every connection of the process.
type Hub struct {
	registry *collab.Registry
	store    core.DocumentStore
	activity core.RoomActivity
	groups   Broadcaster
}

func NewHub(registry *collab.Registry, store core.DocumentStore, groups Broadcaster) *Hub {
	hub := &Hub{
		registry: registry,
		store:    store,
		groups:   groups,
	}
	if activity, ok := store.(core.RoomActivity); ok {
		hub.activity = activity
	}
	return hub
}

// Connect starts a session for a newly connected client.
func (h *Hub) Connect(conn Conn) *Session {
	logrus.WithField("conn_id", conn.ID()).Debug("connection opened")
	return &Session{hub: h, conn: conn}
}

func (h *Hub) broadcast(docID, event string, args ...any) error {
	if err := h.groups.BroadcastToGroup(GroupName(docID), event, args...); err != nil {
		logrus.WithFields(logrus.Fields{
			"document_id": docID,
			"event":       event,
		}).WithError(err).Warn("broadcast failed")
		return fmt.Errorf("broadcast %s to %s: %v: %w", event, docID, err, core.ErrTransport)
	}
	return nil
}

func (h *Hub) loadDocument(ctx context.Context, docID string) (string, error) {
	doc, err := h.store.Load(ctx, docID)
	if err != nil {
		return "", err
	}
	return doc.Data.String(), nil
}

func (h *Hub) touch(ctx context.Context, docID string) {
	if h.activity == nil {
		return
	}
	if err := h.activity.TouchRoom(ctx, docID); err != nil {
		logrus.WithField("document_id", docID).WithError(err).Warn("failed to record room activity")
	}
}

// Session is the per-connection state machine: open until Disconnect, then
// closed for good. Operations run concurrently with each other but never
// overlap Disconnect.
type Session struct {
	hub  *Hub
	conn Conn

	mu     sync.RWMutex
	closed bool
}

func (s *Session) ID() string {
	return s.conn.ID()
}

func (s *Session) begin() error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return fmt.Errorf("connection %s is closed: %w", s.conn.ID(), core.ErrInvalidArgument)
	}
	return nil
}

func (s *Session) end() {
	s.mu.RUnlock()
}

func (s *Session) log(docID string) *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"conn_id":     s.conn.ID(),
		"document_id": docID,
	})
}

// Join adds the caller to the document's room and returns the roster.
func (s *Session) Join(ctx context.Context, docID, displayName string) ([]string, error) {
	if err := s.begin(); err != nil {
		return nil, err
	}
	defer s.end()

	name := strings.TrimSpace(displayName)
	group := GroupName(docID)

	var emitErr error
	room, err := s.hub.registry.JoinRoom(docID, s.conn.ID(), name, func(roster []string) {
		s.conn.JoinGroup(group)
		if err := s.hub.broadcast(docID, EventParticipantJoined, name); err != nil {
			emitErr = err
			return
		}
		emitErr = s.hub.broadcast(docID, EventRosterUpdated, roster)
	})
	if err != nil {
		return nil, err
	}
	s.conn.JoinGroup(group)
	s.hub.touch(ctx, docID)

	s.log(docID).WithField("display_name", name).Info("collaborator joined")
	return room.RosterSnapshot(), emitErr
}

// RequestInitialContent sends the room content to the caller, seeding it from
// the document store the first time any collaborator asks.
func (s *Session) RequestInitialContent(ctx context.Context, docID string) error {
	if err := s.begin(); err != nil {
		return err
	}
	defer s.end()

	room, err := s.hub.registry.GetRoom(docID)
	if err != nil {
		return err
	}

	var emitErr error
	_, didSeed, err := room.TrySeed(func() (string, error) {
		return s.hub.loadDocument(ctx, docID)
	}, func(content string) {
		emitErr = s.emit(EventContentUpdated, content)
	})
	if err != nil {
		return err
	}
	if didSeed {
		s.log(docID).Info("room seeded from document store")
	}
	return emitErr
}

// ResetDocument reloads the document from the store and broadcasts it.
func (s *Session) ResetDocument(ctx context.Context, docID string) error {
	if err := s.begin(); err != nil {
		return err
	}
	defer s.end()

	room, err := s.hub.registry.GetRoom(docID)
	if err != nil {
		return err
	}
	content, err := s.hub.loadDocument(ctx, docID)
	if err != nil {
		return err
	}

	var emitErr error
	room.SetContent(content, func(content string) {
		emitErr = s.hub.broadcast(docID, EventContentUpdated, content)
	})
	s.hub.touch(ctx, docID)

	s.log(docID).Info("room reset from document store")
	return emitErr
}

// Edit replaces the room content and broadcasts it to the whole group,
// sender included. Clients drop their own echo.
func (s *Session) Edit(ctx context.Context, docID, content string) error {
	if err := s.begin(); err != nil {
		return err
	}
	defer s.end()

	room, err := s.hub.registry.GetRoom(docID)
	if err != nil {
		return err
	}

	var emitErr error
	room.SetContent(content, func(content string) {
		emitErr = s.hub.broadcast(docID, EventContentUpdated, content)
	})
	s.hub.touch(ctx, docID)

	s.log(docID).WithField("content_length", len(content)).Debug("room content edited")
	return emitErr
}

func (s *Session) DownloadDocument(ctx context.Context, docID string) error {
	if err := s.begin(); err != nil {
		return err
	}
	defer s.end()

	room, err := s.hub.registry.GetRoom(docID)
	if err != nil {
		return err
	}
	return s.emit(EventDownloadReady, docID, room.Snapshot())
}

func (s *Session) ListCollaborators(ctx context.Context, docID string) error {
	if err := s.begin(); err != nil {
		return err
	}
	defer s.end()

	room, err := s.hub.registry.GetRoom(docID)
	if err != nil {
		return err
	}
	return s.emit(EventRosterUpdated, room.RosterSnapshot())
}

func (s *Session) ListDocuments(ctx context.Context) ([]string, error) {
	if err := s.begin(); err != nil {
		return nil, err
	}
	defer s.end()

	ids, err := s.hub.registry.ListDocumentIDs(ctx)
	if err != nil {
		return nil, err
	}
	return slices.Collect(ids), nil
}

// LeaveRoom removes the caller from one room while keeping the connection.
func (s *Session) LeaveRoom(ctx context.Context, docID string) error {
	if err := s.begin(); err != nil {
		return err
	}
	defer s.end()

	group := GroupName(docID)
	var emitErr error
	name, removed, err := s.hub.registry.LeaveRoom(docID, s.conn.ID(), func() {
		s.conn.LeaveGroup(group)
	}, func(name string, _ []string) {
		emitErr = s.hub.broadcast(docID, EventParticipantLeft, name)
	})
	if err != nil {
		return err
	}
	if !removed {
		return nil
	}

	s.log(docID).WithField("display_name", name).Info("collaborator left")
	return emitErr
}

// Disconnect closes the session and tells every room the caller belonged to.
// Further operations fail; calling Disconnect again is a no-op.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true

	departures := s.hub.registry.RemoveConnection(s.conn.ID(), func(docID, name string, _ []string) {
		// Errors are logged by broadcast; one room failing must not stop the rest.
		_ = s.hub.broadcast(docID, EventParticipantLeft, name)
	})

	logrus.WithFields(logrus.Fields{
		"conn_id": s.conn.ID(),
		"rooms":   len(departures),
	}).Info("connection closed")
}

func (s *Session) emit(event string, args ...any) error {
	if err := s.conn.Emit(event, args...); err != nil {
		s.log("").WithField("event", event).WithError(err).Warn("emit to caller failed")
		return fmt.Errorf("emit %s: %v: %w", event, err, core.ErrTransport)
	}
	return nil
}
