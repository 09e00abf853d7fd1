package collab

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sort"
	"strings"
	"sync"

	"onlinejson-server/core"
)

// Departure is one room membership dropped by RemoveConnection, with the
// display name held right before removal.
type Departure struct {
	DocID       string
	DisplayName string
}

// connection tracks the rooms a connection belongs to. Its lock serializes
// joins and removals of that connection, so a removal sweep never misses a
// join that is in flight.
type connection struct {
	mu     sync.Mutex
	closed bool
	rooms  map[string]struct{}
}

// Registry maps document ids to rooms. Rooms are created on first join and
// live for the rest of the process.
type Registry struct {
	store core.DocumentStore

	mu    sync.Mutex
	rooms map[string]*Room
	conns map[string]*connection
}

func NewRegistry(store core.DocumentStore) *Registry {
	return &Registry{
		store: store,
		rooms: make(map[string]*Room),
		conns: make(map[string]*connection),
	}
}

// JoinRoom gets or creates the room for docID and upserts the collaborator.
// publish runs with the new roster when the roster changed, before any other
// roster change to the same room commits.
func (r *Registry) JoinRoom(docID, connID, displayName string, publish func(roster []string)) (*Room, error) {
	if core.IsBlank(docID) {
		return nil, fmt.Errorf("document id is required: %w", core.ErrInvalidArgument)
	}
	if core.IsBlank(connID) {
		return nil, fmt.Errorf("connection id is required: %w", core.ErrInvalidArgument)
	}
	if core.IsBlank(displayName) {
		return nil, fmt.Errorf("display name is required: %w", core.ErrInvalidArgument)
	}

	conn := r.connection(connID)
	conn.mu.Lock()
	defer conn.mu.Unlock()

	if conn.closed {
		return nil, fmt.Errorf("connection %s is closed: %w", connID, core.ErrInvalidArgument)
	}

	room := r.getOrCreate(docID)
	room.AddOrUpdateCollaborator(connID, strings.TrimSpace(displayName), publish)
	conn.rooms[docID] = struct{}{}

	return room, nil
}

// GetRoom returns the room for docID, or an error wrapping ErrNotFound when
// nobody ever joined it.
func (r *Registry) GetRoom(docID string) (*Room, error) {
	if core.IsBlank(docID) {
		return nil, fmt.Errorf("document id is required: %w", core.ErrInvalidArgument)
	}

	r.mu.Lock()
	room, ok := r.rooms[docID]
	r.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("room %s: %w", docID, core.ErrNotFound)
	}
	return room, nil
}

// LeaveRoom removes connID from a single room. It reports the name that was
// removed, or false when the connection was not a member. detach runs under
// the connection lock whether or not connID was a member, before publish, so
// a concurrent JoinRoom of the same connection lands either before or after
// it as a whole. Both callbacks may be nil.
func (r *Registry) LeaveRoom(docID, connID string, detach func(), publish func(name string, roster []string)) (string, bool, error) {
	room, err := r.GetRoom(docID)
	if err != nil {
		return "", false, err
	}
	if core.IsBlank(connID) {
		return "", false, fmt.Errorf("connection id is required: %w", core.ErrInvalidArgument)
	}

	conn := r.connection(connID)
	conn.mu.Lock()
	defer conn.mu.Unlock()

	if conn.closed {
		return "", false, nil
	}
	if detach != nil {
		detach()
	}
	name, removed := room.RemoveCollaborator(connID, publish)
	delete(conn.rooms, docID)
	return name, removed, nil
}

// RemoveConnection drops connID from every room it joined. publish runs once
// per affected room, in document id order.
func (r *Registry) RemoveConnection(connID string, publish func(docID, name string, roster []string)) []Departure {
	r.mu.Lock()
	conn, ok := r.conns[connID]
	delete(r.conns, connID)
	r.mu.Unlock()

	if !ok {
		return nil
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()

	conn.closed = true
	docIDs := make([]string, 0, len(conn.rooms))
	for docID := range conn.rooms {
		docIDs = append(docIDs, docID)
	}
	sort.Strings(docIDs)
	conn.rooms = nil

	var departures []Departure
	for _, docID := range docIDs {
		room, err := r.GetRoom(docID)
		if err != nil {
			continue
		}

		var notify func(string, []string)
		if publish != nil {
			notify = func(name string, roster []string) {
				publish(docID, name, roster)
			}
		}
		if name, removed := room.RemoveCollaborator(connID, notify); removed {
			departures = append(departures, Departure{DocID: docID, DisplayName: name})
		}
	}

	return departures
}

// ListDocumentIDs lists the ids the document store knows about.
func (r *Registry) ListDocumentIDs(ctx context.Context) (iter.Seq[string], error) {
	ids, err := r.store.ListIDs(ctx)
	if err != nil {
		return nil, err
	}
	return slices.Values(ids), nil
}

// Rooms returns every room created so far, ordered by id.
func (r *Registry) Rooms() []*Room {
	r.mu.Lock()
	rooms := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room)
	}
	r.mu.Unlock()

	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].ID() < rooms[j].ID()
	})
	return rooms
}

func (r *Registry) getOrCreate(docID string) *Room {
	r.mu.Lock()
	defer r.mu.Unlock()

	if room, ok := r.rooms[docID]; ok {
		return room
	}
	room := newRoom(docID)
	r.rooms[docID] = room
	return room
}

func (r *Registry) connection(connID string) *connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conn, ok := r.conns[connID]; ok {
		return conn
	}
	conn := &connection{rooms: make(map[string]struct{})}
	r.conns[connID] = conn
	return conn
}
