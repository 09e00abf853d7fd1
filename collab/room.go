package collab

import (
	"sync"
	"sync/atomic"
)

// Room is the live collaboration state of one document: the current content
// snapshot and the roster of connected collaborators.
//
// Content and roster are guarded by separate locks, so the two are
// linearizable independently. Callbacks passed to mutating methods run after
// the mutation is visible and before the next mutation of the same kind is
// allowed to commit, which keeps notifications in commit order.
type Room struct {
	id string

	contentMu sync.Mutex
	content   atomic.Pointer[string]
	seeded    atomic.Bool
	version   atomic.Uint64

	rosterMu sync.Mutex
	roster   map[string]string
	order    []string
}

func newRoom(id string) *Room {
	r := &Room{
		id:     id,
		roster: make(map[string]string),
	}
	empty := ""
	r.content.Store(&empty)
	return r
}

func (r *Room) ID() string {
	return r.id
}

// Snapshot returns the current content without taking the write lock.
func (r *Room) Snapshot() string {
	return *r.content.Load()
}

// Version counts committed content writes.
func (r *Room) Version() uint64 {
	return r.version.Load()
}

func (r *Room) Seeded() bool {
	return r.seeded.Load()
}

// SetContent replaces the content. A write also counts as seeding, so a later
// TrySeed never overwrites it. publish may be nil.
func (r *Room) SetContent(content string, publish func(content string)) {
	r.contentMu.Lock()
	defer r.contentMu.Unlock()

	r.commit(content)
	if publish != nil {
		publish(content)
	}
}

// TrySeed loads the initial content once per room lifetime. Concurrent
// callers are serialized: exactly one runs load, the others observe its
// result (or any edit committed after it) with didSeed false. A failed load
// leaves the room unseeded. publish, when non-nil, receives the content that
// is returned.
func (r *Room) TrySeed(load func() (string, error), publish func(content string)) (content string, didSeed bool, err error) {
	r.contentMu.Lock()
	defer r.contentMu.Unlock()

	if r.seeded.Load() {
		content = r.Snapshot()
	} else {
		content, err = load()
		if err != nil {
			return "", false, err
		}
		r.commit(content)
		didSeed = true
	}

	if publish != nil {
		publish(content)
	}
	return content, didSeed, nil
}

func (r *Room) commit(content string) {
	r.content.Store(&content)
	r.seeded.Store(true)
	r.version.Add(1)
}

// AddOrUpdateCollaborator upserts connID with name and reports whether the
// roster changed. publish runs only on change and receives the new roster.
func (r *Room) AddOrUpdateCollaborator(connID, name string, publish func(roster []string)) bool {
	r.rosterMu.Lock()
	defer r.rosterMu.Unlock()

	current, exists := r.roster[connID]
	if exists && current == name {
		return false
	}
	if !exists {
		r.order = append(r.order, connID)
	}
	r.roster[connID] = name

	if publish != nil {
		publish(r.rosterLocked())
	}
	return true
}

// RemoveCollaborator removes connID and returns the name it held. publish
// runs only when an entry was removed.
func (r *Room) RemoveCollaborator(connID string, publish func(name string, roster []string)) (string, bool) {
	r.rosterMu.Lock()
	defer r.rosterMu.Unlock()

	name, exists := r.roster[connID]
	if !exists {
		return "", false
	}
	delete(r.roster, connID)
	for i, id := range r.order {
		if id == connID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	if publish != nil {
		publish(name, r.rosterLocked())
	}
	return name, true
}

// RosterSnapshot returns a copy of the display names in join order.
func (r *Room) RosterSnapshot() []string {
	r.rosterMu.Lock()
	defer r.rosterMu.Unlock()
	return r.rosterLocked()
}

// Len returns the number of collaborators.
func (r *Room) Len() int {
	r.rosterMu.Lock()
	defer r.rosterMu.Unlock()
	return len(r.roster)
}

func (r *Room) rosterLocked() []string {
	names := make([]string, 0, len(r.order))
	for _, id := range r.order {
		names = append(names, r.roster[id])
	}
	return names
}
