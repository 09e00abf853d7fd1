package collab

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"onlinejson-server/core"
	"onlinejson-server/stores/memory"
	"slices"
	"sort"
	"sync"
	"testing"
	"time"
)

func newTestRegistry(t *testing.T, docs map[string]string) *Registry {
	t.Helper()
	store := memory.NewDocumentStore()
	for id, data := range docs {
		if err := store.Save(context.Background(), id, &core.Document{Data: *bytes.NewBufferString(data)}); err != nil {
			t.Fatalf("Save() failed: %v", err)
		}
	}
	return NewRegistry(store)
}

func TestJoinRoom_InvalidArguments(t *testing.T) {
	registry := newTestRegistry(t, nil)

	testCases := []struct {
		name, docID, connID, displayName string
	}{
		{"empty doc", "", "c1", "Alice"},
		{"blank doc", "   ", "c1", "Alice"},
		{"empty conn", "doc1", "", "Alice"},
		{"empty name", "doc1", "c1", ""},
		{"blank name", "doc1", "c1", " \t "},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := registry.JoinRoom(tc.docID, tc.connID, tc.displayName, nil)
			if !errors.Is(err, core.ErrInvalidArgument) {
				t.Errorf("JoinRoom() error mismatch: got %v, want ErrInvalidArgument", err)
			}
		})
	}

	if len(registry.Rooms()) != 0 {
		t.Error("invalid joins must not create rooms")
	}
}

func TestJoinRoom_CreatesRoomOnce(t *testing.T) {
	registry := newTestRegistry(t, nil)

	first, err := registry.JoinRoom("doc1", "c1", "Alice", nil)
	if err != nil {
		t.Fatalf("JoinRoom() failed: %v", err)
	}
	second, err := registry.JoinRoom("doc1", "c2", "Bob", nil)
	if err != nil {
		t.Fatalf("JoinRoom() failed: %v", err)
	}

	if first != second {
		t.Error("two joins to the same document produced different rooms")
	}
	if got := fmt.Sprint(first.RosterSnapshot()); got != "[Alice Bob]" {
		t.Errorf("roster mismatch: got %s, want [Alice Bob]", got)
	}
}

func TestJoinRoom_TrimsDisplayName(t *testing.T) {
	registry := newTestRegistry(t, nil)

	room, err := registry.JoinRoom("doc1", "c1", "  Alice  ", nil)
	if err != nil {
		t.Fatalf("JoinRoom() failed: %v", err)
	}
	if got := room.RosterSnapshot()[0]; got != "Alice" {
		t.Errorf("display name not trimmed: got %q", got)
	}
}

func TestJoinRoom_RejoinUpdatesName(t *testing.T) {
	registry := newTestRegistry(t, nil)

	if _, err := registry.JoinRoom("doc1", "c1", "Alice", nil); err != nil {
		t.Fatalf("JoinRoom() failed: %v", err)
	}
	room, err := registry.JoinRoom("doc1", "c1", "Alicia", nil)
	if err != nil {
		t.Fatalf("JoinRoom() failed: %v", err)
	}

	if got := fmt.Sprint(room.RosterSnapshot()); got != "[Alicia]" {
		t.Errorf("roster mismatch after rejoin: got %s, want [Alicia]", got)
	}
}

func TestJoinRoom_ConcurrentGetOrCreate(t *testing.T) {
	registry := newTestRegistry(t, nil)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		rooms = make(map[*Room]bool)
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			room, err := registry.JoinRoom("doc1", fmt.Sprintf("c%d", i), fmt.Sprintf("user%d", i), nil)
			if err != nil {
				t.Errorf("JoinRoom() failed: %v", err)
				return
			}
			mu.Lock()
			rooms[room] = true
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	if len(rooms) != 1 {
		t.Fatalf("expected exactly one room instance, got %d", len(rooms))
	}
	for room := range rooms {
		if room.Len() != 50 {
			t.Errorf("expected 50 collaborators, got %d", room.Len())
		}
	}
}

func TestGetRoom(t *testing.T) {
	registry := newTestRegistry(t, nil)

	if _, err := registry.GetRoom("doc1"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("GetRoom() before join: got %v, want ErrNotFound", err)
	}
	if _, err := registry.GetRoom(""); !errors.Is(err, core.ErrInvalidArgument) {
		t.Errorf("GetRoom(\"\"): got %v, want ErrInvalidArgument", err)
	}

	joined, err := registry.JoinRoom("doc1", "c1", "Alice", nil)
	if err != nil {
		t.Fatalf("JoinRoom() failed: %v", err)
	}
	room, err := registry.GetRoom("doc1")
	if err != nil {
		t.Fatalf("GetRoom() failed: %v", err)
	}
	if room != joined {
		t.Error("GetRoom() returned a different room than JoinRoom()")
	}
}

func TestRemoveConnection_CapturesNamePerRoom(t *testing.T) {
	registry := newTestRegistry(t, nil)

	mustJoin := func(docID, connID, name string) {
		t.Helper()
		if _, err := registry.JoinRoom(docID, connID, name, nil); err != nil {
			t.Fatalf("JoinRoom() failed: %v", err)
		}
	}
	mustJoin("doc1", "c1", "Alice")
	mustJoin("doc2", "c1", "Ally")
	mustJoin("doc1", "c2", "Bob")
	mustJoin("doc3", "c2", "Bob")

	var published []string
	departures := registry.RemoveConnection("c1", func(docID, name string, roster []string) {
		published = append(published, fmt.Sprintf("%s:%s:%v", docID, name, roster))
	})

	want := []Departure{{DocID: "doc1", DisplayName: "Alice"}, {DocID: "doc2", DisplayName: "Ally"}}
	if !slices.Equal(departures, want) {
		t.Errorf("RemoveConnection() mismatch: got %+v, want %+v", departures, want)
	}
	if got := fmt.Sprint(published); got != "[doc1:Alice:[Bob] doc2:Ally:[]]" {
		t.Errorf("publish mismatch: got %s", got)
	}

	room1, _ := registry.GetRoom("doc1")
	room2, _ := registry.GetRoom("doc2")
	if got := fmt.Sprint(room1.RosterSnapshot()); got != "[Bob]" {
		t.Errorf("doc1 roster mismatch: got %s, want [Bob]", got)
	}
	if room2.Len() != 0 {
		t.Errorf("doc2 should be empty, got %v", room2.RosterSnapshot())
	}
	if len(registry.Rooms()) != 3 {
		t.Error("empty rooms must not be deleted")
	}
}

func TestRemoveConnection_Unknown(t *testing.T) {
	registry := newTestRegistry(t, nil)

	if departures := registry.RemoveConnection("ghost", nil); len(departures) != 0 {
		t.Errorf("expected no departures, got %+v", departures)
	}
}

func TestRemoveConnection_ExactlyOncePerRoom(t *testing.T) {
	registry := newTestRegistry(t, nil)
	if _, err := registry.JoinRoom("doc1", "c1", "Alice", nil); err != nil {
		t.Fatalf("JoinRoom() failed: %v", err)
	}

	first := registry.RemoveConnection("c1", nil)
	second := registry.RemoveConnection("c1", nil)

	if len(first) != 1 || len(second) != 0 {
		t.Errorf("departures mismatch: first=%+v second=%+v", first, second)
	}
}

func TestRemoveConnection_RacesWithJoins(t *testing.T) {
	registry := newTestRegistry(t, nil)

	for i := 0; i < 100; i++ {
		connID := fmt.Sprintf("c%d", i)
		docID := fmt.Sprintf("doc%d", i%5)

		var wg sync.WaitGroup
		var joinErr error
		var departures []Departure
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, joinErr = registry.JoinRoom(docID, connID, "user", nil)
		}()
		go func() {
			defer wg.Done()
			departures = registry.RemoveConnection(connID, nil)
		}()
		wg.Wait()

		room, err := registry.GetRoom(docID)
		if err != nil {
			continue
		}
		present := slices.Contains(room.RosterSnapshot(), "user")
		// Either the join landed after the sweep (member, no departure) or the
		// sweep saw it (not a member, one departure).
		if joinErr == nil && present == (len(departures) == 1) {
			t.Fatalf("iteration %d: inconsistent membership present=%v departures=%+v", i, present, departures)
		}
		registry.RemoveConnection(connID, nil)
	}
}

func TestLeaveRoom(t *testing.T) {
	registry := newTestRegistry(t, nil)
	if _, err := registry.JoinRoom("doc1", "c1", "Alice", nil); err != nil {
		t.Fatalf("JoinRoom() failed: %v", err)
	}
	if _, err := registry.JoinRoom("doc2", "c1", "Alice", nil); err != nil {
		t.Fatalf("JoinRoom() failed: %v", err)
	}

	name, removed, err := registry.LeaveRoom("doc1", "c1", nil, nil)
	if err != nil || !removed || name != "Alice" {
		t.Fatalf("LeaveRoom() = (%q, %v, %v), want (%q, true, nil)", name, removed, err, "Alice")
	}

	_, removed, err = registry.LeaveRoom("doc1", "c1", nil, nil)
	if err != nil || removed {
		t.Errorf("second LeaveRoom() = (%v, %v), want (false, nil)", removed, err)
	}

	if _, _, err := registry.LeaveRoom("nope", "c1", nil, nil); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("LeaveRoom() on unknown room: got %v, want ErrNotFound", err)
	}

	departures := registry.RemoveConnection("c1", nil)
	want := []Departure{{DocID: "doc2", DisplayName: "Alice"}}
	if !slices.Equal(departures, want) {
		t.Errorf("RemoveConnection() after leave: got %+v, want %+v", departures, want)
	}
}

func TestLeaveRoom_DetachRunsForNonMembers(t *testing.T) {
	registry := newTestRegistry(t, nil)
	if _, err := registry.JoinRoom("doc1", "c1", "Alice", nil); err != nil {
		t.Fatalf("JoinRoom() failed: %v", err)
	}

	detached := 0
	_, removed, err := registry.LeaveRoom("doc1", "c2", func() { detached++ }, func(string, []string) {
		t.Error("publish must not run for a non-member")
	})
	if err != nil || removed {
		t.Fatalf("LeaveRoom() = (%v, %v), want (false, nil)", removed, err)
	}
	if detached != 1 {
		t.Errorf("detach called %d times, want 1", detached)
	}
}

func TestLeaveRoom_DetachHoldsConnectionLock(t *testing.T) {
	registry := newTestRegistry(t, nil)
	if _, err := registry.JoinRoom("doc1", "c0", "Bob", nil); err != nil {
		t.Fatalf("JoinRoom() failed: %v", err)
	}

	joined := make(chan struct{})
	_, _, err := registry.LeaveRoom("doc1", "c1", func() {
		go func() {
			defer close(joined)
			if _, err := registry.JoinRoom("doc1", "c1", "Alice", nil); err != nil {
				t.Errorf("JoinRoom() failed: %v", err)
			}
		}()
		select {
		case <-joined:
			t.Error("a join of the same connection completed while detach was running")
		case <-time.After(50 * time.Millisecond):
		}
	}, nil)
	if err != nil {
		t.Fatalf("LeaveRoom() failed: %v", err)
	}
	<-joined

	room, _ := registry.GetRoom("doc1")
	if got := fmt.Sprint(room.RosterSnapshot()); got != "[Bob Alice]" {
		t.Errorf("join after leave should stick: got %s", got)
	}
}

func TestListDocumentIDs(t *testing.T) {
	registry := newTestRegistry(t, map[string]string{"b.json": "{}", "a.json": "[]"})

	seq, err := registry.ListDocumentIDs(context.Background())
	if err != nil {
		t.Fatalf("ListDocumentIDs() failed: %v", err)
	}

	ids := slices.Collect(seq)
	if !sort.StringsAreSorted(ids) || fmt.Sprint(ids) != "[a.json b.json]" {
		t.Errorf("ListDocumentIDs() mismatch: got %v", ids)
	}
}

func TestRosterMatchesJoinedMinusLeft(t *testing.T) {
	registry := newTestRegistry(t, nil)

	for i := 0; i < 10; i++ {
		if _, err := registry.JoinRoom("doc1", fmt.Sprintf("c%d", i), fmt.Sprintf("user%d", i), nil); err != nil {
			t.Fatalf("JoinRoom() failed: %v", err)
		}
	}
	for i := 0; i < 10; i += 3 {
		registry.RemoveConnection(fmt.Sprintf("c%d", i), nil)
	}

	room, err := registry.GetRoom("doc1")
	if err != nil {
		t.Fatalf("GetRoom() failed: %v", err)
	}
	want := []string{"user1", "user2", "user4", "user5", "user7", "user8"}
	if got := room.RosterSnapshot(); !slices.Equal(got, want) {
		t.Errorf("roster mismatch: got %v, want %v", got, want)
	}
}
