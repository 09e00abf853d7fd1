package memory

import (
	"bytes"
	"context"
	"fmt"
	"onlinejson-server/core"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type documentStore struct {
	mu        sync.RWMutex
	documents map[string][]byte
	rooms     map[string]int64
}

func NewDocumentStore() core.DocumentStore {
	return &documentStore{
		documents: make(map[string][]byte),
		rooms:     make(map[string]int64),
	}
}

func (s *documentStore) Load(ctx context.Context, id string) (*core.Document, error) {
	log := logrus.WithField("document_id", id)

	s.mu.RLock()
	data, ok := s.documents[id]
	s.mu.RUnlock()

	if ok {
		log.Debug("Document retrieved successfully")
		return &core.Document{Data: *bytes.NewBuffer(bytes.Clone(data))}, nil
	}

	log.WithField("error", "document not found").Warn("Document with specified ID not found")
	return nil, fmt.Errorf("document with id %s: %w", id, core.ErrNotFound)
}

func (s *documentStore) ListIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.documents))
	for id := range s.documents {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	sort.Strings(ids)
	return ids, nil
}

func (s *documentStore) Save(ctx context.Context, id string, document *core.Document) error {
	if core.IsBlank(id) {
		return fmt.Errorf("document id is required: %w", core.ErrInvalidArgument)
	}

	data := bytes.Clone(document.Data.Bytes())
	s.mu.Lock()
	s.documents[id] = data
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"document_id": id,
		"data_length": len(data),
	}).Info("Document saved successfully")

	return nil
}

func (s *documentStore) TouchRoom(ctx context.Context, roomID string) error {
	if roomID == "" {
		return fmt.Errorf("room id is required: %w", core.ErrInvalidArgument)
	}

	s.mu.Lock()
	s.rooms[roomID] = time.Now().UnixMilli()
	s.mu.Unlock()

	return nil
}

func (s *documentStore) ListRooms(ctx context.Context) ([]core.RoomInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rooms := make([]core.RoomInfo, 0, len(s.rooms))
	for id, last := range s.rooms {
		rooms = append(rooms, core.RoomInfo{ID: id, LastActive: last})
	}

	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].LastActive == rooms[j].LastActive {
			return rooms[i].ID < rooms[j].ID
		}
		return rooms[i].LastActive > rooms[j].LastActive
	})

	return rooms, nil
}
