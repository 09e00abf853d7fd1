package redis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"onlinejson-server/core"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	documentKeyPrefix = "onlinejson:doc:"
	documentIndexKey  = "onlinejson:docs"
	roomActivityKey   = "onlinejson:rooms"
)

type documentStore struct {
	rdb *goredis.Client
}

func NewDocumentStore(addr string) core.DocumentStore {
	rdb := goredis.NewClient(&goredis.Options{
		Addr: addr,
	})
	return &documentStore{rdb: rdb}
}

func documentKey(id string) string {
	return documentKeyPrefix + id
}

func (s *documentStore) Load(ctx context.Context, id string) (*core.Document, error) {
	log := logrus.WithField("document_id", id)

	data, err := s.rdb.Get(ctx, documentKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			log.WithField("error", "document not found").Warn("Document with specified ID not found")
			return nil, fmt.Errorf("document with id %s: %w", id, core.ErrNotFound)
		}
		log.WithError(err).Error("Failed to retrieve document")
		return nil, err
	}

	log.Debug("Document retrieved successfully")
	return &core.Document{Data: *bytes.NewBuffer(data)}, nil
}

func (s *documentStore) ListIDs(ctx context.Context) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, documentIndexKey).Result()
	if err != nil {
		logrus.WithError(err).Error("Failed to list documents")
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *documentStore) Save(ctx context.Context, id string, document *core.Document) error {
	if core.IsBlank(id) {
		return fmt.Errorf("document id is required: %w", core.ErrInvalidArgument)
	}

	data := document.Data.Bytes()
	log := logrus.WithFields(logrus.Fields{
		"document_id": id,
		"data_length": len(data),
	})

	_, err := s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, documentKey(id), data, 0)
		pipe.SAdd(ctx, documentIndexKey, id)
		return nil
	})
	if err != nil {
		log.WithError(err).Error("Failed to save document")
		return err
	}

	log.Info("Document saved successfully")
	return nil
}

func (s *documentStore) TouchRoom(ctx context.Context, roomID string) error {
	if roomID == "" {
		return fmt.Errorf("room id is required: %w", core.ErrInvalidArgument)
	}

	return s.rdb.ZAdd(ctx, roomActivityKey, goredis.Z{
		Score:  float64(time.Now().UnixMilli()),
		Member: roomID,
	}).Err()
}

func (s *documentStore) ListRooms(ctx context.Context) ([]core.RoomInfo, error) {
	entries, err := s.rdb.ZRevRangeWithScores(ctx, roomActivityKey, 0, -1).Result()
	if err != nil {
		logrus.WithError(err).Error("Failed to list rooms")
		return nil, err
	}

	rooms := make([]core.RoomInfo, 0, len(entries))
	for _, entry := range entries {
		id, ok := entry.Member.(string)
		if !ok {
			continue
		}
		rooms = append(rooms, core.RoomInfo{ID: id, LastActive: int64(entry.Score)})
	}

	sort.SliceStable(rooms, func(i, j int) bool {
		if rooms[i].LastActive == rooms[j].LastActive {
			return rooms[i].ID < rooms[j].ID
		}
		return rooms[i].LastActive > rooms[j].LastActive
	})
	return rooms, nil
}

// Close releases the underlying client.
func (s *documentStore) Close() error {
	return s.rdb.Close()
}
