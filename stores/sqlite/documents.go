package sqlite

import (
	"bytes"
	"context"
	"fmt"
	"onlinejson-server/core"
	"time"

	"database/sql"
	stdlog "log"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

type documentStore struct {
	db *sql.DB
}

func NewDocumentStore(dataSourceName string) core.DocumentStore {
	db, err := sql.Open("sqlite3", dataSourceName)

	if err != nil {
		stdlog.Fatal(err)
	}
	// One writer at a time; concurrent sqlite writers fail with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	sts := `CREATE TABLE IF NOT EXISTS documents (id TEXT PRIMARY KEY, data BLOB);`
	_, err = db.Exec(sts)
	if err != nil {
		stdlog.Fatal(err)
	}

	roomsTable := `CREATE TABLE IF NOT EXISTS rooms (
		room_id TEXT PRIMARY KEY,
		last_active INTEGER NOT NULL
	);`
	_, err = db.Exec(roomsTable)
	if err != nil {
		stdlog.Fatal(err)
	}

	return &documentStore{db}
}

func (s *documentStore) Load(ctx context.Context, id string) (*core.Document, error) {
	log := logrus.WithField("document_id", id)
	log.Debug("Retrieving document by ID")
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT data FROM documents WHERE id = ?", id).Scan(&data)
	if err != nil {
		if err == sql.ErrNoRows {
			log.WithField("error", "document not found").Warn("Document with specified ID not found")
			return nil, fmt.Errorf("document with id %s: %w", id, core.ErrNotFound)
		}
		log.WithField("error", err).Error("Failed to retrieve document")
		return nil, err
	}
	document := core.Document{
		Data: *bytes.NewBuffer(data),
	}
	log.Debug("Document retrieved successfully")
	return &document, nil
}

func (s *documentStore) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM documents ORDER BY id ASC")
	if err != nil {
		logrus.WithField("error", err).Error("Failed to list documents")
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			logrus.WithError(cerr).Warn("Failed to close document rows")
		}
	}()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
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

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO documents (id, data) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET data = excluded.data",
		id, data)
	if err != nil {
		log.WithField("error", err).Error("Failed to save document")
		return err
	}
	log.Info("Document saved successfully")
	return nil
}

func (s *documentStore) TouchRoom(ctx context.Context, roomID string) error {
	if roomID == "" {
		return fmt.Errorf("room id is required: %w", core.ErrInvalidArgument)
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO rooms (room_id, last_active) VALUES (?, ?) ON CONFLICT(room_id) DO UPDATE SET last_active = excluded.last_active",
		roomID, time.Now().UnixMilli())
	if err != nil {
		logrus.WithFields(logrus.Fields{"room_id": roomID, "error": err}).Error("Failed to touch room")
		return err
	}
	return nil
}

func (s *documentStore) ListRooms(ctx context.Context) ([]core.RoomInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT room_id, last_active FROM rooms ORDER BY last_active DESC, room_id ASC")
	if err != nil {
		logrus.WithField("error", err).Error("Failed to list rooms")
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			logrus.WithError(cerr).Warn("Failed to close room rows")
		}
	}()

	rooms := []core.RoomInfo{}
	for rows.Next() {
		var room core.RoomInfo
		if err := rows.Scan(&room.ID, &room.LastActive); err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

func (s *documentStore) Close() error {
	return s.db.Close()
}
