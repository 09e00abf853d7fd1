package core

import (
	"bytes"
	"context"
)

type (
	Document struct {
		Data bytes.Buffer
	}

	// DocumentStore is the backing source of seed content for rooms.
	DocumentStore interface {
		// Load returns the stored document or an error wrapping ErrNotFound.
		Load(ctx context.Context, id string) (*Document, error)
		// ListIDs returns every known document id in ascending order.
		ListIDs(ctx context.Context) ([]string, error)
		Save(ctx context.Context, id string, document *Document) error
	}

	RoomInfo struct {
		ID         string
		LastActive int64
	}

	// RoomActivity records when rooms were last used. Stores implement it
	// optionally.
	RoomActivity interface {
		ListRooms(ctx context.Context) ([]RoomInfo, error)
		TouchRoom(ctx context.Context, roomID string) error
	}
)
