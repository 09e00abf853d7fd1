package rooms

import (
	"net/http"
	"onlinejson-server/collab"
	"onlinejson-server/core"
	"sort"

	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

type RoomSummary struct {
	ID         string `json:"id"`
	Users      int    `json:"users"`
	Seeded     bool   `json:"seeded"`
	Version    uint64 `json:"version"`
	LastActive *int64 `json:"lastActive,omitempty"`
}

// HandleList reports the rooms open in this process merged with the
// recorded activity of the document store. activity may be nil.
func HandleList(registry *collab.Registry, activity core.RoomActivity) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summaries := make(map[string]*RoomSummary)

		for _, room := range registry.Rooms() {
			summaries[room.ID()] = &RoomSummary{
				ID:      room.ID(),
				Users:   room.Len(),
				Seeded:  room.Seeded(),
				Version: room.Version(),
			}
		}

		if activity != nil {
			if stored, err := activity.ListRooms(r.Context()); err != nil {
				logrus.WithError(err).Warn("failed to list room activity")
			} else {
				for _, info := range stored {
					entry, exists := summaries[info.ID]
					if !exists {
						entry = &RoomSummary{ID: info.ID}
						summaries[info.ID] = entry
					}
					if info.LastActive > 0 {
						lastActive := info.LastActive
						entry.LastActive = &lastActive
					}
				}
			}
		}

		list := make([]RoomSummary, 0, len(summaries))
		for _, entry := range summaries {
			list = append(list, *entry)
		}
		sortSummaries(list)

		render.JSON(w, r, list)
	}
}

// sortSummaries orders by users desc, then last activity desc, then id.
func sortSummaries(list []RoomSummary) {
	lastActive := func(s RoomSummary) int64 {
		if s.LastActive == nil {
			return 0
		}
		return *s.LastActive
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Users != list[j].Users {
			return list[i].Users > list[j].Users
		}
		li, lj := lastActive(list[i]), lastActive(list[j])
		if li != lj {
			return li > lj
		}
		return list[i].ID < list[j].ID
	})
}
