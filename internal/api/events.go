package api

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/dockyard/internal/fault"
	"github.com/zulandar/dockyard/internal/fleet"
)

// eventItem is the wire form of an audit event. Field names follow the
// operator GUI's expectations.
type eventItem struct {
	ID        uint64    `json:"id"`
	Timestamp time.Time `json:"ts"`
	Actor     string    `json:"actor"`
	Level     string    `json:"level"`
	EventType string    `json:"event_type"`
	Message   string    `json:"message"`
	RobotID   *string   `json:"robot_id"`
}

func handleRecentEvents(f *fleet.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 0
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				fail(c, fault.Validation("api: recent events", "limit %q is not an integer", raw), nil)
				return
			}
			limit = n
		}
		robotID := strings.TrimSpace(c.Query("robot_id"))

		events, err := f.RecentEvents(c.Request.Context(), limit, robotID)
		if err != nil {
			fail(c, err, gin.H{"items": []eventItem{}})
			return
		}

		var rid *string
		if robotID != "" {
			rid = &robotID
		}
		items := make([]eventItem, len(events))
		for i, e := range events {
			items[i] = eventItem{
				ID:        e.ID,
				Timestamp: e.CreatedAt.UTC(),
				Actor:     e.Source,
				Level:     e.Level,
				EventType: e.Type,
				Message:   e.Detail,
				RobotID:   rid,
			}
		}
		ok(c, gin.H{"items": items})
	}
}
