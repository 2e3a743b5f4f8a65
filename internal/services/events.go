package services

import (
	"context"
	"encoding/json"
	"log"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/joyboy80/AttendanceTracker/internal/models"
)

const (
	EventSessionUpdated = "session_updated"
	EventAttendeeMarked = "attendee_marked"
)

func SessionChannel(sessionID uuid.UUID) string {
	return "session_updates:" + sessionID.String()
}

// SessionEvents fans session changes out over Redis pub/sub so every API
// replica can push them to the dashboards it holds.
type SessionEvents struct {
	redis *redis.Client
}

func NewSessionEvents(redisClient *redis.Client) *SessionEvents {
	return &SessionEvents{redis: redisClient}
}

// Publish is best effort; a lost update only delays a dashboard refresh.
func (p *SessionEvents) Publish(ctx context.Context, event models.SessionEvent) {
	msgType := EventSessionUpdated
	if event.Mark != nil {
		msgType = EventAttendeeMarked
	}

	data, err := json.Marshal(models.WSMessage{Type: msgType, Payload: event})
	if err != nil {
		log.Printf("[events] failed to encode %s for session %s: %v", msgType, event.SessionID, err)
		return
	}
	if err := p.redis.Publish(ctx, SessionChannel(event.SessionID), data).Err(); err != nil {
		log.Printf("[events] failed to publish %s for session %s: %v", msgType, event.SessionID, err)
	}
}
