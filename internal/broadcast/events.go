package broadcast

import (
	"encoding/json"
	"fmt"
	"time"
)

type EventType string

const (
	EventUserJoined       EventType = "user_joined"
	EventUserLeft         EventType = "user_left"
	EventUserConnected    EventType = "user_connected"
	EventUserDisconnected EventType = "user_disconnected"
	EventTrackAdded       EventType = "track_added"
	EventTrackVoted       EventType = "track_voted"
	EventTrackUnvoted     EventType = "track_unvoted"
	EventQueueReordered   EventType = "queue_reordered"
	EventPlaybackStarted  EventType = "playback_started"
	EventPlaybackPaused   EventType = "playback_paused"
	EventPlaybackResumed  EventType = "playback_resumed"
	EventPlaybackStopped  EventType = "playback_stopped"
	EventPlaybackSeeked   EventType = "playback_seeked"
	EventTrackSkipped     EventType = "track_skipped"
	EventRoomStateUpdated EventType = "room_state_updated"
	EventError            EventType = "error"
)

type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "normal"
	}
}

func (p Priority) MarshalJSON() ([]byte, error) {
	return []byte(`"` + p.String() + `"`), nil
}

func (p *Priority) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	switch s {
	case "low":
		*p = PriorityLow
	case "high":
		*p = PriorityHigh
	case "critical":
		*p = PriorityCritical
	default:
		*p = PriorityNormal
	}

	return nil
}

// retryable reports whether a transient send failure warrants one retry.
func (p Priority) retryable() bool {
	return p >= PriorityHigh
}

// eventPriorities is the fixed type-to-priority mapping used by the
// specialized composers.
var eventPriorities = map[EventType]Priority{
	EventUserJoined:       PriorityNormal,
	EventUserLeft:         PriorityNormal,
	EventUserConnected:    PriorityNormal,
	EventUserDisconnected: PriorityHigh,
	EventTrackAdded:       PriorityNormal,
	EventTrackVoted:       PriorityNormal,
	EventTrackUnvoted:     PriorityNormal,
	EventQueueReordered:   PriorityHigh,
	EventPlaybackStarted:  PriorityHigh,
	EventPlaybackPaused:   PriorityHigh,
	EventPlaybackResumed:  PriorityHigh,
	EventPlaybackStopped:  PriorityHigh,
	EventPlaybackSeeked:   PriorityHigh,
	EventTrackSkipped:     PriorityHigh,
	EventRoomStateUpdated: PriorityHigh,
	EventError:            PriorityCritical,
}

func defaultPriority(t EventType) Priority {
	if p, ok := eventPriorities[t]; ok {
		return p
	}
	return PriorityNormal
}

type Event struct {
	Id        string         `json:"event_id"`
	Type      EventType      `json:"type"`
	Scope     string         `json:"scope"`
	Priority  Priority       `json:"priority"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
	Deadline  time.Time      `json:"-"`
}

func RoomScope(roomId string) string { return fmt.Sprintf("room:%s", roomId) }
func UserScope(userId int) string    { return fmt.Sprintf("user:%d", userId) }

const GlobalScope = "global"

type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeConfirmed
	OutcomeFailed
	OutcomeExpired
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeConfirmed:
		return "confirmed"
	case OutcomeFailed:
		return "failed"
	case OutcomeExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// DeliveryRecord tracks the outcome of one event delivered to one
// connection. A record still pending once its event's deadline passes is
// expired by the sweep; resolved records are purged a retention window
// after resolution.
type DeliveryRecord struct {
	EventId     string
	ConnId      string
	UserId      int
	Outcome     Outcome
	AttemptedAt time.Time
	Deadline    time.Time
	ResolvedAt  time.Time
}
