package types

import (
	"time"
)

type User struct {
	Id           int       `json:"id"`
	Username     string    `json:"username"`
	EmailAddress string    `json:"email_address,omitempty"`
	Password     string    `json:"-"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

func (u User) UserId() int         { return u.Id }
func (u User) DisplayName() string { return u.Username }

type Track struct {
	Id      string `json:"id"`
	Title   string `json:"title"`
	Artist  string `json:"artist"`
	AddedBy int    `json:"added_by"`
	Votes   int    `json:"votes"`
	// DurationMs is the track length reported by the media catalog.
	DurationMs int       `json:"duration_ms,omitempty"`
	AddedAt    time.Time `json:"added_at,omitempty"`
}

func (t Track) TrackId() string { return t.Id }

func (t Track) TrackSummary() map[string]any {
	return map[string]any{
		"id":       t.Id,
		"title":    t.Title,
		"artist":   t.Artist,
		"added_by": t.AddedBy,
		"votes":    t.Votes,
	}
}

type PlaybackState struct {
	RoomId     string    `json:"room_id"`
	TrackId    string    `json:"track_id,omitempty"`
	State      string    `json:"state"`
	PositionMs int       `json:"position_ms"`
	UpdatedAt  time.Time `json:"updated_at,omitempty"`
}

func (p PlaybackState) PlaybackSummary() map[string]any {
	return map[string]any{
		"room_id":     p.RoomId,
		"track_id":    p.TrackId,
		"state":       p.State,
		"position_ms": p.PositionMs,
	}
}

type Room struct {
	ExternalId  string    `json:"external_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	OwnerId     int       `json:"owner_id"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}
