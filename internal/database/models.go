package database

import "time"

type User struct {
	Id           int
	Username     string
	EmailAddress string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Room struct {
	Id          int
	ExternalId  string
	Name        string
	Description string
	OwnerId     int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Track struct {
	Id         string
	RoomId     string
	Title      string
	Artist     string
	AddedBy    int
	Votes      int
	DurationMs int
	CreatedAt  time.Time
}

type PlaybackState struct {
	RoomId     string
	TrackId    string
	State      string
	PositionMs int
	UpdatedAt  time.Time
}

type CreateAccountParams struct {
	Username     string
	EmailAddress string
	PasswordHash string
}

type CreateRoomParams struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	OwnerId     int    `json:"-"`
	ExternalId  string `json:"external_id"`
}

type AddTrackParams struct {
	Id         string
	RoomId     string
	Title      string
	Artist     string
	AddedBy    int
	DurationMs int
}
