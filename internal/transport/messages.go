package transport

import (
	"net/http"
	"time"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type ClientMessage struct {
	BaseMessage
	Auth     *Auth     `json:"auth,omitempty"`
	Join     *Join     `json:"join,omitempty"`
	Leave    *Leave    `json:"leave,omitempty"`
	AddTrack *AddTrack `json:"add_track,omitempty"`
	Vote     *Vote     `json:"vote,omitempty"`
	Playback *Playback `json:"playback,omitempty"`
	Confirm  *Confirm  `json:"confirm,omitempty"`
}

type Auth struct {
	Token string `json:"token"`
}

type Join struct {
	RoomId string `json:"room_id"`
}

type Leave struct {
	RoomId string `json:"room_id,omitempty"`
}

type AddTrack struct {
	Title      string `json:"title"`
	Artist     string `json:"artist"`
	DurationMs int    `json:"duration_ms,omitempty"`
}

type Vote struct {
	TrackId string `json:"track_id"`
	Up      bool   `json:"up"`
}

type Playback struct {
	Action     string `json:"action"`
	TrackId    string `json:"track_id,omitempty"`
	PositionMs int    `json:"position_ms,omitempty"`
}

type Confirm struct {
	EventId string `json:"event_id"`
}

type ServerMessage struct {
	BaseMessage
	Response *Response `json:"response,omitempty"`
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
	Data         any    `json:"data,omitempty"`
}

func NoErrOK(id int, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

func NoErrAccepted(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusAccepted,
		},
	}
}

func ErrRoomNotFound(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusNotFound,
			Error:        "room not found",
		},
	}
}

func ErrTrackNotFound(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusNotFound,
			Error:        "track not found",
		},
	}
}

func ErrUnauthorized(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusUnauthorized,
			Error:        "authentication required",
		},
	}
}

func ErrInternalError(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusInternalServerError,
			Error:        "internal server error",
		},
	}
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusServiceUnavailable,
			Error:        "service unavailable",
		},
	}
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusBadRequest,
			Error:        "invalid message format",
		},
	}

	if id > 0 {
		msg.Id = id
	}
	return msg
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
