package broadcast

// The composers accept minimal capability interfaces rather than concrete
// domain types: anything exposing the expected fields qualifies.

type UserInfo interface {
	UserId() int
	DisplayName() string
}

type TrackInfo interface {
	TrackId() string
	TrackSummary() map[string]any
}

type PlaybackInfo interface {
	PlaybackSummary() map[string]any
}

// UserActivity broadcasts a user presence event (user_joined, user_left,
// user_connected, user_disconnected) to the room.
func (eb *EventBroadcaster) UserActivity(roomId string, typ EventType, u UserInfo) bool {
	payload := map[string]any{
		"user_id":  u.UserId(),
		"username": u.DisplayName(),
		"room_id":  roomId,
	}

	return eb.BroadcastToRoom(roomId, typ, payload, defaultPriority(typ))
}

// TrackActivity broadcasts a queue event (track_added, track_voted,
// track_unvoted, track_skipped) to the room.
func (eb *EventBroadcaster) TrackActivity(roomId string, typ EventType, tr TrackInfo, u UserInfo) bool {
	payload := map[string]any{
		"room_id": roomId,
		"track":   tr.TrackSummary(),
	}
	if u != nil {
		payload["user_id"] = u.UserId()
	}

	return eb.BroadcastToRoom(roomId, typ, payload, defaultPriority(typ))
}

// PlaybackActivity broadcasts a playback transition to the room.
func (eb *EventBroadcaster) PlaybackActivity(roomId string, typ EventType, pb PlaybackInfo) bool {
	payload := map[string]any{
		"room_id":  roomId,
		"playback": pb.PlaybackSummary(),
	}

	return eb.BroadcastToRoom(roomId, typ, payload, defaultPriority(typ))
}

// RoomState broadcasts the full room-state snapshot. Always high priority.
func (eb *EventBroadcaster) RoomState(roomId string, state any) bool {
	payload := map[string]any{
		"room_id":    roomId,
		"room_state": state,
	}

	return eb.BroadcastToRoom(roomId, EventRoomStateUpdated, payload, defaultPriority(EventRoomStateUpdated))
}

// Error sends an error event to a single user. Always critical.
func (eb *EventBroadcaster) Error(userId int, code, message string) bool {
	payload := map[string]any{
		"code":    code,
		"message": message,
	}

	return eb.BroadcastToUser(userId, EventError, payload, defaultPriority(EventError))
}
