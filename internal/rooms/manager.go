package rooms

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/auxroom/go-auxroom/internal/broadcast"
	"github.com/auxroom/go-auxroom/internal/database"
	"github.com/auxroom/go-auxroom/internal/stats"
	"github.com/auxroom/go-auxroom/internal/types"
	"github.com/google/uuid"
	"github.com/teris-io/shortid"
)

var (
	ErrRoomNotFound  = errors.New("room not found")
	ErrRoomExists    = errors.New("room already exists")
	ErrTrackNotFound = errors.New("track not found")
)

const (
	MetricActiveRooms       = "ActiveRooms"
	MetricTotalParticipants = "TotalParticipants"
)

// ConnectionCounter is the registry surface the manager needs for its
// global statistics.
type ConnectionCounter interface {
	TotalConnections() int
}

// Room is the authoritative participant directory for one session. It is
// mutated only through the manager's entry points.
type Room struct {
	Id           string
	participants []int
	CreatedAt    time.Time
	LastNonEmpty time.Time
	// version increments on every mutation; a cached snapshot is only valid
	// for the version it was computed at.
	version uint64
}

func (r *Room) hasParticipant(userId int) bool {
	for _, id := range r.participants {
		if id == userId {
			return true
		}
	}
	return false
}

// RoomStateSnapshot is the derived, cacheable view of a room served to
// clients and to the HTTP layer.
type RoomStateSnapshot struct {
	RoomId           string              `json:"room_id"`
	Participants     []int               `json:"participants"`
	ParticipantCount int                 `json:"participant_count"`
	Queue            []types.Track       `json:"queue"`
	Playback         types.PlaybackState `json:"playback"`
	GeneratedAt      time.Time           `json:"generated_at"`
}

type cachedSnapshot struct {
	snap    *RoomStateSnapshot
	version uint64
}

type GlobalStatistics struct {
	RoomCount         int                  `json:"room_count"`
	TotalParticipants int                  `json:"total_participants"`
	Connections       int                  `json:"connections"`
	Broadcast         broadcast.Statistics `json:"broadcast"`
}

type CreateRoomParams struct {
	RoomId      string
	Name        string
	Description string
}

type AddTrackParams struct {
	Title      string
	Artist     string
	DurationMs int
}

type RoomManager struct {
	log   *log.Logger
	db    database.MusicRepository
	eb    *broadcast.EventBroadcaster
	conns ConnectionCounter
	stats stats.StatsProvider

	generateRoomId func() (string, error)

	mu       sync.Mutex
	rooms    map[string]*Room
	cache    map[string]*cachedSnapshot
	userRoom map[int]string
}

func NewRoomManager(logger *log.Logger, db database.MusicRepository, eb *broadcast.EventBroadcaster, conns ConnectionCounter, su stats.StatsProvider) *RoomManager {
	su.RegisterMetric(MetricActiveRooms)
	su.RegisterMetric(MetricTotalParticipants)

	return &RoomManager{
		log:            logger,
		db:             db,
		eb:             eb,
		conns:          conns,
		stats:          su,
		generateRoomId: shortid.Generate,
		rooms:          make(map[string]*Room),
		cache:          make(map[string]*cachedSnapshot),
		userRoom:       make(map[int]string),
	}
}

// CreateRoom allocates a room. A caller-supplied id that collides with a
// live room fails with ErrRoomExists; an empty id gets a generated one.
func (rm *RoomManager) CreateRoom(ownerId int, params CreateRoomParams) (string, error) {
	roomId := params.RoomId
	if roomId == "" {
		var err error
		roomId, err = rm.generateRoomId()
		if err != nil {
			return "", fmt.Errorf("generate room id: %w", err)
		}
	}

	rm.mu.Lock()
	if _, ok := rm.rooms[roomId]; ok {
		rm.mu.Unlock()
		return "", ErrRoomExists
	}

	now := time.Now()
	rm.rooms[roomId] = &Room{
		Id:           roomId,
		CreatedAt:    now,
		LastNonEmpty: now,
	}
	rm.mu.Unlock()

	if _, err := rm.db.CreateRoom(database.CreateRoomParams{
		ExternalId:  roomId,
		Name:        params.Name,
		Description: params.Description,
		OwnerId:     ownerId,
	}); err != nil {
		rm.mu.Lock()
		delete(rm.rooms, roomId)
		rm.mu.Unlock()
		return "", fmt.Errorf("persist room: %w", err)
	}

	rm.stats.Incr(MetricActiveRooms)
	rm.log.Printf("created room %q for owner %d", roomId, ownerId)
	return roomId, nil
}

// JoinRoom adds the user to the room's participant set. Joining a room the
// user already belongs to is a no-op success. A successful join broadcasts
// user_joined to the room.
func (rm *RoomManager) JoinRoom(roomId string, user types.User) error {
	rm.mu.Lock()
	prev, inRoom := rm.userRoom[user.Id]
	rm.mu.Unlock()
	if inRoom && prev != roomId {
		// a user participates in one room at a time
		if err := rm.LeaveRoom(prev, user); err != nil {
			rm.log.Printf("failed to leave room %q before joining %q: %v", prev, roomId, err)
		}
	}

	rm.mu.Lock()
	room, ok := rm.rooms[roomId]
	if !ok {
		rm.mu.Unlock()
		return ErrRoomNotFound
	}

	if room.hasParticipant(user.Id) {
		rm.mu.Unlock()
		return nil
	}

	room.participants = append(room.participants, user.Id)
	room.LastNonEmpty = time.Now()
	room.version++
	delete(rm.cache, roomId)
	rm.userRoom[user.Id] = roomId
	rm.mu.Unlock()

	rm.stats.Incr(MetricTotalParticipants)
	rm.eb.UserActivity(roomId, broadcast.EventUserJoined, user)
	return nil
}

// LeaveRoom removes the user from the room and broadcasts user_left. An
// empty room is not destroyed here; its idle countdown starts and
// CleanupStaleData destroys it once the TTL elapses.
func (rm *RoomManager) LeaveRoom(roomId string, user types.User) error {
	removed, err := rm.removeParticipant(roomId, user.Id)
	if err != nil {
		return err
	}

	if removed {
		rm.stats.Decr(MetricTotalParticipants)
		rm.eb.UserActivity(roomId, broadcast.EventUserLeft, user)
	}
	return nil
}

// HandleUserDisconnect removes the user from their current room after a
// transport-level disconnect, broadcasting user_disconnected instead of a
// voluntary user_left.
func (rm *RoomManager) HandleUserDisconnect(user types.User) {
	rm.mu.Lock()
	roomId, ok := rm.userRoom[user.Id]
	rm.mu.Unlock()
	if !ok {
		return
	}

	removed, err := rm.removeParticipant(roomId, user.Id)
	if err != nil || !removed {
		return
	}

	rm.stats.Decr(MetricTotalParticipants)
	rm.log.Printf("user %d disconnected from room %q", user.Id, roomId)
	rm.eb.UserActivity(roomId, broadcast.EventUserDisconnected, user)
}

func (rm *RoomManager) removeParticipant(roomId string, userId int) (bool, error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	room, ok := rm.rooms[roomId]
	if !ok {
		return false, ErrRoomNotFound
	}

	for i, id := range room.participants {
		if id == userId {
			room.participants = append(room.participants[:i], room.participants[i+1:]...)
			room.version++
			delete(rm.cache, roomId)
			delete(rm.userRoom, userId)
			if len(room.participants) == 0 {
				room.LastNonEmpty = time.Now()
			}
			return true, nil
		}
	}

	return false, nil
}

// GetRoomState returns the cached snapshot if it is still valid for the
// room's current version, otherwise recomputes it from the room plus the
// repository's queue and playback data. The repository calls happen with no
// lock held; the result is only cached if the room was not mutated
// meanwhile.
func (rm *RoomManager) GetRoomState(roomId string) (*RoomStateSnapshot, error) {
	rm.mu.Lock()
	room, ok := rm.rooms[roomId]
	if !ok {
		rm.mu.Unlock()
		return nil, ErrRoomNotFound
	}

	if c, ok := rm.cache[roomId]; ok && c.version == room.version {
		snap := *c.snap
		rm.mu.Unlock()
		return &snap, nil
	}

	version := room.version
	participants := make([]int, len(room.participants))
	copy(participants, room.participants)
	rm.mu.Unlock()

	queue, err := rm.db.GetQueue(roomId)
	if err != nil {
		return nil, fmt.Errorf("fetch queue: %w", err)
	}

	playback, err := rm.db.GetPlaybackState(roomId)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("fetch playback state: %w", err)
		}
		playback = database.PlaybackState{RoomId: roomId, State: "stopped"}
	}

	snap := &RoomStateSnapshot{
		RoomId:           roomId,
		Participants:     participants,
		ParticipantCount: len(participants),
		Queue:            tracksFromDb(queue),
		Playback: types.PlaybackState{
			RoomId:     playback.RoomId,
			TrackId:    playback.TrackId,
			State:      playback.State,
			PositionMs: playback.PositionMs,
			UpdatedAt:  playback.UpdatedAt,
		},
		GeneratedAt: time.Now().UTC(),
	}

	rm.mu.Lock()
	if room, ok := rm.rooms[roomId]; ok && room.version == version {
		rm.cache[roomId] = &cachedSnapshot{snap: snap, version: version}
	}
	rm.mu.Unlock()

	return snap, nil
}

// CleanupStaleData destroys every room that has been empty longer than
// emptyRoomTTL, evicting cached snapshots, and returns the count removed.
// Meant to run on a periodic timer.
func (rm *RoomManager) CleanupStaleData(emptyRoomTTL time.Duration) int {
	cutoff := time.Now().Add(-emptyRoomTTL)

	rm.mu.Lock()
	var stale []string
	for id, room := range rm.rooms {
		if len(room.participants) == 0 && room.LastNonEmpty.Before(cutoff) {
			stale = append(stale, id)
			delete(rm.rooms, id)
			delete(rm.cache, id)
		}
	}
	rm.mu.Unlock()

	for _, id := range stale {
		if err := rm.db.DeleteRoom(id); err != nil {
			rm.log.Printf("failed to delete room %q: %v", id, err)
		}
		rm.stats.Decr(MetricActiveRooms)
		rm.log.Printf("destroyed stale room %q", id)
	}

	return len(stale)
}

// GetGlobalStatistics composes the manager's counters with the
// broadcaster's delivery statistics.
func (rm *RoomManager) GetGlobalStatistics() GlobalStatistics {
	rm.mu.Lock()
	roomCount := len(rm.rooms)
	var participants int
	for _, room := range rm.rooms {
		participants += len(room.participants)
	}
	rm.mu.Unlock()

	return GlobalStatistics{
		RoomCount:         roomCount,
		TotalParticipants: participants,
		Connections:       rm.conns.TotalConnections(),
		Broadcast:         rm.eb.GetStatistics(),
	}
}

// RoomForUser returns the id of the room the user currently participates in.
func (rm *RoomManager) RoomForUser(userId int) (string, bool) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	id, ok := rm.userRoom[userId]
	return id, ok
}

// AddTrack appends a track to the room's queue and broadcasts track_added.
func (rm *RoomManager) AddTrack(roomId string, user types.User, params AddTrackParams) (types.Track, error) {
	if err := rm.requireRoom(roomId); err != nil {
		return types.Track{}, err
	}

	dbTrack, err := rm.db.AddTrack(database.AddTrackParams{
		Id:         uuid.NewString(),
		RoomId:     roomId,
		Title:      params.Title,
		Artist:     params.Artist,
		AddedBy:    user.Id,
		DurationMs: params.DurationMs,
	})
	if err != nil {
		return types.Track{}, fmt.Errorf("add track: %w", err)
	}

	rm.invalidate(roomId)
	track := trackFromDb(dbTrack)
	rm.eb.TrackActivity(roomId, broadcast.EventTrackAdded, track, user)
	return track, nil
}

// VoteTrack records or withdraws a vote and broadcasts track_voted or
// track_unvoted with the updated vote count.
func (rm *RoomManager) VoteTrack(roomId, trackId string, user types.User, up bool) (types.Track, error) {
	if err := rm.requireRoom(roomId); err != nil {
		return types.Track{}, err
	}

	var (
		dbTrack database.Track
		err     error
		typ     broadcast.EventType
	)
	if up {
		dbTrack, err = rm.db.CreateVote(roomId, trackId, user.Id)
		typ = broadcast.EventTrackVoted
	} else {
		dbTrack, err = rm.db.DeleteVote(roomId, trackId, user.Id)
		typ = broadcast.EventTrackUnvoted
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Track{}, ErrTrackNotFound
		}
		return types.Track{}, fmt.Errorf("vote track: %w", err)
	}

	rm.invalidate(roomId)
	track := trackFromDb(dbTrack)
	rm.eb.TrackActivity(roomId, typ, track, user)
	// vote counts drive queue order, so every vote reorders the queue
	rm.eb.BroadcastToRoom(roomId, broadcast.EventQueueReordered, map[string]any{
		"room_id":  roomId,
		"track_id": track.Id,
	}, broadcast.PriorityHigh)
	return track, nil
}

// SkipTrack drops a track from the queue and broadcasts track_skipped.
func (rm *RoomManager) SkipTrack(roomId, trackId string, user types.User) error {
	if err := rm.requireRoom(roomId); err != nil {
		return err
	}

	if err := rm.db.RemoveTrack(roomId, trackId); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrTrackNotFound
		}
		return fmt.Errorf("remove track: %w", err)
	}

	rm.invalidate(roomId)
	rm.eb.TrackActivity(roomId, broadcast.EventTrackSkipped, types.Track{Id: trackId}, user)
	return nil
}

// playbackTransitions maps a playback action to the persisted state and the
// event type broadcast for it.
var playbackTransitions = map[string]struct {
	state string
	typ   broadcast.EventType
}{
	"start":  {"playing", broadcast.EventPlaybackStarted},
	"pause":  {"paused", broadcast.EventPlaybackPaused},
	"resume": {"playing", broadcast.EventPlaybackResumed},
	"stop":   {"stopped", broadcast.EventPlaybackStopped},
	"seek":   {"playing", broadcast.EventPlaybackSeeked},
}

// UpdatePlayback applies a playback action (start, pause, resume, stop,
// seek), persists the new state and broadcasts the matching event.
func (rm *RoomManager) UpdatePlayback(roomId string, user types.User, action, trackId string, positionMs int) (types.PlaybackState, error) {
	if err := rm.requireRoom(roomId); err != nil {
		return types.PlaybackState{}, err
	}

	transition, ok := playbackTransitions[action]
	if !ok {
		return types.PlaybackState{}, fmt.Errorf("unknown playback action %q", action)
	}

	state := types.PlaybackState{
		RoomId:     roomId,
		TrackId:    trackId,
		State:      transition.state,
		PositionMs: positionMs,
		UpdatedAt:  time.Now().UTC(),
	}

	if err := rm.db.SavePlaybackState(database.PlaybackState{
		RoomId:     state.RoomId,
		TrackId:    state.TrackId,
		State:      state.State,
		PositionMs: state.PositionMs,
	}); err != nil {
		return types.PlaybackState{}, fmt.Errorf("save playback state: %w", err)
	}

	rm.invalidate(roomId)
	rm.eb.PlaybackActivity(roomId, transition.typ, state)
	return state, nil
}

func (rm *RoomManager) requireRoom(roomId string) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if _, ok := rm.rooms[roomId]; !ok {
		return ErrRoomNotFound
	}
	return nil
}

func (rm *RoomManager) invalidate(roomId string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if room, ok := rm.rooms[roomId]; ok {
		room.version++
		delete(rm.cache, roomId)
	}
}

func trackFromDb(t database.Track) types.Track {
	return types.Track{
		Id:         t.Id,
		Title:      t.Title,
		Artist:     t.Artist,
		AddedBy:    t.AddedBy,
		Votes:      t.Votes,
		DurationMs: t.DurationMs,
		AddedAt:    t.CreatedAt,
	}
}

func tracksFromDb(dbTracks []database.Track) []types.Track {
	tracks := make([]types.Track, len(dbTracks))
	for i, t := range dbTracks {
		tracks[i] = trackFromDb(t)
	}
	return tracks
}
