package broadcast

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/auxroom/go-auxroom/internal/stats"
	"github.com/auxroom/go-auxroom/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type fakeDirectory struct {
	mu        sync.Mutex
	rooms     map[string][]string
	users     map[int]string
	connUsers map[string]int
	sent      map[string][][]byte
	failTimes map[string]int
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		rooms:     make(map[string][]string),
		users:     make(map[int]string),
		connUsers: make(map[string]int),
		sent:      make(map[string][][]byte),
		failTimes: make(map[string]int),
	}
}

func (f *fakeDirectory) addConn(connId string, userId int, roomId string) {
	f.connUsers[connId] = userId
	f.users[userId] = connId
	if roomId != "" {
		f.rooms[roomId] = append(f.rooms[roomId], connId)
	}
}

func (f *fakeDirectory) ConnectionsForRoom(roomId string) []string { return f.rooms[roomId] }
func (f *fakeDirectory) ConnectionForUser(userId int) (string, bool) {
	id, ok := f.users[userId]
	return id, ok
}
func (f *fakeDirectory) AllConnections() []string {
	var ids []string
	for id := range f.connUsers {
		ids = append(ids, id)
	}
	return ids
}
func (f *fakeDirectory) UserForConnection(connId string) (int, bool) {
	id, ok := f.connUsers[connId]
	return id, ok
}

func (f *fakeDirectory) Send(connId string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTimes[connId] > 0 {
		f.failTimes[connId]--
		return errors.New("send buffer full")
	}
	f.sent[connId] = append(f.sent[connId], data)
	return nil
}

func (f *fakeDirectory) sentEvents(t *testing.T, connId string) []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var evs []Event
	for _, data := range f.sent[connId] {
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("failed to unmarshal sent event: %v", err)
		}
		evs = append(evs, ev)
	}
	return evs
}

func newTestBroadcaster(t *testing.T, dir ConnectionDirectory) *EventBroadcaster {
	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Return().Times(4)
	su.On("Incr", mock.Anything).Return().Maybe()
	su.On("Decr", mock.Anything).Return().Maybe()
	su.On("Add", mock.Anything, mock.Anything).Return().Maybe()

	return NewEventBroadcaster(testutil.TestLogger(t), dir, su, time.Minute)
}

func TestBroadcastToRoom(t *testing.T) {
	t.Run("empty room is a vacuous success", func(t *testing.T) {
		eb := newTestBroadcaster(t, newFakeDirectory())

		ok := eb.BroadcastToRoom("empty", EventTrackAdded, map[string]any{"track": "t1"}, PriorityNormal)
		assert.True(t, ok, "expected broadcast to empty room to succeed")

		s := eb.GetStatistics()
		assert.Equal(t, int64(1), s.TotalEvents, "expected event to be counted")
		assert.Equal(t, int64(0), s.SuccessfulDeliveries, "expected no deliveries for empty room")
	})

	t.Run("delivers one event to each connection", func(t *testing.T) {
		dir := newFakeDirectory()
		dir.addConn("conn-a", 1, "r1")
		dir.addConn("conn-b", 2, "r1")
		eb := newTestBroadcaster(t, dir)

		ok := eb.BroadcastToRoom("r1", EventTrackAdded, map[string]any{"track": "t1"}, PriorityNormal)
		assert.True(t, ok, "expected broadcast to succeed")

		for _, connId := range []string{"conn-a", "conn-b"} {
			evs := dir.sentEvents(t, connId)
			assert.Lenf(t, evs, 1, "expected exactly one event on %s", connId)
			assert.Equal(t, EventTrackAdded, evs[0].Type, "expected track_added event")
			assert.Equal(t, "room:r1", evs[0].Scope, "expected room scope")
			assert.Equal(t, "t1", evs[0].Payload["track"], "expected track payload")
		}

		s := eb.GetStatistics()
		assert.Equal(t, int64(2), s.SuccessfulDeliveries, "expected two successful deliveries")
		assert.Equal(t, int64(1), s.EventsByRoom["r1"], "expected per-room count")
		assert.Equal(t, int64(1), s.EventsByType[EventTrackAdded], "expected per-type count")
	})

	t.Run("one failed target does not abort the rest", func(t *testing.T) {
		dir := newFakeDirectory()
		dir.addConn("conn-a", 1, "r1")
		dir.addConn("conn-b", 2, "r1")
		dir.failTimes["conn-a"] = 2
		eb := newTestBroadcaster(t, dir)

		ok := eb.BroadcastToRoom("r1", EventTrackAdded, nil, PriorityNormal)
		assert.False(t, ok, "expected broadcast to report failure")
		assert.Len(t, dir.sentEvents(t, "conn-b"), 1, "expected healthy connection to still receive the event")
	})
}

func TestBroadcastToUser(t *testing.T) {
	t.Run("unreachable user returns false", func(t *testing.T) {
		eb := newTestBroadcaster(t, newFakeDirectory())

		ok := eb.BroadcastToUser(42, EventError, nil, PriorityCritical)
		assert.False(t, ok, "expected false for user with no live connection")

		s := eb.GetStatistics()
		assert.Equal(t, int64(0), s.TotalEvents, "expected no event counted for unreachable user")
	})

	t.Run("delivers to the user's connection", func(t *testing.T) {
		dir := newFakeDirectory()
		dir.addConn("conn-a", 42, "")
		eb := newTestBroadcaster(t, dir)

		ok := eb.BroadcastToUser(42, EventUserConnected, nil, PriorityNormal)
		assert.True(t, ok, "expected broadcast to succeed")

		evs := dir.sentEvents(t, "conn-a")
		assert.Len(t, evs, 1, "expected one event")
		assert.Equal(t, "user:42", evs[0].Scope, "expected user scope")
	})
}

func TestBroadcastGlobal(t *testing.T) {
	dir := newFakeDirectory()
	dir.addConn("conn-a", 1, "r1")
	dir.addConn("conn-b", 2, "r2")
	eb := newTestBroadcaster(t, dir)

	ok := eb.BroadcastGlobal(EventRoomStateUpdated, nil, PriorityHigh)
	assert.True(t, ok, "expected global broadcast to succeed")
	assert.Len(t, dir.sentEvents(t, "conn-a"), 1, "expected event on first connection")
	assert.Len(t, dir.sentEvents(t, "conn-b"), 1, "expected event on second connection")
}

func TestRetryPolicy(t *testing.T) {
	t.Run("high priority is retried once", func(t *testing.T) {
		dir := newFakeDirectory()
		dir.addConn("conn-a", 1, "r1")
		dir.failTimes["conn-a"] = 1
		eb := newTestBroadcaster(t, dir)

		ok := eb.BroadcastToRoom("r1", EventPlaybackStarted, nil, PriorityHigh)
		assert.True(t, ok, "expected retried delivery to succeed")
		assert.Len(t, dir.sentEvents(t, "conn-a"), 1, "expected event delivered on retry")
	})

	t.Run("normal priority is not retried", func(t *testing.T) {
		dir := newFakeDirectory()
		dir.addConn("conn-a", 1, "r1")
		dir.failTimes["conn-a"] = 1
		eb := newTestBroadcaster(t, dir)

		ok := eb.BroadcastToRoom("r1", EventTrackAdded, nil, PriorityNormal)
		assert.False(t, ok, "expected delivery to fail without retry")
		assert.Empty(t, dir.sentEvents(t, "conn-a"), "expected no delivered event")

		s := eb.GetStatistics()
		assert.Equal(t, int64(1), s.FailedDeliveries, "expected one failed delivery")
	})
}

func TestDispatchPriorityOrdering(t *testing.T) {
	dir := newFakeDirectory()
	dir.addConn("conn-a", 1, "r1")
	eb := newTestBroadcaster(t, dir)

	low := eb.newEvent(EventTrackAdded, RoomScope("r1"), nil, PriorityLow)
	critical := eb.newEvent(EventError, RoomScope("r1"), nil, PriorityCritical)
	normal := eb.newEvent(EventUserJoined, RoomScope("r1"), nil, PriorityNormal)

	ok := eb.dispatch([]outbound{
		{ev: low, targets: []string{"conn-a"}},
		{ev: critical, targets: []string{"conn-a"}},
		{ev: normal, targets: []string{"conn-a"}},
	})
	assert.True(t, ok, "expected dispatch to succeed")

	evs := dir.sentEvents(t, "conn-a")
	assert.Len(t, evs, 3, "expected all three events delivered")
	assert.Equal(t, EventError, evs[0].Type, "expected critical event first")
	assert.Equal(t, EventUserJoined, evs[1].Type, "expected normal event second")
	assert.Equal(t, EventTrackAdded, evs[2].Type, "expected low event last")
}

func TestConfirmDelivery(t *testing.T) {
	dir := newFakeDirectory()
	dir.addConn("conn-a", 1, "r1")
	eb := newTestBroadcaster(t, dir)

	assert.True(t, eb.BroadcastToRoom("r1", EventTrackAdded, nil, PriorityNormal), "expected broadcast to succeed")

	evs := dir.sentEvents(t, "conn-a")
	assert.Len(t, evs, 1, "expected one delivered event")

	t.Run("unknown pair is a no-op", func(t *testing.T) {
		before := eb.GetStatistics()
		assert.False(t, eb.ConfirmDelivery("no-such-event", 1), "expected false for unknown event")
		assert.False(t, eb.ConfirmDelivery(evs[0].Id, 99), "expected false for unknown user")

		after := eb.GetStatistics()
		assert.Equal(t, before.SuccessfulDeliveries, after.SuccessfulDeliveries, "expected successful count unchanged")
		assert.Equal(t, before.FailedDeliveries, after.FailedDeliveries, "expected failed count unchanged")
	})

	t.Run("pending delivery is confirmed once", func(t *testing.T) {
		assert.True(t, eb.ConfirmDelivery(evs[0].Id, 1), "expected confirmation to succeed")
		assert.False(t, eb.ConfirmDelivery(evs[0].Id, 1), "expected second confirmation to be a no-op")

		s := eb.GetStatistics()
		assert.Equal(t, 0, s.PendingDeliveries, "expected no pending deliveries after confirmation")
	})
}

func TestCleanupStaleEvents(t *testing.T) {
	dir := newFakeDirectory()
	dir.addConn("conn-a", 1, "r1")
	eb := newTestBroadcaster(t, dir)

	assert.True(t, eb.BroadcastToRoom("r1", EventTrackAdded, nil, PriorityNormal), "expected broadcast to succeed")

	// nothing old enough yet
	assert.Equal(t, 0, eb.CleanupStaleEvents(), "expected no expired records")

	// push the pending record past its delivery deadline
	eb.mu.Lock()
	for _, recs := range eb.deliveries {
		for _, rec := range recs {
			rec.Deadline = time.Now().Add(-2 * time.Minute)
		}
	}
	eb.mu.Unlock()

	assert.Equal(t, 1, eb.CleanupStaleEvents(), "expected one expired record")

	s := eb.GetStatistics()
	assert.Equal(t, int64(1), s.FailedDeliveries, "expected expired delivery to count as failed")
	assert.Equal(t, int64(0), s.SuccessfulDeliveries, "expected expired delivery removed from successful")
	assert.Equal(t, 0, s.PendingDeliveries, "expected no pending deliveries")

	// a second sweep after the retention window purges the resolved record
	eb.mu.Lock()
	for _, recs := range eb.deliveries {
		for _, rec := range recs {
			rec.ResolvedAt = time.Now().Add(-2 * time.Minute)
		}
	}
	eb.mu.Unlock()

	assert.Equal(t, 0, eb.CleanupStaleEvents(), "expected no newly expired records")
	eb.mu.Lock()
	assert.Empty(t, eb.deliveries, "expected resolved records to be purged")
	eb.mu.Unlock()
}

func TestDeliveryRecordPerConnection(t *testing.T) {
	dir := newFakeDirectory()
	// two live connections that have not authenticated yet share user id 0
	dir.addConn("conn-a", 0, "")
	dir.addConn("conn-b", 0, "")
	eb := newTestBroadcaster(t, dir)

	assert.True(t, eb.BroadcastGlobal(EventRoomStateUpdated, nil, PriorityHigh), "expected global broadcast to succeed")

	eb.mu.Lock()
	assert.Len(t, eb.deliveries, 1, "expected one tracked event")
	for _, recs := range eb.deliveries {
		assert.Len(t, recs, 2, "expected one record per target connection")
		for _, rec := range recs {
			rec.Deadline = time.Now().Add(-time.Minute)
		}
	}
	eb.mu.Unlock()

	assert.Equal(t, 2, eb.CleanupStaleEvents(), "expected every unconfirmed delivery to expire")

	s := eb.GetStatistics()
	assert.Equal(t, int64(0), s.SuccessfulDeliveries, "expected both deliveries reclassified")
	assert.Equal(t, int64(2), s.FailedDeliveries, "expected both expirations to count as failed")
}

func TestGetStatisticsSuccessRate(t *testing.T) {
	t.Run("zero events", func(t *testing.T) {
		eb := newTestBroadcaster(t, newFakeDirectory())
		s := eb.GetStatistics()
		assert.Equal(t, float64(0), s.SuccessRate, "expected zero success rate with no events")
	})

	t.Run("three successful one failed", func(t *testing.T) {
		dir := newFakeDirectory()
		dir.addConn("conn-a", 1, "r1")
		eb := newTestBroadcaster(t, dir)

		for i := 0; i < 3; i++ {
			assert.True(t, eb.BroadcastToRoom("r1", EventTrackAdded, nil, PriorityNormal), "expected broadcast to succeed")
		}
		dir.failTimes["conn-a"] = 1
		assert.False(t, eb.BroadcastToRoom("r1", EventTrackAdded, nil, PriorityNormal), "expected broadcast to fail")

		s := eb.GetStatistics()
		assert.Equal(t, int64(3), s.SuccessfulDeliveries, "expected three successful deliveries")
		assert.Equal(t, int64(1), s.FailedDeliveries, "expected one failed delivery")
		assert.Equal(t, 75.0, s.SuccessRate, "expected success rate of exactly 75.0")
	})
}

func TestComposers(t *testing.T) {
	dir := newFakeDirectory()
	dir.addConn("conn-a", 1, "r1")
	eb := newTestBroadcaster(t, dir)

	user := testUser{id: 2, name: "alice"}
	track := testTrack{id: "t1"}

	assert.True(t, eb.UserActivity("r1", EventUserJoined, user), "expected user activity broadcast to succeed")
	assert.True(t, eb.TrackActivity("r1", EventTrackVoted, track, user), "expected track activity broadcast to succeed")
	assert.True(t, eb.PlaybackActivity("r1", EventPlaybackPaused, testPlayback{}), "expected playback broadcast to succeed")
	assert.True(t, eb.RoomState("r1", map[string]any{"participants": []int{1, 2}}), "expected room state broadcast to succeed")
	assert.True(t, eb.Error(1, "bad_message", "malformed payload"), "expected error event to succeed")

	evs := dir.sentEvents(t, "conn-a")
	assert.Len(t, evs, 5, "expected five delivered events")
	assert.Equal(t, EventUserJoined, evs[0].Type, "expected user_joined event")
	assert.Equal(t, "alice", evs[0].Payload["username"], "expected username in payload")
	assert.Equal(t, EventTrackVoted, evs[1].Type, "expected track_voted event")
	assert.Equal(t, "t1", evs[1].Payload["track"].(map[string]any)["id"], "expected track id in payload")
	assert.Equal(t, "high", jsonPriority(t, dir.sent["conn-a"][3]), "expected room_state_updated to be high priority")
	assert.Equal(t, "critical", jsonPriority(t, dir.sent["conn-a"][4]), "expected error event to be critical priority")
}

func jsonPriority(t *testing.T, data []byte) string {
	var raw struct {
		Priority string `json:"priority"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("failed to unmarshal event: %v", err)
	}
	return raw.Priority
}

type testUser struct {
	id   int
	name string
}

func (u testUser) UserId() int         { return u.id }
func (u testUser) DisplayName() string { return u.name }

type testTrack struct{ id string }

func (tr testTrack) TrackId() string { return tr.id }
func (tr testTrack) TrackSummary() map[string]any {
	return map[string]any{"id": tr.id}
}

type testPlayback struct{}

func (testPlayback) PlaybackSummary() map[string]any {
	return map[string]any{"state": "paused"}
}
