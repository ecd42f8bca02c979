package broadcast

import (
	"encoding/json"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/auxroom/go-auxroom/internal/stats"
	"github.com/google/uuid"
)

const (
	MetricTotalEvents          = "TotalEvents"
	MetricSuccessfulDeliveries = "SuccessfulDeliveries"
	MetricFailedDeliveries     = "FailedDeliveries"
	MetricExpiredEvents        = "ExpiredEvents"
)

// ConnectionDirectory is the registry surface the broadcaster needs to
// resolve targets and push bytes at them.
type ConnectionDirectory interface {
	ConnectionsForRoom(roomId string) []string
	ConnectionForUser(userId int) (string, bool)
	AllConnections() []string
	UserForConnection(connId string) (int, bool)
	Send(connId string, data []byte) error
}

// Statistics is a point-in-time snapshot of the broadcaster's counters.
type Statistics struct {
	TotalEvents          int64               `json:"total_events"`
	SuccessfulDeliveries int64               `json:"successful_deliveries"`
	FailedDeliveries     int64               `json:"failed_deliveries"`
	SuccessRate          float64             `json:"success_rate"`
	EventsByType         map[EventType]int64 `json:"events_by_type"`
	EventsByRoom         map[string]int64    `json:"events_by_room"`
	PendingDeliveries    int                 `json:"pending_deliveries"`
	ServerTime           time.Time           `json:"server_time"`
}

type EventBroadcaster struct {
	log       *log.Logger
	dir       ConnectionDirectory
	stats     stats.StatsProvider
	retention time.Duration

	mu         sync.Mutex
	deliveries map[string]map[string]*DeliveryRecord
	total      int64
	successful int64
	failed     int64
	byType     map[EventType]int64
	byRoom     map[string]int64
}

func NewEventBroadcaster(logger *log.Logger, dir ConnectionDirectory, su stats.StatsProvider, retention time.Duration) *EventBroadcaster {
	su.RegisterMetric(MetricTotalEvents)
	su.RegisterMetric(MetricSuccessfulDeliveries)
	su.RegisterMetric(MetricFailedDeliveries)
	su.RegisterMetric(MetricExpiredEvents)

	return &EventBroadcaster{
		log:        logger,
		dir:        dir,
		stats:      su,
		retention:  retention,
		deliveries: make(map[string]map[string]*DeliveryRecord),
		byType:     make(map[EventType]int64),
		byRoom:     make(map[string]int64),
	}
}

// outbound pairs an event with its resolved target connections for one
// dispatch cycle.
type outbound struct {
	ev      *Event
	targets []string
}

func (eb *EventBroadcaster) newEvent(typ EventType, scope string, payload map[string]any, prio Priority) *Event {
	now := time.Now().UTC()
	return &Event{
		Id:        uuid.NewString(),
		Type:      typ,
		Scope:     scope,
		Priority:  prio,
		Payload:   payload,
		Timestamp: now,
		Deadline:  now.Add(eb.retention),
	}
}

// BroadcastToRoom fans an event out to every connection currently in the
// room. A room with zero connections is a vacuous success.
func (eb *EventBroadcaster) BroadcastToRoom(roomId string, typ EventType, payload map[string]any, prio Priority) bool {
	ev := eb.newEvent(typ, RoomScope(roomId), payload, prio)
	eb.countEvent(ev, roomId)

	targets := eb.dir.ConnectionsForRoom(roomId)
	if len(targets) == 0 {
		return true
	}

	return eb.dispatch([]outbound{{ev: ev, targets: targets}})
}

// BroadcastToUser delivers an event to the user's live connection. A user
// with no live connection is reported as false, not as an error.
func (eb *EventBroadcaster) BroadcastToUser(userId int, typ EventType, payload map[string]any, prio Priority) bool {
	connId, ok := eb.dir.ConnectionForUser(userId)
	if !ok {
		eb.log.Printf("user %d has no live connection, dropping %s event", userId, typ)
		return false
	}

	ev := eb.newEvent(typ, UserScope(userId), payload, prio)
	eb.countEvent(ev, "")

	return eb.dispatch([]outbound{{ev: ev, targets: []string{connId}}})
}

// BroadcastGlobal delivers an event to every registered connection.
func (eb *EventBroadcaster) BroadcastGlobal(typ EventType, payload map[string]any, prio Priority) bool {
	ev := eb.newEvent(typ, GlobalScope, payload, prio)
	eb.countEvent(ev, "")

	targets := eb.dir.AllConnections()
	if len(targets) == 0 {
		return true
	}

	return eb.dispatch([]outbound{{ev: ev, targets: targets}})
}

// dispatch sends a batch of events. Events are ordered by priority so that
// when several events target the same connection in one cycle, the higher
// priority ones go first. Sends happen without any broadcaster lock held;
// the lock is reacquired only to record delivery outcomes. One failed
// target never aborts delivery to the rest.
func (eb *EventBroadcaster) dispatch(batch []outbound) bool {
	sort.SliceStable(batch, func(i, j int) bool {
		return batch[i].ev.Priority > batch[j].ev.Priority
	})

	ok := true
	for _, out := range batch {
		data, err := json.Marshal(out.ev)
		if err != nil {
			eb.log.Printf("failed to serialize %s event: %v", out.ev.Type, err)
			ok = false
			continue
		}

		for _, connId := range out.targets {
			if !eb.deliver(out.ev, connId, data) {
				ok = false
			}
		}
	}

	return ok
}

func (eb *EventBroadcaster) deliver(ev *Event, connId string, data []byte) bool {
	userId, _ := eb.dir.UserForConnection(connId)
	rec := &DeliveryRecord{
		EventId:     ev.Id,
		ConnId:      connId,
		UserId:      userId,
		AttemptedAt: time.Now(),
		Deadline:    ev.Deadline,
	}

	err := eb.dir.Send(connId, data)
	if err != nil && ev.Priority.retryable() {
		eb.log.Printf("retrying %s event to connection %q: %v", ev.Type, connId, err)
		err = eb.dir.Send(connId, data)
	}

	eb.mu.Lock()
	if eb.deliveries[ev.Id] == nil {
		eb.deliveries[ev.Id] = make(map[string]*DeliveryRecord)
	}
	eb.deliveries[ev.Id][connId] = rec

	if err != nil {
		rec.Outcome = OutcomeFailed
		rec.ResolvedAt = time.Now()
		eb.failed++
	} else {
		eb.successful++
	}
	eb.mu.Unlock()

	if err != nil {
		eb.log.Printf("failed to deliver %s event to connection %q: %v", ev.Type, connId, err)
		eb.stats.Incr(MetricFailedDeliveries)
		return false
	}

	eb.stats.Incr(MetricSuccessfulDeliveries)
	return true
}

func (eb *EventBroadcaster) countEvent(ev *Event, roomId string) {
	eb.mu.Lock()
	eb.total++
	eb.byType[ev.Type]++
	if roomId != "" {
		eb.byRoom[roomId]++
	}
	eb.mu.Unlock()

	eb.stats.Incr(MetricTotalEvents)
}

// ConfirmDelivery marks the delivery of an event to a user's connection as
// confirmed. An unknown event/user pair is a no-op returning false.
func (eb *EventBroadcaster) ConfirmDelivery(eventId string, userId int) bool {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	recs, ok := eb.deliveries[eventId]
	if !ok {
		return false
	}

	// records are keyed by connection; resolve the user's record by scan,
	// the per-event fanout is small
	for _, rec := range recs {
		if rec.UserId != userId || rec.Outcome != OutcomePending {
			continue
		}
		rec.Outcome = OutcomeConfirmed
		rec.ResolvedAt = time.Now()
		return true
	}

	return false
}

// CleanupStaleEvents expires delivery records that are still pending past
// the retention window and purges resolved records a further retention
// window after resolution. Expired deliveries count as failed. Returns the
// number of records expired.
func (eb *EventBroadcaster) CleanupStaleEvents() int {
	now := time.Now()
	cutoff := now.Add(-eb.retention)

	eb.mu.Lock()
	var expired int
	for eventId, recs := range eb.deliveries {
		for connId, rec := range recs {
			switch rec.Outcome {
			case OutcomePending:
				if now.After(rec.Deadline) {
					rec.Outcome = OutcomeExpired
					rec.ResolvedAt = now
					eb.successful--
					eb.failed++
					expired++
					eb.log.Printf("event %q to connection %q expired unconfirmed", eventId, connId)
				}
			default:
				if rec.ResolvedAt.Before(cutoff) {
					delete(recs, connId)
				}
			}
		}
		if len(recs) == 0 {
			delete(eb.deliveries, eventId)
		}
	}
	eb.mu.Unlock()

	if expired > 0 {
		eb.stats.Add(MetricExpiredEvents, expired)
		eb.stats.Add(MetricFailedDeliveries, expired)
		eb.stats.Add(MetricSuccessfulDeliveries, -expired)
	}

	return expired
}

// GetStatistics returns a snapshot of the accumulated counters. The lock is
// held only long enough to copy them.
func (eb *EventBroadcaster) GetStatistics() Statistics {
	eb.mu.Lock()

	s := Statistics{
		TotalEvents:          eb.total,
		SuccessfulDeliveries: eb.successful,
		FailedDeliveries:     eb.failed,
		EventsByType:         make(map[EventType]int64, len(eb.byType)),
		EventsByRoom:         make(map[string]int64, len(eb.byRoom)),
	}
	for k, v := range eb.byType {
		s.EventsByType[k] = v
	}
	for k, v := range eb.byRoom {
		s.EventsByRoom[k] = v
	}
	for _, recs := range eb.deliveries {
		for _, rec := range recs {
			if rec.Outcome == OutcomePending {
				s.PendingDeliveries++
			}
		}
	}
	eb.mu.Unlock()

	if total := s.SuccessfulDeliveries + s.FailedDeliveries; total > 0 {
		s.SuccessRate = 100 * float64(s.SuccessfulDeliveries) / float64(total)
	}
	s.ServerTime = time.Now().UTC()

	return s
}
