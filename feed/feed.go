package feed

import (
	"sync"

	"github.com/google/uuid"

	"pumppulse/metrics"
	"pumppulse/models"
)

// Feed is the in-memory bounded event feed: the newest-first window of
// recent token events plus live fan-out to subscribers. Publish is the
// only mutation path and never blocks; a subscriber whose delivery
// buffer fills up is dropped rather than slowing the producer.
type Feed struct {
	mu       sync.Mutex
	events   []models.TokenEvent // newest first
	capacity int

	subs      map[uuid.UUID]chan models.TokenEvent
	subBuffer int

	totalPublished uint64
}

func New(capacity, subBuffer int) *Feed {
	return &Feed{
		capacity:  capacity,
		subBuffer: subBuffer,
		subs:      make(map[uuid.UUID]chan models.TokenEvent),
	}
}

// Publish prepends the event, evicts past capacity, and fans out to
// every live subscriber in one atomic step, so no subscriber ever sees
// a half-applied update.
func (f *Feed) Publish(ev models.TokenEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.events) < f.capacity {
		f.events = append(f.events, models.TokenEvent{})
	}
	copy(f.events[1:], f.events)
	f.events[0] = ev
	f.totalPublished++

	for id, ch := range f.subs {
		select {
		case ch <- ev:
		default:
			// Slow consumer: drop it rather than stall the producer.
			delete(f.subs, id)
			close(ch)
			metrics.IncrementDroppedSubscribers()
		}
	}

	metrics.IncrementPublished(string(ev.Source))
	metrics.SetFeedSize(len(f.events))
	metrics.SetSubscribers(len(f.subs))
}

// Subscribe atomically returns the current snapshot (newest first) and
// a channel delivering every event published afterwards. The channel
// is closed if the subscriber is dropped for falling behind.
func (f *Feed) Subscribe() (uuid.UUID, []models.TokenEvent, <-chan models.TokenEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := uuid.New()
	ch := make(chan models.TokenEvent, f.subBuffer)
	f.subs[id] = ch

	snapshot := make([]models.TokenEvent, len(f.events))
	copy(snapshot, f.events)

	metrics.SetSubscribers(len(f.subs))
	return id, snapshot, ch
}

// Unsubscribe detaches a subscriber. Safe to call more than once and
// after the subscriber was dropped.
func (f *Feed) Unsubscribe(id uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch, ok := f.subs[id]
	if !ok {
		return
	}
	delete(f.subs, id)
	close(ch)
	metrics.SetSubscribers(len(f.subs))
}

// Snapshot returns a copy of the current window, newest first.
func (f *Feed) Snapshot() []models.TokenEvent {
	f.mu.Lock()
	defer f.mu.Unlock()

	snapshot := make([]models.TokenEvent, len(f.events))
	copy(snapshot, f.events)
	return snapshot
}

func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *Feed) TotalPublished() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.totalPublished
}
