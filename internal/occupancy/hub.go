// Package occupancy fans out garage spot changes to live subscribers.
package occupancy

import (
	"errors"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

const (
	KindBookingCreated  = "booking_created"
	KindBookingCanceled = "booking_canceled"
	KindSpotOccupied    = "spot_occupied"
	KindSpotFreed       = "spot_freed"
	KindReconciled      = "reconciled"
)

const (
	DefaultBufferSize       = 50
	DefaultSubscriberBuffer = 16
)

var (
	ErrHubUnavailable = errors.New("hub_unavailable")
	ErrInvalidGarage  = errors.New("invalid_garage_id")
)

type Event struct {
	GarageID       snowflake.ID  `json:"garage_id"`
	Kind           string        `json:"kind"`
	AvailableSpots int           `json:"available_spots"`
	BookingID      *snowflake.ID `json:"booking_id,omitempty"`
	SensorID       *snowflake.ID `json:"sensor_id,omitempty"`
	OccurredAt     time.Time     `json:"occurred_at"`
}

// Publisher is what domain services depend on. A nil *Hub is a valid no-op publisher.
type Publisher interface {
	Publish(event Event)
}

// Hub keeps a short backlog per garage so a new subscriber sees recent changes.
// Slow subscribers drop events instead of blocking publishers.
type Hub struct {
	mu               sync.RWMutex
	streams          map[snowflake.ID]*stream
	bufferSize       int
	subscriberBuffer int
}

type stream struct {
	mu     sync.Mutex
	buffer []Event
	subs   map[uint64]chan Event
	nextID uint64
}

type Subscription struct {
	hub      *Hub
	garageID snowflake.ID
	id       uint64
	ch       chan Event
	once     sync.Once
}

func NewHub() *Hub {
	return &Hub{
		streams:          make(map[snowflake.ID]*stream),
		bufferSize:       DefaultBufferSize,
		subscriberBuffer: DefaultSubscriberBuffer,
	}
}

var Module = fx.Module("occupancy",
	fx.Provide(NewHub),
	fx.Provide(func(h *Hub) Publisher { return h }),
)

func (h *Hub) Publish(event Event) {
	if h == nil || event.GarageID == 0 {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	s := h.ensureStream(event.GarageID)
	s.mu.Lock()
	s.buffer = append(s.buffer, event)
	if len(s.buffer) > h.bufferSize {
		s.buffer = s.buffer[len(s.buffer)-h.bufferSize:]
	}
	subs := make([]chan Event, 0, len(s.subs))
	for _, ch := range s.subs {
		subs = append(subs, ch)
	}
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe returns a live subscription plus a copy of the current backlog.
func (h *Hub) Subscribe(garageID snowflake.ID) (*Subscription, []Event, error) {
	if h == nil {
		return nil, nil, ErrHubUnavailable
	}
	if garageID == 0 {
		return nil, nil, ErrInvalidGarage
	}

	s := h.ensureStream(garageID)
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	ch := make(chan Event, h.subscriberBuffer)
	s.subs[id] = ch
	backlog := append([]Event(nil), s.buffer...)
	s.mu.Unlock()

	return &Subscription{hub: h, garageID: garageID, id: id, ch: ch}, backlog, nil
}

func (h *Hub) ensureStream(garageID snowflake.ID) *stream {
	h.mu.RLock()
	current := h.streams[garageID]
	h.mu.RUnlock()
	if current != nil {
		return current
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	current = h.streams[garageID]
	if current == nil {
		current = &stream{subs: make(map[uint64]chan Event)}
		h.streams[garageID] = current
	}
	return current
}

func (h *Hub) unsubscribe(garageID snowflake.ID, id uint64) {
	h.mu.RLock()
	s := h.streams[garageID]
	h.mu.RUnlock()
	if s == nil {
		return
	}
	s.mu.Lock()
	delete(s.subs, id)
	s.mu.Unlock()
}

func (s *Subscription) Events() <-chan Event {
	if s == nil {
		return nil
	}
	return s.ch
}

func (s *Subscription) Close() {
	if s == nil || s.hub == nil {
		return
	}
	s.once.Do(func() {
		s.hub.unsubscribe(s.garageID, s.id)
	})
}
