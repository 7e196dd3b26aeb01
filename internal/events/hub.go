package events

import (
	"slices"
	"sync"
	"sync/atomic"

	"grimm.is/ztinspect/internal/clock"
)

// Hub fans events out to subscribers without ever blocking the publisher:
// an event that does not fit a subscriber's buffer is dropped for that
// subscriber. A nil *Hub is valid and discards everything.
type Hub struct {
	mu   sync.RWMutex
	subs []*Subscription

	published atomic.Uint64
	dropped   atomic.Uint64
}

// Subscription receives the events it was opened for on C until Close.
type Subscription struct {
	C <-chan Event

	ch      chan Event
	types   []EventType // empty = every type
	hub     *Hub
	once    sync.Once
	dropped atomic.Uint64
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{}
}

// Publish timestamps e when needed and delivers it to every matching
// subscriber.
func (h *Hub) Publish(e Event) {
	if h == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = clock.Now()
	}
	h.published.Add(1)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs {
		if len(s.types) > 0 && !slices.Contains(s.types, e.Type) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			s.dropped.Add(1)
			h.dropped.Add(1)
		}
	}
}

// Subscribe opens a subscription to the given types, or to every type when
// none are given. bufSize <= 0 means 256.
func (h *Hub) Subscribe(bufSize int, types ...EventType) *Subscription {
	if bufSize <= 0 {
		bufSize = 256
	}
	ch := make(chan Event, bufSize)
	s := &Subscription{C: ch, ch: ch, types: slices.Clone(types), hub: h}

	h.mu.Lock()
	h.subs = append(h.subs, s)
	h.mu.Unlock()
	return s
}

// Close detaches the subscription and closes C once the buffered events
// have been read. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		h := s.hub
		h.mu.Lock()
		h.subs = slices.DeleteFunc(h.subs, func(o *Subscription) bool { return o == s })
		h.mu.Unlock()
		close(s.ch)
	})
}

// Dropped is the number of events this subscription missed because its
// buffer was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Stats returns hub-wide publish and drop counts.
func (h *Hub) Stats() (published, dropped uint64) {
	if h == nil {
		return 0, 0
	}
	return h.published.Load(), h.dropped.Load()
}

// EmitProgress publishes a (phase, message, percent) progress event.
func (h *Hub) EmitProgress(t EventType, source, phase, message string, percent float64) {
	h.Publish(Event{
		Type:   t,
		Source: source,
		Data: ProgressData{
			Phase:   phase,
			Message: message,
			Percent: percent,
		},
	})
}

// EmitDeviceSeen publishes a discovery hit.
func (h *Hub) EmitDeviceSeen(ip, hostname string, ports []int) {
	h.Publish(Event{
		Type:   EventDeviceSeen,
		Source: "discovery",
		Data: DeviceSeenData{
			IP:        ip,
			Hostname:  hostname,
			OpenPorts: ports,
		},
	})
}

// EmitPairResult publishes the outcome of one zone-pair probe.
func (h *Hub) EmitPairResult(src, dst, status string) {
	h.Publish(Event{
		Type:   EventPairResult,
		Source: "enforcement",
		Data: PairResultData{
			Source:      src,
			Destination: dst,
			Status:      status,
		},
	})
}

// EmitConfigGenerated publishes a successful export.
func (h *Hub) EmitConfigGenerated(platform string, rules, size int) {
	h.Publish(Event{
		Type:   EventConfigGenerated,
		Source: "generator",
		Data: ConfigGeneratedData{
			Platform: platform,
			Rules:    rules,
			Bytes:    size,
		},
	})
}
