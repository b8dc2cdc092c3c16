package session

import (
	"sync"

	"golang.org/x/time/rate"
)

// Frame is one unit of room traffic: either an output chunk or the
// terminal close notice. It is transport-agnostic; internal/server
// translates it into a wire event.
type Frame struct {
	Output   []byte
	Closed   bool
	ExitCode *int
}

// SubscriberID identifies one connection's membership in a Room.
type SubscriberID uint64

type subscriber struct {
	ch      chan Frame
	limiter *rate.Limiter
}

// Room is the fan-out target for one session: the set of connections
// currently joined to it. Broadcast never blocks on a slow subscriber;
// a subscriber that falls behind its bounded queue or exceeds its rate
// budget is dropped rather than stalling the reader loop (the bounded,
// disconnect-slow-consumer backpressure policy).
type Room struct {
	mu   sync.Mutex
	subs map[SubscriberID]*subscriber
	next SubscriberID
}

// NewRoom returns an empty room.
func NewRoom() *Room {
	return &Room{subs: make(map[SubscriberID]*subscriber)}
}

// Join adds a subscriber with a bounded output queue of the given
// capacity and a token-bucket rate budget of burst frames/sec with the
// given burst size. It returns the subscriber's id (for Leave) and the
// read-only channel it should drain.
func (r *Room) Join(queueDepth, burst int) (SubscriberID, <-chan Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.next
	r.next++
	s := &subscriber{
		ch:      make(chan Frame, queueDepth),
		limiter: rate.NewLimiter(rate.Limit(burst), burst),
	}
	r.subs[id] = s
	return id, s.ch
}

// Leave removes a subscriber and closes its channel. Safe to call more
// than once for the same id.
func (r *Room) Leave(id SubscriberID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.subs[id]; ok {
		delete(r.subs, id)
		close(s.ch)
	}
}

// Broadcast delivers f to every subscriber, dropping (and evicting) any
// subscriber whose queue is full or whose rate budget is exhausted. It
// returns the ids dropped during this call, if any.
func (r *Room) Broadcast(f Frame) []SubscriberID {
	r.mu.Lock()
	defer r.mu.Unlock()
	var dropped []SubscriberID
	for id, s := range r.subs {
		if !s.limiter.Allow() {
			dropped = append(dropped, id)
			delete(r.subs, id)
			close(s.ch)
			continue
		}
		select {
		case s.ch <- f:
		default:
			dropped = append(dropped, id)
			delete(r.subs, id)
			close(s.ch)
		}
	}
	return dropped
}

// Len reports the current subscriber count.
func (r *Room) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}
