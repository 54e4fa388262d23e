// Package notifier fans ledger and lifecycle events out to the observers of an auction.
//
// Each observer owns a queue and a delivery goroutine, so Publish never waits on a
// reader. Events for one auction reach every observer in publish order. An observer
// whose queue exceeds the configured buffer is dropped and its stream ends with
// biddingerrors.ErrSlowObserver.
package notifier

import (
	"sync"
	"sync/atomic"

	"auction-tracker/internal/biddingerrors"
	"auction-tracker/internal/metrics"
	model "auction-tracker/internal/models"
	"auction-tracker/utils"

	"github.com/gammazero/deque"
)

// DefaultBufferSize is how many undelivered events an observer may accumulate
const DefaultBufferSize = 256

// Notifier is a per-auction publish/subscribe hub
type Notifier struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]*Subscription // key: auctionID -> subscription id -> subscription
	nextID atomic.Uint64

	bufferSize int
	metrics    metrics.MetricsCollector
}

// New creates a Notifier. bufferSize <= 0 uses DefaultBufferSize.
func New(bufferSize int, collector metrics.MetricsCollector) *Notifier {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Notifier{
		subs:       make(map[string]map[uint64]*Subscription),
		bufferSize: bufferSize,
		metrics:    collector,
	}
}

// Subscribe attaches an observer to auctionID. Only events published after this
// call are delivered.
func (n *Notifier) Subscribe(auctionID string) *Subscription {
	s := &Subscription{
		id:        n.nextID.Add(1),
		auctionID: auctionID,
		notifier:  n,
		limit:     n.bufferSize,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
		out:       make(chan model.Event),
	}

	n.mu.Lock()
	byID, ok := n.subs[auctionID]
	if !ok {
		byID = make(map[uint64]*Subscription)
		n.subs[auctionID] = byID
	}
	byID[s.id] = s
	n.mu.Unlock()

	n.metrics.ObserverSubscribed()
	go s.deliver()
	return s
}

// Publish queues event for every current observer of event.AuctionID.
// It never blocks on observers. Callers must serialize publishes per auction.
func (n *Notifier) Publish(event model.Event) {
	var overflowed []*Subscription

	n.mu.RLock()
	for _, s := range n.subs[event.AuctionID] {
		if !s.enqueue(event) {
			overflowed = append(overflowed, s)
		}
	}
	n.mu.RUnlock()

	for _, s := range overflowed {
		utils.Warn("notifier: dropping slow observer", map[string]any{
			"auction_id":      event.AuctionID,
			"subscription_id": s.id,
			"buffer_size":     n.bufferSize,
		})
		n.remove(s, biddingerrors.ErrSlowObserver)
	}
}

// SubscriberCount returns how many observers are attached to auctionID
func (n *Notifier) SubscriberCount(auctionID string) int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs[auctionID])
}

// Close ends every subscription
func (n *Notifier) Close() {
	n.mu.RLock()
	var all []*Subscription
	for _, byID := range n.subs {
		for _, s := range byID {
			all = append(all, s)
		}
	}
	n.mu.RUnlock()

	for _, s := range all {
		n.remove(s, nil)
	}
}

func (n *Notifier) remove(s *Subscription, reason error) {
	n.mu.Lock()
	byID, ok := n.subs[s.auctionID]
	_, present := byID[s.id]
	if ok && present {
		delete(byID, s.id)
		if len(byID) == 0 {
			delete(n.subs, s.auctionID)
		}
	}
	n.mu.Unlock()

	if present {
		n.metrics.ObserverRemoved(reason != nil)
	}
	s.stop(reason)
}

// Subscription is one observer's ordered event stream
type Subscription struct {
	id        uint64
	auctionID string
	notifier  *Notifier
	limit     int

	mu     sync.Mutex
	queue  deque.Deque[model.Event]
	closed bool
	err    error

	wake     chan struct{}
	done     chan struct{}
	out      chan model.Event
	stopOnce sync.Once
}

// AuctionID returns the auction this subscription observes
func (s *Subscription) AuctionID() string {
	return s.auctionID
}

// Events returns the stream. It is closed after Unsubscribe or when the observer is dropped.
func (s *Subscription) Events() <-chan model.Event {
	return s.out
}

// Done is closed once the subscription has ended
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err reports why the stream ended: nil for Unsubscribe, ErrSlowObserver when dropped
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Unsubscribe detaches the observer. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.notifier.remove(s, nil)
}

// enqueue returns false when the observer's queue is full
func (s *Subscription) enqueue(event model.Event) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return true
	}
	if s.queue.Len() >= s.limit {
		s.mu.Unlock()
		return false
	}
	s.queue.PushBack(event)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

func (s *Subscription) stop(reason error) {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.err = reason
		s.queue.Clear()
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *Subscription) deliver() {
	defer close(s.out)

	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		if s.queue.Len() == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		event := s.queue.PopFront()
		s.mu.Unlock()

		select {
		case s.out <- event:
		case <-s.done:
			return
		}
	}
}
