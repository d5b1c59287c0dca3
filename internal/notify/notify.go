// Package notify implements the relocation channel between storage and
// live query sequences.
//
// When storage moves a node to a new physical address, or renumbers it,
// it publishes NodeMoved; every subscribed listener gets a chance to swap
// the stale handle it holds for the new one. Generic document updates are
// published as DocumentUpdated.
//
// Subscriptions are owned by an evaluation scope and cancelled at its
// teardown. Cancellation is idempotent and, once it returns, the listener
// is never called again.
package notify

import (
	"log/slog"
	"sync"

	"github.com/roach88/xcore/internal/dom"
)

// Event is the kind of a document update.
type Event int

const (
	// EventStore indicates a document was created or replaced.
	EventStore Event = iota + 1
	// EventUpdate indicates a document's nodes were edited.
	EventUpdate
	// EventRemove indicates a document was removed.
	EventRemove
	// EventDefragment indicates a document's pages were reorganized.
	EventDefragment
)

// String returns the event name.
func (e Event) String() string {
	switch e {
	case EventStore:
		return "store"
	case EventUpdate:
		return "update"
	case EventRemove:
		return "remove"
	case EventDefragment:
		return "defragment"
	default:
		return "unknown"
	}
}

// Listener receives relocation and update notifications.
//
// Callbacks run on the publishing goroutine while the publisher holds the
// document's exclusive lock; they must not block on document locks and
// must not subscribe or cancel.
type Listener interface {
	// DocumentUpdated is called after doc was modified.
	DocumentUpdated(doc *dom.Document, event Event)

	// NodeMoved is called when the node formerly identified by oldID
	// (in newNode's document) is now reachable through newNode.
	NodeMoved(oldID dom.NodeID, newNode *dom.NodeRef)

	// Unsubscribe is called once when the subscription is cancelled.
	Unsubscribe()
}

// Publisher is the storage-facing side of the channel.
type Publisher interface {
	NotifyMoved(oldID dom.NodeID, newNode *dom.NodeRef)
	NotifyUpdated(doc *dom.Document, event Event)
}

// Service fans notifications out to subscribed listeners.
//
// Thread-safety: all methods are safe for concurrent use.
type Service struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	logger *slog.Logger
}

// NewService creates an empty Service.
func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		subs:   make(map[uint64]*Subscription),
		logger: logger,
	}
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	id       uint64
	svc      *Service
	listener Listener
	once     sync.Once
}

// Subscribe registers l and returns its subscription.
func (s *Service) Subscribe(l Listener) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	sub := &Subscription{id: s.nextID, svc: s, listener: l}
	s.subs[sub.id] = sub
	s.logger.Debug("listener subscribed", "subscription", sub.id)
	return sub
}

// Cancel removes the subscription and calls the listener's Unsubscribe.
// Safe to call more than once; only the first call has an effect. After
// Cancel returns no further notification reaches the listener.
func (sub *Subscription) Cancel() {
	sub.once.Do(func() {
		sub.svc.mu.Lock()
		delete(sub.svc.subs, sub.id)
		sub.svc.mu.Unlock()
		sub.svc.logger.Debug("listener unsubscribed", "subscription", sub.id)
		sub.listener.Unsubscribe()
	})
}

// Listener returns the subscribed listener.
func (sub *Subscription) Listener() Listener {
	return sub.listener
}

// Len returns the number of active subscriptions.
func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// NotifyMoved implements Publisher.
//
// The read lock is held for the whole dispatch so that a concurrent Cancel
// waits for it; that is what guarantees no delivery after Cancel returns.
func (s *Service) NotifyMoved(oldID dom.NodeID, newNode *dom.NodeRef) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subs {
		sub.listener.NodeMoved(oldID, newNode)
	}
}

// NotifyUpdated implements Publisher.
func (s *Service) NotifyUpdated(doc *dom.Document, event Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subs {
		sub.listener.DocumentUpdated(doc, event)
	}
}
