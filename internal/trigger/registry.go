package trigger

import (
	"fmt"
	"log/slog"
	"path"
	"sort"
	"sync"
)

// Factory builds a trigger from configuration parameters.
type Factory func(params map[string]string, logger *slog.Logger) (Trigger, error)

// Spec describes one configured trigger.
type Spec struct {
	Collection string
	Event      Event
	Type       string
	Params     map[string]string
}

// Registry maps collections and events to triggers. A trigger registered
// on a collection also covers its subcollections unless a more specific
// registration exists.
//
// Thread-safety: all methods are safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	triggers  map[string]map[Event]Trigger
	factories map[string]Factory
	logger    *slog.Logger
}

// NewRegistry creates a registry with the built-in "log" and "reject"
// factories.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		triggers:  make(map[string]map[Event]Trigger),
		factories: make(map[string]Factory),
		logger:    logger,
	}
	r.RegisterFactory("log", func(_ map[string]string, l *slog.Logger) (Trigger, error) {
		return Log{Logger: l}, nil
	})
	r.RegisterFactory("reject", func(params map[string]string, _ *slog.Logger) (Trigger, error) {
		return Reject{Reason: params["reason"]}, nil
	})
	return r
}

// RegisterFactory makes a trigger type available to Configure.
func (r *Registry) RegisterFactory(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Register sets the trigger for collection and event, replacing any
// previous one.
func (r *Registry) Register(collection string, event Event, t Trigger) {
	collection = cleanCollection(collection)
	r.mu.Lock()
	defer r.mu.Unlock()
	byEvent, ok := r.triggers[collection]
	if !ok {
		byEvent = make(map[Event]Trigger)
		r.triggers[collection] = byEvent
	}
	byEvent[event] = t
	r.logger.Debug("trigger registered",
		"collection", collection,
		"event", event.String(),
		"type", fmt.Sprintf("%T", t))
}

// Configure builds and registers every spec through its factory.
func (r *Registry) Configure(specs []Spec) error {
	for _, s := range specs {
		r.mu.RLock()
		f, ok := r.factories[s.Type]
		r.mu.RUnlock()
		if !ok {
			return fmt.Errorf("trigger on %s: unknown type %q", s.Collection, s.Type)
		}
		t, err := f(s.Params, r.logger)
		if err != nil {
			return fmt.Errorf("trigger on %s: %w", s.Collection, err)
		}
		r.Register(s.Collection, s.Event, t)
	}
	return nil
}

// Lookup returns the trigger for event on collection, walking up to the
// nearest configured ancestor. Null if there is none.
func (r *Registry) Lookup(collection string, event Event) Trigger {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for c := cleanCollection(collection); ; c = path.Dir(c) {
		if t, ok := r.triggers[c][event]; ok {
			return t
		}
		if c == "/" || c == "." {
			return Null{}
		}
	}
}

// Collections returns the collections with at least one trigger, sorted.
func (r *Registry) Collections() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.triggers))
	for c := range r.triggers {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func cleanCollection(c string) string {
	if c == "" {
		return "/"
	}
	return path.Clean("/" + c)
}
