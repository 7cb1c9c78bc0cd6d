package changefeed

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/shelfshare/internal/docstore"
)

// Event is what a handler receives: one committed change plus delivery
// metadata. Before is nil for creates, After is nil for deletes.
type Event struct {
	Seq         int64
	Collection  string
	DocID       string
	Kind        docstore.ChangeKind
	Before      *docstore.Doc
	After       *docstore.Doc
	CommittedAt time.Time

	// Subscriber is the name the handler was registered under.
	Subscriber string
	// Attempt counts from 1.
	Attempt int
}

// EventFromChange builds the Event a subscriber sees for a change.
func EventFromChange(c docstore.Change, subscriber string, attempt int) Event {
	return Event{
		Seq:         c.Seq,
		Collection:  c.Collection,
		DocID:       c.DocID,
		Kind:        c.Kind,
		Before:      c.Before,
		After:       c.After,
		CommittedAt: c.CommittedAt,
		Subscriber:  subscriber,
		Attempt:     attempt,
	}
}

// Handler reacts to one event. A non-nil error requests redelivery.
type Handler func(ctx context.Context, ev Event) error

type subscription struct {
	name       string
	collection string
	kind       docstore.ChangeKind
	handler    Handler
}

// Feed is the registry of subscribers. Register everything before starting a
// Dispatcher; the registry is not safe for concurrent mutation.
type Feed struct {
	subs  []subscription
	names map[string]int
}

// NewFeed creates an empty registry.
func NewFeed() *Feed {
	return &Feed{names: make(map[string]int)}
}

// OnCreate subscribes h to document creations in collection.
func (f *Feed) OnCreate(collection, name string, h Handler) error {
	return f.add(collection, name, docstore.ChangeCreate, h)
}

// OnUpdate subscribes h to document updates in collection.
func (f *Feed) OnUpdate(collection, name string, h Handler) error {
	return f.add(collection, name, docstore.ChangeUpdate, h)
}

// OnDelete subscribes h to document deletions in collection.
func (f *Feed) OnDelete(collection, name string, h Handler) error {
	return f.add(collection, name, docstore.ChangeDelete, h)
}

func (f *Feed) add(collection, name string, kind docstore.ChangeKind, h Handler) error {
	if name == "" {
		return fmt.Errorf("changefeed: subscriber name is required")
	}
	if h == nil {
		return fmt.Errorf("changefeed: subscriber %q: nil handler", name)
	}
	if _, dup := f.names[name]; dup {
		return fmt.Errorf("changefeed: subscriber %q already registered", name)
	}
	f.names[name] = len(f.subs)
	f.subs = append(f.subs, subscription{name: name, collection: collection, kind: kind, handler: h})
	return nil
}

// Subscribers returns the names subscribed to a change, in registration order.
func (f *Feed) Subscribers(c docstore.Change) []string {
	var names []string
	for _, s := range f.subs {
		if s.collection == c.Collection && s.kind == c.Kind {
			names = append(names, s.name)
		}
	}
	return names
}

// Names returns every registered subscriber name in registration order.
func (f *Feed) Names() []string {
	names := make([]string, len(f.subs))
	for i, s := range f.subs {
		names[i] = s.name
	}
	return names
}

// Invoke runs the named handler directly, bypassing the outbox. Panics in
// the handler are returned as errors.
func (f *Feed) Invoke(ctx context.Context, name string, ev Event) (err error) {
	i, ok := f.names[name]
	if !ok {
		return fmt.Errorf("changefeed: no subscriber named %q", name)
	}
	ev.Subscriber = name
	if ev.Attempt == 0 {
		ev.Attempt = 1
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("changefeed: subscriber %q panicked: %v", name, r)
		}
	}()
	return f.subs[i].handler(ctx, ev)
}
