// Package cascade holds the reactions that turn one committed lending
// mutation into its dependent state changes.
//
// Each reaction is a change feed subscriber. The feed delivers at least
// once, in no particular order, possibly concurrently with every other
// reaction to the same change. So every reaction here:
//
//   - re-reads the current state instead of trusting the event snapshot
//     when the decision depends on it, and checks that its trigger is still
//     current (a loan claim still naming the request, a request still
//     pending)
//   - commits all of its writes in one docstore transaction guarded by the
//     versions it read, so a concurrent change re-runs it from scratch
//   - records one-shot effects (ticket transfers, emails, hall grants) under
//     a marker document keyed by the triggering id, created in the same
//     batch as the effect, so redelivery finds the marker and does nothing
//
// Running any reaction twice on the same event leaves the store exactly as
// running it once.
package cascade

import (
	"context"
	"fmt"

	"github.com/roach88/shelfshare/internal/changefeed"
	"github.com/roach88/shelfshare/internal/docstore"
	"github.com/roach88/shelfshare/internal/domain"
	"github.com/roach88/shelfshare/internal/mailer"
)

// Subscriber names. They are persisted in delivery rows, so renaming one
// orphans its pending deliveries.
const (
	RequestNotify          = "request-notify"
	RequestDenotify        = "request-denotify"
	RejectSiblings         = "reject-siblings"
	FlipAvailability       = "flip-availability"
	TransferTickets        = "transfer-tickets"
	EmailParties           = "email-parties"
	ClearStaleNotification = "clear-stale-notification"
	CommentNotify          = "comment-notify"
	BookCascadeDelete      = "book-cascade-delete"
	ProfilePropagate       = "profile-propagate"
	HallGrant              = "hall-grant"
)

// DefaultHallGrant is the number of tickets a user receives on joining a hall.
const DefaultHallGrant = 10

// Options tunes the reactions.
type Options struct {
	// HallGrant is credited once per (hall, member).
	HallGrant int64
	// Txn bounds conflict retries inside one delivery.
	Txn docstore.TxnOptions
}

// Observer is told whether each reaction run changed anything.
// internal/metrics implements it.
type Observer interface {
	ReactionFinished(reaction string, applied bool)
}

type nopObserver struct{}

func (nopObserver) ReactionFinished(string, bool) {}

// Reactions is the cascade reaction set.
type Reactions struct {
	store    *docstore.Store
	mail     mailer.Sender
	clock    domain.Clock
	opts     Options
	observer Observer
}

// Option configures Reactions.
type Option func(*Reactions)

// WithMailer sets where confirmation emails go. Defaults to mailer.Log.
func WithMailer(m mailer.Sender) Option {
	return func(r *Reactions) { r.mail = m }
}

// WithClock overrides the clock stamped on markers and notifications.
func WithClock(c domain.Clock) Option {
	return func(r *Reactions) { r.clock = c }
}

// WithOptions sets tunables.
func WithOptions(o Options) Option {
	return func(r *Reactions) { r.opts = o }
}

// WithObserver attaches an observer.
func WithObserver(o Observer) Option {
	return func(r *Reactions) { r.observer = o }
}

// New creates the reaction set over store.
func New(store *docstore.Store, opts ...Option) *Reactions {
	r := &Reactions{
		store:    store,
		mail:     mailer.Log{},
		clock:    domain.SystemClock{},
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.opts.HallGrant <= 0 {
		r.opts.HallGrant = DefaultHallGrant
	}
	return r
}

// Register subscribes every reaction to feed.
func (r *Reactions) Register(feed *changefeed.Feed) error {
	regs := []struct {
		on         func(collection, name string, h changefeed.Handler) error
		collection string
		name       string
		handler    changefeed.Handler
	}{
		{feed.OnCreate, domain.CollectionRequests, RequestNotify, r.requestNotify},
		{feed.OnDelete, domain.CollectionRequests, RequestDenotify, r.requestDenotify},
		{feed.OnUpdate, domain.CollectionRequests, RejectSiblings, r.rejectSiblings},
		{feed.OnUpdate, domain.CollectionRequests, FlipAvailability, r.flipAvailability},
		{feed.OnUpdate, domain.CollectionRequests, TransferTickets, r.transferTickets},
		{feed.OnUpdate, domain.CollectionRequests, EmailParties, r.emailParties},
		{feed.OnUpdate, domain.CollectionRequests, ClearStaleNotification, r.clearStaleNotification},
		{feed.OnCreate, domain.CollectionComments, CommentNotify, r.commentNotify},
		{feed.OnDelete, domain.CollectionBooks, BookCascadeDelete, r.bookCascadeDelete},
		{feed.OnUpdate, domain.CollectionUsers, ProfilePropagate, r.profilePropagate},
		{feed.OnUpdate, domain.CollectionHalls, HallGrant, r.hallGrant},
	}
	for _, reg := range regs {
		if err := reg.on(reg.collection, reg.name, reg.handler); err != nil {
			return fmt.Errorf("register cascade: %w", err)
		}
	}
	return nil
}

// txn runs fn as one transaction and reports whether it staged any write.
func (r *Reactions) txn(ctx context.Context, name string, fn func(ctx context.Context, tx *docstore.Txn) error) (bool, error) {
	var applied bool
	err := docstore.RunTransactionWith(ctx, r.store, r.opts.Txn, func(ctx context.Context, tx *docstore.Txn) error {
		if err := fn(ctx, tx); err != nil {
			return err
		}
		applied = tx.Pending()
		return nil
	})
	if err != nil {
		return false, domain.WrapStore(name, err)
	}
	r.observer.ReactionFinished(name, applied)
	return applied, nil
}

// skip records a run that returned before touching the store.
func (r *Reactions) skip(name string) error {
	r.observer.ReactionFinished(name, false)
	return nil
}

func snapshot[T any](d *docstore.Doc) (T, error) {
	var v T
	if d == nil {
		return v, fmt.Errorf("event has no snapshot")
	}
	if err := d.Decode(&v); err != nil {
		return v, err
	}
	return v, nil
}

// statusChange decodes an update event on a request.
func statusChange(ev changefeed.Event) (before, after domain.Request, err error) {
	if before, err = snapshot[domain.Request](ev.Before); err != nil {
		return before, after, fmt.Errorf("%s: before: %w", ev.Subscriber, err)
	}
	if after, err = snapshot[domain.Request](ev.After); err != nil {
		return before, after, fmt.Errorf("%s: after: %w", ev.Subscriber, err)
	}
	return before, after, nil
}
