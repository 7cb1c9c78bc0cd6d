// Package lending implements the client-facing operations of the lending
// marketplace: the request state machine (submit, decide, cancel), the
// availability reset, and the supporting book, user and hall operations.
//
// Every operation is one docstore transaction: read the latest state,
// validate it against the state machine, and commit all writes as a single
// batch guarded by the versions that were read. Side effects of a decision
// (sibling rejection, availability, tickets, notifications) are NOT done
// here; they are cascade reactions running off the change feed.
package lending

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/roach88/shelfshare/internal/docstore"
	"github.com/roach88/shelfshare/internal/domain"
	"github.com/roach88/shelfshare/internal/ledger"
)

// Defaults for Options.
const (
	DefaultTickets      = 100
	DefaultPrice        = 1
	DefaultHallAccounts = 200
	DefaultCover        = "no-cover.jpg"
)

// Options tunes a Service.
type Options struct {
	// DefaultTickets is the opening balance of a new user.
	DefaultTickets int64
	// DefaultPrice is used when a book is posted without a price.
	DefaultPrice int64
	// DefaultHallAccounts is the account capacity of a new hall.
	DefaultHallAccounts int64
	// DefaultCover replaces an empty cover on a posted book.
	DefaultCover string
	// Txn bounds conflict retries for every operation.
	Txn docstore.TxnOptions
}

func (o Options) withDefaults() Options {
	if o.DefaultTickets <= 0 {
		o.DefaultTickets = DefaultTickets
	}
	if o.DefaultPrice <= 0 {
		o.DefaultPrice = DefaultPrice
	}
	if o.DefaultHallAccounts <= 0 {
		o.DefaultHallAccounts = DefaultHallAccounts
	}
	if o.DefaultCover == "" {
		o.DefaultCover = DefaultCover
	}
	return o
}

// Observer is told the outcome of every operation. internal/metrics
// implements it.
type Observer interface {
	OperationFinished(op string, err error, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) OperationFinished(string, error, time.Duration) {}

// Service runs lending operations against a document store.
//
// Thread-safety: safe for concurrent use. Concurrent operations on the same
// documents serialize through version conflicts and retries in the store.
type Service struct {
	store    *docstore.Store
	ledger   *ledger.Ledger
	clock    domain.Clock
	ids      domain.IDGenerator
	opts     Options
	observer Observer
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the clock used for createdAt timestamps.
func WithClock(c domain.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithIDs overrides the id generator for new requests, books and comments.
func WithIDs(g domain.IDGenerator) Option {
	return func(s *Service) { s.ids = g }
}

// WithOptions sets tunables.
func WithOptions(o Options) Option {
	return func(s *Service) { s.opts = o }
}

// WithObserver attaches an operation observer.
func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

// New creates a Service over store.
func New(store *docstore.Store, opts ...Option) *Service {
	s := &Service{
		store:    store,
		clock:    domain.SystemClock{},
		ids:      domain.UUIDv7Generator{},
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.opts = s.opts.withDefaults()
	s.ledger = ledger.New(store, s.clock)
	return s
}

// Ledger returns the notification ledger the service writes through.
func (s *Service) Ledger() *ledger.Ledger { return s.ledger }

// run executes fn as one transaction and reports the outcome. Domain errors
// from fn are returned as is; anything else becomes a transient store error.
func (s *Service) run(ctx context.Context, op string, fn func(ctx context.Context, tx *docstore.Txn) error) error {
	start := time.Now()
	err := docstore.RunTransactionWith(ctx, s.store, s.opts.Txn, fn)
	err = domain.WrapStore(op, err)
	s.observer.OperationFinished(op, err, time.Since(start))

	switch {
	case err == nil:
	case domain.IsTransient(err):
		slog.Error("operation failed", "op", op, "error", err)
	default:
		slog.Debug("operation rejected", "op", op, "code", domain.CodeOf(err), "error", err)
	}
	return err
}

// mustFetch reads collection/id through tx and maps absence to NotFound for
// entity.
func mustFetch[T any](ctx context.Context, tx *docstore.Txn, entity, collection, id string) (T, error) {
	v, found, err := docstore.Fetch[T](ctx, tx, collection, id)
	if err != nil {
		return v, err
	}
	if !found {
		return v, domain.NotFound(entity, id)
	}
	return v, nil
}

// get reads one document outside a transaction.
func get[T any](ctx context.Context, s *docstore.Store, entity, collection, id string) (T, error) {
	var v T
	d, err := s.Get(ctx, collection, id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return v, domain.NotFound(entity, id)
		}
		return v, domain.WrapStore("get "+entity, err)
	}
	if err := d.Decode(&v); err != nil {
		return v, domain.WrapStore("get "+entity, err)
	}
	return v, nil
}
