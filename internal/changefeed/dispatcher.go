package changefeed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/shelfshare/internal/docstore"
	"github.com/roach88/shelfshare/internal/domain"
)

// Observer is told about every settled delivery. internal/metrics implements
// it with Prometheus collectors.
type Observer interface {
	DeliverySucceeded(subscriber string, elapsed time.Duration)
	DeliveryFailed(subscriber string, attempt int, dead bool)
}

type nopObserver struct{}

func (nopObserver) DeliverySucceeded(string, time.Duration) {}
func (nopObserver) DeliveryFailed(string, int, bool)        {}

// Defaults for Dispatcher options.
const (
	DefaultWorkers      = 4
	DefaultBatchSize    = 100
	DefaultPollInterval = time.Second
)

// Dispatcher moves changes from the store's outbox to the Feed's handlers.
//
// Thread-safety model:
//   - Run(): must be called from exactly one goroutine
//   - Drain(): must not run concurrently with Run()
//   - Handlers run on up to Workers goroutines at once
type Dispatcher struct {
	store    *docstore.Store
	feed     *Feed
	clock    domain.Clock
	observer Observer
	backoff  BackoffPolicy

	workers      int
	batchSize    int
	pollInterval time.Duration

	wake *wakeup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithWorkers bounds how many handlers run concurrently.
func WithWorkers(n int) Option {
	return func(d *Dispatcher) { d.workers = n }
}

// WithBatchSize bounds how many changes or deliveries one round loads.
func WithBatchSize(n int) Option {
	return func(d *Dispatcher) { d.batchSize = n }
}

// WithPollInterval sets how often Run wakes without a commit signal.
func WithPollInterval(interval time.Duration) Option {
	return func(d *Dispatcher) { d.pollInterval = interval }
}

// WithBackoff sets the retry policy.
func WithBackoff(p BackoffPolicy) Option {
	return func(d *Dispatcher) { d.backoff = p }
}

// WithClock overrides the clock used for scheduling retries.
func WithClock(c domain.Clock) Option {
	return func(d *Dispatcher) { d.clock = c }
}

// WithObserver attaches a delivery observer.
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) { d.observer = o }
}

// NewDispatcher creates a dispatcher and hooks it to the store's commits.
func NewDispatcher(s *docstore.Store, feed *Feed, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:        s,
		feed:         feed,
		clock:        domain.SystemClock{},
		observer:     nopObserver{},
		backoff:      DefaultBackoff,
		workers:      DefaultWorkers,
		batchSize:    DefaultBatchSize,
		pollInterval: DefaultPollInterval,
		wake:         newWakeup(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.workers < 1 {
		d.workers = 1
	}
	if d.batchSize < 1 {
		d.batchSize = DefaultBatchSize
	}
	if d.pollInterval <= 0 {
		d.pollInterval = DefaultPollInterval
	}
	d.backoff = d.backoff.withDefaults()

	s.OnCommit(d.wake.Notify)
	return d
}

// Run processes the outbox until ctx is cancelled or Stop is called.
//
// ERROR HANDLING: store errors while fanning out or settling are logged and
// the round is retried on the next wakeup. Handler errors never stop the
// loop; they reschedule the delivery.
func (d *Dispatcher) Run(ctx context.Context) error {
	slog.Info("dispatcher starting",
		"workers", d.workers,
		"subscribers", len(d.feed.subs),
		"max_attempts", d.backoff.MaxAttempts,
	)

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		busy, err := d.round(ctx)
		if err != nil && ctx.Err() == nil {
			slog.Error("dispatch round failed", "error", err)
		}
		if busy {
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("dispatcher stopping: context cancelled")
			return ctx.Err()
		case _, ok := <-d.wake.Wait():
			if !ok {
				slog.Info("dispatcher stopping: closed")
				return nil
			}
		case <-ticker.C:
		}
	}
}

// Stop makes Run return.
func (d *Dispatcher) Stop() {
	d.wake.Close()
}

// Drain runs rounds until nothing is left to fan out and nothing is due at
// the clock's current time. Deliveries rescheduled into the future stay
// pending. Used by tests and one-shot CLI commands.
func (d *Dispatcher) Drain(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		busy, err := d.round(ctx)
		if err != nil {
			return err
		}
		if !busy {
			return nil
		}
	}
}

// round fans out one batch of changes and runs one batch of due deliveries.
// Reports whether any work was found.
func (d *Dispatcher) round(ctx context.Context) (bool, error) {
	fanned, err := d.fanOut(ctx)
	if err != nil {
		return false, err
	}
	ran, err := d.runDue(ctx)
	if err != nil {
		return fanned > 0, err
	}
	return fanned > 0 || ran > 0, nil
}

func (d *Dispatcher) fanOut(ctx context.Context) (int, error) {
	changes, err := d.store.PendingChanges(ctx, d.batchSize)
	if err != nil {
		return 0, fmt.Errorf("fan out: %w", err)
	}
	for _, c := range changes {
		subs := d.feed.Subscribers(c)
		if err := d.store.EnqueueDeliveries(ctx, c.Seq, subs); err != nil {
			return 0, fmt.Errorf("fan out change %d: %w", c.Seq, err)
		}
		slog.Debug("change fanned out",
			"seq", c.Seq,
			"collection", c.Collection,
			"doc_id", c.DocID,
			"kind", c.Kind,
			"subscribers", len(subs),
		)
	}
	return len(changes), nil
}

func (d *Dispatcher) runDue(ctx context.Context) (int, error) {
	due, err := d.store.DueDeliveries(ctx, d.clock.Now(), d.batchSize)
	if err != nil {
		return 0, fmt.Errorf("load due deliveries: %w", err)
	}
	if len(due) == 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for _, del := range due {
		g.Go(func() error {
			return d.deliver(gctx, del)
		})
	}
	if err := g.Wait(); err != nil {
		return len(due), err
	}
	return len(due), nil
}

// deliver runs one handler and records the outcome. Only failures to record
// the outcome are returned; handler errors are settled into the delivery row.
func (d *Dispatcher) deliver(ctx context.Context, del docstore.Delivery) error {
	attempt := del.Attempts + 1
	ev := EventFromChange(del.Change, del.Subscriber, attempt)

	start := time.Now()
	herr := d.feed.Invoke(ctx, del.Subscriber, ev)
	elapsed := time.Since(start)

	if herr == nil {
		if err := d.store.CompleteDelivery(ctx, del.Change.Seq, del.Subscriber); err != nil {
			return err
		}
		d.observer.DeliverySucceeded(del.Subscriber, elapsed)
		slog.Debug("delivery done",
			"subscriber", del.Subscriber,
			"seq", del.Change.Seq,
			"doc", del.Change.Collection+"/"+del.Change.DocID,
			"attempt", attempt,
		)
		return nil
	}

	if errors.Is(herr, context.Canceled) && ctx.Err() != nil {
		// Shutting down; leave the delivery as it was.
		return nil
	}

	dead := d.backoff.Exhausted(attempt)
	next := d.clock.Now().Add(d.backoff.Delay(attempt))
	if err := d.store.FailDelivery(ctx, del.Change.Seq, del.Subscriber, herr, next, dead); err != nil {
		return err
	}
	d.observer.DeliveryFailed(del.Subscriber, attempt, dead)

	if dead {
		slog.Error("delivery dead: retries exhausted",
			"subscriber", del.Subscriber,
			"seq", del.Change.Seq,
			"doc", del.Change.Collection+"/"+del.Change.DocID,
			"attempts", attempt,
			"error", herr,
		)
		return nil
	}
	slog.Warn("delivery failed, will retry",
		"subscriber", del.Subscriber,
		"seq", del.Change.Seq,
		"doc", del.Change.Collection+"/"+del.Change.DocID,
		"attempt", attempt,
		"retry_at", next,
		"error", herr,
	)
	return nil
}
