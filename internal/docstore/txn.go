package docstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultMaxAttempts bounds how many times RunTransaction re-runs its
// callback after a version conflict.
const DefaultMaxAttempts = 10

// Txn is an optimistic read-modify-write transaction.
//
// Reads go straight to the store and remember the version they saw. Writes
// are staged. At commit every remembered version becomes a precondition, so
// the batch only lands if nothing the callback looked at has changed since.
type Txn struct {
	store *Store
	reads map[docKey]int64
	order []docKey
	ops   []Op
	// guarded marks docs whose first staged write already carries the read
	// version; later writes to the same doc see that write's result instead.
	guarded map[docKey]bool
}

func newTxn(s *Store) *Txn {
	return &Txn{
		store:   s,
		reads:   map[docKey]int64{},
		guarded: map[docKey]bool{},
	}
}

func (t *Txn) remember(collection, id string, version int64) {
	k := docKey{collection, id}
	if _, ok := t.reads[k]; ok {
		return
	}
	t.reads[k] = version
	t.order = append(t.order, k)
}

// Get reads a document and records its version. A missing document is
// recorded too, so a concurrent create also aborts the commit.
func (t *Txn) Get(ctx context.Context, collection, id string) (*Doc, error) {
	d, err := t.store.Get(ctx, collection, id)
	if errors.Is(err, ErrNotFound) {
		t.remember(collection, id, 0)
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	t.remember(collection, id, d.Version)
	return d, nil
}

// GetInto reads a document and decodes it into v.
func (t *Txn) GetInto(ctx context.Context, collection, id string, v any) (*Doc, error) {
	d, err := t.Get(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	if err := d.Decode(v); err != nil {
		return nil, err
	}
	return d, nil
}

// Exists reports whether a document is present, recording the read.
func (t *Txn) Exists(ctx context.Context, collection, id string) (bool, error) {
	_, err := t.Get(ctx, collection, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Query runs q and records the version of every returned document. Documents
// that start matching after the read are not detected; callers that need
// that must also read a document every such writer touches.
func (t *Txn) Query(ctx context.Context, q Query) ([]Doc, error) {
	docs, err := t.store.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	for _, d := range docs {
		t.remember(d.Collection, d.ID, d.Version)
	}
	return docs, nil
}

func (t *Txn) stage(op Op) {
	k := docKey{op.Collection, op.ID}
	if v, ok := t.reads[k]; ok && !t.guarded[k] && op.Precondition == nil {
		op = op.IfVersion(v)
	}
	t.guarded[k] = true
	t.ops = append(t.ops, op)
}

// Create stages a document creation.
func (t *Txn) Create(collection, id string, v any) { t.stage(Create(collection, id, v)) }

// Set stages a whole-document write.
func (t *Txn) Set(collection, id string, v any) { t.stage(Set(collection, id, v)) }

// Update stages a field merge.
func (t *Txn) Update(collection, id string, fields map[string]any) {
	t.stage(Update(collection, id, fields))
}

// Delete stages a deletion.
func (t *Txn) Delete(collection, id string) { t.stage(Delete(collection, id)) }

// Stage adds prepared ops to the batch.
func (t *Txn) Stage(ops ...Op) {
	for _, op := range ops {
		t.stage(op)
	}
}

// Pending reports whether any write has been staged.
func (t *Txn) Pending() bool { return len(t.ops) > 0 }

// batch returns checks for read-only docs followed by the staged writes.
func (t *Txn) batch() []Op {
	ops := make([]Op, 0, len(t.order)+len(t.ops))
	for _, k := range t.order {
		if t.guarded[k] {
			continue
		}
		ops = append(ops, Check(k.collection, k.id, t.reads[k]))
	}
	return append(ops, t.ops...)
}

// TxnOptions tunes RunTransaction.
type TxnOptions struct {
	MaxAttempts int
	// Backoff is the first wait after a conflict. Later waits grow
	// exponentially with jitter up to MaxBackoff.
	Backoff    time.Duration
	MaxBackoff time.Duration
}

func (o TxnOptions) withDefaults() TxnOptions {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.Backoff <= 0 {
		o.Backoff = time.Millisecond
	}
	if o.MaxBackoff < o.Backoff {
		o.MaxBackoff = max(50*o.Backoff, 50*time.Millisecond)
	}
	return o
}

// RunTransaction runs fn and commits what it staged, re-running fn from
// scratch on ErrConflict. Any other error from fn or the commit is returned
// as is and nothing is written. A callback that stages nothing still has its
// reads validated, so it observed one consistent state.
//
// Returns an error wrapping ErrConflict when attempts run out.
func RunTransaction(ctx context.Context, s *Store, fn func(ctx context.Context, tx *Txn) error) error {
	return RunTransactionWith(ctx, s, TxnOptions{}, fn)
}

// RunTransactionWith is RunTransaction with explicit options.
func RunTransactionWith(ctx context.Context, s *Store, opts TxnOptions, fn func(ctx context.Context, tx *Txn) error) error {
	opts = opts.withDefaults()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = opts.Backoff
	b.MaxInterval = opts.MaxBackoff
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(opts.MaxAttempts-1)), ctx)

	attempts := 0
	err := backoff.RetryNotify(func() error {
		attempts++
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		tx := newTxn(s)
		if err := fn(ctx, tx); err != nil {
			return backoff.Permanent(err)
		}
		err := s.Commit(ctx, tx.batch()...)
		if err != nil && !errors.Is(err, ErrConflict) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		slog.Debug("transaction conflict, retrying", "attempt", attempts, "wait", wait, "error", err)
	})
	if errors.Is(err, ErrConflict) {
		return fmt.Errorf("transaction gave up after %d attempts: %w", attempts, err)
	}
	return err
}

// Fetch reads collection/id through tx into a T. found is false, with a nil
// error, when the document does not exist.
func Fetch[T any](ctx context.Context, tx *Txn, collection, id string) (v T, found bool, err error) {
	_, err = tx.GetInto(ctx, collection, id, &v)
	if errors.Is(err, ErrNotFound) {
		return v, false, nil
	}
	if err != nil {
		return v, false, err
	}
	return v, true, nil
}
