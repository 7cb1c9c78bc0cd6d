package docstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ChangeKind is the kind of document mutation a change records.
type ChangeKind string

const (
	ChangeCreate ChangeKind = "create"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

// Change is one row of the outbox: a committed mutation with its snapshots.
// Before is nil for creates, After is nil for deletes.
type Change struct {
	Seq         int64
	Collection  string
	DocID       string
	Kind        ChangeKind
	Before      *Doc
	After       *Doc
	CommittedAt time.Time
}

// DeliveryStatus is the state of one (change, subscriber) delivery.
type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliveryDone    DeliveryStatus = "done"
	DeliveryDead    DeliveryStatus = "dead"
)

// Delivery pairs a change with the subscriber it must reach.
type Delivery struct {
	Change        Change
	Subscriber    string
	Status        DeliveryStatus
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
}

const changeColumns = `c.seq, c.collection, c.doc_id, c.kind, c.before_data, c.before_version, c.after_data, c.committed_at`

func scanChange(scan func(dest ...any) error, extra ...any) (Change, error) {
	var (
		c             Change
		kind          string
		before, after sql.NullString
		beforeVersion int64
		committedAt   int64
	)
	dest := append([]any{&c.Seq, &c.Collection, &c.DocID, &kind, &before, &beforeVersion, &after, &committedAt}, extra...)
	if err := scan(dest...); err != nil {
		return Change{}, err
	}
	c.Kind = ChangeKind(kind)
	c.CommittedAt = time.Unix(0, committedAt).UTC()
	if before.Valid {
		c.Before = &Doc{Collection: c.Collection, ID: c.DocID, Data: []byte(before.String), Version: beforeVersion}
	}
	if after.Valid {
		c.After = &Doc{Collection: c.Collection, ID: c.DocID, Data: []byte(after.String), Version: c.Seq}
	}
	return c, nil
}

// PendingChanges returns up to limit changes not yet fanned out, oldest first.
func (s *Store) PendingChanges(ctx context.Context, limit int) ([]Change, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT `+changeColumns+`
		FROM changes c
		WHERE c.dispatched = 0
		ORDER BY c.seq ASC
		LIMIT ?
	`), limit)
	if err != nil {
		return nil, fmt.Errorf("pending changes: %w", err)
	}
	defer rows.Close()

	changes := []Change{}
	for rows.Next() {
		c, err := scanChange(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("pending changes: scan: %w", err)
		}
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pending changes: iterate: %w", err)
	}
	return changes, nil
}

// EnqueueDeliveries records one pending delivery per subscriber for the change
// and marks the change dispatched, atomically. Re-enqueueing is a no-op for
// subscribers that already have a delivery row.
func (s *Store) EnqueueDeliveries(ctx context.Context, seq int64, subscribers []string) error {
	tx, err := s.beginTx(ctx)
	if err != nil {
		return fmt.Errorf("enqueue deliveries: begin tx: %w", translateErr(err))
	}
	defer tx.Rollback()

	now := s.clock.Now().UnixNano()
	for _, sub := range subscribers {
		_, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO deliveries (change_seq, subscriber, status, attempts, next_attempt_at, updated_at)
			VALUES (?, ?, 'pending', 0, ?, ?)
			ON CONFLICT (change_seq, subscriber) DO NOTHING
		`), seq, sub, now, now)
		if err != nil {
			return fmt.Errorf("enqueue deliveries: insert %s: %w", sub, translateErr(err))
		}
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`UPDATE changes SET dispatched = 1 WHERE seq = ?`), seq); err != nil {
		return fmt.Errorf("enqueue deliveries: mark dispatched: %w", translateErr(err))
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("enqueue deliveries: commit: %w", translateErr(err))
	}
	return nil
}

// DueDeliveries returns pending deliveries whose next attempt is at or before
// now, ordered by due time then change sequence.
func (s *Store) DueDeliveries(ctx context.Context, now time.Time, limit int) ([]Delivery, error) {
	return s.listDeliveries(ctx, `d.status = 'pending' AND d.next_attempt_at <= ?`, []any{now.UnixNano()}, `d.next_attempt_at ASC, d.change_seq ASC, d.subscriber ASC`, limit)
}

// Deliveries returns deliveries in the given status, oldest change first.
func (s *Store) Deliveries(ctx context.Context, status DeliveryStatus, limit int) ([]Delivery, error) {
	return s.listDeliveries(ctx, `d.status = ?`, []any{string(status)}, `d.change_seq ASC, d.subscriber ASC`, limit)
}

func (s *Store) listDeliveries(ctx context.Context, where string, args []any, order string, limit int) ([]Delivery, error) {
	query := `
		SELECT ` + changeColumns + `, d.subscriber, d.status, d.attempts, d.next_attempt_at, d.last_error
		FROM deliveries d
		JOIN changes c ON c.seq = d.change_seq
		WHERE ` + where + `
		ORDER BY ` + order
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()

	out := []Delivery{}
	for rows.Next() {
		var (
			d      Delivery
			status string
			next   int64
		)
		c, err := scanChange(rows.Scan, &d.Subscriber, &status, &d.Attempts, &next, &d.LastError)
		if err != nil {
			return nil, fmt.Errorf("list deliveries: scan: %w", err)
		}
		d.Change = c
		d.Status = DeliveryStatus(status)
		d.NextAttemptAt = time.Unix(0, next).UTC()
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list deliveries: iterate: %w", err)
	}
	return out, nil
}

// CompleteDelivery marks a delivery done.
func (s *Store) CompleteDelivery(ctx context.Context, seq int64, subscriber string) error {
	now := s.clock.Now().UnixNano()
	_, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE deliveries
		SET status = 'done', attempts = attempts + 1, last_error = '', updated_at = ?
		WHERE change_seq = ? AND subscriber = ? AND status = 'pending'
	`), now, seq, subscriber)
	if err != nil {
		return fmt.Errorf("complete delivery %d/%s: %w", seq, subscriber, err)
	}
	return nil
}

// FailDelivery records a failed attempt. When dead is true the delivery
// leaves the retry loop; otherwise it becomes due again at next.
func (s *Store) FailDelivery(ctx context.Context, seq int64, subscriber string, cause error, next time.Time, dead bool) error {
	status := DeliveryPending
	if dead {
		status = DeliveryDead
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	now := s.clock.Now().UnixNano()
	_, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE deliveries
		SET status = ?, attempts = attempts + 1, next_attempt_at = ?, last_error = ?, updated_at = ?
		WHERE change_seq = ? AND subscriber = ? AND status = 'pending'
	`), string(status), next.UnixNano(), msg, now, seq, subscriber)
	if err != nil {
		return fmt.Errorf("fail delivery %d/%s: %w", seq, subscriber, err)
	}
	return nil
}

// RequeueDelivery moves a dead delivery back to pending with a fresh attempt
// budget. Returns false when no dead delivery matched.
func (s *Store) RequeueDelivery(ctx context.Context, seq int64, subscriber string) (bool, error) {
	now := s.clock.Now().UnixNano()
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE deliveries
		SET status = 'pending', attempts = 0, next_attempt_at = ?, updated_at = ?
		WHERE change_seq = ? AND subscriber = ? AND status = 'dead'
	`), now, now, seq, subscriber)
	if err != nil {
		return false, fmt.Errorf("requeue delivery %d/%s: %w", seq, subscriber, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("requeue delivery %d/%s: %w", seq, subscriber, err)
	}
	if n > 0 {
		s.fireHooks()
	}
	return n > 0, nil
}

// RequeueDead moves every dead delivery back to pending.
func (s *Store) RequeueDead(ctx context.Context) (int64, error) {
	now := s.clock.Now().UnixNano()
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE deliveries
		SET status = 'pending', attempts = 0, next_attempt_at = ?, updated_at = ?
		WHERE status = 'dead'
	`), now, now)
	if err != nil {
		return 0, fmt.Errorf("requeue dead deliveries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("requeue dead deliveries: %w", err)
	}
	if n > 0 {
		s.fireHooks()
	}
	return n, nil
}

// DeliveryCounts returns the number of deliveries per status.
func (s *Store) DeliveryCounts(ctx context.Context) (map[DeliveryStatus]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM deliveries GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("delivery counts: %w", err)
	}
	defer rows.Close()

	counts := map[DeliveryStatus]int64{
		DeliveryPending: 0,
		DeliveryDone:    0,
		DeliveryDead:    0,
	}
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("delivery counts: scan: %w", err)
		}
		counts[DeliveryStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("delivery counts: iterate: %w", err)
	}
	return counts, nil
}

// UndispatchedCount returns the number of changes not yet fanned out.
func (s *Store) UndispatchedCount(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM changes WHERE dispatched = 0`).Scan(&n); err != nil {
		return 0, fmt.Errorf("undispatched count: %w", err)
	}
	return n, nil
}
