// Package ledger keeps exactly one notification per triggering event.
//
// A notification's id is the id of the request or comment that caused it,
// so the event id is the idempotency key: upserting twice finds the first
// document, removing twice finds nothing.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/shelfshare/internal/docstore"
	"github.com/roach88/shelfshare/internal/domain"
)

// Entry describes the notification an event should produce.
type Entry struct {
	EventID   string
	Recipient string
	Sender    string
	Type      domain.NotificationType
	BookID    string
}

func (e Entry) validate() error {
	if e.EventID == "" || e.Recipient == "" {
		return fmt.Errorf("ledger entry needs an event id and a recipient")
	}
	switch e.Type {
	case domain.NotificationRequest, domain.NotificationComment:
	default:
		return fmt.Errorf("ledger entry %s: unknown type %q", e.EventID, e.Type)
	}
	return nil
}

// Ledger is the notification ledger over the document store.
type Ledger struct {
	store *docstore.Store
	clock domain.Clock
}

// New creates a Ledger.
func New(s *docstore.Store, clock domain.Clock) *Ledger {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Ledger{store: s, clock: clock}
}

// StageUpsert stages the notification for e into tx unless one already
// exists. An existing notification is left alone, including its read flag.
// Reports whether a create was staged.
func StageUpsert(ctx context.Context, tx *docstore.Txn, e Entry, now time.Time) (bool, error) {
	if err := e.validate(); err != nil {
		return false, err
	}
	exists, err := tx.Exists(ctx, domain.CollectionNotifications, e.EventID)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	tx.Create(domain.CollectionNotifications, e.EventID, domain.Notification{
		ID:        e.EventID,
		Recipient: e.Recipient,
		Sender:    e.Sender,
		Type:      e.Type,
		BookID:    e.BookID,
		Read:      false,
		CreatedAt: now,
	})
	return true, nil
}

// StageRemove stages deletion of the notification for eventID if present.
// Reports whether a delete was staged.
func StageRemove(ctx context.Context, tx *docstore.Txn, eventID string) (bool, error) {
	exists, err := tx.Exists(ctx, domain.CollectionNotifications, eventID)
	if err != nil || !exists {
		return false, err
	}
	tx.Delete(domain.CollectionNotifications, eventID)
	return true, nil
}

// UpsertForEvent creates exactly one notification for the event. Safe to
// call any number of times. Reports whether this call created it.
func (l *Ledger) UpsertForEvent(ctx context.Context, e Entry) (bool, error) {
	var created bool
	err := docstore.RunTransaction(ctx, l.store, func(ctx context.Context, tx *docstore.Txn) error {
		var err error
		created, err = StageUpsert(ctx, tx, e, l.clock.Now())
		return err
	})
	if err != nil {
		return false, domain.WrapStore("upsert notification", err)
	}
	return created, nil
}

// RemoveForEvent deletes the notification for eventID if present; no-op
// otherwise. Reports whether this call removed it.
func (l *Ledger) RemoveForEvent(ctx context.Context, eventID string) (bool, error) {
	var removed bool
	err := docstore.RunTransaction(ctx, l.store, func(ctx context.Context, tx *docstore.Txn) error {
		var err error
		removed, err = StageRemove(ctx, tx, eventID)
		return err
	})
	if err != nil {
		return false, domain.WrapStore("remove notification", err)
	}
	return removed, nil
}

// MarkRead sets read=true on every listed notification in one atomic batch.
// If any id is missing or addressed to someone other than actor, nothing is
// written and the error names the offending id. Retrying the whole call is
// always safe.
func (l *Ledger) MarkRead(ctx context.Context, actor string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	err := docstore.RunTransaction(ctx, l.store, func(ctx context.Context, tx *docstore.Txn) error {
		seen := make(map[string]bool, len(ids))
		for _, id := range ids {
			if seen[id] {
				continue
			}
			seen[id] = true

			var n domain.Notification
			_, err := tx.GetInto(ctx, domain.CollectionNotifications, id, &n)
			if errors.Is(err, docstore.ErrNotFound) {
				return domain.NotFound("notification", id)
			}
			if err != nil {
				return err
			}
			if n.Recipient != actor {
				return domain.Unauthorized("notification %s is not addressed to %s", id, actor)
			}
			if !n.Read {
				tx.Update(domain.CollectionNotifications, id, map[string]any{"read": true})
			}
		}
		return nil
	})
	return domain.WrapStore("mark notifications read", err)
}

// ForRecipient lists a user's notifications, newest first.
func (l *Ledger) ForRecipient(ctx context.Context, handle string) ([]domain.Notification, error) {
	docs, err := l.store.Query(ctx, docstore.Query{
		Collection: domain.CollectionNotifications,
		Filters:    []docstore.Filter{docstore.Eq("recipient", handle)},
		OrderBy:    "createdAt",
		Desc:       true,
	})
	if err != nil {
		return nil, domain.WrapStore("list notifications", err)
	}
	out := make([]domain.Notification, 0, len(docs))
	for _, d := range docs {
		var n domain.Notification
		if err := d.Decode(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}
