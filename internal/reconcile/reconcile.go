// Package reconcile sweeps the store for states the cascade should have
// resolved and reports them for manual reconciliation.
//
// The cascade is eventually consistent: right after a decision, the book may
// not be provided yet and siblings may still be pending. A finding only
// means something once the outbox is quiet, so every report carries the
// amount of outbox work still outstanding next to the findings.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/roach88/shelfshare/internal/docstore"
	"github.com/roach88/shelfshare/internal/domain"
)

// Kind names a class of finding.
type Kind string

const (
	// MultipleAccepted: more than one accepted request on one book.
	MultipleAccepted Kind = "multiple-accepted"
	// PendingSibling: a pending request on a book whose claim names another
	// accepted request.
	PendingSibling Kind = "pending-sibling"
	// MissingNotification: a pending request with no notification.
	MissingNotification Kind = "missing-notification"
	// OrphanNotification: a request notification whose request is gone or
	// no longer pending.
	OrphanNotification Kind = "orphan-notification"
	// AvailabilityMismatch: availability disagrees with the loan claim.
	AvailabilityMismatch Kind = "availability-mismatch"
	// RequestCountMismatch: a book's requestCount differs from the number of
	// requests on it. Decisions keep their request, so every status counts.
	RequestCountMismatch Kind = "request-count-mismatch"
	// TransferShortfall: an accepted request whose transfer could not be paid.
	TransferShortfall Kind = "transfer-shortfall"
	// ReservationMismatch: a user's held tickets differ from the prices of
	// their accepted requests still awaiting a transfer.
	ReservationMismatch Kind = "reservation-mismatch"
	// DeadDelivery: a reaction that exhausted its retries.
	DeadDelivery Kind = "dead-delivery"
)

// Finding is one inconsistency.
type Finding struct {
	Kind   Kind   `json:"kind"`
	Path   string `json:"path"`
	Detail string `json:"detail"`
}

// Report is the outcome of one sweep.
type Report struct {
	Findings            []Finding `json:"findings"`
	UndispatchedChanges int64     `json:"undispatchedChanges"`
	PendingDeliveries   int64     `json:"pendingDeliveries"`
	DeadDeliveries      int64     `json:"deadDeliveries"`
}

// Settled reports whether the outbox was quiet during the sweep, which is
// when findings other than dead deliveries are real.
func (r Report) Settled() bool { return r.UndispatchedChanges == 0 && r.PendingDeliveries == 0 }

// Clean reports whether the sweep found nothing.
func (r Report) Clean() bool { return len(r.Findings) == 0 }

// Sweeper checks the store's lending invariants.
type Sweeper struct {
	store *docstore.Store
}

// NewSweeper creates a Sweeper.
func NewSweeper(s *docstore.Store) *Sweeper {
	return &Sweeper{store: s}
}

// Sweep reads every book, request, notification, user and transfer marker
// and reports inconsistencies. It never writes.
func (sw *Sweeper) Sweep(ctx context.Context) (Report, error) {
	var rep Report

	counts, err := sw.store.DeliveryCounts(ctx)
	if err != nil {
		return rep, fmt.Errorf("sweep: %w", err)
	}
	rep.PendingDeliveries = counts[docstore.DeliveryPending]
	rep.DeadDeliveries = counts[docstore.DeliveryDead]
	if rep.UndispatchedChanges, err = sw.store.UndispatchedCount(ctx); err != nil {
		return rep, fmt.Errorf("sweep: %w", err)
	}

	books, err := load[domain.Book](ctx, sw.store, domain.CollectionBooks)
	if err != nil {
		return rep, err
	}
	requests, err := load[domain.Request](ctx, sw.store, domain.CollectionRequests)
	if err != nil {
		return rep, err
	}
	notifications, err := load[domain.Notification](ctx, sw.store, domain.CollectionNotifications)
	if err != nil {
		return rep, err
	}
	transfers, err := load[domain.Transfer](ctx, sw.store, domain.CollectionTransfers)
	if err != nil {
		return rep, err
	}
	users, err := load[domain.User](ctx, sw.store, domain.CollectionUsers)
	if err != nil {
		return rep, err
	}

	add := func(kind Kind, collection, id, format string, args ...any) {
		rep.Findings = append(rep.Findings, Finding{Kind: kind, Path: collection + "/" + id, Detail: fmt.Sprintf(format, args...)})
	}

	byBook := map[string][]domain.Request{}
	byID := map[string]domain.Request{}
	for _, r := range requests {
		byBook[r.BookID] = append(byBook[r.BookID], r)
		byID[r.ID] = r
	}

	for _, b := range books {
		var accepted []string
		for _, r := range byBook[b.ID] {
			if r.Status == domain.StatusAccepted {
				accepted = append(accepted, r.ID)
			}
		}
		if len(accepted) > 1 {
			add(MultipleAccepted, domain.CollectionBooks, b.ID, "accepted requests %v", accepted)
		}

		if b.AcceptedRequest != "" {
			for _, r := range byBook[b.ID] {
				if r.Status == domain.StatusPending && r.ID != b.AcceptedRequest {
					add(PendingSibling, domain.CollectionRequests, r.ID, "still pending while book %s is lent under %s", b.ID, b.AcceptedRequest)
				}
			}
		}

		if n := int64(len(byBook[b.ID])); b.RequestCount != n {
			add(RequestCountMismatch, domain.CollectionBooks, b.ID, "requestCount %d with %d requests", b.RequestCount, n)
		}

		claimed := b.AcceptedRequest != ""
		provided := b.Availability == domain.AvailabilityProvided
		if claimed != provided {
			add(AvailabilityMismatch, domain.CollectionBooks, b.ID, "availability %s with loan claim %q", b.Availability, b.AcceptedRequest)
		}
	}

	notified := map[string]bool{}
	for _, n := range notifications {
		if n.Type != domain.NotificationRequest {
			continue
		}
		notified[n.ID] = true
		r, ok := byID[n.ID]
		switch {
		case !ok:
			add(OrphanNotification, domain.CollectionNotifications, n.ID, "request no longer exists")
		case r.Status != domain.StatusPending:
			add(OrphanNotification, domain.CollectionNotifications, n.ID, "request is %s", r.Status)
		}
	}
	for _, r := range requests {
		if r.Status == domain.StatusPending && !notified[r.ID] {
			add(MissingNotification, domain.CollectionRequests, r.ID, "pending without a notification for %s", r.BookOwner)
		}
	}

	paid := map[string]bool{}
	for _, t := range transfers {
		paid[t.RequestID] = true
		if t.Outcome == domain.TransferShortfall {
			add(TransferShortfall, domain.CollectionTransfers, t.RequestID, "%s could not pay %d to %s", t.Borrower, t.Amount, t.Owner)
		}
	}

	owed := map[string]int64{}
	for _, r := range requests {
		if r.Status == domain.StatusAccepted && !paid[r.ID] {
			owed[r.Borrower] += r.Price
		}
	}
	for _, u := range users {
		if u.ReservedTickets != owed[u.Handle] {
			add(ReservationMismatch, domain.CollectionUsers, u.Handle, "holds %d tickets, accepted requests awaiting transfer need %d", u.ReservedTickets, owed[u.Handle])
		}
	}

	dead, err := sw.store.Deliveries(ctx, docstore.DeliveryDead, 0)
	if err != nil {
		return rep, fmt.Errorf("sweep: %w", err)
	}
	for _, d := range dead {
		rep.Findings = append(rep.Findings, Finding{
			Kind:   DeadDelivery,
			Path:   d.Change.Collection + "/" + d.Change.DocID,
			Detail: fmt.Sprintf("%s on change %d after %d attempts: %s", d.Subscriber, d.Change.Seq, d.Attempts, d.LastError),
		})
	}

	sort.SliceStable(rep.Findings, func(i, j int) bool {
		if rep.Findings[i].Kind != rep.Findings[j].Kind {
			return rep.Findings[i].Kind < rep.Findings[j].Kind
		}
		return rep.Findings[i].Path < rep.Findings[j].Path
	})
	return rep, nil
}

// Log writes a report to the structured log.
func Log(rep Report) {
	if rep.Clean() {
		slog.Info("reconcile sweep clean", "settled", rep.Settled())
		return
	}
	for _, f := range rep.Findings {
		slog.Warn("reconcile finding",
			"kind", f.Kind,
			"path", f.Path,
			"detail", f.Detail,
			"settled", rep.Settled(),
		)
	}
}

func load[T any](ctx context.Context, s *docstore.Store, collection string) ([]T, error) {
	docs, err := s.Dump(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("sweep %s: %w", collection, err)
	}
	out, err := docstore.DecodeAll[T](docs)
	if err != nil {
		return nil, fmt.Errorf("sweep %s: %w", collection, err)
	}
	return out, nil
}
