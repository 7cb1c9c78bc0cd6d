package cascade

import (
	"context"
	"log/slog"

	"github.com/roach88/shelfshare/internal/changefeed"
	"github.com/roach88/shelfshare/internal/docstore"
	"github.com/roach88/shelfshare/internal/domain"
	"github.com/roach88/shelfshare/internal/ledger"
	"github.com/roach88/shelfshare/internal/mailer"
)

// requestNotify gives the owner one notification per new request. It only
// writes while the request is still pending; the request's version guards the
// commit, so a cancel or decision landing concurrently re-runs this and the
// notification is never created for a request that already left pending.
func (r *Reactions) requestNotify(ctx context.Context, ev changefeed.Event) error {
	_, err := r.txn(ctx, RequestNotify, func(ctx context.Context, tx *docstore.Txn) error {
		req, found, err := docstore.Fetch[domain.Request](ctx, tx, domain.CollectionRequests, ev.DocID)
		if err != nil || !found || req.Status != domain.StatusPending {
			return err
		}
		_, err = ledger.StageUpsert(ctx, tx, ledger.Entry{
			EventID:   req.ID,
			Recipient: req.BookOwner,
			Sender:    req.Borrower,
			Type:      domain.NotificationRequest,
			BookID:    req.BookID,
		}, r.clock.Now())
		return err
	})
	return err
}

// requestDenotify removes the notification of a deleted request.
func (r *Reactions) requestDenotify(ctx context.Context, ev changefeed.Event) error {
	_, err := r.txn(ctx, RequestDenotify, func(ctx context.Context, tx *docstore.Txn) error {
		_, err := ledger.StageRemove(ctx, tx, ev.DocID)
		return err
	})
	return err
}

// clearStaleNotification removes the notification of a request that left
// pending, whatever its new status.
func (r *Reactions) clearStaleNotification(ctx context.Context, ev changefeed.Event) error {
	before, after, err := statusChange(ev)
	if err != nil {
		return err
	}
	if !domain.LeftPending(before.Status, after.Status) {
		return r.skip(ClearStaleNotification)
	}
	_, err = r.txn(ctx, ClearStaleNotification, func(ctx context.Context, tx *docstore.Txn) error {
		_, err := ledger.StageRemove(ctx, tx, after.ID)
		return err
	})
	return err
}

// currentClaim reads the book and reports whether its loan claim still names
// requestID. Reactions to an acceptance act only while it does: a reset
// clears the claim, and from then on the acceptance is history.
func currentClaim(ctx context.Context, tx *docstore.Txn, bookID, requestID string) (domain.Book, bool, error) {
	book, found, err := docstore.Fetch[domain.Book](ctx, tx, domain.CollectionBooks, bookID)
	if err != nil || !found {
		return book, false, err
	}
	return book, book.AcceptedRequest == requestID, nil
}

// rejectSiblings moves every other pending request on the accepted
// request's book to rejected. New requests cannot appear while the claim is
// held, so once this commits the sibling set is final.
func (r *Reactions) rejectSiblings(ctx context.Context, ev changefeed.Event) error {
	before, after, err := statusChange(ev)
	if err != nil {
		return err
	}
	if !domain.BecameAccepted(before.Status, after.Status) {
		return r.skip(RejectSiblings)
	}

	var rejected []string
	_, err = r.txn(ctx, RejectSiblings, func(ctx context.Context, tx *docstore.Txn) error {
		rejected = rejected[:0]
		_, current, err := currentClaim(ctx, tx, after.BookID, after.ID)
		if err != nil || !current {
			return err
		}
		docs, err := tx.Query(ctx, docstore.Where(domain.CollectionRequests,
			docstore.Eq("bookId", after.BookID),
			docstore.Eq("status", string(domain.StatusPending)),
		))
		if err != nil {
			return err
		}
		for _, d := range docs {
			if d.ID == after.ID {
				continue
			}
			if err := domain.CanTransition(domain.StatusPending, domain.StatusRejected, domain.InitiatorCascade); err != nil {
				return err
			}
			tx.Update(domain.CollectionRequests, d.ID, map[string]any{"status": string(domain.StatusRejected)})
			rejected = append(rejected, d.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(rejected) > 0 {
		slog.Info("siblings rejected", "request_id", after.ID, "book_id", after.BookID, "rejected", rejected)
	}
	return nil
}

// flipAvailability marks the book provided while the claim is current.
func (r *Reactions) flipAvailability(ctx context.Context, ev changefeed.Event) error {
	before, after, err := statusChange(ev)
	if err != nil {
		return err
	}
	if !domain.BecameAccepted(before.Status, after.Status) {
		return r.skip(FlipAvailability)
	}
	applied, err := r.txn(ctx, FlipAvailability, func(ctx context.Context, tx *docstore.Txn) error {
		book, current, err := currentClaim(ctx, tx, after.BookID, after.ID)
		if err != nil || !current || book.Availability == domain.AvailabilityProvided {
			return err
		}
		tx.Update(domain.CollectionBooks, book.ID, map[string]any{
			"availability": string(domain.AvailabilityProvided),
		})
		return nil
	})
	if err == nil && applied {
		slog.Info("book provided", "book_id", after.BookID, "request_id", after.ID)
	}
	return err
}

// transferTickets moves the request's price from borrower to owner exactly
// once. The transfers/{requestId} marker is created in the same batch as the
// debit and credit; a redelivery finds the marker and stops.
//
// The transfer is owed by the acceptance itself, so it does not look at the
// claim: a reset that already happened does not cancel it. The acceptance
// put a hold on the borrower for the price; the debit releases it in the
// same batch. If the borrower still cannot cover the price, the marker
// records a shortfall, the hold is dropped and no balance changes, which
// the reconcile sweep reports.
func (r *Reactions) transferTickets(ctx context.Context, ev changefeed.Event) error {
	before, after, err := statusChange(ev)
	if err != nil {
		return err
	}
	if !domain.BecameAccepted(before.Status, after.Status) {
		return r.skip(TransferTickets)
	}

	var marker domain.Transfer
	applied, err := r.txn(ctx, TransferTickets, func(ctx context.Context, tx *docstore.Txn) error {
		done, err := tx.Exists(ctx, domain.CollectionTransfers, after.ID)
		if err != nil || done {
			return err
		}
		marker = domain.Transfer{
			RequestID: after.ID,
			Borrower:  after.Borrower,
			Owner:     after.BookOwner,
			Amount:    after.Price,
			Outcome:   domain.TransferApplied,
			CreatedAt: r.clock.Now(),
		}

		borrower, bFound, err := docstore.Fetch[domain.User](ctx, tx, domain.CollectionUsers, after.Borrower)
		if err != nil {
			return err
		}
		owner, oFound, err := docstore.Fetch[domain.User](ctx, tx, domain.CollectionUsers, after.BookOwner)
		if err != nil {
			return err
		}
		if !bFound || !oFound || borrower.TicketBalance < after.Price {
			marker.Outcome = domain.TransferShortfall
			tx.Create(domain.CollectionTransfers, after.ID, marker)
			if bFound {
				tx.Update(domain.CollectionUsers, borrower.Handle, releaseHold(borrower, after.Price, nil))
			}
			return nil
		}

		tx.Create(domain.CollectionTransfers, after.ID, marker)
		if after.Price > 0 {
			debit := borrower.TicketBalance - after.Price
			tx.Update(domain.CollectionUsers, borrower.Handle, releaseHold(borrower, after.Price, &debit))
			tx.Update(domain.CollectionUsers, owner.Handle, map[string]any{"tickets": owner.TicketBalance + after.Price})
		}
		return nil
	})
	if err != nil || !applied {
		return err
	}

	if marker.Outcome == domain.TransferShortfall {
		slog.Error("ticket transfer shortfall: borrower cannot cover price",
			"request_id", after.ID,
			"borrower", after.Borrower,
			"owner", after.BookOwner,
			"amount", after.Price,
		)
		return nil
	}
	slog.Info("tickets transferred",
		"request_id", after.ID,
		"from", after.Borrower,
		"to", after.BookOwner,
		"amount", after.Price,
	)
	return nil
}

// releaseHold returns the user fields that drop amount from u's held
// tickets, and set the balance when tickets is not nil.
func releaseHold(u domain.User, amount int64, tickets *int64) map[string]any {
	fields := map[string]any{"reservedTickets": docstore.DeleteField}
	if left := u.ReservedTickets - amount; left > 0 {
		fields["reservedTickets"] = left
	}
	if tickets != nil {
		fields["tickets"] = *tickets
	}
	return fields
}

// emailParties claims the emails/{requestId} marker, then sends the loan
// confirmation to both parties. Send failures are logged and swallowed; a
// claimed marker is never re-sent.
func (r *Reactions) emailParties(ctx context.Context, ev changefeed.Event) error {
	before, after, err := statusChange(ev)
	if err != nil {
		return err
	}
	if !domain.BecameAccepted(before.Status, after.Status) {
		return r.skip(EmailParties)
	}

	var owner, borrower domain.User
	claimed, err := r.txn(ctx, EmailParties, func(ctx context.Context, tx *docstore.Txn) error {
		sent, err := tx.Exists(ctx, domain.CollectionEmails, after.ID)
		if err != nil || sent {
			return err
		}
		if owner, _, err = docstore.Fetch[domain.User](ctx, tx, domain.CollectionUsers, after.BookOwner); err != nil {
			return err
		}
		if borrower, _, err = docstore.Fetch[domain.User](ctx, tx, domain.CollectionUsers, after.Borrower); err != nil {
			return err
		}
		var recipients []string
		for _, e := range []string{borrower.Email, owner.Email} {
			if e != "" {
				recipients = append(recipients, e)
			}
		}
		tx.Create(domain.CollectionEmails, after.ID, domain.EmailDispatch{
			RequestID:  after.ID,
			Recipients: recipients,
			CreatedAt:  r.clock.Now(),
		})
		return nil
	})
	if err != nil || !claimed {
		return err
	}

	msgs := mailer.LoanConfirmation(after.Title,
		mailer.Party{Handle: after.BookOwner, Email: owner.Email},
		mailer.Party{Handle: after.Borrower, Email: borrower.Email},
	)
	for _, m := range msgs {
		if err := r.mail.Send(ctx, m); err != nil {
			slog.Warn("confirmation email not sent", "request_id", after.ID, "to", m.To, "error", err)
		}
	}
	return nil
}
