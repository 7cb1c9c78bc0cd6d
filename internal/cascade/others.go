package cascade

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/shelfshare/internal/changefeed"
	"github.com/roach88/shelfshare/internal/docstore"
	"github.com/roach88/shelfshare/internal/domain"
	"github.com/roach88/shelfshare/internal/ledger"
)

// commentNotify tells the book's owner about a comment by someone else.
// Reading the book guards against a concurrent book deletion: once the
// cascade delete has run, the book is gone and this does nothing.
func (r *Reactions) commentNotify(ctx context.Context, ev changefeed.Event) error {
	_, err := r.txn(ctx, CommentNotify, func(ctx context.Context, tx *docstore.Txn) error {
		c, found, err := docstore.Fetch[domain.Comment](ctx, tx, domain.CollectionComments, ev.DocID)
		if err != nil || !found {
			return err
		}
		book, found, err := docstore.Fetch[domain.Book](ctx, tx, domain.CollectionBooks, c.BookID)
		if err != nil || !found || book.Owner == c.Author {
			return err
		}
		_, err = ledger.StageUpsert(ctx, tx, ledger.Entry{
			EventID:   c.ID,
			Recipient: book.Owner,
			Sender:    c.Author,
			Type:      domain.NotificationComment,
			BookID:    book.ID,
		}, r.clock.Now())
		return err
	})
	return err
}

var bookDependents = []string{
	domain.CollectionComments,
	domain.CollectionRequests,
	domain.CollectionNotifications,
	domain.CollectionDesireds,
}

// bookCascadeDelete removes every comment, request, notification and
// wishlist entry that references a deleted book, in one batch.
func (r *Reactions) bookCascadeDelete(ctx context.Context, ev changefeed.Event) error {
	bookID := ev.DocID
	removed := 0
	applied, err := r.txn(ctx, BookCascadeDelete, func(ctx context.Context, tx *docstore.Txn) error {
		removed = 0
		// A book recreated under the same id is a different listing.
		if exists, err := tx.Exists(ctx, domain.CollectionBooks, bookID); err != nil || exists {
			return err
		}
		for _, coll := range bookDependents {
			docs, err := tx.Query(ctx, docstore.Where(coll, docstore.Eq("bookId", bookID)))
			if err != nil {
				return fmt.Errorf("query %s: %w", coll, err)
			}
			for _, d := range docs {
				tx.Delete(coll, d.ID)
			}
			removed += len(docs)
		}
		return nil
	})
	if err == nil && applied {
		slog.Info("book dependents deleted", "book_id", bookID, "documents", removed)
	}
	return err
}

// profilePropagate copies a user's current image and location onto every
// book they own. It reads the user rather than the event, so deliveries of
// older profile changes arriving late still write the newest values.
func (r *Reactions) profilePropagate(ctx context.Context, ev changefeed.Event) error {
	before, err := snapshot[domain.User](ev.Before)
	if err != nil {
		return fmt.Errorf("%s: before: %w", ProfilePropagate, err)
	}
	after, err := snapshot[domain.User](ev.After)
	if err != nil {
		return fmt.Errorf("%s: after: %w", ProfilePropagate, err)
	}
	if before.ImageURL == after.ImageURL && before.Location == after.Location {
		return r.skip(ProfilePropagate)
	}

	updated := 0
	_, err = r.txn(ctx, ProfilePropagate, func(ctx context.Context, tx *docstore.Txn) error {
		updated = 0
		user, found, err := docstore.Fetch[domain.User](ctx, tx, domain.CollectionUsers, ev.DocID)
		if err != nil || !found {
			return err
		}
		docs, err := tx.Query(ctx, docstore.Where(domain.CollectionBooks, docstore.Eq("owner", user.Handle)))
		if err != nil {
			return err
		}
		books, err := docstore.DecodeAll[domain.Book](docs)
		if err != nil {
			return err
		}
		for _, b := range books {
			if b.OwnerImage == user.ImageURL && b.Location == user.Location {
				continue
			}
			tx.Update(domain.CollectionBooks, b.ID, map[string]any{
				"ownerImage": user.ImageURL,
				"location":   user.Location,
			})
			updated++
		}
		return nil
	})
	if err == nil && updated > 0 {
		slog.Info("profile propagated", "handle", ev.DocID, "books", updated)
	}
	return err
}

// hallGrant credits each newly added member once. The marker id is derived
// from (location, handle), so a member removed and re-added is not paid
// twice.
func (r *Reactions) hallGrant(ctx context.Context, ev changefeed.Event) error {
	before, err := snapshot[domain.Hall](ev.Before)
	if err != nil {
		return fmt.Errorf("%s: before: %w", HallGrant, err)
	}
	after, err := snapshot[domain.Hall](ev.After)
	if err != nil {
		return fmt.Errorf("%s: after: %w", HallGrant, err)
	}
	var added []string
	for _, m := range after.Members {
		if !slices.Contains(before.Members, m) {
			added = append(added, m)
		}
	}
	if len(added) == 0 {
		return r.skip(HallGrant)
	}

	var granted []string
	_, err = r.txn(ctx, HallGrant, func(ctx context.Context, tx *docstore.Txn) error {
		granted = granted[:0]
		for _, handle := range added {
			key, err := domain.GrantKey(after.Location, handle)
			if err != nil {
				return err
			}
			done, err := tx.Exists(ctx, domain.CollectionGrants, key)
			if err != nil {
				return err
			}
			if done {
				continue
			}
			user, found, err := docstore.Fetch[domain.User](ctx, tx, domain.CollectionUsers, handle)
			if err != nil {
				return err
			}
			if !found {
				slog.Warn("hall grant skipped: no such user", "location", after.Location, "handle", handle)
				continue
			}
			tx.Create(domain.CollectionGrants, key, domain.Grant{
				Location:  after.Location,
				Handle:    handle,
				Amount:    r.opts.HallGrant,
				CreatedAt: r.clock.Now(),
			})
			tx.Update(domain.CollectionUsers, handle, map[string]any{
				"tickets": user.TicketBalance + r.opts.HallGrant,
			})
			granted = append(granted, handle)
		}
		return nil
	})
	if err == nil && len(granted) > 0 {
		slog.Info("hall membership tickets granted", "location", after.Location, "handles", granted, "amount", r.opts.HallGrant)
	}
	return err
}
