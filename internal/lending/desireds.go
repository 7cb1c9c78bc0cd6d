package lending

import (
	"context"
	"log/slog"

	"github.com/roach88/shelfshare/internal/docstore"
	"github.com/roach88/shelfshare/internal/domain"
)

// AddDesired puts bookID on handle's wishlist. Only books currently on loan
// can be desired; an available book should be requested instead.
//
// Errors: NotFound (book or user), Unauthorized (handle owns the book),
// InvalidTransition (the book is not on loan), AlreadyExists.
func (s *Service) AddDesired(ctx context.Context, handle, bookID string) (domain.Desired, error) {
	key, err := domain.DesiredKey(handle, bookID)
	if err != nil {
		return domain.Desired{}, domain.InvalidArgument("%v", err)
	}

	var d domain.Desired
	err = s.run(ctx, "add desired", func(ctx context.Context, tx *docstore.Txn) error {
		book, err := mustFetch[domain.Book](ctx, tx, "book", domain.CollectionBooks, bookID)
		if err != nil {
			return err
		}
		if book.Owner == handle {
			return domain.Unauthorized("%s cannot desire their own book", handle)
		}
		if book.Availability != domain.AvailabilityProvided {
			return domain.InvalidTransition("You can only add to desired books with provided status")
		}
		if _, err := mustFetch[domain.User](ctx, tx, "user", domain.CollectionUsers, handle); err != nil {
			return err
		}
		exists, err := tx.Exists(ctx, domain.CollectionDesireds, key)
		if err != nil {
			return err
		}
		if exists {
			return domain.AlreadyExists("desired", key, "Book already desired")
		}

		d = domain.Desired{
			ID:        key,
			BookID:    bookID,
			BookOwner: book.Owner,
			Handle:    handle,
			Title:     book.Title,
			Author:    book.Author,
			Cover:     book.Cover,
			CreatedAt: s.clock.Now(),
		}
		tx.Create(domain.CollectionDesireds, key, d)
		return nil
	})
	if err != nil {
		return domain.Desired{}, err
	}
	slog.Info("book desired", "book_id", bookID, "handle", handle)
	return d, nil
}

// RemoveDesired takes bookID off handle's wishlist.
//
// Errors: NotFound (book), InvalidArgument (the book is not desired).
func (s *Service) RemoveDesired(ctx context.Context, handle, bookID string) error {
	key, err := domain.DesiredKey(handle, bookID)
	if err != nil {
		return domain.InvalidArgument("%v", err)
	}

	return s.run(ctx, "remove desired", func(ctx context.Context, tx *docstore.Txn) error {
		if _, err := mustFetch[domain.Book](ctx, tx, "book", domain.CollectionBooks, bookID); err != nil {
			return err
		}
		exists, err := tx.Exists(ctx, domain.CollectionDesireds, key)
		if err != nil {
			return err
		}
		if !exists {
			return domain.InvalidArgument("Book not desired")
		}
		tx.Delete(domain.CollectionDesireds, key)
		return nil
	})
}

// Desireds lists handle's wishlist, newest first.
func (s *Service) Desireds(ctx context.Context, handle string) ([]domain.Desired, error) {
	docs, err := s.store.Query(ctx, docstore.Query{
		Collection: domain.CollectionDesireds,
		Filters:    []docstore.Filter{docstore.Eq("userHandle", handle)},
		OrderBy:    "createdAt",
		Desc:       true,
	})
	if err != nil {
		return nil, domain.WrapStore("list desireds", err)
	}
	return docstore.DecodeAll[domain.Desired](docs)
}
