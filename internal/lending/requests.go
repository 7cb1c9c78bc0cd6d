package lending

import (
	"context"
	"log/slog"

	"github.com/roach88/shelfshare/internal/docstore"
	"github.com/roach88/shelfshare/internal/domain"
)

// SubmitRequest creates a pending request by borrower for bookID and bumps
// the book's requestCount in the same batch.
//
// Errors: NotFound (book or borrower), Unauthorized (borrower owns the
// book), InvalidTransition (the book is already on loan), AlreadyExists
// (borrower already has a pending request on the book).
//
// The batch is guarded by the book's version, so two submissions racing on
// the same book serialize and the loser re-runs against the winner's write.
func (s *Service) SubmitRequest(ctx context.Context, bookID, borrower string) (domain.Request, error) {
	var req domain.Request
	id := s.ids.NewID()

	err := s.run(ctx, "submit request", func(ctx context.Context, tx *docstore.Txn) error {
		book, err := mustFetch[domain.Book](ctx, tx, "book", domain.CollectionBooks, bookID)
		if err != nil {
			return err
		}
		if book.Owner == borrower {
			return domain.Unauthorized("%s cannot request their own book", borrower)
		}
		if book.AcceptedRequest != "" || book.Availability == domain.AvailabilityProvided {
			return domain.InvalidTransition("book %s is on loan", bookID)
		}
		if _, err := mustFetch[domain.User](ctx, tx, "user", domain.CollectionUsers, borrower); err != nil {
			return err
		}

		docs, err := tx.Query(ctx, docstore.Where(domain.CollectionRequests,
			docstore.Eq("bookId", bookID),
			docstore.Eq("userHandle", borrower),
			docstore.Eq("status", string(domain.StatusPending)),
		))
		if err != nil {
			return err
		}
		if len(docs) > 0 {
			return domain.AlreadyExists("request", docs[0].ID, "Book already requested")
		}

		req = domain.Request{
			ID:        id,
			BookID:    bookID,
			BookOwner: book.Owner,
			Borrower:  borrower,
			Title:     book.Title,
			Price:     book.Price,
			Status:    domain.StatusPending,
			CreatedAt: s.clock.Now(),
		}
		tx.Create(domain.CollectionRequests, id, req)
		tx.Update(domain.CollectionBooks, bookID, map[string]any{
			"requestCount": book.RequestCount + 1,
		})
		return nil
	})
	if err != nil {
		return domain.Request{}, err
	}

	slog.Info("request submitted", "request_id", id, "book_id", bookID, "borrower", borrower)
	return req, nil
}

// Decide moves a pending request to accepted or declined on behalf of the
// book's owner. It performs the state change only; everything an acceptance
// implies happens in cascade reactions.
//
// Accepting also claims the book for the request in the same batch. A book
// that is already claimed rejects the acceptance with InvalidTransition, so
// two concurrent accepts on one book cannot both succeed. Accepting requires
// the borrower's spendable balance to cover the request's price and holds
// that much on the borrower until the ticket transfer reaction pays it out.
// The hold is a versioned write on the borrower, so acceptances by different
// owners against one borrower serialize.
//
// Errors: NotFound (request or book), Unauthorized (actor is not the
// owner), InvalidTransition.
func (s *Service) Decide(ctx context.Context, actor, requestID, outcome string) (domain.Request, error) {
	to, err := domain.ParseOutcome(outcome)
	if err != nil {
		return domain.Request{}, err
	}

	var req domain.Request
	err = s.run(ctx, "decide request", func(ctx context.Context, tx *docstore.Txn) error {
		var err error
		req, err = mustFetch[domain.Request](ctx, tx, "request", domain.CollectionRequests, requestID)
		if err != nil {
			return err
		}
		book, err := mustFetch[domain.Book](ctx, tx, "book", domain.CollectionBooks, req.BookID)
		if err != nil {
			return err
		}
		if book.Owner != actor {
			return domain.Unauthorized("only the owner of book %s can decide its requests", book.ID)
		}
		if err := domain.CanTransition(req.Status, to, domain.InitiatorClient); err != nil {
			return err
		}

		if to == domain.StatusAccepted {
			if book.AcceptedRequest != "" && book.AcceptedRequest != req.ID {
				return domain.InvalidTransition("book %s is already lent under request %s", book.ID, book.AcceptedRequest)
			}
			borrower, err := mustFetch[domain.User](ctx, tx, "user", domain.CollectionUsers, req.Borrower)
			if err != nil {
				return err
			}
			if borrower.SpendableTickets() < req.Price {
				return domain.InvalidTransition("%s has %d spendable tickets, request needs %d", req.Borrower, borrower.SpendableTickets(), req.Price)
			}
			if req.Price > 0 {
				tx.Update(domain.CollectionUsers, borrower.Handle, map[string]any{
					"reservedTickets": borrower.ReservedTickets + req.Price,
				})
			}
			tx.Update(domain.CollectionBooks, book.ID, map[string]any{"acceptedRequest": req.ID})
		}

		tx.Update(domain.CollectionRequests, req.ID, map[string]any{"status": string(to)})
		req.Status = to
		return nil
	})
	if err != nil {
		return domain.Request{}, err
	}

	slog.Info("request decided", "request_id", requestID, "book_id", req.BookID, "status", req.Status)
	return req, nil
}

// Cancel withdraws a pending request on behalf of its borrower: the request
// is deleted and the book's requestCount decremented, never below zero.
// Returns the request as it was before deletion.
//
// Errors: NotFound, Unauthorized (actor is not the borrower),
// InvalidTransition (the request is no longer pending).
func (s *Service) Cancel(ctx context.Context, actor, requestID string) (domain.Request, error) {
	var req domain.Request
	err := s.run(ctx, "cancel request", func(ctx context.Context, tx *docstore.Txn) error {
		var err error
		req, err = mustFetch[domain.Request](ctx, tx, "request", domain.CollectionRequests, requestID)
		if err != nil {
			return err
		}
		if req.Borrower != actor {
			return domain.Unauthorized("only %s can cancel request %s", req.Borrower, requestID)
		}
		if req.Status != domain.StatusPending {
			return domain.InvalidTransition("request is %s; only pending requests can be cancelled", req.Status)
		}

		book, found, err := docstore.Fetch[domain.Book](ctx, tx, domain.CollectionBooks, req.BookID)
		if err != nil {
			return err
		}
		if found {
			tx.Update(domain.CollectionBooks, book.ID, map[string]any{
				"requestCount": max(book.RequestCount-1, 0),
			})
		}
		tx.Delete(domain.CollectionRequests, requestID)
		return nil
	})
	if err != nil {
		return domain.Request{}, err
	}

	slog.Info("request cancelled", "request_id", requestID, "book_id", req.BookID)
	return req, nil
}

// ResetAvailability returns a lent book to the shelf: availability goes back
// to available, the loan claim and requestCount are cleared, and every
// request on the book is deleted, all in one batch.
//
// Errors: NotFound, Unauthorized (actor is not the owner),
// InvalidTransition (the book is not on loan).
func (s *Service) ResetAvailability(ctx context.Context, actor, bookID string) (domain.Book, error) {
	var book domain.Book
	var removed int
	err := s.run(ctx, "reset availability", func(ctx context.Context, tx *docstore.Txn) error {
		var err error
		book, err = mustFetch[domain.Book](ctx, tx, "book", domain.CollectionBooks, bookID)
		if err != nil {
			return err
		}
		if book.Owner != actor {
			return domain.Unauthorized("only the owner can reset book %s", bookID)
		}
		if book.Availability != domain.AvailabilityProvided && book.AcceptedRequest == "" {
			return domain.InvalidTransition("book %s is not on loan", bookID)
		}

		docs, err := tx.Query(ctx, docstore.Where(domain.CollectionRequests, docstore.Eq("bookId", bookID)))
		if err != nil {
			return err
		}
		for _, d := range docs {
			tx.Delete(domain.CollectionRequests, d.ID)
		}
		removed = len(docs)

		tx.Update(domain.CollectionBooks, bookID, map[string]any{
			"availability":    string(domain.AvailabilityAvailable),
			"acceptedRequest": docstore.DeleteField,
			"requestCount":    0,
		})
		book.Availability = domain.AvailabilityAvailable
		book.AcceptedRequest = ""
		book.RequestCount = 0
		return nil
	})
	if err != nil {
		return domain.Book{}, err
	}

	slog.Info("book availability reset", "book_id", bookID, "requests_removed", removed)
	return book, nil
}

// GetRequest reads one request.
func (s *Service) GetRequest(ctx context.Context, id string) (domain.Request, error) {
	return get[domain.Request](ctx, s.store, "request", domain.CollectionRequests, id)
}

// RequestsForBook lists every request on a book, oldest first.
func (s *Service) RequestsForBook(ctx context.Context, bookID string) ([]domain.Request, error) {
	docs, err := s.store.Query(ctx, docstore.Query{
		Collection: domain.CollectionRequests,
		Filters:    []docstore.Filter{docstore.Eq("bookId", bookID)},
		OrderBy:    "createdAt",
	})
	if err != nil {
		return nil, domain.WrapStore("list requests", err)
	}
	return docstore.DecodeAll[domain.Request](docs)
}
