package lending

import (
	"context"
	"log/slog"
	"strings"

	"github.com/roach88/shelfshare/internal/docstore"
	"github.com/roach88/shelfshare/internal/domain"
)

// NewBook is the client-supplied part of a book listing.
type NewBook struct {
	Title  string `json:"title" yaml:"title"`
	Author string `json:"author" yaml:"author"`
	Cover  string `json:"cover" yaml:"cover"`
	Price  int64  `json:"price" yaml:"price"`
}

// PostBook lists a book for owner. The listing starts available with zero
// counters; owner image and location are copied from the owner's profile
// and kept current by the profile propagation reaction.
func (s *Service) PostBook(ctx context.Context, owner string, nb NewBook) (domain.Book, error) {
	nb.Title = strings.TrimSpace(nb.Title)
	if nb.Title == "" {
		return domain.Book{}, domain.InvalidArgument("title must not be empty")
	}
	if nb.Price < 0 {
		return domain.Book{}, domain.InvalidArgument("price must not be negative, got %d", nb.Price)
	}
	if nb.Price == 0 {
		nb.Price = s.opts.DefaultPrice
	}
	if strings.TrimSpace(nb.Cover) == "" {
		nb.Cover = s.opts.DefaultCover
	}

	var book domain.Book
	id := s.ids.NewID()
	err := s.run(ctx, "post book", func(ctx context.Context, tx *docstore.Txn) error {
		user, err := mustFetch[domain.User](ctx, tx, "user", domain.CollectionUsers, owner)
		if err != nil {
			return err
		}
		book = domain.Book{
			ID:           id,
			Owner:        owner,
			OwnerImage:   user.ImageURL,
			Title:        nb.Title,
			Author:       nb.Author,
			Cover:        nb.Cover,
			Price:        nb.Price,
			Location:     user.Location,
			Availability: domain.AvailabilityAvailable,
			PostedAt:     s.clock.Now(),
		}
		tx.Create(domain.CollectionBooks, id, book)
		return nil
	})
	if err != nil {
		return domain.Book{}, err
	}

	slog.Info("book posted", "book_id", id, "owner", owner)
	return book, nil
}

// DeleteBook removes a book. Its comments, requests and notifications are
// removed by the cascade delete reaction.
func (s *Service) DeleteBook(ctx context.Context, actor, bookID string) error {
	err := s.run(ctx, "delete book", func(ctx context.Context, tx *docstore.Txn) error {
		book, err := mustFetch[domain.Book](ctx, tx, "book", domain.CollectionBooks, bookID)
		if err != nil {
			return err
		}
		if book.Owner != actor {
			return domain.Unauthorized("only the owner can delete book %s", bookID)
		}
		tx.Delete(domain.CollectionBooks, bookID)
		return nil
	})
	if err != nil {
		return err
	}
	slog.Info("book deleted", "book_id", bookID)
	return nil
}

// Comment adds a comment to a book and bumps its commentCount in the same
// batch.
func (s *Service) Comment(ctx context.Context, author, bookID, body string) (domain.Comment, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return domain.Comment{}, domain.InvalidArgument("comment must not be empty")
	}

	var c domain.Comment
	id := s.ids.NewID()
	err := s.run(ctx, "comment", func(ctx context.Context, tx *docstore.Txn) error {
		book, err := mustFetch[domain.Book](ctx, tx, "book", domain.CollectionBooks, bookID)
		if err != nil {
			return err
		}
		c = domain.Comment{
			ID:        id,
			BookID:    bookID,
			Author:    author,
			Body:      body,
			CreatedAt: s.clock.Now(),
		}
		tx.Create(domain.CollectionComments, id, c)
		tx.Update(domain.CollectionBooks, bookID, map[string]any{
			"commentCount": book.CommentCount + 1,
		})
		return nil
	})
	if err != nil {
		return domain.Comment{}, err
	}
	return c, nil
}

// GetBook reads one book.
func (s *Service) GetBook(ctx context.Context, id string) (domain.Book, error) {
	return get[domain.Book](ctx, s.store, "book", domain.CollectionBooks, id)
}

// Books lists every book, newest first.
func (s *Service) Books(ctx context.Context) ([]domain.Book, error) {
	return s.listBooks(ctx)
}

// BooksByOwner lists a user's books, newest first.
func (s *Service) BooksByOwner(ctx context.Context, owner string) ([]domain.Book, error) {
	return s.listBooks(ctx, docstore.Eq("owner", owner))
}

// BooksByLocation lists the books listed in location, newest first.
func (s *Service) BooksByLocation(ctx context.Context, location string) ([]domain.Book, error) {
	return s.listBooks(ctx, docstore.Eq("location", location))
}

func (s *Service) listBooks(ctx context.Context, filters ...docstore.Filter) ([]domain.Book, error) {
	docs, err := s.store.Query(ctx, docstore.Query{
		Collection: domain.CollectionBooks,
		Filters:    filters,
		OrderBy:    "userPostDate",
		Desc:       true,
	})
	if err != nil {
		return nil, domain.WrapStore("list books", err)
	}
	return docstore.DecodeAll[domain.Book](docs)
}
