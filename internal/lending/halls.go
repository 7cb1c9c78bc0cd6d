package lending

import (
	"context"
	"log/slog"
	"strings"

	"github.com/roach88/shelfshare/internal/docstore"
	"github.com/roach88/shelfshare/internal/domain"
)

// CreateHall opens a hall for location with the default account capacity.
func (s *Service) CreateHall(ctx context.Context, location, imageURL string) (domain.Hall, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return domain.Hall{}, domain.InvalidArgument("location must not be empty")
	}

	h := domain.Hall{
		Location:        location,
		Members:         []string{},
		AccountCapacity: s.opts.DefaultHallAccounts,
		ImageURL:        imageURL,
	}
	err := s.run(ctx, "create hall", func(ctx context.Context, tx *docstore.Txn) error {
		exists, err := tx.Exists(ctx, domain.CollectionHalls, location)
		if err != nil {
			return err
		}
		if exists {
			return domain.AlreadyExists("hall", location, "A hall already exists for this location")
		}
		tx.Create(domain.CollectionHalls, location, h)
		return nil
	})
	if err != nil {
		return domain.Hall{}, err
	}
	slog.Info("hall created", "location", location, "accounts", h.AccountCapacity)
	return h, nil
}

// AddHallMember adds handle to the hall, consuming one account of capacity.
// Adding an existing member is a no-op. The ticket grant for joining is the
// hall grant reaction's job.
//
// Errors: NotFound (hall or user), InvalidTransition (no capacity left).
func (s *Service) AddHallMember(ctx context.Context, location, handle string) (domain.Hall, error) {
	var h domain.Hall
	err := s.run(ctx, "add hall member", func(ctx context.Context, tx *docstore.Txn) error {
		var err error
		h, err = mustFetch[domain.Hall](ctx, tx, "hall", domain.CollectionHalls, location)
		if err != nil {
			return err
		}
		if _, err := mustFetch[domain.User](ctx, tx, "user", domain.CollectionUsers, handle); err != nil {
			return err
		}
		if h.HasMember(handle) {
			return nil
		}
		if h.AccountCapacity <= 0 {
			return domain.InvalidTransition("hall %s has no accounts left", location)
		}
		h.Members = append(h.Members, handle)
		h.AccountCapacity--
		tx.Update(domain.CollectionHalls, location, map[string]any{
			"members":  h.Members,
			"accounts": h.AccountCapacity,
		})
		return nil
	})
	if err != nil {
		return domain.Hall{}, err
	}
	slog.Info("hall member added", "location", location, "handle", handle, "accounts", h.AccountCapacity)
	return h, nil
}

// BuyHallAccounts raises a hall's account capacity by n.
func (s *Service) BuyHallAccounts(ctx context.Context, location string, n int64) (domain.Hall, error) {
	if n <= 0 {
		return domain.Hall{}, domain.InvalidArgument("account count must be positive, got %d", n)
	}
	var h domain.Hall
	err := s.run(ctx, "buy hall accounts", func(ctx context.Context, tx *docstore.Txn) error {
		var err error
		h, err = mustFetch[domain.Hall](ctx, tx, "hall", domain.CollectionHalls, location)
		if err != nil {
			return err
		}
		h.AccountCapacity += n
		tx.Update(domain.CollectionHalls, location, map[string]any{"accounts": h.AccountCapacity})
		return nil
	})
	if err != nil {
		return domain.Hall{}, err
	}
	return h, nil
}

// GetHall reads one hall.
func (s *Service) GetHall(ctx context.Context, location string) (domain.Hall, error) {
	return get[domain.Hall](ctx, s.store, "hall", domain.CollectionHalls, location)
}

// Resident is a user living in a hall's location.
type Resident struct {
	Handle   string `json:"handle"`
	ImageURL string `json:"imageUrl"`
}

// UsersByLocation lists the users whose profile location matches location,
// ignoring case.
func (s *Service) UsersByLocation(ctx context.Context, location string) ([]Resident, error) {
	users, err := s.Users(ctx)
	if err != nil {
		return nil, err
	}
	out := []Resident{}
	for _, u := range users {
		if strings.EqualFold(u.Location, location) {
			out = append(out, Resident{Handle: u.Handle, ImageURL: u.ImageURL})
		}
	}
	return out, nil
}

// MemberBooks is the number of books a hall member has listed.
type MemberBooks struct {
	User  string `json:"user"`
	Books int    `json:"books"`
}

// BooksPerMember counts the listings of each hall member, in membership
// order.
func (s *Service) BooksPerMember(ctx context.Context, location string) ([]MemberBooks, error) {
	h, err := s.GetHall(ctx, location)
	if err != nil {
		return nil, err
	}
	out := make([]MemberBooks, 0, len(h.Members))
	for _, m := range h.Members {
		books, err := s.BooksByOwner(ctx, m)
		if err != nil {
			return nil, err
		}
		out = append(out, MemberBooks{User: m, Books: len(books)})
	}
	return out, nil
}
