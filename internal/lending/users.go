package lending

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/shelfshare/internal/docstore"
	"github.com/roach88/shelfshare/internal/domain"
)

// NewUser is the profile a member signs up with.
type NewUser struct {
	Handle   string `json:"handle" yaml:"handle"`
	Email    string `json:"email" yaml:"email"`
	Location string `json:"location" yaml:"location"`
	ImageURL string `json:"imageUrl" yaml:"imageUrl"`
	// Tickets overrides the opening balance when positive.
	Tickets int64 `json:"tickets,omitempty" yaml:"tickets"`
}

// CreateUser registers a member with the opening ticket balance.
// Errors: AlreadyExists when the handle is taken.
func (s *Service) CreateUser(ctx context.Context, nu NewUser) (domain.User, error) {
	nu.Handle = strings.TrimSpace(nu.Handle)
	if nu.Handle == "" {
		return domain.User{}, domain.InvalidArgument("handle must not be empty")
	}
	if nu.Tickets < 0 {
		return domain.User{}, domain.InvalidArgument("tickets must not be negative, got %d", nu.Tickets)
	}
	tickets := nu.Tickets
	if tickets == 0 {
		tickets = s.opts.DefaultTickets
	}

	var u domain.User
	err := s.run(ctx, "create user", func(ctx context.Context, tx *docstore.Txn) error {
		exists, err := tx.Exists(ctx, domain.CollectionUsers, nu.Handle)
		if err != nil {
			return err
		}
		if exists {
			return domain.AlreadyExists("user", nu.Handle, "This handle is already taken")
		}
		u = domain.User{
			Handle:        nu.Handle,
			Email:         nu.Email,
			Location:      nu.Location,
			TicketBalance: tickets,
			ImageURL:      nu.ImageURL,
			CreatedAt:     s.clock.Now(),
		}
		tx.Create(domain.CollectionUsers, nu.Handle, u)
		return nil
	})
	if err != nil {
		return domain.User{}, err
	}
	slog.Info("user created", "handle", u.Handle, "tickets", u.TicketBalance)
	return u, nil
}

// ProfileUpdate carries the profile fields a user may change. Nil fields are
// left alone.
type ProfileUpdate struct {
	Location *string `json:"location,omitempty"`
	ImageURL *string `json:"imageUrl,omitempty"`
	Email    *string `json:"email,omitempty"`
}

// UpdateProfile changes a user's own profile. Location and image changes
// reach the user's books through the profile propagation reaction.
func (s *Service) UpdateProfile(ctx context.Context, handle string, p ProfileUpdate) (domain.User, error) {
	var u domain.User
	err := s.run(ctx, "update profile", func(ctx context.Context, tx *docstore.Txn) error {
		var err error
		u, err = mustFetch[domain.User](ctx, tx, "user", domain.CollectionUsers, handle)
		if err != nil {
			return err
		}
		fields := map[string]any{}
		if p.Location != nil {
			fields["location"] = *p.Location
			u.Location = *p.Location
		}
		if p.ImageURL != nil {
			fields["imageUrl"] = *p.ImageURL
			u.ImageURL = *p.ImageURL
		}
		if p.Email != nil {
			fields["email"] = *p.Email
			u.Email = *p.Email
		}
		if len(fields) > 0 {
			tx.Update(domain.CollectionUsers, handle, fields)
		}
		return nil
	})
	if err != nil {
		return domain.User{}, err
	}
	return u, nil
}

// TopUp adds tickets to a user's balance. This is the administrative
// top-up; lending itself never creates or destroys tickets.
func (s *Service) TopUp(ctx context.Context, handle string, amount int64) (domain.User, error) {
	if amount <= 0 {
		return domain.User{}, domain.InvalidArgument("top-up amount must be positive, got %d", amount)
	}

	var u domain.User
	err := s.run(ctx, "top up", func(ctx context.Context, tx *docstore.Txn) error {
		var err error
		u, err = mustFetch[domain.User](ctx, tx, "user", domain.CollectionUsers, handle)
		if err != nil {
			return err
		}
		u.TicketBalance += amount
		tx.Update(domain.CollectionUsers, handle, map[string]any{"tickets": u.TicketBalance})
		return nil
	})
	if err != nil {
		return domain.User{}, err
	}
	slog.Info("tickets topped up", "handle", handle, "amount", amount, "balance", u.TicketBalance)
	return u, nil
}

// GetUser reads one user.
func (s *Service) GetUser(ctx context.Context, handle string) (domain.User, error) {
	return get[domain.User](ctx, s.store, "user", domain.CollectionUsers, handle)
}

// MarkNotificationsRead marks the listed notifications of actor read, all
// or nothing.
func (s *Service) MarkNotificationsRead(ctx context.Context, actor string, ids []string) error {
	start := time.Now()
	err := s.ledger.MarkRead(ctx, actor, ids)
	s.observer.OperationFinished("mark notifications read", err, time.Since(start))
	return err
}

// Notifications lists actor's notifications, newest first.
func (s *Service) Notifications(ctx context.Context, actor string) ([]domain.Notification, error) {
	return s.ledger.ForRecipient(ctx, actor)
}

// Users lists every user by handle.
func (s *Service) Users(ctx context.Context) ([]domain.User, error) {
	docs, err := s.store.Query(ctx, docstore.Query{Collection: domain.CollectionUsers})
	if err != nil {
		return nil, domain.WrapStore("list users", err)
	}
	return docstore.DecodeAll[domain.User](docs)
}
