package lending

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/shelfshare/internal/docstore"
	"github.com/roach88/shelfshare/internal/domain"
	"github.com/roach88/shelfshare/internal/ledger"
	"github.com/roach88/shelfshare/internal/testutil"
)

type recordingObserver struct {
	mu  sync.Mutex
	ops map[string][]domain.ErrorCode
}

func (o *recordingObserver) OperationFinished(op string, err error, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ops == nil {
		o.ops = map[string][]domain.ErrorCode{}
	}
	o.ops[op] = append(o.ops[op], domain.CodeOf(err))
}

func newTestService(t *testing.T, opts ...Option) (*Service, *docstore.Store) {
	t.Helper()
	clock := testutil.NewSteppingClock(time.Second)
	s, err := docstore.Open(filepath.Join(t.TempDir(), "lending.db"), docstore.WithClock(clock))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	opts = append([]Option{WithClock(clock), WithIDs(testutil.NewSequenceIDs("id"))}, opts...)
	return New(s, opts...), s
}

func ledgerEntry(eventID, recipient string) ledger.Entry {
	return ledger.Entry{EventID: eventID, Recipient: recipient, Sender: "cy", Type: domain.NotificationRequest, BookID: "b1"}
}

// seed creates ann (owner), bob and cy, and a book owned by ann.
func seed(t *testing.T, svc *Service) domain.Book {
	t.Helper()
	ctx := t.Context()
	for _, h := range []string{"ann", "bob", "cy"} {
		_, err := svc.CreateUser(ctx, NewUser{Handle: h, Location: "Oviedo"})
		require.NoError(t, err)
	}
	book, err := svc.PostBook(ctx, "ann", NewBook{Title: "Dune", Author: "Herbert", Price: 3})
	require.NoError(t, err)
	return book
}

func TestSubmitRequest_CreatesPending(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := t.Context()
	book := seed(t, svc)

	req, err := svc.SubmitRequest(ctx, book.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, req.Status)
	assert.Equal(t, "ann", req.BookOwner)
	assert.Equal(t, "bob", req.Borrower)
	assert.Equal(t, int64(3), req.Price)
	assert.Equal(t, "Dune", req.Title)

	stored, err := svc.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, req.ID, stored.ID)
	assert.Equal(t, domain.StatusPending, stored.Status)

	got, err := svc.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.RequestCount)
	assert.Equal(t, domain.AvailabilityAvailable, got.Availability)
}

func TestSubmitRequest_Errors(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := t.Context()
	book := seed(t, svc)

	_, err := svc.SubmitRequest(ctx, book.ID, "bob")
	require.NoError(t, err)

	tests := []struct {
		name     string
		bookID   string
		borrower string
		check    func(error) bool
	}{
		{"unknown book", "missing", "bob", domain.IsNotFound},
		{"own book", book.ID, "ann", domain.IsUnauthorized},
		{"unknown borrower", book.ID, "zed", domain.IsNotFound},
		{"duplicate pending", book.ID, "bob", domain.IsAlreadyExists},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.SubmitRequest(ctx, tt.bookID, tt.borrower)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error: %v", err)
		})
	}

	got, err := svc.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.RequestCount, "failed submissions must not touch the counter")
}

func TestSubmitRequest_AfterDeclineAllowed(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := t.Context()
	book := seed(t, svc)

	first, err := svc.SubmitRequest(ctx, book.ID, "bob")
	require.NoError(t, err)
	_, err = svc.Decide(ctx, "ann", first.ID, "declined")
	require.NoError(t, err)

	second, err := svc.SubmitRequest(ctx, book.ID, "bob")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestSubmitRequest_BookOnLoan(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := t.Context()
	book := seed(t, svc)

	req, err := svc.SubmitRequest(ctx, book.ID, "bob")
	require.NoError(t, err)
	_, err = svc.Decide(ctx, "ann", req.ID, "accepted")
	require.NoError(t, err)

	_, err = svc.SubmitRequest(ctx, book.ID, "cy")
	assert.True(t, domain.IsInvalidTransition(err), "got %v", err)
}

func TestSubmitRequest_ConcurrentDuplicates(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := t.Context()
	book := seed(t, svc)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.SubmitRequest(ctx, book.ID, "bob")
		}()
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.True(t, domain.IsAlreadyExists(err), "got %v", err)
	}
	assert.Equal(t, 1, ok)

	reqs, err := svc.RequestsForBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Len(t, reqs, 1)

	got, err := svc.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.RequestCount)
}

func TestDecide_Accept(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := t.Context()
	book := seed(t, svc)
	req, err := svc.SubmitRequest(ctx, book.ID, "bob")
	require.NoError(t, err)

	decided, err := svc.Decide(ctx, "ann", req.ID, "accepted")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAccepted, decided.Status)

	got, err := svc.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, req.ID, got.AcceptedRequest)
	// Availability is the cascade's job.
	assert.Equal(t, domain.AvailabilityAvailable, got.Availability)

	// Balances are untouched until the transfer reaction runs.
	bob, err := svc.GetUser(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(DefaultTickets), bob.TicketBalance)
}

func TestDecide_Decline(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := t.Context()
	book := seed(t, svc)
	req, err := svc.SubmitRequest(ctx, book.ID, "bob")
	require.NoError(t, err)

	decided, err := svc.Decide(ctx, "ann", req.ID, "declined")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDeclined, decided.Status)

	got, err := svc.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Empty(t, got.AcceptedRequest)
}

func TestDecide_Errors(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := t.Context()
	book := seed(t, svc)
	req, err := svc.SubmitRequest(ctx, book.ID, "bob")
	require.NoError(t, err)

	_, err = svc.Decide(ctx, "ann", "missing", "accepted")
	assert.True(t, domain.IsNotFound(err), "got %v", err)

	_, err = svc.Decide(ctx, "bob", req.ID, "accepted")
	assert.True(t, domain.IsUnauthorized(err), "got %v", err)

	_, err = svc.Decide(ctx, "ann", req.ID, "rejected")
	assert.True(t, domain.IsInvalidTransition(err), "clients cannot reject: %v", err)

	_, err = svc.Decide(ctx, "ann", req.ID, "declined")
	require.NoError(t, err)

	_, err = svc.Decide(ctx, "ann", req.ID, "accepted")
	assert.True(t, domain.IsInvalidTransition(err), "terminal states are absorbing: %v", err)
}

func TestDecide_AcceptNeedsBalance(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := t.Context()
	_, err := svc.CreateUser(ctx, NewUser{Handle: "ann"})
	require.NoError(t, err)
	_, err = svc.CreateUser(ctx, NewUser{Handle: "bob", Tickets: 2})
	require.NoError(t, err)
	book, err := svc.PostBook(ctx, "ann", NewBook{Title: "Dune", Price: 3})
	require.NoError(t, err)
	req, err := svc.SubmitRequest(ctx, book.ID, "bob")
	require.NoError(t, err)

	_, err = svc.Decide(ctx, "ann", req.ID, "accepted")
	assert.True(t, domain.IsInvalidTransition(err), "got %v", err)

	_, err = svc.TopUp(ctx, "bob", 1)
	require.NoError(t, err)
	_, err = svc.Decide(ctx, "ann", req.ID, "accepted")
	require.NoError(t, err)

	bob, err := svc.GetUser(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(3), bob.TicketBalance, "the debit is left to the transfer reaction")
	assert.Equal(t, int64(3), bob.ReservedTickets)
	assert.Zero(t, bob.SpendableTickets())
}

func TestDecide_ConcurrentAcceptsOneWins(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := t.Context()
	book := seed(t, svc)

	r1, err := svc.SubmitRequest(ctx, book.ID, "bob")
	require.NoError(t, err)
	r2, err := svc.SubmitRequest(ctx, book.ID, "cy")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []string{r1.ID, r2.ID} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.Decide(ctx, "ann", id, "accepted")
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, domain.IsInvalidTransition(err), "loser must see InvalidTransition: %v", err)
	}
	assert.Equal(t, 1, succeeded)

	reqs, err := svc.RequestsForBook(ctx, book.ID)
	require.NoError(t, err)
	accepted := 0
	for _, r := range reqs {
		if r.Status == domain.StatusAccepted {
			accepted++
		}
	}
	assert.Equal(t, 1, accepted)
}

func TestCancel(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := t.Context()
	book := seed(t, svc)
	req, err := svc.SubmitRequest(ctx, book.ID, "bob")
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, "cy", req.ID)
	assert.True(t, domain.IsUnauthorized(err), "got %v", err)

	cancelled, err := svc.Cancel(ctx, "bob", req.ID)
	require.NoError(t, err)
	assert.Equal(t, req.ID, cancelled.ID)

	_, err = svc.GetRequest(ctx, req.ID)
	assert.True(t, domain.IsNotFound(err))

	got, err := svc.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.RequestCount)

	_, err = svc.Cancel(ctx, "bob", req.ID)
	assert.True(t, domain.IsNotFound(err), "got %v", err)
}

func TestCancel_DecidedRequest(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := t.Context()
	book := seed(t, svc)
	req, err := svc.SubmitRequest(ctx, book.ID, "bob")
	require.NoError(t, err)
	_, err = svc.Decide(ctx, "ann", req.ID, "accepted")
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, "bob", req.ID)
	assert.True(t, domain.IsInvalidTransition(err), "got %v", err)
}

func TestCancel_CounterFloor(t *testing.T) {
	svc, s := newTestService(t)
	ctx := t.Context()
	book := seed(t, svc)
	req, err := svc.SubmitRequest(ctx, book.ID, "bob")
	require.NoError(t, err)

	require.NoError(t, s.Commit(ctx, docstore.Update(domain.CollectionBooks, book.ID, map[string]any{"requestCount": 0})))

	_, err = svc.Cancel(ctx, "bob", req.ID)
	require.NoError(t, err)
	got, err := svc.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.RequestCount)
}

func TestResetAvailability(t *testing.T) {
	svc, s := newTestService(t)
	ctx := t.Context()
	book := seed(t, svc)

	_, err := svc.ResetAvailability(ctx, "ann", book.ID)
	assert.True(t, domain.IsInvalidTransition(err), "available book cannot be reset: %v", err)

	r1, err := svc.SubmitRequest(ctx, book.ID, "bob")
	require.NoError(t, err)
	_, err = svc.SubmitRequest(ctx, book.ID, "cy")
	require.NoError(t, err)
	_, err = svc.Decide(ctx, "ann", r1.ID, "accepted")
	require.NoError(t, err)
	require.NoError(t, s.Commit(ctx, docstore.Update(domain.CollectionBooks, book.ID, map[string]any{
		"availability": string(domain.AvailabilityProvided),
	})))

	_, err = svc.ResetAvailability(ctx, "bob", book.ID)
	assert.True(t, domain.IsUnauthorized(err), "got %v", err)

	reset, err := svc.ResetAvailability(ctx, "ann", book.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AvailabilityAvailable, reset.Availability)

	got, err := svc.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AvailabilityAvailable, got.Availability)
	assert.Empty(t, got.AcceptedRequest)
	assert.Equal(t, int64(0), got.RequestCount)

	reqs, err := svc.RequestsForBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Empty(t, reqs)

	// The book can be lent again.
	_, err = svc.SubmitRequest(ctx, book.ID, "cy")
	assert.NoError(t, err)
}

func TestPostBook(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := t.Context()
	_, err := svc.CreateUser(ctx, NewUser{Handle: "ann", Location: "Gijon", ImageURL: "ann.png"})
	require.NoError(t, err)

	book, err := svc.PostBook(ctx, "ann", NewBook{Title: "  Dune  "})
	require.NoError(t, err)
	assert.Equal(t, "Dune", book.Title)
	assert.Equal(t, int64(DefaultPrice), book.Price)
	assert.Equal(t, DefaultCover, book.Cover)
	assert.Equal(t, "Gijon", book.Location)
	assert.Equal(t, "ann.png", book.OwnerImage)
	assert.Equal(t, domain.AvailabilityAvailable, book.Availability)
	assert.Zero(t, book.RequestCount)
	assert.Zero(t, book.CommentCount)

	books, err := svc.BooksByOwner(ctx, "ann")
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, book.ID, books[0].ID)

	_, err = svc.PostBook(ctx, "ann", NewBook{Title: " "})
	assert.True(t, domain.IsInvalidArgument(err))
	_, err = svc.PostBook(ctx, "ann", NewBook{Title: "x", Price: -1})
	assert.True(t, domain.IsInvalidArgument(err))
	_, err = svc.PostBook(ctx, "zed", NewBook{Title: "x"})
	assert.True(t, domain.IsNotFound(err))
}

func TestDeleteBook(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := t.Context()
	book := seed(t, svc)

	err := svc.DeleteBook(ctx, "bob", book.ID)
	assert.True(t, domain.IsUnauthorized(err))

	require.NoError(t, svc.DeleteBook(ctx, "ann", book.ID))
	_, err = svc.GetBook(ctx, book.ID)
	assert.True(t, domain.IsNotFound(err))

	err = svc.DeleteBook(ctx, "ann", book.ID)
	assert.True(t, domain.IsNotFound(err))
}

func TestComment(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := t.Context()
	book := seed(t, svc)

	c, err := svc.Comment(ctx, "bob", book.ID, "is it signed?")
	require.NoError(t, err)
	assert.Equal(t, "bob", c.Author)
	assert.Equal(t, book.ID, c.BookID)

	_, err = svc.Comment(ctx, "cy", book.ID, "nice")
	require.NoError(t, err)

	got, err := svc.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.CommentCount)

	_, err = svc.Comment(ctx, "bob", book.ID, "")
	assert.True(t, domain.IsInvalidArgument(err))
	_, err = svc.Comment(ctx, "bob", "missing", "hi")
	assert.True(t, domain.IsNotFound(err))
}

func TestCreateUser(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := t.Context()

	u, err := svc.CreateUser(ctx, NewUser{Handle: "ann", Email: "ann@example.com"})
	require.NoError(t, err)
	assert.Equal(t, int64(DefaultTickets), u.TicketBalance)

	_, err = svc.CreateUser(ctx, NewUser{Handle: "ann"})
	assert.True(t, domain.IsAlreadyExists(err))

	_, err = svc.CreateUser(ctx, NewUser{Handle: ""})
	assert.True(t, domain.IsInvalidArgument(err))

	users, err := svc.Users(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestUpdateProfile(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := t.Context()
	_, err := svc.CreateUser(ctx, NewUser{Handle: "ann", Location: "Gijon", Email: "a@x"})
	require.NoError(t, err)

	loc := "Oviedo"
	u, err := svc.UpdateProfile(ctx, "ann", ProfileUpdate{Location: &loc})
	require.NoError(t, err)
	assert.Equal(t, "Oviedo", u.Location)
	assert.Equal(t, "a@x", u.Email)

	stored, err := svc.GetUser(ctx, "ann")
	require.NoError(t, err)
	assert.Equal(t, "Oviedo", stored.Location)

	_, err = svc.UpdateProfile(ctx, "zed", ProfileUpdate{Location: &loc})
	assert.True(t, domain.IsNotFound(err))
}

func TestTopUp(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := t.Context()
	_, err := svc.CreateUser(ctx, NewUser{Handle: "ann"})
	require.NoError(t, err)

	u, err := svc.TopUp(ctx, "ann", 25)
	require.NoError(t, err)
	assert.Equal(t, int64(DefaultTickets+25), u.TicketBalance)

	_, err = svc.TopUp(ctx, "ann", 0)
	assert.True(t, domain.IsInvalidArgument(err))
	_, err = svc.TopUp(ctx, "zed", 5)
	assert.True(t, domain.IsNotFound(err))
}

func TestHalls(t *testing.T) {
	svc, _ := newTestService(t, WithOptions(Options{DefaultHallAccounts: 1}))
	ctx := t.Context()
	seed(t, svc)

	h, err := svc.CreateHall(ctx, "Oviedo", "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), h.AccountCapacity)

	_, err = svc.CreateHall(ctx, "Oviedo", "")
	assert.True(t, domain.IsAlreadyExists(err))

	h, err = svc.AddHallMember(ctx, "Oviedo", "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, h.Members)
	assert.Equal(t, int64(0), h.AccountCapacity)

	// Re-adding is a no-op and consumes nothing.
	h, err = svc.AddHallMember(ctx, "Oviedo", "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(0), h.AccountCapacity)

	_, err = svc.AddHallMember(ctx, "Oviedo", "cy")
	assert.True(t, domain.IsInvalidTransition(err), "got %v", err)

	_, err = svc.BuyHallAccounts(ctx, "Oviedo", 2)
	require.NoError(t, err)
	h, err = svc.AddHallMember(ctx, "Oviedo", "cy")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob", "cy"}, h.Members)
	assert.Equal(t, int64(1), h.AccountCapacity)

	stored, err := svc.GetHall(ctx, "Oviedo")
	require.NoError(t, err)
	assert.Equal(t, h, stored)

	_, err = svc.AddHallMember(ctx, "Gijon", "cy")
	assert.True(t, domain.IsNotFound(err))
	_, err = svc.AddHallMember(ctx, "Oviedo", "zed")
	assert.True(t, domain.IsNotFound(err))
}

func TestMarkNotificationsRead(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := t.Context()

	_, err := svc.Ledger().UpsertForEvent(ctx, ledgerEntry("r1", "ann"))
	require.NoError(t, err)
	_, err = svc.Ledger().UpsertForEvent(ctx, ledgerEntry("r2", "bob"))
	require.NoError(t, err)

	err = svc.MarkNotificationsRead(ctx, "ann", []string{"r1", "r2"})
	assert.True(t, domain.IsUnauthorized(err))

	require.NoError(t, svc.MarkNotificationsRead(ctx, "ann", []string{"r1"}))
	ns, err := svc.Notifications(ctx, "ann")
	require.NoError(t, err)
	require.Len(t, ns, 1)
	assert.True(t, ns[0].Read)
}

func TestObserver(t *testing.T) {
	obs := &recordingObserver{}
	svc, _ := newTestService(t, WithObserver(obs))
	ctx := t.Context()
	book := seed(t, svc)

	_, err := svc.SubmitRequest(ctx, book.ID, "bob")
	require.NoError(t, err)
	_, err = svc.SubmitRequest(ctx, book.ID, "bob")
	require.Error(t, err)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, []domain.ErrorCode{"", domain.CodeAlreadyExists}, obs.ops["submit request"])
	assert.Len(t, obs.ops["create user"], 3)
}

func TestRun_WrapsStoreFailures(t *testing.T) {
	svc, s := newTestService(t)
	require.NoError(t, s.Close())

	_, err := svc.GetUser(context.Background(), "ann")
	assert.True(t, domain.IsTransient(err), "got %v", err)

	_, err = svc.TopUp(context.Background(), "ann", 1)
	assert.True(t, domain.IsTransient(err), "got %v", err)
}

func TestBookListings(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := t.Context()
	dune := seed(t, svc)
	_, err := svc.CreateUser(ctx, NewUser{Handle: "eve", Location: "Gijon"})
	require.NoError(t, err)
	emma, err := svc.PostBook(ctx, "eve", NewBook{Title: "Emma"})
	require.NoError(t, err)

	all, err := svc.Books(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, emma.ID, all[0].ID, "newest first")
	assert.Equal(t, dune.ID, all[1].ID)

	local, err := svc.BooksByLocation(ctx, "Gijon")
	require.NoError(t, err)
	require.Len(t, local, 1)
	assert.Equal(t, emma.ID, local[0].ID)

	none, err := svc.BooksByLocation(ctx, "Leon")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestUsersByLocation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := t.Context()
	seed(t, svc)
	_, err := svc.CreateUser(ctx, NewUser{Handle: "dee", Location: "oviedo", ImageURL: "dee.png"})
	require.NoError(t, err)
	_, err = svc.CreateUser(ctx, NewUser{Handle: "eve", Location: "Gijon"})
	require.NoError(t, err)

	residents, err := svc.UsersByLocation(ctx, "OVIEDO")
	require.NoError(t, err)
	handles := make([]string, 0, len(residents))
	for _, r := range residents {
		handles = append(handles, r.Handle)
	}
	assert.ElementsMatch(t, []string{"ann", "bob", "cy", "dee"}, handles)
	assert.Contains(t, residents, Resident{Handle: "dee", ImageURL: "dee.png"})

	residents, err = svc.UsersByLocation(ctx, "Leon")
	require.NoError(t, err)
	assert.NotNil(t, residents)
	assert.Empty(t, residents)
}

func TestBooksPerMember(t *testing.T) {
	svc, _ := newTestService(t, WithOptions(Options{DefaultHallAccounts: 5}))
	ctx := t.Context()
	seed(t, svc)
	_, err := svc.PostBook(ctx, "ann", NewBook{Title: "Emma"})
	require.NoError(t, err)

	_, err = svc.CreateHall(ctx, "Oviedo", "")
	require.NoError(t, err)
	_, err = svc.AddHallMember(ctx, "Oviedo", "bob")
	require.NoError(t, err)
	_, err = svc.AddHallMember(ctx, "Oviedo", "ann")
	require.NoError(t, err)

	stats, err := svc.BooksPerMember(ctx, "Oviedo")
	require.NoError(t, err)
	assert.Equal(t, []MemberBooks{{User: "bob", Books: 0}, {User: "ann", Books: 2}}, stats)

	_, err = svc.BooksPerMember(ctx, "Gijon")
	assert.True(t, domain.IsNotFound(err), "got %v", err)
}

// lend marks book as on loan without going through the cascade.
func lend(t *testing.T, s *docstore.Store, bookID string) {
	t.Helper()
	require.NoError(t, s.Commit(t.Context(), docstore.Update(domain.CollectionBooks, bookID, map[string]any{
		"availability": string(domain.AvailabilityProvided),
	})))
}

func TestDesireds(t *testing.T) {
	svc, s := newTestService(t)
	ctx := t.Context()
	dune := seed(t, svc)
	emma, err := svc.PostBook(ctx, "ann", NewBook{Title: "Emma", Author: "Austen"})
	require.NoError(t, err)

	_, err = svc.AddDesired(ctx, "cy", dune.ID)
	assert.True(t, domain.IsInvalidTransition(err), "available books cannot be desired: %v", err)

	lend(t, s, dune.ID)
	lend(t, s, emma.ID)

	d, err := svc.AddDesired(ctx, "cy", dune.ID)
	require.NoError(t, err)
	key, err := domain.DesiredKey("cy", dune.ID)
	require.NoError(t, err)
	assert.Equal(t, key, d.ID)
	assert.Equal(t, "ann", d.BookOwner)
	assert.Equal(t, "Dune", d.Title)
	assert.Equal(t, "Herbert", d.Author)

	_, err = svc.AddDesired(ctx, "cy", emma.ID)
	require.NoError(t, err)

	list, err := svc.Desireds(ctx, "cy")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, emma.ID, list[0].BookID, "newest first")
	assert.Equal(t, dune.ID, list[1].BookID)

	others, err := svc.Desireds(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, others)

	require.NoError(t, svc.RemoveDesired(ctx, "cy", dune.ID))
	list, err = svc.Desireds(ctx, "cy")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, emma.ID, list[0].BookID)
}

func TestDesireds_Errors(t *testing.T) {
	svc, s := newTestService(t)
	ctx := t.Context()
	book := seed(t, svc)
	lend(t, s, book.ID)
	_, err := svc.AddDesired(ctx, "bob", book.ID)
	require.NoError(t, err)

	tests := []struct {
		name   string
		handle string
		bookID string
		check  func(error) bool
	}{
		{"unknown book", "cy", "missing", domain.IsNotFound},
		{"own book", "ann", book.ID, domain.IsUnauthorized},
		{"unknown user", "zed", book.ID, domain.IsNotFound},
		{"already desired", "bob", book.ID, domain.IsAlreadyExists},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.AddDesired(ctx, tt.handle, tt.bookID)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error: %v", err)
		})
	}

	err = svc.RemoveDesired(ctx, "cy", book.ID)
	assert.True(t, domain.IsInvalidArgument(err), "got %v", err)
	err = svc.RemoveDesired(ctx, "cy", "missing")
	assert.True(t, domain.IsNotFound(err), "got %v", err)
}
