package domain

import "time"

// Collection names in the document store.
const (
	CollectionBooks         = "books"
	CollectionRequests      = "requests"
	CollectionComments      = "comments"
	CollectionNotifications = "notifications"
	CollectionUsers         = "users"
	CollectionHalls         = "halls"
	CollectionDesireds      = "desireds"

	// Marker collections. A document's existence is the idempotency record.
	CollectionTransfers = "transfers"
	CollectionEmails    = "emails"
	CollectionGrants    = "grants"
)

// Availability is the loan state of a book.
type Availability string

const (
	AvailabilityAvailable Availability = "available"
	AvailabilityProvided  Availability = "provided"
)

// RequestStatus is the lifecycle state of a lending request.
type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusAccepted RequestStatus = "accepted"
	StatusDeclined RequestStatus = "declined"
	StatusRejected RequestStatus = "rejected"
)

// Terminal reports whether no further transition may leave s.
func (s RequestStatus) Terminal() bool {
	switch s {
	case StatusAccepted, StatusDeclined, StatusRejected:
		return true
	}
	return false
}

// Valid reports whether s is one of the known statuses.
func (s RequestStatus) Valid() bool {
	return s == StatusPending || s.Terminal()
}

// NotificationType distinguishes what triggered a notification.
type NotificationType string

const (
	NotificationRequest NotificationType = "request"
	NotificationComment NotificationType = "comment"
)

// Book is a listed book. Availability and AcceptedRequest are never written
// directly by clients.
type Book struct {
	ID              string       `json:"bookId"`
	Owner           string       `json:"owner"`
	OwnerImage      string       `json:"ownerImage,omitempty"`
	Title           string       `json:"title"`
	Author          string       `json:"author"`
	Cover           string       `json:"cover"`
	Price           int64        `json:"price"`
	Location        string       `json:"location"`
	Availability    Availability `json:"availability"`
	RequestCount    int64        `json:"requestCount"`
	CommentCount    int64        `json:"commentCount"`
	AcceptedRequest string       `json:"acceptedRequest,omitempty"`
	PostedAt        time.Time    `json:"userPostDate"`
}

// Request is a borrower's request to borrow a book.
type Request struct {
	ID        string        `json:"requestId"`
	BookID    string        `json:"bookId"`
	BookOwner string        `json:"bookOwner"`
	Borrower  string        `json:"userHandle"`
	Title     string        `json:"title"`
	Price     int64         `json:"price"`
	Status    RequestStatus `json:"status"`
	CreatedAt time.Time     `json:"createdAt"`
}

// Notification tells Recipient that Sender did something to BookID. Its ID
// is the id of the triggering request or comment.
type Notification struct {
	ID        string           `json:"notificationId"`
	Recipient string           `json:"recipient"`
	Sender    string           `json:"sender"`
	Type      NotificationType `json:"type"`
	BookID    string           `json:"bookId"`
	Read      bool             `json:"read"`
	CreatedAt time.Time        `json:"createdAt"`
}

// User is a member profile keyed by handle.
//
// ReservedTickets is the part of TicketBalance held for accepted requests
// whose transfer has not run yet. Only the rest can back a new acceptance.
type User struct {
	Handle          string    `json:"handle"`
	Email           string    `json:"email"`
	Location        string    `json:"location"`
	TicketBalance   int64     `json:"tickets"`
	ReservedTickets int64     `json:"reservedTickets,omitempty"`
	ImageURL        string    `json:"imageUrl"`
	CreatedAt       time.Time `json:"createdAt"`
}

// SpendableTickets is the balance not held for pending transfers.
func (u User) SpendableTickets() int64 {
	return u.TicketBalance - u.ReservedTickets
}

// Hall is a location-scoped cooperative. Adding a member consumes one unit
// of AccountCapacity.
type Hall struct {
	Location        string   `json:"location"`
	Members         []string `json:"members"`
	AccountCapacity int64    `json:"accounts"`
	ImageURL        string   `json:"imageUrl,omitempty"`
}

// HasMember reports whether handle belongs to the hall.
func (h Hall) HasMember(handle string) bool {
	for _, m := range h.Members {
		if m == handle {
			return true
		}
	}
	return false
}

// Comment is a remark left on a book.
type Comment struct {
	ID        string    `json:"commentId"`
	BookID    string    `json:"bookId"`
	Author    string    `json:"userHandle"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

// Desired is a wishlist entry: Handle wants BookID once it is back on the
// shelf. Entries can only be added while the book is on loan.
type Desired struct {
	ID        string    `json:"desiredId"`
	BookID    string    `json:"bookId"`
	BookOwner string    `json:"bookOwner"`
	Handle    string    `json:"userHandle"`
	Title     string    `json:"title"`
	Author    string    `json:"author"`
	Cover     string    `json:"cover"`
	CreatedAt time.Time `json:"createdAt"`
}

// TransferOutcome records what the ticket transfer for a request did.
type TransferOutcome string

const (
	TransferApplied   TransferOutcome = "applied"
	TransferShortfall TransferOutcome = "shortfall"
)

// Transfer is the marker written once per accepted request.
type Transfer struct {
	RequestID string          `json:"requestId"`
	Borrower  string          `json:"borrower"`
	Owner     string          `json:"owner"`
	Amount    int64           `json:"amount"`
	Outcome   TransferOutcome `json:"outcome"`
	CreatedAt time.Time       `json:"createdAt"`
}

// EmailDispatch is the marker claimed before confirmation emails go out.
type EmailDispatch struct {
	RequestID  string    `json:"requestId"`
	Recipients []string  `json:"recipients"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Grant is the marker for tickets granted on joining a hall.
type Grant struct {
	Location  string    `json:"location"`
	Handle    string    `json:"handle"`
	Amount    int64     `json:"amount"`
	CreatedAt time.Time `json:"createdAt"`
}
