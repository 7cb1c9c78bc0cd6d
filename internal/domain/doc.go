// Package domain defines the shelfshare data model and the rules every other
// package enforces against it.
//
// The model has six document collections (books, requests, comments,
// notifications, users, halls) plus three marker collections used purely as
// idempotency keys (transfers, emails, grants).
//
// # Request lifecycle
//
//	pending ──accept──▶ accepted
//	   │ ──decline─▶ declined
//	   └──(cascade)─▶ rejected
//
// Terminal states are absorbing. The only way out is the availability reset on
// the book, which deletes every request rather than transitioning it.
//
// # Invariants
//
//   - at most one accepted request per book, enforced by Book.AcceptedRequest
//   - accepting a request eventually rejects every pending sibling exactly once
//   - the ticket transfer for an accepted request fires at most once
//   - a pending request has exactly one notification, removed when it leaves pending
//   - Book.Availability is provided iff an accepted request holds the book
//   - ticket balances only change in total through top-ups and hall grants
//
// Canonical JSON (RFC 8785 with NFC strings) lives here too; it is used to
// derive marker keys and to produce byte-stable snapshots.
package domain
