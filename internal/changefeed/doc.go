// Package changefeed delivers committed document changes to registered
// reactions.
//
// ARCHITECTURE:
//
// The document store appends every committed mutation to its outbox. The
// Dispatcher turns that log into deliveries:
//
//  1. fan-out: each undispatched change gets one delivery row per matching
//     subscriber (idempotent via UNIQUE(change_seq, subscriber))
//  2. run: due deliveries are handed to a bounded worker pool
//  3. settle: success marks the delivery done; failure reschedules it with
//     capped exponential backoff until the attempt budget is spent, then it
//     is parked as dead for manual reconciliation
//
// Delivery is at-least-once and unordered. The same change may reach
// different subscribers concurrently and in any order, and a subscriber may
// see the same change more than once (a crash between running the handler
// and recording success redelivers it). Handlers must be idempotent.
//
// The loop wakes on store commits and on a poll interval, so deliveries
// scheduled for later are picked up without a commit.
package changefeed
