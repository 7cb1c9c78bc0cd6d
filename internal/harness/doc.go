// Package harness runs lending scenarios end to end.
//
// A scenario drives the lending service through a list of steps, delivers
// every change to the cascade reactions, and checks the settled store.
//
// # Scenario Format
//
//	name: accept_flow
//	description: "What this scenario validates"
//	setup:
//	  - action: create_user
//	    args: { handle: ann, tickets: 10 }
//	flow:
//	  - action: submit_request
//	    actor: bob
//	    args: { book: $dune }
//	    as: bob_req
//	    expect:
//	      result: { status: pending }
//	  - action: accept
//	    actor: ann
//	    args: { request: $bob_req }
//	assertions:
//	  - type: document
//	    collection: books
//	    id: $dune
//	    expect: { availability: provided }
//
// A string value starting with "$" refers to the id bound by an earlier
// step's "as". The change feed is drained after setup, after every "deliver"
// step and after the flow, so assertions see the converged state.
//
// # Assertion Types
//
//   - document: a document exists and its fields match (subset)
//   - absent: a document does not exist
//   - count: number of documents in a collection matching where
//   - tickets_total: sum of every user's ticket balance
//   - mail_count: number of emails sent
//   - settled: the reconcile sweep finds nothing and the outbox is empty
//
// # Deterministic Runs
//
// Every run uses a fresh in-memory store, a frozen clock and sequential ids
// ("id-0001", ...), so the golden snapshot of a scenario is byte-stable.
package harness
