package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/shelfshare/internal/docstore"
	"github.com/roach88/shelfshare/internal/domain"
	"github.com/roach88/shelfshare/internal/reconcile"
)

// AssertionError describes a failed assertion.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("expected %s, actual %s", e.Expected, e.Actual)
}

func (h *Harness) evaluate(ctx context.Context, a Assertion) error {
	switch a.Type {
	case AssertDocument:
		return h.assertDocument(ctx, a)
	case AssertAbsent:
		return h.assertAbsent(ctx, a)
	case AssertCount:
		return h.assertCount(ctx, a)
	case AssertTicketsTotal:
		return h.assertTicketsTotal(ctx, a)
	case AssertMailCount:
		if n := len(h.mail.Sent()); n != a.Count {
			return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%d emails", a.Count), Actual: fmt.Sprintf("%d emails", n)}
		}
		return nil
	case AssertSettled:
		return h.assertSettled(ctx)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

func (h *Harness) docFields(ctx context.Context, collection, rawID string) (map[string]any, string, error) {
	id, err := h.resolveString(rawID)
	if err != nil {
		return nil, "", err
	}
	doc, err := h.store.Get(ctx, collection, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, id, nil
	}
	if err != nil {
		return nil, id, err
	}
	fields := map[string]any{}
	if err := json.Unmarshal(doc.Data, &fields); err != nil {
		return nil, id, fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	return fields, id, nil
}

func (h *Harness) assertDocument(ctx context.Context, a Assertion) error {
	fields, id, err := h.docFields(ctx, a.Collection, a.ID)
	if err != nil {
		return err
	}
	if fields == nil {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("document %s/%s", a.Collection, id), Actual: "not found"}
	}
	for _, key := range sortedKeys(a.Expect) {
		expected, err := h.resolve(a.Expect[key])
		if err != nil {
			return err
		}
		if !valuesEqual(expected, fields[key]) {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%s/%s %s = %v", a.Collection, id, key, expected),
				Actual:   fmt.Sprintf("%v", fields[key]),
			}
		}
	}
	return nil
}

func (h *Harness) assertAbsent(ctx context.Context, a Assertion) error {
	fields, id, err := h.docFields(ctx, a.Collection, a.ID)
	if err != nil {
		return err
	}
	if fields != nil {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("no document %s/%s", a.Collection, id), Actual: "present"}
	}
	return nil
}

func (h *Harness) assertCount(ctx context.Context, a Assertion) error {
	q := docstore.Query{Collection: a.Collection}
	for _, key := range sortedKeys(a.Where) {
		v, err := h.resolve(a.Where[key])
		if err != nil {
			return err
		}
		q.Filters = append(q.Filters, docstore.Eq(key, fmt.Sprint(v)))
	}
	docs, err := h.store.Query(ctx, q)
	if err != nil {
		return err
	}
	if len(docs) != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d documents in %s where %s", a.Count, a.Collection, formatWhere(a.Where)),
			Actual:   fmt.Sprintf("%d", len(docs)),
		}
	}
	return nil
}

func (h *Harness) assertTicketsTotal(ctx context.Context, a Assertion) error {
	users, err := h.svc.Users(ctx)
	if err != nil {
		return err
	}
	var total int64
	for _, u := range users {
		total += u.TicketBalance
	}
	if total != a.Total {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%d tickets in circulation", a.Total), Actual: fmt.Sprintf("%d", total)}
	}
	return nil
}

func (h *Harness) assertSettled(ctx context.Context) error {
	rep, err := reconcile.NewSweeper(h.store).Sweep(ctx)
	if err != nil {
		return err
	}
	if !rep.Settled() || !rep.Clean() {
		parts := make([]string, 0, len(rep.Findings))
		for _, f := range rep.Findings {
			parts = append(parts, fmt.Sprintf("%s %s", f.Kind, f.Path))
		}
		return &AssertionError{
			Type:     AssertSettled,
			Expected: "clean settled store",
			Actual:   fmt.Sprintf("pending=%d findings=[%s]", rep.PendingDeliveries+rep.UndispatchedChanges, strings.Join(parts, ", ")),
		}
	}
	return nil
}

// project builds the settled-state view that golden snapshots record:
// loan state per book, status per request, balance per user and the
// notification ledger.
func (h *Harness) project(ctx context.Context) (map[string]any, error) {
	docs, err := h.store.Dump(ctx,
		domain.CollectionBooks,
		domain.CollectionRequests,
		domain.CollectionUsers,
		domain.CollectionNotifications,
	)
	if err != nil {
		return nil, fmt.Errorf("project state: %w", err)
	}

	books := map[string]any{}
	requests := map[string]any{}
	tickets := map[string]any{}
	notifications := map[string]any{}
	for i := range docs {
		d := &docs[i]
		switch d.Collection {
		case domain.CollectionBooks:
			var b domain.Book
			if err := d.Decode(&b); err != nil {
				return nil, err
			}
			view := map[string]any{
				"availability": string(b.Availability),
				"requestCount": b.RequestCount,
			}
			if b.AcceptedRequest != "" {
				view["acceptedRequest"] = b.AcceptedRequest
			}
			books[b.ID] = view
		case domain.CollectionRequests:
			var r domain.Request
			if err := d.Decode(&r); err != nil {
				return nil, err
			}
			requests[r.ID] = string(r.Status)
		case domain.CollectionUsers:
			var u domain.User
			if err := d.Decode(&u); err != nil {
				return nil, err
			}
			tickets[u.Handle] = u.TicketBalance
		case domain.CollectionNotifications:
			var n domain.Notification
			if err := d.Decode(&n); err != nil {
				return nil, err
			}
			notifications[n.ID] = map[string]any{
				"read":      n.Read,
				"recipient": n.Recipient,
				"type":      string(n.Type),
			}
		}
	}
	return map[string]any{
		"books":         books,
		"mail":          int64(len(h.mail.Sent())),
		"notifications": notifications,
		"requests":      requests,
		"tickets":       tickets,
	}, nil
}

// valuesEqual compares a YAML-decoded expectation with a JSON-decoded value.
// Numbers compare by value regardless of Go type.
func valuesEqual(expected, actual any) bool {
	if en, ok := toFloat(expected); ok {
		an, ok := toFloat(actual)
		return ok && en == an
	}
	switch e := expected.(type) {
	case nil:
		return actual == nil
	case []any:
		al, ok := actual.([]any)
		if !ok || len(al) != len(e) {
			return false
		}
		for i := range e {
			if !valuesEqual(e[i], al[i]) {
				return false
			}
		}
		return true
	}
	return fmt.Sprint(expected) == fmt.Sprint(actual) && fmt.Sprintf("%T", expected) == fmt.Sprintf("%T", actual)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatWhere(where map[string]any) string {
	if len(where) == 0 {
		return "(no conditions)"
	}
	parts := make([]string, 0, len(where))
	for _, k := range sortedKeys(where) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}
