package harness

import (
	"context"
	"fmt"

	"github.com/roach88/shelfshare/internal/domain"
	"github.com/roach88/shelfshare/internal/lending"
)

// actionFunc runs one lending operation and returns its result and the id
// a step may bind.
type actionFunc func(ctx context.Context, h *Harness, actor string, a *argReader) (any, string, error)

var actions = map[string]actionFunc{
	"create_user": func(ctx context.Context, h *Harness, _ string, a *argReader) (any, string, error) {
		u, err := h.svc.CreateUser(ctx, lending.NewUser{
			Handle:   a.str("handle"),
			Email:    a.str("email"),
			Location: a.str("location"),
			ImageURL: a.str("image_url"),
			Tickets:  a.num("tickets"),
		})
		return u, u.Handle, err
	},
	"update_profile": func(ctx context.Context, h *Harness, actor string, a *argReader) (any, string, error) {
		u, err := h.svc.UpdateProfile(ctx, actor, lending.ProfileUpdate{
			Location: a.optStr("location"),
			ImageURL: a.optStr("image_url"),
			Email:    a.optStr("email"),
		})
		return u, u.Handle, err
	},
	"top_up": func(ctx context.Context, h *Harness, _ string, a *argReader) (any, string, error) {
		u, err := h.svc.TopUp(ctx, a.str("handle"), a.num("amount"))
		return u, u.Handle, err
	},
	"create_hall": func(ctx context.Context, h *Harness, _ string, a *argReader) (any, string, error) {
		hall, err := h.svc.CreateHall(ctx, a.str("location"), a.str("image_url"))
		return hall, hall.Location, err
	},
	"join_hall": func(ctx context.Context, h *Harness, actor string, a *argReader) (any, string, error) {
		hall, err := h.svc.AddHallMember(ctx, a.str("location"), actor)
		return hall, hall.Location, err
	},
	"buy_hall_accounts": func(ctx context.Context, h *Harness, _ string, a *argReader) (any, string, error) {
		hall, err := h.svc.BuyHallAccounts(ctx, a.str("location"), a.num("count"))
		return hall, hall.Location, err
	},
	"post_book": func(ctx context.Context, h *Harness, actor string, a *argReader) (any, string, error) {
		b, err := h.svc.PostBook(ctx, actor, lending.NewBook{
			Title:  a.str("title"),
			Author: a.str("author"),
			Cover:  a.str("cover"),
			Price:  a.num("price"),
		})
		return b, b.ID, err
	},
	"delete_book": func(ctx context.Context, h *Harness, actor string, a *argReader) (any, string, error) {
		id := a.str("book")
		return nil, id, h.svc.DeleteBook(ctx, actor, id)
	},
	"comment": func(ctx context.Context, h *Harness, actor string, a *argReader) (any, string, error) {
		c, err := h.svc.Comment(ctx, actor, a.str("book"), a.str("body"))
		return c, c.ID, err
	},
	"submit_request": func(ctx context.Context, h *Harness, actor string, a *argReader) (any, string, error) {
		r, err := h.svc.SubmitRequest(ctx, a.str("book"), actor)
		return r, r.ID, err
	},
	"accept": func(ctx context.Context, h *Harness, actor string, a *argReader) (any, string, error) {
		r, err := h.svc.Decide(ctx, actor, a.str("request"), string(domain.StatusAccepted))
		return r, r.ID, err
	},
	"decline": func(ctx context.Context, h *Harness, actor string, a *argReader) (any, string, error) {
		r, err := h.svc.Decide(ctx, actor, a.str("request"), string(domain.StatusDeclined))
		return r, r.ID, err
	},
	"cancel": func(ctx context.Context, h *Harness, actor string, a *argReader) (any, string, error) {
		r, err := h.svc.Cancel(ctx, actor, a.str("request"))
		return r, r.ID, err
	},
	"reset_availability": func(ctx context.Context, h *Harness, actor string, a *argReader) (any, string, error) {
		b, err := h.svc.ResetAvailability(ctx, actor, a.str("book"))
		return b, b.ID, err
	},
	"add_desired": func(ctx context.Context, h *Harness, actor string, a *argReader) (any, string, error) {
		d, err := h.svc.AddDesired(ctx, actor, a.str("book"))
		return d, d.ID, err
	},
	"remove_desired": func(ctx context.Context, h *Harness, actor string, a *argReader) (any, string, error) {
		return nil, "", h.svc.RemoveDesired(ctx, actor, a.str("book"))
	},
	"mark_read": func(ctx context.Context, h *Harness, actor string, a *argReader) (any, string, error) {
		return nil, "", h.svc.MarkNotificationsRead(ctx, actor, a.strs("ids"))
	},
	"deliver": func(ctx context.Context, h *Harness, _ string, _ *argReader) (any, string, error) {
		return nil, "", h.drain(ctx)
	},
}

// argReader reads step args, resolving "$name" references. The first
// malformed argument is kept in err and fails the step.
type argReader struct {
	h   *Harness
	m   map[string]any
	err error
}

func (a *argReader) fail(format string, args ...any) {
	if a.err == nil {
		a.err = fmt.Errorf(format, args...)
	}
}

func (a *argReader) str(key string) string {
	v, ok := a.m[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		a.fail("arg %q: expected string, got %T", key, v)
		return ""
	}
	r, err := a.h.resolveString(s)
	if err != nil {
		a.fail("arg %q: %v", key, err)
	}
	return r
}

func (a *argReader) optStr(key string) *string {
	if _, ok := a.m[key]; !ok {
		return nil
	}
	s := a.str(key)
	return &s
}

func (a *argReader) num(key string) int64 {
	v, ok := a.m[key]
	if !ok || v == nil {
		return 0
	}
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	default:
		a.fail("arg %q: expected integer, got %T", key, v)
		return 0
	}
}

func (a *argReader) strs(key string) []string {
	v, ok := a.m[key]
	if !ok || v == nil {
		return nil
	}
	list, ok := v.([]any)
	if !ok {
		a.fail("arg %q: expected list, got %T", key, v)
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			a.fail("arg %q: expected list of strings, got %T", key, item)
			return nil
		}
		r, err := a.h.resolveString(s)
		if err != nil {
			a.fail("arg %q: %v", key, err)
			return nil
		}
		out = append(out, r)
	}
	return out
}
