package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/roach88/shelfshare/internal/cascade"
	"github.com/roach88/shelfshare/internal/changefeed"
	"github.com/roach88/shelfshare/internal/docstore"
	"github.com/roach88/shelfshare/internal/domain"
	"github.com/roach88/shelfshare/internal/lending"
	"github.com/roach88/shelfshare/internal/mailer"
	"github.com/roach88/shelfshare/internal/testutil"
)

// Harness executes one scenario against a private store.
type Harness struct {
	store    *docstore.Store
	svc      *lending.Service
	disp     *changefeed.Dispatcher
	mail     *mailer.Recorder
	bindings map[string]string
	logger   *slog.Logger
}

// Run executes a scenario and returns its result. The error is non-nil only
// when the scenario could not be executed at all; failed expectations are
// reported in the result.
//
// Execution flow:
//  1. Open a fresh in-memory store and wire the lending service and reactions
//  2. Run setup steps, then deliver all changes
//  3. Run flow steps, checking expectations
//  4. Deliver all changes, evaluate assertions, project the final state
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	clock := testutil.NewManualClock()
	st, err := docstore.Open(":memory:", docstore.WithClock(clock))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	mail := &mailer.Recorder{}
	feed := changefeed.NewFeed()
	if err := cascade.New(st, cascade.WithClock(clock), cascade.WithMailer(mail)).Register(feed); err != nil {
		return nil, fmt.Errorf("register reactions: %w", err)
	}

	h := &Harness{
		store:    st,
		svc:      lending.New(st, lending.WithClock(clock), lending.WithIDs(testutil.NewSequenceIDs("id"))),
		disp:     changefeed.NewDispatcher(st, feed, changefeed.WithClock(clock), changefeed.WithWorkers(1)),
		mail:     mail,
		bindings: map[string]string{},
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	result := NewResult()
	for i, step := range scenario.Setup {
		if _, _, err := h.execute(ctx, step); err != nil {
			return nil, fmt.Errorf("setup step %d (%s): %w", i, step.Action, err)
		}
	}
	if err := h.drain(ctx); err != nil {
		return nil, err
	}

	for i, step := range scenario.Flow {
		res, id, err := h.execute(ctx, step)
		ev := TraceEvent{Action: step.Action, Actor: step.Actor, Outcome: OutcomeOK, ID: id}
		if err != nil {
			code := domain.CodeOf(err)
			if code == "" {
				return nil, fmt.Errorf("flow step %d (%s): %w", i, step.Action, err)
			}
			ev.Outcome = string(code)
		}
		result.AddTrace(ev)
		h.logger.Debug("step executed", "step", i, "action", step.Action, "outcome", ev.Outcome)

		for _, msg := range h.checkExpect(step, res, err) {
			result.AddError(fmt.Sprintf("flow[%d] %s: %s", i, step.Action, msg))
		}
	}
	if err := h.drain(ctx); err != nil {
		return nil, err
	}

	for i, a := range scenario.Assertions {
		if err := h.evaluate(ctx, a); err != nil {
			result.AddError(fmt.Sprintf("assertions[%d] %s: %v", i, a.Type, err))
		}
	}

	state, err := h.project(ctx)
	if err != nil {
		return nil, err
	}
	result.State = state
	return result, nil
}

func (h *Harness) drain(ctx context.Context) error {
	if err := h.disp.Drain(ctx); err != nil {
		return fmt.Errorf("deliver changes: %w", err)
	}
	return nil
}

// execute runs one step and binds its id when the step asks for it.
func (h *Harness) execute(ctx context.Context, step Step) (any, string, error) {
	a := &argReader{h: h, m: step.Args}
	res, id, err := actions[step.Action](ctx, h, step.Actor, a)
	if a.err != nil {
		return nil, "", a.err
	}
	if err == nil && step.As != "" {
		if id == "" {
			return nil, "", fmt.Errorf("action %s has no id to bind to %q", step.Action, step.As)
		}
		h.bindings[step.As] = id
	}
	return res, id, err
}

func (h *Harness) checkExpect(step Step, res any, err error) []string {
	var failures []string
	want := ""
	if step.Expect != nil {
		want = step.Expect.Error
	}
	got := ""
	if err != nil {
		got = string(domain.CodeOf(err))
	}
	if got != want {
		if want == "" {
			return []string{fmt.Sprintf("expected success, got %v", err)}
		}
		return []string{fmt.Sprintf("expected error %s, got %q", want, got)}
	}
	if step.Expect == nil || len(step.Expect.Result) == 0 || err != nil {
		return nil
	}

	fields, jerr := toFields(res)
	if jerr != nil {
		return []string{jerr.Error()}
	}
	for _, key := range sortedKeys(step.Expect.Result) {
		expected, rerr := h.resolve(step.Expect.Result[key])
		if rerr != nil {
			failures = append(failures, rerr.Error())
			continue
		}
		if !valuesEqual(expected, fields[key]) {
			failures = append(failures, fmt.Sprintf("result field %q = %v, expected %v", key, fields[key], expected))
		}
	}
	return failures
}

// resolve replaces "$name" references with bound ids.
func (h *Harness) resolve(v any) (any, error) {
	s, ok := v.(string)
	if !ok || !strings.HasPrefix(s, "$") {
		return v, nil
	}
	id, ok := h.bindings[s[1:]]
	if !ok {
		return nil, fmt.Errorf("unbound reference %s", s)
	}
	return id, nil
}

func (h *Harness) resolveString(s string) (string, error) {
	v, err := h.resolve(s)
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// toFields turns a result value into its JSON object form.
func toFields(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("result is not an object: %w", err)
	}
	return out, nil
}
