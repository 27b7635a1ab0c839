// Package resolution derives whether a target is currently flagged from the
// label log alone. Nothing is cached or persisted: every answer is computed
// from the log at read time.
//
// A target is active for a value when the log holds at least one asserting
// label and no negating label for that (target, value) pair. Negation is not
// ordered against assertion: a negation appended before an assertion still
// resolves it, and re-asserting a resolved target leaves it resolved.
package resolution

import (
	"context"

	"xdao.co/labeler/label"
	"xdao.co/labeler/model"
	"xdao.co/labeler/store"
)

// Source is the read side of the store the engine needs.
type Source interface {
	Targets(ctx context.Context, val string, neg bool, candidates []string) ([]string, error)
	Assertions(ctx context.Context, val string, targets []string) ([]store.Record, error)
	Contexts(ctx context.Context, uris []string) (map[string]model.Context, error)
}

type Engine struct {
	src Source
}

func New(src Source) *Engine {
	return &Engine{src: src}
}

// ActiveTargets returns the candidates that are actively flagged for val,
// in candidate order and without duplicates.
func (e *Engine) ActiveTargets(ctx context.Context, candidates []string, val string) ([]string, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	asserted, err := e.targetSet(ctx, val, false, candidates)
	if err != nil {
		return nil, err
	}
	negated, err := e.targetSet(ctx, val, true, candidates)
	if err != nil {
		return nil, err
	}

	var out []string
	seen := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		if _, ok := asserted[c]; !ok {
			continue
		}
		if _, ok := negated[c]; ok {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// PendingFlags returns every asserting label for val, most recent first,
// each marked resolved when its target has any negation.
func (e *Engine) PendingFlags(ctx context.Context, val string) ([]model.Flag, error) {
	return e.flags(ctx, val, nil)
}

// Flags is PendingFlags restricted to targets. An empty target set yields
// no flags.
func (e *Engine) Flags(ctx context.Context, targets []string, val string) ([]model.Flag, error) {
	if len(targets) == 0 {
		return nil, nil
	}
	return e.flags(ctx, val, targets)
}

// UnresolvedTargets returns the distinct targets of the unresolved pending
// flags for val, most recently flagged first.
func (e *Engine) UnresolvedTargets(ctx context.Context, val string) ([]string, error) {
	flags, err := e.PendingFlags(ctx, val)
	if err != nil {
		return nil, err
	}
	var out []string
	seen := map[string]struct{}{}
	for _, f := range flags {
		if f.Resolved {
			continue
		}
		if _, dup := seen[f.URI]; dup {
			continue
		}
		seen[f.URI] = struct{}{}
		out = append(out, f.URI)
	}
	return out, nil
}

func (e *Engine) flags(ctx context.Context, val string, targets []string) ([]model.Flag, error) {
	recs, err := e.src.Assertions(ctx, val, targets)
	if err != nil {
		return nil, storageError("RES-READ-001", "read asserting labels", err)
	}
	if len(recs) == 0 {
		return nil, nil
	}
	negated, err := e.targetSet(ctx, val, true, targets)
	if err != nil {
		return nil, err
	}

	var uris []string
	seen := map[string]struct{}{}
	for _, r := range recs {
		if _, dup := seen[r.Label.URI]; !dup {
			seen[r.Label.URI] = struct{}{}
			uris = append(uris, r.Label.URI)
		}
	}
	contexts, err := e.src.Contexts(ctx, uris)
	if err != nil {
		return nil, storageError("RES-READ-003", "read label context", err)
	}

	out := make([]model.Flag, 0, len(recs))
	for _, r := range recs {
		_, resolved := negated[r.Label.URI]
		f := model.Flag{
			Seq:       r.Seq,
			URI:       r.Label.URI,
			Val:       r.Label.Val,
			CreatedAt: displayTime(r.Label.Cts),
			Resolved:  resolved,
		}
		if c, ok := contexts[r.Label.URI]; ok && c.Displayable() {
			f.Context = &c
		}
		out = append(out, f)
	}
	return out, nil
}

func (e *Engine) targetSet(ctx context.Context, val string, neg bool, candidates []string) (map[string]struct{}, error) {
	targets, err := e.src.Targets(ctx, val, neg, candidates)
	if err != nil {
		return nil, storageError("RES-READ-002", "read label targets", err)
	}
	set := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		set[t] = struct{}{}
	}
	return set, nil
}

func displayTime(cts string) string {
	t, err := label.ParseTime(cts)
	if err != nil {
		return cts
	}
	return t.UTC().Format(model.FlagTimeLayout)
}

func storageError(ruleID, msg string, err error) error {
	return label.WrapError(label.KindStorage, ruleID, msg, err)
}
