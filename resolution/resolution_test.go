package resolution

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"xdao.co/labeler/model"
	"xdao.co/labeler/store/memstore"
	"xdao.co/labeler/store/testkit"
)

const val = "copyright-violation"

func setup(t *testing.T) (*memstore.Store, *Engine) {
	t.Helper()
	s := memstore.New()
	return s, New(s)
}

func add(t *testing.T, s *memstore.Store, uri string, neg bool) {
	t.Helper()
	if _, err := s.Append(context.Background(), testkit.Label(uri, val, neg)); err != nil {
		t.Fatalf("Append: %v", err)
	}
}

func active(t *testing.T, e *Engine, candidates ...string) []string {
	t.Helper()
	got, err := e.ActiveTargets(context.Background(), candidates, val)
	if err != nil {
		t.Fatalf("ActiveTargets: %v", err)
	}
	return got
}

func TestAssertThenNegate(t *testing.T) {
	s, e := setup(t)
	add(t, s, "at://A", false)
	if diff := cmp.Diff([]string{"at://A"}, active(t, e, "at://A")); diff != "" {
		t.Fatalf("active mismatch (-want +got):\n%s", diff)
	}

	add(t, s, "at://A", true)
	if got := active(t, e, "at://A"); len(got) != 0 {
		t.Fatalf("expected no active targets, got %v", got)
	}

	flags, err := e.PendingFlags(context.Background(), val)
	if err != nil {
		t.Fatalf("PendingFlags: %v", err)
	}
	if len(flags) != 1 || flags[0].URI != "at://A" || !flags[0].Resolved || flags[0].Seq != 1 {
		t.Fatalf("unexpected flags: %+v", flags)
	}
}

func TestActiveTargetsOrderAndDedupe(t *testing.T) {
	s, e := setup(t)
	add(t, s, "at://A", false)
	add(t, s, "at://B", false)
	add(t, s, "at://C", false)
	add(t, s, "at://B", true)

	got := active(t, e, "at://C", "at://B", "at://D", "at://A", "at://C")
	if diff := cmp.Diff([]string{"at://C", "at://A"}, got); diff != "" {
		t.Fatalf("active mismatch (-want +got):\n%s", diff)
	}
	if got := active(t, e); got != nil {
		t.Fatalf("empty candidates must yield nothing, got %v", got)
	}
}

func TestRepeatedNegationIsNoOp(t *testing.T) {
	s, e := setup(t)
	add(t, s, "at://A", false)
	add(t, s, "at://A", true)
	before, err := e.PendingFlags(context.Background(), val)
	if err != nil {
		t.Fatalf("PendingFlags: %v", err)
	}
	add(t, s, "at://A", true)
	after, err := e.PendingFlags(context.Background(), val)
	if err != nil {
		t.Fatalf("PendingFlags: %v", err)
	}
	if diff := cmp.Diff(before, after); diff != "" {
		t.Fatalf("second negation changed derived state (-before +after):\n%s", diff)
	}
}

func TestNegationBeforeAssertionStillResolves(t *testing.T) {
	s, e := setup(t)
	add(t, s, "at://A", true)
	add(t, s, "at://A", false)
	if got := active(t, e, "at://A"); len(got) != 0 {
		t.Fatalf("expected A resolved, got %v", got)
	}

	add(t, s, "at://B", false)
	add(t, s, "at://B", true)
	add(t, s, "at://B", false)
	if got := active(t, e, "at://B"); len(got) != 0 {
		t.Fatalf("re-asserting a resolved target must not reactivate it, got %v", got)
	}
}

func TestPendingFlagsOrderAndContext(t *testing.T) {
	s, e := setup(t)
	ctx := context.Background()
	add(t, s, "at://A", false)
	add(t, s, "at://B", false)
	add(t, s, "at://A", false)

	title := "Song"
	if err := s.PutContext(ctx, "at://A", model.Context{TrackTitle: &title}); err != nil {
		t.Fatalf("PutContext: %v", err)
	}
	score := 0.5
	if err := s.PutContext(ctx, "at://B", model.Context{HighestScore: &score}); err != nil {
		t.Fatalf("PutContext: %v", err)
	}

	flags, err := e.PendingFlags(ctx, val)
	if err != nil {
		t.Fatalf("PendingFlags: %v", err)
	}
	var seqs []int64
	for _, f := range flags {
		seqs = append(seqs, f.Seq)
	}
	if diff := cmp.Diff([]int64{3, 2, 1}, seqs); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
	if flags[0].Context == nil || *flags[0].Context.TrackTitle != "Song" {
		t.Fatalf("expected context on A: %+v", flags[0])
	}
	if flags[1].Context != nil {
		t.Fatalf("score-only context is not displayable: %+v", flags[1].Context)
	}
	if flags[0].CreatedAt != "2025-01-02 03:04:05" {
		t.Fatalf("CreatedAt=%q", flags[0].CreatedAt)
	}

	unresolved, err := e.UnresolvedTargets(ctx, val)
	if err != nil {
		t.Fatalf("UnresolvedTargets: %v", err)
	}
	if diff := cmp.Diff([]string{"at://A", "at://B"}, unresolved); diff != "" {
		t.Fatalf("unresolved mismatch (-want +got):\n%s", diff)
	}
}

func TestFlagsRestrictedToTargets(t *testing.T) {
	s, e := setup(t)
	add(t, s, "at://A", false)
	add(t, s, "at://B", false)
	add(t, s, "at://B", true)

	flags, err := e.Flags(context.Background(), []string{"at://B"}, val)
	if err != nil {
		t.Fatalf("Flags: %v", err)
	}
	if len(flags) != 1 || flags[0].URI != "at://B" || !flags[0].Resolved {
		t.Fatalf("unexpected flags: %+v", flags)
	}
	if flags, _ := e.Flags(context.Background(), nil, val); flags != nil {
		t.Fatalf("expected nil for empty target set")
	}
}
