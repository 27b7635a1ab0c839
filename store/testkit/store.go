// Package testkit holds the behavioral contract every store backend must meet.
package testkit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"xdao.co/labeler/label"
	"xdao.co/labeler/model"
	"xdao.co/labeler/store"
)

// NewStore constructs a fresh, empty Store for a test.
// The returned Store MUST be isolated from other tests.
type NewStore func(t *testing.T) store.Store

const (
	testSource = "did:plc:labeler"
	testVal    = "copyright-violation"
)

// Label returns a label carrying a placeholder signature. Stores never
// verify signatures, so conformance tests do not need real keys.
func Label(uri, val string, neg bool) label.Label {
	return label.Label{
		Ver: label.Version,
		Src: testSource,
		URI: uri,
		Val: val,
		Neg: neg,
		Cts: "2025-01-02T03:04:05.000Z",
		Sig: []byte{0x01, 0x02, 0x03},
	}
}

func mustAppend(t *testing.T, s store.Store, l label.Label) int64 {
	t.Helper()
	seq, err := s.Append(context.Background(), l)
	if err != nil {
		t.Fatalf("Append(%s) failed: %v", l.URI, err)
	}
	return seq
}

func seqs(records []store.Record) []int64 {
	out := make([]int64, len(records))
	for i, r := range records {
		out[i] = r.Seq
	}
	return out
}

func strPtr(s string) *string { return &s }

func RunStoreConformance(t *testing.T, newStore NewStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("AppendAssignsContiguousSeq", func(t *testing.T) {
		s := newStore(t)
		for i := int64(1); i <= 3; i++ {
			got := mustAppend(t, s, Label(fmt.Sprintf("at://a/%d", i), testVal, false))
			if got != i {
				t.Fatalf("seq mismatch: got %d want %d", got, i)
			}
		}
		latest, err := s.LatestSeq(ctx)
		if err != nil {
			t.Fatalf("LatestSeq failed: %v", err)
		}
		if latest != 3 {
			t.Fatalf("LatestSeq=%d want 3", latest)
		}
	})

	t.Run("ConcurrentAppendsStayContiguous", func(t *testing.T) {
		s := newStore(t)
		const n = 40
		var (
			wg  sync.WaitGroup
			mu  sync.Mutex
			got []int64
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				seq, err := s.Append(ctx, Label(fmt.Sprintf("at://c/%d", i), testVal, false))
				if err != nil {
					t.Errorf("Append failed: %v", err)
					return
				}
				mu.Lock()
				got = append(got, seq)
				mu.Unlock()
			}(i)
		}
		wg.Wait()
		sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
		for i, seq := range got {
			if seq != int64(i+1) {
				t.Fatalf("seqs not contiguous: %v", got)
			}
		}
	})

	t.Run("AppendRejectsUnsigned", func(t *testing.T) {
		s := newStore(t)
		l := Label("at://u/1", testVal, false)
		l.Sig = nil
		if _, err := s.Append(ctx, l); !errors.Is(err, store.ErrUnsigned) {
			t.Fatalf("expected ErrUnsigned, got %v", err)
		}
	})

	t.Run("RoundTripPreservesFields", func(t *testing.T) {
		s := newStore(t)
		want := Label("at://rt/1", testVal, true)
		want.CID = "bafyreib2rxk3rh6kzwq"
		want.Exp = "2026-01-01T00:00:00.000Z"
		mustAppend(t, s, want)

		recs, err := s.Since(ctx, 0, 10)
		if err != nil {
			t.Fatalf("Since failed: %v", err)
		}
		if len(recs) != 1 {
			t.Fatalf("expected 1 record, got %d", len(recs))
		}
		if diff := cmp.Diff(want, recs[0].Label); diff != "" {
			t.Fatalf("label mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("QueryPaginates", func(t *testing.T) {
		s := newStore(t)
		for i := 0; i < 5; i++ {
			mustAppend(t, s, Label(fmt.Sprintf("at://p/%d", i), testVal, false))
			mustAppend(t, s, Label(fmt.Sprintf("at://other/%d", i), testVal, false))
		}

		type shape struct {
			Seqs   []int64
			Cursor string
		}
		var got []shape
		cursor := int64(0)
		for pages := 0; ; pages++ {
			if pages > 5 {
				t.Fatalf("pagination did not terminate")
			}
			page, err := s.Query(ctx, store.Query{Patterns: []string{"at://p/*"}, Cursor: cursor, Limit: 2})
			if err != nil {
				t.Fatalf("Query failed: %v", err)
			}
			got = append(got, shape{Seqs: seqs(page.Records), Cursor: page.Cursor})
			if page.Cursor == "" {
				break
			}
			if _, err := fmt.Sscan(page.Cursor, &cursor); err != nil {
				t.Fatalf("cursor %q is not a seq: %v", page.Cursor, err)
			}
		}
		want := []shape{
			{Seqs: []int64{1, 3}, Cursor: "3"},
			{Seqs: []int64{5, 7}, Cursor: "7"},
			{Seqs: []int64{9}, Cursor: ""},
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("pages mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("QueryExactAndSources", func(t *testing.T) {
		s := newStore(t)
		mustAppend(t, s, Label("at://q/1", testVal, false))
		foreign := Label("at://q/1", testVal, false)
		foreign.Src = "did:plc:someone-else"
		mustAppend(t, s, foreign)
		mustAppend(t, s, Label("at://q/10", testVal, false))

		page, err := s.Query(ctx, store.Query{Patterns: []string{"at://q/1"}, Limit: 50})
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if diff := cmp.Diff([]int64{1, 2}, seqs(page.Records)); diff != "" {
			t.Fatalf("exact match mismatch (-want +got):\n%s", diff)
		}

		page, err = s.Query(ctx, store.Query{Patterns: []string{"at://q/*"}, Sources: []string{testSource}, Limit: 50})
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if diff := cmp.Diff([]int64{1, 3}, seqs(page.Records)); diff != "" {
			t.Fatalf("source filter mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("QueryTreatsLikeMetacharactersLiterally", func(t *testing.T) {
		s := newStore(t)
		mustAppend(t, s, Label("at://m/50%_off", testVal, false))
		mustAppend(t, s, Label("at://m/50xyoff", testVal, false))

		page, err := s.Query(ctx, store.Query{Patterns: []string{"at://m/50%_*"}, Limit: 50})
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if diff := cmp.Diff([]int64{1}, seqs(page.Records)); diff != "" {
			t.Fatalf("escaped match mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("SinceAndLatestSeq", func(t *testing.T) {
		s := newStore(t)
		latest, err := s.LatestSeq(ctx)
		if err != nil {
			t.Fatalf("LatestSeq failed: %v", err)
		}
		if latest != 0 {
			t.Fatalf("empty LatestSeq=%d want 0", latest)
		}
		for i := 0; i < 4; i++ {
			mustAppend(t, s, Label(fmt.Sprintf("at://s/%d", i), testVal, false))
		}
		recs, err := s.Since(ctx, 1, 2)
		if err != nil {
			t.Fatalf("Since failed: %v", err)
		}
		if diff := cmp.Diff([]int64{2, 3}, seqs(recs)); diff != "" {
			t.Fatalf("Since mismatch (-want +got):\n%s", diff)
		}
		recs, err = s.Since(ctx, 4, 10)
		if err != nil {
			t.Fatalf("Since failed: %v", err)
		}
		if len(recs) != 0 {
			t.Fatalf("expected no records after head, got %v", seqs(recs))
		}
	})

	t.Run("TargetsAndAssertions", func(t *testing.T) {
		s := newStore(t)
		mustAppend(t, s, Label("at://t/a", testVal, false))
		mustAppend(t, s, Label("at://t/b", testVal, false))
		mustAppend(t, s, Label("at://t/a", testVal, false))
		mustAppend(t, s, Label("at://t/a", testVal, true))
		mustAppend(t, s, Label("at://t/c", "other-val", false))

		pos, err := s.Targets(ctx, testVal, false, nil)
		if err != nil {
			t.Fatalf("Targets failed: %v", err)
		}
		sort.Strings(pos)
		if diff := cmp.Diff([]string{"at://t/a", "at://t/b"}, pos); diff != "" {
			t.Fatalf("positive targets mismatch (-want +got):\n%s", diff)
		}

		neg, err := s.Targets(ctx, testVal, true, []string{"at://t/a", "at://t/b"})
		if err != nil {
			t.Fatalf("Targets failed: %v", err)
		}
		if diff := cmp.Diff([]string{"at://t/a"}, neg); diff != "" {
			t.Fatalf("negative targets mismatch (-want +got):\n%s", diff)
		}

		restricted, err := s.Targets(ctx, testVal, false, []string{"at://t/b", "at://t/zzz"})
		if err != nil {
			t.Fatalf("Targets failed: %v", err)
		}
		if diff := cmp.Diff([]string{"at://t/b"}, restricted); diff != "" {
			t.Fatalf("restricted targets mismatch (-want +got):\n%s", diff)
		}

		recs, err := s.Assertions(ctx, testVal, nil)
		if err != nil {
			t.Fatalf("Assertions failed: %v", err)
		}
		if diff := cmp.Diff([]int64{3, 2, 1}, seqs(recs)); diff != "" {
			t.Fatalf("assertions mismatch (-want +got):\n%s", diff)
		}

		recs, err = s.Assertions(ctx, testVal, []string{"at://t/b"})
		if err != nil {
			t.Fatalf("Assertions failed: %v", err)
		}
		if diff := cmp.Diff([]int64{2}, seqs(recs)); diff != "" {
			t.Fatalf("restricted assertions mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("ContextMergeAndResolution", func(t *testing.T) {
		s := newStore(t)
		uri := "at://ctx/1"
		id := int64(42)
		score := 0.93
		if err := s.PutContext(ctx, uri, model.Context{TrackID: &id, TrackTitle: strPtr("first"), HighestScore: &score,
			Matches: []model.Match{{Title: "Song", Artist: "Band", Score: 0.9}}}); err != nil {
			t.Fatalf("PutContext failed: %v", err)
		}
		if err := s.PutContext(ctx, uri, model.Context{TrackTitle: strPtr("second"), ArtistHandle: strPtr("artist.example")}); err != nil {
			t.Fatalf("PutContext(2) failed: %v", err)
		}
		if err := s.PutResolution(ctx, uri, model.ReasonLicensed, strPtr("has license")); err != nil {
			t.Fatalf("PutResolution failed: %v", err)
		}

		got, err := s.Contexts(ctx, []string{uri, "at://ctx/unknown"})
		if err != nil {
			t.Fatalf("Contexts failed: %v", err)
		}
		reason := model.ReasonLicensed
		want := map[string]model.Context{uri: {
			TrackID:          &id,
			TrackTitle:       strPtr("second"),
			ArtistHandle:     strPtr("artist.example"),
			HighestScore:     &score,
			Matches:          []model.Match{{Title: "Song", Artist: "Band", Score: 0.9}},
			ResolutionReason: &reason,
			ResolutionNotes:  strPtr("has license"),
		}}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("context mismatch (-want +got):\n%s", diff)
		}

		if err := s.PutResolution(ctx, "at://ctx/2", model.ReasonOther, nil); err != nil {
			t.Fatalf("PutResolution on fresh uri failed: %v", err)
		}
		got, err = s.Contexts(ctx, []string{"at://ctx/2"})
		if err != nil {
			t.Fatalf("Contexts failed: %v", err)
		}
		c, ok := got["at://ctx/2"]
		if !ok || c.ResolutionReason == nil || *c.ResolutionReason != model.ReasonOther || c.ResolutionNotes != nil {
			t.Fatalf("unexpected resolution-only context: %+v", c)
		}
	})

	t.Run("Batches", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.GetBatch(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}

		created := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
		b := model.Batch{ID: "b1", CreatedAt: created, Status: model.BatchPending, CreatedBy: strPtr("ops")}
		if err := s.CreateBatch(ctx, b, []string{"at://b/1", "at://b/2", "at://b/1"}); err != nil {
			t.Fatalf("CreateBatch failed: %v", err)
		}
		if err := s.CreateBatch(ctx, b, nil); !errors.Is(err, store.ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}

		got, err := s.GetBatch(ctx, "b1")
		if err != nil {
			t.Fatalf("GetBatch failed: %v", err)
		}
		if got.ID != "b1" || got.Status != model.BatchPending || !got.CreatedAt.Equal(created) || got.CreatedBy == nil || *got.CreatedBy != "ops" {
			t.Fatalf("unexpected batch: %+v", got)
		}

		members, err := s.Members(ctx, "b1")
		if err != nil {
			t.Fatalf("Members failed: %v", err)
		}
		if len(members) != 2 || members[0].URI != "at://b/1" || members[1].URI != "at://b/2" || members[0].Reviewed {
			t.Fatalf("unexpected members: %+v", members)
		}

		at := time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)
		ok, err := s.MarkReviewed(ctx, "b1", "at://b/2", model.DecisionClear, at)
		if err != nil || !ok {
			t.Fatalf("MarkReviewed=%v,%v want true,nil", ok, err)
		}
		ok, err = s.MarkReviewed(ctx, "b1", "at://not/member", model.DecisionClear, at)
		if err != nil || ok {
			t.Fatalf("MarkReviewed(non-member)=%v,%v want false,nil", ok, err)
		}

		members, err = s.Members(ctx, "b1")
		if err != nil {
			t.Fatalf("Members failed: %v", err)
		}
		m := members[1]
		if !m.Reviewed || m.Decision == nil || *m.Decision != model.DecisionClear || m.ReviewedAt == nil || !m.ReviewedAt.Equal(at) {
			t.Fatalf("unexpected reviewed member: %+v", m)
		}

		if err := s.CompleteBatch(ctx, "b1"); err != nil {
			t.Fatalf("CompleteBatch failed: %v", err)
		}
		got, err = s.GetBatch(ctx, "b1")
		if err != nil {
			t.Fatalf("GetBatch failed: %v", err)
		}
		if got.Status != model.BatchCompleted {
			t.Fatalf("status=%q want completed", got.Status)
		}
	})
}
