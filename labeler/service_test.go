package labeler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"xdao.co/labeler/keys"
	"xdao.co/labeler/label"
	"xdao.co/labeler/model"
	"xdao.co/labeler/store"
	"xdao.co/labeler/store/memstore"
)

const (
	testIssuer = "did:plc:labeler"
	testSecret = "0101010101010101010101010101010101010101010101010101010101010101"
)

type recorder struct {
	mu   sync.Mutex
	recs []store.Record
}

func (r *recorder) Publish(rec store.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
}

func (r *recorder) seqs() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int64
	for _, rec := range r.recs {
		out = append(out, rec.Seq)
	}
	return out
}

func newSigner(t *testing.T) (*label.Signer, keys.PublicKey) {
	t.Helper()
	s, k, err := label.NewSignerFromHex(testIssuer, keys.Secp256k1, testSecret)
	if err != nil {
		t.Fatalf("NewSignerFromHex: %v", err)
	}
	s.WithClock(func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) })
	return s, k.Public()
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newService(t *testing.T) (*Service, *memstore.Store, *recorder, keys.PublicKey) {
	t.Helper()
	signer, pub := newSigner(t)
	st := memstore.New()
	feed := &recorder{}
	return New(signer, st, Options{Feed: feed, Logger: quietLogger()}), st, feed, pub
}

func strPtr(s string) *string { return &s }

func TestEmitSignsAppendsAndPublishes(t *testing.T) {
	svc, st, feed, pub := newService(t)
	ctx := context.Background()

	rec, err := svc.Emit(ctx, model.EmitLabelRequest{URI: "at://A", Val: "copyright-violation"})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if rec.Seq != 1 || rec.Label.Src != testIssuer || rec.Label.Cts != "2025-01-02T03:04:05.000Z" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if err := rec.Label.Verify(pub); err != nil {
		t.Fatalf("emitted label does not verify: %v", err)
	}

	stored, err := st.Since(ctx, 0, 10)
	if err != nil {
		t.Fatalf("Since: %v", err)
	}
	if len(stored) != 1 || !bytes.Equal(stored[0].Label.Sig, rec.Label.Sig) {
		t.Fatalf("stored record mismatch: %+v", stored)
	}
	if got := feed.seqs(); len(got) != 1 || got[0] != 1 {
		t.Fatalf("published seqs=%v want [1]", got)
	}
}

func TestEmitValidation(t *testing.T) {
	svc, st, feed, _ := newService(t)
	cases := map[string]model.EmitLabelRequest{
		"LBL-EMIT-001": {Val: "x"},
		"LBL-EMIT-002": {URI: "at://A"},
		"LBL-EMIT-003": {URI: "at://A", Val: "x", CID: strPtr("not-a-cid")},
	}
	for rule, req := range cases {
		_, err := svc.Emit(context.Background(), req)
		if !label.IsKind(err, label.KindValidation) || label.RuleID(err) != rule {
			t.Fatalf("%s: got %v (%s)", rule, err, label.RuleID(err))
		}
	}
	if latest, _ := st.LatestSeq(context.Background()); latest != 0 {
		t.Fatalf("validation failure mutated the log")
	}
	if len(feed.seqs()) != 0 {
		t.Fatalf("validation failure published")
	}
}

func TestEmitWithoutConfiguration(t *testing.T) {
	signer, _ := newSigner(t)
	for _, svc := range []*Service{
		New(nil, memstore.New(), Options{}),
		New(signer, nil, Options{}),
	} {
		if svc.Enabled() {
			t.Fatalf("service should be disabled")
		}
		_, err := svc.Emit(context.Background(), model.EmitLabelRequest{URI: "at://A", Val: "x"})
		if !label.IsKind(err, label.KindConfiguration) {
			t.Fatalf("expected Configuration error, got %v", err)
		}
		if err := svc.StoreContext(context.Background(), "at://A", model.Context{}); !label.IsKind(err, label.KindConfiguration) {
			t.Fatalf("expected Configuration error, got %v", err)
		}
	}
}

func TestEmitStoresNormalizedContextWithoutResolution(t *testing.T) {
	svc, st, _, _ := newService(t)
	ctx := context.Background()
	score := 87.0
	reason := model.ReasonLicensed
	_, err := svc.Emit(ctx, model.EmitLabelRequest{
		URI: "at://A",
		Val: "copyright-violation",
		Context: &model.Context{
			TrackTitle:       strPtr("Song"),
			HighestScore:     &score,
			Matches:          []model.Match{{Title: "Orig", Artist: "Band", Score: 55}},
			ResolutionReason: &reason,
		},
	})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	got, err := st.Contexts(ctx, []string{"at://A"})
	if err != nil {
		t.Fatalf("Contexts: %v", err)
	}
	c := got["at://A"]
	if c.HighestScore == nil || *c.HighestScore != 0.87 || c.Matches[0].Score != 0.55 {
		t.Fatalf("scores not normalized: %+v", c)
	}
	if c.ResolutionReason != nil {
		t.Fatalf("emit must not set resolution reason")
	}
}

type failingStore struct {
	*memstore.Store
	appendErr  error
	contextErr error
}

func (f *failingStore) Append(ctx context.Context, l label.Label) (int64, error) {
	if f.appendErr != nil {
		return 0, f.appendErr
	}
	return f.Store.Append(ctx, l)
}

func (f *failingStore) PutContext(ctx context.Context, uri string, c model.Context) error {
	if f.contextErr != nil {
		return f.contextErr
	}
	return f.Store.PutContext(ctx, uri, c)
}

func (f *failingStore) PutResolution(ctx context.Context, uri string, r model.ResolutionReason, notes *string) error {
	if f.contextErr != nil {
		return f.contextErr
	}
	return f.Store.PutResolution(ctx, uri, r, notes)
}

func TestEmitStorageFailureIsNotPublished(t *testing.T) {
	signer, _ := newSigner(t)
	feed := &recorder{}
	disk := errors.New("disk full")
	svc := New(signer, &failingStore{Store: memstore.New(), appendErr: disk}, Options{Feed: feed, Logger: quietLogger()})

	_, err := svc.Emit(context.Background(), model.EmitLabelRequest{URI: "at://A", Val: "x"})
	if !label.IsKind(err, label.KindStorage) || !errors.Is(err, disk) {
		t.Fatalf("expected Storage error wrapping cause, got %v", err)
	}
	if len(feed.seqs()) != 0 {
		t.Fatalf("failed append must not publish")
	}
}

func TestContextFailureDoesNotFailEmission(t *testing.T) {
	signer, _ := newSigner(t)
	feed := &recorder{}
	var logs bytes.Buffer
	svc := New(signer, &failingStore{Store: memstore.New(), contextErr: errors.New("context table gone")},
		Options{Feed: feed, Logger: slog.New(slog.NewTextHandler(&logs, nil))})

	rec, err := svc.Emit(context.Background(), model.EmitLabelRequest{
		URI: "at://A", Val: "x", Context: &model.Context{TrackTitle: strPtr("Song")},
	})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if rec.Seq != 1 || len(feed.seqs()) != 1 {
		t.Fatalf("emission should have completed: %+v", rec)
	}
	if !strings.Contains(logs.String(), "failed to store label context") {
		t.Fatalf("expected warning in logs, got %q", logs.String())
	}
}

type brokenKey struct{}

func (brokenKey) Sign([]byte) ([]byte, error) { return nil, errors.New("hsm offline") }

func TestSigningFailureLeavesLogUntouched(t *testing.T) {
	signer, err := label.NewSigner(testIssuer, brokenKey{})
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	st := memstore.New()
	svc := New(signer, st, Options{Logger: quietLogger()})
	_, err = svc.Emit(context.Background(), model.EmitLabelRequest{URI: "at://A", Val: "x"})
	if !label.IsKind(err, label.KindSigning) {
		t.Fatalf("expected Signing error, got %v", err)
	}
	if latest, _ := st.LatestSeq(context.Background()); latest != 0 {
		t.Fatalf("signing failure appended a label")
	}
}

func TestResolveAppendsNegationAndReason(t *testing.T) {
	svc, st, feed, _ := newService(t)
	ctx := context.Background()
	if _, err := svc.Emit(ctx, model.EmitLabelRequest{URI: "at://A", Val: DefaultValue}); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	rec, err := svc.Resolve(ctx, model.ResolveRequest{URI: "at://A", Reason: strPtr("fingerprint_noise"), Notes: strPtr("noise")})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if rec.Seq != 2 || !rec.Label.Neg || rec.Label.Val != DefaultValue {
		t.Fatalf("unexpected negation: %+v", rec)
	}
	got, err := st.Contexts(ctx, []string{"at://A"})
	if err != nil {
		t.Fatalf("Contexts: %v", err)
	}
	c := got["at://A"]
	if c.ResolutionReason == nil || *c.ResolutionReason != model.ReasonFingerprintNoise || *c.ResolutionNotes != "noise" {
		t.Fatalf("resolution not recorded: %+v", c)
	}
	if n := len(feed.seqs()); n != 2 {
		t.Fatalf("published %d records, want 2", n)
	}
}

func TestResolveRejectsUnknownReason(t *testing.T) {
	svc, st, _, _ := newService(t)
	_, err := svc.Resolve(context.Background(), model.ResolveRequest{URI: "at://A", Reason: strPtr("because")})
	if !label.IsKind(err, label.KindValidation) {
		t.Fatalf("expected Validation error, got %v", err)
	}
	if latest, _ := st.LatestSeq(context.Background()); latest != 0 {
		t.Fatalf("rejected resolution appended a label")
	}
}
