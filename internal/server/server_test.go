package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/go-cmp/cmp"

	"xdao.co/labeler/distributor"
	"xdao.co/labeler/internal/ratelimit"
	"xdao.co/labeler/keys"
	"xdao.co/labeler/label"
	"xdao.co/labeler/labeler"
	"xdao.co/labeler/model"
	"xdao.co/labeler/resolution"
	"xdao.co/labeler/review"
	"xdao.co/labeler/store/memstore"
)

const (
	testToken  = "s3cret"
	testIssuer = "did:plc:labeler"
	testSecret = "0101010101010101010101010101010101010101010101010101010101010101"
)

type fixture struct {
	srv  *httptest.Server
	pub  keys.PublicKey
	feed *distributor.Distributor
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	signer, key, err := label.NewSignerFromHex(testIssuer, keys.Secp256k1, testSecret)
	if err != nil {
		t.Fatalf("NewSignerFromHex: %v", err)
	}
	st := memstore.New()
	feed := distributor.New(st, distributor.Options{Logger: quiet()})
	svc := labeler.New(signer, st, labeler.Options{Feed: feed, Logger: quiet()})
	engine := resolution.New(st)
	coord := review.New(svc, st, engine, review.Options{Logger: quiet()})
	opts.Logger = quiet()
	if opts.AuthToken == "" {
		opts.AuthToken = testToken
	}
	srv := httptest.NewServer(New(svc, engine, coord, feed, opts).Handler())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, pub: key.Public(), feed: feed}
}

func (f *fixture) do(t *testing.T, method, path string, body any, header map[string]string) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func (f *fixture) admin(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	return f.do(t, method, path, body, map[string]string{keyHeader: testToken})
}

func (f *fixture) emit(t *testing.T, uri string) model.EmitLabelResponse {
	t.Helper()
	resp, data := f.admin(t, http.MethodPost, "/emit-label", model.EmitLabelRequest{URI: uri, Val: "copyright-violation"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("emit %s: status %d: %s", uri, resp.StatusCode, data)
	}
	var out model.EmitLabelResponse
	mustDecode(t, data, &out)
	return out
}

func mustDecode(t *testing.T, data []byte, v any) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
}

func TestHealthReportsSigningKey(t *testing.T) {
	f := newFixture(t, Options{SigningKey: "did:key:zExample"})
	resp, data := f.do(t, http.MethodGet, "/health", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var got model.HealthResponse
	mustDecode(t, data, &got)
	want := model.HealthResponse{Status: "ok", LabelerEnabled: true, Issuer: testIssuer, SigningKey: "did:key:zExample"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("health mismatch (-want +got):\n%s", diff)
	}
}

func TestEmitRequiresKey(t *testing.T) {
	f := newFixture(t, Options{})
	body := model.EmitLabelRequest{URI: "at://A", Val: "copyright-violation"}

	resp, _ := f.do(t, http.MethodPost, "/emit-label", body, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing key: status %d", resp.StatusCode)
	}
	resp, _ = f.do(t, http.MethodPost, "/emit-label", body, map[string]string{keyHeader: "wrong"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong key: status %d", resp.StatusCode)
	}

	got := f.emit(t, "at://A")
	if got.Seq != 1 || got.Label.Src != testIssuer {
		t.Fatalf("unexpected emit response: %+v", got)
	}
	if err := got.Label.Verify(f.pub); err != nil {
		t.Fatalf("emitted label does not verify: %v", err)
	}
}

func TestEmitValidationIsBadRequest(t *testing.T) {
	f := newFixture(t, Options{})
	resp, data := f.admin(t, http.MethodPost, "/emit-label", model.EmitLabelRequest{URI: "at://A"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d: %s", resp.StatusCode, data)
	}
	var e model.CodedError
	mustDecode(t, data, &e)
	if e.Code != model.ErrBadRequest {
		t.Fatalf("code = %q", e.Code)
	}

	resp, _ = f.do(t, http.MethodPost, "/emit-label", nil, map[string]string{keyHeader: testToken})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty body: status %d", resp.StatusCode)
	}
}

func TestEmitIdempotencyKeyReplays(t *testing.T) {
	f := newFixture(t, Options{IdempotencyTTL: time.Minute})
	hdr := map[string]string{keyHeader: testToken, idempotencyHeader: "req-1"}
	body := model.EmitLabelRequest{URI: "at://A", Val: "copyright-violation"}

	resp, first := f.do(t, http.MethodPost, "/emit-label", body, hdr)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first: status %d", resp.StatusCode)
	}
	resp, second := f.do(t, http.MethodPost, "/emit-label", body, hdr)
	if resp.StatusCode != http.StatusOK || resp.Header.Get(replayHeader) != "true" {
		t.Fatalf("replay: status %d header %q", resp.StatusCode, resp.Header.Get(replayHeader))
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("replayed body differs:\n%s\n%s", first, second)
	}
	if got := f.emit(t, "at://B"); got.Seq != 2 {
		t.Fatalf("replay appended a label: next seq = %d", got.Seq)
	}
}

func TestQueryLabels(t *testing.T) {
	f := newFixture(t, Options{})
	for _, uri := range []string{"at://did:plc:a/post/1", "at://did:plc:b/post/1", "at://did:plc:a/post/2"} {
		f.emit(t, uri)
	}

	resp, data := f.do(t, http.MethodGet, "/xrpc/com.atproto.label.queryLabels?uriPatterns=at://did:plc:a/*&limit=1", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, data)
	}
	var page model.QueryLabelsResponse
	mustDecode(t, data, &page)
	if len(page.Labels) != 1 || page.Labels[0].URI != "at://did:plc:a/post/1" || page.Cursor == nil || *page.Cursor != "1" {
		t.Fatalf("first page = %s", data)
	}

	_, data = f.do(t, http.MethodGet, "/xrpc/com.atproto.label.queryLabels?uriPatterns=at://did:plc:a/*&limit=1&cursor=1", nil, nil)
	page = model.QueryLabelsResponse{}
	mustDecode(t, data, &page)
	if len(page.Labels) != 1 || page.Labels[0].URI != "at://did:plc:a/post/2" || page.Cursor != nil {
		t.Fatalf("second page = %s", data)
	}
	if !strings.Contains(string(data), `"cursor":null`) {
		t.Fatalf("last page must carry a null cursor: %s", data)
	}
}

func TestQueryLabelsAcceptsCommaSeparatedPatterns(t *testing.T) {
	f := newFixture(t, Options{})
	f.emit(t, "at://A")
	f.emit(t, "at://B")
	f.emit(t, "at://C")

	_, data := f.do(t, http.MethodGet, "/xrpc/com.atproto.label.queryLabels?uriPatterns=at://A,at://C&cursor=bogus", nil, nil)
	var page model.QueryLabelsResponse
	mustDecode(t, data, &page)
	var got []string
	for _, l := range page.Labels {
		got = append(got, l.URI)
	}
	if diff := cmp.Diff([]string{"at://A", "at://C"}, got); diff != "" {
		t.Fatalf("uris mismatch (-want +got):\n%s", diff)
	}
}

func TestQueryLabelsRequiresPatterns(t *testing.T) {
	f := newFixture(t, Options{})
	resp, _ := f.do(t, http.MethodGet, "/xrpc/com.atproto.label.queryLabels", nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, Options{RateLimitRPS: 0.001, RateLimitBurst: 1})
	path := "/xrpc/com.atproto.label.queryLabels?uriPatterns=*"
	if resp, _ := f.do(t, http.MethodGet, path, nil, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("first: status %d", resp.StatusCode)
	}
	resp, data := f.do(t, http.MethodGet, path, nil, nil)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second: status %d", resp.StatusCode)
	}
	var e model.CodedError
	mustDecode(t, data, &e)
	if e.Code != model.ErrRateLimited {
		t.Fatalf("code = %q", e.Code)
	}
}

func TestRateLimitForgetsIdleClients(t *testing.T) {
	limiter := ratelimit.New(0.001, 1, 30*time.Millisecond)
	f := newFixture(t, Options{Limiter: limiter})
	path := "/xrpc/com.atproto.label.queryLabels?uriPatterns=*"
	f.do(t, http.MethodGet, path, nil, nil)
	if resp, _ := f.do(t, http.MethodGet, path, nil, nil); resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second: status %d", resp.StatusCode)
	}

	time.Sleep(60 * time.Millisecond)
	limiter.Sweep()
	if n := limiter.Clients(); n != 0 {
		t.Fatalf("idle client still tracked: %d", n)
	}
	if resp, _ := f.do(t, http.MethodGet, path, nil, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("after idle window: status %d", resp.StatusCode)
	}
}

func TestSubscribeBackfillsThenStreams(t *testing.T) {
	f := newFixture(t, Options{})
	f.emit(t, "at://A")
	f.emit(t, "at://B")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/xrpc/com.atproto.label.subscribeLabels?cursor=0"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()

	var seqs []int64
	read := func() {
		var msg model.SubscribeMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if len(msg.Labels) != 1 {
			t.Fatalf("frame carries %d labels", len(msg.Labels))
		}
		seqs = append(seqs, msg.Seq)
	}
	read()
	read()

	// Wait for the live subscription before emitting.
	for f.feed.Subscribers() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	f.emit(t, "at://C")
	read()

	if diff := cmp.Diff([]int64{1, 2, 3}, seqs); diff != "" {
		t.Fatalf("seqs mismatch (-want +got):\n%s", diff)
	}
}

func TestSubscribeRejectsBadCursor(t *testing.T) {
	f := newFixture(t, Options{})
	resp, _ := f.do(t, http.MethodGet, "/xrpc/com.atproto.label.subscribeLabels?cursor=abc", nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestReviewFlow(t *testing.T) {
	f := newFixture(t, Options{})
	f.emit(t, "at://A")
	f.emit(t, "at://B")

	resp, data := f.admin(t, http.MethodGet, "/admin/flags", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("flags: status %d", resp.StatusCode)
	}
	var flags model.ListFlagsResponse
	mustDecode(t, data, &flags)
	if len(flags.Flags) != 2 || flags.Flags[0].URI != "at://B" {
		t.Fatalf("flags = %s", data)
	}

	resp, data = f.admin(t, http.MethodPost, "/admin/batches", model.CreateBatchRequest{URIs: []string{"at://A", "at://B"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create batch: status %d: %s", resp.StatusCode, data)
	}
	var created model.CreateBatchResponse
	mustDecode(t, data, &created)
	if created.MemberCount != 2 {
		t.Fatalf("member count = %d", created.MemberCount)
	}

	resp, data = f.admin(t, http.MethodPost, "/review/"+created.ID+"/submit", model.SubmitReviewRequest{Decisions: []model.ReviewDecision{
		{URI: "at://A", Decision: "clear"},
		{URI: "at://B", Decision: "confirm"},
	}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submit: status %d: %s", resp.StatusCode, data)
	}
	var submitted model.SubmitReviewResponse
	mustDecode(t, data, &submitted)
	if submitted.ResolvedCount != 1 {
		t.Fatalf("resolved = %d", submitted.ResolvedCount)
	}

	_, data = f.admin(t, http.MethodGet, "/review/"+created.ID+"/data", nil)
	var view model.BatchView
	mustDecode(t, data, &view)
	if view.Batch.Status != model.BatchCompleted {
		t.Fatalf("status = %q", view.Batch.Status)
	}
	resolved := map[string]bool{}
	for _, fl := range view.Flags {
		resolved[fl.URI] = fl.Resolved
	}
	if diff := cmp.Diff(map[string]bool{"at://A": true, "at://B": false}, resolved); diff != "" {
		t.Fatalf("resolution mismatch (-want +got):\n%s", diff)
	}
}

func TestReviewUnknownBatchIsNotFound(t *testing.T) {
	f := newFixture(t, Options{})
	resp, _ := f.admin(t, http.MethodGet, "/review/nope/data", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestResolveAndContext(t *testing.T) {
	f := newFixture(t, Options{})
	f.emit(t, "at://A")

	score := 0.9
	resp, data := f.admin(t, http.MethodPost, "/admin/context", model.StoreContextRequest{URI: "at://A", Context: model.Context{HighestScore: &score}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("context: status %d: %s", resp.StatusCode, data)
	}

	reason := "licensed"
	resp, data = f.admin(t, http.MethodPost, "/admin/resolve", model.ResolveRequest{URI: "at://A", Reason: &reason})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resolve: status %d: %s", resp.StatusCode, data)
	}
	var got model.ResolveResponse
	mustDecode(t, data, &got)
	want := model.ResolveResponse{Seq: 2, Message: "created negation label for at://A"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("resolve mismatch (-want +got):\n%s", diff)
	}

	_, data = f.admin(t, http.MethodGet, "/admin/flags", nil)
	var flags model.ListFlagsResponse
	mustDecode(t, data, &flags)
	if len(flags.Flags) != 1 || !flags.Flags[0].Resolved || flags.Flags[0].Context == nil {
		t.Fatalf("flags after resolve = %s", data)
	}
}

func TestProtectedRoutesUnavailableWithoutToken(t *testing.T) {
	signer, _, err := label.NewSignerFromHex(testIssuer, keys.Secp256k1, testSecret)
	if err != nil {
		t.Fatalf("NewSignerFromHex: %v", err)
	}
	st := memstore.New()
	svc := labeler.New(signer, st, labeler.Options{Logger: quiet()})
	engine := resolution.New(st)
	h := New(svc, engine, review.New(svc, st, engine, review.Options{}), nil, Options{Logger: quiet()}).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/flags", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestDisabledLabelerIsUnavailable(t *testing.T) {
	svc := labeler.New(nil, nil, labeler.Options{Logger: quiet()})
	h := New(svc, nil, nil, nil, Options{Logger: quiet(), AuthToken: testToken}).Handler()

	for _, path := range []string{"/xrpc/com.atproto.label.queryLabels?uriPatterns=*", "/xrpc/com.atproto.label.subscribeLabels"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("%s: status %d", path, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/review/nope/data", nil)
	req.Header.Set(keyHeader, testToken)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("review without store: status %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	var got model.HealthResponse
	mustDecode(t, rec.Body.Bytes(), &got)
	if got.LabelerEnabled || got.SigningKey != "" {
		t.Fatalf("health = %+v", got)
	}
}
