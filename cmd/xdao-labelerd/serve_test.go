package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ipfs/go-cid"

	"xdao.co/labeler/archive"
	"xdao.co/labeler/internal/config"
	"xdao.co/labeler/label"
	"xdao.co/labeler/model"
)

const demoSecret = "0101010101010101010101010101010101010101010101010101010101010101"

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load(config.NewViper(), "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return cfg
}

func TestAppWithoutStoreIsDisabled(t *testing.T) {
	a, err := newApp(context.Background(), testConfig(t))
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.Close()
	if a.svc.Enabled() {
		t.Fatalf("labeler must be disabled without configuration")
	}

	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	var health model.HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if health.Status != "ok" || health.LabelerEnabled {
		t.Fatalf("health = %+v", health)
	}
}

func TestAppEmitsWithMemoryStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.DatabaseURL = "memory:"
	cfg.LabelerDID = "did:plc:labeler"
	cfg.LabelerSigningKey = demoSecret
	cfg.AuthToken = "k"

	a, err := newApp(context.Background(), cfg)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.Close()

	req := httptest.NewRequest(http.MethodPost, "/emit-label", strings.NewReader(`{"uri":"at://A","val":"copyright-violation"}`))
	req.Header.Set("X-Moderation-Key", "k")
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("emit: status %d: %s", rec.Code, rec.Body)
	}

	rec = httptest.NewRecorder()
	a.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	var health model.HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !health.LabelerEnabled || !strings.HasPrefix(health.SigningKey, "did:key:z") {
		t.Fatalf("health = %+v", health)
	}
}

type brokenArchive struct{ puts atomic.Int32 }

func (b *brokenArchive) Put(label.Label) (cid.Cid, error) {
	b.puts.Add(1)
	return cid.Undef, errors.New("disk full")
}

func (b *brokenArchive) Get(cid.Cid) (label.Label, error) { return label.Label{}, archive.ErrNotFound }

func (b *brokenArchive) Has(cid.Cid) bool { return false }

func TestRunSurvivesArchiveFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.DatabaseURL = "memory:"
	cfg.LabelerDID = "did:plc:labeler"
	cfg.LabelerSigningKey = demoSecret
	cfg.AuthToken = "k"

	a, err := newApp(context.Background(), cfg)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.Close()
	broken := &brokenArchive{}
	a.archive = broken

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	emit := func(uri string) {
		t.Helper()
		req := httptest.NewRequest(http.MethodPost, "/emit-label", strings.NewReader(`{"uri":"`+uri+`","val":"copyright-violation"}`))
		req.Header.Set("X-Moderation-Key", "k")
		rec := httptest.NewRecorder()
		a.handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("emit %s: status %d: %s", uri, rec.Code, rec.Body)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for a.feed.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("archive mirror never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	emit("at://A")
	for broken.puts.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("archive never written")
		}
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case err := <-done:
		t.Fatalf("Run returned after an archive failure: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
	emit("at://B")

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not stop after cancel")
	}
}

func TestAppRejectsBadSigningKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.DatabaseURL = "memory:"
	cfg.LabelerDID = "did:plc:labeler"
	cfg.LabelerSigningKey = "not-hex"
	if _, err := newApp(context.Background(), cfg); err == nil {
		t.Fatalf("expected error for malformed signing key")
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	defer rootCmd.SetArgs(nil)
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out.String(), "xdao-labelerd dev") {
		t.Fatalf("version output %q", out.String())
	}
}
