package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"xdao.co/labeler/store"
	"xdao.co/labeler/store/testkit"
)

func TestSQLiteConformance(t *testing.T) {
	testkit.RunStoreConformance(t, func(t *testing.T) store.Store {
		s, err := Open(context.Background(), filepath.Join(t.TempDir(), "labels.db"))
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestReopenKeepsLog(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "labels.db")

	s, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := s.Append(ctx, testkit.Label("at://r/1", "copyright-violation", false)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	seq, err := s.Append(ctx, testkit.Label("at://r/2", "copyright-violation", false))
	if err != nil {
		t.Fatalf("Append after reopen: %v", err)
	}
	if seq != 2 {
		t.Fatalf("seq after reopen=%d want 2", seq)
	}
}

func TestOpenByScheme(t *testing.T) {
	dsn := "sqlite:" + filepath.Join(t.TempDir(), "labels.db")
	s, err := store.Open(context.Background(), dsn)
	if err != nil {
		t.Fatalf("store.Open(%q): %v", dsn, err)
	}
	defer s.Close()
	if _, ok := s.(*Store); !ok {
		t.Fatalf("unexpected store type %T", s)
	}
}
