package localfs

import (
	"errors"
	"os"
	"testing"

	"xdao.co/labeler/archive"
	"xdao.co/labeler/archive/testkit"
	storekit "xdao.co/labeler/store/testkit"
)

func TestLocalFS_Conformance(t *testing.T) {
	testkit.RunArchiveConformance(t, func(t *testing.T) archive.Archive {
		t.Helper()
		a, err := New(t.TempDir())
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		return a
	})
}

func TestLocalFS_DetectsTampering(t *testing.T) {
	a, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	id, err := a.Put(storekit.Label("at://a", "copyright-violation", false))
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	path := a.pathFor(id)
	if err := os.Chmod(path, 0o644); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	if err := os.WriteFile(path, []byte("tampered"), 0o644); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	if _, err := a.Get(id); !errors.Is(err, archive.ErrCIDMismatch) {
		t.Fatalf("Get after tamper: got %v want ErrCIDMismatch", err)
	}
	if _, err := a.Put(storekit.Label("at://a", "copyright-violation", false)); !errors.Is(err, archive.ErrImmutable) {
		t.Fatalf("Put after tamper: got %v want ErrImmutable", err)
	}
}

func TestNewRequiresRoot(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatalf("expected error for empty root")
	}
}
