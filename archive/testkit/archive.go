package testkit

import (
	"bytes"
	"testing"

	"github.com/ipfs/go-cid"

	"xdao.co/labeler/archive"
	"xdao.co/labeler/label"
	storekit "xdao.co/labeler/store/testkit"
)

// NewArchive constructs a fresh, empty Archive for a test.
// The returned Archive MUST be isolated from other tests.
type NewArchive func(t *testing.T) archive.Archive

func RunArchiveConformance(t *testing.T, newArchive NewArchive) {
	t.Helper()

	t.Run("PutGetRoundTrip", func(t *testing.T) {
		a := newArchive(t)
		want := storekit.Label("at://a/1", "copyright-violation", false)

		id, err := a.Put(want)
		if err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		wantID, err := want.RecordCID()
		if err != nil {
			t.Fatalf("RecordCID failed: %v", err)
		}
		if !id.Equals(wantID) {
			t.Fatalf("Put CID mismatch: got %s want %s", id, wantID)
		}

		got, err := a.Get(id)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.URI != want.URI || got.Cts != want.Cts || !bytes.Equal(got.Sig, want.Sig) {
			t.Fatalf("Get label mismatch: %+v", got)
		}
	})

	t.Run("PutIdempotent", func(t *testing.T) {
		a := newArchive(t)
		l := storekit.Label("at://a/2", "copyright-violation", true)

		id1, err := a.Put(l)
		if err != nil {
			t.Fatalf("Put(1) failed: %v", err)
		}
		id2, err := a.Put(l)
		if err != nil {
			t.Fatalf("Put(2) failed: %v", err)
		}
		if !id1.Equals(id2) {
			t.Fatalf("Put not idempotent: %s vs %s", id1, id2)
		}
	})

	t.Run("HasAndNotFound", func(t *testing.T) {
		a := newArchive(t)
		l := storekit.Label("at://a/3", "copyright-violation", false)
		id, err := l.RecordCID()
		if err != nil {
			t.Fatalf("RecordCID failed: %v", err)
		}

		if a.Has(id) {
			t.Fatalf("Has returned true for missing CID")
		}
		if _, err := a.Get(id); !archive.IsNotFound(err) {
			t.Fatalf("Get missing: got err=%v want ErrNotFound", err)
		}
		if _, err := a.Put(l); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if !a.Has(id) {
			t.Fatalf("Has returned false after Put")
		}
	})

	t.Run("RejectUnsigned", func(t *testing.T) {
		a := newArchive(t)
		l := storekit.Label("at://a/4", "copyright-violation", false)
		l.Sig = nil
		if _, err := a.Put(l); !label.IsKind(err, label.KindSerialization) {
			t.Fatalf("Put unsigned: got err=%v", err)
		}
	})

	t.Run("RejectUndefCID", func(t *testing.T) {
		a := newArchive(t)
		var undef cid.Cid
		if a.Has(undef) {
			t.Fatalf("Has should be false for undefined CID")
		}
		if _, err := a.Get(undef); err == nil {
			t.Fatalf("Get should fail for undefined CID")
		}
	})
}
