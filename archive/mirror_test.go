package archive_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"xdao.co/labeler/archive"
	"xdao.co/labeler/archive/localfs"
	"xdao.co/labeler/distributor"
	"xdao.co/labeler/store"
	"xdao.co/labeler/store/memstore"
	"xdao.co/labeler/store/testkit"
)

func TestMirrorArchivesBacklogAndLive(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := memstore.New()
	feed := distributor.New(st, distributor.Options{})
	a, err := localfs.New(t.TempDir())
	if err != nil {
		t.Fatalf("localfs.New: %v", err)
	}

	appendLabel := func(i int) store.Record {
		l := testkit.Label(fmt.Sprintf("at://m/%d", i), "copyright-violation", false)
		seq, err := st.Append(ctx, l)
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		return store.Record{Seq: seq, Label: l}
	}
	backlog := []store.Record{appendLabel(1), appendLabel(2)}

	done := make(chan error, 1)
	go func() { done <- archive.Mirror(ctx, feed, a, 0, nil) }()

	for feed.Subscribers() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	live := appendLabel(3)
	feed.Publish(live)

	for _, r := range append(backlog, live) {
		id, err := r.Label.RecordCID()
		if err != nil {
			t.Fatalf("RecordCID: %v", err)
		}
		deadline := time.Now().Add(2 * time.Second)
		for !a.Has(id) {
			if time.Now().After(deadline) {
				t.Fatalf("seq %d never archived", r.Seq)
			}
			time.Sleep(5 * time.Millisecond)
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Mirror: %v", err)
	}
}
