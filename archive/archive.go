// Package archive keeps signed labels as immutable DAG-CBOR blocks keyed by
// their record CID, so a label log can be mirrored and audited offline.
package archive

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ipfs/go-cid"

	"xdao.co/labeler/distributor"
	"xdao.co/labeler/label"
	"xdao.co/labeler/store"
)

var (
	ErrNotFound    = errors.New("archive: not found")
	ErrInvalidCID  = errors.New("archive: invalid cid")
	ErrCIDMismatch = errors.New("archive: cid mismatch")
	ErrImmutable   = errors.New("archive: immutable object mismatch")
)

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// Archive is a content-addressed store of signed labels.
//
// Contract:
// - Put MUST be idempotent and MUST reject unsigned labels.
// - Stored blocks MUST be immutable.
// - The CID MUST be label.RecordCID of the stored label.
// - Get MUST return ErrNotFound when the CID is absent.
type Archive interface {
	Put(l label.Label) (cid.Cid, error)
	Get(id cid.Cid) (label.Label, error)
	Has(id cid.Cid) bool
}

// Backoff bounds for restarting Mirror after a failed write.
var (
	mirrorRetryMin = time.Second
	mirrorRetryMax = 30 * time.Second
)

// Mirror writes every record after cursor into a, then follows the live
// feed until ctx ends. A failed write restarts the session from the last
// archived seq after a backoff, so it returns only when ctx is done.
func Mirror(ctx context.Context, feed *distributor.Distributor, a Archive, cursor int64, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	var (
		n     int
		last  = cursor
		delay = mirrorRetryMin
	)
	for {
		from := last
		err := feed.Serve(ctx, &from, func(ctx context.Context, r store.Record) error {
			id, err := a.Put(r.Label)
			if err != nil {
				return err
			}
			last = r.Seq
			n++
			delay = mirrorRetryMin
			log.Debug("archived label", slog.Int64("seq", r.Seq), slog.String("cid", id.String()))
			return nil
		})
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			log.Info("archive mirror stopped", slog.Int("archived", n))
			return nil
		}
		log.Error("archive mirror failed; retrying",
			slog.Any("error", err), slog.Int64("last_archived", last), slog.Duration("retry_in", delay))

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			log.Info("archive mirror stopped", slog.Int("archived", n))
			return nil
		case <-t.C:
		}
		delay = min(delay*2, mirrorRetryMax)
	}
}
