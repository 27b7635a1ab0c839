// Package distributor fans newly appended labels out to live subscribers
// and stitches each subscriber's backfill onto the live feed so every seq
// is delivered exactly once, in ascending order.
package distributor

import (
	"context"
	"log/slog"
	"sync"

	"xdao.co/labeler/label"
	"xdao.co/labeler/store"
)

const (
	DefaultBuffer = 1024
	DefaultPage   = 1000
)

// Backlog is the part of the label log a session reads to catch up.
type Backlog interface {
	Since(ctx context.Context, cursor int64, limit int) ([]store.Record, error)
	LatestSeq(ctx context.Context) (int64, error)
}

// DeliverFunc hands one record to a subscriber's transport. A non-nil
// error ends the session.
type DeliverFunc func(ctx context.Context, r store.Record) error

type Options struct {
	// Buffer is the per-subscriber live queue capacity.
	Buffer int
	// Page is the backfill page size.
	Page   int
	Logger *slog.Logger
}

type subscription struct {
	ch     chan store.Record
	lagged chan struct{}
}

// Distributor is a bounded fan-out hub. Publish never blocks: a subscriber
// whose queue is full is marked lagged and later recovers from the store.
type Distributor struct {
	backlog Backlog
	buffer  int
	page    int
	log     *slog.Logger

	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*subscription
}

func New(backlog Backlog, opts Options) *Distributor {
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultBuffer
	}
	if opts.Page <= 0 {
		opts.Page = DefaultPage
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Distributor{
		backlog: backlog,
		buffer:  opts.Buffer,
		page:    opts.Page,
		log:     opts.Logger,
		subs:    make(map[uint64]*subscription),
	}
}

// Publish offers r to every live subscriber.
func (d *Distributor) Publish(r store.Record) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, sub := range d.subs {
		select {
		case sub.ch <- r:
		default:
			select {
			case sub.lagged <- struct{}{}:
				d.log.Debug("subscriber lagged", slog.Uint64("subscriber", id), slog.Int64("seq", r.Seq))
			default:
			}
		}
	}
}

// Subscribers returns the number of live sessions.
func (d *Distributor) Subscribers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subs)
}

func (d *Distributor) subscribe() (uint64, *subscription, func()) {
	sub := &subscription{
		ch:     make(chan store.Record, d.buffer),
		lagged: make(chan struct{}, 1),
	}
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.subs[id] = sub
	d.mu.Unlock()
	return id, sub, func() {
		d.mu.Lock()
		delete(d.subs, id)
		d.mu.Unlock()
	}
}

// Serve runs one subscriber session until ctx ends or deliver fails.
//
// With a cursor, every stored record after it is replayed before live
// records. Without one, only records appended after the session started
// are delivered.
func (d *Distributor) Serve(ctx context.Context, cursor *int64, deliver DeliverFunc) error {
	id, sub, unsubscribe := d.subscribe()
	defer unsubscribe()

	var (
		last int64
		err  error
	)
	if cursor != nil {
		last = max(*cursor, 0)
		if last, err = d.backfill(ctx, last, deliver); err != nil {
			return err
		}
	} else if last, err = d.backlog.LatestSeq(ctx); err != nil {
		return label.WrapError(label.KindStorage, "DST-BACKFILL-002", "read latest seq", err)
	}
	d.log.Debug("subscriber live", slog.Uint64("subscriber", id), slog.Int64("last_seen", last))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sub.lagged:
			d.log.Warn("subscriber fell behind live feed; replaying from store",
				slog.Uint64("subscriber", id), slog.Int64("last_seen", last))
			if last, err = d.backfill(ctx, last, deliver); err != nil {
				return err
			}
		case r := <-sub.ch:
			if r.Seq <= last {
				continue
			}
			if r.Seq > last+1 {
				if last, err = d.backfill(ctx, last, deliver); err != nil {
					return err
				}
				if r.Seq <= last {
					continue
				}
			}
			if err := d.deliver(ctx, r, deliver); err != nil {
				return err
			}
			last = r.Seq
		}
	}
}

// backfill delivers stored records after last, one page at a time, and
// returns the new last-delivered seq.
func (d *Distributor) backfill(ctx context.Context, last int64, deliver DeliverFunc) (int64, error) {
	for {
		recs, err := d.backlog.Since(ctx, last, d.page)
		if err != nil {
			return last, label.WrapError(label.KindStorage, "DST-BACKFILL-001", "backfill from store", err)
		}
		for _, r := range recs {
			if err := d.deliver(ctx, r, deliver); err != nil {
				return last, err
			}
			last = r.Seq
		}
		if len(recs) < d.page {
			return last, nil
		}
	}
}

func (d *Distributor) deliver(ctx context.Context, r store.Record, deliver DeliverFunc) error {
	if err := deliver(ctx, r); err != nil {
		return label.WrapError(label.KindDistribution, "DST-DELIVER-001", "deliver to subscriber", err)
	}
	return nil
}
