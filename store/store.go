// Package store defines the durable label log and its side tables.
//
// The log is the single authoritative order for every downstream consumer:
// sequence numbers are assigned at append time, strictly increasing and
// contiguous, and no other field may be used to infer recency.
package store

import (
	"context"
	"strconv"
	"time"

	"xdao.co/labeler/label"
	"xdao.co/labeler/model"
)

const (
	// DefaultLimit applies when a query does not name a page size.
	DefaultLimit = 50
	// MaxLimit is the largest page Query will return.
	MaxLimit = 250
)

// Record is a label together with its log position.
type Record struct {
	Seq   int64
	Label label.Label
}

// Query selects labels by target pattern.
type Query struct {
	// Patterns must be non-empty; a label matches if any pattern matches its uri.
	Patterns []string
	// Sources restricts results to these issuers when non-empty.
	Sources []string
	// Cursor is exclusive: results start strictly after it.
	Cursor int64
	// Limit is clamped with ClampLimit.
	Limit int
}

// Page is one ascending slice of query results.
type Page struct {
	Records []Record
	// Cursor is the last returned seq when more results exist, else "".
	Cursor string
}

// ClampLimit maps a requested page size into [1, MaxLimit].
func ClampLimit(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxLimit {
		return MaxLimit
	}
	return n
}

// NewPage builds a Page from up to limit+1 ascending records.
// The extra record only signals that another page exists.
func NewPage(records []Record, limit int) Page {
	if len(records) > limit {
		records = records[:limit]
		return Page{Records: records, Cursor: strconv.FormatInt(records[len(records)-1].Seq, 10)}
	}
	return Page{Records: records}
}

// Log is the append-only label sequence.
//
// Contract:
//   - Append MUST assign the next contiguous seq and be durable before returning.
//   - Append MUST reject unsigned labels with ErrUnsigned.
//   - Query, Since and LatestSeq MUST observe every Append that has returned.
type Log interface {
	Append(ctx context.Context, l label.Label) (int64, error)
	Query(ctx context.Context, q Query) (Page, error)
	Since(ctx context.Context, cursor int64, limit int) ([]Record, error)
	LatestSeq(ctx context.Context) (int64, error)

	// Targets returns the distinct targets carrying a val label of the given
	// polarity. A non-empty candidates slice restricts the result to it.
	Targets(ctx context.Context, val string, neg bool, candidates []string) ([]string, error)
	// Assertions returns every non-negating val label in descending seq order,
	// restricted to targets when targets is non-empty.
	Assertions(ctx context.Context, val string, targets []string) ([]Record, error)
}

// Contexts is the best-effort descriptive side table keyed by target.
type Contexts interface {
	// PutContext merges c into the stored context: present fields win.
	PutContext(ctx context.Context, uri string, c model.Context) error
	// PutResolution overwrites the resolution reason and notes.
	PutResolution(ctx context.Context, uri string, reason model.ResolutionReason, notes *string) error
	// Contexts returns the stored context for each known uri.
	Contexts(ctx context.Context, uris []string) (map[string]model.Context, error)
}

// Batches persists review batches and their members.
type Batches interface {
	// CreateBatch stores b with one unreviewed member per distinct uri.
	// It returns ErrConflict if b.ID already exists.
	CreateBatch(ctx context.Context, b model.Batch, uris []string) error
	// GetBatch returns ErrNotFound for an unknown id.
	GetBatch(ctx context.Context, id string) (model.Batch, error)
	// Members returns members in insertion order.
	Members(ctx context.Context, id string) ([]model.Member, error)
	// MarkReviewed records a decision and reports whether uri is a member.
	MarkReviewed(ctx context.Context, id, uri string, d model.Decision, at time.Time) (bool, error)
	// CompleteBatch moves the batch to completed.
	CompleteBatch(ctx context.Context, id string) error
}

// Store is everything a labeler process persists.
type Store interface {
	Log
	Contexts
	Batches
	Close() error
}
