// Package memstore is an in-process store.Store for tests and single-node
// development. Nothing survives a restart.
package memstore

import (
	"context"
	"sync"
	"time"

	"xdao.co/labeler/label"
	"xdao.co/labeler/model"
	"xdao.co/labeler/store"
)

func init() {
	store.MustRegister(store.Backend{
		Name:        "memory",
		Description: "In-memory store (not durable)",
		Schemes:     []string{"memory"},
		Open: func(ctx context.Context, dsn string) (store.Store, error) {
			return New(), nil
		},
	})
}

type batchState struct {
	batch   model.Batch
	members []model.Member
}

// Store keeps every table in memory behind one mutex.
type Store struct {
	mu       sync.RWMutex
	records  []store.Record
	contexts map[string]model.Context
	batches  map[string]*batchState
}

func New() *Store {
	return &Store{
		contexts: map[string]model.Context{},
		batches:  map[string]*batchState{},
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) Append(ctx context.Context, l label.Label) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if !l.Signed() {
		return 0, store.ErrUnsigned
	}
	l.Sig = append([]byte(nil), l.Sig...)

	s.mu.Lock()
	defer s.mu.Unlock()
	seq := int64(len(s.records)) + 1
	s.records = append(s.records, store.Record{Seq: seq, Label: l})
	return seq, nil
}

func (s *Store) Query(ctx context.Context, q store.Query) (store.Page, error) {
	if err := ctx.Err(); err != nil {
		return store.Page{}, err
	}
	limit := store.ClampLimit(q.Limit)
	patterns := store.ParsePatterns(q.Patterns)
	sources := make(map[string]struct{}, len(q.Sources))
	for _, src := range q.Sources {
		sources[src] = struct{}{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.Record
	for _, r := range s.after(q.Cursor) {
		if !store.MatchAny(patterns, r.Label.URI) {
			continue
		}
		if len(sources) > 0 {
			if _, ok := sources[r.Label.Src]; !ok {
				continue
			}
		}
		out = append(out, r)
		if len(out) > limit {
			break
		}
	}
	return store.NewPage(out, limit), nil
}

func (s *Store) Since(ctx context.Context, cursor int64, limit int) ([]store.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rest := s.after(cursor)
	if limit > 0 && len(rest) > limit {
		rest = rest[:limit]
	}
	return append([]store.Record(nil), rest...), nil
}

// after returns the records with seq > cursor. Caller holds s.mu.
func (s *Store) after(cursor int64) []store.Record {
	if cursor < 0 {
		cursor = 0
	}
	if cursor >= int64(len(s.records)) {
		return nil
	}
	return s.records[cursor:]
}

func (s *Store) LatestSeq(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.records)), nil
}

func (s *Store) Targets(ctx context.Context, val string, neg bool, candidates []string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	allowed := toSet(candidates)

	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[string]struct{}{}
	var out []string
	for _, r := range s.records {
		if r.Label.Val != val || r.Label.Neg != neg {
			continue
		}
		if allowed != nil {
			if _, ok := allowed[r.Label.URI]; !ok {
				continue
			}
		}
		if _, dup := seen[r.Label.URI]; dup {
			continue
		}
		seen[r.Label.URI] = struct{}{}
		out = append(out, r.Label.URI)
	}
	return out, nil
}

func (s *Store) Assertions(ctx context.Context, val string, targets []string) ([]store.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	allowed := toSet(targets)

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.Record
	for i := len(s.records) - 1; i >= 0; i-- {
		r := s.records[i]
		if r.Label.Val != val || r.Label.Neg {
			continue
		}
		if allowed != nil {
			if _, ok := allowed[r.Label.URI]; !ok {
				continue
			}
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *Store) PutContext(ctx context.Context, uri string, c model.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts[uri] = s.contexts[uri].Merge(c)
	return nil
}

func (s *Store) PutResolution(ctx context.Context, uri string, reason model.ResolutionReason, notes *string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.contexts[uri]
	c.ResolutionReason = &reason
	c.ResolutionNotes = notes
	s.contexts[uri] = c
	return nil
}

func (s *Store) Contexts(ctx context.Context, uris []string) (map[string]model.Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]model.Context, len(uris))
	for _, uri := range uris {
		if c, ok := s.contexts[uri]; ok {
			out[uri] = c
		}
	}
	return out, nil
}

func (s *Store) CreateBatch(ctx context.Context, b model.Batch, uris []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.batches[b.ID]; exists {
		return store.ErrConflict
	}
	st := &batchState{batch: b}
	seen := map[string]struct{}{}
	for _, uri := range uris {
		if _, dup := seen[uri]; dup {
			continue
		}
		seen[uri] = struct{}{}
		st.members = append(st.members, model.Member{URI: uri})
	}
	s.batches[b.ID] = st
	return nil
}

func (s *Store) GetBatch(ctx context.Context, id string) (model.Batch, error) {
	if err := ctx.Err(); err != nil {
		return model.Batch{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.batches[id]
	if !ok {
		return model.Batch{}, store.ErrNotFound
	}
	return st.batch, nil
}

func (s *Store) Members(ctx context.Context, id string) ([]model.Member, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.batches[id]
	if !ok {
		return nil, nil
	}
	return append([]model.Member(nil), st.members...), nil
}

func (s *Store) MarkReviewed(ctx context.Context, id, uri string, d model.Decision, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.batches[id]
	if !ok {
		return false, nil
	}
	for i := range st.members {
		if st.members[i].URI != uri {
			continue
		}
		when := at.UTC()
		dec := d
		st.members[i].Reviewed = true
		st.members[i].ReviewedAt = &when
		st.members[i].Decision = &dec
		return true, nil
	}
	return false, nil
}

func (s *Store) CompleteBatch(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.batches[id]
	if !ok {
		return store.ErrNotFound
	}
	st.batch.Status = model.BatchCompleted
	return nil
}

func toSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[v] = struct{}{}
	}
	return out
}
