// Package postgres is the production store.Store backed by pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"xdao.co/labeler/label"
	"xdao.co/labeler/model"
	"xdao.co/labeler/store"
)

func init() {
	store.MustRegister(store.Backend{
		Name:        "postgres",
		Description: "PostgreSQL via pgxpool",
		Schemes:     []string{"postgres", "postgresql"},
		Open: func(ctx context.Context, dsn string) (store.Store, error) {
			return Open(ctx, dsn)
		},
	})
}

// appendLockKey serializes seq allocation so commit order equals seq order.
const appendLockKey int64 = 0x6c6162656c6c6f67

// Store implements store.Store on a pgx pool.
type Store struct{ DB *pgxpool.Pool }

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

// Open connects, pings and applies the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", store.Redact(dsn), err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping %s: %w", store.Redact(dsn), err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return New(pool), nil
}

func (s *Store) Close() error {
	s.DB.Close()
	return nil
}

const labelColumns = "seq, ver, src, uri, cid, val, neg, cts, exp, sig"

func (s *Store) Append(ctx context.Context, l label.Label) (int64, error) {
	if !l.Signed() {
		return 0, store.ErrUnsigned
	}
	cts, err := label.ParseTime(l.Cts)
	if err != nil {
		return 0, fmt.Errorf("parse cts: %w", err)
	}
	var exp *time.Time
	if l.Exp != "" {
		t, err := label.ParseTime(l.Exp)
		if err != nil {
			return 0, fmt.Errorf("parse exp: %w", err)
		}
		exp = &t
	}

	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, appendLockKey); err != nil {
		return 0, fmt.Errorf("lock log: %w", err)
	}
	var seq int64
	err = tx.QueryRow(ctx, `
		INSERT INTO labels (seq, ver, src, uri, cid, val, neg, cts, exp, sig)
		VALUES ((SELECT COALESCE(MAX(seq), 0) + 1 FROM labels), $1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING seq`,
		l.Ver, l.Src, l.URI, nullIfEmpty(l.CID), l.Val, l.Neg, cts, exp, l.Sig,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("insert label: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return seq, nil
}

func (s *Store) Query(ctx context.Context, q store.Query) (store.Page, error) {
	limit := store.ClampLimit(q.Limit)
	args := []any{q.Cursor}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var ors []string
	for _, p := range store.ParsePatterns(q.Patterns) {
		if p.HasWildcard() {
			ors = append(ors, "uri LIKE "+arg(p.Like())+` ESCAPE '\'`)
		} else {
			ors = append(ors, "uri = "+arg(p.String()))
		}
	}
	if len(ors) == 0 {
		return store.Page{}, nil
	}
	where := "seq > $1 AND (" + strings.Join(ors, " OR ") + ")"
	if len(q.Sources) > 0 {
		where += " AND src = ANY(" + arg(q.Sources) + ")"
	}
	sql := "SELECT " + labelColumns + " FROM labels WHERE " + where + " ORDER BY seq ASC LIMIT " + arg(limit+1)

	rows, err := s.DB.Query(ctx, sql, args...)
	if err != nil {
		return store.Page{}, fmt.Errorf("query labels: %w", err)
	}
	recs, err := scanRecords(rows)
	if err != nil {
		return store.Page{}, err
	}
	return store.NewPage(recs, limit), nil
}

func (s *Store) Since(ctx context.Context, cursor int64, limit int) ([]store.Record, error) {
	var limitArg any
	if limit > 0 {
		limitArg = limit
	}
	rows, err := s.DB.Query(ctx,
		"SELECT "+labelColumns+" FROM labels WHERE seq > $1 ORDER BY seq ASC LIMIT $2", cursor, limitArg)
	if err != nil {
		return nil, fmt.Errorf("labels since %d: %w", cursor, err)
	}
	return scanRecords(rows)
}

func (s *Store) LatestSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := s.DB.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM labels`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("latest seq: %w", err)
	}
	return seq, nil
}

func (s *Store) Targets(ctx context.Context, val string, neg bool, candidates []string) ([]string, error) {
	query := `SELECT uri FROM labels WHERE val = $1 AND neg = $2`
	args := []any{val, neg}
	if len(candidates) > 0 {
		query += ` AND uri = ANY($3)`
		args = append(args, candidates)
	}
	query += ` GROUP BY uri ORDER BY MIN(seq)`

	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query targets: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect targets: %w", err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func (s *Store) Assertions(ctx context.Context, val string, targets []string) ([]store.Record, error) {
	query := "SELECT " + labelColumns + " FROM labels WHERE val = $1 AND NOT neg"
	args := []any{val}
	if len(targets) > 0 {
		query += " AND uri = ANY($2)"
		args = append(args, targets)
	}
	query += " ORDER BY seq DESC"

	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query assertions: %w", err)
	}
	return scanRecords(rows)
}

func (s *Store) PutContext(ctx context.Context, uri string, c model.Context) error {
	var matches any
	if c.Matches != nil {
		matches = c.Matches
	}
	var reason *string
	if c.ResolutionReason != nil {
		r := string(*c.ResolutionReason)
		reason = &r
	}
	_, err := s.DB.Exec(ctx, `
		INSERT INTO label_context (uri, track_id, track_title, artist_handle, artist_did, highest_score, matches,
			resolution_reason, resolution_notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (uri) DO UPDATE SET
			track_id = COALESCE(EXCLUDED.track_id, label_context.track_id),
			track_title = COALESCE(EXCLUDED.track_title, label_context.track_title),
			artist_handle = COALESCE(EXCLUDED.artist_handle, label_context.artist_handle),
			artist_did = COALESCE(EXCLUDED.artist_did, label_context.artist_did),
			highest_score = COALESCE(EXCLUDED.highest_score, label_context.highest_score),
			matches = COALESCE(EXCLUDED.matches, label_context.matches),
			resolution_reason = COALESCE(EXCLUDED.resolution_reason, label_context.resolution_reason),
			resolution_notes = COALESCE(EXCLUDED.resolution_notes, label_context.resolution_notes),
			updated_at = NOW()`,
		uri, c.TrackID, c.TrackTitle, c.ArtistHandle, c.ArtistDID, c.HighestScore, matches, reason, c.ResolutionNotes)
	if err != nil {
		return fmt.Errorf("upsert context: %w", err)
	}
	return nil
}

func (s *Store) PutResolution(ctx context.Context, uri string, reason model.ResolutionReason, notes *string) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO label_context (uri, resolution_reason, resolution_notes)
		VALUES ($1, $2, $3)
		ON CONFLICT (uri) DO UPDATE SET
			resolution_reason = EXCLUDED.resolution_reason,
			resolution_notes = EXCLUDED.resolution_notes,
			updated_at = NOW()`,
		uri, string(reason), notes)
	if err != nil {
		return fmt.Errorf("store resolution: %w", err)
	}
	return nil
}

func (s *Store) Contexts(ctx context.Context, uris []string) (map[string]model.Context, error) {
	out := make(map[string]model.Context, len(uris))
	if len(uris) == 0 {
		return out, nil
	}
	rows, err := s.DB.Query(ctx, `
		SELECT uri, track_id, track_title, artist_handle, artist_did, highest_score, matches,
			resolution_reason, resolution_notes
		FROM label_context WHERE uri = ANY($1)`, uris)
	if err != nil {
		return nil, fmt.Errorf("query contexts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			uri    string
			c      model.Context
			reason *string
		)
		if err := rows.Scan(&uri, &c.TrackID, &c.TrackTitle, &c.ArtistHandle, &c.ArtistDID, &c.HighestScore,
			&c.Matches, &reason, &c.ResolutionNotes); err != nil {
			return nil, fmt.Errorf("scan context: %w", err)
		}
		if reason != nil {
			r := model.ResolutionReason(*reason)
			c.ResolutionReason = &r
		}
		out[uri] = c
	}
	return out, rows.Err()
}

func (s *Store) CreateBatch(ctx context.Context, b model.Batch, uris []string) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		INSERT INTO review_batches (id, created_at, expires_at, status, created_by)
		VALUES ($1, $2, $3, $4, $5) ON CONFLICT (id) DO NOTHING`,
		b.ID, b.CreatedAt, b.ExpiresAt, string(b.Status), b.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrConflict
	}
	for i, uri := range uris {
		if _, err := tx.Exec(ctx, `
			INSERT INTO batch_members (batch_id, uri, position) VALUES ($1, $2, $3)
			ON CONFLICT (batch_id, uri) DO NOTHING`, b.ID, uri, i); err != nil {
			return fmt.Errorf("insert batch member: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) GetBatch(ctx context.Context, id string) (model.Batch, error) {
	var (
		b      model.Batch
		status string
	)
	err := s.DB.QueryRow(ctx, `
		SELECT id, created_at, expires_at, status, created_by FROM review_batches WHERE id = $1`, id).
		Scan(&b.ID, &b.CreatedAt, &b.ExpiresAt, &status, &b.CreatedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Batch{}, store.ErrNotFound
	}
	if err != nil {
		return model.Batch{}, fmt.Errorf("get batch: %w", err)
	}
	b.Status = model.BatchStatus(status)
	return b, nil
}

func (s *Store) Members(ctx context.Context, id string) ([]model.Member, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT uri, reviewed, reviewed_at, decision FROM batch_members
		WHERE batch_id = $1 ORDER BY position ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()
	var out []model.Member
	for rows.Next() {
		var (
			m   model.Member
			dec *string
		)
		if err := rows.Scan(&m.URI, &m.Reviewed, &m.ReviewedAt, &dec); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		if dec != nil {
			d := model.Decision(*dec)
			m.Decision = &d
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) MarkReviewed(ctx context.Context, id, uri string, d model.Decision, at time.Time) (bool, error) {
	tag, err := s.DB.Exec(ctx, `
		UPDATE batch_members SET reviewed = TRUE, reviewed_at = $1, decision = $2
		WHERE batch_id = $3 AND uri = $4`, at.UTC(), string(d), id, uri)
	if err != nil {
		return false, fmt.Errorf("mark reviewed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) CompleteBatch(ctx context.Context, id string) error {
	tag, err := s.DB.Exec(ctx, `UPDATE review_batches SET status = $1 WHERE id = $2`, string(model.BatchCompleted), id)
	if err != nil {
		return fmt.Errorf("complete batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func scanRecords(rows pgx.Rows) ([]store.Record, error) {
	defer rows.Close()
	var out []store.Record
	for rows.Next() {
		var (
			r   store.Record
			cid *string
			cts time.Time
			exp *time.Time
		)
		l := &r.Label
		if err := rows.Scan(&r.Seq, &l.Ver, &l.Src, &l.URI, &cid, &l.Val, &l.Neg, &cts, &exp, &l.Sig); err != nil {
			return nil, fmt.Errorf("scan label: %w", err)
		}
		if cid != nil {
			l.CID = *cid
		}
		l.Cts = label.FormatTime(cts)
		if exp != nil {
			l.Exp = label.FormatTime(*exp)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
