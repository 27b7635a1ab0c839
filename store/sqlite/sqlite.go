// Package sqlite is a single-file store.Store backed by modernc.org/sqlite.
//
// DSNs take the form sqlite:<path> or sqlite::memory:. All access goes
// through one connection, which serializes appends and keeps seq contiguous.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"xdao.co/labeler/label"
	"xdao.co/labeler/model"
	"xdao.co/labeler/store"
)

func init() {
	store.MustRegister(store.Backend{
		Name:        "sqlite",
		Description: "Embedded SQLite file (modernc.org/sqlite)",
		Schemes:     []string{"sqlite", "sqlite3"},
		Open: func(ctx context.Context, dsn string) (store.Store, error) {
			_, path, _ := strings.Cut(dsn, ":")
			return Open(ctx, strings.TrimPrefix(path, "//"))
		},
	})
}

const timeLayout = time.RFC3339Nano

var pragmas = []string{
	"busy_timeout(5000)",
	"foreign_keys(1)",
	"journal_mode(WAL)",
	"case_sensitive_like(1)",
}

// Store implements store.Store with SQLite.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies the schema.
// The parent directory is created if needed.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite: path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dsnWithPragmas(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func dsnWithPragmas(path string) string {
	var b strings.Builder
	b.WriteString("file:")
	b.WriteString(path)
	for i, p := range pragmas {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString("_pragma=")
		b.WriteString(p)
	}
	return b.String()
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	var v int
	err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&v)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_version(version) VALUES(?)", schemaVersion); err != nil {
			return fmt.Errorf("set schema version: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	case v != schemaVersion:
		return fmt.Errorf("unknown schema version %d", v)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

const labelColumns = "seq, ver, src, uri, cid, val, neg, cts, exp, sig"

func (s *Store) Append(ctx context.Context, l label.Label) (int64, error) {
	if !l.Signed() {
		return 0, store.ErrUnsigned
	}
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO labels (seq, ver, src, uri, cid, val, neg, cts, exp, sig)
		VALUES ((SELECT COALESCE(MAX(seq), 0) + 1 FROM labels), ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING seq`,
		l.Ver, l.Src, l.URI, nullIfEmpty(l.CID), l.Val, l.Neg, l.Cts, nullIfEmpty(l.Exp), l.Sig,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("insert label: %w", err)
	}
	return seq, nil
}

func (s *Store) Query(ctx context.Context, q store.Query) (store.Page, error) {
	limit := store.ClampLimit(q.Limit)
	var (
		where []string
		args  []any
	)
	where = append(where, "seq > ?")
	args = append(args, q.Cursor)

	var ors []string
	for _, p := range store.ParsePatterns(q.Patterns) {
		if p.HasWildcard() {
			ors = append(ors, `uri LIKE ? ESCAPE '\'`)
			args = append(args, p.Like())
		} else {
			ors = append(ors, "uri = ?")
			args = append(args, p.String())
		}
	}
	if len(ors) == 0 {
		return store.Page{}, nil
	}
	where = append(where, "("+strings.Join(ors, " OR ")+")")
	if len(q.Sources) > 0 {
		where = append(where, "src IN ("+placeholders(len(q.Sources))+")")
		for _, src := range q.Sources {
			args = append(args, src)
		}
	}
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+labelColumns+" FROM labels WHERE "+strings.Join(where, " AND ")+" ORDER BY seq ASC LIMIT ?", args...)
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
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+labelColumns+" FROM labels WHERE seq > ? ORDER BY seq ASC LIMIT ?", cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("labels since %d: %w", cursor, err)
	}
	return scanRecords(rows)
}

func (s *Store) LatestSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(seq), 0) FROM labels").Scan(&seq); err != nil {
		return 0, fmt.Errorf("latest seq: %w", err)
	}
	return seq, nil
}

func (s *Store) Targets(ctx context.Context, val string, neg bool, candidates []string) ([]string, error) {
	query := "SELECT uri FROM labels WHERE val = ? AND neg = ?"
	args := []any{val, neg}
	if len(candidates) > 0 {
		query += " AND uri IN (" + placeholders(len(candidates)) + ")"
		for _, c := range candidates {
			args = append(args, c)
		}
	}
	query += " GROUP BY uri ORDER BY MIN(seq)"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query targets: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var uri string
		if err := rows.Scan(&uri); err != nil {
			return nil, err
		}
		out = append(out, uri)
	}
	return out, rows.Err()
}

func (s *Store) Assertions(ctx context.Context, val string, targets []string) ([]store.Record, error) {
	query := "SELECT " + labelColumns + " FROM labels WHERE val = ? AND neg = 0"
	args := []any{val}
	if len(targets) > 0 {
		query += " AND uri IN (" + placeholders(len(targets)) + ")"
		for _, t := range targets {
			args = append(args, t)
		}
	}
	query += " ORDER BY seq DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query assertions: %w", err)
	}
	return scanRecords(rows)
}

func (s *Store) PutContext(ctx context.Context, uri string, c model.Context) error {
	var matches any
	if c.Matches != nil {
		b, err := json.Marshal(c.Matches)
		if err != nil {
			return fmt.Errorf("encode matches: %w", err)
		}
		matches = string(b)
	}
	var reason any
	if c.ResolutionReason != nil {
		reason = string(*c.ResolutionReason)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO label_context (uri, track_id, track_title, artist_handle, artist_did, highest_score, matches,
			resolution_reason, resolution_notes, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uri) DO UPDATE SET
			track_id = COALESCE(excluded.track_id, label_context.track_id),
			track_title = COALESCE(excluded.track_title, label_context.track_title),
			artist_handle = COALESCE(excluded.artist_handle, label_context.artist_handle),
			artist_did = COALESCE(excluded.artist_did, label_context.artist_did),
			highest_score = COALESCE(excluded.highest_score, label_context.highest_score),
			matches = COALESCE(excluded.matches, label_context.matches),
			resolution_reason = COALESCE(excluded.resolution_reason, label_context.resolution_reason),
			resolution_notes = COALESCE(excluded.resolution_notes, label_context.resolution_notes),
			updated_at = excluded.updated_at`,
		uri, c.TrackID, c.TrackTitle, c.ArtistHandle, c.ArtistDID, c.HighestScore, matches,
		reason, c.ResolutionNotes, nowUTC())
	if err != nil {
		return fmt.Errorf("upsert context: %w", err)
	}
	return nil
}

func (s *Store) PutResolution(ctx context.Context, uri string, reason model.ResolutionReason, notes *string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO label_context (uri, resolution_reason, resolution_notes, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(uri) DO UPDATE SET
			resolution_reason = excluded.resolution_reason,
			resolution_notes = excluded.resolution_notes,
			updated_at = excluded.updated_at`,
		uri, string(reason), notes, nowUTC())
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
	args := make([]any, len(uris))
	for i, u := range uris {
		args[i] = u
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT uri, track_id, track_title, artist_handle, artist_did, highest_score, matches,
			resolution_reason, resolution_notes
		FROM label_context WHERE uri IN (`+placeholders(len(uris))+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("query contexts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			uri                            string
			trackID                        sql.NullInt64
			title, handle, did, mjson, rsn sql.NullString
			notes                          sql.NullString
			score                          sql.NullFloat64
		)
		if err := rows.Scan(&uri, &trackID, &title, &handle, &did, &score, &mjson, &rsn, &notes); err != nil {
			return nil, err
		}
		var c model.Context
		if trackID.Valid {
			c.TrackID = &trackID.Int64
		}
		c.TrackTitle = strOrNil(title)
		c.ArtistHandle = strOrNil(handle)
		c.ArtistDID = strOrNil(did)
		if score.Valid {
			c.HighestScore = &score.Float64
		}
		if mjson.Valid {
			if err := json.Unmarshal([]byte(mjson.String), &c.Matches); err != nil {
				return nil, fmt.Errorf("decode matches for %s: %w", uri, err)
			}
		}
		if rsn.Valid {
			r := model.ResolutionReason(rsn.String)
			c.ResolutionReason = &r
		}
		c.ResolutionNotes = strOrNil(notes)
		out[uri] = c
	}
	return out, rows.Err()
}

func (s *Store) CreateBatch(ctx context.Context, b model.Batch, uris []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var expires any
	if b.ExpiresAt != nil {
		expires = b.ExpiresAt.UTC().Format(timeLayout)
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO review_batches (id, created_at, expires_at, status, created_by)
		VALUES (?, ?, ?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		b.ID, b.CreatedAt.UTC().Format(timeLayout), expires, string(b.Status), b.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrConflict
	}
	for i, uri := range uris {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO batch_members (batch_id, uri, position) VALUES (?, ?, ?)
			ON CONFLICT(batch_id, uri) DO NOTHING`, b.ID, uri, i); err != nil {
			return fmt.Errorf("insert batch member: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch tx: %w", err)
	}
	return nil
}

func (s *Store) GetBatch(ctx context.Context, id string) (model.Batch, error) {
	var (
		b                model.Batch
		created, status  string
		expires, creator sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, created_at, expires_at, status, created_by FROM review_batches WHERE id = ?", id).
		Scan(&b.ID, &created, &expires, &status, &creator)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Batch{}, store.ErrNotFound
	}
	if err != nil {
		return model.Batch{}, fmt.Errorf("get batch: %w", err)
	}
	if b.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return model.Batch{}, fmt.Errorf("parse created_at: %w", err)
	}
	if expires.Valid {
		t, err := time.Parse(timeLayout, expires.String)
		if err != nil {
			return model.Batch{}, fmt.Errorf("parse expires_at: %w", err)
		}
		b.ExpiresAt = &t
	}
	b.Status = model.BatchStatus(status)
	b.CreatedBy = strOrNil(creator)
	return b, nil
}

func (s *Store) Members(ctx context.Context, id string) ([]model.Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT uri, reviewed, reviewed_at, decision FROM batch_members
		WHERE batch_id = ? ORDER BY position ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()
	var out []model.Member
	for rows.Next() {
		var (
			m       model.Member
			at, dec sql.NullString
		)
		if err := rows.Scan(&m.URI, &m.Reviewed, &at, &dec); err != nil {
			return nil, err
		}
		if at.Valid {
			t, err := time.Parse(timeLayout, at.String)
			if err != nil {
				return nil, fmt.Errorf("parse reviewed_at: %w", err)
			}
			m.ReviewedAt = &t
		}
		if dec.Valid {
			d := model.Decision(dec.String)
			m.Decision = &d
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) MarkReviewed(ctx context.Context, id, uri string, d model.Decision, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE batch_members SET reviewed = 1, reviewed_at = ?, decision = ?
		WHERE batch_id = ? AND uri = ?`, at.UTC().Format(timeLayout), string(d), id, uri)
	if err != nil {
		return false, fmt.Errorf("mark reviewed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) CompleteBatch(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE review_batches SET status = ? WHERE id = ?", string(model.BatchCompleted), id)
	if err != nil {
		return fmt.Errorf("complete batch: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func scanRecords(rows *sql.Rows) ([]store.Record, error) {
	defer rows.Close()
	var out []store.Record
	for rows.Next() {
		var (
			r        store.Record
			cid, exp sql.NullString
		)
		l := &r.Label
		if err := rows.Scan(&r.Seq, &l.Ver, &l.Src, &l.URI, &cid, &l.Val, &l.Neg, &l.Cts, &exp, &l.Sig); err != nil {
			return nil, fmt.Errorf("scan label: %w", err)
		}
		l.CID = cid.String
		l.Exp = exp.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func strOrNil(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nowUTC() string { return time.Now().UTC().Format(timeLayout) }
