package postgres

const schema = `
CREATE TABLE IF NOT EXISTS labels (
	id BIGSERIAL PRIMARY KEY,
	seq BIGINT NOT NULL UNIQUE,
	ver INTEGER NOT NULL DEFAULT 1,
	src TEXT NOT NULL,
	uri TEXT NOT NULL,
	cid TEXT,
	val TEXT NOT NULL,
	neg BOOLEAN NOT NULL DEFAULT FALSE,
	cts TIMESTAMPTZ NOT NULL,
	exp TIMESTAMPTZ,
	sig BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_labels_uri ON labels(uri);
CREATE INDEX IF NOT EXISTS idx_labels_src ON labels(src);
CREATE INDEX IF NOT EXISTS idx_labels_val_neg ON labels(val, neg);

CREATE TABLE IF NOT EXISTS label_context (
	uri TEXT PRIMARY KEY,
	track_id BIGINT,
	track_title TEXT,
	artist_handle TEXT,
	artist_did TEXT,
	highest_score DOUBLE PRECISION,
	matches JSONB,
	resolution_reason TEXT,
	resolution_notes TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS review_batches (
	id TEXT PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ,
	status TEXT NOT NULL DEFAULT 'pending',
	created_by TEXT
);

CREATE TABLE IF NOT EXISTS batch_members (
	batch_id TEXT NOT NULL REFERENCES review_batches(id) ON DELETE CASCADE,
	uri TEXT NOT NULL,
	position INTEGER NOT NULL,
	reviewed BOOLEAN NOT NULL DEFAULT FALSE,
	reviewed_at TIMESTAMPTZ,
	decision TEXT,
	PRIMARY KEY (batch_id, uri)
);
`
