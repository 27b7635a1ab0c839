package sqlite

const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS labels (
	seq INTEGER PRIMARY KEY,
	ver INTEGER NOT NULL DEFAULT 1,
	src TEXT NOT NULL,
	uri TEXT NOT NULL,
	cid TEXT,
	val TEXT NOT NULL,
	neg INTEGER NOT NULL DEFAULT 0,
	cts TEXT NOT NULL,
	exp TEXT,
	sig BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_labels_uri ON labels(uri);
CREATE INDEX IF NOT EXISTS idx_labels_val_neg ON labels(val, neg);

CREATE TABLE IF NOT EXISTS label_context (
	uri TEXT PRIMARY KEY,
	track_id INTEGER,
	track_title TEXT,
	artist_handle TEXT,
	artist_did TEXT,
	highest_score REAL,
	matches TEXT,
	resolution_reason TEXT,
	resolution_notes TEXT,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS review_batches (
	id TEXT PRIMARY KEY,
	created_at TEXT NOT NULL,
	expires_at TEXT,
	status TEXT NOT NULL DEFAULT 'pending',
	created_by TEXT
);

CREATE TABLE IF NOT EXISTS batch_members (
	batch_id TEXT NOT NULL REFERENCES review_batches(id) ON DELETE CASCADE,
	uri TEXT NOT NULL,
	position INTEGER NOT NULL,
	reviewed INTEGER NOT NULL DEFAULT 0,
	reviewed_at TEXT,
	decision TEXT,
	PRIMARY KEY (batch_id, uri)
);
`
