package store

const postgresMigration = `
CREATE TABLE IF NOT EXISTS clusters (
	id              TEXT PRIMARY KEY,
	canonical_title TEXT NOT NULL,
	summary         TEXT NOT NULL DEFAULT '',
	title_hash      TEXT NOT NULL,
	window_start    TIMESTAMPTZ NOT NULL,
	window_end      TIMESTAMPTZ NOT NULL,
	countries       TEXT[] NOT NULL DEFAULT '{}',
	topics          TEXT[] NOT NULL DEFAULT '{}',
	severity        INTEGER NOT NULL DEFAULT 0 CHECK (severity BETWEEN 0 AND 100),
	confidence      INTEGER NOT NULL DEFAULT 0 CHECK (confidence BETWEEN 0 AND 100),
	article_count   INTEGER NOT NULL DEFAULT 0,
	source_count    INTEGER NOT NULL DEFAULT 0,
	entities        JSONB NOT NULL DEFAULT '{}',
	enriched_at     TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (title_hash, window_start)
);

CREATE INDEX IF NOT EXISTS idx_clusters_window_end ON clusters(window_end DESC);
CREATE INDEX IF NOT EXISTS idx_clusters_unenriched ON clusters(created_at) WHERE enriched_at IS NULL;

CREATE TABLE IF NOT EXISTS articles (
	id           TEXT PRIMARY KEY,
	title        TEXT NOT NULL,
	snippet      TEXT NOT NULL DEFAULT '',
	content      TEXT NOT NULL DEFAULT '',
	published_at TIMESTAMPTZ NOT NULL,
	domain       TEXT NOT NULL DEFAULT '',
	source_id    TEXT NOT NULL DEFAULT '',
	countries    TEXT[] NOT NULL DEFAULT '{}',
	topics       TEXT[] NOT NULL DEFAULT '{}',
	entities     JSONB,
	cluster_id   TEXT REFERENCES clusters(id) ON DELETE SET NULL,
	network_analyzed_at TIMESTAMPTZ,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

ALTER TABLE articles ADD COLUMN IF NOT EXISTS network_analyzed_at TIMESTAMPTZ;

CREATE INDEX IF NOT EXISTS idx_articles_unclustered ON articles(published_at DESC) WHERE cluster_id IS NULL;
CREATE INDEX IF NOT EXISTS idx_articles_unanalyzed ON articles(published_at DESC) WHERE network_analyzed_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_articles_cluster_id ON articles(cluster_id);

CREATE TABLE IF NOT EXISTS entities (
	id             TEXT PRIMARY KEY,
	name           TEXT NOT NULL,
	type           TEXT NOT NULL,
	canonical_name TEXT NOT NULL,
	aliases        TEXT[] NOT NULL DEFAULT '{}',
	metadata       JSONB NOT NULL DEFAULT '{}',
	last_seen_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (canonical_name, type)
);

CREATE INDEX IF NOT EXISTS idx_entities_name_type ON entities(name, type);
CREATE INDEX IF NOT EXISTS idx_entities_aliases ON entities USING GIN (aliases);

CREATE TABLE IF NOT EXISTS entity_mentions (
	entity_id  TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
	article_id TEXT NOT NULL REFERENCES articles(id) ON DELETE CASCADE,
	cluster_id TEXT,
	context    TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (entity_id, article_id)
);

CREATE INDEX IF NOT EXISTS idx_entity_mentions_article ON entity_mentions(article_id);

CREATE TABLE IF NOT EXISTS entity_relationships (
	id                TEXT PRIMARY KEY,
	source_entity_id  TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
	target_entity_id  TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
	relationship_type TEXT NOT NULL,
	strength          DOUBLE PRECISION NOT NULL CHECK (strength BETWEEN 0 AND 1),
	article_count     INTEGER NOT NULL DEFAULT 1,
	cluster_ids       TEXT[] NOT NULL DEFAULT '{}',
	context           TEXT NOT NULL DEFAULT '',
	first_seen_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_seen_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (source_entity_id, target_entity_id, relationship_type)
);

CREATE INDEX IF NOT EXISTS idx_relationships_strength ON entity_relationships(strength DESC);
CREATE INDEX IF NOT EXISTS idx_relationships_target ON entity_relationships(target_entity_id);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	result     JSONB,
	error      TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_runs_kind_created ON runs(kind, created_at DESC);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id             TEXT PRIMARY KEY,
	kind           TEXT NOT NULL,
	subject_id     TEXT NOT NULL,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL DEFAULT 'transient',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 5,
	next_retry_at  TIMESTAMPTZ NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_failed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (kind, subject_id)
);

CREATE INDEX IF NOT EXISTS idx_dlq_next_retry ON dead_letter_queue(next_retry_at);
`

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS clusters (
	id              TEXT PRIMARY KEY,
	canonical_title TEXT NOT NULL,
	summary         TEXT NOT NULL DEFAULT '',
	title_hash      TEXT NOT NULL,
	window_start    DATETIME NOT NULL,
	window_end      DATETIME NOT NULL,
	countries       TEXT NOT NULL DEFAULT '[]',
	topics          TEXT NOT NULL DEFAULT '[]',
	severity        INTEGER NOT NULL DEFAULT 0,
	confidence      INTEGER NOT NULL DEFAULT 0,
	article_count   INTEGER NOT NULL DEFAULT 0,
	source_count    INTEGER NOT NULL DEFAULT 0,
	entities        TEXT NOT NULL DEFAULT '{}',
	enriched_at     DATETIME,
	created_at      DATETIME NOT NULL,
	updated_at      DATETIME NOT NULL,
	UNIQUE (title_hash, window_start)
);

CREATE INDEX IF NOT EXISTS idx_clusters_window_end ON clusters(window_end);

CREATE TABLE IF NOT EXISTS articles (
	id           TEXT PRIMARY KEY,
	title        TEXT NOT NULL,
	snippet      TEXT NOT NULL DEFAULT '',
	content      TEXT NOT NULL DEFAULT '',
	published_at DATETIME NOT NULL,
	domain       TEXT NOT NULL DEFAULT '',
	source_id    TEXT NOT NULL DEFAULT '',
	countries    TEXT NOT NULL DEFAULT '[]',
	topics       TEXT NOT NULL DEFAULT '[]',
	entities     TEXT,
	cluster_id   TEXT REFERENCES clusters(id) ON DELETE SET NULL,
	network_analyzed_at DATETIME,
	created_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_articles_published ON articles(published_at);
CREATE INDEX IF NOT EXISTS idx_articles_cluster_id ON articles(cluster_id);

CREATE TABLE IF NOT EXISTS entities (
	id             TEXT PRIMARY KEY,
	name           TEXT NOT NULL,
	type           TEXT NOT NULL,
	canonical_name TEXT NOT NULL,
	aliases        TEXT NOT NULL DEFAULT '[]',
	metadata       TEXT NOT NULL DEFAULT '{}',
	last_seen_at   DATETIME NOT NULL,
	created_at     DATETIME NOT NULL,
	UNIQUE (canonical_name, type)
);

CREATE INDEX IF NOT EXISTS idx_entities_name_type ON entities(name, type);

CREATE TABLE IF NOT EXISTS entity_mentions (
	entity_id  TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
	article_id TEXT NOT NULL REFERENCES articles(id) ON DELETE CASCADE,
	cluster_id TEXT,
	context    TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	PRIMARY KEY (entity_id, article_id)
);

CREATE INDEX IF NOT EXISTS idx_entity_mentions_article ON entity_mentions(article_id);

CREATE TABLE IF NOT EXISTS entity_relationships (
	id                TEXT PRIMARY KEY,
	source_entity_id  TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
	target_entity_id  TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
	relationship_type TEXT NOT NULL,
	strength          REAL NOT NULL CHECK (strength BETWEEN 0 AND 1),
	article_count     INTEGER NOT NULL DEFAULT 1,
	cluster_ids       TEXT NOT NULL DEFAULT '[]',
	context           TEXT NOT NULL DEFAULT '',
	first_seen_at     DATETIME NOT NULL,
	last_seen_at      DATETIME NOT NULL,
	UNIQUE (source_entity_id, target_entity_id, relationship_type)
);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	result     TEXT,
	error      TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id             TEXT PRIMARY KEY,
	kind           TEXT NOT NULL,
	subject_id     TEXT NOT NULL,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL DEFAULT 'transient',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 5,
	next_retry_at  DATETIME NOT NULL,
	created_at     DATETIME NOT NULL,
	last_failed_at DATETIME NOT NULL,
	UNIQUE (kind, subject_id)
);
`
