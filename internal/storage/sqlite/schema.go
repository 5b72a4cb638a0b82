package sqlite

const schema = `
-- Import batches: one row per parsed export file. Immutable.
CREATE TABLE IF NOT EXISTS import_batches (
    id TEXT PRIMARY KEY,
    created_at TEXT NOT NULL,
    source TEXT NOT NULL DEFAULT '',
    original_filename TEXT NOT NULL,
    file_size_bytes INTEGER NOT NULL DEFAULT 0,
    timezone TEXT NOT NULL,
    stats_json TEXT NOT NULL DEFAULT '{}'
);

-- Message atoms: normalised messages, content-addressed by
-- atom_stable_id. Duplicate imports skip, never overwrite.
CREATE TABLE IF NOT EXISTS message_atoms (
    id TEXT PRIMARY KEY,
    atom_stable_id TEXT NOT NULL UNIQUE,
    import_batch_id TEXT NOT NULL REFERENCES import_batches(id),
    source TEXT NOT NULL,
    source_conversation_id TEXT NOT NULL DEFAULT '',
    source_message_id TEXT NOT NULL DEFAULT '',
    timestamp_utc TEXT NOT NULL,
    day_date TEXT NOT NULL,
    role TEXT NOT NULL CHECK(role IN ('user', 'assistant')),
    text TEXT NOT NULL,
    text_hash TEXT NOT NULL,
    -- user-before-assistant ordering rank, derived at insert
    role_rank INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_atoms_batch_day ON message_atoms(import_batch_id, source, day_date);
CREATE INDEX IF NOT EXISTS idx_atoms_day ON message_atoms(day_date);

-- Raw entries: verbatim per (batch, source, day) concatenation.
CREATE TABLE IF NOT EXISTS raw_entries (
    id TEXT PRIMARY KEY,
    import_batch_id TEXT NOT NULL REFERENCES import_batches(id),
    source TEXT NOT NULL,
    day_date TEXT NOT NULL,
    content_text TEXT NOT NULL,
    content_hash TEXT NOT NULL,
    created_at TEXT NOT NULL,
    UNIQUE(import_batch_id, source, day_date)
);

-- Prompt templates, one family per (stage, name).
CREATE TABLE IF NOT EXISTS prompts (
    id TEXT PRIMARY KEY,
    stage TEXT NOT NULL CHECK(stage IN ('classify', 'summarize', 'redact')),
    name TEXT NOT NULL,
    UNIQUE(stage, name)
);

CREATE TABLE IF NOT EXISTS prompt_versions (
    id TEXT PRIMARY KEY,
    prompt_id TEXT NOT NULL REFERENCES prompts(id),
    stage TEXT NOT NULL,
    version_label TEXT NOT NULL,
    template_text TEXT NOT NULL,
    is_active INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_prompt_versions_stage ON prompt_versions(stage, is_active);

-- Message labels: (atom, model, prompt version) -> category. Immutable.
CREATE TABLE IF NOT EXISTS message_labels (
    message_atom_id TEXT NOT NULL REFERENCES message_atoms(id),
    model TEXT NOT NULL,
    prompt_version_id TEXT NOT NULL REFERENCES prompt_versions(id),
    category TEXT NOT NULL,
    confidence REAL NOT NULL CHECK(confidence >= 0.0 AND confidence <= 1.0),
    created_at TEXT NOT NULL,
    PRIMARY KEY (message_atom_id, model, prompt_version_id)
);

CREATE INDEX IF NOT EXISTS idx_labels_spec ON message_labels(model, prompt_version_id, category);

-- Filter profiles (live rows; runs snapshot them by value).
CREATE TABLE IF NOT EXISTS filter_profiles (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    mode TEXT NOT NULL CHECK(mode IN ('include', 'exclude')),
    categories_json TEXT NOT NULL DEFAULT '[]',
    created_at TEXT NOT NULL
);

-- Runs: config_json is frozen at creation.
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    status TEXT NOT NULL CHECK(status IN ('queued', 'running', 'completed', 'failed', 'cancelled')),
    model TEXT NOT NULL,
    start_date TEXT NOT NULL,
    end_date TEXT NOT NULL,
    sources_json TEXT NOT NULL DEFAULT '[]',
    filter_profile_id TEXT NOT NULL DEFAULT '',
    output_target TEXT NOT NULL DEFAULT '',
    config_json TEXT NOT NULL,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS run_batches (
    run_id TEXT NOT NULL REFERENCES runs(id),
    import_batch_id TEXT NOT NULL REFERENCES import_batches(id),
    PRIMARY KEY (run_id, import_batch_id)
);

CREATE TABLE IF NOT EXISTS jobs (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL REFERENCES runs(id),
    day_date TEXT NOT NULL,
    status TEXT NOT NULL CHECK(status IN ('queued', 'running', 'succeeded', 'failed', 'cancelled')),
    attempt INTEGER NOT NULL DEFAULT 1,
    started_at TEXT,
    finished_at TEXT,
    tokens_in INTEGER NOT NULL DEFAULT 0,
    tokens_out INTEGER NOT NULL DEFAULT 0,
    cost_usd REAL NOT NULL DEFAULT 0,
    error_json TEXT,
    UNIQUE(run_id, day_date)
);

CREATE INDEX IF NOT EXISTS idx_jobs_run_status ON jobs(run_id, status);

CREATE TABLE IF NOT EXISTS outputs (
    id TEXT PRIMARY KEY,
    job_id TEXT NOT NULL REFERENCES jobs(id),
    stage TEXT NOT NULL,
    output_text TEXT NOT NULL,
    output_json TEXT NOT NULL DEFAULT '{}',
    model TEXT NOT NULL,
    prompt_version_id TEXT NOT NULL,
    bundle_hash TEXT NOT NULL,
    bundle_context_hash TEXT NOT NULL,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_outputs_job ON outputs(job_id, stage);

CREATE TABLE IF NOT EXISTS classify_runs (
    id TEXT PRIMARY KEY,
    import_batch_id TEXT NOT NULL,
    model TEXT NOT NULL,
    prompt_version_id TEXT NOT NULL,
    mode TEXT NOT NULL,
    status TEXT NOT NULL,
    total_atoms INTEGER NOT NULL DEFAULT 0,
    newly_labeled INTEGER NOT NULL DEFAULT 0,
    skipped_already_labeled INTEGER NOT NULL DEFAULT 0,
    labeled_total INTEGER NOT NULL DEFAULT 0,
    started_at TEXT NOT NULL,
    finished_at TEXT,
    cost_usd REAL NOT NULL DEFAULT 0
);

-- Advisory locks, keyed by the stable 64-bit hash of the run id.
-- Acquire and release happen on one dedicated connection; stale rows
-- (crashed holders) expire after a grace period.
CREATE TABLE IF NOT EXISTS run_locks (
    key INTEGER PRIMARY KEY,
    run_id TEXT NOT NULL,
    owner TEXT NOT NULL,
    acquired_at TEXT NOT NULL
);

-- Full-text search over atom text and output text (external content,
-- trigger-synced).
CREATE VIRTUAL TABLE IF NOT EXISTS atoms_fts USING fts5(
    text,
    content='message_atoms',
    content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS atoms_fts_ai AFTER INSERT ON message_atoms BEGIN
    INSERT INTO atoms_fts(rowid, text) VALUES (new.rowid, new.text);
END;

CREATE VIRTUAL TABLE IF NOT EXISTS outputs_fts USING fts5(
    output_text,
    content='outputs',
    content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS outputs_fts_ai AFTER INSERT ON outputs BEGIN
    INSERT INTO outputs_fts(rowid, output_text) VALUES (new.rowid, new.output_text);
END;
`

// Seed prompt versions: the stub classify template and the default
// summarize template, both active. INSERT OR IGNORE keeps reopening
// idempotent.
const seedData = `
INSERT OR IGNORE INTO prompts (id, stage, name) VALUES
    ('prompt_classify_default', 'classify', 'default'),
    ('prompt_summarize_default', 'summarize', 'default');

INSERT OR IGNORE INTO prompt_versions (id, prompt_id, stage, version_label, template_text, is_active, created_at) VALUES
    ('pv_classify_stub', 'prompt_classify_default', 'classify', 'stub_v1',
     'Deterministic stub classifier. Not used for model calls.', 1,
     '2024-01-01T00:00:00.000Z'),
    ('pv_summarize_v1', 'prompt_summarize_default', 'summarize', 'v1',
     'You are a careful journal writer. Summarize the user''s day from the conversation excerpts below. Write in first person, past tense, one paragraph per theme. Be faithful: never invent events. Output plain Markdown.', 1,
     '2024-01-01T00:00:00.000Z');
`

// StubClassifyVersionID is the seeded stub classify prompt version.
const StubClassifyVersionID = "pv_classify_stub"
