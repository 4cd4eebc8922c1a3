package sqlite

// schema is the engine's on-disk layout: one polymorphic elements
// table carrying a header plus a single JSON payload column for the
// variant-specific fields, alongside the supporting edge, event, and
// cache tables. The base schema lives here; incremental changes go in
// migrations/.
const schema = `
CREATE TABLE IF NOT EXISTS elements (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    content_hash TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    created_by TEXT NOT NULL DEFAULT '',
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted_at DATETIME,
    data TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_elements_type ON elements(type);
CREATE INDEX IF NOT EXISTS idx_elements_deleted_at ON elements(deleted_at);
CREATE INDEX IF NOT EXISTS idx_elements_updated_at ON elements(updated_at);
CREATE INDEX IF NOT EXISTS idx_elements_created_by ON elements(created_by);

-- Tags are pulled out of the JSON column into their own table purely
-- for indexed lookup; the JSON column remains the source of truth and
-- is kept in sync by the storage layer on every write.
CREATE TABLE IF NOT EXISTS tags (
    element_id TEXT NOT NULL,
    tag TEXT NOT NULL,
    PRIMARY KEY (element_id, tag),
    FOREIGN KEY (element_id) REFERENCES elements(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_tags_tag ON tags(tag);

-- Dependency edges: blocked -> blocker, typed.
CREATE TABLE IF NOT EXISTS dependencies (
    blocked_id TEXT NOT NULL,
    blocker_id TEXT NOT NULL,
    type TEXT NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    created_by TEXT NOT NULL DEFAULT '',
    metadata TEXT NOT NULL DEFAULT '{}',
    PRIMARY KEY (blocked_id, blocker_id, type),
    FOREIGN KEY (blocked_id) REFERENCES elements(id) ON DELETE CASCADE,
    FOREIGN KEY (blocker_id) REFERENCES elements(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_dependencies_blocked ON dependencies(blocked_id);
CREATE INDEX IF NOT EXISTS idx_dependencies_blocker ON dependencies(blocker_id);
CREATE INDEX IF NOT EXISTS idx_dependencies_blocker_type ON dependencies(blocker_id, type);
CREATE INDEX IF NOT EXISTS idx_dependencies_blocked_type ON dependencies(blocked_id, type);

-- Event Journal: append-only, monotonic sequence.
CREATE TABLE IF NOT EXISTS events (
    sequence INTEGER PRIMARY KEY AUTOINCREMENT,
    element_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    actor TEXT NOT NULL DEFAULT '',
    old_value TEXT,
    new_value TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_events_element ON events(element_id);
CREATE INDEX IF NOT EXISTS idx_events_created_at ON events(created_at);

-- Document version snapshots: a content-touching patch on a mutable
-- document snapshots the pre-image here.
CREATE TABLE IF NOT EXISTS document_versions (
    document_id TEXT NOT NULL,
    version INTEGER NOT NULL,
    data TEXT NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (document_id, version),
    FOREIGN KEY (document_id) REFERENCES elements(id) ON DELETE CASCADE
);

-- Materialized Blocked-State Cache. blocker_ids is a JSON
-- array; presence of a row means the element is currently blocked.
CREATE TABLE IF NOT EXISTS blocked_cache (
    element_id TEXT PRIMARY KEY,
    blocker_ids TEXT NOT NULL DEFAULT '[]',
    reason TEXT NOT NULL DEFAULT '',
    prior_status TEXT NOT NULL DEFAULT '',
    computed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (element_id) REFERENCES elements(id) ON DELETE CASCADE
);

-- Inbox items: one row per (recipient, message) delivery.
CREATE TABLE IF NOT EXISTS inbox_items (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    recipient TEXT NOT NULL,
    message_id TEXT NOT NULL,
    channel_id TEXT NOT NULL,
    source_type TEXT NOT NULL DEFAULT '',
    delivered_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    read_at DATETIME,
    FOREIGN KEY (message_id) REFERENCES elements(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_inbox_recipient ON inbox_items(recipient, delivered_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_inbox_recipient_message ON inbox_items(recipient, message_id);

-- Per-parent hierarchical child id counters.
CREATE TABLE IF NOT EXISTS child_counters (
    parent_id TEXT PRIMARY KEY,
    last_child INTEGER NOT NULL DEFAULT 0,
    FOREIGN KEY (parent_id) REFERENCES elements(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS config (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

-- Dirty-row tracking for incremental NDJSON export.
CREATE TABLE IF NOT EXISTS dirty_elements (
    element_id TEXT PRIMARY KEY,
    marked_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (element_id) REFERENCES elements(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_dirty_elements_marked_at ON dirty_elements(marked_at);
`
