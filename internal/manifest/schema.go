// Package manifest provides the SQLite-backed persistence collaborator for
// the partition catalog. The catalog core emits change events; the manifest
// applies them durably and rebuilds the catalog at startup. Issuing the real
// DDL against the production database engine is the operator's integration
// point — the manifest records what must be applied.
package manifest

// Schema contains the SQL schema definitions for the manifest database
// (manifest.db).

// CreatePartitionsTableSQL creates the partitions table: one row per live or
// retired partition, with encoded key-range bounds. upper_key is NULL for
// the overflow partition.
const CreatePartitionsTableSQL = `
CREATE TABLE IF NOT EXISTS partitions (
    name TEXT PRIMARY KEY,
    lower_key TEXT NOT NULL,
    upper_key TEXT,
    row_estimate INTEGER NOT NULL DEFAULT 0,
    state TEXT NOT NULL DEFAULT 'active',
    created_at INTEGER NOT NULL,
    retired_at INTEGER
)`

// CreatePartitionsIndexesSQL creates indexes for boundary-ordered loading
// and retirement scans.
var CreatePartitionsIndexesSQL = []string{
	// Index for loading active partitions in boundary order
	`CREATE INDEX IF NOT EXISTS idx_partitions_lower ON partitions(lower_key)
		WHERE state = 'active'`,

	// Index for retirement audits
	`CREATE INDEX IF NOT EXISTS idx_partitions_state ON partitions(state, retired_at)`,
}

// CreateChangesTableSQL creates the catalog change log. Each row is one
// atomic catalog mutation with the full before/after partition lists, the
// description an external store needs to apply the change as DDL.
const CreateChangesTableSQL = `
CREATE TABLE IF NOT EXISTS catalog_changes (
    change_id TEXT PRIMARY KEY,
    seq INTEGER NOT NULL UNIQUE,
    kind TEXT NOT NULL,
    partition_name TEXT NOT NULL,
    before_json TEXT NOT NULL,
    after_json TEXT NOT NULL,
    fingerprint INTEGER NOT NULL,
    created_at INTEGER NOT NULL
)`

// CreateChangesIndexSQL indexes the change log by sequence for ordered reads.
const CreateChangesIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_changes_seq ON catalog_changes(seq)`

// AnalyzeSQL updates SQLite query planner statistics.
const AnalyzeSQL = `ANALYZE`

// AllSchemaSQL returns all schema statements in creation order.
func AllSchemaSQL() []string {
	stmts := []string{
		CreatePartitionsTableSQL,
		CreateChangesTableSQL,
		CreateChangesIndexSQL,
	}
	stmts = append(stmts, CreatePartitionsIndexesSQL...)
	return stmts
}
