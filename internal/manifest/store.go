package manifest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rangekeeper/rangekeeper/internal/catalog"
	"github.com/rangekeeper/rangekeeper/internal/errors"
	"github.com/rangekeeper/rangekeeper/pkg/types"
)

// Store persists catalog state and the change log in manifest.db.
// It implements lifecycle.ChangeApplier.
type Store struct {
	db     *sql.DB // Write connection (single writer)
	readDB *sql.DB // Read connection pool (concurrent readers)
	dbPath string
	keys   types.KeySpace
	mu     sync.Mutex // Write-only lock (reads don't need this)

	insertChangeStmt *sql.Stmt
}

// DescriptorRecord is the JSON wire form of a partition descriptor inside
// change-log rows. Bounds are key-space encoded strings; an empty Upper
// marks the overflow partition.
type DescriptorRecord struct {
	Name        string `json:"name"`
	Lower       string `json:"lower"`
	Upper       string `json:"upper,omitempty"`
	RowEstimate int64  `json:"row_estimate"`
}

// ChangeRecord is one persisted catalog mutation.
type ChangeRecord struct {
	ChangeID    string
	Seq         uint64
	Kind        catalog.ChangeKind
	Partition   string
	Before      []DescriptorRecord
	After       []DescriptorRecord
	Fingerprint uint64
	CreatedAt   time.Time
}

// NewStore opens (or creates) a manifest database.
func NewStore(dbPath string, keys types.KeySpace) (*Store, error) {
	// Write connection: single writer with WAL mode
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // Single writer
	db.SetMaxIdleConns(1)

	// Read connection pool: concurrent readers
	readDB, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("manifest: failed to open read database: %w", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)

	store := &Store{
		db:     db,
		readDB: readDB,
		dbPath: dbPath,
		keys:   keys,
	}

	if err := store.initSchema(); err != nil {
		readDB.Close()
		db.Close()
		return nil, fmt.Errorf("manifest: failed to initialize schema: %w", err)
	}

	insertStmt, err := db.Prepare(`
		INSERT INTO catalog_changes (
			change_id, seq, kind, partition_name,
			before_json, after_json, fingerprint, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		readDB.Close()
		db.Close()
		return nil, fmt.Errorf("manifest: failed to prepare change insert: %w", err)
	}
	store.insertChangeStmt = insertStmt

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *Store) initSchema() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, stmt := range AllSchemaSQL() {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// Initialize seeds an empty manifest from a freshly created catalog snapshot.
// It is a no-op when partitions already exist.
func (s *Store) Initialize(ctx context.Context, snap *catalog.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM partitions").Scan(&count); err != nil {
		return errors.NewManifestError(errors.CodeUnexpected, "failed to count partitions", err)
	}
	if count > 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewManifestError(errors.CodeUnexpected, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	for _, d := range snap.Descriptors() {
		rec, err := s.encodeDescriptor(d)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO partitions (name, lower_key, upper_key, row_estimate, state, created_at)
			 VALUES (?, ?, ?, ?, 'active', ?)`,
			rec.Name, rec.Lower, nullable(rec.Upper), rec.RowEstimate, now,
		); err != nil {
			return errors.NewManifestError(errors.CodeUnexpected,
				fmt.Sprintf("failed to seed partition %q", d.Name), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.NewManifestError(errors.CodeUnexpected, "failed to commit seed", err)
	}
	return nil
}

// ApplyChange durably applies one catalog change event: the change-log row
// and the partition-table mutation commit in a single transaction, so the
// manifest never records a change it did not apply. Re-applying an event
// already recorded (same change ID) is a no-op, supporting caller retry.
func (s *Store) ApplyChange(ctx context.Context, ev *catalog.ChangeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing string
	err := s.db.QueryRowContext(ctx,
		"SELECT change_id FROM catalog_changes WHERE change_id = ?", ev.ID,
	).Scan(&existing)
	if err == nil {
		return nil
	}
	if err != sql.ErrNoRows {
		return errors.NewManifestError(errors.CodeUnexpected, "failed to check change id", err)
	}

	beforeJSON, err := s.encodeDescriptors(ev.Before)
	if err != nil {
		return err
	}
	afterJSON, err := s.encodeDescriptors(ev.After)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewManifestError(errors.CodeUnexpected, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()

	switch ev.Kind {
	case catalog.ChangeAddBoundary:
		if err := s.applyAddBoundary(ctx, tx, ev, now); err != nil {
			return err
		}
	case catalog.ChangeRetire:
		if err := s.applyRetire(ctx, tx, ev, now); err != nil {
			return err
		}
	case catalog.ChangeUpdateEstimate:
		if err := s.applyUpdateEstimate(ctx, tx, ev); err != nil {
			return err
		}
	default:
		return errors.NewManifestError(errors.CodeUnexpected,
			fmt.Sprintf("unknown change kind %q", ev.Kind), nil)
	}

	if _, err := tx.Stmt(s.insertChangeStmt).ExecContext(ctx,
		ev.ID, int64(ev.Seq), string(ev.Kind), ev.Partition,
		beforeJSON, afterJSON, int64(ev.Fingerprint), now,
	); err != nil {
		return errors.NewManifestError(errors.CodeWriteConflict, "failed to insert change record", err)
	}

	if err := tx.Commit(); err != nil {
		return errors.NewManifestError(errors.CodeWriteConflict, "failed to commit change", err)
	}
	return nil
}

// applyAddBoundary inserts the new bounded partition and shrinks the
// overflow partition's lower bound.
func (s *Store) applyAddBoundary(ctx context.Context, tx *sql.Tx, ev *catalog.ChangeEvent, now int64) error {
	created, ok := lookupDescriptor(ev.After, ev.Partition)
	if !ok {
		return errors.NewManifestError(errors.CodeCorruptionDetected,
			fmt.Sprintf("change %s does not contain partition %q", ev.ID, ev.Partition), nil)
	}
	rec, err := s.encodeDescriptor(created)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO partitions (name, lower_key, upper_key, row_estimate, state, created_at)
		 VALUES (?, ?, ?, ?, 'active', ?)`,
		rec.Name, rec.Lower, nullable(rec.Upper), rec.RowEstimate, now,
	); err != nil {
		return errors.NewManifestError(errors.CodeWriteConflict,
			fmt.Sprintf("failed to insert partition %q", created.Name), err)
	}

	overflow := ev.After[len(ev.After)-1]
	orec, err := s.encodeDescriptor(overflow)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE partitions SET lower_key = ?, row_estimate = ? WHERE name = ? AND state = 'active'`,
		orec.Lower, orec.RowEstimate, orec.Name,
	); err != nil {
		return errors.NewManifestError(errors.CodeWriteConflict,
			fmt.Sprintf("failed to update overflow partition %q", overflow.Name), err)
	}
	return nil
}

// applyRetire marks the partition retired. The row is kept so retired names
// stay unavailable forever.
func (s *Store) applyRetire(ctx context.Context, tx *sql.Tx, ev *catalog.ChangeEvent, now int64) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE partitions SET state = 'retired', retired_at = ? WHERE name = ? AND state = 'active'`,
		now, ev.Partition,
	)
	if err != nil {
		return errors.NewManifestError(errors.CodeWriteConflict,
			fmt.Sprintf("failed to retire partition %q", ev.Partition), err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NewManifestError(errors.CodeCorruptionDetected,
			fmt.Sprintf("partition %q not found or already retired", ev.Partition), nil)
	}
	return nil
}

func (s *Store) applyUpdateEstimate(ctx context.Context, tx *sql.Tx, ev *catalog.ChangeEvent) error {
	updated, ok := lookupDescriptor(ev.After, ev.Partition)
	if !ok {
		return errors.NewManifestError(errors.CodeCorruptionDetected,
			fmt.Sprintf("change %s does not contain partition %q", ev.ID, ev.Partition), nil)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE partitions SET row_estimate = ? WHERE name = ? AND state = 'active'`,
		updated.RowCountEstimate, ev.Partition,
	); err != nil {
		return errors.NewManifestError(errors.CodeWriteConflict,
			fmt.Sprintf("failed to update estimate for %q", ev.Partition), err)
	}
	return nil
}

// LoadCatalog rebuilds the in-memory catalog from persisted state: active
// partitions in boundary order, retired names, and the latest change
// sequence. Returns a nil catalog when the manifest holds no partitions yet.
func (s *Store) LoadCatalog(ctx context.Context) (*catalog.Catalog, error) {
	rows, err := s.readDB.QueryContext(ctx,
		`SELECT name, lower_key, upper_key, row_estimate FROM partitions
		 WHERE state = 'active' ORDER BY lower_key`)
	if err != nil {
		return nil, errors.NewManifestError(errors.CodeUnexpected, "failed to query partitions", err)
	}
	defer rows.Close()

	var descs []catalog.Descriptor
	for rows.Next() {
		var (
			name        string
			lowerStr    string
			upperStr    sql.NullString
			rowEstimate int64
		)
		if err := rows.Scan(&name, &lowerStr, &upperStr, &rowEstimate); err != nil {
			return nil, errors.NewManifestError(errors.CodeUnexpected, "failed to scan partition", err)
		}
		d := catalog.Descriptor{Name: name, RowCountEstimate: rowEstimate}
		if d.Lower, err = s.keys.Decode(lowerStr); err != nil {
			return nil, errors.NewManifestError(errors.CodeCorruptionDetected,
				fmt.Sprintf("partition %q has an undecodable lower bound", name), err)
		}
		if upperStr.Valid {
			if d.Upper, err = s.keys.Decode(upperStr.String); err != nil {
				return nil, errors.NewManifestError(errors.CodeCorruptionDetected,
					fmt.Sprintf("partition %q has an undecodable upper bound", name), err)
			}
		}
		descs = append(descs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewManifestError(errors.CodeUnexpected, "error iterating partitions", err)
	}
	if len(descs) == 0 {
		return nil, nil
	}

	retired, err := s.RetiredNames(ctx)
	if err != nil {
		return nil, err
	}
	seq, err := s.LatestSeq(ctx)
	if err != nil {
		return nil, err
	}

	return catalog.FromDescriptors(s.keys, descs, retired, seq)
}

// RetiredNames returns all names that have ever been retired.
func (s *Store) RetiredNames(ctx context.Context) ([]string, error) {
	rows, err := s.readDB.QueryContext(ctx,
		`SELECT name FROM partitions WHERE state = 'retired' ORDER BY retired_at, name`)
	if err != nil {
		return nil, errors.NewManifestError(errors.CodeUnexpected, "failed to query retired names", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.NewManifestError(errors.CodeUnexpected, "failed to scan retired name", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewManifestError(errors.CodeUnexpected, "error iterating retired names", err)
	}
	return names, nil
}

// LatestSeq returns the highest persisted change sequence (0 when empty).
func (s *Store) LatestSeq(ctx context.Context) (uint64, error) {
	var seq sql.NullInt64
	err := s.readDB.QueryRowContext(ctx,
		"SELECT MAX(seq) FROM catalog_changes").Scan(&seq)
	if err != nil {
		return 0, errors.NewManifestError(errors.CodeUnexpected, "failed to query latest seq", err)
	}
	if !seq.Valid {
		return 0, nil
	}
	return uint64(seq.Int64), nil
}

// ListChanges returns change records with seq greater than sinceSeq, in
// sequence order, up to limit (0 = no limit).
func (s *Store) ListChanges(ctx context.Context, sinceSeq uint64, limit int) ([]*ChangeRecord, error) {
	query := `SELECT change_id, seq, kind, partition_name, before_json, after_json, fingerprint, created_at
		FROM catalog_changes WHERE seq > ? ORDER BY seq`
	args := []interface{}{int64(sinceSeq)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewManifestError(errors.CodeUnexpected, "failed to query changes", err)
	}
	defer rows.Close()

	var records []*ChangeRecord
	for rows.Next() {
		var (
			rec           ChangeRecord
			seq           int64
			kind          string
			beforeJSON    string
			afterJSON     string
			fingerprint   int64
			createdAtUnix int64
		)
		if err := rows.Scan(&rec.ChangeID, &seq, &kind, &rec.Partition,
			&beforeJSON, &afterJSON, &fingerprint, &createdAtUnix); err != nil {
			return nil, errors.NewManifestError(errors.CodeUnexpected, "failed to scan change", err)
		}
		rec.Seq = uint64(seq)
		rec.Kind = catalog.ChangeKind(kind)
		rec.Fingerprint = uint64(fingerprint)
		rec.CreatedAt = time.Unix(createdAtUnix, 0)
		if err := json.Unmarshal([]byte(beforeJSON), &rec.Before); err != nil {
			return nil, errors.NewManifestError(errors.CodeCorruptionDetected, "undecodable before_json", err)
		}
		if err := json.Unmarshal([]byte(afterJSON), &rec.After); err != nil {
			return nil, errors.NewManifestError(errors.CodeCorruptionDetected, "undecodable after_json", err)
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewManifestError(errors.CodeUnexpected, "error iterating changes", err)
	}
	return records, nil
}

// RunAnalyze updates SQLite query planner statistics. Should be called after
// bulk change application to keep index statistics current.
func (s *Store) RunAnalyze(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, AnalyzeSQL); err != nil {
		return errors.NewManifestError(errors.CodeUnexpected, "failed to run ANALYZE", err)
	}
	return nil
}

// Close closes the manifest database connections.
func (s *Store) Close() error {
	if s.insertChangeStmt != nil {
		s.insertChangeStmt.Close()
	}
	if err := s.readDB.Close(); err != nil {
		s.db.Close()
		return err
	}
	return s.db.Close()
}

func (s *Store) encodeDescriptor(d catalog.Descriptor) (DescriptorRecord, error) {
	rec := DescriptorRecord{Name: d.Name, RowEstimate: d.RowCountEstimate}
	lower, err := s.keys.Encode(d.Lower)
	if err != nil {
		return rec, errors.NewManifestError(errors.CodeCorruptionDetected,
			fmt.Sprintf("unencodable lower bound for %q", d.Name), err)
	}
	rec.Lower = lower
	if d.Upper != nil {
		upper, err := s.keys.Encode(d.Upper)
		if err != nil {
			return rec, errors.NewManifestError(errors.CodeCorruptionDetected,
				fmt.Sprintf("unencodable upper bound for %q", d.Name), err)
		}
		rec.Upper = upper
	}
	return rec, nil
}

func (s *Store) encodeDescriptors(descs []catalog.Descriptor) (string, error) {
	records := make([]DescriptorRecord, 0, len(descs))
	for _, d := range descs {
		rec, err := s.encodeDescriptor(d)
		if err != nil {
			return "", err
		}
		records = append(records, rec)
	}
	data, err := json.Marshal(records)
	if err != nil {
		return "", errors.NewManifestError(errors.CodeUnexpected, "failed to marshal descriptors", err)
	}
	return string(data), nil
}

func lookupDescriptor(descs []catalog.Descriptor, name string) (catalog.Descriptor, bool) {
	for _, d := range descs {
		if d.Name == name {
			return d, true
		}
	}
	return catalog.Descriptor{}, false
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
