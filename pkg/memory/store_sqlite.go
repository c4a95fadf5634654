package memory

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
)

// SQLiteStore persists all four tiers in one SQLite database, one logical
// table per tier. The tier value selects the table; every method is
// parameterized on it.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates/opens the memory database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: create db dir: %v", ErrStorage, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open db: %v", ErrStorage, err)
	}
	// Single-process store. One shared connection avoids writer lock
	// contention with SQLite under concurrent goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func tableFor(tier Tier) string {
	return "memories_" + tier.String()
}

func (s *SQLiteStore) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA temp_store=MEMORY;`,
		`PRAGMA busy_timeout=5000;`,
	}
	for _, tier := range AllTiers {
		table := tableFor(tier)
		stmts = append(stmts,
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			tier TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL,
			emotional_tag TEXT NOT NULL,
			importance REAL NOT NULL,
			tags_json TEXT NOT NULL DEFAULT '[]',
			session_id TEXT NOT NULL DEFAULT '',
			embedding_json TEXT NOT NULL DEFAULT '[]',
			access_count INTEGER NOT NULL DEFAULT 0,
			last_accessed_ms INTEGER NOT NULL DEFAULT 0
		);`, table),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_created_idx ON %s(created_at_ms);`, table, table),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_importance_idx ON %s(importance);`, table, table),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_session_idx ON %s(session_id);`, table, table),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_tag_idx ON %s(emotional_tag);`, table, table),
		)
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("%w: init schema on %q: %v", ErrStorage, trimSQL(stmt), err)
		}
	}
	return nil
}

func trimSQL(sql string) string {
	line := strings.TrimSpace(sql)
	if len(line) > 96 {
		return line[:96] + "..."
	}
	return line
}

func encodeStrings(ss []string) string {
	if len(ss) == 0 {
		return "[]"
	}
	b, err := json.Marshal(ss)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func decodeStrings(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func encodeVector(vec []float32) string {
	if len(vec) == 0 {
		return "[]"
	}
	b, err := json.Marshal(vec)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func decodeVector(raw string) []float32 {
	if raw == "" {
		return nil
	}
	var out []float32
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

const recordColumns = `id, content, created_at_ms, emotional_tag, importance, tags_json, session_id, embedding_json, access_count, last_accessed_ms`

// rankOrder is the canonical retention ordering: most important first,
// newest first, id ascending on full ties so results are reproducible.
const rankOrder = `importance DESC, created_at_ms DESC, id ASC`

// Insert writes rec into its tier's table. The write is committed before
// Insert returns.
func (s *SQLiteStore) Insert(ctx context.Context, tier Tier, rec Record) error {
	lastAccessed := int64(0)
	if rec.LastAccessed != nil {
		lastAccessed = rec.LastAccessed.UnixMilli()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: insert %s begin tx: %v", ErrStorage, tier, err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT 1 FROM %s WHERE id = ?`, tableFor(tier)), rec.ID).Scan(&exists)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s in %s", ErrDuplicateID, rec.ID, tier)
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%w: insert %s check id: %v", ErrStorage, tier, err)
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %s (id, content, tier, created_at_ms, emotional_tag, importance, tags_json, session_id, embedding_json, access_count, last_accessed_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, tableFor(tier)),
		rec.ID, rec.Content, tier.String(), rec.CreatedAt.UnixMilli(),
		string(rec.EmotionalTag), rec.Importance, encodeStrings(rec.Tags),
		rec.SessionID, encodeVector(rec.Embedding), rec.AccessCount, lastAccessed)
	if err != nil {
		return fmt.Errorf("%w: insert %s: %v", ErrStorage, tier, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: insert %s commit: %v", ErrStorage, tier, err)
	}
	return nil
}

// Get returns the record with the given id from one tier.
func (s *SQLiteStore) Get(ctx context.Context, tier Tier, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT %s FROM %s WHERE id = ?`, recordColumns, tableFor(tier)), id)
	rec, err := scanRecord(row, tier)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, fmt.Errorf("%w: %s in %s", ErrNotFound, id, tier)
		}
		return Record{}, fmt.Errorf("%w: get %s: %v", ErrStorage, tier, err)
	}
	return rec, nil
}

// Delete removes the record with the given id from one tier.
func (s *SQLiteStore) Delete(ctx context.Context, tier Tier, id string) error {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE id = ?`, tableFor(tier)), id)
	if err != nil {
		return fmt.Errorf("%w: delete %s: %v", ErrStorage, tier, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: delete %s rows affected: %v", ErrStorage, tier, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s in %s", ErrNotFound, id, tier)
	}
	return nil
}

// Count returns the live record count for one tier.
func (s *SQLiteStore) Count(ctx context.Context, tier Tier) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT COUNT(*) FROM %s`, tableFor(tier))).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: count %s: %v", ErrStorage, tier, err)
	}
	return count, nil
}

// TierStats returns count and average importance for one tier.
func (s *SQLiteStore) TierStats(ctx context.Context, tier Tier) (TierStats, error) {
	var st TierStats
	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT COUNT(*), AVG(importance) FROM %s`, tableFor(tier))).Scan(&st.Count, &avg)
	if err != nil {
		return TierStats{}, fmt.Errorf("%w: stats %s: %v", ErrStorage, tier, err)
	}
	if avg.Valid {
		st.AverageImportance = avg.Float64
	}
	return st, nil
}

// ScanFilter narrows a tier scan. Zero values match everything.
type ScanFilter struct {
	Substring    string
	EmotionalTag EmotionalTag
	SessionID    string
}

// RecordCursor is a lazy, non-restartable walk over one tier's records in
// rank order. Callers must Close it.
type RecordCursor struct {
	rows *sql.Rows
	tier Tier
	cur  Record
	err  error
}

// Next advances the cursor. It returns false at the end of the result set
// or on error; check Err afterwards.
func (c *RecordCursor) Next() bool {
	if c.err != nil || !c.rows.Next() {
		if c.err == nil {
			c.err = c.rows.Err()
		}
		return false
	}
	rec, err := scanRecord(c.rows, c.tier)
	if err != nil {
		c.err = err
		return false
	}
	c.cur = rec
	return true
}

// Record returns the record the cursor currently points at.
func (c *RecordCursor) Record() Record { return c.cur }

func (c *RecordCursor) Err() error { return c.err }

func (c *RecordCursor) Close() error { return c.rows.Close() }

// Scan opens a cursor over one tier ordered by (importance desc,
// created_at desc, id asc), optionally filtered by content substring,
// emotional tag, or session.
func (s *SQLiteStore) Scan(ctx context.Context, tier Tier, filter ScanFilter) (*RecordCursor, error) {
	where := []string{"1=1"}
	args := []any{}
	if filter.Substring != "" {
		where = append(where, "content LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(filter.Substring)+"%")
	}
	if filter.EmotionalTag != "" {
		where = append(where, "emotional_tag = ?")
		args = append(args, string(filter.EmotionalTag))
	}
	if filter.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, filter.SessionID)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s FROM %s WHERE %s ORDER BY %s`,
		recordColumns, tableFor(tier), strings.Join(where, " AND "), rankOrder), args...)
	if err != nil {
		return nil, fmt.Errorf("%w: scan %s: %v", ErrStorage, tier, err)
	}
	return &RecordCursor{rows: rows, tier: tier}, nil
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

// PromotionCandidates returns up to limit records strictly above the
// importance threshold, best retention priority first.
func (s *SQLiteStore) PromotionCandidates(ctx context.Context, tier Tier, threshold float64, limit int) ([]Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s FROM %s WHERE importance > ? ORDER BY %s LIMIT ?`,
		recordColumns, tableFor(tier), rankOrder), threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: promotion candidates %s: %v", ErrStorage, tier, err)
	}
	return collectRecords(rows, tier)
}

// EvictionVictims returns up to limit records from the lowest-priority
// end of a tier: least important first, oldest first on ties.
func (s *SQLiteStore) EvictionVictims(ctx context.Context, tier Tier, limit int) ([]Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s FROM %s ORDER BY importance ASC, created_at_ms ASC, id ASC LIMIT ?`,
		recordColumns, tableFor(tier)), limit)
	if err != nil {
		return nil, fmt.Errorf("%w: eviction victims %s: %v", ErrStorage, tier, err)
	}
	return collectRecords(rows, tier)
}

// TouchAccess bumps access_count and last_accessed for the given ids.
func (s *SQLiteStore) TouchAccess(ctx context.Context, tier Tier, ids []string, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, now.UnixMilli())
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`UPDATE %s SET access_count = access_count + 1, last_accessed_ms = ? WHERE id IN (%s)`,
		tableFor(tier), placeholders), args...)
	if err != nil {
		return fmt.Errorf("%w: touch access %s: %v", ErrStorage, tier, err)
	}
	return nil
}

// SweepTier deletes records that are both older than cutoff and below
// minImportance. It returns the number of deleted records.
func (s *SQLiteStore) SweepTier(ctx context.Context, tier Tier, cutoff time.Time, minImportance float64) (int, error) {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE created_at_ms < ? AND importance < ?`, tableFor(tier)),
		cutoff.UnixMilli(), minImportance)
	if err != nil {
		return 0, fmt.Errorf("%w: sweep %s: %v", ErrStorage, tier, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: sweep %s rows affected: %v", ErrStorage, tier, err)
	}
	return int(affected), nil
}

// RecentBySession returns the newest records for one session in one tier.
func (s *SQLiteStore) RecentBySession(ctx context.Context, tier Tier, sessionID string, limit int) ([]Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s FROM %s WHERE session_id = ? ORDER BY created_at_ms DESC, id ASC LIMIT ?`,
		recordColumns, tableFor(tier)), sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: recent by session %s: %v", ErrStorage, tier, err)
	}
	return collectRecords(rows, tier)
}

func collectRecords(rows *sql.Rows, tier Tier) ([]Record, error) {
	defer rows.Close()
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows, tier)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner, tier Tier) (Record, error) {
	var rec Record
	var createdMS, lastAccessedMS int64
	var tag, tagsJSON, embeddingJSON string

	err := row.Scan(&rec.ID, &rec.Content, &createdMS, &tag, &rec.Importance,
		&tagsJSON, &rec.SessionID, &embeddingJSON, &rec.AccessCount, &lastAccessedMS)
	if err != nil {
		return Record{}, err
	}

	rec.Tier = tier
	rec.CreatedAt = time.UnixMilli(createdMS)
	rec.EmotionalTag = EmotionalTag(tag)
	rec.Tags = decodeStrings(tagsJSON)
	rec.Embedding = decodeVector(embeddingJSON)
	if lastAccessedMS > 0 {
		t := time.UnixMilli(lastAccessedMS)
		rec.LastAccessed = &t
	}
	return rec, nil
}
