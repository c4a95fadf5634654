package memory

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state", "memory.db"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testRecord(id, content string, tier Tier, importance float64, createdAt time.Time) Record {
	return Record{
		ID:           id,
		Content:      content,
		Tier:         tier,
		CreatedAt:    createdAt,
		EmotionalTag: TagNeutral,
		Importance:   importance,
		SessionID:    "s1",
	}
}

func TestSQLiteStore_InsertGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	created := time.Now().Truncate(time.Millisecond)
	rec := Record{
		ID:           "r1",
		Content:      "remembering the harbor at dawn",
		Tier:         TierLongTerm,
		CreatedAt:    created,
		EmotionalTag: TagIntimate,
		Importance:   0.93,
		Tags:         []string{"personal", "travel"},
		SessionID:    "sess-1",
		Embedding:    NewHashEmbedder(384).Embed("remembering the harbor at dawn"),
	}
	if err := store.Insert(ctx, TierLongTerm, rec); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := store.Get(ctx, TierLongTerm, "r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Content != rec.Content || got.EmotionalTag != rec.EmotionalTag || got.Importance != rec.Importance {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "personal" || got.Tags[1] != "travel" {
		t.Fatalf("tags mismatch: %v", got.Tags)
	}
	if !got.CreatedAt.Equal(created) {
		t.Fatalf("created_at mismatch: %v vs %v", got.CreatedAt, created)
	}
	if len(got.Embedding) != 384 {
		t.Fatalf("embedding length = %d", len(got.Embedding))
	}
	if got.AccessCount != 0 || got.LastAccessed != nil {
		t.Fatalf("fresh record has access bookkeeping: %+v", got)
	}
}

func TestSQLiteStore_DuplicateID(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	rec := testRecord("dup", "first", TierShortTerm, 0.5, time.Now())
	if err := store.Insert(ctx, TierShortTerm, rec); err != nil {
		t.Fatalf("insert: %v", err)
	}
	err := store.Insert(ctx, TierShortTerm, rec)
	if !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}

	// Same id in a different tier is a different table; the store layer
	// allows it (global uniqueness is the facade's job).
	if err := store.Insert(ctx, TierMediumTerm, rec); err != nil {
		t.Fatalf("insert other tier: %v", err)
	}
}

func TestSQLiteStore_DeleteAndNotFound(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if err := store.Insert(ctx, TierShortTerm, testRecord("a", "one", TierShortTerm, 0.4, time.Now())); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := store.Delete(ctx, TierShortTerm, "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Delete(ctx, TierShortTerm, "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.Get(ctx, TierShortTerm, "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStore_ScanOrderAndFilter(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	base := time.Now().Add(-time.Hour).Truncate(time.Millisecond)
	records := []Record{
		testRecord("low-old", "alpha note", TierShortTerm, 0.3, base),
		testRecord("high-old", "alpha thing", TierShortTerm, 0.9, base),
		testRecord("high-new", "alpha thing again", TierShortTerm, 0.9, base.Add(time.Minute)),
		testRecord("other", "beta note", TierShortTerm, 0.8, base),
	}
	for _, rec := range records {
		if err := store.Insert(ctx, TierShortTerm, rec); err != nil {
			t.Fatalf("insert %s: %v", rec.ID, err)
		}
	}

	cursor, err := store.Scan(ctx, TierShortTerm, ScanFilter{Substring: "alpha"})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	defer cursor.Close()

	var ids []string
	for cursor.Next() {
		ids = append(ids, cursor.Record().ID)
	}
	if err := cursor.Err(); err != nil {
		t.Fatalf("cursor err: %v", err)
	}
	want := []string{"high-new", "high-old", "low-old"}
	if len(ids) != len(want) {
		t.Fatalf("scan returned %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("scan order %v, want %v", ids, want)
		}
	}
}

func TestSQLiteStore_ScanEmotionalTagFilter(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	calm := testRecord("c", "quiet evening", TierShortTerm, 0.5, time.Now())
	calm.EmotionalTag = TagCalm
	excited := testRecord("e", "big news", TierShortTerm, 0.5, time.Now())
	excited.EmotionalTag = TagExcited
	for _, rec := range []Record{calm, excited} {
		if err := store.Insert(ctx, TierShortTerm, rec); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	cursor, err := store.Scan(ctx, TierShortTerm, ScanFilter{EmotionalTag: TagCalm})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	defer cursor.Close()

	count := 0
	for cursor.Next() {
		count++
		if cursor.Record().ID != "c" {
			t.Fatalf("unexpected record %s", cursor.Record().ID)
		}
	}
	if count != 1 {
		t.Fatalf("expected 1 calm record, got %d", count)
	}
}

func TestSQLiteStore_LikeWildcardsAreLiteral(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if err := store.Insert(ctx, TierShortTerm, testRecord("pct", "sales up 100% this week", TierShortTerm, 0.5, time.Now())); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := store.Insert(ctx, TierShortTerm, testRecord("plain", "sales up a lot", TierShortTerm, 0.5, time.Now())); err != nil {
		t.Fatalf("insert: %v", err)
	}

	cursor, err := store.Scan(ctx, TierShortTerm, ScanFilter{Substring: "100%"})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	defer cursor.Close()

	var ids []string
	for cursor.Next() {
		ids = append(ids, cursor.Record().ID)
	}
	if len(ids) != 1 || ids[0] != "pct" {
		t.Fatalf("expected only the literal match, got %v", ids)
	}
}

func TestSQLiteStore_TouchAccess(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if err := store.Insert(ctx, TierShortTerm, testRecord("t", "touch me", TierShortTerm, 0.5, time.Now())); err != nil {
		t.Fatalf("insert: %v", err)
	}

	now := time.Now().Truncate(time.Millisecond)
	if err := store.TouchAccess(ctx, TierShortTerm, []string{"t"}, now); err != nil {
		t.Fatalf("touch: %v", err)
	}
	if err := store.TouchAccess(ctx, TierShortTerm, []string{"t"}, now.Add(time.Second)); err != nil {
		t.Fatalf("touch: %v", err)
	}

	got, err := store.Get(ctx, TierShortTerm, "t")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.AccessCount != 2 {
		t.Fatalf("access count = %d, want 2", got.AccessCount)
	}
	if got.LastAccessed == nil || !got.LastAccessed.Equal(now.Add(time.Second)) {
		t.Fatalf("last accessed = %v", got.LastAccessed)
	}
}

func TestSQLiteStore_SweepTierRequiresBothConditions(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	now := time.Now()
	oldLow := testRecord("old-low", "forgettable", TierShortTerm, 0.2, now.Add(-40*24*time.Hour))
	oldHigh := testRecord("old-high", "still matters", TierShortTerm, 0.5, now.Add(-40*24*time.Hour))
	newLow := testRecord("new-low", "fresh trivia", TierShortTerm, 0.2, now)
	for _, rec := range []Record{oldLow, oldHigh, newLow} {
		if err := store.Insert(ctx, TierShortTerm, rec); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	deleted, err := store.SweepTier(ctx, TierShortTerm, now.Add(-30*24*time.Hour), 0.3)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}
	if _, err := store.Get(ctx, TierShortTerm, "old-low"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("old-low should be gone, got %v", err)
	}
	if _, err := store.Get(ctx, TierShortTerm, "old-high"); err != nil {
		t.Fatalf("old-high should survive: %v", err)
	}
	if _, err := store.Get(ctx, TierShortTerm, "new-low"); err != nil {
		t.Fatalf("new-low should survive: %v", err)
	}
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "memory.db")

	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := store.Insert(ctx, TierMeta, testRecord("m", "survives restarts", TierMeta, 0.7, time.Now())); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	store2, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store2.Close()

	got, err := store2.Get(ctx, TierMeta, "m")
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if got.Content != "survives restarts" {
		t.Fatalf("content mismatch: %q", got.Content)
	}
}

func TestSQLiteStore_TierStats(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if err := store.Insert(ctx, TierShortTerm, testRecord("s1", "one", TierShortTerm, 0.4, time.Now())); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := store.Insert(ctx, TierShortTerm, testRecord("s2", "two", TierShortTerm, 0.8, time.Now())); err != nil {
		t.Fatalf("insert: %v", err)
	}

	st, err := store.TierStats(ctx, TierShortTerm)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Count != 2 || !almostEqual(st.AverageImportance, 0.6) {
		t.Fatalf("stats = %+v", st)
	}

	empty, err := store.TierStats(ctx, TierMeta)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if empty.Count != 0 || empty.AverageImportance != 0 {
		t.Fatalf("empty tier stats = %+v", empty)
	}
}

func TestSQLiteStore_StorageErrorsWrapSentinel(t *testing.T) {
	store := newTestStore(t)
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, err := store.Count(context.Background(), TierShortTerm); !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
}
