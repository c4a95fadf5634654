package memory

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// DefaultSimilarityThreshold is the cosine similarity floor applied when
// a retrieval carries a query.
const DefaultSimilarityThreshold = 0.5

// RetrieveParams narrows a retrieval. An empty Query skips similarity
// filtering; nil Tiers means all four; Limit == 0 yields zero results.
type RetrieveParams struct {
	Query        string
	Tiers        []Tier
	EmotionalTag EmotionalTag
	Limit        int
}

// Retriever fans a query out over the requested tiers, filters candidates
// by cosine similarity against the stored embeddings, and merges the
// survivors into one deterministically ordered result.
type Retriever struct {
	store        *SQLiteStore
	locks        *tierLocks
	embedder     Embedder
	simThreshold float64
}

// NewRetriever wires a retriever. A non-positive threshold selects
// DefaultSimilarityThreshold.
func NewRetriever(store *SQLiteStore, locks *tierLocks, embedder Embedder, simThreshold float64) *Retriever {
	if simThreshold <= 0 {
		simThreshold = DefaultSimilarityThreshold
	}
	return &Retriever{
		store:        store,
		locks:        locks,
		embedder:     embedder,
		simThreshold: simThreshold,
	}
}

// Retrieve returns at most p.Limit records ordered by (importance desc,
// created_at desc, id asc). Similarity is a filter, not a sort key.
// No matches is an empty result, never an error. Returned records get
// their access bookkeeping bumped.
func (r *Retriever) Retrieve(ctx context.Context, p RetrieveParams) ([]Record, error) {
	if p.Limit <= 0 {
		return nil, nil
	}
	if p.EmotionalTag != "" && !p.EmotionalTag.Valid() {
		return nil, fmt.Errorf("%w: unknown emotional tag %q", ErrInvalidRecord, p.EmotionalTag)
	}

	tiers, err := normalizeTiers(p.Tiers)
	if err != nil {
		return nil, err
	}
	if len(tiers) == 0 {
		return nil, nil
	}

	var queryVec []float32
	if p.Query != "" {
		queryVec = r.embedder.Embed(p.Query)
	}

	var merged []Record
	for _, tier := range tiers {
		candidates, err := r.scanTier(ctx, tier, p, queryVec)
		if err != nil {
			return nil, err
		}
		merged = append(merged, candidates...)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Importance != merged[j].Importance {
			return merged[i].Importance > merged[j].Importance
		}
		ci, cj := merged[i].CreatedAt.UnixMilli(), merged[j].CreatedAt.UnixMilli()
		if ci != cj {
			return ci > cj
		}
		return merged[i].ID < merged[j].ID
	})

	if len(merged) > p.Limit {
		merged = merged[:p.Limit]
	}

	r.touch(ctx, merged)
	return merged, nil
}

func (r *Retriever) scanTier(ctx context.Context, tier Tier, p RetrieveParams, queryVec []float32) ([]Record, error) {
	r.locks.RLock(tier)
	defer r.locks.RUnlock(tier)

	cursor, err := r.store.Scan(ctx, tier, ScanFilter{
		Substring:    p.Query,
		EmotionalTag: p.EmotionalTag,
	})
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	var out []Record
	for cursor.Next() {
		rec := cursor.Record()
		if queryVec != nil && CosineSimilarity(queryVec, rec.Embedding) < r.simThreshold {
			continue
		}
		out = append(out, rec)
	}
	return out, cursor.Err()
}

// touch records the retrieval hit on every returned record, both in the
// database and in the returned copies. Bookkeeping failure does not fail
// the retrieval.
func (r *Retriever) touch(ctx context.Context, records []Record) {
	if len(records) == 0 {
		return
	}
	now := time.Now()

	byTier := map[Tier][]string{}
	for _, rec := range records {
		byTier[rec.Tier] = append(byTier[rec.Tier], rec.ID)
	}
	for _, tier := range AllTiers {
		ids, ok := byTier[tier]
		if !ok {
			continue
		}
		r.locks.Lock(tier)
		_ = r.store.TouchAccess(ctx, tier, ids, now)
		r.locks.Unlock(tier)
	}

	for i := range records {
		records[i].AccessCount++
		t := now
		records[i].LastAccessed = &t
	}
}

// normalizeTiers dedupes and orders a requested tier set, rejecting
// unknown values. Nil means all tiers.
func normalizeTiers(tiers []Tier) ([]Tier, error) {
	if tiers == nil {
		return AllTiers, nil
	}
	seen := map[Tier]bool{}
	for _, t := range tiers {
		if !t.Valid() {
			return nil, fmt.Errorf("%w: unknown tier %d", ErrInvalidRecord, int(t))
		}
		seen[t] = true
	}
	out := make([]Tier, 0, len(seen))
	for _, t := range AllTiers {
		if seen[t] {
			out = append(out, t)
		}
	}
	return out, nil
}
