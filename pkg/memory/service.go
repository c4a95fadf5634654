package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/mnemokit/mnemo/pkg/bus"
)

// Config configures the tiered memory store.
type Config struct {
	// Path is the SQLite database file. Required.
	Path string

	// Capacities bounds tiers by live record count; zero or absent means
	// unbounded. Defaults: ShortTerm 1000, MediumTerm 10000.
	Capacities map[Tier]int

	// PromotionThresholds gates overflow promotion out of each tier.
	// Defaults: ShortTerm 0.7, MediumTerm 0.8.
	PromotionThresholds map[Tier]float64

	// SimilarityThreshold filters retrieval candidates when a query is
	// present. Default 0.5.
	SimilarityThreshold float64

	// TierRules overrides the ordered tier decision table.
	TierRules []TierRule

	// EmotionalWeights and BoostTags override the importance scorer
	// tables.
	EmotionalWeights map[EmotionalTag]float64
	BoostTags        []string

	// SweepTiers lists the tiers an age+importance sweep touches.
	// Default: ShortTerm and MediumTerm; LongTerm and Meta are exempt
	// unless listed here.
	SweepTiers []Tier

	// SweepSchedule is an optional cron expression for background
	// sweeps using SweepMaxAge/SweepMinImportance. Empty disables the
	// sweeper.
	SweepSchedule      string
	SweepMaxAge        time.Duration
	SweepMinImportance float64

	// Embedder overrides the default hash embedder. EmbedCacheSize
	// bounds the text->vector memo (default 1024).
	Embedder       Embedder
	EmbedCacheSize int

	// SessionID pins the session identifier; empty generates one.
	SessionID string

	Logger *log.Logger
	Events *bus.EventBus
}

// Service is the public facade over the tiered store: it composes the
// vectorizer, scorer, classifier, tier store, promotion engine and
// retriever behind Store/Retrieve/Stats/Sweep.
type Service struct {
	cfg        Config
	store      *SQLiteStore
	locks      tierLocks
	scorer     *Scorer
	classifier *Classifier
	embedder   Embedder
	engine     *Engine
	retriever  *Retriever
	logger     *log.Logger
	events     *bus.EventBus
	sessionID  string

	stopCh chan struct{}
	wg     sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

// Open creates or opens a tiered memory store. Callers own the returned
// service and must Close it.
func Open(cfg Config) (*Service, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("memory db path is required")
	}
	if cfg.Capacities == nil {
		cfg.Capacities = DefaultCapacities()
	}
	if cfg.PromotionThresholds == nil {
		cfg.PromotionThresholds = DefaultPromotionThresholds()
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if cfg.SweepTiers == nil {
		cfg.SweepTiers = []Tier{TierShortTerm, TierMediumTerm}
	}
	if cfg.Embedder == nil {
		cfg.Embedder = NewHashEmbedder(384)
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	if cfg.SweepSchedule != "" {
		if !gronx.New().IsValid(cfg.SweepSchedule) {
			return nil, fmt.Errorf("invalid sweep schedule %q", cfg.SweepSchedule)
		}
		if cfg.SweepMaxAge <= 0 {
			return nil, fmt.Errorf("sweep schedule requires a positive max age")
		}
	}

	store, err := NewSQLiteStore(cfg.Path)
	if err != nil {
		return nil, err
	}

	svc := &Service{
		cfg:        cfg,
		store:      store,
		scorer:     NewScorer(cfg.EmotionalWeights, cfg.BoostTags),
		classifier: NewClassifier(cfg.TierRules),
		embedder:   WithEmbedCache(cfg.Embedder, cfg.EmbedCacheSize),
		logger:     cfg.Logger,
		events:     cfg.Events,
		sessionID:  cfg.SessionID,
		stopCh:     make(chan struct{}),
	}
	svc.engine = NewEngine(store, &svc.locks, cfg.Capacities, cfg.PromotionThresholds, cfg.Logger, cfg.Events)
	svc.retriever = NewRetriever(store, &svc.locks, svc.embedder, cfg.SimilarityThreshold)

	if cfg.SweepSchedule != "" {
		svc.wg.Add(1)
		go svc.runSweeper()
	}
	return svc, nil
}

// Close stops background work and flushes and closes the database.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCh)
		s.wg.Wait()
		s.closeErr = s.store.Close()
	})
	return s.closeErr
}

// SessionID returns the identifier grouping records created through this
// service instance.
func (s *Service) SessionID() string { return s.sessionID }

// StoreParams carries one record to store. An empty EmotionalTag means
// neutral; a nil Tier lets the classifier decide; an empty SessionID uses
// the service session.
type StoreParams struct {
	Content      string
	EmotionalTag EmotionalTag
	Tags         []string
	SessionID    string
	Tier         *Tier
}

// Store persists one record and returns its id. Tier selection, scoring
// and vectorization are deterministic; the capacity rebalance that may
// follow cannot fail the store.
func (s *Service) Store(ctx context.Context, p StoreParams) (string, error) {
	if p.EmotionalTag == "" {
		p.EmotionalTag = TagNeutral
	}
	if p.SessionID == "" {
		p.SessionID = s.sessionID
	}

	tier := TierShortTerm
	if p.Tier != nil {
		tier = *p.Tier
	} else {
		tier = s.classifier.Classify(p.Content, p.EmotionalTag, p.Tags)
	}

	now := time.Now()
	rec := Record{
		ID:           NewRecordID(p.Content, now),
		Content:      p.Content,
		Tier:         tier,
		CreatedAt:    now,
		EmotionalTag: p.EmotionalTag,
		Importance:   s.scorer.Score(p.Content, p.EmotionalTag, p.Tags),
		Tags:         p.Tags,
		SessionID:    p.SessionID,
		Embedding:    s.embedder.Embed(p.Content),
	}
	if err := rec.Validate(); err != nil {
		return "", err
	}

	s.locks.Lock(tier)
	err := s.store.Insert(ctx, tier, rec)
	s.locks.Unlock(tier)
	if err != nil {
		return "", err
	}

	s.publish(bus.Event{Kind: bus.EventStored, Tier: tier.String(), RecordID: rec.ID})
	s.engine.Rebalance(ctx, tier)
	return rec.ID, nil
}

// StoreMeta records a system observation in the Meta tier.
func (s *Service) StoreMeta(ctx context.Context, content string, tags []string) (string, error) {
	if tags == nil {
		tags = []string{"meta", "system"}
	}
	tier := TierMeta
	return s.Store(ctx, StoreParams{Content: content, Tags: tags, Tier: &tier})
}

// Retrieve runs a multi-tier query. See RetrieveParams for semantics.
func (s *Service) Retrieve(ctx context.Context, p RetrieveParams) ([]Record, error) {
	return s.retriever.Retrieve(ctx, p)
}

// Stats returns count and average importance per tier.
func (s *Service) Stats(ctx context.Context) (map[Tier]TierStats, error) {
	out := make(map[Tier]TierStats, len(AllTiers))
	for _, tier := range AllTiers {
		s.locks.RLock(tier)
		st, err := s.store.TierStats(ctx, tier)
		s.locks.RUnlock(tier)
		if err != nil {
			return nil, err
		}
		out[tier] = st
	}
	return out, nil
}

// Sweep deletes records older than maxAge AND below minImportance from
// the configured sweep tiers. It returns the number of deleted records.
func (s *Service) Sweep(ctx context.Context, maxAge time.Duration, minImportance float64) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	total := 0
	for _, tier := range s.sweepTiers() {
		s.locks.Lock(tier)
		n, err := s.store.SweepTier(ctx, tier, cutoff, minImportance)
		s.locks.Unlock(tier)
		if err != nil {
			return total, err
		}
		if n > 0 {
			s.publish(bus.Event{Kind: bus.EventSwept, Tier: tier.String(), Count: n})
		}
		total += n
	}
	if total > 0 {
		s.logger.Info("retention sweep removed records",
			"deleted", total, "max_age", maxAge, "min_importance", minImportance)
	}
	return total, nil
}

// SessionContext returns the most recent records of the current session
// from the volatile tiers, topped up with query-relevant long-term
// records when a query is given. Newest first.
func (s *Service) SessionContext(ctx context.Context, query string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 5
	}

	var out []Record
	for _, tier := range []Tier{TierShortTerm, TierMediumTerm} {
		s.locks.RLock(tier)
		recent, err := s.store.RecentBySession(ctx, tier, s.sessionID, limit)
		s.locks.RUnlock(tier)
		if err != nil {
			return nil, err
		}
		out = append(out, recent...)
	}

	if query != "" {
		relevant, err := s.retriever.Retrieve(ctx, RetrieveParams{
			Query: query,
			Tiers: []Tier{TierLongTerm},
			Limit: 3,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, relevant...)
	}

	sort.SliceStable(out, func(i, j int) bool {
		ci, cj := out[i].CreatedAt.UnixMilli(), out[j].CreatedAt.UnixMilli()
		if ci != cj {
			return ci > cj
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Service) sweepTiers() []Tier {
	tiers := make([]Tier, len(s.cfg.SweepTiers))
	copy(tiers, s.cfg.SweepTiers)
	sort.Slice(tiers, func(i, j int) bool { return tiers[i] < tiers[j] })
	return tiers
}

func (s *Service) publish(ev bus.Event) {
	if s.events != nil {
		s.events.Publish(ev)
	}
}

// tierLocks serializes mutations per tier. Multi-tier acquisition always
// happens in ascending tier order, which is what keeps racing promotions
// deadlock free.
type tierLocks struct {
	mu [4]sync.RWMutex
}

func (l *tierLocks) Lock(tiers ...Tier) {
	ordered := append([]Tier(nil), tiers...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })
	for _, t := range ordered {
		l.mu[t].Lock()
	}
}

func (l *tierLocks) Unlock(tiers ...Tier) {
	ordered := append([]Tier(nil), tiers...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] > ordered[j] })
	for _, t := range ordered {
		l.mu[t].Unlock()
	}
}

func (l *tierLocks) RLock(tier Tier) { l.mu[tier].RLock() }

func (l *tierLocks) RUnlock(tier Tier) { l.mu[tier].RUnlock() }
