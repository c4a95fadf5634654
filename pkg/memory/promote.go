package memory

import (
	"context"

	"github.com/charmbracelet/log"

	"github.com/mnemokit/mnemo/pkg/bus"
)

// DefaultPromotionThresholds gates capacity-overflow promotion out of each
// bounded tier: a record must score strictly above the threshold to move
// up instead of facing eviction.
func DefaultPromotionThresholds() map[Tier]float64 {
	return map[Tier]float64{
		TierShortTerm:  0.7,
		TierMediumTerm: 0.8,
	}
}

// DefaultCapacities bounds the two volatile tiers. Zero means unbounded;
// LongTerm and Meta never evict through capacity pressure.
func DefaultCapacities() map[Tier]int {
	return map[Tier]int{
		TierShortTerm:  1000,
		TierMediumTerm: 10000,
	}
}

// Engine enforces tier capacity after each store: over-threshold records
// are promoted upward, the rest of the overflow is evicted from the
// bottom of the tier. Capacity trouble never propagates to the caller;
// failures are logged and the source record is left in place.
type Engine struct {
	store      *SQLiteStore
	locks      *tierLocks
	capacities map[Tier]int
	thresholds map[Tier]float64
	logger     *log.Logger
	events     *bus.EventBus
}

// NewEngine wires a promotion engine. Nil capacities or thresholds select
// the defaults; events may be nil.
func NewEngine(store *SQLiteStore, locks *tierLocks, capacities map[Tier]int, thresholds map[Tier]float64, logger *log.Logger, events *bus.EventBus) *Engine {
	if capacities == nil {
		capacities = DefaultCapacities()
	}
	if thresholds == nil {
		thresholds = DefaultPromotionThresholds()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		store:      store,
		locks:      locks,
		capacities: capacities,
		thresholds: thresholds,
		logger:     logger,
		events:     events,
	}
}

// Rebalance restores the capacity invariant for tier, cascading into the
// destination tier when promotions push it over its own bound.
func (e *Engine) Rebalance(ctx context.Context, tier Tier) {
	for {
		capacity := e.capacities[tier]
		if capacity <= 0 {
			return
		}

		next, hasNext := tier.Next()
		if hasNext {
			e.locks.Lock(tier, next)
		} else {
			e.locks.Lock(tier)
		}
		promoted := e.rebalanceTier(ctx, tier, capacity, next, hasNext)
		if hasNext {
			e.locks.Unlock(tier, next)
		} else {
			e.locks.Unlock(tier)
		}

		if !hasNext || promoted == 0 {
			return
		}
		tier = next
	}
}

// rebalanceTier runs one promotion/eviction pass with the tier locks held.
// It returns the number of records promoted into next.
func (e *Engine) rebalanceTier(ctx context.Context, tier Tier, capacity int, next Tier, hasNext bool) int {
	count, err := e.store.Count(ctx, tier)
	if err != nil {
		e.logger.Error("rebalance count failed", "tier", tier, "err", err)
		return 0
	}
	overflow := count - capacity
	if overflow <= 0 {
		return 0
	}

	promoted := 0
	if hasNext {
		candidates, err := e.store.PromotionCandidates(ctx, tier, e.thresholds[tier], overflow)
		if err != nil {
			e.logger.Error("promotion candidate query failed", "tier", tier, "err", err)
		}
		for _, rec := range candidates {
			if e.promoteOne(ctx, rec, tier, next) {
				promoted++
			}
		}
	}

	count, err = e.store.Count(ctx, tier)
	if err != nil {
		e.logger.Error("rebalance recount failed", "tier", tier, "err", err)
		return promoted
	}
	overflow = count - capacity
	if overflow <= 0 {
		return promoted
	}

	victims, err := e.store.EvictionVictims(ctx, tier, overflow)
	if err != nil {
		e.logger.Error("eviction victim query failed", "tier", tier, "err", err)
		return promoted
	}
	for _, rec := range victims {
		if err := e.store.Delete(ctx, tier, rec.ID); err != nil {
			e.logger.Error("eviction delete failed", "tier", tier, "id", rec.ID, "err", err)
			continue
		}
		e.publish(bus.Event{Kind: bus.EventEvicted, Tier: tier.String(), RecordID: rec.ID})
		e.logger.Debug("evicted record", "tier", tier, "id", rec.ID, "importance", rec.Importance)
	}
	return promoted
}

// promoteOne moves rec from tier to next. If the destination insert fails
// the source record is left untouched; if the source delete fails the
// destination copy is rolled back so the id stays globally unique.
func (e *Engine) promoteOne(ctx context.Context, rec Record, tier, next Tier) bool {
	moved := rec
	moved.Tier = next
	if err := e.store.Insert(ctx, next, moved); err != nil {
		e.logger.Warn("promotion insert failed, keeping source record",
			"from", tier, "to", next, "id", rec.ID, "err", err)
		return false
	}
	if err := e.store.Delete(ctx, tier, rec.ID); err != nil {
		e.logger.Warn("promotion source delete failed, rolling back",
			"from", tier, "to", next, "id", rec.ID, "err", err)
		if err := e.store.Delete(ctx, next, rec.ID); err != nil {
			e.logger.Error("promotion rollback failed", "to", next, "id", rec.ID, "err", err)
		}
		return false
	}
	e.publish(bus.Event{Kind: bus.EventPromoted, Tier: tier.String(), ToTier: next.String(), RecordID: rec.ID})
	e.logger.Debug("promoted record", "from", tier, "to", next, "id", rec.ID, "importance", rec.Importance)
	return true
}

func (e *Engine) publish(ev bus.Event) {
	if e.events != nil {
		e.events.Publish(ev)
	}
}
