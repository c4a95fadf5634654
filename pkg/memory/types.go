package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// Tier is a retention class. Lower values are cheaper to lose; promotion
// only ever moves records toward higher tiers. The integer order is also
// the global lock-acquisition order for cross-tier moves.
type Tier int

const (
	TierShortTerm Tier = iota
	TierMediumTerm
	TierLongTerm
	TierMeta
)

// AllTiers lists the tiers in retention order.
var AllTiers = []Tier{TierShortTerm, TierMediumTerm, TierLongTerm, TierMeta}

func (t Tier) String() string {
	switch t {
	case TierShortTerm:
		return "short_term"
	case TierMediumTerm:
		return "medium_term"
	case TierLongTerm:
		return "long_term"
	case TierMeta:
		return "meta"
	}
	return "tier(" + strconv.Itoa(int(t)) + ")"
}

// Valid reports whether t is one of the four defined tiers.
func (t Tier) Valid() bool {
	return t >= TierShortTerm && t <= TierMeta
}

// Next returns the promotion destination for t. LongTerm and Meta have
// no destination.
func (t Tier) Next() (Tier, bool) {
	switch t {
	case TierShortTerm:
		return TierMediumTerm, true
	case TierMediumTerm:
		return TierLongTerm, true
	}
	return t, false
}

// ParseTier maps a tier name to its Tier value.
func ParseTier(name string) (Tier, error) {
	switch name {
	case "short_term", "short":
		return TierShortTerm, nil
	case "medium_term", "medium":
		return TierMediumTerm, nil
	case "long_term", "long":
		return TierLongTerm, nil
	case "meta":
		return TierMeta, nil
	}
	return 0, fmt.Errorf("%w: unknown tier %q", ErrInvalidRecord, name)
}

// EmotionalTag classifies the affective tone attached to a record.
type EmotionalTag string

const (
	TagNeutral      EmotionalTag = "neutral"
	TagPositive     EmotionalTag = "positive"
	TagNegative     EmotionalTag = "negative"
	TagExcited      EmotionalTag = "excited"
	TagCalm         EmotionalTag = "calm"
	TagIntimate     EmotionalTag = "intimate"
	TagProfessional EmotionalTag = "professional"
	TagPlayful      EmotionalTag = "playful"
	TagConfident    EmotionalTag = "confident"
)

var validEmotionalTags = map[EmotionalTag]bool{
	TagNeutral:      true,
	TagPositive:     true,
	TagNegative:     true,
	TagExcited:      true,
	TagCalm:         true,
	TagIntimate:     true,
	TagProfessional: true,
	TagPlayful:      true,
	TagConfident:    true,
}

// Valid reports whether the tag belongs to the fixed enumerated set.
func (e EmotionalTag) Valid() bool { return validEmotionalTags[e] }

// Record is one stored memory unit. ID, Content, CreatedAt, EmotionalTag,
// Importance, Tags, SessionID and Embedding are immutable after insertion;
// Tier changes through promotion, AccessCount and LastAccessed through
// retrieval hits.
type Record struct {
	ID           string
	Content      string
	Tier         Tier
	CreatedAt    time.Time
	EmotionalTag EmotionalTag
	Importance   float64
	Tags         []string
	SessionID    string
	Embedding    []float32
	AccessCount  int
	LastAccessed *time.Time
}

// Validate checks the invariants a record must satisfy before it is
// written. Everything it rejects maps to ErrInvalidRecord.
func (r Record) Validate() error {
	if r.Content == "" {
		return fmt.Errorf("%w: empty content", ErrInvalidRecord)
	}
	if !r.Tier.Valid() {
		return fmt.Errorf("%w: unknown tier %d", ErrInvalidRecord, int(r.Tier))
	}
	if !r.EmotionalTag.Valid() {
		return fmt.Errorf("%w: unknown emotional tag %q", ErrInvalidRecord, r.EmotionalTag)
	}
	if r.Importance < 0 || r.Importance > 1 {
		return fmt.Errorf("%w: importance %v out of [0,1]", ErrInvalidRecord, r.Importance)
	}
	return nil
}

// NewRecordID derives the record identifier from content and creation time.
// Nanosecond resolution keeps IDs unique even when identical content is
// stored in a tight loop.
func NewRecordID(content string, createdAt time.Time) string {
	sum := sha256.Sum256([]byte(content + "|" + strconv.FormatInt(createdAt.UnixNano(), 10)))
	return hex.EncodeToString(sum[:8])
}

// TierStats summarizes one tier for Stats().
type TierStats struct {
	Count             int     `json:"count"`
	AverageImportance float64 `json:"average_importance"`
}
