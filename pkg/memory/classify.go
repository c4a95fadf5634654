package memory

import "strings"

// TierRule matches a record being stored against one target tier. A rule
// fires when any of its keyword, tag or emotional tag entries matches;
// empty entry lists never match on their own.
type TierRule struct {
	Tier          Tier           `json:"tier"`
	Keywords      []string       `json:"keywords,omitempty"`
	Tags          []string       `json:"tags,omitempty"`
	EmotionalTags []EmotionalTag `json:"emotional_tags,omitempty"`
}

func (r TierRule) matches(content string, tag EmotionalTag, tags []string) bool {
	lowered := strings.ToLower(content)
	for _, kw := range r.Keywords {
		if strings.Contains(lowered, kw) {
			return true
		}
	}
	for _, want := range r.Tags {
		for _, have := range tags {
			if have == want {
				return true
			}
		}
	}
	for _, et := range r.EmotionalTags {
		if et == tag {
			return true
		}
	}
	return false
}

// Classifier selects the target tier for an unpinned store. Rules are
// evaluated strictly in slice order (Meta before LongTerm before
// MediumTerm in the default table), so a given rule set always yields
// the same decision.
type Classifier struct {
	rules []TierRule
}

// DefaultTierRules is the default decision table: meta vocabulary wins,
// then long-term retention signals, then project/task vocabulary,
// otherwise ShortTerm.
func DefaultTierRules() []TierRule {
	return []TierRule{
		{
			Tier:     TierMeta,
			Keywords: []string{"learned", "improved", "changed", "updated", "optimized"},
		},
		{
			Tier:          TierLongTerm,
			Keywords:      []string{"remember", "important", "always", "never forget"},
			Tags:          []string{"personal", "achievement", "milestone", "relationship"},
			EmotionalTags: []EmotionalTag{TagIntimate, TagExcited},
		},
		{
			Tier:     TierMediumTerm,
			Keywords: []string{"project", "task", "goal", "plan"},
			Tags:     []string{"project", "work", "learning"},
		},
	}
}

// NewClassifier builds a classifier from an ordered rule table. A nil
// table selects DefaultTierRules.
func NewClassifier(rules []TierRule) *Classifier {
	if rules == nil {
		rules = DefaultTierRules()
	}
	return &Classifier{rules: rules}
}

// Classify returns the tier for a record the caller did not pin. The
// first matching rule wins; no match means ShortTerm.
func (c *Classifier) Classify(content string, tag EmotionalTag, tags []string) Tier {
	for _, rule := range c.rules {
		if rule.matches(content, tag, tags) {
			return rule.Tier
		}
	}
	return TierShortTerm
}
