package memory

// Scorer computes the importance score that drives tier placement,
// promotion priority and eviction order. Score is a pure function of its
// inputs, so two calls with the same arguments always agree.
type Scorer struct {
	base      float64
	weights   map[EmotionalTag]float64
	boostTags map[string]bool
}

// DefaultEmotionalWeights maps each emotional tag to its base retention
// weight.
func DefaultEmotionalWeights() map[EmotionalTag]float64 {
	return map[EmotionalTag]float64{
		TagIntimate:     0.9,
		TagExcited:      0.8,
		TagNegative:     0.7,
		TagPositive:     0.6,
		TagProfessional: 0.5,
		TagConfident:    0.5,
		TagPlayful:      0.4,
		TagCalm:         0.3,
		TagNeutral:      0.2,
	}
}

// DefaultBoostTags are the context tags that raise a record's importance.
func DefaultBoostTags() []string {
	return []string{"project", "personal", "learning", "error", "achievement"}
}

// NewScorer builds a scorer from a weight table and boost tag set. Nil
// arguments select the defaults.
func NewScorer(weights map[EmotionalTag]float64, boostTags []string) *Scorer {
	if weights == nil {
		weights = DefaultEmotionalWeights()
	}
	if boostTags == nil {
		boostTags = DefaultBoostTags()
	}
	boost := make(map[string]bool, len(boostTags))
	for _, tag := range boostTags {
		boost[tag] = true
	}
	return &Scorer{base: 0.5, weights: weights, boostTags: boost}
}

// Score returns clamp(base + emotional_weight + length_factor + tag_bonus)
// where length_factor = min(len(content)/1000, 1) and tag_bonus adds 0.1
// per boost tag present. Adding boost tags never lowers the score.
func (s *Scorer) Score(content string, tag EmotionalTag, tags []string) float64 {
	score := s.base

	weight, ok := s.weights[tag]
	if !ok {
		weight = 0.5
	}
	score += weight

	lengthFactor := float64(len(content)) / 1000
	if lengthFactor > 1 {
		lengthFactor = 1
	}
	score += lengthFactor

	// Tags are a set; a repeated boost tag counts once.
	seen := map[string]bool{}
	for _, t := range tags {
		if s.boostTags[t] && !seen[t] {
			seen[t] = true
			score += 0.1
		}
	}

	if score > 1 {
		return 1
	}
	if score < 0 {
		return 0
	}
	return score
}
