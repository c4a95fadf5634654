package memory

import (
	"hash/fnv"
	"math"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Embedder maps text to a fixed-length vector. Implementations must be
// pure and deterministic: the same text yields a bit-identical vector in
// every process and run, with no I/O.
type Embedder interface {
	ModelID() string
	Dims() int
	Embed(text string) []float32
}

const defaultEmbeddingModel = "mnemo-hash-384-v1"

var tokenPattern = regexp.MustCompile(`[A-Za-z0-9_\-]+`)

// hashEmbedder buckets FNV-1a token hashes into a signed, L2-normalized
// vector. Not a semantic embedding, but stable and cheap.
type hashEmbedder struct {
	dims int
}

// NewHashEmbedder returns the default deterministic embedder. dims <= 0
// selects the standard 384 dimensions.
func NewHashEmbedder(dims int) Embedder {
	if dims <= 0 {
		dims = 384
	}
	return &hashEmbedder{dims: dims}
}

func (e *hashEmbedder) ModelID() string { return defaultEmbeddingModel }

func (e *hashEmbedder) Dims() int { return e.dims }

func (e *hashEmbedder) Embed(text string) []float32 {
	vec := make([]float32, e.dims)
	if strings.TrimSpace(text) == "" {
		return vec
	}
	for _, token := range tokenize(text) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(token))
		sum := h.Sum64()
		idx := int(sum % uint64(e.dims))
		sign := float32(1)
		if sum&1 == 1 {
			sign = -1
		}
		weight := float32(1 + (len(token) / 8))
		vec[idx] += sign * weight
	}
	normalizeVector(vec)
	return vec
}

func tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

func normalizeVector(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sum))
	for i := range vec {
		vec[i] *= inv
	}
}

// CosineSimilarity computes cosine similarity between two vectors.
// A zero vector is similar to nothing.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// cachingEmbedder memoizes an Embedder. Safe because embeddings are pure
// functions of the text.
type cachingEmbedder struct {
	inner Embedder
	cache *lru.Cache[string, []float32]
}

// WithEmbedCache wraps inner with an LRU memo of the given size.
func WithEmbedCache(inner Embedder, size int) Embedder {
	if size <= 0 {
		size = 1024
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return inner
	}
	return &cachingEmbedder{inner: inner, cache: cache}
}

func (c *cachingEmbedder) ModelID() string { return c.inner.ModelID() }

func (c *cachingEmbedder) Dims() int { return c.inner.Dims() }

func (c *cachingEmbedder) Embed(text string) []float32 {
	if vec, ok := c.cache.Get(text); ok {
		return vec
	}
	vec := c.inner.Embed(text)
	c.cache.Add(text, vec)
	return vec
}
