package embed

import (
	"context"
	"crypto/sha256"
	"math"

	"github.com/hunterwarburton/ragstore/internal/core"
)

// DegradedReasonFallback marks vectors produced without the inference
// service.
const DegradedReasonFallback = "deterministic fallback embedding"

// Fallback derives pseudo-embeddings from a hash of the text. Same
// input always yields the same vector, so retrieval stays stable while
// the inference service is down, at clearly inferior quality.
type Fallback struct {
	dimension int
}

var _ core.EmbedService = (*Fallback)(nil)

// NewFallback creates a fallback embedder with the given dimensionality.
func NewFallback(dimension int) *Fallback {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &Fallback{dimension: dimension}
}

// Dimension returns the vector dimensionality.
func (f *Fallback) Dimension() int { return f.dimension }

// EmbedBatch never fails; every result is flagged as degraded.
func (f *Fallback) EmbedBatch(_ context.Context, texts []string) ([]core.Embedding, error) {
	results := make([]core.Embedding, len(texts))
	for i, text := range texts {
		results[i] = core.Embedding{
			Vector:         f.vector(text),
			Degraded:       true,
			DegradedReason: DegradedReasonFallback,
		}
	}
	return results, nil
}

// vector expands SHA-256 digests of the text into a unit-normalized
// vector of the configured dimension.
func (f *Fallback) vector(text string) []float32 {
	vec := make([]float32, f.dimension)

	seed := make([]byte, len(text)+1)
	copy(seed, text)
	filled := 0
	for counter := byte(0); filled < f.dimension; counter++ {
		seed[len(seed)-1] = counter
		sum := sha256.Sum256(seed)
		for _, b := range sum {
			if filled == f.dimension {
				break
			}
			// Map each byte onto [-1, 1].
			vec[filled] = float32(b)/127.5 - 1.0
			filled++
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}
