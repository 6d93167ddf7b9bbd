package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/hunterwarburton/ragstore/internal/core"
)

// Memory is an in-process VectorStore with the same scoring and
// filtering semantics as the Milvus adapter. It backs tests and
// development setups without a running Milvus.
type Memory struct {
	mu     sync.RWMutex
	points map[string]core.Point
}

var _ core.VectorStore = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{points: make(map[string]core.Point)}
}

// EnsureCollection is a no-op; the map is always ready.
func (s *Memory) EnsureCollection(_ context.Context) error { return nil }

// Upsert inserts or overwrites points keyed by chunk id.
func (s *Memory) Upsert(_ context.Context, points []core.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range points {
		s.points[p.ChunkID] = p
	}
	return nil
}

// Search scores every stored point by normalized cosine similarity and
// returns the top hits, filters applied first.
func (s *Memory) Search(_ context.Context, vector []float32, limit int, filters map[string]interface{}) ([]core.SearchHit, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: search limit must be positive", core.ErrValidation)
	}

	s.mu.RLock()
	hits := make([]core.SearchHit, 0, len(s.points))
	for _, p := range s.points {
		if !matchesFilters(p.Payload, filters) {
			continue
		}
		hits = append(hits, core.SearchHit{
			ChunkID: p.ChunkID,
			Score:   normalizeCosine(cosineSimilarity(vector, p.Vector)),
			Vector:  p.Vector,
			Payload: p.Payload,
		})
	}
	s.mu.RUnlock()

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// DeleteByDocument removes every point belonging to the document.
func (s *Memory) DeleteByDocument(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.points {
		if p.Payload.DocumentID == documentID {
			delete(s.points, id)
		}
	}
	return nil
}

// Close is a no-op.
func (s *Memory) Close() error { return nil }

// Len returns the number of stored points.
func (s *Memory) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.points)
}

func matchesFilters(p core.Payload, filters map[string]interface{}) bool {
	for key, value := range filters {
		switch key {
		case FilterDocumentID:
			if !stringMatch(p.DocumentID, value) {
				return false
			}
		case FilterDocumentType:
			if !stringMatch(p.DocumentType, value) {
				return false
			}
		case FilterSource:
			if !stringMatch(p.Source, value) {
				return false
			}
		case FilterTags:
			if !containsAllTags(p.Tags, value) {
				return false
			}
		default:
			if p.Metadata == nil {
				return false
			}
			got, ok := p.Metadata[key]
			if !ok || fmt.Sprintf("%v", got) != fmt.Sprintf("%v", value) {
				return false
			}
		}
	}
	return true
}

func stringMatch(field string, value interface{}) bool {
	switch v := value.(type) {
	case string:
		return field == v
	case []string:
		for _, s := range v {
			if field == s {
				return true
			}
		}
		return false
	case []interface{}:
		for _, s := range v {
			if field == fmt.Sprintf("%v", s) {
				return true
			}
		}
		return false
	default:
		return field == fmt.Sprintf("%v", v)
	}
}

func containsAllTags(tags []string, value interface{}) bool {
	var want []string
	switch v := value.(type) {
	case string:
		want = []string{v}
	case []string:
		want = v
	case []interface{}:
		for _, s := range v {
			want = append(want, fmt.Sprintf("%v", s))
		}
	default:
		return false
	}

	have := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		have[strings.TrimSpace(t)] = struct{}{}
	}
	for _, w := range want {
		if _, ok := have[w]; !ok {
			return false
		}
	}
	return true
}

// cosineSimilarity returns the cosine of the angle between a and b, or
// 0 when either vector has zero magnitude.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
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
