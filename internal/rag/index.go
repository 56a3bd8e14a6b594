// Package rag stores and retrieves short advisory documents (coping
// strategies, scheduling tips) that ground the assistant's replies when
// stress runs high.
package rag

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Document is one indexed advisory snippet with its embedding.
type Document struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	Source    string            `json:"source"`
	Tags      map[string]string `json:"tags,omitempty"`
	Vector    []float64         `json:"vector"`
	CreatedAt time.Time         `json:"created_at"`
}

// Match is one search hit with its cosine similarity score.
type Match struct {
	Doc   Document `json:"doc"`
	Score float64  `json:"score"`
}

// Index is the vector index behind the retriever. Implementations must
// be safe for concurrent use.
type Index interface {
	Upsert(ctx context.Context, docs []Document) error
	Search(ctx context.Context, vector []float64, topK int) ([]Match, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// MemoryIndex is an in-memory brute-force cosine similarity index. Fine
// for the advisory corpus here, which stays in the hundreds of entries.
type MemoryIndex struct {
	mu   sync.RWMutex
	docs map[string]Document
}

// NewMemoryIndex creates an empty in-memory index.
func NewMemoryIndex() *MemoryIndex {
	log.Info().Msg("In-memory advisory index initialized")
	return &MemoryIndex{docs: make(map[string]Document)}
}

// Upsert implements Index. Documents without an ID get one assigned.
func (m *MemoryIndex) Upsert(_ context.Context, docs []Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	for _, d := range docs {
		if d.ID == "" {
			d.ID = uuid.NewString()
		}
		if d.CreatedAt.IsZero() {
			d.CreatedAt = now
		}
		m.docs[d.ID] = d
	}
	return nil
}

// Search implements Index.
func (m *MemoryIndex) Search(_ context.Context, vector []float64, topK int) ([]Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matches []Match
	for _, d := range m.docs {
		if len(d.Vector) != len(vector) {
			continue
		}
		matches = append(matches, Match{Doc: d, Score: cosineSimilarity(vector, d.Vector)})
	}
	return topMatches(matches, topK), nil
}

// Count implements Index.
func (m *MemoryIndex) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs), nil
}

// Close implements Index.
func (m *MemoryIndex) Close() error { return nil }

var _ Index = (*MemoryIndex)(nil)

// topMatches sorts by score descending and truncates to k.
func topMatches(matches []Match, k int) []Match {
	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if k < len(matches) {
		matches = matches[:k]
	}
	return matches
}

func cosineSimilarity(a, b []float64) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
