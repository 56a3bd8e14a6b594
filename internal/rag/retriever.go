package rag

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/smartstress/smartstress/internal/stage"
)

// Embedder turns texts into embedding vectors. Satisfied by the Gemini
// client.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// Retriever answers advisory queries from the vector index. Retrieval
// is best-effort: any failure degrades to an empty result so dialogue
// generation proceeds ungrounded rather than failing.
type Retriever struct {
	Embedder Embedder
	Index    Index
}

// NewRetriever builds a retriever over an embedder and an index.
func NewRetriever(embedder Embedder, index Index) *Retriever {
	return &Retriever{Embedder: embedder, Index: index}
}

// Search implements the stage retrieval contract. Each snippet carries
// its source attribution so the model can cite it.
func (r *Retriever) Search(ctx context.Context, query string, k int) []stage.Snippet {
	if k <= 0 {
		return nil
	}

	vectors, err := r.Embedder.Embed(ctx, []string{query})
	if err != nil || len(vectors) == 0 {
		log.Warn().Err(err).Str("query", query).Msg("Query embedding failed, skipping retrieval")
		return nil
	}

	matches, err := r.Index.Search(ctx, vectors[0], k)
	if err != nil {
		log.Warn().Err(err).Str("query", query).Msg("Index search failed, skipping retrieval")
		return nil
	}

	snippets := make([]stage.Snippet, 0, len(matches))
	for _, m := range matches {
		snippets = append(snippets, stage.Snippet{
			Text:  fmt.Sprintf("%s\n\n[source: %s]", m.Doc.Content, m.Doc.Source),
			Score: m.Score,
		})
	}
	return snippets
}

var _ stage.Retriever = (*Retriever)(nil)
