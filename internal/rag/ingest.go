package rag

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Ingestor chunks, embeds, and indexes advisory content.
type Ingestor struct {
	Embedder Embedder
	Index    Index
	Chunker  ChunkerConfig
}

// NewIngestor builds an ingestor with default chunking.
func NewIngestor(embedder Embedder, index Index) *Ingestor {
	return &Ingestor{Embedder: embedder, Index: index, Chunker: DefaultChunkerConfig()}
}

// IngestText indexes one piece of advisory content and returns the
// number of chunks stored.
func (in *Ingestor) IngestText(ctx context.Context, content, source string, tags map[string]string) (int, error) {
	chunks := SplitText(content, in.Chunker)
	if len(chunks) == 0 {
		return 0, fmt.Errorf("ingest %s: no content after chunking", source)
	}

	vectors, err := in.Embedder.Embed(ctx, chunks)
	if err != nil {
		return 0, fmt.Errorf("embed %s: %w", source, err)
	}

	docs := make([]Document, len(chunks))
	for i, chunk := range chunks {
		docs[i] = Document{
			ID:      uuid.NewString(),
			Content: chunk,
			Source:  source,
			Tags:    tags,
			Vector:  vectors[i],
		}
	}
	if err := in.Index.Upsert(ctx, docs); err != nil {
		return 0, fmt.Errorf("index %s: %w", source, err)
	}

	log.Info().Str("source", source).Int("chunks", len(docs)).Msg("Ingested advisory document")
	return len(docs), nil
}

// IngestDir indexes every markdown file under dir. The file name (minus
// extension) becomes a topic tag. Returns the total chunk count.
func (in *Ingestor) IngestDir(ctx context.Context, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read corpus dir: %w", err)
	}

	total := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		content, err := os.ReadFile(path)
		if err != nil {
			return total, fmt.Errorf("read %s: %w", path, err)
		}
		topic := strings.TrimSuffix(entry.Name(), ".md")
		n, err := in.IngestText(ctx, string(content), entry.Name(), map[string]string{"topic": topic})
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}
