package handlers

import (
	"encoding/json"
	"net/http"
)

type ingestRequest struct {
	Content string            `json:"content"`
	Source  string            `json:"source"`
	Tags    map[string]string `json:"tags,omitempty"`
}

type queryRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"`
}

type querySnippet struct {
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// IngestDocument handles POST /api/v1/rag/ingest.
func (h *Handlers) IngestDocument(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Content == "" {
		respondError(w, http.StatusBadRequest, "content is required")
		return
	}
	if req.Source == "" {
		req.Source = "api"
	}

	chunks, err := h.Ingestor.IngestText(r.Context(), req.Content, req.Source, req.Tags)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, map[string]int{"chunks": chunks})
}

// QueryAdvisory handles POST /api/v1/rag/query.
func (h *Handlers) QueryAdvisory(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Query == "" {
		respondError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.TopK <= 0 {
		req.TopK = 3
	}

	results := h.Retriever.Search(r.Context(), req.Query, req.TopK)
	snippets := make([]querySnippet, 0, len(results))
	for _, s := range results {
		snippets = append(snippets, querySnippet{Text: s.Text, Score: s.Score})
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"snippets": snippets})
}
