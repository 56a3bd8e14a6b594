package llm_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/smartstress/smartstress/internal/llm"
	"github.com/smartstress/smartstress/internal/session"
)

func TestGenerateMapsRolesAndSystemPrompt(t *testing.T) {
	var captured struct {
		Contents []struct {
			Role  string `json:"role"`
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"contents"`
		SystemInstruction *struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"systemInstruction"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-goog-api-key") != "test-key" {
			t.Errorf("missing api key header")
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"candidates": []map[string]interface{}{
				{"content": map[string]interface{}{
					"role":  "model",
					"parts": []map[string]string{{"text": "hello back"}},
				}},
			},
		})
	}))
	defer srv.Close()

	c := llm.NewGeminiClient("test-key", llm.WithEndpoint(srv.URL))
	got, err := c.Generate(context.Background(), []session.Message{
		{Role: session.RoleUser, Content: "hi"},
		{Role: session.RoleAssistant, Content: "hey"},
		{Role: session.RoleUser, Content: "how are you"},
	}, "be brief")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got != "hello back" {
		t.Errorf("Generate() = %q, want %q", got, "hello back")
	}

	if len(captured.Contents) != 3 {
		t.Fatalf("contents length = %d, want 3", len(captured.Contents))
	}
	if captured.Contents[1].Role != "model" {
		t.Errorf("assistant role mapped to %q, want model", captured.Contents[1].Role)
	}
	if captured.SystemInstruction == nil || captured.SystemInstruction.Parts[0].Text != "be brief" {
		t.Errorf("system prompt not threaded into systemInstruction")
	}
}

func TestGenerateRetriesServerErrors(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"candidates": []map[string]interface{}{
				{"content": map[string]interface{}{
					"parts": []map[string]string{{"text": "recovered"}},
				}},
			},
		})
	}))
	defer srv.Close()

	c := llm.NewGeminiClient("test-key", llm.WithEndpoint(srv.URL), llm.WithTimeout(5*time.Second))
	got, err := c.Generate(context.Background(),
		[]session.Message{{Role: session.RoleUser, Content: "hi"}}, "")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got != "recovered" {
		t.Errorf("Generate() = %q, want %q", got, "recovered")
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestGenerateClientErrorIsPermanent(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]interface{}{"code": 400, "message": "bad request"},
		})
	}))
	defer srv.Close()

	c := llm.NewGeminiClient("test-key", llm.WithEndpoint(srv.URL))
	if _, err := c.Generate(context.Background(),
		[]session.Message{{Role: session.RoleUser, Content: "hi"}}, ""); err == nil {
		t.Fatalf("Generate() on 400 should fail")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retry on client errors)", attempts)
	}
}

func TestEmbedReturnsVectorPerText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"embedding": map[string]interface{}{"values": []float64{0.1, 0.2, 0.3}},
		})
	}))
	defer srv.Close()

	c := llm.NewGeminiClient("test-key", llm.WithEndpoint(srv.URL))
	vectors, err := c.Embed(context.Background(), []string{"one", "two"})
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(vectors) != 2 {
		t.Fatalf("vectors = %d, want 2", len(vectors))
	}
	if len(vectors[0]) != 3 || vectors[0][2] != 0.3 {
		t.Errorf("vector = %v, want [0.1 0.2 0.3]", vectors[0])
	}
}

func TestEmbedEmptyInput(t *testing.T) {
	c := llm.NewGeminiClient("test-key")
	vectors, err := c.Embed(context.Background(), nil)
	if err != nil {
		t.Fatalf("Embed(nil) error = %v", err)
	}
	if vectors != nil {
		t.Errorf("Embed(nil) = %v, want nil", vectors)
	}
}
