// Package stage implements the four workflow stages: sense, converse,
// propose, execute. Each stage reads the session state and returns a
// partial update; the engine owns all merging and sequencing. External
// collaborators (text generation, retrieval) are consumed through the
// narrow interfaces defined here, so stages can be tested with fakes.
package stage

import (
	"context"
	"time"

	"github.com/smartstress/smartstress/internal/session"
)

// nowFunc lets tests pin the clock used for timestamps.
type nowFunc func() time.Time

// Stage is one named unit of the workflow graph.
type Stage interface {
	Name() string
	Run(ctx context.Context, st *session.State) (session.Update, error)
}

// Generator is the text-generation collaborator. Any failure is treated
// as stage-local: the stage logs it and returns a fallback update.
type Generator interface {
	Generate(ctx context.Context, messages []session.Message, systemPrompt string) (string, error)
}

// Snippet is one retrieved piece of advisory context.
type Snippet struct {
	Text  string
	Score float64
}

// Retriever is the retrieval collaborator. Implementations return an
// empty list on failure; they never surface errors to the engine.
type Retriever interface {
	Search(ctx context.Context, query string, k int) []Snippet
}

// Stage names, also used as the audit trail's stage tags.
const (
	NameSense    = "sense"
	NameConverse = "converse"
	NamePropose  = "propose"
	NameExecute  = "execute"
)

func audit(stage, summary string, details map[string]interface{}, now nowFunc) session.AuditEvent {
	return session.AuditEvent{
		Timestamp: now().UTC(),
		Stage:     stage,
		Summary:   summary,
		Details:   details,
	}
}

func strPtr(s string) *string                                 { return &s }
func boolPtr(b bool) *bool                                    { return &b }
func confirmPtr(c session.Confirmation) *session.Confirmation { return &c }
