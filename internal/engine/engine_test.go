package engine_test

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/smartstress/smartstress/internal/checkpoint"
	"github.com/smartstress/smartstress/internal/engine"
	"github.com/smartstress/smartstress/internal/session"
	"github.com/smartstress/smartstress/internal/stage"
)

// scriptedGenerator pops replies in order; once the script is exhausted
// every further call fails.
type scriptedGenerator struct {
	replies []string
	i       int
}

func (g *scriptedGenerator) Generate(_ context.Context, _ []session.Message, _ string) (string, error) {
	if g.i >= len(g.replies) {
		return "", errors.New("script exhausted")
	}
	r := g.replies[g.i]
	g.i++
	return r, nil
}

type staticRetriever struct {
	snippets []stage.Snippet
}

func (r *staticRetriever) Search(_ context.Context, _ string, _ int) []stage.Snippet {
	return r.snippets
}

func newTestEngine(t *testing.T, gen stage.Generator) (*engine.Engine, *checkpoint.MemoryStore) {
	t.Helper()
	store := checkpoint.NewMemoryStore("")
	ret := &staticRetriever{snippets: []stage.Snippet{{Text: "Take a short walk.\n\n[source: coping.md]", Score: 0.9}}}
	eng := engine.New(store,
		stage.NewSense(60, 60),
		stage.NewConverse(gen, ret, 0.9),
		stage.NewPropose(gen),
		stage.NewExecute(),
	)
	return eng, store
}

func TestRunModerateStressEndsQuietly(t *testing.T) {
	eng, store := newTestEngine(t, &scriptedGenerator{})
	ctx := context.Background()

	st := session.NewState("alice", "s1")
	st.RawSensorInput = map[string]interface{}{"hr": 95}

	st, err := eng.Run(ctx, "alice:s1", st)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := 35.0 / 60.0
	if math.Abs(st.CurrentStressProbability-want) > 1e-9 {
		t.Errorf("CurrentStressProbability = %v, want %v", st.CurrentStressProbability, want)
	}
	if len(st.ConversationHistory) != 0 {
		t.Errorf("no dialogue expected below the probe threshold, got %+v", st.ConversationHistory)
	}
	if st.AwaitingHumanConfirmation {
		t.Errorf("AwaitingHumanConfirmation = true, want false")
	}

	persisted, err := store.Get(ctx, "alice:s1")
	if err != nil {
		t.Fatalf("Get() after run error = %v", err)
	}
	if len(persisted.StressHistory) != 1 {
		t.Errorf("persisted StressHistory length = %d, want 1", len(persisted.StressHistory))
	}
}

func TestRunHighStressProbesAndClearsForceFlags(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{"Your stress looks elevated. Try a walk. What's weighing on you?"}}
	eng, store := newTestEngine(t, gen)
	ctx := context.Background()

	forced := 0.95
	st := session.NewState("alice", "s1")
	st.ForceFlags = &session.ForceFlags{StressProbability: &forced}

	st, err := eng.Run(ctx, "alice:s1", st)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(st.ConversationHistory) != 1 || st.ConversationHistory[0].Role != session.RoleAssistant {
		t.Fatalf("probe message not appended: %+v", st.ConversationHistory)
	}
	if len(st.RAGContext) != 1 {
		t.Errorf("RAGContext length = %d, want 1", len(st.RAGContext))
	}
	if st.ForceFlags != nil {
		t.Errorf("ForceFlags survived the run, want cleared before persist")
	}

	persisted, _ := store.Get(ctx, "alice:s1")
	if persisted.ForceFlags != nil {
		t.Errorf("persisted ForceFlags = %+v, want nil", persisted.ForceFlags)
	}
}

func TestRunStressorLeadsToProposalAndSuspends(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{
		"deadline overload",
		"Move tomorrow's 9am review to Thursday and block a 30-minute break after lunch.",
	}}
	eng, store := newTestEngine(t, gen)
	ctx := context.Background()

	st := session.NewState("alice", "s1")
	st.ConversationHistory = append(st.ConversationHistory,
		session.Message{Role: session.RoleUser, Content: "I am drowning in deadline work this week"})

	st, err := eng.Run(ctx, "alice:s1", st)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if st.CurrentStressor != "deadline overload" {
		t.Errorf("CurrentStressor = %q, want extracted stressor", st.CurrentStressor)
	}
	if st.SuggestedAction == nil || st.SuggestedAction.ToolName != stage.MockCalendarTool {
		t.Fatalf("SuggestedAction = %+v, want mock calendar tool call", st.SuggestedAction)
	}
	if !st.AwaitingHumanConfirmation {
		t.Errorf("AwaitingHumanConfirmation = false, want suspended at the interrupt point")
	}

	last := st.ConversationHistory[len(st.ConversationHistory)-1]
	if last.Role != session.RoleAssistant || !strings.Contains(last.Content, stage.MockCalendarTool) {
		t.Errorf("confirmation prompt not presented, last message: %+v", last)
	}

	persisted, _ := store.Get(ctx, "alice:s1")
	if !persisted.AwaitingHumanConfirmation {
		t.Errorf("suspension not persisted")
	}
}

func TestRunResumeWithYesExecutesAndResets(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{"deadline overload", "Reschedule the review."}}
	eng, store := newTestEngine(t, gen)
	ctx := context.Background()

	st := session.NewState("alice", "s1")
	st.ConversationHistory = append(st.ConversationHistory,
		session.Message{Role: session.RoleUser, Content: "I am drowning in deadline work this week"})
	if _, err := eng.Run(ctx, "alice:s1", st); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}

	// Resume the way a caller would: reload the checkpoint, add the reply.
	st, err := store.Get(ctx, "alice:s1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	st.ConversationHistory = append(st.ConversationHistory,
		session.Message{Role: session.RoleUser, Content: "yes"})

	st, err = eng.Run(ctx, "alice:s1", st)
	if err != nil {
		t.Fatalf("resume Run() error = %v", err)
	}

	if !strings.Contains(st.ToolOutput, "[MOCK]") {
		t.Errorf("ToolOutput = %q, want mock execution narration", st.ToolOutput)
	}
	if st.SuggestedAction != nil || st.CurrentStressor != "" {
		t.Errorf("action/stressor not reset after execution: action=%+v stressor=%q",
			st.SuggestedAction, st.CurrentStressor)
	}
	if st.AwaitingHumanConfirmation || st.HumanConfirmationResponse != "" {
		t.Errorf("confirmation fields not reset: awaiting=%v response=%q",
			st.AwaitingHumanConfirmation, st.HumanConfirmationResponse)
	}
	// No sensor payload on the resume turn: sense never ran, so the
	// history still holds only the first invocation's sample.
	if len(st.StressHistory) != 1 {
		t.Errorf("StressHistory length = %d, want 1 (resume enters at converse)", len(st.StressHistory))
	}
}

func TestRunResumeWithNoKeepsStressor(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{"deadline overload", "Reschedule the review."}}
	eng, store := newTestEngine(t, gen)
	ctx := context.Background()

	st := session.NewState("alice", "s1")
	st.ConversationHistory = append(st.ConversationHistory,
		session.Message{Role: session.RoleUser, Content: "I am drowning in deadline work this week"})
	if _, err := eng.Run(ctx, "alice:s1", st); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}

	st, _ = store.Get(ctx, "alice:s1")
	st.ConversationHistory = append(st.ConversationHistory,
		session.Message{Role: session.RoleUser, Content: "no"})

	st, err := eng.Run(ctx, "alice:s1", st)
	if err != nil {
		t.Fatalf("resume Run() error = %v", err)
	}

	if st.SuggestedAction != nil {
		t.Errorf("SuggestedAction = %+v, want cleared after decline", st.SuggestedAction)
	}
	if st.CurrentStressor != "deadline overload" {
		t.Errorf("CurrentStressor = %q, want kept after decline", st.CurrentStressor)
	}
	if st.AwaitingHumanConfirmation || st.HumanConfirmationResponse != "" {
		t.Errorf("confirmation fields not cleared: awaiting=%v response=%q",
			st.AwaitingHumanConfirmation, st.HumanConfirmationResponse)
	}
	if st.ToolOutput != "" {
		t.Errorf("ToolOutput = %q, want empty after decline", st.ToolOutput)
	}
	// The monitoring loop restarted: one more sample was recorded.
	if len(st.StressHistory) != 2 {
		t.Errorf("StressHistory length = %d, want 2 after loop back to sense", len(st.StressHistory))
	}
}

func TestRunProposeFailureTerminatesWithoutSuspending(t *testing.T) {
	// One reply for the stressor extraction; the planning call fails.
	gen := &scriptedGenerator{replies: []string{"deadline overload"}}
	eng, store := newTestEngine(t, gen)
	ctx := context.Background()

	st := session.NewState("alice", "s1")
	st.ConversationHistory = append(st.ConversationHistory,
		session.Message{Role: session.RoleUser, Content: "I am drowning in deadline work this week"})

	st, err := eng.Run(ctx, "alice:s1", st)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if st.AwaitingHumanConfirmation {
		t.Errorf("AwaitingHumanConfirmation = true, want false when planning failed")
	}
	if st.SuggestedAction != nil {
		t.Errorf("SuggestedAction = %+v, want nil", st.SuggestedAction)
	}
	if len(st.ErrorLog) == 0 {
		t.Errorf("planning failure not recorded in ErrorLog")
	}
	if _, err := store.Get(ctx, "alice:s1"); err != nil {
		t.Errorf("failed run still checkpoints the degraded state: %v", err)
	}
}

type failingStore struct {
	checkpoint.Store
}

func (f *failingStore) Put(context.Context, string, *session.State) error {
	return errors.New("disk full")
}

func TestRunPersistFailureFailsInvocation(t *testing.T) {
	store := &failingStore{Store: checkpoint.NewMemoryStore("")}
	gen := &scriptedGenerator{}
	ret := &staticRetriever{}
	eng := engine.New(store,
		stage.NewSense(60, 60),
		stage.NewConverse(gen, ret, 0.9),
		stage.NewPropose(gen),
		stage.NewExecute(),
	)

	st := session.NewState("alice", "s1")
	st.RawSensorInput = map[string]interface{}{"hr": 80}

	if _, err := eng.Run(context.Background(), "alice:s1", st); err == nil {
		t.Fatalf("Run() with failing store should return an error")
	}
}
