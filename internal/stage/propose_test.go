package stage_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/smartstress/smartstress/internal/session"
	"github.com/smartstress/smartstress/internal/stage"
)

func TestProposeWrapsPlanAsToolCall(t *testing.T) {
	gen := &fakeGenerator{reply: "Move the 3pm review to tomorrow morning and block a 20-minute break."}
	p := stage.NewPropose(gen)
	st := session.NewState("u1", "s1")
	st.CurrentStressor = "back-to-back meetings"

	upd, err := p.Run(context.Background(), st)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	st.Apply(upd)

	if st.SuggestedAction == nil {
		t.Fatalf("SuggestedAction = nil, want tool call")
	}
	if st.SuggestedAction.ToolName != stage.MockCalendarTool {
		t.Errorf("ToolName = %q, want %q", st.SuggestedAction.ToolName, stage.MockCalendarTool)
	}
	if st.SuggestedAction.ToolInput["stressor"] != "back-to-back meetings" {
		t.Errorf("ToolInput.stressor = %v, want the current stressor", st.SuggestedAction.ToolInput["stressor"])
	}
	if st.SuggestedAction.ToolInput["plan"] != gen.reply {
		t.Errorf("ToolInput.plan = %v, want the generated plan", st.SuggestedAction.ToolInput["plan"])
	}
}

func TestProposeIncludesPreferencesInPrompt(t *testing.T) {
	gen := &fakeGenerator{reply: "plan"}
	p := stage.NewPropose(gen)
	st := session.NewState("u1", "s1")
	st.CurrentStressor = "deadline"
	st.Preferences["work_hours"] = "9-17"

	if _, err := p.Run(context.Background(), st); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(gen.lastPrompt, "work_hours=9-17") {
		t.Errorf("prompt %q missing preference clause", gen.lastPrompt)
	}
}

func TestProposeSkipsWithoutStressorOrWithAction(t *testing.T) {
	gen := &fakeGenerator{reply: "plan"}
	p := stage.NewPropose(gen)

	noStressor := session.NewState("u1", "s1")
	upd, err := p.Run(context.Background(), noStressor)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !upd.IsZero() {
		t.Errorf("update without stressor = %+v, want zero", upd)
	}

	hasAction := session.NewState("u1", "s1")
	hasAction.CurrentStressor = "deadline"
	hasAction.SuggestedAction = &session.ToolCall{ToolName: stage.MockCalendarTool}
	upd, err = p.Run(context.Background(), hasAction)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !upd.IsZero() {
		t.Errorf("update with existing action = %+v, want zero", upd)
	}
	if gen.calls != 0 {
		t.Errorf("generator called %d times, want 0", gen.calls)
	}
}

func TestProposeFailureLogsOnly(t *testing.T) {
	for name, gen := range map[string]*fakeGenerator{
		"generator error": {err: errors.New("llm down")},
		"empty plan":      {reply: "   "},
	} {
		t.Run(name, func(t *testing.T) {
			p := stage.NewPropose(gen)
			st := session.NewState("u1", "s1")
			st.CurrentStressor = "deadline"

			upd, err := p.Run(context.Background(), st)
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if upd.Action != nil {
				t.Errorf("Action = %+v, want nil", upd.Action)
			}
			if len(upd.Errors) == 0 {
				t.Errorf("failure not recorded in errors")
			}
		})
	}
}
